// Package config loads the Coheara core's on-disk configuration from
// ~/.coheara/config.yaml, generating a default file on first run. The
// loader mirrors the teacher's cmd/aleutian/config package: a
// sync.Once-guarded package-level singleton populated from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelClientConfig tunes the local inference service integration (spec §4.A).
type ModelClientConfig struct {
	BaseURL        string `yaml:"base_url"`
	ConnectTimeoutSeconds int  `yaml:"connect_timeout_seconds"`
	KeepAlive       string `yaml:"keep_alive"`
	StructuringTemp    float64 `yaml:"structuring_temperature"`
	StructuringTopP    float64 `yaml:"structuring_top_p"`
	StructuringTopK    int  `yaml:"structuring_top_k"`
	VisionTemp       float64 `yaml:"vision_temperature"`
	NumCtxText       int  `yaml:"num_ctx_text"`
	NumCtxVision      int  `yaml:"num_ctx_vision"`
	FallbackAny      bool  `yaml:"fallback_any"`
	RecommendedModels   []string `yaml:"recommended_models"`
}

// SafetyConfig selects which locales the safety filter accepts (spec §4.F).
type SafetyConfig struct {
	SupportedLanguages []string `yaml:"supported_languages"`
}

// SyncConfig tunes the wire protocol server (spec §4.H/§6.2).
type SyncConfig struct {
	BindAddress   string `yaml:"bind_address"`
	ApprovalTimeoutSeconds int  `yaml:"approval_timeout_seconds"`
	TokenTTLMinutes int  `yaml:"token_ttl_minutes"`
}

// ReferenceDataConfig points at the YAML files backing the coherence
// engine's reference data (spec §9: "data, not code").
type ReferenceDataConfig struct {
	DoseRangesPath  string `yaml:"dose_ranges_path"`
	DrugFamiliesPath string `yaml:"drug_families_path"`
	AliasesPath   string `yaml:"aliases_path"`
}

// TracingConfig selects how spans and the process-wide tracer provider are
// exported (spec: ambient observability stack).
type TracingConfig struct {
	ServiceName  string `yaml:"service_name"`
	TraceExporter string `yaml:"trace_exporter"` // "otlp", "stdout", or "none"
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// CoheaCoreConfig is the full on-disk configuration document.
type CoheaCoreConfig struct {
	ProfileDir    string          `yaml:"profile_dir"`
	LogDir      string          `yaml:"log_dir"`
	ModelClient    ModelClientConfig    `yaml:"model_client"`
	Safety       SafetyConfig       `yaml:"safety"`
	Sync        SyncConfig        `yaml:"sync"`
	ReferenceData   ReferenceDataConfig   `yaml:"reference_data"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// DefaultConfig returns the configuration written to disk on first run.
func DefaultConfig() CoheaCoreConfig {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".coheara")
	return CoheaCoreConfig{
		ProfileDir: filepath.Join(base, "profiles"),
		LogDir:   filepath.Join(base, "logs"),
		ModelClient: ModelClientConfig{
			BaseURL:        "http://127.0.0.1:11434",
			ConnectTimeoutSeconds: 10,
			KeepAlive:       "30m",
			StructuringTemp:    0.1,
			StructuringTopP:    0.9,
			StructuringTopK:    40,
			VisionTemp:       0.0,
			NumCtxText:       8192,
			NumCtxVision:      4096,
			FallbackAny:      true,
			RecommendedModels:   []string{"llama3.2", "qwen2.5"},
		},
		Safety: SafetyConfig{
			SupportedLanguages: []string{"en", "fr", "de"},
		},
		Sync: SyncConfig{
			BindAddress:      "0.0.0.0:8443",
			ApprovalTimeoutSeconds: 60,
			TokenTTLMinutes:    5,
		},
		ReferenceData: ReferenceDataConfig{
			DoseRangesPath:  filepath.Join(base, "refdata", "dose_ranges.yaml"),
			DrugFamiliesPath: filepath.Join(base, "refdata", "drug_families.yaml"),
			AliasesPath:   filepath.Join(base, "refdata", "aliases.yaml"),
		},
		Tracing: TracingConfig{
			ServiceName:  "coheara-core",
			TraceExporter: "stdout",
			OTLPEndpoint: "localhost:4317",
		},
	}
}

var (
	Global CoheaCoreConfig
	once  sync.Once
	loadErr error
)

// Load populates Global from ~/.coheara/config.yaml, writing the default
// document if none exists yet. Safe to call repeatedly; the file is read
// only once per process.
func Load() error {
	once.Do(func() {
		loadErr = loadInternal()
	})
	return loadErr
}

func loadInternal() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	configPath := filepath.Join(home, ".coheara", "config.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := createDefault(configPath); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &Global); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// KeepAliveDuration parses the ModelClient.KeepAlive string, defaulting to
// 30 minutes on a malformed value.
func (c ModelClientConfig) KeepAliveDuration() time.Duration {
	d, err := time.ParseDuration(c.KeepAlive)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}
