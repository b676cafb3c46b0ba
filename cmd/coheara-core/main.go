package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ktiyab/coheara/internal/coherence"
	"github.com/ktiyab/coheara/internal/config"
	"github.com/ktiyab/coheara/internal/extraction"
	"github.com/ktiyab/coheara/internal/httpapi"
	"github.com/ktiyab/coheara/internal/modelclient"
	"github.com/ktiyab/coheara/internal/observability"
	"github.com/ktiyab/coheara/internal/pairing"
	"github.com/ktiyab/coheara/internal/pipeline"
	"github.com/ktiyab/coheara/internal/store"
	"github.com/ktiyab/coheara/internal/structuring"
	"github.com/ktiyab/coheara/internal/types"
)

var rootCmd = &cobra.Command{
	Use:  "coheara-core",
	Short: "Runs the Coheara local-first health record core",
	Long: `coheara-core hosts the document pipeline, coherence engine, safety
filter, and pairing/sync wire protocol for one local profile. It serves
plain HTTP on a loopback or LAN bind address; a reverse proxy or the
desktop shell is expected to terminate TLS in front of it.`,
}

var serveCmd = &cobra.Command{
	Use:  "serve",
	Short: "Starts the wire protocol server",
	RunE: runServe,
}

func main() {
	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// profileKeyFromEnv reads the profile's 32-byte AES-256-GCM key, hex
// encoded, from COHEARA_PROFILE_KEY. Deriving this key from the user's
// password and managing the envelope it unlocks is an external
// collaborator (spec §1); this command only consumes an already-derived
// key.
func profileKeyFromEnv() ([32]byte, error) {
	var key [32]byte
	raw := os.Getenv("COHEARA_PROFILE_KEY")
	if raw == "" {
		return key, fmt.Errorf("COHEARA_PROFILE_KEY is not set; it must hold a hex-encoded 32-byte profile key")
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return key, fmt.Errorf("COHEARA_PROFILE_KEY is not valid hex: %w", err)
	}
	if len(decoded) != 32 {
		return key, fmt.Errorf("COHEARA_PROFILE_KEY must decode to 32 bytes, got %d", len(decoded))
	}
	copy(key[:], decoded)
	return key, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if err := config.Load(); err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg := config.Global

	shutdownTracing, err := observability.Init(cmd.Context(), cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Error("tracer shutdown failed", "error", err)
		}
	}()
	observability.InitMetrics()

	key, err := profileKeyFromEnv()
	if err != nil {
		return err
	}

	dbPath := filepath.Join(cfg.ProfileDir, "record.db")
	db, err := store.OpenWithPath(dbPath)
	if err != nil {
		return fmt.Errorf("opening record database: %w", err)
	}
	defer db.Close()

	repo, err := store.NewRepository(db, key)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}

	if err := coherence.EnsureDefaultReferenceData(cfg.ReferenceData); err != nil {
		return fmt.Errorf("seeding reference data: %w", err)
	}
	reference, err := coherence.LoadReferenceData(cfg.ReferenceData)
	if err != nil {
		return fmt.Errorf("loading reference data: %w", err)
	}

	modelClient, err := modelclient.NewHTTPClient(
		cfg.ModelClient.BaseURL,
		cfg.ModelClient.RecommendedModels,
		cfg.ModelClient.FallbackAny,
	)
	if err != nil {
		return fmt.Errorf("constructing model client: %w", err)
	}

	stageDir := filepath.Join(cfg.ProfileDir, "staging")
	orchestrator := &pipeline.Orchestrator{
		Importer: newLocalImporter(repo, stageDir),
		Extraction: &extraction.Stage{
			TextExtractor: extraction.PlaintextFileExtractor{},
			Vision:    modelClient,
			VisionModel:  resolveModel(cfg.ModelClient, "vision"),
		},
		Structuring: &structuring.Stage{
			Structurer: modelClient,
			Model:    resolveModel(cfg.ModelClient, "structuring"),
			Locale:   firstOr(cfg.Safety.SupportedLanguages, "en"),
		},
	}

	mgr := pairing.NewManager()

	profileID := profileIDFromProfileDir(cfg.ProfileDir)
	serverURL := "https://" + cfg.Sync.BindAddress
	certFingerprint := os.Getenv("COHEARA_CERT_FINGERPRINT")

	srv := httpapi.NewServer(repo, mgr, reference, orchestrator, profileID, "My Health Record", serverURL, certFingerprint, log)

	log.Info("starting coheara-core", "bind_address", cfg.Sync.BindAddress)
	return srv.Router().Run(cfg.Sync.BindAddress)
}

// resolveModel picks the recommended model for a given role. Full
// per-role model selection (capability probing, fallback-any) lives in
// modelclient.ResolveModel at request time; this is just the configured
// default name passed through.
func resolveModel(cfg config.ModelClientConfig, _ string) string {
	if len(cfg.RecommendedModels) == 0 {
		return ""
	}
	return cfg.RecommendedModels[0]
}

func firstOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return values[0]
}

// profileIDFromProfileDir derives a stable profile identifier from the
// profile directory path, so repeated launches against the same profile
// directory report the same id. Full profile management (multiple
// profiles, profile switching) is an external collaborator per spec §1;
// this single-profile build only needs one id that survives a restart.
func profileIDFromProfileDir(dir string) types.ID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(dir))
}
