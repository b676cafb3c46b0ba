package coherence

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ktiyab/coheara/internal/coherence/defaultdata"
	"github.com/ktiyab/coheara/internal/config"
)

// EnsureDefaultReferenceData writes the embedded seed YAML files to the
// paths named in cfg for any that don't already exist on disk, mirroring
// config.createDefault's first-run behavior. A profile that wants its own
// reference data simply edits or replaces the generated files afterward.
func EnsureDefaultReferenceData(cfg config.ReferenceDataConfig) error {
	seeds := []struct {
		path string
		data []byte
	}{
		{cfg.DoseRangesPath, defaultdata.DoseRanges},
		{cfg.DrugFamiliesPath, defaultdata.DrugFamilies},
		{cfg.AliasesPath, defaultdata.Aliases},
	}
	for _, seed := range seeds {
		if seed.path == "" {
			continue
		}
		if _, err := os.Stat(seed.path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("checking %s: %w", seed.path, err)
		}
		if err := os.MkdirAll(filepath.Dir(seed.path), 0o755); err != nil {
			return fmt.Errorf("creating reference data directory: %w", err)
		}
		if err := os.WriteFile(seed.path, seed.data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", seed.path, err)
		}
	}
	return nil
}

// doseRangeRow is the on-disk shape of one dose_ranges.yaml entry.
type doseRangeRow struct {
	MinSingleMg float64 `yaml:"min_single_mg"`
	MaxSingleMg float64 `yaml:"max_single_mg"`
	MaxDailyMg float64 `yaml:"max_daily_mg"`
}

// LoadReferenceData reads the three reference-data YAML files named in cfg
// (spec §9: "data, not code") into an immutable ReferenceData. Every path
// is optional: a missing file yields an empty map for that concern rather
// than an error, so a profile can run with partial reference data (e.g. no
// drug-family table yet) without failing startup.
func LoadReferenceData(cfg config.ReferenceDataConfig) (ReferenceData, error) {
	aliases, err := loadStringMap(cfg.AliasesPath)
	if err != nil {
		return ReferenceData{}, fmt.Errorf("loading generic aliases: %w", err)
	}
	families, err := loadStringMap(cfg.DrugFamiliesPath)
	if err != nil {
		return ReferenceData{}, fmt.Errorf("loading drug families: %w", err)
	}
	ranges, err := loadDoseRanges(cfg.DoseRangesPath)
	if err != nil {
		return ReferenceData{}, fmt.Errorf("loading dose ranges: %w", err)
	}
	return ReferenceData{
		GenericAliases: normalizeKeys(aliases),
		DrugFamilies:  normalizeKeys(families),
		DoseRanges:   ranges,
	}, nil
}

func loadStringMap(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func loadDoseRanges(path string) (map[string]DoseRange, error) {
	if path == "" {
		return map[string]DoseRange{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]DoseRange{}, nil
	}
	if err != nil {
		return nil, err
	}
	raw := map[string]doseRangeRow{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]DoseRange, len(raw))
	for generic, row := range raw {
		out[strings.ToLower(strings.TrimSpace(generic))] = DoseRange{
			MinSingleMg: row.MinSingleMg,
			MaxSingleMg: row.MaxSingleMg,
			MaxDailyMg: row.MaxDailyMg,
		}
	}
	return out, nil
}

func normalizeKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
