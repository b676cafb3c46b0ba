// Package defaultdata embeds the seed reference-data YAML files written to
// a profile's refdata directory on first run (spec §9: "data, not code" —
// the engine ships a starter set, never a hardcoded table).
package defaultdata

import _ "embed"

//go:embed dose_ranges.yaml
var DoseRanges []byte

//go:embed drug_families.yaml
var DrugFamilies []byte

//go:embed aliases.yaml
var Aliases []byte
