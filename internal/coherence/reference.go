package coherence

import "strings"

// DoseRange is reference data for a resolved generic drug (spec §4.E
// input: "typical dose ranges"). Doses are expressed in milligrams.
type DoseRange struct {
	MinSingleMg float64
	MaxSingleMg float64
	MaxDailyMg float64
}

// ReferenceData is the static drug knowledge the coherence engine consults.
// It is data, not code (spec §9 design note): loaded once at startup from a
// structured file and never mutated thereafter.
type ReferenceData struct {
	// GenericAliases maps a lowercase brand or alternate name to its
	// canonical lowercase generic name. Entries for the generic name
	// itself are not required; ResolveGeneric falls back to the input
	// when no alias entry exists.
	GenericAliases map[string]string
	// DrugFamilies maps a lowercase canonical generic name to its drug
	// family (e.g. "amoxicillin" -> "penicillins").
	DrugFamilies map[string]string
	// DoseRanges maps a lowercase canonical generic name to its typical
	// single/daily dose bounds.
	DoseRanges map[string]DoseRange
}

// ResolveGeneric normalizes name (brand or generic) to its canonical
// lowercase generic form.
func (r ReferenceData) ResolveGeneric(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := r.GenericAliases[n]; ok {
		return canonical
	}
	return n
}

// SameFamily reports whether two resolved generic names share a drug
// family (spec §4.E detector 6, Allergy).
func (r ReferenceData) SameFamily(genericA, genericB string) bool {
	if genericA == genericB {
		return true
	}
	famA, okA := r.DrugFamilies[genericA]
	famB, okB := r.DrugFamilies[genericB]
	return okA && okB && famA == famB
}

// DoseRangeFor returns the reference dose range for a resolved generic
// name, if known.
func (r ReferenceData) DoseRangeFor(generic string) (DoseRange, bool) {
	dr, ok := r.DoseRanges[generic]
	return dr, ok
}
