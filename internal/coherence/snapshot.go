// Package coherence implements the nine coherence detectors (spec §4.E):
// pure functions over a RepositorySnapshot that raise Alerts about
// conflicting, duplicated, missing, drifting, temporally correlated, or
// unsafe entries in the patient's record. Every detector is deterministic
// and side-effect free; callers own persistence, dismissal lookups, and
// the final safety-filter pass over patient_message strings.
package coherence

import (
	"strings"

	"github.com/ktiyab/coheara/internal/types"
)

// RepositorySnapshot is a read-consistent view of every entity family the
// detectors need (spec §3: "in-memory snapshots for coherence borrow a
// read-consistent view"). Lookup maps are built once per snapshot so
// cross-entity traversals (symptom → medication, medication → document →
// professional) never walk the raw slices repeatedly.
type RepositorySnapshot struct {
	Medications     []types.Medication
	Diagnoses      []types.Diagnosis
	LabResults      []types.LabResult
	Allergies      []types.Allergy
	Symptoms       []types.Symptom
	Procedures      []types.Procedure
	Professionals    []types.Professional
	DoseChanges     []types.DoseChange
	CompoundIngredients []types.CompoundIngredient
	// DismissedAlertKeys is the set of dismissed_alert_key strings
	// (spec §4.E policy) already acknowledged by the user; any alert
	// whose derived key is a member is suppressed at source.
	DismissedAlertKeys map[string]bool

	professionalByID map[types.ID]types.Professional
	ingredientsByMed map[types.ID][]types.CompoundIngredient
	docDateByID    map[types.ID]*string
}

// NewRepositorySnapshot builds a snapshot and its lookup indices.
func NewRepositorySnapshot(
	medications []types.Medication,
	diagnoses []types.Diagnosis,
	labResults []types.LabResult,
	allergies []types.Allergy,
	symptoms []types.Symptom,
	procedures []types.Procedure,
	professionals []types.Professional,
	doseChanges []types.DoseChange,
	compoundIngredients []types.CompoundIngredient,
	dismissedAlertKeys map[string]bool,
) RepositorySnapshot {
	s := RepositorySnapshot{
		Medications:     medications,
		Diagnoses:      diagnoses,
		LabResults:      labResults,
		Allergies:      allergies,
		Symptoms:       symptoms,
		Procedures:      procedures,
		Professionals:    professionals,
		DoseChanges:     doseChanges,
		CompoundIngredients: compoundIngredients,
		DismissedAlertKeys:  dismissedAlertKeys,
	}
	s.professionalByID = make(map[types.ID]types.Professional, len(professionals))
	for _, p := range professionals {
		s.professionalByID[p.ID] = p
	}
	s.ingredientsByMed = make(map[types.ID][]types.CompoundIngredient)
	for _, ci := range compoundIngredients {
		s.ingredientsByMed[ci.MedicationID] = append(s.ingredientsByMed[ci.MedicationID], ci)
	}
	if s.DismissedAlertKeys == nil {
		s.DismissedAlertKeys = map[string]bool{}
	}
	return s
}

func (s RepositorySnapshot) professionalName(id *types.ID) string {
	if id == nil {
		return "unknown prescriber"
	}
	if p, ok := s.professionalByID[*id]; ok {
		return p.Name
	}
	return "unknown prescriber"
}

func (s RepositorySnapshot) ingredientsOf(medicationID types.ID) []types.CompoundIngredient {
	return s.ingredientsByMed[medicationID]
}

// dismissedAlertKey derives the dedup key used to check/populate
// DismissedAlertKeys, per spec §4.E policy: (alert_type, sorted
// entity_ids, detector-specific field).
func dismissedAlertKey(alertType types.AlertType, entityIDs []types.ID, extra string) string {
	ids := make([]string, len(entityIDs))
	for i, id := range entityIDs {
		ids[i] = id.String()
	}
	sortedIDs := append([]string{}, ids...)
	sortStrings(sortedIDs)
	return string(alertType) + "|" + strings.Join(sortedIDs, ",") + "|" + extra
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

func normalizeText(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, " ")
}
