package store

import (
	"context"

	"github.com/ktiyab/coheara/internal/coherence"
	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/timeline"
)

// CoherenceSnapshot assembles a coherence.RepositorySnapshot from every
// entity family the detectors read, plus the dismissed-alert key set
// derived from previously-surfaced, now-dismissed alerts.
func (r *Repository) CoherenceSnapshot(ctx context.Context) (coherence.RepositorySnapshot, error) {
	if err := ctxErr(ctx); err != nil {
		return coherence.RepositorySnapshot{}, err
	}
	var snap coherence.RepositorySnapshot
	err := r.db.View(func(txn *badgerTxn) error {
		medications, err := r.allMedications(txn)
		if err != nil {
			return err
		}
		diagnoses, err := r.allDiagnoses(txn)
		if err != nil {
			return err
		}
		labResults, err := r.allLabResults(txn)
		if err != nil {
			return err
		}
		allergies, err := r.allAllergies(txn)
		if err != nil {
			return err
		}
		symptoms, err := r.allSymptoms(txn)
		if err != nil {
			return err
		}
		procedures, err := r.allProcedures(txn)
		if err != nil {
			return err
		}
		professionals, err := r.allProfessionals(txn)
		if err != nil {
			return err
		}
		doseChanges, err := r.allDoseChanges(txn)
		if err != nil {
			return err
		}
		compoundIngredients, err := r.allCompoundIngredients(txn)
		if err != nil {
			return err
		}
		alerts, err := r.allAlerts(txn)
		if err != nil {
			return err
		}

		dismissed := make(map[string]bool, len(alerts))
		for _, a := range alerts {
			if a.Dismissed && a.DismissedAlertKey != "" {
				dismissed[a.DismissedAlertKey] = true
			}
		}

		snap = coherence.NewRepositorySnapshot(
			medications,
			diagnoses,
			labResults,
			allergies,
			symptoms,
			procedures,
			professionals,
			doseChanges,
			compoundIngredients,
			dismissed,
		)
		return nil
	})
	if err != nil {
		return coherence.RepositorySnapshot{}, errs.Wrap(errs.KindDatabaseError, "assembling coherence snapshot", err)
	}
	return snap, nil
}

// TimelineSnapshot assembles a timeline.Snapshot from every entity family
// the assembler reads.
func (r *Repository) TimelineSnapshot(ctx context.Context) (timeline.Snapshot, error) {
	if err := ctxErr(ctx); err != nil {
		return timeline.Snapshot{}, err
	}
	var snap timeline.Snapshot
	err := r.db.View(func(txn *badgerTxn) error {
		medications, err := r.allMedications(txn)
		if err != nil {
			return err
		}
		doseChanges, err := r.allDoseChanges(txn)
		if err != nil {
			return err
		}
		labResults, err := r.allLabResults(txn)
		if err != nil {
			return err
		}
		symptoms, err := r.allSymptoms(txn)
		if err != nil {
			return err
		}
		procedures, err := r.allProcedures(txn)
		if err != nil {
			return err
		}
		appointments, err := r.allAppointments(txn)
		if err != nil {
			return err
		}
		documents, err := r.allDocuments(txn)
		if err != nil {
			return err
		}
		diagnoses, err := r.allDiagnoses(txn)
		if err != nil {
			return err
		}
		professionals, err := r.allProfessionals(txn)
		if err != nil {
			return err
		}

		snap = timeline.NewSnapshot(
			medications,
			doseChanges,
			labResults,
			symptoms,
			procedures,
			appointments,
			documents,
			diagnoses,
			professionals,
		)
		return nil
	})
	if err != nil {
		return timeline.Snapshot{}, errs.Wrap(errs.KindDatabaseError, "assembling timeline snapshot", err)
	}
	return snap, nil
}
