package store

import (
	"context"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/structuring"
)

// IngestExtractedEntities persists one document's structured extraction
// output (spec §4.D step 6), writing every entity family in a single
// transaction and bumping the sync-version families the new rows affect.
// Symptoms have no entry here: they only enter the record through mobile
// journal sync (sync.MobileJournalEntry), never document extraction.
func (r *Repository) IngestExtractedEntities(ctx context.Context, entities structuring.ExtractedEntities) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	err := r.db.Update(func(txn *badgerTxn) error {
		for _, m := range entities.Medications {
			if err := r.put(txn, medicationKey(m.ID), m); err != nil {
				return err
			}
		}
		for _, l := range entities.LabResults {
			if err := r.put(txn, labResultKey(l.ID), l); err != nil {
				return err
			}
		}
		for _, d := range entities.Diagnoses {
			if err := r.put(txn, diagnosisKey(d.ID), d); err != nil {
				return err
			}
		}
		for _, a := range entities.Allergies {
			if err := r.put(txn, allergyKey(a.ID), a); err != nil {
				return err
			}
		}
		for _, p := range entities.Procedures {
			if err := r.put(txn, procedureKey(p.ID), p); err != nil {
				return err
			}
		}
		for _, ref := range entities.Referrals {
			if err := r.put(txn, referralKey(ref.ID), ref); err != nil {
				return err
			}
		}
		for _, ins := range entities.Instructions {
			if err := r.put(txn, instructionKey(ins.ID), ins); err != nil {
				return err
			}
		}

		if len(entities.Medications) > 0 {
			if err := r.bumpVersion(txn, familyMedications); err != nil {
				return err
			}
		}
		if len(entities.LabResults) > 0 {
			if err := r.bumpVersion(txn, familyLabs); err != nil {
				return err
			}
		}
		if len(entities.Diagnoses) > 0 || len(entities.Procedures) > 0 ||
			len(entities.Allergies) > 0 || len(entities.Referrals) > 0 || len(entities.Instructions) > 0 {
			if err := r.bumpVersion(txn, familyTimeline); err != nil {
				return err
			}
		}
		if len(entities.Allergies) > 0 {
			if err := r.bumpVersion(txn, familyProfile); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.KindDatabaseError, "ingesting extracted entities", err)
	}
	return nil
}
