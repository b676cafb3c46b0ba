package store

import (
	"context"
	"sort"
	"time"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/sync"
	"github.com/ktiyab/coheara/internal/types"
)

// SyncVersions returns the current six-tuple of monotonic counters.
// Implements sync.Store.
func (r *Repository) SyncVersions(ctx context.Context) (types.SyncVersions, error) {
	if err := ctxErr(ctx); err != nil {
		return types.SyncVersions{}, err
	}
	var v types.SyncVersions
	err := r.db.View(func(txn *badgerTxn) error {
		_, err := r.get(txn, keySyncVersions, &v)
		return err
	})
	if err != nil {
		return types.SyncVersions{}, errs.Wrap(errs.KindDatabaseError, "reading sync versions", err)
	}
	return v, nil
}

// bumpVersion increments the named counter within txn. Called by every
// write path that touches a synced entity family (spec §4.H: "each
// counter is bumped by a storage-layer rule on insert, update, delete, or
// semantically adjacent table change").
func (r *Repository) bumpVersion(txn *badgerTxn, family func(*types.SyncVersions) *int64) error {
	var v types.SyncVersions
	if _, err := r.get(txn, keySyncVersions, &v); err != nil {
		return err
	}
	*family(&v)++
	return r.put(txn, keySyncVersions, v)
}

func familyMedications(v *types.SyncVersions) *int64 { return &v.Medications }
func familyLabs(v *types.SyncVersions) *int64     { return &v.Labs }
func familyTimeline(v *types.SyncVersions) *int64   { return &v.Timeline }
func familyAlerts(v *types.SyncVersions) *int64    { return &v.Alerts }
func familyAppointments(v *types.SyncVersions) *int64 { return &v.Appointments }
func familyProfile(v *types.SyncVersions) *int64   { return &v.Profile }

// activeOrRecentlyStoppedCutoff mirrors the original's
// `date('now', '-6 months')` window for "recently stopped" medications.
const activeOrRecentlyStoppedCutoff = 6 * 30 * 24 * time.Hour

// MedicationsForSync returns active medications plus those stopped within
// the last six months, with prescriber names resolved.
func (r *Repository) MedicationsForSync(ctx context.Context) ([]sync.MedicationRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []sync.MedicationRow
	err := r.db.View(func(txn *badgerTxn) error {
		meds, err := r.allMedications(txn)
		if err != nil {
			return err
		}
		professionals, err := r.allProfessionals(txn)
		if err != nil {
			return err
		}
		byID := make(map[types.ID]types.Professional, len(professionals))
		for _, p := range professionals {
			byID[p.ID] = p
		}

		cutoff := time.Now().UTC().Add(-activeOrRecentlyStoppedCutoff)
		for _, m := range meds {
			recentlyStopped := m.Status == types.MedStopped && m.EndDate != nil && !m.EndDate.Before(cutoff)
			if m.Status != types.MedActive && !recentlyStopped {
				continue
			}
			row := sync.MedicationRow{Medication: m}
			if m.PrescriberID != nil {
				if p, ok := byID[*m.PrescriberID]; ok {
					name := p.Name
					row.PrescriberName = &name
				}
			}
			out = append(out, row)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "assembling medications for sync", err)
	}
	return out, nil
}

// RecentLabResults returns up to limit lab results ordered by most recent
// collection date, each with its prior same-test value resolved for
// trend computation.
func (r *Repository) RecentLabResults(ctx context.Context, limit int) ([]sync.LabResultRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []sync.LabResultRow
	err := r.db.View(func(txn *badgerTxn) error {
		labs, err := r.allLabResults(txn)
		if err != nil {
			return err
		}
		sort.Slice(labs, func(i, j int) bool { return labs[i].CollectionDate.After(labs[j].CollectionDate) })

		// Group by test name, in descending collection-date order, so
		// the row immediately after a given lab in its own group is its
		// prior observation.
		byTest := map[string][]types.LabResult{}
		for _, l := range labs {
			byTest[l.TestName] = append(byTest[l.TestName], l)
		}

		for i, l := range labs {
			if limit > 0 && i >= limit {
				break
			}
			row := sync.LabResultRow{LabResult: l}
			group := byTest[l.TestName]
			for j, g := range group {
				if g.ID == l.ID && j+1 < len(group) {
					row.PriorValue = group[j+1].Value
					break
				}
			}
			out = append(out, row)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "assembling recent lab results", err)
	}
	return out, nil
}

// RecentTimelineSymptoms returns up to limit patient-reported symptoms,
// most recent first (the sync engine's "journal-style" timeline events).
func (r *Repository) RecentTimelineSymptoms(ctx context.Context, limit int) ([]types.Symptom, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []types.Symptom
	err := r.db.View(func(txn *badgerTxn) error {
		symptoms, err := r.allSymptoms(txn)
		if err != nil {
			return err
		}
		sort.Slice(symptoms, func(i, j int) bool { return symptoms[i].RecordedDate.After(symptoms[j].RecordedDate) })
		if limit > 0 && len(symptoms) > limit {
			symptoms = symptoms[:limit]
		}
		out = symptoms
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "assembling recent timeline symptoms", err)
	}
	return out, nil
}

// DismissedAlerts returns every alert the patient has already dismissed.
func (r *Repository) DismissedAlerts(ctx context.Context) ([]types.Alert, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []types.Alert
	err := r.db.View(func(txn *badgerTxn) error {
		alerts, err := r.allAlerts(txn)
		if err != nil {
			return err
		}
		for _, a := range alerts {
			if a.Dismissed {
				out = append(out, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "listing dismissed alerts", err)
	}
	return out, nil
}

// NextUpcomingAppointment returns the soonest upcoming appointment within
// withinHorizon of now, or nil if there is none.
func (r *Repository) NextUpcomingAppointment(ctx context.Context, withinHorizon time.Duration) (*sync.AppointmentRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out *sync.AppointmentRow
	err := r.db.View(func(txn *badgerTxn) error {
		appointments, err := r.allAppointments(txn)
		if err != nil {
			return err
		}
		professionals, err := r.allProfessionals(txn)
		if err != nil {
			return err
		}
		byID := make(map[types.ID]types.Professional, len(professionals))
		for _, p := range professionals {
			byID[p.ID] = p
		}

		now := time.Now().UTC()
		horizon := now.Add(withinHorizon)
		var best *types.Appointment
		for i, a := range appointments {
			if a.Type != types.AppointmentUpcoming {
				continue
			}
			if a.Date.Before(now) || a.Date.After(horizon) {
				continue
			}
			if best == nil || a.Date.Before(best.Date) {
				best = &appointments[i]
			}
		}
		if best == nil {
			return nil
		}
		row := sync.AppointmentRow{Appointment: *best}
		if prof, ok := byID[best.ProfessionalID]; ok {
			row.ProfessionalName = prof.Name
			row.ProfessionalSpecialty = prof.Specialty
		}
		out = &row
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "resolving next upcoming appointment", err)
	}
	return out, nil
}

// ProfileSummary returns the curated profile payload: trust metrics plus
// allergies, each annotated with whether its source document was
// verified.
func (r *Repository) ProfileSummary(ctx context.Context, profileName string) (sync.CachedProfile, error) {
	if err := ctxErr(ctx); err != nil {
		return sync.CachedProfile{}, err
	}
	var out sync.CachedProfile
	err := r.db.View(func(txn *badgerTxn) error {
		var trust types.ProfileTrust
		if _, err := r.get(txn, keyProfileTrust, &trust); err != nil {
			return err
		}

		allergies, err := r.allAllergies(txn)
		if err != nil {
			return err
		}
		documents, err := r.allDocuments(txn)
		if err != nil {
			return err
		}
		verifiedByDoc := make(map[types.ID]bool, len(documents))
		for _, d := range documents {
			verifiedByDoc[d.ID] = d.Verified
		}

		cached := make([]sync.CachedAllergy, 0, len(allergies))
		for _, a := range allergies {
			severity := ""
			if a.Severity != nil {
				severity = *a.Severity
			}
			cached = append(cached, sync.CachedAllergy{
				Allergen: a.Allergen,
				Severity: severity,
				Verified: verifiedByDoc[a.DocumentID],
			})
		}

		out = sync.CachedProfile{
			ProfileName:    profileName,
			TotalDocuments:   trust.TotalDocuments,
			ExtractionAccuracy: trust.ExtractionAccuracy,
			Allergies:     cached,
		}
		return nil
	})
	if err != nil {
		return sync.CachedProfile{}, errs.Wrap(errs.KindDatabaseError, "assembling profile summary", err)
	}
	return out, nil
}

// InsertJournalSymptomIfAbsent stores entry as a patient-reported Symptom
// keyed by its own id, acting as an INSERT OR IGNORE: a second sync of the
// same entry id reports inserted=false and performs no write.
func (r *Repository) InsertJournalSymptomIfAbsent(ctx context.Context, entry sync.MobileJournalEntry) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	var inserted bool
	err := r.db.Update(func(txn *badgerTxn) error {
		var existing types.Symptom
		found, err := r.get(txn, symptomKey(entry.ID), &existing)
		if err != nil {
			return err
		}
		if found {
			return nil
		}

		category := "Journal"
		if entry.SymptomChip != nil {
			category = *entry.SymptomChip
		}
		description := ""
		if entry.FreeText != nil {
			description = *entry.FreeText
		} else if entry.SymptomChip != nil {
			description = *entry.SymptomChip
		}

		symptom := types.Symptom{
			ID:          entry.ID,
			Category:       category,
			Description:     description,
			Severity:       entry.Severity,
			BodyRegion:      entry.BodyLocation,
			Aggravating:     entry.ActivityContext,
			OnsetDate:      entry.CreatedAt,
			RecordedDate:     entry.CreatedAt,
			StillActive:     true,
			Source:        types.SymptomPatientReported,
			DocumentID:      types.NilID,
		}
		if err := r.put(txn, symptomKey(entry.ID), symptom); err != nil {
			return err
		}
		if err := r.bumpVersion(txn, familyTimeline); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, errs.Wrap(errs.KindDatabaseError, "inserting journal symptom", err)
	}
	return inserted, nil
}

// DoseChangesWithinWindow returns dose changes (with their medication's
// generic name resolved) whose change date falls within
// [onset-window, onset].
func (r *Repository) DoseChangesWithinWindow(ctx context.Context, onset time.Time, window time.Duration) ([]sync.DoseChangeRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []sync.DoseChangeRow
	err := r.db.View(func(txn *badgerTxn) error {
		changes, err := r.allDoseChanges(txn)
		if err != nil {
			return err
		}
		meds, err := r.allMedications(txn)
		if err != nil {
			return err
		}
		nameByID := make(map[types.ID]string, len(meds))
		for _, m := range meds {
			nameByID[m.ID] = m.GenericName
		}

		earliest := onset.Add(-window)
		for _, c := range changes {
			if c.ChangeDate.After(onset) || c.ChangeDate.Before(earliest) {
				continue
			}
			out = append(out, sync.DoseChangeRow{
				MedicationName: nameByID[c.MedicationID],
				ChangeDate:   c.ChangeDate,
			})
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "resolving dose changes within window", err)
	}
	return out, nil
}
