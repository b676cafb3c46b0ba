package store

import (
	"context"
	"sort"
	"time"

	"github.com/ktiyab/coheara/internal/appointment"
	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/types"
)

// Professional resolves a professional by id. Implements
// appointment.Store.
func (r *Repository) Professional(ctx context.Context, id types.ID) (*types.Professional, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var p types.Professional
	var found bool
	err := r.db.View(func(txn *badgerTxn) error {
		var err error
		found, err = r.get(txn, professionalKey(id), &p)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "resolving professional", err)
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

// LastCompletedAppointmentDate returns the most recent completed
// appointment date for professionalID, or nil if there is none (the
// caller then falls back to the distant-past sentinel, spec §4.J step 1).
func (r *Repository) LastCompletedAppointmentDate(ctx context.Context, professionalID types.ID) (*time.Time, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var latest *time.Time
	err := r.db.View(func(txn *badgerTxn) error {
		appointments, err := r.allAppointments(txn)
		if err != nil {
			return err
		}
		for _, a := range appointments {
			if a.ProfessionalID != professionalID || a.Type != types.AppointmentCompleted {
				continue
			}
			if latest == nil || a.Date.After(*latest) {
				d := a.Date
				latest = &d
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "resolving last completed appointment", err)
	}
	return latest, nil
}

// ActiveMedications returns every currently-active medication with its
// prescriber name resolved, most recently started first.
func (r *Repository) ActiveMedications(ctx context.Context) ([]appointment.ActiveMedication, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []appointment.ActiveMedication
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

		for _, m := range meds {
			if m.Status != types.MedActive {
				continue
			}
			name := "Unknown"
			if m.PrescriberID != nil {
				if p, ok := byID[*m.PrescriberID]; ok {
					name = p.Name
				}
			}
			out = append(out, appointment.ActiveMedication{
				Name:      m.GenericName,
				Dose:      m.Dose,
				Frequency:   m.Frequency,
				PrescriberName: name,
				StartDate:   m.StartDate,
			})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].StartDate == nil || out[j].StartDate == nil {
				return out[j].StartDate == nil && out[i].StartDate != nil
			}
			return out[i].StartDate.After(*out[j].StartDate)
		})
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "listing active medications", err)
	}
	return out, nil
}

// MedicationsStartedSince returns medications whose start date falls on
// or after since, described as "started" changes.
func (r *Repository) MedicationsStartedSince(ctx context.Context, since time.Time) ([]appointment.MedicationChangeRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []appointment.MedicationChangeRow
	err := r.db.View(func(txn *badgerTxn) error {
		meds, err := r.allMedications(txn)
		if err != nil {
			return err
		}
		for _, m := range meds {
			if m.StartDate == nil || m.StartDate.Before(since) {
				continue
			}
			out = append(out, appointment.MedicationChangeRow{
				MedicationName: m.GenericName,
				NewDose:     m.Dose,
				ChangeDate:   *m.StartDate,
				ChangeType:   appointment.ChangeStarted,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ChangeDate.After(out[j].ChangeDate) })
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "listing medications started since", err)
	}
	return out, nil
}

// DoseChangesSince returns dose changes on or after since, with the
// owning medication's name resolved.
func (r *Repository) DoseChangesSince(ctx context.Context, since time.Time) ([]appointment.MedicationChangeRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []appointment.MedicationChangeRow
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

		for _, c := range changes {
			if c.ChangeDate.Before(since) {
				continue
			}
			previous := c.PreviousDose
			out = append(out, appointment.MedicationChangeRow{
				MedicationName: nameByID[c.MedicationID],
				OldDose:     &previous,
				NewDose:     c.NewDose,
				ChangeDate:   c.ChangeDate,
				ChangeType:   appointment.ChangeDoseChanged,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ChangeDate.After(out[j].ChangeDate) })
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "listing dose changes since", err)
	}
	return out, nil
}

// LabResultsSince returns lab results collected on or after since,
// formatted the way the patient and professional copies display them.
func (r *Repository) LabResultsSince(ctx context.Context, since time.Time) ([]appointment.RecentLab, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []appointment.RecentLab
	err := r.db.View(func(txn *badgerTxn) error {
		labs, err := r.allLabResults(txn)
		if err != nil {
			return err
		}
		for _, l := range labs {
			if l.CollectionDate.Before(since) {
				continue
			}
			out = append(out, appointment.RecentLab{
				TestName:    l.TestName,
				Value:      formatLabValue(l),
				Unit:      derefString(l.Unit),
				RangeLow:    formatOptionalFloat(l.ReferenceRangeLow),
				RangeHigh:    formatOptionalFloat(l.ReferenceRangeHigh),
				AbnormalFlag:  l.AbnormalFlag,
				CollectionDate: l.CollectionDate,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CollectionDate.After(out[j].CollectionDate) })
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "listing lab results since", err)
	}
	return out, nil
}

// SymptomsSince returns symptoms with onset on or after since, ordered by
// severity then recency (matching the original's "what's most urgent
// first" prep ordering).
func (r *Repository) SymptomsSince(ctx context.Context, since time.Time) ([]appointment.RecentSymptomRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []appointment.RecentSymptomRow
	err := r.db.View(func(txn *badgerTxn) error {
		symptoms, err := r.allSymptoms(txn)
		if err != nil {
			return err
		}
		for _, s := range symptoms {
			if s.OnsetDate.Before(since) {
				continue
			}
			out = append(out, appointment.RecentSymptomRow{
				Specific:  s.Description,
				Category:  s.Category,
				Severity:  s.Severity,
				OnsetDate: s.OnsetDate,
				StillActive: s.StillActive,
				Duration:  s.Duration,
			})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Severity != out[j].Severity {
				return out[i].Severity > out[j].Severity
			}
			return out[i].OnsetDate.After(out[j].OnsetDate)
		})
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "listing symptoms since", err)
	}
	return out, nil
}

const maxSourceDocuments = 20

// SourceDocumentsSince returns up to limit documents ingested on or after
// since, most recent first.
func (r *Repository) SourceDocumentsSince(ctx context.Context, since time.Time, limit int) ([]appointment.SourceDocumentRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = maxSourceDocuments
	}
	var out []appointment.SourceDocumentRow
	err := r.db.View(func(txn *badgerTxn) error {
		documents, err := r.allDocuments(txn)
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

		var rows []appointment.SourceDocumentRow
		for _, d := range documents {
			if d.IngestionTimestamp.Before(since) {
				continue
			}
			professional := "Unknown"
			if d.AuthoringProfessional != nil {
				if p, ok := byID[*d.AuthoringProfessional]; ok {
					professional = p.Name
				}
			}
			rows = append(rows, appointment.SourceDocumentRow{
				DocType:   d.Type,
				Date:     d.IngestionTimestamp,
				Professional: professional,
			})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Date.After(rows[j].Date) })
		if len(rows) > limit {
			rows = rows[:limit]
		}
		out = rows
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "listing source documents since", err)
	}
	return out, nil
}

// MarkPrepGenerated flips the appointment's pre-summary flag.
func (r *Repository) MarkPrepGenerated(ctx context.Context, appointmentID types.ID) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	err := r.db.Update(func(txn *badgerTxn) error {
		var a types.Appointment
		found, err := r.get(txn, appointmentKey(appointmentID), &a)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.KindInvalidArgument, "appointment not found: "+appointmentID.String())
		}
		a.PreSummaryGenerated = true
		if err := r.put(txn, appointmentKey(appointmentID), a); err != nil {
			return err
		}
		return r.bumpVersion(txn, familyAppointments)
	})
	if err != nil {
		return err
	}
	return nil
}

// UpdateLastSeenIfLater bumps the professional's last_seen_date only if
// date is later than its current value, mirroring the original's
// conditional UPDATE guard exactly.
func (r *Repository) UpdateLastSeenIfLater(ctx context.Context, professionalID types.ID, date time.Time) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return r.db.Update(func(txn *badgerTxn) error {
		var p types.Professional
		found, err := r.get(txn, professionalKey(professionalID), &p)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.KindInvalidArgument, "professional not found: "+professionalID.String())
		}
		if !date.After(p.LastSeenDate) {
			return nil
		}
		p.LastSeenDate = date
		return r.put(txn, professionalKey(professionalID), p)
	})
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatOptionalFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return trimTrailingZeros(*f)
}

func formatLabValue(l types.LabResult) string {
	if l.Value != nil {
		return trimTrailingZeros(*l.Value)
	}
	if l.ValueText != nil {
		return *l.ValueText
	}
	return ""
}
