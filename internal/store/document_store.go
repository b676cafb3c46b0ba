package store

import (
	"context"
	"time"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/types"
)

// CreateDocument persists a newly imported document and bumps the
// timeline sync-version family.
func (r *Repository) CreateDocument(ctx context.Context, doc types.Document) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	err := r.db.Update(func(txn *badgerTxn) error {
		if err := r.put(txn, documentKey(doc.ID), doc); err != nil {
			return err
		}
		return r.bumpVersion(txn, familyTimeline)
	})
	if err != nil {
		return errs.Wrap(errs.KindDatabaseError, "creating document", err)
	}
	return nil
}

// Document resolves a document by id.
func (r *Repository) Document(ctx context.Context, id types.ID) (*types.Document, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var doc types.Document
	var found bool
	err := r.db.View(func(txn *badgerTxn) error {
		var err error
		found, err = r.get(txn, documentKey(id), &doc)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "resolving document", err)
	}
	if !found {
		return nil, nil
	}
	return &doc, nil
}

// DocumentByHash looks up an already-imported document by its perceptual
// hash, for import deduplication (spec: Document.perceptual_hash). No
// secondary index; scans the document prefix, consistent with every other
// lookup in this package.
func (r *Repository) DocumentByHash(ctx context.Context, hash string) (*types.Document, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var match *types.Document
	err := r.db.View(func(txn *badgerTxn) error {
		documents, err := r.allDocuments(txn)
		if err != nil {
			return err
		}
		for i := range documents {
			if documents[i].PerceptualHash != nil && *documents[i].PerceptualHash == hash {
				match = &documents[i]
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "looking up document by hash", err)
	}
	return match, nil
}

// SetPipelineStatus updates a document's lifecycle state. Implements
// pipeline.Conn.
func (r *Repository) SetPipelineStatus(ctx context.Context, documentID types.ID, status types.PipelineStatus) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return r.db.Update(func(txn *badgerTxn) error {
		var doc types.Document
		found, err := r.get(txn, documentKey(documentID), &doc)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.KindInvalidArgument, "document not found: "+documentID.String())
		}
		doc.PipelineStatus = status
		return r.put(txn, documentKey(documentID), doc)
	})
}

// SetOCRConfidence records the OCR engine's confidence score for a
// document. Implements pipeline.Conn.
func (r *Repository) SetOCRConfidence(ctx context.Context, documentID types.ID, confidence float64) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return r.db.Update(func(txn *badgerTxn) error {
		var doc types.Document
		found, err := r.get(txn, documentKey(documentID), &doc)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.KindInvalidArgument, "document not found: "+documentID.String())
		}
		doc.OCRConfidence = &confidence
		return r.put(txn, documentKey(documentID), doc)
	})
}

// CreateProfessional persists a newly seen professional.
func (r *Repository) CreateProfessional(ctx context.Context, professional types.Professional) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return r.db.Update(func(txn *badgerTxn) error {
		return r.put(txn, professionalKey(professional.ID), professional)
	})
}

// CreateAppointment persists a newly scheduled appointment and bumps the
// appointments sync-version family.
func (r *Repository) CreateAppointment(ctx context.Context, appt types.Appointment) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	err := r.db.Update(func(txn *badgerTxn) error {
		if err := r.put(txn, appointmentKey(appt.ID), appt); err != nil {
			return err
		}
		return r.bumpVersion(txn, familyAppointments)
	})
	if err != nil {
		return errs.Wrap(errs.KindDatabaseError, "creating appointment", err)
	}
	return nil
}

// SavePostAppointmentNotes attaches free-text post-visit notes to a
// completed appointment, flipping its type to completed if it was still
// scheduled (spec §4.J: appointment history).
func (r *Repository) SavePostAppointmentNotes(ctx context.Context, appointmentID types.ID, notes string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	err := r.db.Update(func(txn *badgerTxn) error {
		var appt types.Appointment
		found, err := r.get(txn, appointmentKey(appointmentID), &appt)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.KindInvalidArgument, "appointment not found: "+appointmentID.String())
		}
		appt.Notes = &notes
		appt.Type = types.AppointmentCompleted
		if err := r.put(txn, appointmentKey(appointmentID), appt); err != nil {
			return err
		}
		return r.bumpVersion(txn, familyAppointments)
	})
	if err != nil {
		return errs.Wrap(errs.KindDatabaseError, "saving post-appointment notes", err)
	}
	return nil
}

// ConfirmDocumentReview transitions a document from PendingReview to
// Ingested once the user has confirmed the extracted result (spec §4.D:
// "once the user confirms, pipeline_status → Ingested"), and updates the
// per-profile trust metrics (spec: "updated whenever a user confirms or
// corrects a review"). corrected is true if the user edited any field
// before confirming.
func (r *Repository) ConfirmDocumentReview(ctx context.Context, documentID types.ID, corrected bool) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	err := r.db.Update(func(txn *badgerTxn) error {
		var doc types.Document
		found, err := r.get(txn, documentKey(documentID), &doc)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.KindInvalidArgument, "document not found: "+documentID.String())
		}
		doc.PipelineStatus = types.StatusIngested
		doc.Verified = true
		if err := r.put(txn, documentKey(documentID), doc); err != nil {
			return err
		}

		var trust types.ProfileTrust
		if _, err := r.get(txn, keyProfileTrust, &trust); err != nil {
			return err
		}
		trust.TotalDocuments++
		trust.DocumentsVerified++
		if corrected {
			trust.DocumentsCorrected++
		}
		if trust.TotalDocuments > 0 {
			trust.ExtractionAccuracy = float64(trust.TotalDocuments-trust.DocumentsCorrected) / float64(trust.TotalDocuments)
		}
		trust.LastUpdated = time.Now().UTC()
		if err := r.put(txn, keyProfileTrust, trust); err != nil {
			return err
		}
		return r.bumpVersion(txn, familyProfile)
	})
	if err != nil {
		return errs.Wrap(errs.KindDatabaseError, "confirming document review", err)
	}
	return nil
}

// Appointment resolves a single appointment by id.
func (r *Repository) Appointment(ctx context.Context, id types.ID) (*types.Appointment, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var appt types.Appointment
	var found bool
	err := r.db.View(func(txn *badgerTxn) error {
		var err error
		found, err = r.get(txn, appointmentKey(id), &appt)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "resolving appointment", err)
	}
	if !found {
		return nil, nil
	}
	return &appt, nil
}

// AppointmentWithProfessional pairs an appointment with its professional's
// display name, as shown in the appointment-history list.
type AppointmentWithProfessional struct {
	Appointment    types.Appointment
	ProfessionalName string
}

// ListAppointments returns every appointment with its professional's name
// resolved, most recent first.
func (r *Repository) ListAppointments(ctx context.Context) ([]AppointmentWithProfessional, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []AppointmentWithProfessional
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
		for _, a := range appointments {
			name := "Unknown"
			if p, ok := byID[a.ProfessionalID]; ok {
				name = p.Name
			}
			out = append(out, AppointmentWithProfessional{Appointment: a, ProfessionalName: name})
		}
		for i := 1; i < len(out); i++ {
			for j := i; j > 0 && out[j-1].Appointment.Date.Before(out[j].Appointment.Date); j-- {
				out[j-1], out[j] = out[j], out[j-1]
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "listing appointments", err)
	}
	return out, nil
}
