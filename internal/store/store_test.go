package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktiyab/coheara/internal/appointment"
	"github.com/ktiyab/coheara/internal/structuring"
	"github.com/ktiyab/coheara/internal/sync"
	"github.com/ktiyab/coheara/internal/types"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var key [32]byte
	copy(key[:], []byte("01234567890123456789012345678901"))
	repo, err := NewRepository(db, key)
	require.NoError(t, err)
	return repo
}

func TestPairedDeviceRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	device := types.PairedDevice{DeviceID: types.NewID(), DeviceName: "patient-phone"}
	require.NoError(t, repo.StorePairedDevice(ctx, device))

	devices, err := repo.ListPairedDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, device.DeviceID, devices[0].DeviceID)
	assert.False(t, devices[0].IsRevoked)

	require.NoError(t, repo.RevokeDevice(ctx, device.DeviceID))
	devices, err = repo.ListPairedDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].IsRevoked)
}

func TestRevokeUnknownDeviceIsNoOp(t *testing.T) {
	repo := newTestRepository(t)
	err := repo.RevokeDevice(context.Background(), types.NewID())
	assert.NoError(t, err)
}

func TestIngestExtractedEntitiesBumpsSyncVersions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	before, err := repo.SyncVersions(ctx)
	require.NoError(t, err)

	doc := types.ID(types.NewID())
	entities := structuring.ExtractedEntities{
		Medications: []types.Medication{{ID: types.NewID(), GenericName: "lisinopril", Status: types.MedActive, DocumentID: doc}},
		LabResults: []types.LabResult{{ID: types.NewID(), TestName: "potassium", CollectionDate: time.Now().UTC(), DocumentID: doc}},
		Diagnoses: []types.Diagnosis{{ID: types.NewID(), Name: "hypertension", DocumentID: doc}},
	}
	require.NoError(t, repo.IngestExtractedEntities(ctx, entities))

	after, err := repo.SyncVersions(ctx)
	require.NoError(t, err)
	assert.Greater(t, after.Medications, before.Medications)
	assert.Greater(t, after.Labs, before.Labs)
	assert.Greater(t, after.Timeline, before.Timeline)

	meds, err := repo.MedicationsForSync(ctx)
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, "lisinopril", meds[0].GenericName)
}

func TestUpdateLastSeenIfLaterOnlyAdvancesForward(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	prof := types.Professional{ID: types.NewID(), Name: "Dr. Okafor"}
	require.NoError(t, repo.CreateProfessional(ctx, prof))

	first := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateLastSeenIfLater(ctx, prof.ID, first))

	resolved, err := repo.Professional(ctx, prof.ID)
	require.NoError(t, err)
	assert.True(t, resolved.LastSeenDate.Equal(first))

	earlier := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateLastSeenIfLater(ctx, prof.ID, earlier))
	resolved, err = repo.Professional(ctx, prof.ID)
	require.NoError(t, err)
	assert.True(t, resolved.LastSeenDate.Equal(first), "an earlier date must not roll last_seen_date backwards")

	later := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateLastSeenIfLater(ctx, prof.ID, later))
	resolved, err = repo.Professional(ctx, prof.ID)
	require.NoError(t, err)
	assert.True(t, resolved.LastSeenDate.Equal(later))
}

func TestMarkPrepGeneratedRequiresExistingAppointment(t *testing.T) {
	repo := newTestRepository(t)
	err := repo.MarkPrepGenerated(context.Background(), types.NewID())
	assert.Error(t, err)
}

func TestAppointmentPrepEndToEnd(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	prof := types.Professional{ID: types.NewID(), Name: "Dr. Martins"}
	require.NoError(t, repo.CreateProfessional(ctx, prof))

	appt := types.Appointment{ID: types.NewID(), ProfessionalID: prof.ID, Date: time.Now().UTC().Add(48 * time.Hour), Type: types.AppointmentUpcoming}
	require.NoError(t, repo.CreateAppointment(ctx, appt))

	doc := types.NewID()
	entities := structuring.ExtractedEntities{
		Medications: []types.Medication{{
			ID:       types.NewID(),
			GenericName:  "metformin",
			Dose:      "500mg",
			Status:     types.MedActive,
			PrescriberID: &prof.ID,
			StartDate:   timePtr(time.Now().UTC().AddDate(0, 0, -3)),
			DocumentID:  doc,
		}},
	}
	require.NoError(t, repo.IngestExtractedEntities(ctx, entities))

	prep, err := appointment.PrepareAppointmentPrep(ctx, repo, prof.ID, appt.ID, appt.Date)
	require.NoError(t, err)
	require.NotNil(t, prep)
	assert.NotEmpty(t, prep.PatientCopy.Questions)
	assert.NotEmpty(t, prep.ProfessionalCopy.ChangesSinceLastVisit)

	resolved, err := repo.Professional(ctx, prof.ID)
	require.NoError(t, err)
	assert.True(t, resolved.LastSeenDate.Equal(appt.Date))
}

func TestCoherenceAndTimelineSnapshotsLoad(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	doc := types.Document{ID: types.NewID(), Type: types.DocLabReport, IngestionTimestamp: time.Now().UTC()}
	require.NoError(t, repo.CreateDocument(ctx, doc))

	entities := structuring.ExtractedEntities{
		LabResults: []types.LabResult{{ID: types.NewID(), TestName: "glucose", CollectionDate: time.Now().UTC(), DocumentID: doc.ID}},
	}
	require.NoError(t, repo.IngestExtractedEntities(ctx, entities))

	coh, err := repo.CoherenceSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, coh.LabResults, 1)

	tl, err := repo.TimelineSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, tl.LabResults, 1)
	assert.Len(t, tl.Documents, 1)
}

func TestInsertJournalSymptomIfAbsentIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	entry := sync.MobileJournalEntry{ID: types.NewID(), Severity: 3, CreatedAt: time.Now().UTC()}
	inserted, err := repo.InsertJournalSymptomIfAbsent(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertJournalSymptomIfAbsent(ctx, entry)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestSetPipelineStatusAndOCRConfidence(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	doc := types.Document{ID: types.NewID(), Type: types.DocClinicalNote, IngestionTimestamp: time.Now().UTC()}
	require.NoError(t, repo.CreateDocument(ctx, doc))

	require.NoError(t, repo.SetPipelineStatus(ctx, doc.ID, types.StatusStructuring))
	require.NoError(t, repo.SetOCRConfidence(ctx, doc.ID, 0.87))

	resolved, err := repo.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStructuring, resolved.PipelineStatus)
	require.NotNil(t, resolved.OCRConfidence)
	assert.InDelta(t, 0.87, *resolved.OCRConfidence, 0.0001)
}

func TestSavePostAppointmentNotesCompletesAppointment(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	prof := types.Professional{ID: types.NewID(), Name: "Dr. Alavi"}
	require.NoError(t, repo.CreateProfessional(ctx, prof))
	appt := types.Appointment{ID: types.NewID(), ProfessionalID: prof.ID, Date: time.Now().UTC(), Type: types.AppointmentUpcoming}
	require.NoError(t, repo.CreateAppointment(ctx, appt))

	require.NoError(t, repo.SavePostAppointmentNotes(ctx, appt.ID, "discussed dosage adjustment"))

	list, err := repo.ListAppointments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, types.AppointmentCompleted, list[0].Appointment.Type)
	assert.Equal(t, "Dr. Alavi", list[0].ProfessionalName)
}

func timePtr(t time.Time) *time.Time { return &t }
