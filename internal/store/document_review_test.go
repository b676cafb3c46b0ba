package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktiyab/coheara/internal/types"
)

func TestDocumentByHashFindsDuplicate(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	hash := "deadbeef"
	doc := types.Document{ID: types.NewID(), Type: types.DocLabReport, IngestionTimestamp: time.Now().UTC(), PerceptualHash: &hash}
	require.NoError(t, repo.CreateDocument(ctx, doc))

	found, err := repo.DocumentByHash(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, doc.ID, found.ID)

	missing, err := repo.DocumentByHash(ctx, "not-a-real-hash")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAppointmentResolvesByID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	prof := types.Professional{ID: types.NewID(), Name: "Dr. Nkemdirim"}
	require.NoError(t, repo.CreateProfessional(ctx, prof))
	appt := types.Appointment{ID: types.NewID(), ProfessionalID: prof.ID, Date: time.Now().UTC().Add(24 * time.Hour), Type: types.AppointmentUpcoming}
	require.NoError(t, repo.CreateAppointment(ctx, appt))

	resolved, err := repo.Appointment(ctx, appt.ID)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, appt.ProfessionalID, resolved.ProfessionalID)

	missing, err := repo.Appointment(ctx, types.NewID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConfirmDocumentReviewUpdatesTrustMetrics(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	doc := types.Document{ID: types.NewID(), Type: types.DocLabReport, IngestionTimestamp: time.Now().UTC(), PipelineStatus: types.StatusPendingReview}
	require.NoError(t, repo.CreateDocument(ctx, doc))

	require.NoError(t, repo.ConfirmDocumentReview(ctx, doc.ID, false))

	resolved, err := repo.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusIngested, resolved.PipelineStatus)
	assert.True(t, resolved.Verified)

	second := types.Document{ID: types.NewID(), Type: types.DocClinicalNote, IngestionTimestamp: time.Now().UTC(), PipelineStatus: types.StatusPendingReview}
	require.NoError(t, repo.CreateDocument(ctx, second))
	require.NoError(t, repo.ConfirmDocumentReview(ctx, second.ID, true))

	var trust types.ProfileTrust
	err = repo.db.View(func(txn *badgerTxn) error {
		_, err := repo.get(txn, keyProfileTrust, &trust)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, trust.TotalDocuments)
	assert.Equal(t, 2, trust.DocumentsVerified)
	assert.Equal(t, 1, trust.DocumentsCorrected)
	assert.InDelta(t, 0.5, trust.ExtractionAccuracy, 0.0001)

	summary, err := repo.ProfileSummary(ctx, "My Health Record")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalDocuments)
	assert.InDelta(t, 0.5, summary.ExtractionAccuracy, 0.0001)
}

func TestConfirmDocumentReviewUnknownDocumentErrors(t *testing.T) {
	repo := newTestRepository(t)
	err := repo.ConfirmDocumentReview(context.Background(), types.NewID(), false)
	assert.Error(t, err)
}
