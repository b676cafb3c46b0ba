package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktiyab/coheara/internal/coherence"
	"github.com/ktiyab/coheara/internal/pairing"
	"github.com/ktiyab/coheara/internal/pipeline"
	"github.com/ktiyab/coheara/internal/store"
	"github.com/ktiyab/coheara/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestServer wires a Server against an in-memory repository, matching
// the single-profile construction cmd/coheara-core/main.go performs.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var key [32]byte
	copy(key[:], []byte("01234567890123456789012345678901"))
	repo, err := store.NewRepository(db, key)
	require.NoError(t, err)

	return NewServer(
		repo,
		pairing.NewManager(),
		coherence.ReferenceData{},
		&pipeline.Orchestrator{},
		types.NewID(),
		"My Health Record",
		"https://127.0.0.1:8443",
		"deadbeef",
		nil,
	)
}

// authedDevice pairs a device directly through the repository (bypassing
// the ECDH handshake) and returns the raw bearer token to present.
func authedDevice(t *testing.T, s *Server) string {
	t.Helper()
	ctx := t.Context()
	device := types.PairedDevice{DeviceID: types.NewID(), DeviceName: "test-phone", PairedAt: time.Now().UTC()}
	require.NoError(t, s.Repo.StorePairedDevice(ctx, device))

	token := "test-bearer-token"
	session := types.DeviceSession{
		SessionID: types.NewID(),
		DeviceID:  device.DeviceID,
		TokenHash: pairing.HashToken(token),
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, s.Repo.StoreSession(ctx, session))
	return token
}

func TestAuthRequiredRejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/timeline", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthRequiredRejectsUnknownToken(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/timeline", nil)
	req.Header.Set("Authorization", "Bearer never-issued")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRequiredAcceptsValidSession(t *testing.T) {
	s := newTestServer(t)
	token := authedDevice(t, s)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/timeline", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTimelineRejectsMalformedFilter(t *testing.T) {
	s := newTestServer(t)
	token := authedDevice(t, s)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/timeline?date_from=not-a-date", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTimelineReturnsEmptySnapshot(t *testing.T) {
	s := newTestServer(t)
	token := authedDevice(t, s)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/timeline", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
}

func TestAlertsListAndDismiss(t *testing.T) {
	s := newTestServer(t)
	token := authedDevice(t, s)
	router := s.Router()
	ctx := t.Context()

	alert := types.Alert{ID: types.NewID(), Type: types.AlertGap, PatientMessage: "lab overdue", DetectedAt: time.Now().UTC(), DismissedAlertKey: "gap:lab1"}
	require.NoError(t, s.Repo.SaveAlerts(ctx, []types.Alert{alert}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var listed []types.Alert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, alert.ID, listed[0].ID)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/alerts/"+alert.ID.String()+"/dismiss", bytes.NewBufferString(`{"reason":"handled"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	listed = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Empty(t, listed)
}

func TestAppointmentsListAndNotes(t *testing.T) {
	s := newTestServer(t)
	token := authedDevice(t, s)
	router := s.Router()
	ctx := t.Context()

	prof := types.Professional{ID: types.NewID(), Name: "Dr. Osei"}
	require.NoError(t, s.Repo.CreateProfessional(ctx, prof))
	appt := types.Appointment{ID: types.NewID(), ProfessionalID: prof.ID, Date: time.Now().UTC(), Type: types.AppointmentUpcoming}
	require.NoError(t, s.Repo.CreateAppointment(ctx, appt))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/appointments/"+appt.ID.String()+"/notes", bytes.NewBufferString(`{"notes":"discussed results"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	resolved, err := s.Repo.Appointment(ctx, appt.ID)
	require.NoError(t, err)
	require.NotNil(t, resolved.Notes)
	assert.Equal(t, "discussed results", *resolved.Notes)
	assert.Equal(t, types.AppointmentCompleted, resolved.Type)
}

func TestConfirmDocumentTransitionsToIngested(t *testing.T) {
	s := newTestServer(t)
	token := authedDevice(t, s)
	router := s.Router()
	ctx := t.Context()

	doc := types.Document{ID: types.NewID(), Type: types.DocLabReport, IngestionTimestamp: time.Now().UTC(), PipelineStatus: types.StatusPendingReview}
	require.NoError(t, s.Repo.CreateDocument(ctx, doc))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/documents/"+doc.ID.String()+"/confirm", bytes.NewBufferString(`{"corrected":false}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	resolved, err := s.Repo.Document(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusIngested, resolved.PipelineStatus)
	assert.True(t, resolved.Verified)
}

func TestConfirmDocumentUnknownIDReturnsError(t *testing.T) {
	s := newTestServer(t)
	token := authedDevice(t, s)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/documents/"+types.NewID().String()+"/confirm", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPairingQRWithNoActiveSession(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/pairing/qr", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPairingStartReturnsQR(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/pairing/start", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp pairStartResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.QR.Token)
	assert.NotEmpty(t, resp.ExpiresAt)
}
