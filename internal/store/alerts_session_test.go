package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktiyab/coheara/internal/pairing"
	"github.com/ktiyab/coheara/internal/types"
)

func TestSaveAlertsThenListSurfacedOmitsDismissed(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	a1 := types.Alert{ID: types.NewID(), Type: types.AlertGap, PatientMessage: "lab overdue", DetectedAt: time.Now().UTC().Add(-time.Hour), DismissedAlertKey: "gap:lab1"}
	a2 := types.Alert{ID: types.NewID(), Type: types.AlertGap, PatientMessage: "refill due", DetectedAt: time.Now().UTC(), DismissedAlertKey: "gap:med1"}
	require.NoError(t, repo.SaveAlerts(ctx, []types.Alert{a1, a2}))

	surfaced, err := repo.ListSurfacedAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, surfaced, 2)
	assert.Equal(t, a2.ID, surfaced[0].ID, "most recently detected alert comes first")

	require.NoError(t, repo.DismissAlert(ctx, a1.ID, nil))
	surfaced, err = repo.ListSurfacedAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, surfaced, 1)
	assert.Equal(t, a2.ID, surfaced[0].ID)
}

func TestDismissedAlertKeyPreventsResurrection(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	original := types.Alert{ID: types.NewID(), Type: types.AlertGap, PatientMessage: "lab overdue", DetectedAt: time.Now().UTC(), DismissedAlertKey: "gap:lab1"}
	require.NoError(t, repo.SaveAlerts(ctx, []types.Alert{original}))
	reason := "already booked"
	require.NoError(t, repo.DismissAlert(ctx, original.ID, &reason))

	rerun := types.Alert{ID: types.NewID(), Type: types.AlertGap, PatientMessage: "lab overdue", DetectedAt: time.Now().UTC(), DismissedAlertKey: "gap:lab1"}
	require.NoError(t, repo.SaveAlerts(ctx, []types.Alert{rerun}))

	surfaced, err := repo.ListSurfacedAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, surfaced, "re-detecting the same alert key must not resurrect a dismissed alert")
}

func TestDismissUnknownAlertErrors(t *testing.T) {
	repo := newTestRepository(t)
	err := repo.DismissAlert(context.Background(), types.NewID(), nil)
	assert.Error(t, err)
}

func TestResolveSessionHappyPath(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	device := types.PairedDevice{DeviceID: types.NewID(), DeviceName: "patient-phone", PairedAt: time.Now().UTC()}
	require.NoError(t, repo.StorePairedDevice(ctx, device))

	token := "a-raw-bearer-token"
	hash := pairing.HashToken(token)
	session := types.DeviceSession{
		SessionID: types.NewID(),
		DeviceID:  device.DeviceID,
		TokenHash: hash,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, repo.StoreSession(ctx, session))

	resolvedSession, resolvedDevice, err := repo.ResolveSession(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, resolvedSession)
	require.NotNil(t, resolvedDevice)
	assert.Equal(t, session.SessionID, resolvedSession.SessionID)
	assert.Equal(t, device.DeviceID, resolvedDevice.DeviceID)
	assert.False(t, resolvedSession.LastUsed.IsZero(), "a successful resolve touches last_used")
}

func TestResolveSessionRejectsExpired(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	device := types.PairedDevice{DeviceID: types.NewID(), DeviceName: "patient-phone"}
	require.NoError(t, repo.StorePairedDevice(ctx, device))

	hash := pairing.HashToken("expired-token")
	session := types.DeviceSession{
		SessionID: types.NewID(),
		DeviceID:  device.DeviceID,
		TokenHash: hash,
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, repo.StoreSession(ctx, session))

	resolvedSession, resolvedDevice, err := repo.ResolveSession(ctx, hash)
	require.NoError(t, err)
	assert.Nil(t, resolvedSession)
	assert.Nil(t, resolvedDevice)
}

func TestResolveSessionRejectsRevokedDevice(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	device := types.PairedDevice{DeviceID: types.NewID(), DeviceName: "patient-phone"}
	require.NoError(t, repo.StorePairedDevice(ctx, device))
	require.NoError(t, repo.RevokeDevice(ctx, device.DeviceID))

	hash := pairing.HashToken("still-has-this-token")
	session := types.DeviceSession{
		SessionID: types.NewID(),
		DeviceID:  device.DeviceID,
		TokenHash: hash,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, repo.StoreSession(ctx, session))

	resolvedSession, resolvedDevice, err := repo.ResolveSession(ctx, hash)
	require.NoError(t, err)
	assert.Nil(t, resolvedSession)
	assert.Nil(t, resolvedDevice)
}

func TestResolveSessionUnknownTokenReturnsNil(t *testing.T) {
	repo := newTestRepository(t)
	resolvedSession, resolvedDevice, err := repo.ResolveSession(context.Background(), pairing.HashToken("never-issued"))
	require.NoError(t, err)
	assert.Nil(t, resolvedSession)
	assert.Nil(t, resolvedDevice)
}
