package store

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/types"
)

// StorePairedDevice persists a newly paired device. Implements
// pairing.DeviceStore.
func (r *Repository) StorePairedDevice(ctx context.Context, device types.PairedDevice) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return r.db.Update(func(txn *badgerTxn) error {
		return r.put(txn, deviceKey(device.DeviceID), device)
	})
}

// StoreSession persists a newly issued device session.
func (r *Repository) StoreSession(ctx context.Context, session types.DeviceSession) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return r.db.Update(func(txn *badgerTxn) error {
		return r.put(txn, sessionKey(session.SessionID), session)
	})
}

// RevokeDevice flips the device's is_revoked flag. Revoking an unknown
// device is a no-op, matching "revoke is idempotent" expectations for a
// device that may have already been revoked by a concurrent call.
func (r *Repository) RevokeDevice(ctx context.Context, deviceID types.ID) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return r.db.Update(func(txn *badgerTxn) error {
		var device types.PairedDevice
		found, err := r.get(txn, deviceKey(deviceID), &device)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		device.IsRevoked = true
		return r.put(txn, deviceKey(deviceID), device)
	})
}

// ResolveSession resolves a raw bearer token (already hashed by the caller
// with pairing.HashToken) to its DeviceSession and owning PairedDevice.
// There is no secondary index on TokenHash, so this scans the session
// prefix; this is the same "linear scan at single-profile scale" tradeoff
// used throughout this package. Returns (nil, nil, nil) if no live session
// matches: unknown token, expired session, or a revoked device.
func (r *Repository) ResolveSession(ctx context.Context, tokenHash [32]byte) (*types.DeviceSession, *types.PairedDevice, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, nil, err
	}
	var session *types.DeviceSession
	var device *types.PairedDevice
	err := r.db.Update(func(txn *badgerTxn) error {
		sessions, err := r.allSessions(txn)
		if err != nil {
			return err
		}
		var match *types.DeviceSession
		for i := range sessions {
			if subtle.ConstantTimeCompare(sessions[i].TokenHash[:], tokenHash[:]) == 1 {
				match = &sessions[i]
				break
			}
		}
		if match == nil {
			return nil
		}
		if time.Now().UTC().After(match.ExpiresAt) {
			return nil
		}
		var d types.PairedDevice
		found, err := r.get(txn, deviceKey(match.DeviceID), &d)
		if err != nil {
			return err
		}
		if !found || d.IsRevoked {
			return nil
		}
		match.LastUsed = time.Now().UTC()
		if err := r.put(txn, sessionKey(match.SessionID), *match); err != nil {
			return err
		}
		session = match
		device = &d
		return nil
	})
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindDatabaseError, "resolving session", err)
	}
	return session, device, nil
}

// ListPairedDevices returns every paired device, revoked or not; callers
// filter for their own purposes (e.g. the pairing-device list screen
// shows revoked devices grayed out rather than hiding them).
func (r *Repository) ListPairedDevices(ctx context.Context) ([]types.PairedDevice, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []types.PairedDevice
	err := r.db.View(func(txn *badgerTxn) error {
		devices, err := r.allDevices(txn)
		if err != nil {
			return err
		}
		out = devices
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "listing paired devices", err)
	}
	return out, nil
}
