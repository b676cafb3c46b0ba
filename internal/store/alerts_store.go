package store

import (
	"context"
	"time"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/types"
)

// SaveAlerts persists the result of a coherence detector run (spec §4.E),
// skipping any alert whose dedup key already matches a stored, dismissed
// alert — re-running detection after every ingest must not resurrect
// something the patient already cleared. Bumps familyAlerts only if at
// least one alert was newly written.
func (r *Repository) SaveAlerts(ctx context.Context, alerts []types.Alert) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if len(alerts) == 0 {
		return nil
	}
	err := r.db.Update(func(txn *badgerTxn) error {
		existing, err := r.allAlerts(txn)
		if err != nil {
			return err
		}
		dismissedKeys := make(map[string]bool, len(existing))
		for _, a := range existing {
			if a.Dismissed && a.DismissedAlertKey != "" {
				dismissedKeys[a.DismissedAlertKey] = true
			}
		}
		var wrote bool
		for _, a := range alerts {
			if a.DismissedAlertKey != "" && dismissedKeys[a.DismissedAlertKey] {
				continue
			}
			if err := r.put(txn, alertKey(a.ID), a); err != nil {
				return err
			}
			wrote = true
		}
		if !wrote {
			return nil
		}
		return r.bumpVersion(txn, familyAlerts)
	})
	if err != nil {
		return errs.Wrap(errs.KindDatabaseError, "saving alerts", err)
	}
	return nil
}

// ListSurfacedAlerts returns every non-dismissed alert, most recent first,
// for the desktop alerts inbox.
func (r *Repository) ListSurfacedAlerts(ctx context.Context) ([]types.Alert, error) {
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
			if !a.Dismissed {
				out = append(out, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabaseError, "listing surfaced alerts", err)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].DetectedAt.Before(out[j].DetectedAt); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

// DismissAlert records a patient's dismissal of an alert (spec §4.E:
// dismissal is permanent across re-detection via DismissedAlertKey).
func (r *Repository) DismissAlert(ctx context.Context, alertID types.ID, reason *string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	err := r.db.Update(func(txn *badgerTxn) error {
		var alert types.Alert
		found, err := r.get(txn, alertKey(alertID), &alert)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.KindInvalidArgument, "alert not found: "+alertID.String())
		}
		alert.Dismissed = true
		alert.Dismissal = &types.AlertDismissal{DismissedAt: time.Now().UTC(), Reason: reason}
		if err := r.put(txn, alertKey(alertID), alert); err != nil {
			return err
		}
		return r.bumpVersion(txn, familyAlerts)
	})
	if err != nil {
		return errs.Wrap(errs.KindDatabaseError, "dismissing alert", err)
	}
	return nil
}
