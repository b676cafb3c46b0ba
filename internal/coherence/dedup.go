package coherence

import "github.com/ktiyab/coheara/internal/types"

// alertWithKey pairs a detector's output with the dismissed-alert key it
// was derived from. The key drives dismissal suppression and
// symmetric-pair dedup; finalize then copies it onto the returned
// types.Alert's DismissedAlertKey so it can be persisted.
type alertWithKey struct {
	alert  types.Alert
	dedupKey string
	// pairKey identifies the unordered {A,B} entity pair for symmetric
	// dedup; empty for detectors that don't produce pairwise findings.
	pairKey string
}

// suppressDismissedKeyed drops any alert whose dismissed_alert_key is
// already present in the snapshot's DismissedAlertKeys (spec §4.E policy).
func suppressDismissedKeyed(snap RepositorySnapshot, alerts []alertWithKey) []alertWithKey {
	var out []alertWithKey
	for _, a := range alerts {
		if snap.DismissedAlertKeys[a.dedupKey] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// dedupSymmetricAlertsKeyed removes an alert (B,A) when an alert (A,B)
// already exists for the same detector, category, and entity ids (spec
// §4.E policy).
func dedupSymmetricAlertsKeyed(alerts []alertWithKey) []alertWithKey {
	seen := map[string]bool{}
	var out []alertWithKey
	for _, a := range alerts {
		if a.pairKey != "" && seen[a.pairKey] {
			continue
		}
		if a.pairKey != "" {
			seen[a.pairKey] = true
		}
		out = append(out, a)
	}
	return out
}

// finalize applies dismissal suppression (always) and symmetric-pair
// dedup (only meaningful when pairKey is populated), then unwraps to the
// plain types.Alert slice detectors return.
func finalize(snap RepositorySnapshot, alerts []alertWithKey) []types.Alert {
	alerts = suppressDismissedKeyed(snap, alerts)
	alerts = dedupSymmetricAlertsKeyed(alerts)
	out := make([]types.Alert, len(alerts))
	for i, a := range alerts {
		a.alert.DismissedAlertKey = a.dedupKey
		out[i] = a.alert
	}
	return out
}

// symmetricPairKey builds an order-independent key for two entity ids
// under a given detector, so (A,B) and (B,A) collapse to the same key.
func symmetricPairKey(detector string, idA, idB types.ID) string {
	sa, sb := idA.String(), idB.String()
	if sa > sb {
		sa, sb = sb, sa
	}
	return detector + "|" + sa + "|" + sb
}
