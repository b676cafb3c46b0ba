package sync

import (
	"context"
	"testing"
	"time"

	"github.com/ktiyab/coheara/internal/types"
)

// fakeStore is an in-memory Store fixture for exercising the sync engine
// without persistence.
type fakeStore struct {
	versions     types.SyncVersions
	medications   []MedicationRow
	labs       []LabResultRow
	timelineSymptoms []types.Symptom
	dismissedAlerts []types.Alert
	appointment   *AppointmentRow
	profile     CachedProfile

	insertedIDs map[types.ID]bool
	doseChanges  []DoseChangeRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{insertedIDs: map[types.ID]bool{}}
}

func (f *fakeStore) SyncVersions(ctx context.Context) (types.SyncVersions, error) {
	return f.versions, nil
}

func (f *fakeStore) MedicationsForSync(ctx context.Context) ([]MedicationRow, error) {
	return f.medications, nil
}

func (f *fakeStore) RecentLabResults(ctx context.Context, limit int) ([]LabResultRow, error) {
	if limit < len(f.labs) {
		return f.labs[:limit], nil
	}
	return f.labs, nil
}

func (f *fakeStore) RecentTimelineSymptoms(ctx context.Context, limit int) ([]types.Symptom, error) {
	if limit < len(f.timelineSymptoms) {
		return f.timelineSymptoms[:limit], nil
	}
	return f.timelineSymptoms, nil
}

func (f *fakeStore) DismissedAlerts(ctx context.Context) ([]types.Alert, error) {
	return f.dismissedAlerts, nil
}

func (f *fakeStore) NextUpcomingAppointment(ctx context.Context, within time.Duration) (*AppointmentRow, error) {
	return f.appointment, nil
}

func (f *fakeStore) ProfileSummary(ctx context.Context, profileName string) (CachedProfile, error) {
	p := f.profile
	p.ProfileName = profileName
	return p, nil
}

func (f *fakeStore) InsertJournalSymptomIfAbsent(ctx context.Context, entry MobileJournalEntry) (bool, error) {
	if f.insertedIDs[entry.ID] {
		return false, nil
	}
	f.insertedIDs[entry.ID] = true
	return true, nil
}

func (f *fakeStore) DoseChangesWithinWindow(ctx context.Context, onset time.Time, window time.Duration) ([]DoseChangeRow, error) {
	var out []DoseChangeRow
	for _, dc := range f.doseChanges {
		if !dc.ChangeDate.After(onset) && onset.Sub(dc.ChangeDate) <= window {
			out = append(out, dc)
		}
	}
	return out, nil
}

func TestDiffReturnsOnlyStaleFamilies(t *testing.T) {
	phone := types.SyncVersions{Medications: 1, Labs: 2, Timeline: 3, Alerts: 4, Appointments: 5, Profile: 6}
	desktop := types.SyncVersions{Medications: 1, Labs: 3, Timeline: 3, Alerts: 4, Appointments: 9, Profile: 6}

	changed := Diff(phone, desktop)
	if len(changed) != 2 || changed[0] != "labs" || changed[1] != "appointments" {
		t.Fatalf("expected [labs appointments], got %v", changed)
	}
}

func TestDiffEmptyWhenEqual(t *testing.T) {
	v := types.SyncVersions{Medications: 1, Labs: 1, Timeline: 1, Alerts: 1, Appointments: 1, Profile: 1}
	if changed := Diff(v, v); len(changed) != 0 {
		t.Fatalf("expected no diff for identical versions, got %v", changed)
	}
}

func TestBuildSyncResponseNoChangeReturnsNil(t *testing.T) {
	store := newFakeStore()
	store.versions = types.SyncVersions{Medications: 3}

	resp, err := BuildSyncResponse(context.Background(), store, Request{Versions: store.versions}, "Jane")
	if err != nil {
		t.Fatalf("BuildSyncResponse: %v", err)
	}
	if resp != nil {
		t.Fatalf("expected nil response when nothing changed, got %+v", resp)
	}
}

func TestBuildSyncResponseAssemblesOnlyChangedFamilies(t *testing.T) {
	store := newFakeStore()
	store.versions = types.SyncVersions{Medications: 2, Labs: 1}
	store.medications = []MedicationRow{{
		Medication: types.Medication{ID: types.NewID(), GenericName: "Metformin", Dose: "500mg", Frequency: "twice daily", Route: "oral", Status: types.MedActive},
	}}
	store.labs = []LabResultRow{{LabResult: types.LabResult{ID: types.NewID(), TestName: "A1C", AbnormalFlag: types.FlagNormal, CollectionDate: time.Now()}}}

	req := Request{Versions: types.SyncVersions{Medications: 1, Labs: 1}}
	resp, err := BuildSyncResponse(context.Background(), store, req, "Jane")
	if err != nil {
		t.Fatalf("BuildSyncResponse: %v", err)
	}
	if resp == nil {
		t.Fatal("expected a non-nil response")
	}
	if len(resp.Medications) != 1 {
		t.Errorf("expected medications assembled, got %d", len(resp.Medications))
	}
	if resp.Labs != nil {
		t.Errorf("expected labs to be omitted (unchanged), got %v", resp.Labs)
	}
	if resp.Timeline != nil || resp.Alerts != nil || resp.Appointment != nil || resp.Profile != nil {
		t.Error("expected all untouched families to remain nil")
	}
}

func TestAssembleLabsComputesTrendDirection(t *testing.T) {
	up, down := 110.0, 90.0
	prior := 100.0
	store := newFakeStore()
	store.labs = []LabResultRow{
		{LabResult: types.LabResult{ID: types.NewID(), TestName: "Glucose", Value: &up, AbnormalFlag: types.FlagHigh, CollectionDate: time.Now()}, PriorValue: &prior},
		{LabResult: types.LabResult{ID: types.NewID(), TestName: "Glucose", Value: &down, AbnormalFlag: types.FlagNormal, CollectionDate: time.Now()}, PriorValue: &prior},
	}

	out, err := AssembleLabs(context.Background(), store)
	if err != nil {
		t.Fatalf("AssembleLabs: %v", err)
	}
	if out[0].TrendDirection == nil || *out[0].TrendDirection != "up" {
		t.Errorf("expected up trend, got %v", out[0].TrendDirection)
	}
	if out[1].TrendDirection == nil || *out[1].TrendDirection != "down" {
		t.Errorf("expected down trend, got %v", out[1].TrendDirection)
	}
	if !out[0].IsAbnormal {
		t.Error("expected high flag to be abnormal")
	}
	if out[1].IsAbnormal {
		t.Error("expected normal flag to not be abnormal")
	}
}

func TestAssembleLabsTrendStableWithinTolerance(t *testing.T) {
	prior := 100.0
	curr := 100.5 // well within the 1% tolerance
	store := newFakeStore()
	store.labs = []LabResultRow{{LabResult: types.LabResult{ID: types.NewID(), TestName: "Na", Value: &curr, AbnormalFlag: types.FlagNormal, CollectionDate: time.Now()}, PriorValue: &prior}}

	out, err := AssembleLabs(context.Background(), store)
	if err != nil {
		t.Fatalf("AssembleLabs: %v", err)
	}
	if out[0].TrendDirection == nil || *out[0].TrendDirection != "stable" {
		t.Errorf("expected stable trend, got %v", out[0].TrendDirection)
	}
}

func TestAssembleAlertsOnlyIncludesDismissed(t *testing.T) {
	store := newFakeStore()
	reason := "Acknowledged by patient"
	store.dismissedAlerts = []types.Alert{
		{
			ID: types.NewID(), Type: types.AlertConflict, PatientMessage: "two prescribers",
			DetectedAt: time.Now(), Dismissed: true,
			Dismissal: &types.AlertDismissal{DismissedAt: time.Now(), Reason: &reason},
		},
		{ID: types.NewID(), Type: types.AlertGap, PatientMessage: "missing treatment", DetectedAt: time.Now(), Dismissed: false},
	}

	out, err := AssembleAlerts(context.Background(), store)
	if err != nil {
		t.Fatalf("AssembleAlerts: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one dismissed alert, got %d", len(out))
	}
	if out[0].Severity != "warning" || out[0].Title != "Medication Conflict" {
		t.Errorf("unexpected curated alert: %+v", out[0])
	}
}

// Idempotent insert (spec §4.H): the second sync of the same journal
// entry id must not be treated as newly inserted, and must not re-emit
// correlations.
func TestProcessJournalSyncIsIdempotent(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	store.doseChanges = []DoseChangeRow{{MedicationName: "Lisinopril", ChangeDate: now.Add(-3 * 24 * time.Hour)}}

	entry := MobileJournalEntry{ID: types.NewID(), Severity: 3, CreatedAt: now}

	first, err := ProcessJournalSync(context.Background(), store, []MobileJournalEntry{entry})
	if err != nil {
		t.Fatalf("first ProcessJournalSync: %v", err)
	}
	if len(first.Correlations) != 1 {
		t.Fatalf("expected one correlation on first insert, got %d", len(first.Correlations))
	}
	if first.Correlations[0].DaysSinceChange != 3 {
		t.Errorf("expected 3 days since change, got %d", first.Correlations[0].DaysSinceChange)
	}

	second, err := ProcessJournalSync(context.Background(), store, []MobileJournalEntry{entry})
	if err != nil {
		t.Fatalf("second ProcessJournalSync: %v", err)
	}
	if len(second.SyncedIDs) != 1 {
		t.Errorf("expected the id to still be reported as synced, got %v", second.SyncedIDs)
	}
	if len(second.Correlations) != 0 {
		t.Errorf("expected no correlations on a re-sync of the same entry, got %v", second.Correlations)
	}
}

func TestProcessJournalSyncIgnoresDoseChangesOutsideWindow(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	store.doseChanges = []DoseChangeRow{{MedicationName: "Old Drug", ChangeDate: now.Add(-20 * 24 * time.Hour)}}

	entry := MobileJournalEntry{ID: types.NewID(), Severity: 2, CreatedAt: now}
	result, err := ProcessJournalSync(context.Background(), store, []MobileJournalEntry{entry})
	if err != nil {
		t.Fatalf("ProcessJournalSync: %v", err)
	}
	if len(result.Correlations) != 0 {
		t.Fatalf("expected no correlation for a dose change outside the 14-day window, got %v", result.Correlations)
	}
}

func TestBuildSyncResponseWithJournalOnlyStillReturnsResponse(t *testing.T) {
	store := newFakeStore()
	store.versions = types.SyncVersions{} // nothing changed
	req := Request{
		Versions:    types.SyncVersions{},
		JournalEntries: []MobileJournalEntry{{ID: types.NewID(), Severity: 1, CreatedAt: time.Now()}},
	}

	resp, err := BuildSyncResponse(context.Background(), store, req, "Jane")
	if err != nil {
		t.Fatalf("BuildSyncResponse: %v", err)
	}
	if resp == nil {
		t.Fatal("expected a response when journal entries were submitted, even with no version changes")
	}
	if resp.JournalSync == nil || len(resp.JournalSync.SyncedIDs) != 1 {
		t.Errorf("expected journal sync result with one synced id, got %+v", resp.JournalSync)
	}
	if resp.Medications != nil || resp.Labs != nil {
		t.Error("expected no entity families assembled when only the journal changed")
	}
}
