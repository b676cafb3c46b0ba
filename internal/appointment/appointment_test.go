package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/ktiyab/coheara/internal/types"
)

type fakeStore struct {
	professional    *types.Professional
	lastCompletedDate *time.Time
	active       []ActiveMedication
	started       []MedicationChangeRow
	doseChanges     []MedicationChangeRow
	labs        []RecentLab
	symptoms      []RecentSymptomRow
	sourceDocs     []SourceDocumentRow

	markedPrepGenerated []types.ID
	lastSeenUpdates   map[types.ID]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{lastSeenUpdates: map[types.ID]time.Time{}}
}

func (f *fakeStore) Professional(ctx context.Context, id types.ID) (*types.Professional, error) {
	return f.professional, nil
}

func (f *fakeStore) LastCompletedAppointmentDate(ctx context.Context, professionalID types.ID) (*time.Time, error) {
	return f.lastCompletedDate, nil
}

func (f *fakeStore) ActiveMedications(ctx context.Context) ([]ActiveMedication, error) {
	return f.active, nil
}

func (f *fakeStore) MedicationsStartedSince(ctx context.Context, since time.Time) ([]MedicationChangeRow, error) {
	return f.started, nil
}

func (f *fakeStore) DoseChangesSince(ctx context.Context, since time.Time) ([]MedicationChangeRow, error) {
	return f.doseChanges, nil
}

func (f *fakeStore) LabResultsSince(ctx context.Context, since time.Time) ([]RecentLab, error) {
	return f.labs, nil
}

func (f *fakeStore) SymptomsSince(ctx context.Context, since time.Time) ([]RecentSymptomRow, error) {
	return f.symptoms, nil
}

func (f *fakeStore) SourceDocumentsSince(ctx context.Context, since time.Time, limit int) ([]SourceDocumentRow, error) {
	return f.sourceDocs, nil
}

func (f *fakeStore) MarkPrepGenerated(ctx context.Context, appointmentID types.ID) error {
	f.markedPrepGenerated = append(f.markedPrepGenerated, appointmentID)
	return nil
}

func (f *fakeStore) UpdateLastSeenIfLater(ctx context.Context, professionalID types.ID, date time.Time) error {
	f.lastSeenUpdates[professionalID] = date
	return nil
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parsing date %q: %v", s, err)
	}
	return d
}

func strPtr(s string) *string { return &s }

// §4.J step 1: with no prior completed appointment, since defaults to the
// distant-past sentinel rather than erroring.
func TestAssemblePrepDataDefaultsSinceDateToSentinel(t *testing.T) {
	profID := types.NewID()
	store := newFakeStore()
	store.professional = &types.Professional{ID: profID, Name: "Dr. Lin", Specialty: strPtr("Cardiology")}

	data, err := assemblePrepData(context.Background(), store, profID, mustDate(t, "2026-03-01"))
	if err != nil {
		t.Fatalf("assemblePrepData: %v", err)
	}
	if !data.SinceDate.Equal(distantPastSentinel) {
		t.Errorf("expected since date to default to the sentinel, got %v", data.SinceDate)
	}
}

func TestAssemblePrepDataUsesLastCompletedAppointment(t *testing.T) {
	profID := types.NewID()
	last := mustDate(t, "2025-11-01")
	store := newFakeStore()
	store.professional = &types.Professional{ID: profID, Name: "Dr. Lin"}
	store.lastCompletedDate = &last

	data, err := assemblePrepData(context.Background(), store, profID, mustDate(t, "2026-03-01"))
	if err != nil {
		t.Fatalf("assemblePrepData: %v", err)
	}
	if !data.SinceDate.Equal(last) {
		t.Errorf("expected since date %v, got %v", last, data.SinceDate)
	}
}

func TestAssemblePrepDataUnknownProfessionalFails(t *testing.T) {
	store := newFakeStore()
	if _, err := assemblePrepData(context.Background(), store, types.NewID(), mustDate(t, "2026-03-01")); err == nil {
		t.Fatal("expected an error for an unknown professional")
	}
}

// spec §4.J step 3, patient copy: critical labs become priority items.
func TestBuildPatientCopyPriorityItemsFromCriticalLabs(t *testing.T) {
	data := PrepData{
		ProfessionalName: "Dr. Lin",
		AppointmentDate: mustDate(t, "2026-03-01"),
		Labs: []RecentLab{
			{TestName: "Potassium", Value: "6.8", Unit: "mmol/L", AbnormalFlag: types.FlagCriticalHigh, CollectionDate: mustDate(t, "2026-02-20")},
			{TestName: "Sodium", Value: "140", Unit: "mmol/L", AbnormalFlag: types.FlagNormal, CollectionDate: mustDate(t, "2026-02-20")},
		},
	}

	patientCopy := buildPatientCopy(data)
	if len(patientCopy.PriorityItems) != 1 {
		t.Fatalf("expected exactly one priority item, got %d", len(patientCopy.PriorityItems))
	}
	if patientCopy.PriorityItems[0].Priority != "Critical" {
		t.Errorf("expected Critical priority, got %q", patientCopy.PriorityItems[0].Priority)
	}
}

// Up to five questions, sorted by descending relevance score.
func TestGenerateQuestionsSortedByRelevanceAndCapped(t *testing.T) {
	data := PrepData{
		MedChanges: []MedicationChangeRow{{MedicationName: "Lisinopril", ChangeType: ChangeStarted, NewDose: "10mg", ChangeDate: mustDate(t, "2026-02-01")}},
		Symptoms: []RecentSymptomRow{{Specific: "dizziness", Category: "Cardiac", Severity: 2, OnsetDate: mustDate(t, "2026-02-10"), StillActive: true}},
		Labs: []RecentLab{
			{TestName: "A1C", Value: "7.2", AbnormalFlag: types.FlagHigh, CollectionDate: mustDate(t, "2026-02-15")},
		},
		Medications: []ActiveMedication{
			{Name: "Lisinopril", PrescriberName: "Dr. A"},
			{Name: "Metformin", PrescriberName: "Dr. B"},
		},
	}

	questions := generateQuestions(data)
	if len(questions) > 5 {
		t.Fatalf("expected at most 5 questions, got %d", len(questions))
	}
	for i := 1; i < len(questions); i++ {
		if questions[i].RelevanceScore > questions[i-1].RelevanceScore {
			t.Fatalf("questions not sorted by descending relevance: %+v", questions)
		}
	}
	if questions[0].RelevanceScore != 0.95 {
		t.Errorf("expected the medication-change question to rank first, got %+v", questions[0])
	}
}

func TestGenerateQuestionsFallsBackToOpenEnded(t *testing.T) {
	data := PrepData{}
	questions := generateQuestions(data)
	if len(questions) != 1 {
		t.Fatalf("expected exactly one fallback question, got %d", len(questions))
	}
	if questions[0].RelevanceScore != 0.5 {
		t.Errorf("expected the open-ended fallback's relevance score, got %v", questions[0].RelevanceScore)
	}
}

// spec §4.J step 3, professional copy: medications started or dose-changed
// since the last visit are flagged as recent changes.
func TestBuildProfessionalCopyFlagsRecentChanges(t *testing.T) {
	since := mustDate(t, "2026-01-01")
	recentStart := mustDate(t, "2026-01-15")
	oldStart := mustDate(t, "2025-06-01")
	data := PrepData{
		SinceDate: since,
		Medications: []ActiveMedication{
			{Name: "Lisinopril", Dose: "10mg", Frequency: "daily", PrescriberName: "Dr. A", StartDate: &recentStart},
			{Name: "Metformin", Dose: "500mg", Frequency: "twice daily", PrescriberName: "Dr. B", StartDate: &oldStart},
		},
	}

	professionalCopy := buildProfessionalCopy(data)
	byName := map[string]MedicationSummary{}
	for _, m := range professionalCopy.CurrentMedications {
		byName[m.Name] = m
	}
	if !byName["Lisinopril"].IsRecentChange {
		t.Error("expected the recently started medication to be flagged as a recent change")
	}
	if byName["Metformin"].IsRecentChange {
		t.Error("expected the long-standing medication to not be flagged as a recent change")
	}
}

// spec §4.J step 4: PrepareAppointmentPrep marks the pre-summary flag and
// updates last_seen_date.
func TestPrepareAppointmentPrepMarksFlagsAndUpdatesLastSeen(t *testing.T) {
	profID := types.NewID()
	apptID := types.NewID()
	apptDate := mustDate(t, "2026-03-01")

	store := newFakeStore()
	store.professional = &types.Professional{ID: profID, Name: "Dr. Lin", Specialty: strPtr("Cardiology")}

	prep, err := PrepareAppointmentPrep(context.Background(), store, profID, apptID, apptDate)
	if err != nil {
		t.Fatalf("PrepareAppointmentPrep: %v", err)
	}
	if prep.ProfessionalName != "Dr. Lin" {
		t.Errorf("unexpected professional name: %q", prep.ProfessionalName)
	}
	if len(store.markedPrepGenerated) != 1 || store.markedPrepGenerated[0] != apptID {
		t.Errorf("expected mark-prep-generated to be called once with %v, got %v", apptID, store.markedPrepGenerated)
	}
	if got, ok := store.lastSeenUpdates[profID]; !ok || !got.Equal(apptDate) {
		t.Errorf("expected last_seen update to %v, got %v", apptDate, got)
	}
}

// spec §4.J: every emitted string must pass the safety scan at build time.
func TestPrepareAppointmentPrepProducesSafeText(t *testing.T) {
	profID := types.NewID()
	apptID := types.NewID()

	store := newFakeStore()
	store.professional = &types.Professional{ID: profID, Name: "Dr. Okafor"}
	store.active = []ActiveMedication{{Name: "Lisinopril", Dose: "10mg", Frequency: "daily", PrescriberName: "Dr. Okafor"}}
	store.labs = []RecentLab{{TestName: "A1C", Value: "7.1", Unit: "%", AbnormalFlag: types.FlagHigh, CollectionDate: mustDate(t, "2026-02-01")}}
	store.symptoms = []RecentSymptomRow{{Specific: "fatigue", Category: "General", Severity: 2, OnsetDate: mustDate(t, "2026-02-05"), StillActive: true}}

	if _, err := PrepareAppointmentPrep(context.Background(), store, profID, apptID, mustDate(t, "2026-03-01")); err != nil {
		t.Fatalf("PrepareAppointmentPrep: %v", err)
	}
}
