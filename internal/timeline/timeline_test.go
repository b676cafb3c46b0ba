package timeline

import (
	"testing"
	"time"

	"github.com/ktiyab/coheara/internal/types"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parsing date %q: %v", s, err)
	}
	return d
}

// Timeline sort stability (spec §8 invariant 11): events[] is
// non-decreasing by date.
func TestEventsSortedAscendingByDate(t *testing.T) {
	med := types.Medication{ID: types.NewID(), GenericName: "Metformin", Dose: "500mg", Frequency: "twice daily", Status: types.MedActive, StartDate: ptrTime(mustDate(t, "2026-02-01")), DocumentID: types.NewID()}
	diag := types.Diagnosis{ID: types.NewID(), Name: "Type 2 Diabetes", Status: types.DiagnosisActive, DiagnosedDate: ptrTime(mustDate(t, "2026-01-01")), DocumentID: types.NewID()}
	symptom := types.Symptom{ID: types.NewID(), Category: "GI", Description: "nausea", Severity: 2, OnsetDate: mustDate(t, "2026-01-15"), RecordedDate: mustDate(t, "2026-01-15"), Source: types.SymptomPatientReported, DocumentID: types.NewID()}

	snap := NewSnapshot([]types.Medication{med}, nil, nil, []types.Symptom{symptom}, nil, nil, nil, []types.Diagnosis{diag}, nil)

	data, err := GetTimelineData(snap, Filter{})
	if err != nil {
		t.Fatalf("GetTimelineData: %v", err)
	}
	if len(data.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(data.Events))
	}
	for i := 1; i < len(data.Events); i++ {
		if data.Events[i].Date.Before(data.Events[i-1].Date) {
			t.Fatalf("events not sorted ascending: %v before %v", data.Events[i].Date, data.Events[i-1].Date)
		}
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

// S4 / invariant 12 (spec §8): a temporal correlation is emitted iff
// 0 <= days_between <= 14.
func TestCorrelationWindowEdges(t *testing.T) {
	med := types.Medication{ID: types.NewID(), GenericName: "Lisinopril", Dose: "10mg", Frequency: "daily", Status: types.MedActive, StartDate: ptrTime(mustDate(t, "2026-01-10")), DocumentID: types.NewID()}

	within := types.Symptom{ID: types.NewID(), Category: "Cardiac", Description: "dizziness", Severity: 2, OnsetDate: mustDate(t, "2026-01-24"), RecordedDate: mustDate(t, "2026-01-24"), Source: types.SymptomPatientReported, DocumentID: types.NewID()}
	outside := types.Symptom{ID: types.NewID(), Category: "Cardiac", Description: "headache", Severity: 2, OnsetDate: mustDate(t, "2026-01-25"), RecordedDate: mustDate(t, "2026-01-25"), Source: types.SymptomPatientReported, DocumentID: types.NewID()}

	snap := NewSnapshot([]types.Medication{med}, nil, nil, []types.Symptom{within, outside}, nil, nil, nil, nil, nil)
	data, err := GetTimelineData(snap, Filter{})
	if err != nil {
		t.Fatalf("GetTimelineData: %v", err)
	}

	foundWithin, foundOutside := false, false
	for _, c := range data.Correlations {
		if c.SourceID == within.ID.String() {
			foundWithin = true
		}
		if c.SourceID == outside.ID.String() {
			foundOutside = true
		}
	}
	if !foundWithin {
		t.Error("expected a correlation for the symptom 14 days after medication start")
	}
	if foundOutside {
		t.Error("expected no correlation for the symptom 15 days after medication start")
	}
}

// S11 (spec §8): since_appointment_id resolves the lower bound to
// (appointment.date - 30 days).
func TestSinceAppointmentResolvesThirtyDayWindow(t *testing.T) {
	professional := types.Professional{ID: types.NewID(), Name: "Dr. Lin"}
	appt := types.Appointment{ID: types.NewID(), ProfessionalID: professional.ID, Date: mustDate(t, "2026-01-15"), Type: types.AppointmentUpcoming}

	inWindow := types.Symptom{ID: types.NewID(), Category: "GI", Description: "cramping", Severity: 2, OnsetDate: mustDate(t, "2025-12-20"), RecordedDate: mustDate(t, "2025-12-20"), Source: types.SymptomPatientReported, DocumentID: types.NewID()}
	beforeWindow := types.Symptom{ID: types.NewID(), Category: "GI", Description: "fatigue", Severity: 2, OnsetDate: mustDate(t, "2025-12-01"), RecordedDate: mustDate(t, "2025-12-01"), Source: types.SymptomPatientReported, DocumentID: types.NewID()}

	snap := NewSnapshot(nil, nil, nil, []types.Symptom{inWindow, beforeWindow}, nil, []types.Appointment{appt}, nil, nil, []types.Professional{professional})

	data, err := GetTimelineData(snap, Filter{SinceAppointmentID: &appt.ID})
	if err != nil {
		t.Fatalf("GetTimelineData: %v", err)
	}

	gotInWindow, gotBeforeWindow := false, false
	for _, e := range data.Events {
		if e.ID == inWindow.ID.String() {
			gotInWindow = true
		}
		if e.ID == beforeWindow.ID.String() {
			gotBeforeWindow = true
		}
	}
	if !gotInWindow {
		t.Error("expected the symptom within the 30-day pre-visit window to be included")
	}
	if gotBeforeWindow {
		t.Error("expected the symptom before the 30-day pre-visit window to be excluded")
	}
}

func TestSinceAppointmentUnknownIDFails(t *testing.T) {
	snap := NewSnapshot(nil, nil, nil, nil, nil, nil, nil, nil, nil)
	unknown := types.NewID()
	if _, err := GetTimelineData(snap, Filter{SinceAppointmentID: &unknown}); err == nil {
		t.Fatal("expected an error for an unknown since_appointment_id")
	}
}

func TestEventTypeFilter(t *testing.T) {
	med := types.Medication{ID: types.NewID(), GenericName: "Atorvastatin", Dose: "20mg", Frequency: "daily", Status: types.MedActive, StartDate: ptrTime(mustDate(t, "2026-01-01")), DocumentID: types.NewID()}
	symptom := types.Symptom{ID: types.NewID(), Category: "Pain", Description: "back pain", Severity: 2, OnsetDate: mustDate(t, "2026-01-05"), RecordedDate: mustDate(t, "2026-01-05"), Source: types.SymptomPatientReported, DocumentID: types.NewID()}

	snap := NewSnapshot([]types.Medication{med}, nil, nil, []types.Symptom{symptom}, nil, nil, nil, nil, nil)
	data, err := GetTimelineData(snap, Filter{EventTypes: []EventType{EventSymptom}})
	if err != nil {
		t.Fatalf("GetTimelineData: %v", err)
	}
	if len(data.Events) != 1 || data.Events[0].EventType != EventSymptom {
		t.Fatalf("expected exactly one symptom event, got %+v", data.Events)
	}
}

func TestExplicitCorrelationFromRelatedMedicationID(t *testing.T) {
	med := types.Medication{ID: types.NewID(), GenericName: "Ibuprofen", Dose: "200mg", Frequency: "as needed", Status: types.MedActive, DocumentID: types.NewID()}
	symptom := types.Symptom{ID: types.NewID(), Category: "GI", Description: "stomach upset", Severity: 2, OnsetDate: mustDate(t, "2026-03-01"), RecordedDate: mustDate(t, "2026-03-01"), Source: types.SymptomPatientReported, RelatedMedicationID: &med.ID, DocumentID: types.NewID()}

	snap := NewSnapshot([]types.Medication{med}, nil, nil, []types.Symptom{symptom}, nil, nil, nil, nil, nil)
	data, err := GetTimelineData(snap, Filter{})
	if err != nil {
		t.Fatalf("GetTimelineData: %v", err)
	}

	found := false
	for _, c := range data.Correlations {
		if c.Type == CorrelationExplicitLink && c.SourceID == symptom.ID.String() && c.TargetID == med.ID.String() {
			found = true
		}
	}
	if !found {
		t.Error("expected an explicit correlation linking the symptom to its related medication")
	}
}

func TestProfessionalSummaryExcludesZeroCount(t *testing.T) {
	active := types.Professional{ID: types.NewID(), Name: "Dr. Active", Specialty: strPtr("Cardiology")}
	idle := types.Professional{ID: types.NewID(), Name: "Dr. Idle"}
	med := types.Medication{ID: types.NewID(), GenericName: "Metoprolol", Dose: "50mg", Frequency: "daily", Status: types.MedActive, StartDate: ptrTime(mustDate(t, "2026-01-01")), PrescriberID: &active.ID, DocumentID: types.NewID()}

	snap := NewSnapshot([]types.Medication{med}, nil, nil, nil, nil, nil, nil, nil, []types.Professional{active, idle})
	data, err := GetTimelineData(snap, Filter{})
	if err != nil {
		t.Fatalf("GetTimelineData: %v", err)
	}
	if len(data.Professionals) != 1 || data.Professionals[0].ID != active.ID {
		t.Fatalf("expected only the active professional to be summarized, got %+v", data.Professionals)
	}
}

func strPtr(s string) *string { return &s }
