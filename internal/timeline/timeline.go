// Package timeline implements the timeline assembler (spec §4.I): a
// single read-only pass that unifies medication, lab, symptom, procedure,
// appointment, document, and diagnosis history into one chronologically
// sorted event stream, annotated with severity and cross-entity temporal
// correlations.
package timeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/types"
)

// EventType narrows which entity family produced a timeline Event.
type EventType string

const (
	EventMedicationStart   EventType = "MedicationStart"
	EventMedicationStop    EventType = "MedicationStop"
	EventMedicationDoseChange EventType = "MedicationDoseChange"
	EventLabResult      EventType = "LabResult"
	EventSymptom       EventType = "Symptom"
	EventProcedure      EventType = "Procedure"
	EventAppointment     EventType = "Appointment"
	EventDocument       EventType = "Document"
	EventDiagnosis      EventType = "Diagnosis"
)

// Severity narrows a timeline event's visual urgency.
type Severity string

const (
	SeverityNormal  Severity = "Normal"
	SeverityLow    Severity = "Low"
	SeverityModerate Severity = "Moderate"
	SeverityHigh   Severity = "High"
	SeverityCritical Severity = "Critical"
)

// CorrelationType narrows how two events are believed to be related.
type CorrelationType string

const (
	CorrelationSymptomAfterMedicationStart    CorrelationType = "SymptomAfterMedicationStart"
	CorrelationSymptomAfterMedicationChange    CorrelationType = "SymptomAfterMedicationChange"
	CorrelationSymptomResolvedAfterMedicationStop CorrelationType = "SymptomResolvedAfterMedicationStop"
	CorrelationExplicitLink            CorrelationType = "ExplicitLink"
)

const correlationWindowDays = 14
const sinceAppointmentContextDays = 30

// Metadata is a closed sum type carrying the event's type-specific
// detail, selected by Kind (mirrors types.AlertDetail's tagged-variant
// design).
type Metadata struct {
	Kind      EventType        `json:"kind"`
	Medication  *MedicationMeta    `json:"medication,omitempty"`
	DoseChange  *DoseChangeMeta    `json:"dose_change,omitempty"`
	Lab      *LabMeta        `json:"lab,omitempty"`
	Symptom   *SymptomMeta     `json:"symptom,omitempty"`
	Procedure  *ProcedureMeta    `json:"procedure,omitempty"`
	Appointment *AppointmentMeta   `json:"appointment,omitempty"`
	Document   *DocumentMeta     `json:"document,omitempty"`
	Diagnosis  *DiagnosisMeta    `json:"diagnosis,omitempty"`
}

type MedicationMeta struct {
	GenericName string  `json:"generic_name"`
	BrandName  *string  `json:"brand_name,omitempty"`
	Dose    string  `json:"dose"`
	Frequency  string  `json:"frequency"`
	Status   string  `json:"status"`
	Reason   *string  `json:"reason,omitempty"`
}

type DoseChangeMeta struct {
	GenericName string `json:"generic_name"`
	OldDose   string `json:"old_dose"`
	NewDose   string `json:"new_dose"`
	Reason   *string `json:"reason,omitempty"`
}

type LabMeta struct {
	TestName   string  `json:"test_name"`
	Value     *float64 `json:"value,omitempty"`
	ValueText   *string  `json:"value_text,omitempty"`
	Unit     *string  `json:"unit,omitempty"`
	ReferenceLow *float64 `json:"reference_low,omitempty"`
	ReferenceHigh *float64 `json:"reference_high,omitempty"`
	AbnormalFlag string  `json:"abnormal_flag"`
}

type SymptomMeta struct {
	Category   string `json:"category"`
	Specific   string `json:"specific"`
	Severity   int  `json:"severity"`
	BodyRegion  *string `json:"body_region,omitempty"`
	StillActive bool  `json:"still_active"`
}

type ProcedureMeta struct {
	Name string `json:"name"`
}

type AppointmentMeta struct {
	AppointmentType    string `json:"appointment_type"`
	ProfessionalSpecialty *string `json:"professional_specialty,omitempty"`
}

type DocumentMeta struct {
	DocumentType string `json:"document_type"`
	Verified   bool  `json:"verified"`
}

type DiagnosisMeta struct {
	Name  string `json:"name"`
	Status string `json:"status"`
}

// Event is one entry on the unified timeline. ID is a synthetic string
// (not types.ID) because medication-stop events share their source
// medication's identity with a "-stop" suffix, matching how the source
// system disambiguates a medication's start and stop as two events.
type Event struct {
	ID         string   `json:"id"`
	EventType     EventType  `json:"event_type"`
	Date       time.Time  `json:"date"`
	Title       string   `json:"title"`
	Subtitle     *string   `json:"subtitle,omitempty"`
	ProfessionalID  *types.ID  `json:"professional_id,omitempty"`
	ProfessionalName *string   `json:"professional_name,omitempty"`
	DocumentID    *types.ID  `json:"document_id,omitempty"`
	Severity     *Severity  `json:"severity,omitempty"`
	Metadata     Metadata  `json:"metadata"`
}

// Correlation links two timeline events that are believed to be temporally
// related.
type Correlation struct {
	SourceID  string     `json:"source_id"`
	TargetID  string     `json:"target_id"`
	Type    CorrelationType `json:"correlation_type"`
	Description string     `json:"description"`
}

// Filter narrows which events GetTimelineData returns.
type Filter struct {
	EventTypes     []EventType
	ProfessionalID   *types.ID
	DateFrom      *time.Time
	DateTo       *time.Time
	SinceAppointmentID *types.ID
}

// DateRange bounds the earliest/latest event date in a result set.
type DateRange struct {
	Earliest *time.Time `json:"earliest,omitempty"`
	Latest  *time.Time `json:"latest,omitempty"`
}

// EventCounts totals every entity family, unfiltered, for filter badges.
type EventCounts struct {
	Medications int `json:"medications"`
	LabResults int `json:"lab_results"`
	Symptoms  int `json:"symptoms"`
	Procedures int `json:"procedures"`
	Appointments int `json:"appointments"`
	Documents  int `json:"documents"`
	Diagnoses  int `json:"diagnoses"`
}

// ProfessionalSummary aggregates how many timeline events reference a
// professional, for the timeline's professional filter dropdown.
type ProfessionalSummary struct {
	ID     types.ID `json:"id"`
	Name    string  `json:"name"`
	Specialty *string  `json:"specialty,omitempty"`
	EventCount int    `json:"event_count"`
}

// Data is the complete response of GetTimelineData.
type Data struct {
	Events    []Event       `json:"events"`
	Correlations []Correlation    `json:"correlations"`
	DateRange   DateRange      `json:"date_range"`
	EventCounts  EventCounts     `json:"event_counts"`
	Professionals []ProfessionalSummary `json:"professionals"`
}

// Snapshot is a read-consistent view of every entity family the timeline
// assembler draws from (mirrors internal/coherence.RepositorySnapshot's
// shape, extended with the entities coherence does not need).
type Snapshot struct {
	Medications  []types.Medication
	DoseChanges  []types.DoseChange
	LabResults  []types.LabResult
	Symptoms   []types.Symptom
	Procedures  []types.Procedure
	Appointments []types.Appointment
	Documents   []types.Document
	Diagnoses   []types.Diagnosis
	Professionals []types.Professional

	professionalByID  map[types.ID]types.Professional
	medicationGeneric map[types.ID]string
	appointmentByID  map[types.ID]types.Appointment
}

// NewSnapshot builds a Snapshot and its lookup indices.
func NewSnapshot(
	medications []types.Medication,
	doseChanges []types.DoseChange,
	labResults []types.LabResult,
	symptoms []types.Symptom,
	procedures []types.Procedure,
	appointments []types.Appointment,
	documents []types.Document,
	diagnoses []types.Diagnosis,
	professionals []types.Professional,
) Snapshot {
	s := Snapshot{
		Medications:  medications,
		DoseChanges:  doseChanges,
		LabResults:  labResults,
		Symptoms:   symptoms,
		Procedures:  procedures,
		Appointments: appointments,
		Documents:   documents,
		Diagnoses:   diagnoses,
		Professionals: professionals,
	}
	s.professionalByID = make(map[types.ID]types.Professional, len(professionals))
	for _, p := range professionals {
		s.professionalByID[p.ID] = p
	}
	s.medicationGeneric = make(map[types.ID]string, len(medications))
	for _, m := range medications {
		s.medicationGeneric[m.ID] = m.GenericName
	}
	s.appointmentByID = make(map[types.ID]types.Appointment, len(appointments))
	for _, a := range appointments {
		s.appointmentByID[a.ID] = a
	}
	return s
}

func (s Snapshot) professionalName(id *types.ID) *string {
	if id == nil {
		return nil
	}
	if p, ok := s.professionalByID[*id]; ok {
		return &p.Name
	}
	return nil
}

// GetTimelineData assembles every event source, applies filter, sorts
// ascending by date, detects correlations, and aggregates counts and
// professional summaries (spec §4.I).
func GetTimelineData(snap Snapshot, filter Filter) (Data, error) {
	dateFrom, dateTo, err := resolveDateBounds(snap, filter)
	if err != nil {
		return Data{}, err
	}

	var events []Event
	events = append(events, fetchMedicationStarts(snap, dateFrom, dateTo)...)
	events = append(events, fetchMedicationStops(snap, dateFrom, dateTo)...)
	events = append(events, fetchDoseChanges(snap, dateFrom, dateTo)...)
	events = append(events, fetchLabEvents(snap, dateFrom, dateTo)...)
	events = append(events, fetchSymptomEvents(snap, dateFrom, dateTo)...)
	events = append(events, fetchProcedureEvents(snap, dateFrom, dateTo)...)
	events = append(events, fetchAppointmentEvents(snap, dateFrom, dateTo)...)
	events = append(events, fetchDocumentEvents(snap, dateFrom, dateTo)...)
	events = append(events, fetchDiagnosisEvents(snap, dateFrom, dateTo)...)

	if len(filter.EventTypes) > 0 {
		allowed := make(map[EventType]bool, len(filter.EventTypes))
		for _, t := range filter.EventTypes {
			allowed[t] = true
		}
		events = filterEvents(events, func(e Event) bool { return allowed[e.EventType] })
	}
	if filter.ProfessionalID != nil {
		want := *filter.ProfessionalID
		events = filterEvents(events, func(e Event) bool {
			return e.ProfessionalID != nil && *e.ProfessionalID == want
		})
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })

	correlations := detectCorrelations(events)
	correlations = append(correlations, explicitCorrelations(snap)...)
	correlations = dedupCorrelations(correlations)

	var dateRange DateRange
	if len(events) > 0 {
		earliest, latest := events[0].Date, events[len(events)-1].Date
		dateRange = DateRange{Earliest: &earliest, Latest: &latest}
	}

	return Data{
		Events:    events,
		Correlations: correlations,
		DateRange:   dateRange,
		EventCounts:  computeEventCounts(snap),
		Professionals: professionalsWithCounts(snap),
	}, nil
}

func filterEvents(events []Event, keep func(Event) bool) []Event {
	out := events[:0]
	for _, e := range events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// resolveDateBounds applies the since_appointment_id special filter: the
// lower bound becomes (appointment.date - 30 days) for pre-visit context,
// overriding any explicit DateFrom.
func resolveDateBounds(snap Snapshot, filter Filter) (*time.Time, *time.Time, error) {
	if filter.SinceAppointmentID == nil {
		return filter.DateFrom, filter.DateTo, nil
	}
	appt, ok := snap.appointmentByID[*filter.SinceAppointmentID]
	if !ok {
		return nil, nil, errs.New(errs.KindInvalidArgument, "appointment not found: "+filter.SinceAppointmentID.String())
	}
	from := appt.Date.AddDate(0, 0, -sinceAppointmentContextDays)
	return &from, filter.DateTo, nil
}

func inBounds(date time.Time, from, to *time.Time) bool {
	if from != nil && date.Before(*from) {
		return false
	}
	if to != nil && date.After(*to) {
		return false
	}
	return true
}

func fetchMedicationStarts(snap Snapshot, from, to *time.Time) []Event {
	var out []Event
	for _, m := range snap.Medications {
		if m.StartDate == nil || !inBounds(*m.StartDate, from, to) {
			continue
		}
		dose := m.Dose
		out = append(out, Event{
			ID:        m.ID.String(),
			EventType:     EventMedicationStart,
			Date:       *m.StartDate,
			Title:       fmt.Sprintf("Started %s", m.GenericName),
			Subtitle:     &dose,
			ProfessionalID:  m.PrescriberID,
			ProfessionalName: snap.professionalName(m.PrescriberID),
			DocumentID:    &m.DocumentID,
			Metadata: Metadata{
				Kind: EventMedicationStart,
				Medication: &MedicationMeta{
					GenericName: m.GenericName,
					BrandName:  m.BrandName,
					Dose:    m.Dose,
					Frequency:  m.Frequency,
					Status:   string(m.Status),
					Reason:   m.ReasonStart,
				},
			},
		})
	}
	return out
}

func fetchMedicationStops(snap Snapshot, from, to *time.Time) []Event {
	var out []Event
	for _, m := range snap.Medications {
		if m.Status != types.MedStopped || m.EndDate == nil || !inBounds(*m.EndDate, from, to) {
			continue
		}
		out = append(out, Event{
			ID:        m.ID.String() + "-stop",
			EventType:     EventMedicationStop,
			Date:       *m.EndDate,
			Title:       fmt.Sprintf("Stopped %s", m.GenericName),
			Subtitle:     m.ReasonStop,
			ProfessionalID:  m.PrescriberID,
			ProfessionalName: snap.professionalName(m.PrescriberID),
			DocumentID:    &m.DocumentID,
			Metadata: Metadata{
				Kind: EventMedicationStop,
				Medication: &MedicationMeta{
					GenericName: m.GenericName,
					BrandName:  m.BrandName,
					Dose:    m.Dose,
					Frequency:  m.Frequency,
					Status:   string(m.Status),
					Reason:   m.ReasonStop,
				},
			},
		})
	}
	return out
}

func fetchDoseChanges(snap Snapshot, from, to *time.Time) []Event {
	var out []Event
	for _, dc := range snap.DoseChanges {
		if !inBounds(dc.ChangeDate, from, to) {
			continue
		}
		generic := snap.medicationGeneric[dc.MedicationID]
		newDose := dc.NewDose
		out = append(out, Event{
			ID:     dc.ID.String(),
			EventType: EventMedicationDoseChange,
			Date:    dc.ChangeDate,
			Title:   fmt.Sprintf("%s dose changed", generic),
			Subtitle:  &newDose,
			DocumentID: &dc.DocumentID,
			Metadata: Metadata{
				Kind: EventMedicationDoseChange,
				DoseChange: &DoseChangeMeta{
					GenericName: generic,
					OldDose:   dc.PreviousDose,
					NewDose:   dc.NewDose,
					Reason:   dc.Reason,
				},
			},
		})
	}
	return out
}

func severityFromLabFlag(flag types.AbnormalFlag) Severity {
	switch flag {
	case types.FlagNormal:
		return SeverityNormal
	case types.FlagLow:
		return SeverityLow
	case types.FlagHigh:
		return SeverityHigh
	case types.FlagCriticalLow, types.FlagCriticalHigh:
		return SeverityCritical
	default:
		return SeverityNormal
	}
}

func fetchLabEvents(snap Snapshot, from, to *time.Time) []Event {
	var out []Event
	for _, l := range snap.LabResults {
		if !inBounds(l.CollectionDate, from, to) {
			continue
		}
		subtitle := labSubtitle(l)
		severity := severityFromLabFlag(l.AbnormalFlag)
		out = append(out, Event{
			ID:        l.ID.String(),
			EventType:     EventLabResult,
			Date:       l.CollectionDate,
			Title:       l.TestName,
			Subtitle:     subtitle,
			ProfessionalID:  l.OrderingPhysicianID,
			ProfessionalName: snap.professionalName(l.OrderingPhysicianID),
			DocumentID:    &l.DocumentID,
			Severity:     &severity,
			Metadata: Metadata{
				Kind: EventLabResult,
				Lab: &LabMeta{
					TestName:   l.TestName,
					Value:     l.Value,
					ValueText:   l.ValueText,
					Unit:     l.Unit,
					ReferenceLow: l.ReferenceRangeLow,
					ReferenceHigh: l.ReferenceRangeHigh,
					AbnormalFlag: string(l.AbnormalFlag),
				},
			},
		})
	}
	return out
}

func labSubtitle(l types.LabResult) *string {
	switch {
	case l.Value != nil && l.Unit != nil:
		s := fmt.Sprintf("%v %s", *l.Value, *l.Unit)
		return &s
	case l.Value != nil:
		s := fmt.Sprintf("%v", *l.Value)
		return &s
	case l.ValueText != nil:
		return l.ValueText
	default:
		return nil
	}
}

func severityFromSymptom(sev int) Severity {
	switch sev {
	case 1, 2:
		return SeverityLow
	case 3:
		return SeverityModerate
	case 4:
		return SeverityHigh
	case 5:
		return SeverityCritical
	default:
		return SeverityNormal
	}
}

func fetchSymptomEvents(snap Snapshot, from, to *time.Time) []Event {
	var out []Event
	for _, s := range snap.Symptoms {
		if !inBounds(s.OnsetDate, from, to) {
			continue
		}
		category := s.Category
		severity := severityFromSymptom(s.Severity)
		out = append(out, Event{
			ID:    s.ID.String(),
			EventType: EventSymptom,
			Date:   s.OnsetDate,
			Title:   s.Description,
			Subtitle: &category,
			Severity: &severity,
			Metadata: Metadata{
				Kind: EventSymptom,
				Symptom: &SymptomMeta{
					Category:   s.Category,
					Specific:   s.Description,
					Severity:   s.Severity,
					BodyRegion:  s.BodyRegion,
					StillActive: s.StillActive,
				},
			},
		})
	}
	return out
}

func fetchProcedureEvents(snap Snapshot, from, to *time.Time) []Event {
	var out []Event
	for _, p := range snap.Procedures {
		if p.Date == nil || !inBounds(*p.Date, from, to) {
			continue
		}
		out = append(out, Event{
			ID:        p.ID.String(),
			EventType:     EventProcedure,
			Date:       *p.Date,
			Title:       p.Name,
			ProfessionalID:  p.ProfessionalID,
			ProfessionalName: snap.professionalName(p.ProfessionalID),
			DocumentID:    &p.DocumentID,
			Metadata:     Metadata{Kind: EventProcedure, Procedure: &ProcedureMeta{Name: p.Name}},
		})
	}
	return out
}

func fetchAppointmentEvents(snap Snapshot, from, to *time.Time) []Event {
	var out []Event
	for _, a := range snap.Appointments {
		if !inBounds(a.Date, from, to) {
			continue
		}
		name := "unknown professional"
		var specialty *string
		if p, ok := snap.professionalByID[a.ProfessionalID]; ok {
			name = p.Name
			specialty = p.Specialty
		}
		verb := "Upcoming"
		if a.Type == types.AppointmentCompleted {
			verb = "Visit"
		}
		professionalID := a.ProfessionalID
		out = append(out, Event{
			ID:        a.ID.String(),
			EventType:     EventAppointment,
			Date:       a.Date,
			Title:       fmt.Sprintf("%s with %s", verb, name),
			Subtitle:     specialty,
			ProfessionalID:  &professionalID,
			ProfessionalName: &name,
			Metadata: Metadata{
				Kind: EventAppointment,
				Appointment: &AppointmentMeta{
					AppointmentType:    string(a.Type),
					ProfessionalSpecialty: specialty,
				},
			},
		})
	}
	return out
}

func fetchDocumentEvents(snap Snapshot, from, to *time.Time) []Event {
	var out []Event
	for _, d := range snap.Documents {
		effective := d.IngestionTimestamp
		if d.DocumentDate != nil {
			effective = *d.DocumentDate
		}
		if !inBounds(effective, from, to) {
			continue
		}
		subtitle := replaceUnderscores(string(d.Type))
		docID := d.ID
		out = append(out, Event{
			ID:        d.ID.String(),
			EventType:     EventDocument,
			Date:       effective,
			Title:       d.Title,
			Subtitle:     &subtitle,
			ProfessionalID:  d.AuthoringProfessional,
			ProfessionalName: snap.professionalName(d.AuthoringProfessional),
			DocumentID:    &docID,
			Metadata: Metadata{
				Kind: EventDocument,
				Document: &DocumentMeta{
					DocumentType: string(d.Type),
					Verified:   d.Verified,
				},
			},
		})
	}
	return out
}

func replaceUnderscores(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r == '_' {
			out[i] = ' '
		}
	}
	return string(out)
}

func fetchDiagnosisEvents(snap Snapshot, from, to *time.Time) []Event {
	var out []Event
	for _, d := range snap.Diagnoses {
		if d.DiagnosedDate == nil || !inBounds(*d.DiagnosedDate, from, to) {
			continue
		}
		out = append(out, Event{
			ID:     d.ID.String(),
			EventType: EventDiagnosis,
			Date:    *d.DiagnosedDate,
			Title:   d.Name,
			DocumentID: &d.DocumentID,
			Metadata: Metadata{
				Kind: EventDiagnosis,
				Diagnosis: &DiagnosisMeta{
					Name:  d.Name,
					Status: string(d.Status),
				},
			},
		})
	}
	return out
}

// truncateDate discards the time-of-day component so day-based window
// comparisons match the source system's date-only (YYYY-MM-DD) semantics.
func truncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// detectCorrelations flags symptoms that appeared within the 14-day
// window after a medication start or dose change (spec §4.I).
func detectCorrelations(events []Event) []Correlation {
	var symptoms, medEvents []Event
	for _, e := range events {
		switch e.EventType {
		case EventSymptom:
			symptoms = append(symptoms, e)
		case EventMedicationStart, EventMedicationStop, EventMedicationDoseChange:
			medEvents = append(medEvents, e)
		}
	}

	var out []Correlation
	for _, symptom := range symptoms {
		symptomDate := truncateDate(symptom.Date)
		for _, med := range medEvents {
			var corrType CorrelationType
			switch med.EventType {
			case EventMedicationStart:
				corrType = CorrelationSymptomAfterMedicationStart
			case EventMedicationDoseChange:
				corrType = CorrelationSymptomAfterMedicationChange
			default:
				continue
			}
			medDate := truncateDate(med.Date)
			daysDiff := int(symptomDate.Sub(medDate).Hours() / 24)
			if daysDiff < 0 || daysDiff > correlationWindowDays {
				continue
			}
			out = append(out, Correlation{
				SourceID:  symptom.ID,
				TargetID:  med.ID,
				Type:    corrType,
				Description: fmt.Sprintf("%s appeared %d day(s) after %s", symptom.Title, daysDiff, med.Title),
			})
		}
	}
	return out
}

func explicitCorrelations(snap Snapshot) []Correlation {
	var out []Correlation
	for _, s := range snap.Symptoms {
		if s.RelatedMedicationID == nil {
			continue
		}
		generic, ok := snap.medicationGeneric[*s.RelatedMedicationID]
		if !ok {
			continue
		}
		out = append(out, Correlation{
			SourceID:  s.ID.String(),
			TargetID:  s.RelatedMedicationID.String(),
			Type:    CorrelationExplicitLink,
			Description: fmt.Sprintf("%s linked to %s", s.Description, generic),
		})
	}
	return out
}

func dedupCorrelations(correlations []Correlation) []Correlation {
	sort.SliceStable(correlations, func(i, j int) bool {
		if correlations[i].SourceID != correlations[j].SourceID {
			return correlations[i].SourceID < correlations[j].SourceID
		}
		return correlations[i].TargetID < correlations[j].TargetID
	})
	out := correlations[:0]
	for i, c := range correlations {
		if i > 0 && c.SourceID == out[len(out)-1].SourceID && c.TargetID == out[len(out)-1].TargetID {
			continue
		}
		out = append(out, c)
	}
	return out
}

func computeEventCounts(snap Snapshot) EventCounts {
	medications := 0
	for _, m := range snap.Medications {
		if m.StartDate != nil {
			medications++
		}
	}
	medications += len(snap.DoseChanges)

	procedures := 0
	for _, p := range snap.Procedures {
		if p.Date != nil {
			procedures++
		}
	}

	diagnoses := 0
	for _, d := range snap.Diagnoses {
		if d.DiagnosedDate != nil {
			diagnoses++
		}
	}

	return EventCounts{
		Medications: medications,
		LabResults: len(snap.LabResults),
		Symptoms:  len(snap.Symptoms),
		Procedures: procedures,
		Appointments: len(snap.Appointments),
		Documents:  len(snap.Documents),
		Diagnoses:  diagnoses,
	}
}

// professionalsWithCounts aggregates event counts per professional across
// every family that carries a professional reference, for the timeline's
// filter dropdown. Only professionals with at least one event are
// returned, ordered by descending count.
func professionalsWithCounts(snap Snapshot) []ProfessionalSummary {
	counts := make(map[types.ID]int, len(snap.Professionals))
	for _, m := range snap.Medications {
		if m.PrescriberID != nil {
			counts[*m.PrescriberID]++
		}
	}
	for _, l := range snap.LabResults {
		if l.OrderingPhysicianID != nil {
			counts[*l.OrderingPhysicianID]++
		}
	}
	for _, p := range snap.Procedures {
		if p.ProfessionalID != nil {
			counts[*p.ProfessionalID]++
		}
	}
	for _, a := range snap.Appointments {
		counts[a.ProfessionalID]++
	}
	for _, d := range snap.Documents {
		if d.AuthoringProfessional != nil {
			counts[*d.AuthoringProfessional]++
		}
	}

	var out []ProfessionalSummary
	for _, p := range snap.Professionals {
		n := counts[p.ID]
		if n == 0 {
			continue
		}
		out = append(out, ProfessionalSummary{ID: p.ID, Name: p.Name, Specialty: p.Specialty, EventCount: n})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EventCount > out[j].EventCount })
	return out
}
