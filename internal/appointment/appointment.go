// Package appointment implements the appointment prep builder (spec
// §4.J): deterministic, template-based patient copy and professional copy
// assembled from the structured record, with no model invocation.
package appointment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/safety"
	"github.com/ktiyab/coheara/internal/types"
)

// distantPastSentinel stands in for "since" when a professional has no
// prior completed appointment to anchor the window on.
var distantPastSentinel = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

const recentDocumentsLimit = 20

// ActiveMedication is a currently-active medication with its prescriber
// name resolved.
type ActiveMedication struct {
	Name      string
	Dose      string
	Frequency    string
	PrescriberName string
	StartDate    *time.Time
}

// MedicationChangeKind narrows whether a MedicationChange started a
// medication or changed its dose.
type MedicationChangeKind string

const (
	ChangeStarted    MedicationChangeKind = "started"
	ChangeDoseChanged MedicationChangeKind = "dose_changed"
)

// MedicationChangeRow is one medication change (start or dose change)
// observed since the anchor date.
type MedicationChangeRow struct {
	MedicationName string
	OldDose     *string
	NewDose     string
	ChangeDate   time.Time
	ChangeType   MedicationChangeKind
}

// RecentLab is a lab result observed since the anchor date, pre-formatted
// the way the professional and patient copies display it.
type RecentLab struct {
	TestName    string
	Value      string
	Unit      string
	RangeLow    string
	RangeHigh    string
	AbnormalFlag  types.AbnormalFlag
	CollectionDate time.Time
}

// RecentSymptomRow is a symptom observed since the anchor date.
type RecentSymptomRow struct {
	Specific  string
	Category  string
	Severity  int
	OnsetDate time.Time
	StillActive bool
	Duration  *string
}

// SourceDocumentRow is a document ingested since the anchor date.
type SourceDocumentRow struct {
	DocType   types.DocumentType
	Date     time.Time
	Professional string
}

// Store is the persistence seam appointment prep assembles against and
// writes back through. internal/store implements it over the encrypted
// local database.
type Store interface {
	Professional(ctx context.Context, id types.ID) (*types.Professional, error)
	LastCompletedAppointmentDate(ctx context.Context, professionalID types.ID) (*time.Time, error)
	ActiveMedications(ctx context.Context) ([]ActiveMedication, error)
	MedicationsStartedSince(ctx context.Context, since time.Time) ([]MedicationChangeRow, error)
	DoseChangesSince(ctx context.Context, since time.Time) ([]MedicationChangeRow, error)
	LabResultsSince(ctx context.Context, since time.Time) ([]RecentLab, error)
	SymptomsSince(ctx context.Context, since time.Time) ([]RecentSymptomRow, error)
	SourceDocumentsSince(ctx context.Context, since time.Time, limit int) ([]SourceDocumentRow, error)
	MarkPrepGenerated(ctx context.Context, appointmentID types.ID) error
	UpdateLastSeenIfLater(ctx context.Context, professionalID types.ID, date time.Time) error
}

// PrepData is the fully assembled, pre-query input to both copy builders.
type PrepData struct {
	ProfessionalName    string
	ProfessionalSpecialty string
	AppointmentDate    time.Time
	SinceDate        time.Time
	Medications       []ActiveMedication
	MedChanges        []MedicationChangeRow
	Labs           []RecentLab
	Symptoms         []RecentSymptomRow
	SourceDocs        []SourceDocumentRow
}

// PrepItem is a priority callout in the patient copy, sourced from a
// critical lab result.
type PrepItem struct {
	Text   string
	Source  string
	Priority string
}

// PrepQuestion is one rule-generated, relevance-scored question in the
// patient copy.
type PrepQuestion struct {
	Question    string
	Context     string
	RelevanceScore float64
}

// SymptomMention is a severity-labeled symptom line in the patient copy.
type SymptomMention struct {
	Description string
	Severity  int
	OnsetDate  time.Time
	StillActive bool
}

// MedicationChange is a plain-language description of a medication change
// in the patient copy.
type MedicationChange struct {
	Description string
	ChangeType MedicationChangeKind
	Date    time.Time
}

// PatientCopy is the patient-facing artifact: what to ask, what to
// mention, what changed.
type PatientCopy struct {
	Title       string
	PriorityItems   []PrepItem
	Questions     []PrepQuestion
	SymptomsToMention []SymptomMention
	MedicationChanges []MedicationChange
	Reminder     string
}

// ProfessionalHeader is the banner block of the professional copy.
type ProfessionalHeader struct {
	Title    string
	Date     time.Time
	Professional string
	Disclaimer  string
}

// MedicationSummary is one current medication line in the professional
// copy, flagged if it started or changed dose since the last visit.
type MedicationSummary struct {
	Name        string
	Dose        string
	Frequency     string
	Prescriber     string
	StartDate      *time.Time
	IsRecentChange   bool
}

// ChangeSummary is one medication-change line in the professional copy.
type ChangeSummary struct {
	Description string
	Date    time.Time
	ChangeType MedicationChangeKind
}

// LabSummary is one lab-result line in the professional copy, with its
// reference range rendered as a single string.
type LabSummary struct {
	TestName    string
	Value      string
	Unit       string
	ReferenceRange string
	AbnormalFlag  types.AbnormalFlag
	Date      time.Time
}

// SymptomSummary is one patient-reported symptom line in the professional
// copy.
type SymptomSummary struct {
	Description string
	Severity  int
	OnsetDate  time.Time
	Duration  *string
}

// DocumentReference is one source-document line in the professional copy.
type DocumentReference struct {
	DocumentType types.DocumentType
	Date     time.Time
	Professional string
}

// ProfessionalCopy is the clinician-facing artifact: current state,
// what's changed, what the patient reports.
type ProfessionalCopy struct {
	Header          ProfessionalHeader
	CurrentMedications    []MedicationSummary
	ChangesSinceLastVisit  []ChangeSummary
	LabResults        []LabSummary
	PatientReportedSymptoms []SymptomSummary
	SourceDocuments      []DocumentReference
	Disclaimer        string
}

// Prep is the complete appointment prep result: both artifacts plus the
// identifying metadata the caller needs to persist or render it.
type Prep struct {
	AppointmentID    types.ID
	ProfessionalName   string
	ProfessionalSpecialty string
	AppointmentDate    time.Time
	PatientCopy      PatientCopy
	ProfessionalCopy   ProfessionalCopy
}

// PrepareAppointmentPrep assembles both copies for the given professional
// and appointment, marks the appointment's pre-summary flag, and bumps the
// professional's last_seen_date if the new date is later (spec §4.J).
//
// Every string either copy emits is verified against the safety filter
// once at build time, even though the template vocabulary is closed: a
// future template change that introduces an unsafe phrase must fail here,
// not silently reach the patient.
func PrepareAppointmentPrep(ctx context.Context, store Store, professionalID, appointmentID types.ID, appointmentDate time.Time) (*Prep, error) {
	data, err := assemblePrepData(ctx, store, professionalID, appointmentDate)
	if err != nil {
		return nil, err
	}

	patientCopy := buildPatientCopy(data)
	professionalCopy := buildProfessionalCopy(data)

	if err := verifyCopiesSafe(patientCopy, professionalCopy); err != nil {
		return nil, err
	}

	if err := store.MarkPrepGenerated(ctx, appointmentID); err != nil {
		return nil, err
	}
	if err := store.UpdateLastSeenIfLater(ctx, professionalID, appointmentDate); err != nil {
		return nil, err
	}

	return &Prep{
		AppointmentID:    appointmentID,
		ProfessionalName:   data.ProfessionalName,
		ProfessionalSpecialty: data.ProfessionalSpecialty,
		AppointmentDate:    appointmentDate,
		PatientCopy:      patientCopy,
		ProfessionalCopy:   professionalCopy,
	}, nil
}

func assemblePrepData(ctx context.Context, store Store, professionalID types.ID, appointmentDate time.Time) (PrepData, error) {
	professional, err := store.Professional(ctx, professionalID)
	if err != nil {
		return PrepData{}, err
	}
	if professional == nil {
		return PrepData{}, errs.New(errs.KindInvalidArgument, "professional not found: "+professionalID.String())
	}

	since := distantPastSentinel
	lastVisit, err := store.LastCompletedAppointmentDate(ctx, professionalID)
	if err != nil {
		return PrepData{}, err
	}
	if lastVisit != nil {
		since = *lastVisit
	}

	medications, err := store.ActiveMedications(ctx)
	if err != nil {
		return PrepData{}, err
	}

	started, err := store.MedicationsStartedSince(ctx, since)
	if err != nil {
		return PrepData{}, err
	}
	doseChanges, err := store.DoseChangesSince(ctx, since)
	if err != nil {
		return PrepData{}, err
	}
	medChanges := append(append([]MedicationChangeRow{}, started...), doseChanges...)

	labs, err := store.LabResultsSince(ctx, since)
	if err != nil {
		return PrepData{}, err
	}
	symptoms, err := store.SymptomsSince(ctx, since)
	if err != nil {
		return PrepData{}, err
	}
	sourceDocs, err := store.SourceDocumentsSince(ctx, since, recentDocumentsLimit)
	if err != nil {
		return PrepData{}, err
	}

	specialty := ""
	if professional.Specialty != nil {
		specialty = *professional.Specialty
	}

	return PrepData{
		ProfessionalName:    professional.Name,
		ProfessionalSpecialty: specialty,
		AppointmentDate:    appointmentDate,
		SinceDate:        since,
		Medications:       medications,
		MedChanges:        medChanges,
		Labs:           labs,
		Symptoms:         symptoms,
		SourceDocs:        sourceDocs,
	}, nil
}

// ─── Professional copy ──────────────────────────────────────────────────

func buildProfessionalCopy(data PrepData) ProfessionalCopy {
	specialty := data.ProfessionalSpecialty
	if specialty == "" {
		specialty = "Specialist"
	}

	header := ProfessionalHeader{
		Title:    "COHEARA PATIENT SUMMARY",
		Date:     data.AppointmentDate,
		Professional: fmt.Sprintf("For: %s (%s)", data.ProfessionalName, specialty),
		Disclaimer:  "AI-generated from patient-loaded documents. Not clinical advice.",
	}

	currentMedications := make([]MedicationSummary, 0, len(data.Medications))
	for _, m := range data.Medications {
		recent := (m.StartDate != nil && !m.StartDate.Before(data.SinceDate)) || hasMedicationChange(data.MedChanges, m.Name)
		currentMedications = append(currentMedications, MedicationSummary{
			Name:      m.Name,
			Dose:      m.Dose,
			Frequency:   m.Frequency,
			Prescriber:   m.PrescriberName,
			StartDate:   m.StartDate,
			IsRecentChange: recent,
		})
	}

	changesSinceLastVisit := make([]ChangeSummary, 0, len(data.MedChanges))
	for _, c := range data.MedChanges {
		changesSinceLastVisit = append(changesSinceLastVisit, ChangeSummary{
			Description: changeDescription(c),
			Date:    c.ChangeDate,
			ChangeType: c.ChangeType,
		})
	}

	labResults := make([]LabSummary, 0, len(data.Labs))
	for _, l := range data.Labs {
		rangeStr := "N/A"
		if l.RangeLow != "" || l.RangeHigh != "" {
			rangeStr = fmt.Sprintf("%s-%s", l.RangeLow, l.RangeHigh)
		}
		labResults = append(labResults, LabSummary{
			TestName:    l.TestName,
			Value:      l.Value,
			Unit:       l.Unit,
			ReferenceRange: rangeStr,
			AbnormalFlag:  l.AbnormalFlag,
			Date:      l.CollectionDate,
		})
	}

	patientReportedSymptoms := make([]SymptomSummary, 0, len(data.Symptoms))
	for _, s := range data.Symptoms {
		patientReportedSymptoms = append(patientReportedSymptoms, SymptomSummary{
			Description: fmt.Sprintf("%s — %s%s", s.Specific, s.Category, activeSuffix(s.StillActive)),
			Severity:  s.Severity,
			OnsetDate:  s.OnsetDate,
			Duration:  s.Duration,
		})
	}

	sourceDocuments := make([]DocumentReference, 0, len(data.SourceDocs))
	for _, d := range data.SourceDocs {
		sourceDocuments = append(sourceDocuments, DocumentReference{
			DocumentType: d.DocType,
			Date:     d.Date,
			Professional: d.Professional,
		})
	}

	return ProfessionalCopy{
		Header:          header,
		CurrentMedications:    currentMedications,
		ChangesSinceLastVisit:  changesSinceLastVisit,
		LabResults:        labResults,
		PatientReportedSymptoms: patientReportedSymptoms,
		SourceDocuments:      sourceDocuments,
		Disclaimer: "This summary is AI-generated from patient-loaded documents. " +
			"It is not a clinical record and should not replace professional assessment.",
	}
}

func hasMedicationChange(changes []MedicationChangeRow, medicationName string) bool {
	for _, c := range changes {
		if c.MedicationName == medicationName {
			return true
		}
	}
	return false
}

func changeDescription(c MedicationChangeRow) string {
	switch c.ChangeType {
	case ChangeStarted:
		return fmt.Sprintf("New: %s %s (%s)", c.MedicationName, c.NewDose, formatDate(c.ChangeDate))
	case ChangeDoseChanged:
		old := "?"
		if c.OldDose != nil {
			old = *c.OldDose
		}
		return fmt.Sprintf("Changed: %s %s → %s (%s)", c.MedicationName, old, c.NewDose, formatDate(c.ChangeDate))
	default:
		return fmt.Sprintf("%s: %s (%s)", c.ChangeType, c.MedicationName, formatDate(c.ChangeDate))
	}
}

func activeSuffix(stillActive bool) string {
	if stillActive {
		return " (still active)"
	}
	return ""
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// ─── Patient copy ────────────────────────────────────────────────────────

func buildPatientCopy(data PrepData) PatientCopy {
	title := fmt.Sprintf("Questions for %s — %s", data.ProfessionalName, data.AppointmentDate.Format("January 2, 2006"))

	priorityItems := make([]PrepItem, 0)
	for _, l := range data.Labs {
		if l.AbnormalFlag != types.FlagCriticalLow && l.AbnormalFlag != types.FlagCriticalHigh {
			continue
		}
		priorityItems = append(priorityItems, PrepItem{
			Text: fmt.Sprintf("Your %s result (%s %s) needs prompt attention. Please discuss this with your doctor.",
				l.TestName, l.Value, l.Unit),
			Source:  fmt.Sprintf("Lab report from %s", formatDate(l.CollectionDate)),
			Priority: "Critical",
		})
	}

	questions := generateQuestions(data)

	symptomsToMention := make([]SymptomMention, 0, len(data.Symptoms))
	for _, s := range data.Symptoms {
		symptomsToMention = append(symptomsToMention, SymptomMention{
			Description: fmt.Sprintf("%s — %s — since %s%s", s.Specific, severityLabel(s.Severity), formatDate(s.OnsetDate), activeSuffix(s.StillActive)),
			Severity:  s.Severity,
			OnsetDate:  s.OnsetDate,
			StillActive: s.StillActive,
		})
	}

	medicationChanges := make([]MedicationChange, 0, len(data.MedChanges))
	for _, c := range data.MedChanges {
		var desc string
		switch c.ChangeType {
		case ChangeStarted:
			desc = fmt.Sprintf("Started %s %s on %s", c.MedicationName, c.NewDose, formatDate(c.ChangeDate))
		case ChangeDoseChanged:
			old := "?"
			if c.OldDose != nil {
				old = *c.OldDose
			}
			desc = fmt.Sprintf("%s dose changed from %s to %s on %s", c.MedicationName, old, c.NewDose, formatDate(c.ChangeDate))
		default:
			desc = fmt.Sprintf("%s %s on %s", c.MedicationName, c.ChangeType, formatDate(c.ChangeDate))
		}
		medicationChanges = append(medicationChanges, MedicationChange{
			Description: desc,
			ChangeType: c.ChangeType,
			Date:    c.ChangeDate,
		})
	}

	return PatientCopy{
		Title:       title,
		PriorityItems:   priorityItems,
		Questions:     questions,
		SymptomsToMention: symptomsToMention,
		MedicationChanges: medicationChanges,
		Reminder:     "Bring this to your appointment.",
	}
}

func generateQuestions(data PrepData) []PrepQuestion {
	var questions []PrepQuestion

	if len(data.MedChanges) > 0 {
		names := make([]string, 0, len(data.MedChanges))
		for _, c := range data.MedChanges {
			names = append(names, c.MedicationName)
		}
		questions = append(questions, PrepQuestion{
			Question:    fmt.Sprintf("My records show changes to my medications (%s). Are these working as expected?", strings.Join(names, ", ")),
			Context:     "Medication changes since last visit should be reviewed",
			RelevanceScore: 0.95,
		})
	}

	var activeSymptoms []RecentSymptomRow
	for _, s := range data.Symptoms {
		if s.StillActive {
			activeSymptoms = append(activeSymptoms, s)
		}
	}
	if len(activeSymptoms) > 0 {
		descs := make([]string, 0, len(activeSymptoms))
		for _, s := range activeSymptoms {
			descs = append(descs, s.Specific)
		}
		questions = append(questions, PrepQuestion{
			Question:    fmt.Sprintf("I've been experiencing %s — should I be concerned?", strings.Join(descs, " and ")),
			Context:     "Active symptoms the doctor should know about",
			RelevanceScore: 0.9,
		})
	}

	var abnormalLabs []RecentLab
	for _, l := range data.Labs {
		if l.AbnormalFlag != types.FlagNormal {
			abnormalLabs = append(abnormalLabs, l)
		}
	}
	if len(abnormalLabs) > 0 {
		names := make([]string, 0, len(abnormalLabs))
		for _, l := range abnormalLabs {
			names = append(names, l.TestName)
		}
		plural := " was"
		if len(names) > 1 {
			plural = "s were"
		}
		questions = append(questions, PrepQuestion{
			Question:    fmt.Sprintf("My %s result%s flagged as abnormal. What does this mean for me?", strings.Join(names, " and "), plural),
			Context:     "Abnormal lab values warrant discussion",
			RelevanceScore: 0.85,
		})
	}

	prescribers := map[string]bool{}
	for _, m := range data.Medications {
		if m.PrescriberName != "" && m.PrescriberName != "Unknown" {
			prescribers[m.PrescriberName] = true
		}
	}
	if len(prescribers) > 1 {
		questions = append(questions, PrepQuestion{
			Question:    "I'm taking medications from different doctors. Should they know about each other's prescriptions?",
			Context:     "Multiple prescribers increases interaction risk",
			RelevanceScore: 0.8,
		})
	}

	if len(questions) < 5 {
		questions = append(questions, PrepQuestion{
			Question:    "Is there anything from my records that you'd like to discuss or follow up on?",
			Context:     "Open-ended question ensures nothing is missed",
			RelevanceScore: 0.5,
		})
	}

	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].RelevanceScore > questions[j].RelevanceScore
	})
	if len(questions) > 5 {
		questions = questions[:5]
	}
	return questions
}

func severityLabel(severity int) string {
	switch severity {
	case 1:
		return "minimal"
	case 2:
		return "mild"
	case 3:
		return "moderate"
	case 4:
		return "severe"
	case 5:
		return "very severe"
	default:
		return "unknown"
	}
}

// verifyCopiesSafe scans every string either artifact emits and fails
// closed if any violates the safety filter (spec §4.J).
func verifyCopiesSafe(patient PatientCopy, professional ProfessionalCopy) error {
	var texts []string
	texts = append(texts, patient.Title, patient.Reminder)
	for _, p := range patient.PriorityItems {
		texts = append(texts, p.Text, p.Source)
	}
	for _, q := range patient.Questions {
		texts = append(texts, q.Question, q.Context)
	}
	for _, s := range patient.SymptomsToMention {
		texts = append(texts, s.Description)
	}
	for _, m := range patient.MedicationChanges {
		texts = append(texts, m.Description)
	}

	texts = append(texts, professional.Header.Title, professional.Header.Professional, professional.Header.Disclaimer, professional.Disclaimer)
	for _, c := range professional.ChangesSinceLastVisit {
		texts = append(texts, c.Description)
	}
	for _, s := range professional.PatientReportedSymptoms {
		texts = append(texts, s.Description)
	}
	for _, m := range professional.CurrentMedications {
		texts = append(texts, m.Name, m.Dose, m.Frequency, m.Prescriber)
	}
	for _, l := range professional.LabResults {
		texts = append(texts, l.TestName, l.Value, l.Unit, l.ReferenceRange)
	}
	for _, d := range professional.SourceDocuments {
		texts = append(texts, d.Professional)
	}

	for _, text := range texts {
		if violations := safety.Scan(text); len(violations) > 0 {
			return errs.New(errs.KindSafetyViolation, fmt.Sprintf("appointment prep emitted unsafe text: %q (%s)", text, violations[0].Reason))
		}
	}
	return nil
}
