// Package sync implements the desktop/mobile delta sync protocol (spec
// §4.H): six monotonic per-entity-family version counters, a diff against
// a phone's last-seen versions, curated payload assembly for whichever
// families changed, and idempotent ingestion of journal entries the phone
// piggybacks on its sync request.
//
// The package owns no storage; it orchestrates against the Store
// interface, which internal/store implements over the encrypted local
// database.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/ktiyab/coheara/internal/types"
)

const (
	recentLabsLimit     = 10
	recentTimelineLimit   = 30
	appointmentHorizon    = 7 * 24 * time.Hour
	journalCorrelationWindow = 14 * 24 * time.Hour
	trendStableTolerance   = 0.01 // 1% of the prior value
)

// CachedMedication is the curated medication payload shaped for mobile.
type CachedMedication struct {
	ID         types.ID `json:"id"`
	GenericName    string  `json:"generic_name"`
	BrandName     *string  `json:"brand_name,omitempty"`
	Dose        string  `json:"dose"`
	Frequency     string  `json:"frequency"`
	Route       string  `json:"route"`
	Status       string  `json:"status"`
	StartDate     *string  `json:"start_date,omitempty"`
	EndDate      *string  `json:"end_date,omitempty"`
	PrescriberName  *string  `json:"prescriber_name,omitempty"`
	Condition     *string  `json:"condition,omitempty"`
	IsOTC       bool   `json:"is_otc"`
}

// CachedLabResult is the curated lab payload, enriched with an abnormality
// flag and a trend direction computed against the prior same-test result.
type CachedLabResult struct {
	ID         types.ID `json:"id"`
	TestName     string  `json:"test_name"`
	Value       *float64 `json:"value,omitempty"`
	ValueText     *string  `json:"value_text,omitempty"`
	Unit        *string  `json:"unit,omitempty"`
	ReferenceRangeLow *float64 `json:"reference_range_low,omitempty"`
	ReferenceRangeHigh *float64 `json:"reference_range_high,omitempty"`
	AbnormalFlag   string  `json:"abnormal_flag"`
	CollectionDate  string  `json:"collection_date"`
	IsAbnormal    bool   `json:"is_abnormal"`
	// TrendDirection is "up", "down", "stable", or nil when no prior
	// observation of the same test exists to compare against.
	TrendDirection *string `json:"trend_direction,omitempty"`
}

// CachedTimelineEvent is the curated journal-style event payload.
type CachedTimelineEvent struct {
	ID        types.ID `json:"id"`
	EventType   string  `json:"event_type"`
	Category    string  `json:"category"`
	Description  string  `json:"description"`
	Severity    *int   `json:"severity,omitempty"`
	Date      string  `json:"date"`
	StillActive  bool   `json:"still_active"`
}

// CachedAlert is the curated alert payload. Only dismissed alerts are
// sent; active coherence alerts require a server-side acknowledgement
// round trip and are not part of this family (spec §4.H).
type CachedAlert struct {
	ID     types.ID `json:"id"`
	Title   string  `json:"title"`
	Description string  `json:"description"`
	Severity  string  `json:"severity"`
	CreatedAt  string  `json:"created_at"`
	Dismissed bool   `json:"dismissed"`
}

// CachedAppointment is the curated next-appointment payload.
type CachedAppointment struct {
	ID          types.ID `json:"id"`
	ProfessionalName   string  `json:"professional_name"`
	ProfessionalSpecialty *string  `json:"professional_specialty,omitempty"`
	Date        string  `json:"date"`
	AppointmentType    string  `json:"appointment_type"`
	PrepAvailable     bool   `json:"prep_available"`
}

// CachedAllergy summarizes one allergy within a CachedProfile.
type CachedAllergy struct {
	Allergen string `json:"allergen"`
	Severity string `json:"severity"`
	Verified bool  `json:"verified"`
}

// CachedProfile is the curated profile-summary payload.
type CachedProfile struct {
	ProfileName    string     `json:"profile_name"`
	TotalDocuments   int       `json:"total_documents"`
	ExtractionAccuracy float64     `json:"extraction_accuracy"`
	Allergies     []CachedAllergy `json:"allergies"`
}

// MobileJournalEntry is one symptom entry the phone piggybacks on a sync
// request.
type MobileJournalEntry struct {
	ID         types.ID
	Severity     int
	BodyLocation   *string
	FreeText     *string
	ActivityContext *string
	SymptomChip   *string
	CreatedAt    time.Time
}

// JournalCorrelation flags a medication dose change shortly before a
// newly-synced symptom's onset.
type JournalCorrelation struct {
	EntryID     types.ID `json:"entry_id"`
	MedicationName  string  `json:"medication_name"`
	DaysSinceChange int64  `json:"days_since_change"`
	Message     string  `json:"message"`
}

// JournalSyncResult reports which entries were (idempotently) accepted
// and any medication correlations found for newly-inserted ones.
type JournalSyncResult struct {
	SyncedIDs   []types.ID      `json:"synced_ids"`
	Correlations []JournalCorrelation `json:"correlations"`
}

// Request is the phone's sync request: its last-seen versions plus any
// journal entries recorded offline since the last sync.
type Request struct {
	Versions    types.SyncVersions
	JournalEntries []MobileJournalEntry
}

// Response is the assembled sync reply. Every entity-family field is
// omitted (not sent as an empty array) when that family did not appear in
// the diff, so the phone can distinguish "not sent" from "empty after
// refresh" by key presence alone.
type Response struct {
	Medications []CachedMedication   `json:"medications,omitempty"`
	Labs     []CachedLabResult   `json:"labs,omitempty"`
	Timeline   []CachedTimelineEvent `json:"timeline,omitempty"`
	Alerts    []CachedAlert     `json:"alerts,omitempty"`
	Appointment *CachedAppointment   `json:"appointment,omitempty"`
	Profile   *CachedProfile     `json:"profile,omitempty"`
	Versions   types.SyncVersions   `json:"versions"`
	SyncedAt   time.Time       `json:"synced_at"`
	JournalSync *JournalSyncResult   `json:"journal_sync,omitempty"`
}

// MedicationRow is a medication as read for sync, with its prescriber
// name already resolved (the storage layer's join).
type MedicationRow struct {
	types.Medication
	PrescriberName *string
}

// LabResultRow is a lab result as read for sync, with the value of the
// prior observation of the same test (if any) for trend computation.
type LabResultRow struct {
	types.LabResult
	PriorValue *float64
}

// AppointmentRow is an appointment as read for sync, with its
// professional's name and specialty already resolved.
type AppointmentRow struct {
	types.Appointment
	ProfessionalName   string
	ProfessionalSpecialty *string
}

// DoseChangeRow is a dose change as read for journal correlation, with
// its medication's generic name already resolved.
type DoseChangeRow struct {
	MedicationName string
	ChangeDate   time.Time
}

// Store is the persistence surface the sync engine orchestrates against.
// internal/store implements it over the encrypted local database; tests
// in this package implement it over plain in-memory fixtures.
type Store interface {
	SyncVersions(ctx context.Context) (types.SyncVersions, error)
	MedicationsForSync(ctx context.Context) ([]MedicationRow, error)
	RecentLabResults(ctx context.Context, limit int) ([]LabResultRow, error)
	RecentTimelineSymptoms(ctx context.Context, limit int) ([]types.Symptom, error)
	DismissedAlerts(ctx context.Context) ([]types.Alert, error)
	NextUpcomingAppointment(ctx context.Context, withinHorizon time.Duration) (*AppointmentRow, error)
	ProfileSummary(ctx context.Context, profileName string) (CachedProfile, error)

	// InsertJournalSymptomIfAbsent performs an INSERT OR IGNORE by the
	// entry's id and reports whether a row was actually inserted.
	InsertJournalSymptomIfAbsent(ctx context.Context, entry MobileJournalEntry) (bool, error)
	// DoseChangesWithinWindow returns dose changes whose change date
	// falls within [onset-window, onset].
	DoseChangesWithinWindow(ctx context.Context, onset time.Time, window time.Duration) ([]DoseChangeRow, error)
}

// dateOnly formats t as the ISO date the phone expects (original Rust
// cached types serialize dates, not timestamps, for most fields).
func dateOnly(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func dateOnlyPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := dateOnly(*t)
	return &s
}

// GetVersions returns the current six-tuple of sync version counters.
func GetVersions(ctx context.Context, store Store) (types.SyncVersions, error) {
	return store.SyncVersions(ctx)
}

// Diff returns the subset of the six entity families for which phone's
// counter is strictly less than desktop's, in the canonical family order.
func Diff(phone, desktop types.SyncVersions) []string {
	var changed []string
	if phone.Medications < desktop.Medications {
		changed = append(changed, "medications")
	}
	if phone.Labs < desktop.Labs {
		changed = append(changed, "labs")
	}
	if phone.Timeline < desktop.Timeline {
		changed = append(changed, "timeline")
	}
	if phone.Alerts < desktop.Alerts {
		changed = append(changed, "alerts")
	}
	if phone.Appointments < desktop.Appointments {
		changed = append(changed, "appointments")
	}
	if phone.Profile < desktop.Profile {
		changed = append(changed, "profile")
	}
	return changed
}

// AssembleMedications curates active and recently-stopped medications
// with prescriber names resolved.
func AssembleMedications(ctx context.Context, store Store) ([]CachedMedication, error) {
	rows, err := store.MedicationsForSync(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CachedMedication, 0, len(rows))
	for _, r := range rows {
		out = append(out, CachedMedication{
			ID:         r.ID,
			GenericName:    r.GenericName,
			BrandName:     r.BrandName,
			Dose:        r.Dose,
			Frequency:     r.Frequency,
			Route:       r.Route,
			Status:       string(r.Status),
			StartDate:     dateOnlyPtr(r.StartDate),
			EndDate:      dateOnlyPtr(r.EndDate),
			PrescriberName:  r.PrescriberName,
			Condition:     r.Condition,
			IsOTC:       r.IsOTC,
		})
	}
	return out, nil
}

// AssembleLabs curates the most recent lab results, each flagged
// abnormal or not and annotated with a trend direction against the prior
// observation of the same test.
func AssembleLabs(ctx context.Context, store Store) ([]CachedLabResult, error) {
	rows, err := store.RecentLabResults(ctx, recentLabsLimit)
	if err != nil {
		return nil, err
	}
	out := make([]CachedLabResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, CachedLabResult{
			ID:         r.ID,
			TestName:     r.TestName,
			Value:       r.Value,
			ValueText:     r.ValueText,
			Unit:        r.Unit,
			ReferenceRangeLow: r.ReferenceRangeLow,
			ReferenceRangeHigh: r.ReferenceRangeHigh,
			AbnormalFlag:   string(r.AbnormalFlag),
			CollectionDate:  dateOnly(r.CollectionDate),
			IsAbnormal:    r.AbnormalFlag != types.FlagNormal,
			TrendDirection:  trendDirection(r.Value, r.PriorValue),
		})
	}
	return out, nil
}

func trendDirection(current, prior *float64) *string {
	if current == nil || prior == nil {
		return nil
	}
	diff := *current - *prior
	if diff < 0 {
		diff = -diff
	}
	threshold := *prior
	if threshold < 0 {
		threshold = -threshold
	}
	threshold *= trendStableTolerance

	var dir string
	switch {
	case diff <= threshold:
		dir = "stable"
	case *current > *prior:
		dir = "up"
	default:
		dir = "down"
	}
	return &dir
}

// AssembleTimeline curates the most recent journal-style symptom events.
func AssembleTimeline(ctx context.Context, store Store) ([]CachedTimelineEvent, error) {
	symptoms, err := store.RecentTimelineSymptoms(ctx, recentTimelineLimit)
	if err != nil {
		return nil, err
	}
	out := make([]CachedTimelineEvent, 0, len(symptoms))
	for _, s := range symptoms {
		sev := s.Severity
		out = append(out, CachedTimelineEvent{
			ID:         s.ID,
			EventType:     "journal",
			Category:     s.Category,
			Description:    s.Description,
			Severity:     &sev,
			Date:       dateOnly(s.OnsetDate),
			StillActive:   s.StillActive,
		})
	}
	return out, nil
}

// AssembleAlerts curates dismissed alerts. Active (non-dismissed)
// coherence alerts are not part of this family (spec §4.H): they are
// skipped even when the store returns them.
func AssembleAlerts(ctx context.Context, store Store) ([]CachedAlert, error) {
	alerts, err := store.DismissedAlerts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CachedAlert, 0, len(alerts))
	for _, a := range alerts {
		if !a.Dismissed {
			continue
		}
		createdAt := a.DetectedAt
		if a.Dismissal != nil {
			createdAt = a.Dismissal.DismissedAt
		}
		var reason string
		if a.Dismissal != nil && a.Dismissal.Reason != nil {
			reason = *a.Dismissal.Reason
		} else {
			reason = a.PatientMessage
		}
		out = append(out, CachedAlert{
			ID:     a.ID,
			Title:   titleForAlertType(a.Type),
			Description: reason,
			Severity:  severityLabelForAlertType(a.Type),
			CreatedAt: createdAt.UTC().Format(time.RFC3339),
			Dismissed: true,
		})
	}
	return out, nil
}

func titleForAlertType(t types.AlertType) string {
	switch t {
	case types.AlertConflict:
		return "Medication Conflict"
	case types.AlertDuplicate:
		return "Duplicate Entry"
	case types.AlertGap:
		return "Coverage Gap"
	case types.AlertDrift:
		return "Drift Alert"
	case types.AlertTemporal:
		return "Temporal Correlation"
	case types.AlertAllergy:
		return "Allergy Alert"
	case types.AlertDose:
		return "Dose Alert"
	case types.AlertCritical:
		return "Critical Alert"
	default:
		return string(t)
	}
}

func severityLabelForAlertType(t types.AlertType) string {
	switch t {
	case types.AlertCritical:
		return "critical"
	case types.AlertConflict:
		return "warning"
	default:
		return "info"
	}
}

// AssembleAppointment curates the next upcoming appointment within the
// sync horizon, or nil if there is none.
func AssembleAppointment(ctx context.Context, store Store) (*CachedAppointment, error) {
	row, err := store.NextUpcomingAppointment(ctx, appointmentHorizon)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return &CachedAppointment{
		ID:          row.ID,
		ProfessionalName:   row.ProfessionalName,
		ProfessionalSpecialty: row.ProfessionalSpecialty,
		Date:        dateOnly(row.Date),
		AppointmentType:    string(row.Type),
		PrepAvailable:     row.PreSummaryGenerated,
	}, nil
}

// AssembleProfile curates the profile summary: display name, trust
// metrics, and allergies.
func AssembleProfile(ctx context.Context, store Store, profileName string) (*CachedProfile, error) {
	profile, err := store.ProfileSummary(ctx, profileName)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// ProcessJournalSync ingests phone-recorded journal entries idempotently
// and searches, for each newly-inserted entry, for medication dose
// changes in the 14 days before its onset.
func ProcessJournalSync(ctx context.Context, store Store, entries []MobileJournalEntry) (*JournalSyncResult, error) {
	result := &JournalSyncResult{}
	for _, entry := range entries {
		inserted, err := store.InsertJournalSymptomIfAbsent(ctx, entry)
		if err != nil {
			return nil, err
		}
		result.SyncedIDs = append(result.SyncedIDs, entry.ID)
		if !inserted {
			continue
		}
		corrs, err := findMedicationCorrelations(ctx, store, entry)
		if err != nil {
			return nil, err
		}
		result.Correlations = append(result.Correlations, corrs...)
	}
	return result, nil
}

func findMedicationCorrelations(ctx context.Context, store Store, entry MobileJournalEntry) ([]JournalCorrelation, error) {
	rows, err := store.DoseChangesWithinWindow(ctx, entry.CreatedAt, journalCorrelationWindow)
	if err != nil {
		return nil, err
	}
	out := make([]JournalCorrelation, 0, len(rows))
	for _, r := range rows {
		days := int64(entry.CreatedAt.Sub(r.ChangeDate).Hours() / 24)
		out = append(out, JournalCorrelation{
			EntryID:     entry.ID,
			MedicationName:  r.MedicationName,
			DaysSinceChange: days,
			Message: fmt.Sprintf(
				"Your %s dose was changed %d day(s) ago. This symptom may be related.",
				r.MedicationName, days,
			),
		})
	}
	return out, nil
}

// BuildSyncResponse compares versions, ingests any piggybacked journal
// entries, and assembles payloads only for the entity families that
// changed. It returns (nil, nil) when nothing changed and no journal
// entries were submitted, signaling the caller to reply with no content.
func BuildSyncResponse(ctx context.Context, store Store, request Request, profileName string) (*Response, error) {
	current, err := store.SyncVersions(ctx)
	if err != nil {
		return nil, err
	}
	changed := Diff(request.Versions, current)

	var journalResult *JournalSyncResult
	if len(request.JournalEntries) > 0 {
		journalResult, err = ProcessJournalSync(ctx, store, request.JournalEntries)
		if err != nil {
			return nil, err
		}
	}

	if len(changed) == 0 && journalResult == nil {
		return nil, nil
	}

	resp := &Response{
		Versions:   current,
		SyncedAt:   time.Now().UTC(),
		JournalSync: journalResult,
	}

	for _, family := range changed {
		switch family {
		case "medications":
			if resp.Medications, err = AssembleMedications(ctx, store); err != nil {
				return nil, err
			}
		case "labs":
			if resp.Labs, err = AssembleLabs(ctx, store); err != nil {
				return nil, err
			}
		case "timeline":
			if resp.Timeline, err = AssembleTimeline(ctx, store); err != nil {
				return nil, err
			}
		case "alerts":
			if resp.Alerts, err = AssembleAlerts(ctx, store); err != nil {
				return nil, err
			}
		case "appointments":
			if resp.Appointment, err = AssembleAppointment(ctx, store); err != nil {
				return nil, err
			}
		case "profile":
			if resp.Profile, err = AssembleProfile(ctx, store, profileName); err != nil {
				return nil, err
			}
		}
	}

	return resp, nil
}
