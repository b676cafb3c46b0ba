package types

import "time"

// SyncVersions is the six-tuple of monotonic per-entity-family counters
// driving delta sync between desktop and mobile. Each counter is bumped by
// a storage-layer rule on insert, update, delete, or semantically adjacent
// table change; it is strictly monotonic and never decreases.
type SyncVersions struct {
	Medications  int64 `json:"medications"`
	Labs      int64 `json:"labs"`
	Timeline    int64 `json:"timeline"`
	Alerts     int64 `json:"alerts"`
	Appointments  int64 `json:"appointments"`
	Profile     int64 `json:"profile"`
}

// Equal reports whether both SyncVersions tuples carry identical counters.
func (v SyncVersions) Equal(o SyncVersions) bool {
	return v == o
}

// PairedDevice is a mobile companion that has completed the pairing
// handshake with this profile.
type PairedDevice struct {
	DeviceID    ID     `json:"device_id"`
	DeviceName   string   `json:"device_name"`
	DeviceModel  string   `json:"device_model"`
	PublicKey   [32]byte  `json:"-"`
	PairedAt    time.Time `json:"paired_at"`
	LastSeen    time.Time `json:"last_seen"`
	IsRevoked   bool    `json:"is_revoked"`
}

// DeviceSession is an issued bearer-token session for a paired device.
type DeviceSession struct {
	SessionID   ID     `json:"session_id"`
	DeviceID    ID     `json:"device_id"`
	TokenHash   [32]byte  `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	LastUsed    time.Time `json:"last_used"`
}

// AccessibleProfile names one profile a paired device is granted to read,
// alongside the relationship context shown in the mobile UI (e.g. "self",
// "parent", "dependent") and a stable color index for the profile picker.
type AccessibleProfile struct {
	ProfileID    ID    `json:"profile_id"`
	ProfileName   string  `json:"profile_name"`
	Relationship  string  `json:"relationship"`
	ColorIndex   int    `json:"color_index"`
}

// AlertDismissal records who/when an alert was dismissed.
type AlertDismissal struct {
	DismissedAt time.Time `json:"dismissed_at"`
	Reason   *string  `json:"reason,omitempty"`
}

// AlertDetail is a closed sum type: exactly one of the pointer fields is
// set, selected by the enclosing Alert's Type. Serialization tags on
// "kind" to remain forward compatible per the tagged-variant design note.
type AlertDetail struct {
	Kind    AlertType      `json:"kind"`
	Conflict  *ConflictDetail   `json:"conflict,omitempty"`
	Duplicate *DuplicateDetail  `json:"duplicate,omitempty"`
	Gap    *GapDetail     `json:"gap,omitempty"`
	Drift   *DriftDetail     `json:"drift,omitempty"`
	Temporal *TemporalDetail   `json:"temporal,omitempty"`
	Allergy  *AllergyDetail    `json:"allergy,omitempty"`
	Dose    *DoseDetail     `json:"dose,omitempty"`
	Critical *CriticalLabDetail `json:"critical,omitempty"`
}

// PrescriberRef names a prescriber in the context of a conflicting
// medication pair.
type PrescriberRef struct {
	ProfessionalID ID     `json:"professional_id"`
	Name      string   `json:"name"`
	DocumentID   ID     `json:"document_id"`
	DocumentDate *time.Time `json:"document_date,omitempty"`
}

// ConflictDetail backs an AlertConflict.
type ConflictDetail struct {
	MedicationName  string    `json:"medication_name"`
	PrescriberA    PrescriberRef `json:"prescriber_a"`
	PrescriberB    PrescriberRef `json:"prescriber_b"`
	FieldConflicted  string    `json:"field_conflicted"`
	ValueA       string    `json:"value_a"`
	ValueB       string    `json:"value_b"`
}

// DuplicateDetail backs an AlertDuplicate.
type DuplicateDetail struct {
	GenericName   string `json:"generic_name"`
	BrandA      string `json:"brand_a"`
	BrandB      string `json:"brand_b"`
	MedicationIDA  ID   `json:"medication_id_a"`
	MedicationIDB  ID   `json:"medication_id_b"`
}

// GapType narrows the kind of care gap a GapDetail describes.
type GapType string

const (
	GapDiagnosisWithoutTreatment GapType = "DiagnosisWithoutTreatment"
	GapMedicationWithoutDiagnosis GapType = "MedicationWithoutDiagnosis"
)

// GapDetail backs an AlertGap.
type GapDetail struct {
	GapType   GapType `json:"gap_type"`
	EntityName string `json:"entity_name"`
	EntityID  ID    `json:"entity_id"`
	Expected  string `json:"expected"`
	DocumentID ID    `json:"document_id"`
}

// DriftDetail backs an AlertDrift.
type DriftDetail struct {
	EntityName   string `json:"entity_name"`
	EntityID    ID   `json:"entity_id"`
	TransitionFrom string `json:"transition_from"`
	TransitionTo  string `json:"transition_to"`
	DocumentID   ID   `json:"document_id"`
}

// CorrelatedEvent narrows what kind of event a temporal correlation ties
// a symptom onset to.
type CorrelatedEvent string

const (
	EventMedicationStart CorrelatedEvent = "medication_start"
	EventDoseChange    CorrelatedEvent = "dose_change"
	EventProcedure    CorrelatedEvent = "procedure"
)

// TemporalDetail backs an AlertTemporal.
type TemporalDetail struct {
	SymptomID    ID       `json:"symptom_id"`
	EventID     ID       `json:"event_id"`
	CorrelatedEvent CorrelatedEvent `json:"correlated_event"`
	DaysBetween   int       `json:"days_between"`
}

// AllergyDetail backs an AlertAllergy.
type AllergyDetail struct {
	Allergen    string `json:"allergen"`
	MedicationName string `json:"medication_name"`
	MedicationID  ID   `json:"medication_id"`
	AllergyID    ID   `json:"allergy_id"`
	SameFamily   bool  `json:"same_family"`
}

// DoseDetail backs an AlertDose.
type DoseDetail struct {
	MedicationID  ID   `json:"medication_id"`
	DoseMg     float64 `json:"dose_mg"`
	MinSingleMg   float64 `json:"min_single_mg"`
	MaxSingleMg   float64 `json:"max_single_mg"`
	DailyTotalMg  *float64 `json:"daily_total_mg,omitempty"`
	MaxDailyMg   *float64 `json:"max_daily_mg,omitempty"`
}

// CriticalLabDetail backs an AlertCritical.
type CriticalLabDetail struct {
	LabResultID ID      `json:"lab_result_id"`
	TestName  string    `json:"test_name"`
	Value    string    `json:"value"`
	Unit    *string    `json:"unit,omitempty"`
	Date    time.Time   `json:"date"`
	Direction  AbnormalFlag `json:"direction"`
}

// Alert is a typed finding produced by the coherence engine.
type Alert struct {
	ID        ID       `json:"id"`
	Type       AlertType   `json:"alert_type"`
	Severity     AlertSeverity `json:"severity"`
	EntityIDs    []ID     `json:"entity_ids"`
	SourceDocumentIDs []ID     `json:"source_document_ids"`
	PatientMessage  string    `json:"patient_message"`
	Detail      AlertDetail  `json:"detail"`
	DetectedAt    time.Time   `json:"detected_at"`
	Surfaced     bool     `json:"surfaced"`
	Dismissed    bool     `json:"dismissed"`
	Dismissal    *AlertDismissal `json:"dismissal,omitempty"`
	// DismissedAlertKey is the detector's dedup key (spec §4.E policy),
	// persisted so a later load can repopulate RepositorySnapshot's
	// dismissal-suppression set without recomputing detector-specific
	// derivation logic against stale entity state.
	DismissedAlertKey string `json:"dismissed_alert_key"`
}
