package types

import "time"

// Medication is a prescribed or OTC drug entry. Compound medications carry
// zero or more CompoundIngredient rows; tapering medications carry ordered
// TaperingStep rows.
type Medication struct {
	ID             ID        `json:"id"`
	GenericName         string      `json:"generic_name"`
	BrandName          *string     `json:"brand_name,omitempty"`
	Dose             string      `json:"dose"`
	Frequency          string      `json:"frequency"`
	FrequencyType        FrequencyType  `json:"frequency_type"`
	Route            string      `json:"route"`
	PrescriberID        *ID       `json:"prescriber_id,omitempty"`
	StartDate          *time.Time    `json:"start_date,omitempty"`
	EndDate           *time.Time    `json:"end_date,omitempty"`
	ReasonStart         *string     `json:"reason_start,omitempty"`
	ReasonStop         *string     `json:"reason_stop,omitempty"`
	IsOTC            bool       `json:"is_otc"`
	Status            MedicationStatus `json:"status"`
	AdministrationInstructions *string     `json:"administration_instructions,omitempty"`
	MaxDailyDose        *string     `json:"max_daily_dose,omitempty"`
	Condition          *string     `json:"condition,omitempty"`
	DoseType           DoseType     `json:"dose_type"`
	IsCompound         bool       `json:"is_compound"`
	DocumentID         ID        `json:"document_id"`
}

// CompoundIngredient names one constituent of a compound medication.
type CompoundIngredient struct {
	ID          ID   `json:"id"`
	MedicationID     ID   `json:"medication_id"`
	IngredientName   string `json:"ingredient_name"`
	Dose         *string `json:"dose,omitempty"`
	GenericMapping   *string `json:"generic_mapping,omitempty"`
}

// TaperingStep is one ordered step of a tapering medication's schedule.
type TaperingStep struct {
	ID         ID      `json:"id"`
	MedicationID    ID      `json:"medication_id"`
	StepNumber    int      `json:"step_number"`
	Dose        string    `json:"dose"`
	DurationDays   int      `json:"duration_days"`
	StartDate     *time.Time  `json:"start_date,omitempty"`
}

// DoseChange records an observed adjustment to a medication's dose.
type DoseChange struct {
	ID         ID     `json:"id"`
	MedicationID    ID     `json:"medication_id"`
	PreviousDose   string   `json:"previous_dose"`
	NewDose      string   `json:"new_dose"`
	ChangeDate    time.Time `json:"change_date"`
	Reason      *string  `json:"reason,omitempty"`
	DocumentID    ID     `json:"document_id"`
}

// MedicationInstruction is a free-text administration directive attached
// to a medication (e.g. "take with food").
type MedicationInstruction struct {
	ID       ID   `json:"id"`
	MedicationID  ID   `json:"medication_id"`
	Text      string `json:"text"`
	DocumentID  ID   `json:"document_id"`
}

// LabResult is one laboratory observation.
type LabResult struct {
	ID             ID       `json:"id"`
	TestName          string     `json:"test_name"`
	TestCode          *string    `json:"test_code,omitempty"`
	Value            *float64    `json:"value,omitempty"`
	ValueText          *string    `json:"value_text,omitempty"`
	Unit             *string    `json:"unit,omitempty"`
	ReferenceRangeLow      *float64    `json:"reference_range_low,omitempty"`
	ReferenceRangeHigh     *float64    `json:"reference_range_high,omitempty"`
	AbnormalFlag        AbnormalFlag  `json:"abnormal_flag"`
	CollectionDate       time.Time    `json:"collection_date"`
	LabFacility         *string    `json:"lab_facility,omitempty"`
	OrderingPhysicianID     *ID      `json:"ordering_physician_id,omitempty"`
	DocumentID         ID       `json:"document_id"`
}

// Symptom is an OLDCARTS-style patient-reported or extracted observation.
type Symptom struct {
	ID          ID       `json:"id"`
	Category       string     `json:"category"`
	Description     string     `json:"description"`
	Severity       int       `json:"severity"` // 1..5
	BodyRegion      *string    `json:"body_region,omitempty"`
	Duration       *string    `json:"duration,omitempty"`
	Character      *string    `json:"character,omitempty"`
	Aggravating     *string    `json:"aggravating,omitempty"`
	Relieving      *string    `json:"relieving,omitempty"`
	TimingPattern    *string    `json:"timing_pattern,omitempty"`
	OnsetDate      time.Time   `json:"onset_date"`
	OnsetTime      *string    `json:"onset_time,omitempty"`
	RecordedDate     time.Time   `json:"recorded_date"`
	StillActive     bool      `json:"still_active"`
	ResolvedDate     *time.Time   `json:"resolved_date,omitempty"`
	RelatedMedicationID *ID      `json:"related_medication_id,omitempty"`
	RelatedDiagnosisID *ID      `json:"related_diagnosis_id,omitempty"`
	Source        SymptomSource  `json:"source"`
	Notes        *string    `json:"notes,omitempty"`
	DocumentID      ID       `json:"document_id"`
}

// Diagnosis is a clinician-recorded condition.
type Diagnosis struct {
	ID        ID       `json:"id"`
	Name       string     `json:"name"`
	Status      DiagnosisStatus `json:"status"`
	DiagnosedDate   *time.Time   `json:"diagnosed_date,omitempty"`
	ResolvedDate   *time.Time   `json:"resolved_date,omitempty"`
	StatusReason   *string    `json:"status_reason,omitempty"`
	DocumentID    ID       `json:"document_id"`
}

// Procedure is a clinical or surgical procedure performed on the patient.
type Procedure struct {
	ID       ID     `json:"id"`
	Name      string   `json:"name"`
	Date      *time.Time `json:"date,omitempty"`
	ProfessionalID *ID    `json:"professional_id,omitempty"`
	DocumentID   ID     `json:"document_id"`
}

// Referral is a recommendation to see another professional/specialty.
type Referral struct {
	ID        ID     `json:"id"`
	ReferredTo   string   `json:"referred_to"`
	Specialty    *string  `json:"specialty,omitempty"`
	ReferralDate  *time.Time `json:"referral_date,omitempty"`
	DocumentID   ID     `json:"document_id"`
}

// Allergy is an adverse-reaction record against an allergen.
type Allergy struct {
	ID       ID     `json:"id"`
	Allergen   string   `json:"allergen"`
	Severity   *string  `json:"severity,omitempty"`
	Reaction   *string  `json:"reaction,omitempty"`
	DocumentID  ID     `json:"document_id"`
}
