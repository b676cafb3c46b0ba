package types

import "time"

// AppointmentType narrows whether an appointment is still to come or has
// already happened.
type AppointmentType string

const (
	AppointmentUpcoming AppointmentType = "upcoming"
	AppointmentCompleted AppointmentType = "completed"
)

// Appointment is a scheduled or past visit with a Professional. Completed
// appointments anchor the "since last visit" window used by the
// appointment-prep assembler; the sync engine's next-appointment curation
// reads upcoming appointments only.
type Appointment struct {
	ID          ID       `json:"id"`
	ProfessionalID    ID       `json:"professional_id"`
	Date         time.Time   `json:"date"`
	Type         AppointmentType `json:"type"`
	PreSummaryGenerated bool      `json:"pre_summary_generated"`
	Notes        *string    `json:"notes,omitempty"`
}
