package types

import "time"

// Document is the atomic provenance unit: every extracted entity carries a
// non-null reference back to the document it was read from. Deleting a
// document cascades to its compound ingredients, tapering steps, and
// instructions, but not to medications/labs/etc., which preserve
// provenance by reference even after their source document is removed.
type Document struct {
	ID             ID             `json:"id"`
	Type            DocumentType       `json:"type"`
	Title           string          `json:"title"`
	DocumentDate       *time.Time        `json:"document_date,omitempty"`
	IngestionTimestamp    time.Time         `json:"ingestion_timestamp"`
	AuthoringProfessional  *ID            `json:"authoring_professional,omitempty"`
	EncryptedSourcePath   string          `json:"-"`
	RenderedMarkdownPath  *string          `json:"rendered_markdown_path,omitempty"`
	OCRConfidence      *float64          `json:"ocr_confidence,omitempty"`
	Verified          bool            `json:"verified"`
	SourceDeleted       bool            `json:"source_deleted"`
	PerceptualHash      *string          `json:"perceptual_hash,omitempty"`
	Notes            *string          `json:"notes,omitempty"`
	PipelineStatus      PipelineStatus      `json:"pipeline_status"`
}

// Professional is the authoring clinician referenced by documents,
// medications, and appointments.
type Professional struct {
	ID          ID      `json:"id"`
	Name        string    `json:"name"`
	Specialty      *string   `json:"specialty,omitempty"`
	Institution    *string   `json:"institution,omitempty"`
	FirstSeenDate   time.Time `json:"first_seen_date"`
	LastSeenDate   time.Time `json:"last_seen_date"`
}

// ProfileTrust is a singleton per profile tracking extraction reliability
// across the documents the user has reviewed.
type ProfileTrust struct {
	TotalDocuments    int    `json:"total_documents"`
	DocumentsVerified   int    `json:"documents_verified"`
	DocumentsCorrected  int    `json:"documents_corrected"`
	ExtractionAccuracy  float64  `json:"extraction_accuracy"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Conversation groups patient/assistant Messages under an optional title.
type Conversation struct {
	ID     ID     `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Title   *string  `json:"title,omitempty"`
}

// Message is one turn of a Conversation.
type Message struct {
	ID         ID     `json:"id"`
	ConversationID  ID     `json:"conversation_id"`
	Role       MessageRole  `json:"role"`
	Content      string   `json:"content"`
	Timestamp     time.Time  `json:"timestamp"`
	SourceChunks   []ID    `json:"source_chunks,omitempty"`
	Confidence    *float64  `json:"confidence,omitempty"`
	Feedback     *Feedback  `json:"feedback,omitempty"`
}
