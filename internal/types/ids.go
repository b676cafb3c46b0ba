// Package types defines the clinical record data model: documents,
// professionals, medications, lab results, symptoms, and the derived
// entities (alerts, sync versions, paired devices) the rest of the core
// operates over.
package types

import "github.com/google/uuid"

// ID is the 128-bit opaque identifier used by every entity in the record.
type ID = uuid.UUID

// NewID allocates a fresh random identifier.
func NewID() ID {
	return uuid.New()
}

// NilID is the zero-value identifier, used where a reference is absent
// but a non-pointer field is required (e.g. the DocumentID of a symptom
// entered through the mobile journal, which has no source document).
var NilID = uuid.Nil
