package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/ktiyab/coheara/internal/sync"
	"github.com/ktiyab/coheara/internal/types"
)

func toSyncVersions(v versionsBody) types.SyncVersions {
	return types.SyncVersions{
		Medications: v.Medications,
		Labs:     v.Labs,
		Timeline:   v.Timeline,
		Alerts:    v.Alerts,
		Appointments: v.Appointments,
		Profile:   v.Profile,
	}
}

func toJournalEntry(e journalEntryBody) (sync.MobileJournalEntry, error) {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return sync.MobileJournalEntry{}, err
	}
	createdAt, err := time.Parse(time.RFC3339, e.CreatedAt)
	if err != nil {
		return sync.MobileJournalEntry{}, err
	}
	return sync.MobileJournalEntry{
		ID:       id,
		Severity:    e.Severity,
		BodyLocation:  e.BodyLocation,
		FreeText:    e.FreeText,
		ActivityContext: e.ActivityContext,
		SymptomChip:   e.SymptomChip,
		CreatedAt:    createdAt.UTC(),
	}, nil
}
