package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/sync"
)

// syncRequestBody mirrors sync.Request's wire shape (spec §6.2).
type syncRequestBody struct {
	Versions    versionsBody          `json:"versions"`
	JournalEntries []journalEntryBody `json:"journal_entries"`
}

type versionsBody struct {
	Medications int64 `json:"medications"`
	Labs     int64 `json:"labs"`
	Timeline   int64 `json:"timeline"`
	Alerts    int64 `json:"alerts"`
	Appointments int64 `json:"appointments"`
	Profile   int64 `json:"profile"`
}

type journalEntryBody struct {
	ID       string  `json:"id" binding:"required"`
	Severity    int    `json:"severity"`
	BodyLocation  *string  `json:"body_location"`
	FreeText    *string  `json:"free_text"`
	ActivityContext *string  `json:"activity_context"`
	SymptomChip   *string  `json:"symptom_chip"`
	CreatedAt    string  `json:"created_at" binding:"required"`
}

// handleSync runs the delta-sync protocol (spec §4.H): HTTP 200 with the
// curated payload when something changed, HTTP 204 when the diff is empty
// and no journal entries were submitted.
func (s *Server) handleSync(c *gin.Context) {
	var body syncRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.Wrap(errs.KindInvalidArgument, "malformed sync request", err))
		return
	}

	request := sync.Request{
		Versions: toSyncVersions(body.Versions),
	}
	for _, e := range body.JournalEntries {
		entry, err := toJournalEntry(e)
		if err != nil {
			writeError(c, errs.Wrap(errs.KindInvalidArgument, "malformed journal entry", err))
			return
		}
		request.JournalEntries = append(request.JournalEntries, entry)
	}

	resp, err := sync.BuildSyncResponse(c.Request.Context(), s.Repo, request, s.ProfileName)
	if err != nil {
		writeError(c, err)
		return
	}
	if resp == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, resp)
}
