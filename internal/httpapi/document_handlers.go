package httpapi

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ktiyab/coheara/internal/coherence"
	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/pipeline"
	"github.com/ktiyab/coheara/internal/types"
)

// uploadDocumentResponse summarizes the outcome of one ProcessFile run
// (spec §4.D) plus any alerts the coherence engine raised against the
// freshly ingested entities (spec §4.E).
type uploadDocumentResponse struct {
	DocumentID  string  `json:"document_id"`
	DocumentType string  `json:"document_type"`
	Warnings   []string `json:"validation_warnings,omitempty"`
	NewAlerts   int    `json:"new_alerts"`
}

// handleUploadDocument accepts a staged source file, drives it through the
// processing pipeline, persists the extracted entities, re-runs coherence
// detection, and leaves the document in PendingReview pending the user's
// confirmation (spec §4.D step 8).
func (s *Server) handleUploadDocument(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		writeError(c, errs.Wrap(errs.KindImportUnsupported, "missing file field", err))
		return
	}

	dir, err := os.MkdirTemp("", "coheara-upload-*")
	if err != nil {
		writeError(c, errs.Wrap(errs.KindImportIo, "failed to stage upload", err))
		return
	}
	defer os.RemoveAll(dir)
	stagedPath := filepath.Join(dir, filepath.Base(fileHeader.Filename))
	if err := c.SaveUploadedFile(fileHeader, stagedPath); err != nil {
		writeError(c, errs.Wrap(errs.KindImportIo, "failed to stage upload", err))
		return
	}

	ctx := c.Request.Context()
	session := singleProfileSession{id: s.ProfileID}

	s.Orchestrator.OnPageProgress = func(current, total int) {
		s.Progress.Broadcast(ProgressEvent{Current: current, Total: total})
	}

	output, err := s.Orchestrator.ProcessFile(ctx, stagedPath, session, s.Repo)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := s.Repo.IngestExtractedEntities(ctx, output.Result.ExtractedEntities); err != nil {
		writeError(c, err)
		return
	}

	newAlerts, err := s.detectAndSaveAlerts(ctx, output.DocumentID)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := s.Repo.SetPipelineStatus(ctx, output.DocumentID, types.StatusPendingReview); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, uploadDocumentResponse{
		DocumentID:  output.DocumentID.String(),
		DocumentType: string(output.Result.DocumentType),
		Warnings:   output.Result.ValidationWarnings,
		NewAlerts:   newAlerts,
	})
}

// confirmDocumentBody optionally records whether the user corrected any
// field before confirming (spec: ProfileTrust.documents_corrected).
type confirmDocumentBody struct {
	Corrected bool `json:"corrected"`
}

// handleConfirmDocument transitions a PendingReview document to Ingested
// (spec §4.D step 8) after the user has reviewed the extracted result.
func (s *Server) handleConfirmDocument(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, errs.Wrap(errs.KindInvalidArgument, "malformed document id", err))
		return
	}
	var body confirmDocumentBody
	_ = c.ShouldBindJSON(&body)

	if err := s.Repo.ConfirmDocumentReview(c.Request.Context(), id, body.Corrected); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// detectAndSaveAlerts re-runs coherence detection against the current
// repository state and persists any new alerts, skipping ones already
// dismissed (internal/store.SaveAlerts). Returns how many new alerts
// reference this document.
func (s *Server) detectAndSaveAlerts(ctx context.Context, documentID types.ID) (int, error) {
	snap, err := s.Repo.CoherenceSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	alerts := coherence.DetectAll(snap, &documentID, s.Reference)
	if err := s.Repo.SaveAlerts(ctx, alerts); err != nil {
		return 0, err
	}
	count := 0
	for _, a := range alerts {
		for _, id := range a.SourceDocumentIDs {
			if id == documentID {
				count++
				break
			}
		}
	}
	return count, nil
}

var _ pipeline.Session = singleProfileSession{}
