package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ktiyab/coheara/internal/errs"
)

// handleListAlerts returns every non-dismissed coherence alert, most
// recent first (spec §4.E).
func (s *Server) handleListAlerts(c *gin.Context) {
	alerts, err := s.Repo.ListSurfacedAlerts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

type dismissAlertBody struct {
	Reason *string `json:"reason"`
}

// handleDismissAlert clears an alert so it does not resurface on the next
// detection pass against the same source entities (spec §4.E dismissal
// policy).
func (s *Server) handleDismissAlert(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, errs.Wrap(errs.KindInvalidArgument, "malformed alert id", err))
		return
	}
	var body dismissAlertBody
	_ = c.ShouldBindJSON(&body)

	if err := s.Repo.DismissAlert(c.Request.Context(), id, body.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
