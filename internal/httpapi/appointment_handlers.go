package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ktiyab/coheara/internal/appointment"
	"github.com/ktiyab/coheara/internal/errs"
)

// handleListAppointments returns the appointment history (spec §4.J:
// appointment history), most recent first.
func (s *Server) handleListAppointments(c *gin.Context) {
	list, err := s.Repo.ListAppointments(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type postAppointmentNotesBody struct {
	Notes string `json:"notes" binding:"required"`
}

// handleSavePostAppointmentNotes attaches free-text post-visit notes to a
// completed appointment (spec §4.J: post-appointment notes).
func (s *Server) handleSavePostAppointmentNotes(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, errs.Wrap(errs.KindInvalidArgument, "malformed appointment id", err))
		return
	}
	var body postAppointmentNotesBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.Wrap(errs.KindInvalidArgument, "malformed notes body", err))
		return
	}
	if err := s.Repo.SavePostAppointmentNotes(c.Request.Context(), id, body.Notes); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleAppointmentPrep builds both the patient and professional copies
// for an upcoming appointment (spec §4.J: prepare_appointment_prep).
func (s *Server) handleAppointmentPrep(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, errs.Wrap(errs.KindInvalidArgument, "malformed appointment id", err))
		return
	}

	appt, err := s.Repo.Appointment(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if appt == nil {
		writeError(c, errs.New(errs.KindInvalidArgument, "appointment not found: "+id.String()))
		return
	}

	prep, err := appointment.PrepareAppointmentPrep(c.Request.Context(), s.Repo, appt.ProfessionalID, appt.ID, appt.Date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, prep)
}
