package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/timeline"
)

var errUnknownAppointment = errors.New("appointment not found")

// handleTimeline assembles the timeline read model for the given filter
// (spec §4.I), accepted as query parameters: event_types (comma-separated),
// professional_id, date_from, date_to (RFC3339), since_appointment_id.
func (s *Server) handleTimeline(c *gin.Context) {
	filter, err := parseTimelineFilter(c)
	if err != nil {
		writeError(c, errs.Wrap(errs.KindInvalidArgument, "malformed timeline filter", err))
		return
	}

	snap, err := s.Repo.TimelineSnapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	if filter.SinceAppointmentID != nil {
		if err := resolveSinceAppointment(snap, filter); err != nil {
			writeError(c, errs.Wrap(errs.KindInvalidArgument, "unknown since_appointment_id", err))
			return
		}
	}

	data, err := timeline.GetTimelineData(snap, *filter)
	if err != nil {
		writeError(c, errs.Wrap(errs.KindDatabaseError, "assembling timeline", err))
		return
	}
	c.JSON(http.StatusOK, data)
}

func parseTimelineFilter(c *gin.Context) (*timeline.Filter, error) {
	filter := &timeline.Filter{}

	if raw := c.Query("event_types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter.EventTypes = append(filter.EventTypes, timeline.EventType(strings.TrimSpace(t)))
		}
	}
	if raw := c.Query("professional_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		filter.ProfessionalID = &id
	}
	if raw := c.Query("date_from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, err
		}
		t = t.UTC()
		filter.DateFrom = &t
	}
	if raw := c.Query("date_to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, err
		}
		t = t.UTC()
		filter.DateTo = &t
	}
	if raw := c.Query("since_appointment_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		filter.SinceAppointmentID = &id
	}
	return filter, nil
}

// resolveSinceAppointment applies spec §4.I's "30-day context window before
// the visit" rule: since_appointment_id resolves to (date - 30 days) as
// the lower date bound, overriding any explicit date_from.
func resolveSinceAppointment(snap timeline.Snapshot, filter *timeline.Filter) error {
	for _, appt := range snap.Appointments {
		if appt.ID == *filter.SinceAppointmentID {
			from := appt.Date.AddDate(0, 0, -30)
			filter.DateFrom = &from
			return nil
		}
	}
	return errUnknownAppointment
}
