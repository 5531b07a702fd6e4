// Schedule HTTP handlers.
//
// This file exposes the readiness-gated schedule endpoints:
//   - POST /prescriptions/{id}/schedule      (generate)
//   - GET  /prescriptions/{id}/schedule      (current, from session)
//   - GET  /prescriptions/{id}/schedule.pdf  (printable export)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-prescription-backend/internal/domain"
	"github.com/tbourn/go-prescription-backend/internal/scheduler"
	"github.com/tbourn/go-prescription-backend/internal/services"
)

// ScheduleResponse wraps the generated schedule entries.
type ScheduleResponse struct {
	Schedule []domain.ScheduleEntry `json:"schedule"`
}

// NotReadyResponse reports the fields blocking schedule generation.
type NotReadyResponse struct {
	RequestID string              `json:"request_id,omitempty"`
	Code      string              `json:"code"`
	Message   string              `json:"message"`
	Readiness scheduler.Readiness `json:"readiness"`
}

// GenerateSchedule produces the daily schedule for a prescription. Generation
// is refused with 409 while required fields are missing or low-confidence;
// the response body carries the full readiness payload so the client can
// drive clarification.
func (h *Handlers) GenerateSchedule(c *gin.Context) {
	id, valid := prescriptionID(c)
	if !valid {
		return
	}
	entries, err := h.schedSvc.Generate(c.Request.Context(), id)
	if err != nil {
		var notReady *services.NotReadyError
		switch {
		case errors.As(err, &notReady):
			c.AbortWithStatusJSON(http.StatusConflict, NotReadyResponse{
				RequestID: c.Writer.Header().Get("X-Request-ID"),
				Code:      ErrCodeNotReady,
				Message:   notReady.Error(),
				Readiness: notReady.Readiness,
			})
		case errors.Is(err, services.ErrPrescriptionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "prescription not found")
		case errors.Is(err, services.ErrEmptySchedule):
			fail(c, http.StatusBadGateway, ErrCodeScheduleFailed, err.Error())
		default:
			fail(c, http.StatusBadGateway, ErrCodeScheduleFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, ScheduleResponse{Schedule: entries})
}

// GetSchedule returns the schedule generated this session.
func (h *Handlers) GetSchedule(c *gin.Context) {
	id, valid := prescriptionID(c)
	if !valid {
		return
	}
	entries, err := h.schedSvc.Current(id)
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNoSchedule, "no schedule generated for this prescription")
		return
	}
	ok(c, http.StatusOK, ScheduleResponse{Schedule: entries})
}

// ExportSchedulePDF renders the generated schedule as a downloadable PDF.
func (h *Handlers) ExportSchedulePDF(c *gin.Context) {
	id, valid := prescriptionID(c)
	if !valid {
		return
	}
	pdf, err := h.schedSvc.ExportPDF(id)
	if err != nil {
		if errors.Is(err, services.ErrNoSchedule) {
			fail(c, http.StatusNotFound, ErrCodeNoSchedule, "no schedule generated for this prescription")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	c.Header("Content-Disposition", `attachment; filename="medication_schedule.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}
