// Prescription HTTP handlers.
//
// This file exposes REST endpoints for prescription resources:
//   - POST   /prescriptions                 (upload image; restore-or-analyze)
//   - GET    /prescriptions                 (list, ETag support)
//   - GET    /prescriptions/{id}            (fetch stored analysis)
//   - DELETE /prescriptions/{id}            (remove, cascades chat history)
//   - GET    /prescriptions/{id}/readiness  (schedule-gate evaluation)
//   - POST   /prescriptions/{id}/overrides  (merge human field corrections)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-prescription-backend/internal/domain"
	"github.com/tbourn/go-prescription-backend/internal/imaging"
	"github.com/tbourn/go-prescription-backend/internal/repo"
	"github.com/tbourn/go-prescription-backend/internal/scheduler"
	"github.com/tbourn/go-prescription-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// PrescriptionService defines prescription lifecycle operations consumed by
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PrescriptionService interface {
	// Ingest processes one uploaded image: restore when the hash is known,
	// validate and analyze otherwise.
	Ingest(ctx context.Context, img image.Image) (*services.IngestResult, error)
	// Get returns the stored prescription view.
	Get(ctx context.Context, id string) (*services.PrescriptionView, error)
	// Readiness evaluates the schedule gate for the stored extraction.
	Readiness(ctx context.Context, id string) (scheduler.Readiness, error)
	// MergeOverrides folds human field corrections into the stored extraction.
	MergeOverrides(ctx context.Context, id string, overrides services.Overrides) (*services.PrescriptionView, error)
	// Delete removes a prescription and its chat history.
	Delete(ctx context.Context, id string) error
	// ListSummaries returns all prescriptions, newest first.
	ListSummaries(ctx context.Context) ([]services.Summary, error)
}

// ChatService defines clarification conversation operations.
type ChatService interface {
	// Ask answers a question and persists the user/assistant pair.
	Ask(ctx context.Context, prescriptionID, question string) (*domain.ChatMessage, error)
	// History returns the conversation in chronological order.
	History(ctx context.Context, prescriptionID string) ([]domain.ChatMessage, error)
	// Clear deletes the conversation.
	Clear(ctx context.Context, prescriptionID string) error
}

// ScheduleService defines readiness-gated schedule operations.
type ScheduleService interface {
	// Generate produces the daily schedule when the extraction is ready.
	Generate(ctx context.Context, prescriptionID string) ([]domain.ScheduleEntry, error)
	// Current returns the schedule generated this session.
	Current(prescriptionID string) ([]domain.ScheduleEntry, error)
	// ExportPDF renders the generated schedule as PDF bytes.
	ExportPDF(prescriptionID string) ([]byte, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for prescriptions, clarification chat, and
// schedules. It depends on abstract service interfaces to keep transport
// concerns separate from business logic; the database handle is injected
// directly for cheap conditional-request checks (ETag derivation).
type Handlers struct {
	db       *gorm.DB
	prescSvc PrescriptionService
	chatSvc  ChatService
	schedSvc ScheduleService
}

// New constructs and returns a Handlers instance bound to the given
// dependencies.
func New(db *gorm.DB, prescSvc PrescriptionService, chatSvc ChatService, schedSvc ScheduleService) *Handlers {
	return &Handlers{db: db, prescSvc: prescSvc, chatSvc: chatSvc, schedSvc: schedSvc}
}

//
// DTOs
//

// UploadResponse is the JSON payload returned for an accepted upload.
type UploadResponse struct {
	ID        string               `json:"id"`
	ImageHash string               `json:"image_hash"`
	Restored  bool                 `json:"restored"`
	Analysis  domain.Analysis      `json:"analysis"`
	History   []domain.ChatMessage `json:"history"`
}

// ListPrescriptionsResponse wraps the summary listing.
type ListPrescriptionsResponse struct {
	Prescriptions []services.Summary `json:"prescriptions"`
}

//
// Helpers
//

// prescriptionID validates the :id path parameter as a UUID.
func prescriptionID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prescription id must be a UUID")
		return "", false
	}
	return id, true
}

//
// Handlers
//

// UploadPrescription accepts a multipart image, restores the stored
// prescription when the image hash is known, and otherwise runs the
// validation gate and analysis before persisting. Restored uploads answer
// 200, fresh analyses 201, rejected images 422.
func (h *Handlers) UploadPrescription(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field 'image' is required")
		return
	}
	f, err := file.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadImage, "cannot open uploaded file")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "uploaded file too large")
		return
	}
	img, err := imaging.Decode(data)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadImage, "uploaded file is not a decodable image")
		return
	}

	res, err := h.prescSvc.Ingest(c.Request.Context(), img)
	if err != nil {
		var rejected *services.ValidationRejectedError
		switch {
		case errors.As(err, &rejected):
			fail(c, http.StatusUnprocessableEntity, ErrCodeValidationRejected, rejected.Validation.Reason)
		case errors.Is(err, services.ErrDuplicatePrescription):
			fail(c, http.StatusConflict, ErrCodeConflict, "prescription already exists")
		default:
			fail(c, http.StatusBadGateway, ErrCodeAnalysisFailed, err.Error())
		}
		return
	}

	status := http.StatusCreated
	if res.Restored {
		status = http.StatusOK
	}
	ok(c, status, UploadResponse{
		ID:        res.ID,
		ImageHash: res.ImageHash,
		Restored:  res.Restored,
		Analysis:  res.Analysis,
		History:   res.History,
	})
}

// ListPrescriptions returns all stored prescriptions, newest first. Supports
// weak ETag via If-None-Match and may return 304.
func (h *Handlers) ListPrescriptions(c *gin.Context) {
	ctx := c.Request.Context()

	// ETag pre-check (best effort).
	if h.db != nil {
		count, maxTS, err := repo.PrescriptionStats(ctx, h.db)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"prescriptions:%d:%d"`, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.prescSvc.ListSummaries(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListPrescriptionsResponse{Prescriptions: items})
}

// GetPrescription returns the stored analysis bundle for one prescription.
func (h *Handlers) GetPrescription(c *gin.Context) {
	id, valid := prescriptionID(c)
	if !valid {
		return
	}
	view, err := h.prescSvc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrPrescriptionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "prescription not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, view)
}

// DeletePrescription removes a prescription; the chat history goes with it.
func (h *Handlers) DeletePrescription(c *gin.Context) {
	id, valid := prescriptionID(c)
	if !valid {
		return
	}
	if err := h.prescSvc.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, services.ErrPrescriptionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "prescription not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// GetReadiness evaluates whether the stored extraction is complete enough for
// schedule generation.
func (h *Handlers) GetReadiness(c *gin.Context) {
	id, valid := prescriptionID(c)
	if !valid {
		return
	}
	readiness, err := h.prescSvc.Readiness(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrPrescriptionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "prescription not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, readiness)
}

// ApplyOverrides merges human field corrections into the stored extraction.
// The body maps medicine display name to field name to replacement value.
func (h *Handlers) ApplyOverrides(c *gin.Context) {
	id, valid := prescriptionID(c)
	if !valid {
		return
	}
	var overrides services.Overrides
	if err := c.ShouldBindJSON(&overrides); err != nil || len(overrides) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "override map required")
		return
	}
	view, err := h.prescSvc.MergeOverrides(c.Request.Context(), id, overrides)
	if err != nil {
		if errors.Is(err, services.ErrPrescriptionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "prescription not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, view)
}
