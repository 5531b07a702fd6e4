// Clarification chat HTTP handlers.
//
// This file exposes the per-prescription conversation endpoints:
//   - GET    /prescriptions/{id}/messages  (history, paginated)
//   - POST   /prescriptions/{id}/messages  (ask a clarification question)
//   - DELETE /prescriptions/{id}/messages  (reset the conversation)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-prescription-backend/internal/domain"
	"github.com/tbourn/go-prescription-backend/internal/services"
	"github.com/tbourn/go-prescription-backend/internal/utils"
)

// AskRequest is the JSON payload for a clarification question.
type AskRequest struct {
	// Question is the user's free-text question about the prescription.
	Question string `json:"question" binding:"required"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListMessagesResponse wraps a page of chat messages and pagination info.
type ListMessagesResponse struct {
	Messages   []domain.ChatMessage `json:"messages"`
	Pagination Pagination           `json:"pagination"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 50
		maxPageSize     = 200
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// ListMessages returns a page of the prescription's conversation in
// chronological order.
func (h *Handlers) ListMessages(c *gin.Context) {
	id, valid := prescriptionID(c)
	if !valid {
		return
	}
	page, pageSize := clampPagination(c)

	history, err := h.chatSvc.History(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrPrescriptionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "prescription not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	total := int64(len(history))
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	start := (page - 1) * pageSize
	if start > len(history) {
		start = len(history)
	}
	end := start + pageSize
	if end > len(history) {
		end = len(history)
	}

	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: history[start:end],
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// PostMessage answers a clarification question and persists the resulting
// user/assistant pair. Returns the assistant message.
func (h *Handlers) PostMessage(c *gin.Context) {
	id, valid := prescriptionID(c)
	if !valid {
		return
	}
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "question required")
		return
	}

	msg, err := h.chatSvc.Ask(c.Request.Context(), id, req.Question)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyQuestion), errors.Is(err, services.ErrQuestionTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, services.ErrPrescriptionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "prescription not found")
		default:
			fail(c, http.StatusBadGateway, ErrCodeClarifyFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, msg)
}

// ClearMessages resets the prescription's conversation.
func (h *Handlers) ClearMessages(c *gin.Context) {
	id, valid := prescriptionID(c)
	if !valid {
		return
	}
	if err := h.chatSvc.Clear(c.Request.Context(), id); err != nil {
		if errors.Is(err, services.ErrPrescriptionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "prescription not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
