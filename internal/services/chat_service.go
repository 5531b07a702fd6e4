// Package services – ChatService
//
// This file implements ChatService, which owns the per-prescription
// clarification conversation. It validates questions, loads the stored
// extraction and prior history as grounding context, asks the vision chain
// for an answer, and persists the user/assistant message pair atomically.
//
// Service-level errors (e.g., ErrPrescriptionNotFound) are returned for
// predictable cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-prescription-backend/internal/domain"
	"github.com/tbourn/go-prescription-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Clarifier is the vision capability contract required by ChatService.
// It is satisfied by vision.Chain.
type Clarifier interface {
	// Clarify answers a question about a prescription using the extracted
	// data and the prior conversation.
	Clarify(ctx context.Context, extraction domain.Extraction, history []domain.ChatMessage, question string) (string, error)
}

// ChatService provides the clarification conversation attached to a stored
// prescription.
type ChatService struct {
	DB        *gorm.DB
	Clarifier Clarifier

	// MaxQuestionRunes caps accepted questions by rune length. Zero disables
	// the guard.
	MaxQuestionRunes int
}

// NewChatService constructs a ChatService with a sane question length cap.
func NewChatService(db *gorm.DB, clarifier Clarifier) *ChatService {
	return &ChatService{DB: db, Clarifier: clarifier, MaxQuestionRunes: 2000}
}

// Ask validates the question, answers it from the stored extraction plus the
// conversation so far, and persists the user/assistant pair in one
// transaction. Returns the persisted assistant message.
func (s *ChatService) Ask(ctx context.Context, prescriptionID, question string) (*domain.ChatMessage, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Ask",
		trace.WithAttributes(attribute.String("prescription.id", prescriptionID)),
	)
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if s.MaxQuestionRunes > 0 && utf8.RuneCountInString(question) > s.MaxQuestionRunes {
		return nil, ErrQuestionTooLong
	}

	rec, err := repo.GetPrescription(ctx, s.DB, prescriptionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}

	history, err := repo.ListChatMessages(ctx, s.DB, prescriptionID)
	if err != nil {
		return nil, err
	}

	answer, err := s.Clarifier.Clarify(ctx, rec.Extraction, history, question)
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = "I could not find an answer in the prescription data. Please ask your pharmacist."
	}

	var assistantMsg *domain.ChatMessage
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.CreateChatMessage(ctx, tx, prescriptionID, domain.RoleUser, question); err != nil {
			return err
		}
		m, err := repo.CreateChatMessage(ctx, tx, prescriptionID, domain.RoleAssistant, answer)
		if err != nil {
			return err
		}
		assistantMsg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assistantMsg, nil
}

// History returns the conversation for a prescription in chronological order.
func (s *ChatService) History(ctx context.Context, prescriptionID string) ([]domain.ChatMessage, error) {
	if err := s.ensureExists(ctx, prescriptionID); err != nil {
		return nil, err
	}
	return repo.ListChatMessages(ctx, s.DB, prescriptionID)
}

// Clear deletes the conversation for a prescription. Clearing an empty
// conversation is not an error.
func (s *ChatService) Clear(ctx context.Context, prescriptionID string) error {
	if err := s.ensureExists(ctx, prescriptionID); err != nil {
		return err
	}
	return repo.ClearChatMessages(ctx, s.DB, prescriptionID)
}

// ensureExists verifies the prescription row is present without decoding its
// payloads.
func (s *ChatService) ensureExists(ctx context.Context, prescriptionID string) error {
	var count int64
	err := s.DB.WithContext(ctx).
		Model(&domain.Prescription{}).
		Where("id = ?", prescriptionID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrPrescriptionNotFound
	}
	return nil
}
