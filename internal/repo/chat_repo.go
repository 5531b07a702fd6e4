// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ChatMessage model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-prescription-backend/internal/domain"
)

// CreateChatMessage appends one message to a prescription's clarification
// history. The message ID is a randomly generated UUID and CreatedAt is set
// to UTC. Messages are immutable once written.
func CreateChatMessage(ctx context.Context, db *gorm.DB, prescriptionID, role, content string) (*domain.ChatMessage, error) {
	m := &domain.ChatMessage{
		ID:             uuid.NewString(),
		PrescriptionID: prescriptionID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// ListChatMessages returns a prescription's messages ordered
// deterministically (CreatedAt ASC, ID ASC) for history replay. It returns
// an empty slice when there is no history.
func ListChatMessages(ctx context.Context, db *gorm.DB, prescriptionID string) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	err := db.WithContext(ctx).
		Where("prescription_id = ?", prescriptionID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CountChatMessages uses a raw COUNT so a missing table surfaces as an error.
func CountChatMessages(ctx context.Context, db *gorm.DB, prescriptionID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM chat_messages WHERE prescription_id = ?", prescriptionID).
		Scan(&total).Error
	return total, err
}

// ClearChatMessages deletes a prescription's entire clarification history in
// one statement (the "Reset Chat" action). Clearing an empty history is a
// no-op, not an error.
func ClearChatMessages(ctx context.Context, db *gorm.DB, prescriptionID string) error {
	return db.WithContext(ctx).
		Where("prescription_id = ?", prescriptionID).
		Delete(&domain.ChatMessage{}).Error
}
