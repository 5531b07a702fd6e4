// Package domain defines the persistence models for prescriptions and their
// clarification chat messages. These types are mapped with GORM and form the
// core data layer of the prescription-schedule application.
package domain

import (
	"time"
)

// Prescription represents one analyzed prescription image. The image content
// hash is a natural key: re-uploading the same image must resolve to the same
// row instead of creating a duplicate, so the hash carries a UNIQUE constraint
// enforced by the storage engine.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - ImageHash: SHA-256 hex digest of the canonical PNG encoding (unique).
//   - ImageData: raw canonical PNG bytes of the uploaded image.
//   - ExtractionJSON: serialized Extraction payload (medicine list).
//   - AuditJSON: serialized Audit payload (ambiguity state, issues, validation).
//   - CreatedAt: insertion timestamp.
type Prescription struct {
	ID             string    `json:"id"          gorm:"type:char(36);primaryKey"`
	ImageHash      string    `json:"image_hash"  gorm:"type:char(64);not null;uniqueIndex:ux_prescriptions_hash"`
	ImageData      []byte    `json:"-"           gorm:"type:blob;not null"`
	ExtractionJSON string    `json:"-"           gorm:"column:extraction_json;type:text;not null"`
	AuditJSON      string    `json:"-"           gorm:"column:audit_json;type:text;not null"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for Prescription.
func (Prescription) TableName() string { return "prescriptions" }

// ChatMessage represents a single clarification turn attached to a
// prescription. Messages are authored either by the "user" or the
// "assistant" and are replayed in creation order when a previously-seen
// image is restored.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - PrescriptionID: foreign key to the owning prescription (indexed).
//   - Role: "user" or "assistant" (enforced by DB constraint).
//   - Content: full text content of the message.
//   - CreatedAt: insertion timestamp (part of the replay ordering index).
//   - Prescription: FK association; messages are cascade-deleted by the
//     storage engine when their prescription is removed.
type ChatMessage struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	PrescriptionID string    `json:"prescription_id" gorm:"type:char(36);not null;index:idx_chat_prescription,priority:1"`
	Role           string    `json:"role"            gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content        string    `json:"content"         gorm:"type:text;not null"`
	CreatedAt      time.Time `json:"created_at"      gorm:"index:idx_chat_prescription,priority:2"`

	// Prescription is the parent record. The cascade constraint lives in the
	// schema so orphaned rows cannot exist even if application code forgets.
	Prescription Prescription `json:"-" gorm:"foreignKey:PrescriptionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatMessage.
func (ChatMessage) TableName() string { return "chat_messages" }

// Message roles stored in chat_messages.role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
