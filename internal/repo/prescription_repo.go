// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Prescription model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a prescription is not found, functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - Inserting a second row with an already-stored image hash returns
//     ErrDuplicateHash. Callers are expected to look up by hash first and
//     treat a re-upload as a restore, so in practice this error marks a
//     race rather than a user-visible failure.
//   - Malformed stored JSON payloads surface as decode errors; they are
//     never silently swallowed.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-prescription-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicateHash is returned when the image-hash uniqueness constraint is
// violated on insert. The constraint is enforced by the storage engine.
var ErrDuplicateHash = errors.New("image hash already exists")

// PrescriptionRecord is a Prescription row with its JSON payloads decoded.
// Repositories return this shape so callers never touch raw column text.
type PrescriptionRecord struct {
	ID         string
	ImageHash  string
	ImageData  []byte
	Extraction domain.Extraction
	Audit      domain.Audit
	CreatedAt  time.Time
}

// PrescriptionSummary is a listing row for sidebar/history views. It omits
// the image blob and audit payload to keep list queries light.
type PrescriptionSummary struct {
	ID         string            `json:"id"`
	ImageHash  string            `json:"image_hash"`
	Extraction domain.Extraction `json:"extraction"`
	CreatedAt  time.Time         `json:"created_at"`
}

// CreatePrescription inserts a new prescription row keyed by imageHash. The
// row ID is a randomly generated UUID and CreatedAt is set to UTC. The write
// is a single-statement transaction.
//
// Returns ErrDuplicateHash when a row with the same hash already exists.
func CreatePrescription(ctx context.Context, db *gorm.DB, imageHash string, imageData []byte, extraction domain.Extraction, audit domain.Audit) (*domain.Prescription, error) {
	extJSON, err := json.Marshal(extraction)
	if err != nil {
		return nil, fmt.Errorf("repo: encode extraction: %w", err)
	}
	auditJSON, err := json.Marshal(audit)
	if err != nil {
		return nil, fmt.Errorf("repo: encode audit: %w", err)
	}

	p := &domain.Prescription{
		ID:             uuid.NewString(),
		ImageHash:      imageHash,
		ImageData:      imageData,
		ExtractionJSON: string(extJSON),
		AuditJSON:      string(auditJSON),
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateHash
		}
		return nil, err
	}
	return p, nil
}

// GetPrescriptionByHash fetches a prescription by its content hash and
// decodes its stored payloads. Returns ErrNotFound when no row matches.
func GetPrescriptionByHash(ctx context.Context, db *gorm.DB, imageHash string) (*PrescriptionRecord, error) {
	var p domain.Prescription
	err := db.WithContext(ctx).
		Where("image_hash = ?", imageHash).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return decodeRecord(&p)
}

// GetPrescription fetches a prescription by its primary key and decodes its
// stored payloads. Returns ErrNotFound when no row matches.
func GetPrescription(ctx context.Context, db *gorm.DB, id string) (*PrescriptionRecord, error) {
	var p domain.Prescription
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return decodeRecord(&p)
}

// UpdatePrescriptionData replaces the extraction and audit payloads of an
// existing prescription, e.g. after a human clarification merge. The image
// bytes and hash are immutable. Returns ErrNotFound when the row is missing.
func UpdatePrescriptionData(ctx context.Context, db *gorm.DB, id string, extraction domain.Extraction, audit domain.Audit) error {
	extJSON, err := json.Marshal(extraction)
	if err != nil {
		return fmt.Errorf("repo: encode extraction: %w", err)
	}
	auditJSON, err := json.Marshal(audit)
	if err != nil {
		return fmt.Errorf("repo: encode audit: %w", err)
	}

	res := db.WithContext(ctx).
		Model(&domain.Prescription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"extraction_json": string(extJSON),
			"audit_json":      string(auditJSON),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeletePrescription removes a prescription row. The storage engine cascades
// the delete to the row's chat messages via the FK constraint; no
// application-level cleanup happens here. Returns ErrNotFound when the row
// is missing.
func DeletePrescription(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.Prescription{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListPrescriptionSummaries returns all prescriptions ordered by creation
// time descending (most recent first), without image blobs. It returns an
// empty slice when the store is empty.
func ListPrescriptionSummaries(ctx context.Context, db *gorm.DB) ([]PrescriptionSummary, error) {
	var rows []domain.Prescription
	err := db.WithContext(ctx).
		Select("id", "image_hash", "extraction_json", "created_at").
		Order("created_at desc, id desc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]PrescriptionSummary, 0, len(rows))
	for i := range rows {
		var ext domain.Extraction
		if err := json.Unmarshal([]byte(rows[i].ExtractionJSON), &ext); err != nil {
			return nil, fmt.Errorf("repo: decode extraction for %s: %w", rows[i].ID, err)
		}
		out = append(out, PrescriptionSummary{
			ID:         rows[i].ID,
			ImageHash:  rows[i].ImageHash,
			Extraction: ext,
			CreatedAt:  rows[i].CreatedAt,
		})
	}
	return out, nil
}

// decodeRecord unpacks the JSON columns of a Prescription row.
func decodeRecord(p *domain.Prescription) (*PrescriptionRecord, error) {
	rec := &PrescriptionRecord{
		ID:        p.ID,
		ImageHash: p.ImageHash,
		ImageData: p.ImageData,
		CreatedAt: p.CreatedAt,
	}
	if err := json.Unmarshal([]byte(p.ExtractionJSON), &rec.Extraction); err != nil {
		return nil, fmt.Errorf("repo: decode extraction for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(p.AuditJSON), &rec.Audit); err != nil {
		return nil, fmt.Errorf("repo: decode audit for %s: %w", p.ID, err)
	}
	return rec, nil
}

// isUniqueViolation reports whether err is a uniqueness-constraint failure.
// GORM translates these for some drivers; the SQLite driver also surfaces
// them as plain constraint errors, so both shapes are checked.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
