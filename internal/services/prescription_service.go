// Package services – PrescriptionService
//
// This file implements PrescriptionService, the application-level component
// that owns the prescription lifecycle: ingesting an uploaded image
// (restore-or-analyze keyed by content hash), restoring stored sessions,
// merging human field overrides into the stored extraction, evaluating
// readiness, and listing/deleting prescriptions.
//
// Observability: the analysis-bearing methods are OpenTelemetry-instrumented;
// spans include the prescription id and image hash where applicable.
package services

import (
	"context"
	"errors"
	"image"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-prescription-backend/internal/domain"
	"github.com/tbourn/go-prescription-backend/internal/imaging"
	"github.com/tbourn/go-prescription-backend/internal/repo"
	"github.com/tbourn/go-prescription-backend/internal/scheduler"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Analyzer is the vision capability contract required by PrescriptionService.
// It is satisfied by vision.Chain.
type Analyzer interface {
	// ValidatePrescription runs the throwaway classification gate.
	ValidatePrescription(ctx context.Context, img image.Image) (bool, domain.Validation, error)

	// AnalyzePrescription runs the full extraction pipeline on an image.
	AnalyzePrescription(ctx context.Context, img image.Image) (*domain.Analysis, domain.AmbiguityState, error)
}

// PrescriptionView is a prescription with its analysis bundle reassembled
// from storage.
type PrescriptionView struct {
	ID        string          `json:"id"`
	ImageHash string          `json:"image_hash"`
	Analysis  domain.Analysis `json:"analysis"`
	CreatedAt time.Time       `json:"created_at"`
}

// IngestResult is the outcome of processing one uploaded image: either a
// freshly analyzed prescription or a restored one, with its chat history.
type IngestResult struct {
	PrescriptionView
	Restored bool                 `json:"restored"`
	History  []domain.ChatMessage `json:"history"`
}

// Summary is a listing row with a human-facing display label derived from
// the first extracted medicine.
type Summary struct {
	ID            string    `json:"id"`
	ImageHash     string    `json:"image_hash"`
	DisplayLabel  string    `json:"display_label"`
	MedicineCount int       `json:"medicine_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// PrescriptionService coordinates image ingestion, analysis persistence, and
// override merges.
type PrescriptionService struct {
	DB       *gorm.DB
	Analyzer Analyzer
	Session  *Session

	// LabelLocale controls title casing of display labels.
	LabelLocale language.Tag
}

// NewPrescriptionService constructs a PrescriptionService with defaults.
func NewPrescriptionService(db *gorm.DB, analyzer Analyzer, session *Session) *PrescriptionService {
	return &PrescriptionService{
		DB:          db,
		Analyzer:    analyzer,
		Session:     session,
		LabelLocale: language.English,
	}
}

// Ingest processes one uploaded prescription image. The image is hashed
// first: a known hash restores the stored prescription without touching the
// capability, an unknown one runs the validation gate and then exactly one
// analysis call before persisting. A rejected image surfaces as
// *ValidationRejectedError carrying the classifier's verdict.
func (s *PrescriptionService) Ingest(ctx context.Context, img image.Image) (*IngestResult, error) {
	tr := otel.Tracer("services/PrescriptionService")
	ctx, span := tr.Start(ctx, "Ingest")
	defer span.End()

	data, err := imaging.Encode(img)
	if err != nil {
		return nil, err
	}
	hash := imaging.HashBytes(data)
	span.SetAttributes(attribute.String("prescription.image_hash", hash))

	// Known image: restore instead of re-analyzing.
	result, err := s.restoreByHash(ctx, hash)
	if err == nil {
		s.Session.Activate(result.ID, hash)
		return result, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	valid, verdict, err := s.Analyzer.ValidatePrescription(ctx, img)
	if err != nil {
		return nil, err
	}
	if !valid {
		// Nothing from a rejected image is persisted.
		return nil, &ValidationRejectedError{Validation: verdict}
	}

	analysis, state, err := s.Analyzer.AnalyzePrescription(ctx, img)
	if err != nil {
		return nil, err
	}
	audit := analysis.Audit
	audit.AmbiguityState = state
	audit.Validation = &analysis.Validation

	p, err := repo.CreatePrescription(ctx, s.DB, hash, data, analysis.Extraction, audit)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateHash) {
			return nil, ErrDuplicatePrescription
		}
		return nil, err
	}

	s.Session.Activate(p.ID, hash)
	return &IngestResult{
		PrescriptionView: PrescriptionView{
			ID:        p.ID,
			ImageHash: hash,
			Analysis:  domain.Analysis{Extraction: analysis.Extraction, Audit: audit, Validation: analysis.Validation},
			CreatedAt: p.CreatedAt,
		},
		History: []domain.ChatMessage{},
	}, nil
}

// Restore rebuilds the full working bundle for a stored image hash: the
// analysis reassembled from the stored payloads plus the ordered chat
// history. Read-only and idempotent.
func (s *PrescriptionService) Restore(ctx context.Context, imageHash string) (*IngestResult, error) {
	tr := otel.Tracer("services/PrescriptionService")
	ctx, span := tr.Start(ctx, "Restore",
		trace.WithAttributes(attribute.String("prescription.image_hash", imageHash)),
	)
	defer span.End()

	result, err := s.restoreByHash(ctx, imageHash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}
	return result, nil
}

// Get returns the stored prescription view by id.
func (s *PrescriptionService) Get(ctx context.Context, id string) (*PrescriptionView, error) {
	rec, err := repo.GetPrescription(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}
	view := viewFromRecord(rec)
	return &view, nil
}

// Readiness evaluates whether the stored extraction is complete enough for
// schedule generation.
func (s *PrescriptionService) Readiness(ctx context.Context, id string) (scheduler.Readiness, error) {
	rec, err := repo.GetPrescription(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return scheduler.Readiness{}, ErrPrescriptionNotFound
		}
		return scheduler.Readiness{}, err
	}
	return scheduler.EvaluateReadiness(rec.Extraction), nil
}

// Overrides maps medicine display name to field name to replacement value.
type Overrides map[string]map[string]string

// MergeOverrides folds human field corrections into the stored extraction and
// persists the result. Overridden medicines get their confidence forced to
// 1.0: the human answer supersedes the model's uncertainty. Any generated
// schedule for the prescription is invalidated. Returns the updated view.
func (s *PrescriptionService) MergeOverrides(ctx context.Context, id string, overrides Overrides) (*PrescriptionView, error) {
	tr := otel.Tracer("services/PrescriptionService")
	ctx, span := tr.Start(ctx, "MergeOverrides",
		trace.WithAttributes(attribute.String("prescription.id", id)),
	)
	defer span.End()

	rec, err := repo.GetPrescription(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}

	extraction := rec.Extraction
	for i := range extraction.Medicines {
		med := &extraction.Medicines[i]
		fields, ok := overrides[med.DisplayName()]
		if !ok {
			continue
		}
		for field, value := range fields {
			applyOverride(med, field, value)
		}
		full := 1.0
		med.Confidence = &full
	}

	if err := repo.UpdatePrescriptionData(ctx, s.DB, id, extraction, rec.Audit); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}
	s.Session.InvalidateSchedule(id)

	rec.Extraction = extraction
	view := viewFromRecord(rec)
	return &view, nil
}

// Delete removes a prescription. The storage engine cascades the delete to
// its chat messages; session state tied to the prescription is dropped.
func (s *PrescriptionService) Delete(ctx context.Context, id string) error {
	if err := repo.DeletePrescription(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrPrescriptionNotFound
		}
		return err
	}
	s.Session.Drop(id)
	return nil
}

// ListSummaries returns all stored prescriptions, newest first, with a
// title-cased display label derived from the first extracted medicine.
func (s *PrescriptionService) ListSummaries(ctx context.Context) ([]Summary, error) {
	rows, err := repo.ListPrescriptionSummaries(ctx, s.DB)
	if err != nil {
		return nil, err
	}

	caser := cases.Title(s.labelLocaleOrDefault())
	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		label := "Empty Prescription"
		if len(r.Extraction.Medicines) > 0 {
			label = caser.String(strings.ToLower(r.Extraction.Medicines[0].DisplayName()))
			if extra := len(r.Extraction.Medicines) - 1; extra > 0 {
				label += " + " + strconv.Itoa(extra) + " more"
			}
		}
		out = append(out, Summary{
			ID:            r.ID,
			ImageHash:     r.ImageHash,
			DisplayLabel:  label,
			MedicineCount: len(r.Extraction.Medicines),
			CreatedAt:     r.CreatedAt,
		})
	}
	return out, nil
}

// restoreByHash loads the stored bundle for an image hash, synthesizing a
// positive validation when the stored audit carries none.
func (s *PrescriptionService) restoreByHash(ctx context.Context, imageHash string) (*IngestResult, error) {
	rec, err := repo.GetPrescriptionByHash(ctx, s.DB, imageHash)
	if err != nil {
		return nil, err
	}
	history, err := repo.ListChatMessages(ctx, s.DB, rec.ID)
	if err != nil {
		return nil, err
	}
	return &IngestResult{
		PrescriptionView: viewFromRecord(rec),
		Restored:         true,
		History:          history,
	}, nil
}

// viewFromRecord reassembles the analysis bundle from a stored record. A
// record persisted before validation was stored in the audit gets a
// synthesized positive validation: the image passed the gate when it was
// first ingested.
func viewFromRecord(rec *repo.PrescriptionRecord) PrescriptionView {
	validation := domain.Validation{IsPrescription: true, Confidence: 1.0}
	if rec.Audit.Validation != nil {
		validation = *rec.Audit.Validation
	}
	return PrescriptionView{
		ID:        rec.ID,
		ImageHash: rec.ImageHash,
		Analysis: domain.Analysis{
			Extraction: rec.Extraction,
			Audit:      rec.Audit,
			Validation: validation,
		},
		CreatedAt: rec.CreatedAt,
	}
}

// applyOverride writes one field correction onto a medicine. Unknown field
// names are ignored rather than rejected, mirroring a lenient form submit.
func applyOverride(med *domain.Medicine, field, value string) {
	switch field {
	case scheduler.FieldDosage:
		med.Dosage = domain.FieldValue(value)
	case scheduler.FieldFrequency:
		med.Frequency = domain.FieldValue(value)
	case scheduler.FieldDurationDays:
		med.DurationDays = domain.FieldValue(value)
	case "instructions":
		med.Instructions = value
	case "name":
		med.Name = value
	}
}

func (s *PrescriptionService) labelLocaleOrDefault() language.Tag {
	if s.LabelLocale == language.Und {
		return language.English
	}
	return s.LabelLocale
}
