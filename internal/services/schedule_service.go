// Package services – ScheduleService
//
// This file implements ScheduleService, which gates schedule generation on
// the readiness evaluation and renders the generated schedule as a printable
// PDF. Generated schedules live in session state, not the database.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-prescription-backend/internal/domain"
	"github.com/tbourn/go-prescription-backend/internal/repo"
	"github.com/tbourn/go-prescription-backend/internal/scheduler"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ScheduleGenerator is the vision capability contract required by
// ScheduleService. It is satisfied by vision.Chain.
type ScheduleGenerator interface {
	// GenerateSchedule turns an extraction into daily schedule entries.
	GenerateSchedule(ctx context.Context, extraction domain.Extraction) ([]domain.ScheduleEntry, error)
}

// ScheduleService coordinates readiness-gated schedule generation and PDF
// export.
type ScheduleService struct {
	DB        *gorm.DB
	Generator ScheduleGenerator
	Session   *Session
}

// NewScheduleService constructs a ScheduleService.
func NewScheduleService(db *gorm.DB, generator ScheduleGenerator, session *Session) *ScheduleService {
	return &ScheduleService{DB: db, Generator: generator, Session: session}
}

// Generate produces the daily schedule for a prescription. Generation is
// refused with *NotReadyError while the stored extraction has missing or
// low-confidence required fields. The result is cached in the session until
// an override merge or delete invalidates it.
func (s *ScheduleService) Generate(ctx context.Context, prescriptionID string) ([]domain.ScheduleEntry, error) {
	tr := otel.Tracer("services/ScheduleService")
	ctx, span := tr.Start(ctx, "Generate",
		trace.WithAttributes(attribute.String("prescription.id", prescriptionID)),
	)
	defer span.End()

	rec, err := repo.GetPrescription(ctx, s.DB, prescriptionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}

	readiness := scheduler.EvaluateReadiness(rec.Extraction)
	if !readiness.IsReady {
		return nil, &NotReadyError{Readiness: readiness}
	}

	entries, err := s.Generator.GenerateSchedule(ctx, rec.Extraction)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 && len(rec.Extraction.Medicines) > 0 {
		return nil, ErrEmptySchedule
	}

	s.Session.SetSchedule(prescriptionID, entries)
	return entries, nil
}

// Current returns the schedule generated for a prescription this session.
// Returns ErrNoSchedule when none has been generated yet (or the last one
// was invalidated by an override merge).
func (s *ScheduleService) Current(prescriptionID string) ([]domain.ScheduleEntry, error) {
	entries, ok := s.Session.Schedule(prescriptionID)
	if !ok {
		return nil, ErrNoSchedule
	}
	return entries, nil
}

// ExportPDF renders the session's generated schedule for a prescription as
// PDF bytes.
func (s *ScheduleService) ExportPDF(prescriptionID string) ([]byte, error) {
	entries, err := s.Current(prescriptionID)
	if err != nil {
		return nil, err
	}
	return scheduler.ExportPDF(entries)
}
