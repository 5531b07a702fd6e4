// Package services defines the business logic for prescriptions, clarification
// chat, and schedule generation. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-prescription-backend/internal/domain"
	"github.com/tbourn/go-prescription-backend/internal/scheduler"
)

var (
	// ErrPrescriptionNotFound indicates that the requested prescription does
	// not exist.
	ErrPrescriptionNotFound = errors.New("prescription not found")

	// ErrDuplicatePrescription is returned when an insert races a concurrent
	// upload of the same image. Callers look up by hash first, so hitting
	// this in practice means two uploads of one image crossed paths.
	ErrDuplicatePrescription = errors.New("prescription already exists")

	// ErrEmptyQuestion is returned when a clarification request contains an
	// empty question.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrQuestionTooLong is returned when a clarification question exceeds
	// the maximum configured length limit.
	ErrQuestionTooLong = errors.New("question too long")

	// ErrNoSchedule indicates that no schedule has been generated for the
	// prescription in the current session.
	ErrNoSchedule = errors.New("no schedule generated")

	// ErrEmptySchedule is returned when the capability produced no schedule
	// entries for a non-empty extraction.
	ErrEmptySchedule = errors.New("generated schedule is empty")
)

// ValidationRejectedError reports that an uploaded image failed the
// prescription gate. It is a normal negative outcome carrying the
// classifier's verdict, not a pipeline failure.
type ValidationRejectedError struct {
	Validation domain.Validation
}

func (e *ValidationRejectedError) Error() string {
	return fmt.Sprintf("image rejected as non-prescription (confidence %.2f): %s",
		e.Validation.Confidence, e.Validation.Reason)
}

// NotReadyError reports that schedule generation was refused because the
// extraction still has missing or low-confidence required fields. The
// readiness payload tells the caller exactly which fields block it.
type NotReadyError struct {
	Readiness scheduler.Readiness
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("extraction not ready for scheduling: %d missing, %d low-confidence",
		len(e.Readiness.Missing), len(e.Readiness.LowConfidence))
}
