package services

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-prescription-backend/internal/domain"
	"github.com/tbourn/go-prescription-backend/internal/repo"
	"github.com/tbourn/go-prescription-backend/internal/scheduler"
)

func TestGenerate_RefusedWhileNotReady(t *testing.T) {
	db := newServiceDB(t)
	stub := acceptingStub()
	session := NewSession()
	sched := NewScheduleService(db, stub, session)

	extraction := domain.Extraction{Medicines: []domain.Medicine{{
		Name:         "Amoxicillin",
		Dosage:       "N/A",
		Frequency:    "BD",
		DurationDays: "7",
	}}}
	p, err := repo.CreatePrescription(context.Background(), db, "h-gate", []byte{1}, extraction, domain.Audit{})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err = sched.Generate(context.Background(), p.ID)
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected NotReadyError, got %v", err)
	}
	want := scheduler.FieldRef{Medicine: "Amoxicillin", Field: scheduler.FieldDosage}
	if len(notReady.Readiness.Missing) != 1 || notReady.Readiness.Missing[0] != want {
		t.Fatalf("readiness payload wrong: %+v", notReady.Readiness)
	}
	if stub.scheduleCalls != 0 {
		t.Fatalf("gated generation must not reach the capability")
	}
}

func TestGenerate_CachesInSessionAndExportsPDF(t *testing.T) {
	db := newServiceDB(t)
	stub := acceptingStub()
	stub.entries = []domain.ScheduleEntry{{
		Medicine:     "Paracetamol",
		Dosage:       "500mg",
		Morning:      true,
		Night:        true,
		DurationDays: 5,
	}}
	session := NewSession()
	sched := NewScheduleService(db, stub, session)

	p, err := repo.CreatePrescription(context.Background(), db, "h-sched", []byte{1},
		readyExtraction("Paracetamol"), domain.Audit{})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	entries, err := sched.Generate(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(entries) != 1 || entries[0].Medicine != "Paracetamol" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	cached, err := sched.Current(p.ID)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if len(cached) != 1 {
		t.Fatalf("schedule not cached in session: %+v", cached)
	}

	pdf, err := sched.ExportPDF(p.ID)
	if err != nil {
		t.Fatalf("ExportPDF: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Fatalf("export must produce PDF bytes")
	}
}

func TestCurrent_NoScheduleYet(t *testing.T) {
	sched := NewScheduleService(newServiceDB(t), acceptingStub(), NewSession())

	if _, err := sched.Current("whatever"); !errors.Is(err, ErrNoSchedule) {
		t.Fatalf("expected ErrNoSchedule, got %v", err)
	}
	if _, err := sched.ExportPDF("whatever"); !errors.Is(err, ErrNoSchedule) {
		t.Fatalf("expected ErrNoSchedule for export, got %v", err)
	}
}

func TestGenerate_EmptyResultForNonEmptyExtraction(t *testing.T) {
	db := newServiceDB(t)
	stub := acceptingStub()
	stub.entries = nil
	sched := NewScheduleService(db, stub, NewSession())

	p, err := repo.CreatePrescription(context.Background(), db, "h-empty", []byte{1},
		readyExtraction("Paracetamol"), domain.Audit{})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := sched.Generate(context.Background(), p.ID); !errors.Is(err, ErrEmptySchedule) {
		t.Fatalf("expected ErrEmptySchedule, got %v", err)
	}
}

func TestGenerate_UnknownPrescription(t *testing.T) {
	sched := NewScheduleService(newServiceDB(t), acceptingStub(), NewSession())

	if _, err := sched.Generate(context.Background(), "missing-id"); !errors.Is(err, ErrPrescriptionNotFound) {
		t.Fatalf("expected ErrPrescriptionNotFound, got %v", err)
	}
}
