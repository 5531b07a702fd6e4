package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-prescription-backend/internal/domain"
	"github.com/tbourn/go-prescription-backend/internal/repo"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), fmt.Sprintf("service_test_%d.db", time.Now().UnixNano()))
	dsn := path + "?_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.Prescription{}, &domain.ChatMessage{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testImage(seed uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{R: seed, A: 255})
	return img
}

func conf(v float64) *float64 { return &v }

// stubVision fakes the vision chain for all three service contracts.
type stubVision struct {
	validateCalls int
	valid         bool
	verdict       domain.Validation

	analyzeCalls int
	analysis     *domain.Analysis
	state        domain.AmbiguityState

	clarifyCalls int
	answer       string
	gotQuestion  string
	gotHistory   []domain.ChatMessage

	scheduleCalls int
	entries       []domain.ScheduleEntry
	genErr        error
}

func (s *stubVision) ValidatePrescription(ctx context.Context, img image.Image) (bool, domain.Validation, error) {
	s.validateCalls++
	return s.valid, s.verdict, nil
}

func (s *stubVision) AnalyzePrescription(ctx context.Context, img image.Image) (*domain.Analysis, domain.AmbiguityState, error) {
	s.analyzeCalls++
	return s.analysis, s.state, nil
}

func (s *stubVision) Clarify(ctx context.Context, extraction domain.Extraction, history []domain.ChatMessage, question string) (string, error) {
	s.clarifyCalls++
	s.gotQuestion = question
	s.gotHistory = history
	return s.answer, nil
}

func (s *stubVision) GenerateSchedule(ctx context.Context, extraction domain.Extraction) ([]domain.ScheduleEntry, error) {
	s.scheduleCalls++
	return s.entries, s.genErr
}

func readyExtraction(name string) domain.Extraction {
	return domain.Extraction{Medicines: []domain.Medicine{{
		Name:         name,
		Dosage:       "500mg",
		Frequency:    "TID",
		DurationDays: "5",
		Confidence:   conf(0.95),
	}}}
}

func acceptingStub() *stubVision {
	return &stubVision{
		valid:   true,
		verdict: domain.Validation{IsPrescription: true, Confidence: 0.98, Reason: "clear Rx"},
		analysis: &domain.Analysis{
			Extraction: readyExtraction("Paracetamol"),
			Audit:      domain.Audit{},
			Validation: domain.Validation{IsPrescription: true, Confidence: 0.98, Reason: "clear Rx"},
		},
		state: domain.StateClear,
	}
}

func TestIngest_AnalyzesAndPersists(t *testing.T) {
	db := newServiceDB(t)
	stub := acceptingStub()
	session := NewSession()
	svc := NewPrescriptionService(db, stub, session)

	res, err := svc.Ingest(context.Background(), testImage(1))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Restored {
		t.Fatalf("fresh image must not report restored")
	}
	if stub.validateCalls != 1 || stub.analyzeCalls != 1 {
		t.Fatalf("expected exactly one validate and one analyze call, got %d/%d",
			stub.validateCalls, stub.analyzeCalls)
	}
	if res.Analysis.Audit.AmbiguityState != domain.StateClear {
		t.Fatalf("ambiguity state not injected into audit: %+v", res.Analysis.Audit)
	}
	if res.Analysis.Audit.Validation == nil || !res.Analysis.Audit.Validation.IsPrescription {
		t.Fatalf("validation not stored in audit: %+v", res.Analysis.Audit)
	}

	stored, err := svc.Get(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("Get after Ingest: %v", err)
	}
	if len(stored.Analysis.Extraction.Medicines) != 1 || stored.Analysis.Extraction.Medicines[0].Name != "Paracetamol" {
		t.Fatalf("extraction not persisted: %+v", stored.Analysis.Extraction)
	}

	if id, hash, ok := session.Active(); !ok || id != res.ID || hash != res.ImageHash {
		t.Fatalf("session not activated: %q %q %v", id, hash, ok)
	}
}

func TestIngest_SameImageRestoresWithoutReanalysis(t *testing.T) {
	db := newServiceDB(t)
	stub := acceptingStub()
	svc := NewPrescriptionService(db, stub, NewSession())

	first, err := svc.Ingest(context.Background(), testImage(2))
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := svc.Ingest(context.Background(), testImage(2))
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	if !second.Restored {
		t.Fatalf("re-upload of a known image must restore")
	}
	if second.ID != first.ID {
		t.Fatalf("restore returned a different prescription: %s vs %s", second.ID, first.ID)
	}
	if stub.validateCalls != 1 || stub.analyzeCalls != 1 {
		t.Fatalf("restore must not touch the capability, got %d/%d calls",
			stub.validateCalls, stub.analyzeCalls)
	}
}

func TestIngest_ValidationRejectionPersistsNothing(t *testing.T) {
	db := newServiceDB(t)
	stub := &stubVision{
		valid:   false,
		verdict: domain.Validation{IsPrescription: false, Confidence: 0.95, Reason: "looks like a receipt"},
	}
	svc := NewPrescriptionService(db, stub, NewSession())

	_, err := svc.Ingest(context.Background(), testImage(3))
	var rejected *ValidationRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected ValidationRejectedError, got %v", err)
	}
	if rejected.Validation.Reason != "looks like a receipt" {
		t.Fatalf("verdict not carried: %+v", rejected.Validation)
	}
	if stub.analyzeCalls != 0 {
		t.Fatalf("rejected image must not be analyzed")
	}

	var count int64
	if err := db.Model(&domain.Prescription{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected image must not be persisted, found %d rows", count)
	}
}

func TestRestore_SynthesizesValidationAndOrdersHistory(t *testing.T) {
	db := newServiceDB(t)
	svc := NewPrescriptionService(db, acceptingStub(), NewSession())

	// Stored before validation verdicts were kept in the audit.
	p, err := repo.CreatePrescription(context.Background(), db, "legacy-hash", []byte{1},
		readyExtraction("Ibuprofen"), domain.Audit{AmbiguityState: domain.StateClear})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, m := range []struct{ role, content string }{
		{domain.RoleUser, "what is the dosage?"},
		{domain.RoleAssistant, "400mg three times a day"},
	} {
		if _, err := repo.CreateChatMessage(context.Background(), db, p.ID, m.role, m.content); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	res, err := svc.Restore(context.Background(), "legacy-hash")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !res.Restored {
		t.Fatalf("Restore must report restored")
	}
	v := res.Analysis.Validation
	if !v.IsPrescription || v.Confidence != 1.0 {
		t.Fatalf("missing validation must be synthesized as accepted: %+v", v)
	}
	if len(res.History) != 2 || res.History[0].Role != domain.RoleUser || res.History[1].Role != domain.RoleAssistant {
		t.Fatalf("history not ordered: %+v", res.History)
	}
}

func TestRestore_RepeatedCallsReturnIdenticalHistory(t *testing.T) {
	db := newServiceDB(t)
	svc := NewPrescriptionService(db, acceptingStub(), NewSession())

	p, err := repo.CreatePrescription(context.Background(), db, "stable-hash", []byte{1},
		readyExtraction("Cetirizine"), domain.Audit{AmbiguityState: domain.StateClear})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, m := range []struct{ role, content string }{
		{domain.RoleUser, "can I take it at night?"},
		{domain.RoleAssistant, "yes, once daily at night"},
		{domain.RoleUser, "with food?"},
	} {
		if _, err := repo.CreateChatMessage(context.Background(), db, p.ID, m.role, m.content); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	first, err := svc.Restore(context.Background(), "stable-hash")
	if err != nil {
		t.Fatalf("first Restore: %v", err)
	}
	second, err := svc.Restore(context.Background(), "stable-hash")
	if err != nil {
		t.Fatalf("second Restore: %v", err)
	}

	if len(first.History) != len(second.History) {
		t.Fatalf("history length changed between restores: %d vs %d", len(first.History), len(second.History))
	}
	for i := range first.History {
		a, b := first.History[i], second.History[i]
		if a.ID != b.ID || a.Role != b.Role || a.Content != b.Content {
			t.Fatalf("history diverged at %d: %+v vs %+v", i, a, b)
		}
	}
}

func TestRestore_UnknownHash(t *testing.T) {
	db := newServiceDB(t)
	svc := NewPrescriptionService(db, acceptingStub(), NewSession())

	if _, err := svc.Restore(context.Background(), "nope"); !errors.Is(err, ErrPrescriptionNotFound) {
		t.Fatalf("expected ErrPrescriptionNotFound, got %v", err)
	}
}

func TestMergeOverrides_ForcesConfidenceAndInvalidatesSchedule(t *testing.T) {
	db := newServiceDB(t)
	session := NewSession()
	svc := NewPrescriptionService(db, acceptingStub(), session)

	extraction := domain.Extraction{Medicines: []domain.Medicine{{
		Name:         "Amoxicillin",
		Dosage:       "N/A",
		Frequency:    "BD",
		DurationDays: "7",
		Confidence:   conf(0.5),
	}}}
	p, err := repo.CreatePrescription(context.Background(), db, "h-ov", []byte{1}, extraction, domain.Audit{})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	session.SetSchedule(p.ID, []domain.ScheduleEntry{{Medicine: "Amoxicillin"}})

	view, err := svc.MergeOverrides(context.Background(), p.ID, Overrides{
		"Amoxicillin": {"dosage": "250mg"},
	})
	if err != nil {
		t.Fatalf("MergeOverrides: %v", err)
	}
	med := view.Analysis.Extraction.Medicines[0]
	if med.Dosage.String() != "250mg" {
		t.Fatalf("override not applied: %+v", med)
	}
	if med.ConfidenceValue() != 1.0 {
		t.Fatalf("override must force full confidence, got %v", med.ConfidenceValue())
	}

	// Persisted, not just returned.
	stored, err := svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Analysis.Extraction.Medicines[0].Dosage.String() != "250mg" {
		t.Fatalf("override not persisted: %+v", stored.Analysis.Extraction)
	}

	if _, ok := session.Schedule(p.ID); ok {
		t.Fatalf("merge must invalidate the generated schedule")
	}

	ready, err := svc.Readiness(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Readiness: %v", err)
	}
	if !ready.IsReady {
		t.Fatalf("resolved extraction must be ready: %+v", ready)
	}
}

func TestMergeOverrides_UnknownMedicineIsIgnored(t *testing.T) {
	db := newServiceDB(t)
	svc := NewPrescriptionService(db, acceptingStub(), NewSession())

	p, err := repo.CreatePrescription(context.Background(), db, "h-ign", []byte{1},
		readyExtraction("Paracetamol"), domain.Audit{})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	view, err := svc.MergeOverrides(context.Background(), p.ID, Overrides{
		"Nonexistol": {"dosage": "1mg"},
	})
	if err != nil {
		t.Fatalf("MergeOverrides: %v", err)
	}
	if view.Analysis.Extraction.Medicines[0].Dosage.String() != "500mg" {
		t.Fatalf("unrelated medicine must be untouched: %+v", view.Analysis.Extraction)
	}
}

func TestDelete_DropsSessionState(t *testing.T) {
	db := newServiceDB(t)
	session := NewSession()
	svc := NewPrescriptionService(db, acceptingStub(), session)

	res, err := svc.Ingest(context.Background(), testImage(4))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	session.SetSchedule(res.ID, []domain.ScheduleEntry{{Medicine: "Paracetamol"}})

	if err := svc.Delete(context.Background(), res.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, ok := session.Active(); ok {
		t.Fatalf("delete must clear the active prescription")
	}
	if _, ok := session.Schedule(res.ID); ok {
		t.Fatalf("delete must drop the cached schedule")
	}
	if err := svc.Delete(context.Background(), res.ID); !errors.Is(err, ErrPrescriptionNotFound) {
		t.Fatalf("second delete must report not found, got %v", err)
	}
}

func TestListSummaries_LabelsAndOrder(t *testing.T) {
	db := newServiceDB(t)
	svc := NewPrescriptionService(db, acceptingStub(), NewSession())

	multi := domain.Extraction{Medicines: []domain.Medicine{
		{Name: "amoxicillin trihydrate", Dosage: "250mg", Frequency: "BD", DurationDays: "7"},
		{Name: "Paracetamol", Dosage: "500mg", Frequency: "TID", DurationDays: "5"},
	}}
	if _, err := repo.CreatePrescription(context.Background(), db, "h-old", []byte{1}, multi, domain.Audit{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := repo.CreatePrescription(context.Background(), db, "h-new", []byte{2}, domain.Extraction{}, domain.Audit{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := svc.ListSummaries(context.Background())
	if err != nil {
		t.Fatalf("ListSummaries: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(out))
	}
	if out[0].ImageHash != "h-new" {
		t.Fatalf("expected newest first, got %+v", out)
	}
	if out[0].DisplayLabel != "Empty Prescription" || out[0].MedicineCount != 0 {
		t.Fatalf("empty extraction label wrong: %+v", out[0])
	}
	if out[1].DisplayLabel != "Amoxicillin Trihydrate + 1 more" {
		t.Fatalf("display label wrong: %q", out[1].DisplayLabel)
	}
}
