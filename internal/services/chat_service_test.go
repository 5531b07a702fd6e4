package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tbourn/go-prescription-backend/internal/domain"
	"github.com/tbourn/go-prescription-backend/internal/repo"
)

func seedPrescription(t *testing.T, svc *PrescriptionService, hash string) string {
	t.Helper()
	p, err := repo.CreatePrescription(context.Background(), svc.DB, hash, []byte{1},
		readyExtraction("Paracetamol"), domain.Audit{AmbiguityState: domain.StateClear})
	if err != nil {
		t.Fatalf("seed prescription: %v", err)
	}
	return p.ID
}

func TestAsk_PersistsQuestionAndAnswerPair(t *testing.T) {
	db := newServiceDB(t)
	stub := acceptingStub()
	stub.answer = "Take it three times a day."
	presc := NewPrescriptionService(db, stub, NewSession())
	chat := NewChatService(db, stub)

	id := seedPrescription(t, presc, "h-chat")

	msg, err := chat.Ask(context.Background(), id, "  how often?  ")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if msg.Role != domain.RoleAssistant || msg.Content != "Take it three times a day." {
		t.Fatalf("unexpected assistant message: %+v", msg)
	}
	if stub.gotQuestion != "how often?" {
		t.Fatalf("question not trimmed before asking: %q", stub.gotQuestion)
	}

	history, err := chat.History(context.Background(), id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user+assistant pair, got %d messages", len(history))
	}
	if history[0].Role != domain.RoleUser || history[0].Content != "how often?" {
		t.Fatalf("user turn not persisted first: %+v", history[0])
	}
	if history[1].Role != domain.RoleAssistant {
		t.Fatalf("assistant turn not persisted second: %+v", history[1])
	}
}

func TestAsk_PassesPriorHistoryToClarifier(t *testing.T) {
	db := newServiceDB(t)
	stub := acceptingStub()
	stub.answer = "With food."
	presc := NewPrescriptionService(db, stub, NewSession())
	chat := NewChatService(db, stub)

	id := seedPrescription(t, presc, "h-hist")
	if _, err := chat.Ask(context.Background(), id, "how often?"); err != nil {
		t.Fatalf("first Ask: %v", err)
	}
	if _, err := chat.Ask(context.Background(), id, "with food?"); err != nil {
		t.Fatalf("second Ask: %v", err)
	}

	if len(stub.gotHistory) != 2 {
		t.Fatalf("second question must carry the first pair as history, got %d", len(stub.gotHistory))
	}
	if stub.gotHistory[0].Content != "how often?" {
		t.Fatalf("history out of order: %+v", stub.gotHistory)
	}
}

func TestAsk_ValidationGuards(t *testing.T) {
	db := newServiceDB(t)
	stub := acceptingStub()
	presc := NewPrescriptionService(db, stub, NewSession())
	chat := NewChatService(db, stub)
	id := seedPrescription(t, presc, "h-guard")

	if _, err := chat.Ask(context.Background(), id, "   "); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}

	chat.MaxQuestionRunes = 10
	if _, err := chat.Ask(context.Background(), id, strings.Repeat("x", 11)); !errors.Is(err, ErrQuestionTooLong) {
		t.Fatalf("expected ErrQuestionTooLong, got %v", err)
	}
	if stub.clarifyCalls != 0 {
		t.Fatalf("rejected questions must not reach the capability")
	}
}

func TestAsk_UnknownPrescription(t *testing.T) {
	db := newServiceDB(t)
	chat := NewChatService(db, acceptingStub())

	if _, err := chat.Ask(context.Background(), "missing-id", "hello?"); !errors.Is(err, ErrPrescriptionNotFound) {
		t.Fatalf("expected ErrPrescriptionNotFound, got %v", err)
	}
}

func TestAsk_BlankAnswerGetsFallback(t *testing.T) {
	db := newServiceDB(t)
	stub := acceptingStub()
	stub.answer = "   "
	presc := NewPrescriptionService(db, stub, NewSession())
	chat := NewChatService(db, stub)
	id := seedPrescription(t, presc, "h-blank")

	msg, err := chat.Ask(context.Background(), id, "anything?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(msg.Content, "pharmacist") {
		t.Fatalf("blank answer must fall back to a safe reply, got %q", msg.Content)
	}
}

func TestClear_RemovesOnlyOwnHistory(t *testing.T) {
	db := newServiceDB(t)
	stub := acceptingStub()
	stub.answer = "ok"
	presc := NewPrescriptionService(db, stub, NewSession())
	chat := NewChatService(db, stub)

	a := seedPrescription(t, presc, "h-a")
	b := seedPrescription(t, presc, "h-b")
	if _, err := chat.Ask(context.Background(), a, "q1"); err != nil {
		t.Fatalf("Ask a: %v", err)
	}
	if _, err := chat.Ask(context.Background(), b, "q2"); err != nil {
		t.Fatalf("Ask b: %v", err)
	}

	if err := chat.Clear(context.Background(), a); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	ha, err := chat.History(context.Background(), a)
	if err != nil {
		t.Fatalf("History a: %v", err)
	}
	if len(ha) != 0 {
		t.Fatalf("cleared history must be empty, got %d", len(ha))
	}
	hb, err := chat.History(context.Background(), b)
	if err != nil {
		t.Fatalf("History b: %v", err)
	}
	if len(hb) != 2 {
		t.Fatalf("other prescription's history must survive, got %d", len(hb))
	}

	// Clearing an already empty history is fine.
	if err := chat.Clear(context.Background(), a); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}

func TestHistory_UnknownPrescription(t *testing.T) {
	db := newServiceDB(t)
	chat := NewChatService(db, acceptingStub())

	if _, err := chat.History(context.Background(), "missing-id"); !errors.Is(err, ErrPrescriptionNotFound) {
		t.Fatalf("expected ErrPrescriptionNotFound, got %v", err)
	}
	if err := chat.Clear(context.Background(), "missing-id"); !errors.Is(err, ErrPrescriptionNotFound) {
		t.Fatalf("expected ErrPrescriptionNotFound for clear, got %v", err)
	}
}
