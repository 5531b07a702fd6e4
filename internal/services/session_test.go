package services

import (
	"testing"

	"github.com/tbourn/go-prescription-backend/internal/domain"
)

func TestSession_ActivateAndEpoch(t *testing.T) {
	s := NewSession()

	if _, _, ok := s.Active(); ok {
		t.Fatalf("fresh session must have no active prescription")
	}

	s.Activate("p1", "hash1")
	id, hash, ok := s.Active()
	if !ok || id != "p1" || hash != "hash1" {
		t.Fatalf("unexpected active state: %q %q %v", id, hash, ok)
	}
	first := s.Epoch()

	s.Activate("p2", "hash2")
	if s.Epoch() <= first {
		t.Fatalf("activation must bump the epoch")
	}
}

func TestSession_ScheduleLifecycle(t *testing.T) {
	s := NewSession()
	entries := []domain.ScheduleEntry{{Medicine: "Paracetamol"}}

	if _, ok := s.Schedule("p1"); ok {
		t.Fatalf("no schedule expected before SetSchedule")
	}
	s.SetSchedule("p1", entries)
	if got, ok := s.Schedule("p1"); !ok || len(got) != 1 {
		t.Fatalf("schedule not stored: %v %v", got, ok)
	}

	s.InvalidateSchedule("p1")
	if _, ok := s.Schedule("p1"); ok {
		t.Fatalf("invalidated schedule must be gone")
	}
}

func TestSession_DropClearsActivePointer(t *testing.T) {
	s := NewSession()
	s.Activate("p1", "hash1")
	s.SetSchedule("p1", []domain.ScheduleEntry{{Medicine: "X"}})
	s.SetSchedule("p2", []domain.ScheduleEntry{{Medicine: "Y"}})

	s.Drop("p1")
	if _, _, ok := s.Active(); ok {
		t.Fatalf("dropping the active prescription must clear the pointer")
	}
	if _, ok := s.Schedule("p1"); ok {
		t.Fatalf("dropped schedule must be gone")
	}
	if _, ok := s.Schedule("p2"); !ok {
		t.Fatalf("unrelated schedule must survive")
	}
}

func TestSession_Reset(t *testing.T) {
	s := NewSession()
	s.Activate("p1", "hash1")
	s.SetSchedule("p1", []domain.ScheduleEntry{{Medicine: "X"}})
	before := s.Epoch()

	s.Reset()
	if _, _, ok := s.Active(); ok {
		t.Fatalf("reset must clear the active prescription")
	}
	if _, ok := s.Schedule("p1"); ok {
		t.Fatalf("reset must clear schedules")
	}
	if s.Epoch() <= before {
		t.Fatalf("reset must keep the epoch monotonic")
	}
}
