// Package services – Session
//
// Session holds the in-memory working state of the current user: the active
// prescription and any schedules generated for stored prescriptions.
// Schedules are deliberately not persisted; regeneration is cheap and gated
// on readiness, so they live here until the prescription is deleted or the
// session resets.
package services

import (
	"sync"

	"github.com/tbourn/go-prescription-backend/internal/domain"
)

// Session is safe for concurrent use.
type Session struct {
	mu        sync.Mutex
	activeID  string
	imageHash string
	epoch     int
	schedules map[string][]domain.ScheduleEntry
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{schedules: make(map[string][]domain.ScheduleEntry)}
}

// Activate marks the given prescription as the session's active one and bumps
// the upload epoch. Switching prescriptions keeps previously generated
// schedules; a fresh upload of the same image simply re-activates it.
func (s *Session) Activate(id, imageHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = id
	s.imageHash = imageHash
	s.epoch++
}

// Active returns the active prescription id and hash, with ok=false when no
// prescription has been activated yet.
func (s *Session) Active() (id, imageHash string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID, s.imageHash, s.activeID != ""
}

// Epoch returns the current upload epoch. It increments on every Activate, so
// callers holding stale derived state can detect that a newer upload landed.
func (s *Session) Epoch() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// SetSchedule stores the generated schedule for a prescription.
func (s *Session) SetSchedule(id string, entries []domain.ScheduleEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[id] = entries
}

// Schedule returns the generated schedule for a prescription, with ok=false
// when none has been generated this session.
func (s *Session) Schedule(id string) ([]domain.ScheduleEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.schedules[id]
	return entries, ok
}

// InvalidateSchedule drops the generated schedule for a prescription. Called
// after an override merge, since the stored extraction no longer matches what
// the schedule was generated from.
func (s *Session) InvalidateSchedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, id)
}

// Drop clears all session state tied to a prescription, including the active
// pointer when it matches.
func (s *Session) Drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, id)
	if s.activeID == id {
		s.activeID = ""
		s.imageHash = ""
	}
}

// Reset clears the whole session. The epoch keeps counting so stale readers
// never observe a reused value.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = ""
	s.imageHash = ""
	s.epoch++
	s.schedules = make(map[string][]domain.ScheduleEntry)
}
