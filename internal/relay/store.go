package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
)

// SessionBook is the relayd-side session-tracking collaborator: an
// in-memory record store behind the bootstrap and lifecycle endpoints.
// Records live only for the relay process lifetime; durable storage is
// the scheduling system's concern.
type SessionBook struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.Session
}

func NewSessionBook() *SessionBook {
	return &SessionBook{sessions: make(map[domain.SessionID]*domain.Session)}
}

// Create seeds a session record in the scheduled state.
func (b *SessionBook) Create(s domain.Session) domain.Session {
	if s.ID == "" {
		s.ID = domain.SessionID(uuid.NewString())
	}
	s.Status = domain.SessionScheduled
	b.mu.Lock()
	b.sessions[s.ID] = &s
	b.mu.Unlock()
	return s
}

// Get returns the record, ErrSessionNotFound, or ErrSessionExpired when
// the scheduled window has fully passed without the session starting.
func (b *SessionBook) Get(id domain.SessionID, now time.Time) (domain.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	if !ok {
		return domain.Session{}, core.ErrSessionNotFound
	}
	if s.Status == domain.SessionScheduled && now.After(s.ScheduledEnd) {
		return domain.Session{}, core.ErrSessionExpired
	}
	return *s, nil
}

// SetStatus records a lifecycle transition reported by a coordinator.
// Terminal records are immutable.
func (b *SessionBook) SetStatus(id domain.SessionID, status domain.SessionStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return core.ErrSessionNotFound
	}
	if s.Status.Terminal() {
		return core.ErrInvalidTransition
	}
	s.Status = status
	return nil
}

// MarkJoined flips a scheduled session to waiting when the first
// participant arrives.
func (b *SessionBook) MarkJoined(id domain.SessionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return core.ErrSessionNotFound
	}
	if s.Status == domain.SessionScheduled {
		s.Status = domain.SessionWaiting
	}
	return nil
}
