package core

import (
	"context"

	"github.com/dialcare/consult/internal/domain"
)

// SessionStore is the session-tracking collaborator. The coordinator
// fetches the record once at join time and reports every terminal
// transition back; it does not own the storage.
type SessionStore interface {
	// Fetch returns ErrSessionNotFound or ErrSessionExpired as typed
	// errors, never a generic fetch failure.
	Fetch(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	RecordJoin(ctx context.Context, id domain.SessionID, participant domain.ParticipantID) error
	RecordStart(ctx context.Context, id domain.SessionID) error
	RecordEnd(ctx context.Context, id domain.SessionID, status domain.SessionStatus) error
}
