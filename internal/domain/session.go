// Package domain contains entities without logic, just meta-data.
package domain

import "time"

type SessionID string

type SessionStatus string

const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionWaiting    SessionStatus = "waiting"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

// Session is the consultation record fetched from the scheduling
// collaborator at join time. The coordinator is its only mutator
// afterwards.
type Session struct {
	ID             SessionID     `json:"id"`
	Title          string        `json:"title"`
	ScheduledStart time.Time     `json:"scheduled_start"`
	ScheduledEnd   time.Time     `json:"scheduled_end"`
	Status         SessionStatus `json:"status"`

	RecordingEnabled     bool `json:"recording_enabled"`
	ScreenSharingEnabled bool `json:"screen_sharing_enabled"`
	ChatEnabled          bool `json:"chat_enabled"`
}

// Terminal reports whether the session reached an immutable state.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}
