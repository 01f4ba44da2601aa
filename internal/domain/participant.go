package domain

import (
	"errors"
	"time"
)

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

type ParticipantID string

type Role string

const (
	RoleInitiator   Role = "initiator"
	RoleCounterpart Role = "counterpart"
)

type ConnectionStatus string

const (
	Connecting   ConnectionStatus = "connecting"
	Connected    ConnectionStatus = "connected"
	Disconnected ConnectionStatus = "disconnected"
)

// Participant is one party of a session, local or remote. Records are
// retained after a leave so a rejoin reuses the same identity and chat
// history stays attributable.
type Participant struct {
	ID          ParticipantID    `json:"id"`
	Role        Role             `json:"role"`
	DisplayName string           `json:"display_name"`
	Status      ConnectionStatus `json:"status"`

	VideoEnabled  bool `json:"video_enabled"`
	AudioEnabled  bool `json:"audio_enabled"`
	ScreenSharing bool `json:"screen_sharing"`

	LastSeen time.Time `json:"-"`
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(id ParticipantID, role Role, name string) (*Participant, error) {
	if len(name) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Participant{
		ID:           id,
		Role:         role,
		DisplayName:  name,
		Status:       Connecting,
		VideoEnabled: true,
		AudioEnabled: true,
	}, nil
}
