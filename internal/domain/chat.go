package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxChatContentLen = 4096

var ErrChatContentTooLong = errors.New("chat content too long")

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

type DeliveryState string

const (
	DeliverySending DeliveryState = "sending"
	DeliverySent    DeliveryState = "sent"
)

// ChatMessage is an append-only transcript entry. Never mutated after
// creation except for the local delivery substate.
type ChatMessage struct {
	ID         string        `json:"id"`
	SenderID   ParticipantID `json:"sender_id"`
	SenderRole Role          `json:"sender_role"`
	Content    string        `json:"content"`
	Type       MessageType   `json:"message_type"`
	Timestamp  time.Time     `json:"timestamp"`

	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	FileURL  string `json:"file_url,omitempty"`

	Delivery DeliveryState `json:"-"`
}

func NewChatMessage(sender ParticipantID, role Role, content string, t MessageType) (*ChatMessage, error) {
	if len(content) > MaxChatContentLen {
		return nil, ErrChatContentTooLong
	}
	return &ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   sender,
		SenderRole: role,
		Content:    content,
		Type:       t,
		Timestamp:  time.Now(),
		Delivery:   DeliverySending,
	}, nil
}
