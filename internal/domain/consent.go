package domain

import (
	"time"

	"github.com/google/uuid"
)

type ConsentType string

const (
	ConsentRecording     ConsentType = "recording"
	ConsentScreenSharing ConsentType = "screen_sharing"
)

type ConsentStatus string

const (
	ConsentPending ConsentStatus = "pending"
	ConsentGranted ConsentStatus = "granted"
	ConsentDenied  ConsentStatus = "denied"
)

// ConsentRequest is one approval round for a sensitive action. A
// resolved request never reopens; a new action needs a new request.
type ConsentRequest struct {
	ID          string        `json:"id"`
	Type        ConsentType   `json:"type"`
	RequestedBy ParticipantID `json:"requested_by"`
	Status      ConsentStatus `json:"status"`
	Message     string        `json:"message"`
	CreatedAt   time.Time     `json:"created_at"`
}

func NewConsentRequest(t ConsentType, by ParticipantID, message string) *ConsentRequest {
	return &ConsentRequest{
		ID:          uuid.NewString(),
		Type:        t,
		RequestedBy: by,
		Status:      ConsentPending,
		Message:     message,
		CreatedAt:   time.Now(),
	}
}
