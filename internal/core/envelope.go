package core

import (
	"encoding/json"
	"fmt"

	"github.com/dialcare/consult/internal/domain"
)

type EnvelopeType string

const (
	EnvelopeOffer             EnvelopeType = "offer"
	EnvelopeAnswer            EnvelopeType = "answer"
	EnvelopeICECandidate      EnvelopeType = "ice_candidate"
	EnvelopeParticipantJoined EnvelopeType = "participant_joined"
	EnvelopeParticipantLeft   EnvelopeType = "participant_left"
	EnvelopeChatMessage       EnvelopeType = "chat_message"
	EnvelopeConsentRequest    EnvelopeType = "consent_request"
	EnvelopeConsentResponse   EnvelopeType = "consent_response"
	EnvelopeRecordingStatus   EnvelopeType = "recording_status"
	EnvelopeHeartbeat         EnvelopeType = "heartbeat"
)

// Envelope is the discriminated message carried by the signaling
// channel. An empty TargetID means broadcast. Seq is stamped by the
// relay per (sender, target) pair; cross-pair ordering is unspecified.
type Envelope struct {
	Type     EnvelopeType         `json:"type"`
	SenderID domain.ParticipantID `json:"sender_id"`
	TargetID domain.ParticipantID `json:"target_id,omitempty"`
	Seq      uint64               `json:"seq,omitempty"`
	Payload  json.RawMessage      `json:"payload,omitempty"`
}

// NewEnvelope marshals payload in place so handlers on the other side
// can decode it lazily by type.
func NewEnvelope(t EnvelopeType, sender, target domain.ParticipantID, payload any) (Envelope, error) {
	env := Envelope{Type: t, SenderID: sender, TargetID: target}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Payload = b
	}
	return env, nil
}

// DecodePayload unmarshals the payload into out.
func (e Envelope) DecodePayload(out any) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// SDPPayload carries an offer or answer.
type SDPPayload struct {
	SDP string `json:"sdp"`
}

type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// JoinedPayload announces a participant with its presence meta.
type JoinedPayload struct {
	ID           domain.ParticipantID `json:"id"`
	Role         domain.Role          `json:"role"`
	DisplayName  string               `json:"display_name"`
	VideoEnabled bool                 `json:"video_enabled"`
	AudioEnabled bool                 `json:"audio_enabled"`
}

type LeftPayload struct {
	ID domain.ParticipantID `json:"id"`
}

type ConsentRequestPayload struct {
	ID          string               `json:"id"`
	Type        domain.ConsentType   `json:"consent_type"`
	RequestedBy domain.ParticipantID `json:"requested_by"`
	Message     string               `json:"message"`
}

type ConsentResponsePayload struct {
	ID      string `json:"id"`
	Granted bool   `json:"granted"`
}

type RecordingStatusPayload struct {
	Recording bool                 `json:"recording"`
	By        domain.ParticipantID `json:"by"`
}
