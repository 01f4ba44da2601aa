package app

import "github.com/dialcare/consult/internal/domain"

type EventKind string

const (
	EventSessionStatus EventKind = "session_status"
	EventParticipant   EventKind = "participant"
	EventPeerState     EventKind = "peer_state"
	EventRemoteTrack   EventKind = "remote_track"
	EventChatMessage   EventKind = "chat_message"
	EventConsent       EventKind = "consent"
	EventRecording     EventKind = "recording"
	EventScreenShare   EventKind = "screen_share"
	EventError         EventKind = "error"
)

// Event is what the rendering layer consumes. Only the fields relevant
// to Kind are populated.
type Event struct {
	Kind EventKind

	Status      domain.SessionStatus
	Participant *domain.Participant
	PeerState   string
	TrackID     string
	TrackKind   string
	Message     *domain.ChatMessage
	Consent     *domain.ConsentRequest
	Active      bool
	Err         error
}
