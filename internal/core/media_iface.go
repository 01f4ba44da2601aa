package core

import "context"

type TrackKind string

const (
	TrackAudio  TrackKind = "audio"
	TrackVideo  TrackKind = "video"
	TrackScreen TrackKind = "screen"
)

// MediaTrack is a capture handle. Tracks are exclusively owned by the
// peer registry; other components only issue enable/disable commands
// through the coordinator.
type MediaTrack interface {
	ID() string
	Kind() TrackKind
	SetEnabled(bool)
	Enabled() bool
	Stop()
}

// MediaSource acquires local capture tracks. Implementations wrap the
// device layer; tests substitute a double so the coordinator runs
// without hardware.
type MediaSource interface {
	// AcquireUserMedia returns microphone and camera tracks, or
	// ErrMediaAcquisitionDenied when access is refused.
	AcquireUserMedia(ctx context.Context) (audio, video MediaTrack, err error)
	// AcquireDisplayMedia returns a screen capture track.
	AcquireDisplayMedia(ctx context.Context) (MediaTrack, error)
}

type LinkState int

const (
	LinkNew LinkState = iota
	LinkNegotiating
	LinkConnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkNegotiating:
		return "negotiating"
	case LinkConnected:
		return "connected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MediaLink is one media negotiation lifecycle with a single remote
// participant. All callbacks may fire on transport goroutines; the
// coordinator reposts them onto its own loop.
type MediaLink interface {
	AddTrack(MediaTrack) error
	// ReplaceVideoTrack swaps the outgoing video track without
	// renegotiation, or reports ErrRenegotiationRequired.
	ReplaceVideoTrack(MediaTrack) error

	// HandleOffer applies a remote offer and synthesizes the answer SDP.
	HandleOffer(sdp string) (answer string, err error)
	HandleAnswer(sdp string) error
	CreateOffer() (sdp string, err error)
	AddICECandidate(CandidatePayload) error

	OnICECandidate(func(CandidatePayload))
	OnStateChange(func(LinkState))
	OnRemoteTrack(func(id string, kind TrackKind))

	Close()
}

// LinkFactory allocates one MediaLink per remote participant.
type LinkFactory interface {
	NewLink(participant string) (MediaLink, error)
}
