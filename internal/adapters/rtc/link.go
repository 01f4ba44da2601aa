// Package rtc binds the peer negotiation interfaces to pion.
package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dialcare/consult/internal/core"
)

// Link is one pion peer connection talking to a single remote
// participant. Callbacks fire on pion's goroutines; callers repost.
type Link struct {
	log zerolog.Logger
	pc  *webrtc.PeerConnection

	mu          sync.Mutex
	videoSender *webrtc.RTPSender

	onICE   func(core.CandidatePayload)
	onState func(core.LinkState)
	onTrack func(id string, kind core.TrackKind)
}

func NewLink(cfg webrtc.Configuration, participant string, log zerolog.Logger) (*Link, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	l := &Link{
		log: log.With().Str("module", "rtc.link").Str("peer", participant).Logger(),
		pc:  pc,
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		l.mu.Lock()
		fn := l.onICE
		l.mu.Unlock()
		if fn != nil {
			init := cand.ToJSON()
			fn(core.CandidatePayload{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		l.log.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		l.mu.Lock()
		fn := l.onState
		l.mu.Unlock()
		if fn != nil {
			fn(mapState(s))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		l.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		l.mu.Lock()
		fn := l.onTrack
		l.mu.Unlock()
		if fn != nil {
			fn(track.ID(), remoteKind(track))
		}
	})

	return l, nil
}

func mapState(s webrtc.PeerConnectionState) core.LinkState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return core.LinkNew
	case webrtc.PeerConnectionStateConnecting:
		return core.LinkNegotiating
	case webrtc.PeerConnectionStateConnected:
		return core.LinkConnected
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		return core.LinkFailed
	default:
		return core.LinkClosed
	}
}

// remoteKind distinguishes screen capture from camera video by the
// stream id chosen at acquisition.
func remoteKind(track *webrtc.TrackRemote) core.TrackKind {
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		return core.TrackAudio
	}
	if track.StreamID() == "screen" {
		return core.TrackScreen
	}
	return core.TrackVideo
}

func (l *Link) AddTrack(t core.MediaTrack) error {
	local, ok := t.(*Track)
	if !ok {
		return fmt.Errorf("unsupported track type %T", t)
	}
	sender, err := l.pc.AddTrack(local.Local())
	if err != nil {
		return fmt.Errorf("add %s track: %w", t.Kind(), err)
	}
	if t.Kind() != core.TrackAudio {
		l.mu.Lock()
		l.videoSender = sender
		l.mu.Unlock()
	}
	return nil
}

func (l *Link) ReplaceVideoTrack(t core.MediaTrack) error {
	local, ok := t.(*Track)
	if !ok {
		return fmt.Errorf("unsupported track type %T", t)
	}
	l.mu.Lock()
	sender := l.videoSender
	l.mu.Unlock()
	if sender == nil {
		return core.ErrRenegotiationRequired
	}
	if err := sender.ReplaceTrack(local.Local()); err != nil {
		return fmt.Errorf("%w: %s", core.ErrRenegotiationRequired, err)
	}
	return nil
}

func (l *Link) HandleOffer(sdp string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local answer: %w", err)
	}
	<-gatherComplete
	return l.pc.LocalDescription().SDP, nil
}

func (l *Link) HandleAnswer(sdp string) error {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (l *Link) CreateOffer() (string, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local offer: %w", err)
	}
	<-gatherComplete
	return l.pc.LocalDescription().SDP, nil
}

func (l *Link) AddICECandidate(p core.CandidatePayload) error {
	return l.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	})
}

func (l *Link) OnICECandidate(fn func(core.CandidatePayload)) {
	l.mu.Lock()
	l.onICE = fn
	l.mu.Unlock()
}

func (l *Link) OnStateChange(fn func(core.LinkState)) {
	l.mu.Lock()
	l.onState = fn
	l.mu.Unlock()
}

func (l *Link) OnRemoteTrack(fn func(id string, kind core.TrackKind)) {
	l.mu.Lock()
	l.onTrack = fn
	l.mu.Unlock()
}

func (l *Link) Close() {
	if err := l.pc.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		l.log.Error().Err(err).Msg("close error")
	}
}
