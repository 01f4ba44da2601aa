package app

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
)

// linkEntry pairs a MediaLink with the negotiation bookkeeping the
// registry owns: whether a remote description was applied yet, and the
// candidates buffered until it is.
type linkEntry struct {
	link      core.MediaLink
	state     core.LinkState
	remoteSet bool
	pending   []core.CandidatePayload
}

// PendingOffer is an offer the coordinator still has to put on the wire.
type PendingOffer struct {
	Participant domain.ParticipantID
	SDP         string
}

// PeerRegistry owns every MediaLink, one per remote participant,
// enforcing the at-most-one invariant centrally. Confined to the
// coordinator loop. Local tracks are owned here; other components only
// issue commands against them.
type PeerRegistry struct {
	log     zerolog.Logger
	factory core.LinkFactory
	entries map[domain.ParticipantID]*linkEntry
	tracks  []core.MediaTrack

	// Callbacks fire on transport goroutines; the coordinator wires
	// them to repost onto its loop.
	onCandidate   func(domain.ParticipantID, core.CandidatePayload)
	onState       func(domain.ParticipantID, core.LinkState)
	onRemoteTrack func(domain.ParticipantID, string, core.TrackKind)
}

func NewPeerRegistry(factory core.LinkFactory, log zerolog.Logger) *PeerRegistry {
	return &PeerRegistry{
		log:     log.With().Str("module", "app.peers").Logger(),
		factory: factory,
		entries: make(map[domain.ParticipantID]*linkEntry),
	}
}

func (r *PeerRegistry) OnCandidate(fn func(domain.ParticipantID, core.CandidatePayload)) {
	r.onCandidate = fn
}

func (r *PeerRegistry) OnState(fn func(domain.ParticipantID, core.LinkState)) {
	r.onState = fn
}

func (r *PeerRegistry) OnRemoteTrack(fn func(domain.ParticipantID, string, core.TrackKind)) {
	r.onRemoteTrack = fn
}

// SetLocalTracks records the tracks attached to every link created from
// now on.
func (r *PeerRegistry) SetLocalTracks(tracks ...core.MediaTrack) {
	r.tracks = tracks
}

// Create allocates a link for the participant. Idempotent: an existing
// open link is returned as-is. A failed or closed link is discarded
// first, so a replacement never coexists with it.
func (r *PeerRegistry) Create(pid domain.ParticipantID) (created bool, err error) {
	if e, ok := r.entries[pid]; ok {
		if e.state != core.LinkFailed && e.state != core.LinkClosed {
			return false, nil
		}
		e.link.Close()
		delete(r.entries, pid)
	}

	link, err := r.factory.NewLink(string(pid))
	if err != nil {
		return false, fmt.Errorf("new link for %s: %w", pid, err)
	}
	if r.onCandidate != nil {
		link.OnICECandidate(func(c core.CandidatePayload) { r.onCandidate(pid, c) })
	}
	if r.onState != nil {
		link.OnStateChange(func(s core.LinkState) { r.onState(pid, s) })
	}
	if r.onRemoteTrack != nil {
		link.OnRemoteTrack(func(id string, kind core.TrackKind) { r.onRemoteTrack(pid, id, kind) })
	}
	for _, t := range r.tracks {
		if err := link.AddTrack(t); err != nil {
			link.Close()
			return false, fmt.Errorf("attach %s track for %s: %w", t.Kind(), pid, err)
		}
	}
	r.entries[pid] = &linkEntry{link: link, state: core.LinkNew}
	r.log.Info().Str("participant", string(pid)).Msg("peer link created")
	return true, nil
}

// Offer creates a local offer and marks the link negotiating.
func (r *PeerRegistry) Offer(pid domain.ParticipantID) (string, error) {
	e, ok := r.entries[pid]
	if !ok {
		return "", fmt.Errorf("offer for unknown peer %s: %w", pid, core.ErrNegotiationFailed)
	}
	sdp, err := e.link.CreateOffer()
	if err != nil {
		return "", fmt.Errorf("create offer for %s: %w", pid, err)
	}
	e.state = core.LinkNegotiating
	return sdp, nil
}

// HandleOffer applies a remote offer, synthesizing the answer. The link
// is created on demand so an offer racing ahead of the join
// announcement still negotiates.
func (r *PeerRegistry) HandleOffer(pid domain.ParticipantID, sdp string) (answer string, err error) {
	if _, err := r.Create(pid); err != nil {
		return "", err
	}
	e := r.entries[pid]
	answer, err = e.link.HandleOffer(sdp)
	if err != nil {
		return "", fmt.Errorf("apply offer from %s: %w", pid, err)
	}
	e.state = core.LinkNegotiating
	e.remoteSet = true
	r.flushPending(pid, e)
	return answer, nil
}

// HandleAnswer applies the counterpart's answer to our offer.
func (r *PeerRegistry) HandleAnswer(pid domain.ParticipantID, sdp string) error {
	e, ok := r.entries[pid]
	if !ok {
		return fmt.Errorf("answer from unknown peer %s: %w", pid, core.ErrNegotiationFailed)
	}
	if err := e.link.HandleAnswer(sdp); err != nil {
		return fmt.Errorf("apply answer from %s: %w", pid, err)
	}
	e.remoteSet = true
	r.flushPending(pid, e)
	return nil
}

// HandleCandidate applies a remote ICE candidate, buffering it while no
// remote description is set yet. Candidates for closed or unknown links
// are dropped with a log line, never silently.
func (r *PeerRegistry) HandleCandidate(pid domain.ParticipantID, c core.CandidatePayload) error {
	e, ok := r.entries[pid]
	if !ok || e.state == core.LinkClosed {
		r.log.Warn().Str("participant", string(pid)).Msg("candidate for absent or closed link, dropped")
		return nil
	}
	if !e.remoteSet {
		e.pending = append(e.pending, c)
		r.log.Debug().Str("participant", string(pid)).Int("buffered", len(e.pending)).Msg("candidate buffered pre-negotiation")
		return nil
	}
	if err := e.link.AddICECandidate(c); err != nil {
		return fmt.Errorf("add candidate from %s: %w", pid, err)
	}
	return nil
}

func (r *PeerRegistry) flushPending(pid domain.ParticipantID, e *linkEntry) {
	for _, c := range e.pending {
		if err := e.link.AddICECandidate(c); err != nil {
			r.log.Error().Err(err).Str("participant", string(pid)).Msg("flush buffered candidate")
		}
	}
	e.pending = nil
}

// ReplaceVideoTrackAll swaps the outgoing video track on every link.
// Links whose transport cannot replace in place get a fresh offer
// instead; the caller puts those on the wire.
func (r *PeerRegistry) ReplaceVideoTrackAll(track core.MediaTrack) ([]PendingOffer, error) {
	var offers []PendingOffer
	for pid, e := range r.entries {
		if e.state == core.LinkClosed || e.state == core.LinkFailed {
			continue
		}
		err := e.link.ReplaceVideoTrack(track)
		if err == nil {
			continue
		}
		if !errors.Is(err, core.ErrRenegotiationRequired) {
			return offers, fmt.Errorf("replace video track for %s: %w", pid, err)
		}
		if err := e.link.AddTrack(track); err != nil {
			return offers, fmt.Errorf("add replacement track for %s: %w", pid, err)
		}
		sdp, err := r.Offer(pid)
		if err != nil {
			return offers, err
		}
		offers = append(offers, PendingOffer{Participant: pid, SDP: sdp})
	}
	return offers, nil
}

// SetState records a transport-reported state transition.
func (r *PeerRegistry) SetState(pid domain.ParticipantID, s core.LinkState) {
	if e, ok := r.entries[pid]; ok {
		e.state = s
	}
}

func (r *PeerRegistry) State(pid domain.ParticipantID) (core.LinkState, bool) {
	e, ok := r.entries[pid]
	if !ok {
		return core.LinkClosed, false
	}
	return e.state, true
}

// Drop closes and removes one link.
func (r *PeerRegistry) Drop(pid domain.ParticipantID) {
	if e, ok := r.entries[pid]; ok {
		e.link.Close()
		delete(r.entries, pid)
		r.log.Info().Str("participant", string(pid)).Msg("peer link dropped")
	}
}

// CloseAll tears down every link. Part of session teardown.
func (r *PeerRegistry) CloseAll() {
	for pid, e := range r.entries {
		e.link.Close()
		delete(r.entries, pid)
	}
}

func (r *PeerRegistry) Count() int { return len(r.entries) }
