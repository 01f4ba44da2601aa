package app

import (
	"fmt"
	"time"

	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
)

// handleEnvelope is the single serialized entry point for inbound
// traffic. It runs on the coordinator loop.
func (c *Coordinator) handleEnvelope(env core.Envelope) {
	if env.SenderID == c.self.ID {
		return
	}
	if c.session.Status.Terminal() {
		return
	}
	c.presence.Touch(env.SenderID, time.Now())

	var err error
	switch env.Type {
	case core.EnvelopeParticipantJoined:
		err = c.handleJoined(env)
	case core.EnvelopeParticipantLeft:
		err = c.handleLeft(env)
	case core.EnvelopeOffer:
		err = c.handleOffer(env)
	case core.EnvelopeAnswer:
		err = c.handleAnswer(env)
	case core.EnvelopeICECandidate:
		err = c.handleCandidate(env)
	case core.EnvelopeChatMessage:
		err = c.handleChat(env)
	case core.EnvelopeConsentRequest:
		err = c.handleConsentRequest(env)
	case core.EnvelopeConsentResponse:
		err = c.handleConsentResponse(env)
	case core.EnvelopeRecordingStatus:
		err = c.handleRecordingStatus(env)
	case core.EnvelopeHeartbeat:
		// Touch above is the whole effect.
	default:
		c.log.Warn().Str("type", string(env.Type)).Msg("unknown envelope")
	}
	if err != nil {
		c.log.Error().Err(err).Str("type", string(env.Type)).Str("sender", string(env.SenderID)).Msg("handle envelope")
		c.emit(Event{Kind: EventError, Err: err})
	}
}

func (c *Coordinator) handleJoined(env core.Envelope) error {
	var p core.JoinedPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	pt, err := domain.NewParticipant(p.ID, p.Role, p.DisplayName)
	if err != nil {
		return fmt.Errorf("joined announcement: %w", err)
	}
	pt.VideoEnabled = p.VideoEnabled
	pt.AudioEnabled = p.AudioEnabled
	joined := c.presence.Upsert(pt, time.Now())
	c.emit(Event{Kind: EventParticipant, Participant: c.participantCopy(p.ID)})
	if joined {
		c.appendSystem(p.ID, p.Role, fmt.Sprintf("%s joined the session", p.DisplayName))
		// Announce back, targeted, so the newcomer learns the roster.
		if env.TargetID == "" {
			if err := c.announce(p.ID); err != nil {
				c.log.Warn().Err(err).Msg("targeted announce")
			}
		}
	}
	// An announce from a participant with no open link re-creates it.
	// That covers both the first join and recovery after a link failure,
	// where the dropped link leaves the participant without one.
	if c.session.Status == domain.SessionInProgress && c.localAudio != nil {
		if _, open := c.peers.State(p.ID); !open {
			c.openPeer(p.ID)
		}
	}
	return nil
}

func (c *Coordinator) handleLeft(env core.Envelope) error {
	var p core.LeftPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	id := p.ID
	if id == "" {
		id = env.SenderID
	}
	c.dropParticipant(id)
	return nil
}

func (c *Coordinator) handleOffer(env core.Envelope) error {
	var p core.SDPPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	answer, err := c.peers.HandleOffer(env.SenderID, p.SDP)
	if err != nil {
		c.peers.Drop(env.SenderID)
		return err
	}
	c.sendSDP(core.EnvelopeAnswer, env.SenderID, answer)
	return nil
}

func (c *Coordinator) handleAnswer(env core.Envelope) error {
	var p core.SDPPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	return c.peers.HandleAnswer(env.SenderID, p.SDP)
}

func (c *Coordinator) handleCandidate(env core.Envelope) error {
	var p core.CandidatePayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	return c.peers.HandleCandidate(env.SenderID, p)
}

func (c *Coordinator) handleChat(env core.Envelope) error {
	if !c.session.ChatEnabled {
		return fmt.Errorf("inbound chat: %w", ErrFeatureDisabled)
	}
	var msg domain.ChatMessage
	if err := env.DecodePayload(&msg); err != nil {
		return err
	}
	msg.Delivery = domain.DeliverySent
	c.chat.Append(&msg)
	c.emit(Event{Kind: EventChatMessage, Message: &msg})
	return nil
}

func (c *Coordinator) handleConsentRequest(env core.Envelope) error {
	var p core.ConsentRequestPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	req := &domain.ConsentRequest{
		ID:          p.ID,
		Type:        p.Type,
		RequestedBy: p.RequestedBy,
		Status:      domain.ConsentPending,
		Message:     p.Message,
		CreatedAt:   time.Now(),
	}
	c.consents.Track(req)
	// The responder side times the request out too, so an unanswered
	// dialog resolves to denied instead of hanging.
	c.afterGen(c.timing.ConsentTTL, func() { c.expireConsent(req.ID) })
	c.emit(Event{Kind: EventConsent, Consent: req})
	return nil
}

func (c *Coordinator) handleConsentResponse(env core.Envelope) error {
	var p core.ConsentResponsePayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	req, err := c.consents.Resolve(p.ID, p.Granted)
	if err != nil {
		// Late or duplicate answer; rejected with no state change.
		return fmt.Errorf("consent response %s: %w", p.ID, err)
	}
	c.settleGate(req, p.Granted)
	c.emit(Event{Kind: EventConsent, Consent: req})
	return nil
}

// settleGate runs or reverts the action waiting on a locally requested
// consent.
func (c *Coordinator) settleGate(req *domain.ConsentRequest, granted bool) {
	g, ok := c.pendingGates[req.ID]
	if !ok {
		return
	}
	delete(c.pendingGates, req.ID)
	if granted {
		g.apply()
	} else {
		g.revert()
	}
}

// expireConsent resolves an unanswered request to denied, exactly once.
func (c *Coordinator) expireConsent(id string) {
	req, err := c.consents.Resolve(id, false)
	if err != nil {
		return // already resolved
	}
	c.log.Info().Str("consent", id).Msg("consent expired")
	c.settleGate(req, false)
	c.emit(Event{Kind: EventConsent, Consent: req})
}

func (c *Coordinator) handleRecordingStatus(env core.Envelope) error {
	var p core.RecordingStatusPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	c.recording = p.Recording
	c.emit(Event{Kind: EventRecording, Active: p.Recording, Participant: c.participantCopy(p.By)})
	if pt, ok := c.presence.Get(p.By); ok {
		verb := "stopped"
		if p.Recording {
			verb = "started"
		}
		c.appendSystem(pt.ID, pt.Role, fmt.Sprintf("%s %s recording", pt.DisplayName, verb))
	}
	return nil
}

// handleLinkState tracks transport-reported peer state. A failure stays
// participant-scoped: the link is closed and reported, the session
// continues for everyone else.
func (c *Coordinator) handleLinkState(pid domain.ParticipantID, s core.LinkState) {
	if _, ok := c.peers.State(pid); !ok {
		return
	}
	c.peers.SetState(pid, s)
	c.emit(Event{Kind: EventPeerState, PeerState: s.String(), Participant: c.participantCopy(pid)})
	switch s {
	case core.LinkConnected:
		if pt, ok := c.presence.Get(pid); ok {
			pt.Status = domain.Connected
			pt.LastSeen = time.Now()
		}
	case core.LinkFailed:
		c.log.Warn().Str("participant", string(pid)).Msg("peer link failed")
		c.peers.Drop(pid)
		if pt, ok := c.presence.Get(pid); ok {
			pt.Status = domain.Connecting
		}
		c.emit(Event{Kind: EventError, Err: fmt.Errorf("peer %s: %w", pid, core.ErrNegotiationFailed)})
		// Re-announce so the other end sees a fresh join from us and
		// rebuilds its side; its own re-announce rebuilds ours.
		if err := c.announce(""); err != nil {
			c.log.Warn().Err(err).Msg("re-announce after link failure")
		}
	}
}
