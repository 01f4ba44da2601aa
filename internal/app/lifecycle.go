package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
)

// Start moves the session to in_progress, acquiring local media and
// opening a peer link to every known participant. Allowed only from
// scheduled or waiting. Media acquisition runs off-loop so envelope
// processing never stalls behind the device layer.
func (c *Coordinator) Start(ctx context.Context) error {
	res := make(chan error, 1)
	if err := c.callErr(func() error { c.doStart(ctx, res); return nil }); err != nil {
		return err
	}
	return <-res
}

func (c *Coordinator) doStart(ctx context.Context, res chan<- error) {
	switch {
	case c.starting:
		res <- fmt.Errorf("start while starting: %w", core.ErrInvalidTransition)
		return
	case c.session.Status != domain.SessionScheduled && c.session.Status != domain.SessionWaiting:
		res <- fmt.Errorf("start from %s: %w", c.session.Status, core.ErrInvalidTransition)
		return
	}

	// Re-start from waiting after a demotion: media is already held.
	if c.localAudio != nil {
		res <- c.finishStart(ctx)
		return
	}

	c.starting = true
	gen := c.gen
	go func() {
		audio, video, err := c.media.AcquireUserMedia(ctx)
		accepted := c.post(func() {
			if c.gen != gen {
				// Session torn down while acquiring; release and bail.
				if audio != nil {
					audio.Stop()
				}
				if video != nil {
					video.Stop()
				}
				res <- fmt.Errorf("session ended during start: %w", core.ErrInvalidTransition)
				return
			}
			c.starting = false
			if err != nil {
				// Session stays in scheduled/waiting; retry is allowed.
				c.emit(Event{Kind: EventError, Err: err})
				res <- err
				return
			}
			c.localAudio, c.localVideo = audio, video
			c.peers.SetLocalTracks(audio, video)
			res <- c.finishStart(ctx)
		})
		if !accepted {
			// Closed while acquiring; the loop will never run the
			// completion, so unblock the caller here.
			if audio != nil {
				audio.Stop()
			}
			if video != nil {
				video.Stop()
			}
			res <- ErrCoordinatorClosed
		}
	}()
}

func (c *Coordinator) finishStart(ctx context.Context) error {
	c.setStatus(domain.SessionInProgress)
	if err := c.store.RecordStart(ctx, c.session.ID); err != nil {
		c.log.Warn().Err(err).Msg("record start")
	}
	for _, pt := range c.presence.Snapshot() {
		if pt.Status == domain.Connected {
			c.openPeer(pt.ID)
		}
	}
	if c.timing.AutoEndAfter > 0 {
		c.afterGen(c.timing.AutoEndAfter, func() {
			c.log.Info().Msg("session auto-end reached")
			c.doEnd(context.Background(), domain.SessionCompleted)
		})
	}
	c.log.Info().Str("session", string(c.session.ID)).Msg("session started")
	return nil
}

// openPeer creates the link for a remote participant and, when we are
// the initiating side, puts the first offer on the wire. Only the
// initiator offers, so the two sides never glare.
func (c *Coordinator) openPeer(pid domain.ParticipantID) {
	created, err := c.peers.Create(pid)
	if err != nil {
		c.emit(Event{Kind: EventError, Err: err})
		return
	}
	if !created || c.self.Role != domain.RoleInitiator {
		return
	}
	sdp, err := c.peers.Offer(pid)
	if err != nil {
		c.emit(Event{Kind: EventError, Err: err})
		return
	}
	c.sendSDP(core.EnvelopeOffer, pid, sdp)
}

func (c *Coordinator) sendSDP(t core.EnvelopeType, pid domain.ParticipantID, sdp string) {
	env, err := core.NewEnvelope(t, c.self.ID, pid, core.SDPPayload{SDP: sdp})
	if err != nil {
		c.log.Error().Err(err).Msg("marshal sdp")
		return
	}
	if err := c.channel.Send(env); err != nil {
		c.log.Warn().Err(err).Str("participant", string(pid)).Str("type", string(t)).Msg("send sdp")
		c.emit(Event{Kind: EventError, Err: err})
	}
}

// End completes the session. Idempotent: a second call on a terminal
// session is a no-op with no duplicate teardown side effects.
func (c *Coordinator) End(ctx context.Context) error {
	return c.callErr(func() error { return c.doEnd(ctx, domain.SessionCompleted) })
}

func (c *Coordinator) doEnd(ctx context.Context, status domain.SessionStatus) error {
	if c.session.Status.Terminal() {
		return nil
	}
	if c.session.Status == domain.SessionScheduled && status == domain.SessionCompleted {
		return fmt.Errorf("end from scheduled: %w", core.ErrInvalidTransition)
	}
	c.setStatus(status)
	c.teardown()
	if err := c.store.RecordEnd(ctx, c.session.ID, status); err != nil {
		c.log.Warn().Err(err).Msg("record end")
	}
	c.log.Info().Str("session", string(c.session.ID)).Str("status", string(status)).Msg("session ended")
	return nil
}

// cancel is the only error-forced termination: unrecoverable channel
// loss. Never a silent hang.
func (c *Coordinator) cancel(reason error) {
	if c.session.Status.Terminal() {
		return
	}
	c.emit(Event{Kind: EventError, Err: reason})
	if err := c.doEnd(context.Background(), domain.SessionCancelled); err != nil {
		c.log.Error().Err(err).Msg("cancel")
	}
}

// teardown releases every session-scoped resource exactly once. The
// generation bump invalidates all in-flight completions and timers.
func (c *Coordinator) teardown() {
	c.gen++
	c.starting = false
	c.peers.CloseAll()
	for _, t := range []core.MediaTrack{c.localAudio, c.localVideo, c.screenTrack} {
		if t != nil {
			t.Stop()
		}
	}
	c.localAudio, c.localVideo, c.screenTrack = nil, nil, nil
	c.recording = false
	c.pendingGates = make(map[string]gate)
	if err := c.channel.Close(); err != nil {
		c.log.Debug().Err(err).Msg("channel close")
	}
}

func (c *Coordinator) setStatus(s domain.SessionStatus) {
	if c.session.Status == s {
		return
	}
	c.session.Status = s
	c.emit(Event{Kind: EventSessionStatus, Status: s})
}

// doHeartbeat runs on the loop tick: announce liveness and sweep remotes
// whose presence signal timed out.
func (c *Coordinator) doHeartbeat() {
	if c.session == nil || c.session.Status.Terminal() {
		return
	}
	env, err := core.NewEnvelope(core.EnvelopeHeartbeat, c.self.ID, "", nil)
	if err == nil {
		if err := c.channel.Send(env); err != nil {
			c.log.Debug().Err(err).Msg("heartbeat send")
		}
	}
	now := time.Now()
	for _, pt := range c.presence.Stale(now) {
		c.log.Info().Str("participant", string(pt.ID)).Msg("presence timeout")
		c.dropParticipant(pt.ID)
	}
}

// dropParticipant demotes a remote to disconnected, closes its link,
// and demotes the session to waiting when it was the last one. The
// record stays so a rejoin reuses the identity.
func (c *Coordinator) dropParticipant(pid domain.ParticipantID) {
	pt := c.presence.MarkLeft(pid)
	if pt == nil {
		return
	}
	c.peers.Drop(pid)
	c.emit(Event{Kind: EventParticipant, Participant: c.participantCopy(pid)})
	c.appendSystem(pt.ID, pt.Role, fmt.Sprintf("%s left the session", pt.DisplayName))
	if c.session.Status == domain.SessionInProgress && c.presence.ConnectedCount() == 0 {
		// Not completed: the counterpart may rejoin.
		c.setStatus(domain.SessionWaiting)
	}
}

// handleChannelState reacts to adapter connectivity reports.
func (c *Coordinator) handleChannelState(s core.ChannelState) {
	switch s {
	case core.ChannelReconnecting:
		c.log.Warn().Msg("signaling channel reconnecting")
	case core.ChannelConnected:
		c.log.Info().Msg("signaling channel restored")
		// Messages are not replayed across reconnects; re-announce so
		// the counterpart reconciles presence.
		if !c.session.Status.Terminal() {
			if err := c.announce(""); err != nil {
				c.log.Warn().Err(err).Msg("re-announce after reconnect")
			}
		}
	case core.ChannelLost:
		c.cancel(fmt.Errorf("signaling channel lost: %w", core.ErrChannelClosed))
	}
}
