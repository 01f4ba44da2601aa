package app

import (
	"context"
	"fmt"

	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
)

// Media control policy: local user intent applied onto the peer
// registry and the consent book. The policy only issues commands; it
// never touches a device handle directly.

// SetAudioEnabled mutes or unmutes the microphone.
func (c *Coordinator) SetAudioEnabled(on bool) error {
	return c.callErr(func() error {
		if c.localAudio != nil {
			c.localAudio.SetEnabled(on)
		}
		c.self.AudioEnabled = on
		return c.announceFlags()
	})
}

// SetVideoEnabled turns the camera on or off.
func (c *Coordinator) SetVideoEnabled(on bool) error {
	return c.callErr(func() error {
		if c.localVideo != nil {
			c.localVideo.SetEnabled(on)
		}
		c.self.VideoEnabled = on
		return c.announceFlags()
	})
}

// announceFlags rebroadcasts presence meta so the counterpart's
// registry reconciles the media flags.
func (c *Coordinator) announceFlags() error {
	if err := c.announce(""); err != nil {
		c.log.Warn().Err(err).Msg("announce media flags")
		return err
	}
	return nil
}

// StartScreenShare requests consent and, once granted, swaps the
// outgoing video track for a display capture. The local state is
// optimistic and reverts on denial or expiry.
func (c *Coordinator) StartScreenShare(ctx context.Context) error {
	return c.callErr(func() error {
		if !c.session.ScreenSharingEnabled {
			return fmt.Errorf("screen sharing: %w", ErrFeatureDisabled)
		}
		if c.session.Status != domain.SessionInProgress {
			return fmt.Errorf("screen sharing from %s: %w", c.session.Status, core.ErrInvalidTransition)
		}
		if c.screenTrack != nil || c.self.ScreenSharing {
			return nil
		}
		c.self.ScreenSharing = true // optimistic; reverted on denial
		c.emit(Event{Kind: EventScreenShare, Active: true})
		return c.requestConsent(domain.ConsentScreenSharing, "Consent required for screen sharing", gate{
			apply:  func() { c.applyScreenShare(ctx) },
			revert: c.revertScreenShare,
		})
	})
}

func (c *Coordinator) applyScreenShare(ctx context.Context) {
	gen := c.gen
	go func() {
		track, err := c.media.AcquireDisplayMedia(ctx)
		accepted := c.post(func() {
			if c.gen != gen {
				if track != nil {
					track.Stop()
				}
				return
			}
			if err != nil {
				c.revertScreenShare()
				c.emit(Event{Kind: EventError, Err: err})
				return
			}
			c.screenTrack = track
			offers, err := c.peers.ReplaceVideoTrackAll(track)
			if err != nil {
				c.emit(Event{Kind: EventError, Err: err})
			}
			for _, o := range offers {
				c.sendSDP(core.EnvelopeOffer, o.Participant, o.SDP)
			}
			if err := c.announceFlags(); err == nil {
				c.emit(Event{Kind: EventScreenShare, Active: true})
			}
		})
		if !accepted && track != nil {
			track.Stop()
		}
	}()
}

func (c *Coordinator) revertScreenShare() {
	c.self.ScreenSharing = false
	c.emit(Event{Kind: EventScreenShare, Active: false})
}

// StopScreenShare restores the camera track. No consent needed to stop.
func (c *Coordinator) StopScreenShare() error {
	return c.callErr(func() error {
		if c.screenTrack == nil {
			c.self.ScreenSharing = false
			return nil
		}
		offers, err := c.peers.ReplaceVideoTrackAll(c.localVideo)
		if err != nil {
			return err
		}
		for _, o := range offers {
			c.sendSDP(core.EnvelopeOffer, o.Participant, o.SDP)
		}
		c.screenTrack.Stop()
		c.screenTrack = nil
		c.self.ScreenSharing = false
		c.emit(Event{Kind: EventScreenShare, Active: false})
		return c.announceFlags()
	})
}

// StartRecording requests consent and, once granted, flips the
// recording flag and broadcasts the status so every UI shows the
// indicator. No media leaves the session; recording capture is the
// embedding client's concern.
func (c *Coordinator) StartRecording() error {
	return c.callErr(func() error {
		if !c.session.RecordingEnabled {
			return fmt.Errorf("recording: %w", ErrFeatureDisabled)
		}
		if c.session.Status != domain.SessionInProgress {
			return fmt.Errorf("recording from %s: %w", c.session.Status, core.ErrInvalidTransition)
		}
		if c.recording {
			return nil
		}
		return c.requestConsent(domain.ConsentRecording, "Consent required for recording", gate{
			apply:  func() { c.setRecording(true) },
			revert: func() { c.emit(Event{Kind: EventRecording, Active: false}) },
		})
	})
}

// StopRecording needs no consent.
func (c *Coordinator) StopRecording() error {
	return c.callErr(func() error {
		if !c.recording {
			return nil
		}
		c.setRecording(false)
		return nil
	})
}

func (c *Coordinator) setRecording(on bool) {
	c.recording = on
	env, err := core.NewEnvelope(core.EnvelopeRecordingStatus, c.self.ID, "", core.RecordingStatusPayload{
		Recording: on,
		By:        c.self.ID,
	})
	if err == nil {
		if err := c.channel.Send(env); err != nil {
			c.log.Warn().Err(err).Msg("broadcast recording status")
		}
	}
	verb := "stopped"
	if on {
		verb = "started"
	}
	c.appendSystem(c.self.ID, c.self.Role, fmt.Sprintf("%s %s recording", c.self.DisplayName, verb))
	c.emit(Event{Kind: EventRecording, Active: on})
}

// requestConsent opens a request, arms its expiry, and registers the
// gated action. Runs on the loop.
func (c *Coordinator) requestConsent(t domain.ConsentType, message string, g gate) error {
	req := c.consents.Open(t, c.self.ID, message)
	c.pendingGates[req.ID] = g
	c.afterGen(c.timing.ConsentTTL, func() { c.expireConsent(req.ID) })
	env, err := core.NewEnvelope(core.EnvelopeConsentRequest, c.self.ID, "", core.ConsentRequestPayload{
		ID:          req.ID,
		Type:        req.Type,
		RequestedBy: req.RequestedBy,
		Message:     req.Message,
	})
	if err != nil {
		return err
	}
	if err := c.channel.Send(env); err != nil {
		// Undo the optimistic state right away; the request never left.
		if _, rerr := c.consents.Resolve(req.ID, false); rerr == nil {
			c.settleGate(req, false)
		}
		return fmt.Errorf("send consent request: %w", err)
	}
	c.emit(Event{Kind: EventConsent, Consent: req})
	return nil
}

// RespondConsent answers a counterpart's pending request. A resolved or
// unknown id fails with ErrStaleConsent.
func (c *Coordinator) RespondConsent(id string, granted bool) error {
	return c.callErr(func() error {
		req, err := c.consents.Resolve(id, granted)
		if err != nil {
			return err
		}
		env, err := core.NewEnvelope(core.EnvelopeConsentResponse, c.self.ID, req.RequestedBy, core.ConsentResponsePayload{
			ID:      id,
			Granted: granted,
		})
		if err != nil {
			return err
		}
		if err := c.channel.Send(env); err != nil {
			return fmt.Errorf("send consent response: %w", err)
		}
		c.emit(Event{Kind: EventConsent, Consent: req})
		return nil
	})
}

// PendingConsents lists requests still awaiting an answer.
func (c *Coordinator) PendingConsents() []domain.ConsentRequest {
	res := make(chan []domain.ConsentRequest, 1)
	if err := c.callErr(func() error { res <- c.consents.Pending(); return nil }); err != nil {
		return nil
	}
	return <-res
}

// Recording reports the session-wide recording indicator.
func (c *Coordinator) Recording() bool {
	res := make(chan bool, 1)
	if err := c.callErr(func() error { res <- c.recording; return nil }); err != nil {
		return false
	}
	return <-res
}
