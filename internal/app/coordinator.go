// Package app contains the session coordinator: the state machine,
// peer registry, presence, consent, chat, and media policy driving one
// live consultation.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
)

var (
	// ErrFeatureDisabled rejects an action the session record's feature
	// flags exclude.
	ErrFeatureDisabled = errors.New("feature disabled for session")
	// ErrCoordinatorClosed rejects calls after Close.
	ErrCoordinatorClosed = errors.New("coordinator closed")
)

// Timing holds the configurable waits of the core. Consent expiry and
// the heartbeat window are the only time-bounded waits; both resolve
// deterministically instead of hanging.
type Timing struct {
	ConsentTTL      time.Duration
	HeartbeatPeriod time.Duration
	HeartbeatWindow time.Duration
	// AutoEndAfter ends an in_progress session after the given duration.
	// Zero disables it.
	AutoEndAfter time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		ConsentTTL:      45 * time.Second,
		HeartbeatPeriod: 10 * time.Second,
		HeartbeatWindow: 30 * time.Second,
	}
}

// Deps are the boundary collaborators. All of them are capability
// interfaces with test doubles; the coordinator never touches a device
// or socket directly.
type Deps struct {
	Channel core.SignalingChannel
	Media   core.MediaSource
	Links   core.LinkFactory
	Store   core.SessionStore
}

// gate is a consent-gated action: apply runs on grant, revert undoes
// the optimistic local state on denial or expiry.
type gate struct {
	apply  func()
	revert func()
}

// Coordinator turns a scheduled consultation into a live session. All
// state is confined to a single event loop; inbound envelopes, timer
// expiries, and transport callbacks are posted onto it, which removes
// the need for locks in the registries (one envelope is processed at
// any instant).
type Coordinator struct {
	log    zerolog.Logger
	timing Timing
	self   *domain.Participant

	channel core.SignalingChannel
	media   core.MediaSource
	store   core.SessionStore

	session *domain.Session

	peers    *PeerRegistry
	presence *Presence
	consents *ConsentBook
	chat     *ChatLog

	// gen invalidates async completions belonging to a torn-down
	// session: every timer and goroutine completion re-checks it on the
	// loop before mutating state.
	gen uint64

	localAudio  core.MediaTrack
	localVideo  core.MediaTrack
	screenTrack core.MediaTrack
	recording   bool
	starting    bool

	pendingGates map[string]gate

	calls  chan func()
	done   chan struct{}
	events chan Event

	// closeMu fences enqueues against Close: anything posted under the
	// read lock before the flag flips is guaranteed to run in the drain.
	closeMu sync.RWMutex
	closed  bool
}

func NewCoordinator(deps Deps, timing Timing, self *domain.Participant, log zerolog.Logger) *Coordinator {
	c := &Coordinator{
		log:          log.With().Str("module", "app.coordinator").Str("self", string(self.ID)).Logger(),
		timing:       timing,
		self:         self,
		channel:      deps.Channel,
		media:        deps.Media,
		store:        deps.Store,
		peers:        NewPeerRegistry(deps.Links, log),
		presence:     NewPresence(timing.HeartbeatWindow, log),
		consents:     NewConsentBook(log),
		chat:         NewChatLog(),
		pendingGates: make(map[string]gate),
		calls:        make(chan func(), 128),
		done:         make(chan struct{}),
		events:       make(chan Event, 64),
	}
	// Transport callbacks carry no generation snapshot; instead the
	// posted closure checks the link is still registered, which teardown
	// clears, so callbacks of a torn-down session find nothing to touch.
	c.peers.OnCandidate(func(pid domain.ParticipantID, cand core.CandidatePayload) {
		c.post(func() {
			if _, ok := c.peers.State(pid); ok && !c.session.Status.Terminal() {
				c.sendCandidate(pid, cand)
			}
		})
	})
	c.peers.OnState(func(pid domain.ParticipantID, s core.LinkState) {
		c.post(func() { c.handleLinkState(pid, s) })
	})
	c.peers.OnRemoteTrack(func(pid domain.ParticipantID, id string, kind core.TrackKind) {
		c.post(func() {
			c.emit(Event{Kind: EventRemoteTrack, TrackID: id, TrackKind: string(kind), Participant: c.participantCopy(pid)})
		})
	})
	return c
}

// Join fetches the session record, binds the channel handlers, starts
// the event loop, and announces presence. It must be called exactly
// once, before any other operation.
func (c *Coordinator) Join(ctx context.Context, id domain.SessionID) error {
	sess, err := c.store.Fetch(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return fmt.Errorf("join %s in state %s: %w", id, sess.Status, core.ErrInvalidTransition)
	}
	c.session = sess

	c.channel.SetHandler(func(env core.Envelope) {
		c.post(func() { c.handleEnvelope(env) })
	})
	c.channel.SetStateHandler(func(s core.ChannelState) {
		c.post(func() { c.handleChannelState(s) })
	})

	go c.run()

	if err := c.store.RecordJoin(ctx, sess.ID, c.self.ID); err != nil {
		c.log.Warn().Err(err).Msg("record join")
	}
	if err := c.callErr(func() error { return c.announce(domain.ParticipantID("")) }); err != nil {
		c.log.Warn().Err(err).Msg("announce join")
	}
	return nil
}

func (c *Coordinator) run() {
	var tick <-chan time.Time
	if c.timing.HeartbeatPeriod > 0 {
		t := time.NewTicker(c.timing.HeartbeatPeriod)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case fn := <-c.calls:
			fn()
		case <-tick:
			c.doHeartbeat()
		case <-c.done:
			// Drain so callers already enqueued get their replies.
			for {
				select {
				case fn := <-c.calls:
					fn()
				default:
					return
				}
			}
		}
	}
}

// post schedules fn on the loop and reports whether it was accepted.
// After Close nothing is; goroutines holding a reply channel must
// unblock their caller themselves when post refuses.
func (c *Coordinator) post(fn func()) bool {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.calls <- fn:
		return true
	case <-c.done:
		return false
	}
}

// postGen schedules fn, dropped if the session generation moved on.
// This is the guard that keeps callbacks of a torn-down session from
// mutating state.
func (c *Coordinator) postGen(gen uint64, fn func()) {
	c.post(func() {
		if c.gen == gen {
			fn()
		}
	})
}

func (c *Coordinator) callErr(fn func() error) error {
	res := make(chan error, 1)
	c.closeMu.RLock()
	if c.closed {
		c.closeMu.RUnlock()
		return ErrCoordinatorClosed
	}
	select {
	case c.calls <- func() { res <- fn() }:
	case <-c.done:
		c.closeMu.RUnlock()
		return ErrCoordinatorClosed
	}
	c.closeMu.RUnlock()
	return <-res
}

// afterGen arms a timer whose expiry only fires if the session
// generation is unchanged. Must be called from the loop.
func (c *Coordinator) afterGen(d time.Duration, fn func()) {
	gen := c.gen
	time.AfterFunc(d, func() { c.postGen(gen, fn) })
}

func (c *Coordinator) emit(ev Event) {
	// Runs on the loop; after the close fn flipped the flag the event
	// channel is closed, so drained handlers must not send.
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.Debug().Str("event", string(ev.Kind)).Msg("event dropped, consumer slow")
	}
}

// Events is the stream the rendering layer consumes.
func (c *Coordinator) Events() <-chan Event { return c.events }

// Close stops the event loop. End the session first; Close alone
// performs no teardown.
func (c *Coordinator) Close() {
	c.post(func() {
		c.closeMu.Lock()
		c.closed = true
		c.closeMu.Unlock()
		close(c.done)
		close(c.events)
	})
}

// Session returns a copy of the session record.
func (c *Coordinator) Session() domain.Session {
	res := make(chan domain.Session, 1)
	if err := c.callErr(func() error { res <- *c.session; return nil }); err != nil {
		return domain.Session{}
	}
	return <-res
}

// Participants returns a copy of the presence registry.
func (c *Coordinator) Participants() []domain.Participant {
	res := make(chan []domain.Participant, 1)
	if err := c.callErr(func() error { res <- c.presence.Snapshot(); return nil }); err != nil {
		return nil
	}
	return <-res
}

func (c *Coordinator) participantCopy(pid domain.ParticipantID) *domain.Participant {
	if pt, ok := c.presence.Get(pid); ok {
		cp := *pt
		return &cp
	}
	return nil
}

// announce broadcasts (or targets) our presence meta. Re-announcing is
// also how media flag changes reach the counterpart.
func (c *Coordinator) announce(target domain.ParticipantID) error {
	env, err := core.NewEnvelope(core.EnvelopeParticipantJoined, c.self.ID, target, core.JoinedPayload{
		ID:           c.self.ID,
		Role:         c.self.Role,
		DisplayName:  c.self.DisplayName,
		VideoEnabled: c.self.VideoEnabled,
		AudioEnabled: c.self.AudioEnabled,
	})
	if err != nil {
		return err
	}
	return c.channel.Send(env)
}

func (c *Coordinator) sendCandidate(pid domain.ParticipantID, cand core.CandidatePayload) {
	env, err := core.NewEnvelope(core.EnvelopeICECandidate, c.self.ID, pid, cand)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal candidate")
		return
	}
	if err := c.channel.Send(env); err != nil {
		c.log.Warn().Err(err).Str("participant", string(pid)).Msg("send candidate")
	}
}
