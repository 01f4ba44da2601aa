package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
)

// fakeChannel is an in-memory SignalingChannel. Deliver injects an
// inbound envelope as if it came off the wire.
type fakeChannel struct {
	mu      sync.Mutex
	sent    []core.Envelope
	sendErr error
	closed  bool
	handler func(core.Envelope)
	stateFn func(core.ChannelState)
}

func (f *fakeChannel) Send(env core.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeChannel) SetHandler(fn func(core.Envelope)) {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
}

func (f *fakeChannel) SetStateHandler(fn func(core.ChannelState)) {
	f.mu.Lock()
	f.stateFn = fn
	f.mu.Unlock()
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Deliver(env core.Envelope) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(env)
	}
}

func (f *fakeChannel) ReportState(s core.ChannelState) {
	f.mu.Lock()
	fn := f.stateFn
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (f *fakeChannel) SetSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeChannel) Sent() []core.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeChannel) SentOfType(t core.EnvelopeType) []core.Envelope {
	var out []core.Envelope
	for _, env := range f.Sent() {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    core.TrackKind
	enabled bool
	stopped bool
}

func newFakeTrack(id string, kind core.TrackKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string           { return t.id }
func (t *fakeTrack) Kind() core.TrackKind { return t.kind }

func (t *fakeTrack) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeSource struct {
	mu           sync.Mutex
	userErr      error
	displayErr   error
	userCalls    int
	displayCalls int
	userGate     chan struct{} // when set, AcquireUserMedia waits on it
}

func (s *fakeSource) AcquireUserMedia(ctx context.Context) (core.MediaTrack, core.MediaTrack, error) {
	s.mu.Lock()
	gate := s.userGate
	s.userCalls++
	err := s.userErr
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, nil, err
	}
	return newFakeTrack("mic", core.TrackAudio), newFakeTrack("cam", core.TrackVideo), nil
}

func (s *fakeSource) AcquireDisplayMedia(ctx context.Context) (core.MediaTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displayCalls++
	if s.displayErr != nil {
		return nil, s.displayErr
	}
	return newFakeTrack("display", core.TrackScreen), nil
}

func (s *fakeSource) DisplayCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayCalls
}

type fakeLink struct {
	mu         sync.Mutex
	added      []core.MediaTrack
	replaced   []core.MediaTrack
	replaceErr error
	candidates []core.CandidatePayload
	offers     int
	closed     bool

	onICE   func(core.CandidatePayload)
	onState func(core.LinkState)
	onTrack func(string, core.TrackKind)
}

func (l *fakeLink) AddTrack(t core.MediaTrack) error {
	l.mu.Lock()
	l.added = append(l.added, t)
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) ReplaceVideoTrack(t core.MediaTrack) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.replaceErr != nil {
		return l.replaceErr
	}
	l.replaced = append(l.replaced, t)
	return nil
}

func (l *fakeLink) HandleOffer(sdp string) (string, error) { return "answer-sdp", nil }
func (l *fakeLink) HandleAnswer(sdp string) error          { return nil }

func (l *fakeLink) CreateOffer() (string, error) {
	l.mu.Lock()
	l.offers++
	l.mu.Unlock()
	return "offer-sdp", nil
}

func (l *fakeLink) AddICECandidate(c core.CandidatePayload) error {
	l.mu.Lock()
	l.candidates = append(l.candidates, c)
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) OnICECandidate(fn func(core.CandidatePayload))      { l.onICE = fn }
func (l *fakeLink) OnStateChange(fn func(core.LinkState))              { l.onState = fn }
func (l *fakeLink) OnRemoteTrack(fn func(id string, k core.TrackKind)) { l.onTrack = fn }

func (l *fakeLink) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *fakeLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) Candidates() []core.CandidatePayload {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.CandidatePayload, len(l.candidates))
	copy(out, l.candidates)
	return out
}

func (l *fakeLink) fireICE(c core.CandidatePayload) {
	if l.onICE != nil {
		l.onICE(c)
	}
}

func (l *fakeLink) fireState(s core.LinkState) {
	if l.onState != nil {
		l.onState(s)
	}
}

type fakeFactory struct {
	mu    sync.Mutex
	links map[string]*fakeLink
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{links: make(map[string]*fakeLink)}
}

func (f *fakeFactory) NewLink(participant string) (core.MediaLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &fakeLink{}
	f.links[participant] = l
	return l, nil
}

func (f *fakeFactory) link(participant string) *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[participant]
}

type fakeStore struct {
	mu       sync.Mutex
	session  domain.Session
	fetchErr error
	joins    []domain.ParticipantID
	starts   int
	ends     []domain.SessionStatus
}

func (s *fakeStore) Fetch(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	cp := s.session
	return &cp, nil
}

func (s *fakeStore) RecordJoin(ctx context.Context, id domain.SessionID, p domain.ParticipantID) error {
	s.mu.Lock()
	s.joins = append(s.joins, p)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) RecordStart(ctx context.Context, id domain.SessionID) error {
	s.mu.Lock()
	s.starts++
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) RecordEnd(ctx context.Context, id domain.SessionID, status domain.SessionStatus) error {
	s.mu.Lock()
	s.ends = append(s.ends, status)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) Ends() []domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SessionStatus, len(s.ends))
	copy(out, s.ends)
	return out
}

// fixture wires a coordinator with fakes ready for Join.
type fixture struct {
	coord   *Coordinator
	channel *fakeChannel
	source  *fakeSource
	factory *fakeFactory
	store   *fakeStore
}

func testSession() domain.Session {
	return domain.Session{
		ID:                   "sess-1",
		Title:                "Checkup",
		ScheduledStart:       time.Now().Add(-time.Minute),
		ScheduledEnd:         time.Now().Add(time.Hour),
		Status:               domain.SessionScheduled,
		RecordingEnabled:     true,
		ScreenSharingEnabled: true,
		ChatEnabled:          true,
	}
}

func newFixture(t *testing.T, sess domain.Session, role domain.Role) *fixture {
	t.Helper()
	return newFixtureTiming(t, sess, role, Timing{
		ConsentTTL:      time.Second,
		HeartbeatWindow: 30 * time.Second,
	})
}

func newFixtureTiming(t *testing.T, sess domain.Session, role domain.Role, timing Timing) *fixture {
	t.Helper()
	self, err := domain.NewParticipant("self", role, "Dr. Adams")
	require.NoError(t, err)

	f := &fixture{
		channel: &fakeChannel{},
		source:  &fakeSource{},
		factory: newFakeFactory(),
		store:   &fakeStore{session: sess},
	}
	f.coord = NewCoordinator(Deps{
		Channel: f.channel,
		Media:   f.source,
		Links:   f.factory,
		Store:   f.store,
	}, timing, self, zerolog.Nop())
	t.Cleanup(f.coord.Close)
	return f
}

func (f *fixture) join(t *testing.T) {
	t.Helper()
	require.NoError(t, f.coord.Join(context.Background(), "sess-1"))
}

// sync round-trips the loop so everything already posted has run.
func (f *fixture) sync() {
	_ = f.coord.Session()
}

func (f *fixture) deliver(t *testing.T, typ core.EnvelopeType, sender, target domain.ParticipantID, payload any) {
	t.Helper()
	env, err := core.NewEnvelope(typ, sender, target, payload)
	require.NoError(t, err)
	f.channel.Deliver(env)
	f.sync()
}

func (f *fixture) remoteJoins(t *testing.T, id domain.ParticipantID, role domain.Role, name string) {
	t.Helper()
	f.deliver(t, core.EnvelopeParticipantJoined, id, "", core.JoinedPayload{
		ID:           id,
		Role:         role,
		DisplayName:  name,
		VideoEnabled: true,
		AudioEnabled: true,
	})
}

// drainEvents empties the buffered event stream.
func (f *fixture) drainEvents() []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-f.coord.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasEvent(events []Event, kind EventKind) bool {
	for _, ev := range events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}
