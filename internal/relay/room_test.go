package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
)

// captureConn records everything the room pushes at one member.
type captureConn struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  bool
}

func (c *captureConn) TrySend(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, b)
	return nil
}

func (c *captureConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *captureConn) Envelopes(t *testing.T) []core.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Envelope, 0, len(c.frames))
	for _, b := range c.frames {
		var env core.Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		out = append(out, env)
	}
	return out
}

func (c *captureConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func joined(id domain.ParticipantID, role domain.Role) core.JoinedPayload {
	return core.JoinedPayload{ID: id, Role: role, DisplayName: string(id), VideoEnabled: true, AudioEnabled: true}
}

func mustEnvelope(t *testing.T, typ core.EnvelopeType, sender, target domain.ParticipantID, payload any) core.Envelope {
	t.Helper()
	env, err := core.NewEnvelope(typ, sender, target, payload)
	require.NoError(t, err)
	return env
}

func TestJoinAnnouncesToOthers(t *testing.T) {
	room := NewRoom("sess-1")
	a := &captureConn{}
	b := &captureConn{}
	room.Join(joined("a", domain.RoleInitiator), a)
	room.Join(joined("b", domain.RoleCounterpart), b)

	got := a.Envelopes(t)
	require.Len(t, got, 1)
	assert.Equal(t, core.EnvelopeParticipantJoined, got[0].Type)
	assert.Equal(t, domain.ParticipantID("b"), got[0].SenderID)

	// The newcomer gets the existing roster pushed, targeted, never an
	// echo of its own join.
	bGot := b.Envelopes(t)
	require.Len(t, bGot, 1)
	assert.Equal(t, core.EnvelopeParticipantJoined, bGot[0].Type)
	assert.Equal(t, domain.ParticipantID("a"), bGot[0].SenderID)
	assert.Equal(t, domain.ParticipantID("b"), bGot[0].TargetID)
	assert.Equal(t, 2, room.MemberCount())
}

func TestRejoinReplacesConnection(t *testing.T) {
	room := NewRoom("sess-1")
	old := &captureConn{}
	room.Join(joined("a", domain.RoleInitiator), old)

	fresh := &captureConn{}
	room.Join(joined("a", domain.RoleInitiator), fresh)

	assert.True(t, old.Closed())
	assert.Equal(t, 1, room.MemberCount())
}

func TestDispatchTargeted(t *testing.T) {
	room := NewRoom("sess-1")
	a, b, c := &captureConn{}, &captureConn{}, &captureConn{}
	room.Join(joined("a", domain.RoleInitiator), a)
	room.Join(joined("b", domain.RoleCounterpart), b)
	room.Join(joined("c", domain.RoleCounterpart), c)
	bBefore := len(b.Envelopes(t))
	cBefore := len(c.Envelopes(t))

	room.Dispatch(mustEnvelope(t, core.EnvelopeOffer, "a", "b", core.SDPPayload{SDP: "offer"}))

	bGot := b.Envelopes(t)
	require.Len(t, bGot, bBefore+1)
	assert.Equal(t, core.EnvelopeOffer, bGot[len(bGot)-1].Type)
	assert.Len(t, c.Envelopes(t), cBefore, "targeted envelope never leaks to third parties")
}

func TestDispatchBroadcastSkipsSender(t *testing.T) {
	room := NewRoom("sess-1")
	a, b := &captureConn{}, &captureConn{}
	room.Join(joined("a", domain.RoleInitiator), a)
	room.Join(joined("b", domain.RoleCounterpart), b)
	aBefore := len(a.Envelopes(t))

	room.Dispatch(mustEnvelope(t, core.EnvelopeChatMessage, "a", "", map[string]string{"content": "hi"}))

	assert.Len(t, a.Envelopes(t), aBefore)
	bGot := b.Envelopes(t)
	assert.Equal(t, core.EnvelopeChatMessage, bGot[len(bGot)-1].Type)
}

func TestDispatchToAbsentTargetDropped(t *testing.T) {
	room := NewRoom("sess-1")
	a := &captureConn{}
	room.Join(joined("a", domain.RoleInitiator), a)

	room.Dispatch(mustEnvelope(t, core.EnvelopeOffer, "a", "ghost", core.SDPPayload{SDP: "offer"}))
	assert.Empty(t, a.Envelopes(t))
}

func TestPerPairSequenceMonotonic(t *testing.T) {
	room := NewRoom("sess-1")
	a, b, c := &captureConn{}, &captureConn{}, &captureConn{}
	room.Join(joined("a", domain.RoleInitiator), a)
	room.Join(joined("b", domain.RoleCounterpart), b)
	room.Join(joined("c", domain.RoleCounterpart), c)

	// Interleave two senders towards b; each directed pair counts on
	// its own. Join traffic counts too: the roster push a->b and c's
	// join announcement each consumed seq 1 of their pair.
	for i := 0; i < 3; i++ {
		room.Dispatch(mustEnvelope(t, core.EnvelopeChatMessage, "a", "b", map[string]int{"n": i}))
		room.Dispatch(mustEnvelope(t, core.EnvelopeChatMessage, "c", "b", map[string]int{"n": i}))
	}

	var fromA, fromC []uint64
	for _, env := range b.Envelopes(t) {
		if env.Type != core.EnvelopeChatMessage {
			continue
		}
		switch env.SenderID {
		case "a":
			fromA = append(fromA, env.Seq)
		case "c":
			fromC = append(fromC, env.Seq)
		}
	}
	assert.Equal(t, []uint64{2, 3, 4}, fromA)
	assert.Equal(t, []uint64{2, 3, 4}, fromC)
}

func TestSlowConsumerDropsInsteadOfStalling(t *testing.T) {
	room := NewRoom("sess-1")
	a := &captureConn{}
	stuck := &captureConn{sendErr: errors.New("backpressure")}
	room.Join(joined("a", domain.RoleInitiator), a)
	room.Join(joined("b", domain.RoleCounterpart), stuck)

	room.Dispatch(mustEnvelope(t, core.EnvelopeChatMessage, "a", "", map[string]string{"content": "hi"}))
	room.Dispatch(mustEnvelope(t, core.EnvelopeChatMessage, "a", "", map[string]string{"content": "still here"}))

	// The room survives and keeps counting; the member just misses the
	// frames.
	assert.Equal(t, 2, room.MemberCount())
}

func TestLeaveAnnouncesDeparture(t *testing.T) {
	room := NewRoom("sess-1")
	a, b := &captureConn{}, &captureConn{}
	room.Join(joined("a", domain.RoleInitiator), a)
	room.Join(joined("b", domain.RoleCounterpart), b)

	room.Leave(domain.ParticipantID("b"))

	assert.True(t, b.Closed())
	got := a.Envelopes(t)
	last := got[len(got)-1]
	assert.Equal(t, core.EnvelopeParticipantLeft, last.Type)
	var p core.LeftPayload
	require.NoError(t, last.DecodePayload(&p))
	assert.Equal(t, domain.ParticipantID("b"), p.ID)
	assert.Equal(t, 1, room.MemberCount())

	room.Leave(domain.ParticipantID("b")) // second leave is a no-op
	assert.Equal(t, 1, room.MemberCount())
}

func TestRoster(t *testing.T) {
	room := NewRoom("sess-1")
	room.Join(joined("a", domain.RoleInitiator), &captureConn{})
	room.Join(joined("b", domain.RoleCounterpart), &captureConn{})

	roster := room.Roster()
	require.Len(t, roster, 2)
	ids := map[domain.ParticipantID]bool{}
	for _, m := range roster {
		ids[m.ID] = true
	}
	assert.True(t, ids["a"] && ids["b"])
}

func TestHubGetOrCreate(t *testing.T) {
	hub := NewHub()
	r1 := hub.GetOrCreate("sess-1")
	r2 := hub.GetOrCreate("sess-1")
	assert.Same(t, r1, r2)

	_, ok := hub.Get("sess-2")
	assert.False(t, ok)

	infos := hub.List()
	require.Len(t, infos, 1)
	assert.Equal(t, domain.SessionID("sess-1"), infos[0].SessionID)
}

func TestHubStopRoom(t *testing.T) {
	hub := NewHub()
	room := hub.GetOrCreate("sess-1")
	conn := &captureConn{}
	room.Join(joined("a", domain.RoleInitiator), conn)

	hub.StopRoom("sess-1")

	assert.True(t, conn.Closed())
	_, ok := hub.Get("sess-1")
	assert.False(t, ok)
}
