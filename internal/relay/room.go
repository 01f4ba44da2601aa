// Package relay is the server side of the signaling channel: one room
// per session, fanning envelopes out with per-(sender,target) ordering.
package relay

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
)

// MemberConn is the transport endpoint of one room member. Owned by the
// adapter; the adapter must Close() it.
type MemberConn interface {
	TrySend([]byte) error
	Close()
}

type member struct {
	id   domain.ParticipantID
	meta core.JoinedPayload
	conn MemberConn
}

type pairKey struct {
	from, to domain.ParticipantID
}

// Room is a threadsafe in-memory session room. Each member is written
// by a single writer goroutine behind its MemberConn, so the sequence
// stamped here is also delivery order per directed pair.
type Room struct {
	sessionID domain.SessionID

	mu      sync.RWMutex
	members map[domain.ParticipantID]*member
	seqs    map[pairKey]uint64
}

func NewRoom(sessionID domain.SessionID) *Room {
	return &Room{
		sessionID: sessionID,
		members:   make(map[domain.ParticipantID]*member),
		seqs:      make(map[pairKey]uint64),
	}
}

func (r *Room) SessionID() domain.SessionID { return r.sessionID }

// Join registers a member and announces it to the rest of the room. A
// rejoin replaces the previous connection, which is closed; identity is
// preserved (the at-most-one invariant lives client-side, the relay
// just never keeps two conns for one participant).
func (r *Room) Join(meta core.JoinedPayload, conn MemberConn) {
	r.mu.Lock()
	if old, ok := r.members[meta.ID]; ok {
		old.conn.Close()
	}
	r.members[meta.ID] = &member{id: meta.ID, meta: meta, conn: conn}
	r.mu.Unlock()
	log.Info().Str("module", "relay.room").Str("session", string(r.sessionID)).Str("participant", string(meta.ID)).Msg("member joined")

	env, err := core.NewEnvelope(core.EnvelopeParticipantJoined, meta.ID, "", meta)
	if err != nil {
		log.Error().Err(err).Str("module", "relay.room").Msg("marshal join announcement")
		return
	}
	r.Dispatch(env)

	// Push the current roster to the newcomer, targeted, so learning
	// who is present does not hinge on every member's client
	// announcing back over a channel that may drop the reply.
	for _, m := range r.Roster() {
		if m.ID == meta.ID {
			continue
		}
		env, err := core.NewEnvelope(core.EnvelopeParticipantJoined, m.ID, meta.ID, m)
		if err != nil {
			continue
		}
		r.Dispatch(env)
	}
}

// Leave removes a member and announces the departure.
func (r *Room) Leave(id domain.ParticipantID) {
	r.mu.Lock()
	m, ok := r.members[id]
	if ok {
		delete(r.members, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	m.conn.Close()
	log.Info().Str("module", "relay.room").Str("session", string(r.sessionID)).Str("participant", string(id)).Msg("member left")

	env, err := core.NewEnvelope(core.EnvelopeParticipantLeft, id, "", core.LeftPayload{ID: id})
	if err != nil {
		return
	}
	r.Dispatch(env)
}

// Dispatch stamps a per-pair sequence number and delivers the envelope:
// to the target when set, to everyone but the sender otherwise. Slow
// consumers drop envelopes rather than stall the room.
func (r *Room) Dispatch(env core.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if env.TargetID != "" {
		m, ok := r.members[env.TargetID]
		if !ok {
			log.Debug().Str("module", "relay.room").Str("target", string(env.TargetID)).Msg("dispatch to absent member")
			return
		}
		r.deliver(env, m)
		return
	}
	for id, m := range r.members {
		if id == env.SenderID {
			continue
		}
		r.deliver(env, m)
	}
}

// deliver assumes r.mu is held: the seq increment and the hand-off to
// the member's writer must be atomic to preserve per-pair order.
func (r *Room) deliver(env core.Envelope, m *member) {
	k := pairKey{from: env.SenderID, to: m.id}
	r.seqs[k]++
	env.Seq = r.seqs[k]
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "relay.room").Msg("marshal envelope")
		return
	}
	if err := m.conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "relay.room").Str("to", string(m.id)).Str("type", string(env.Type)).Msg("dropped envelope")
	}
}

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Roster returns the presence meta of current members.
func (r *Room) Roster() []core.JoinedPayload {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.JoinedPayload, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.meta)
	}
	return out
}

// CloseAll tears the room down.
func (r *Room) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.members {
		m.conn.Close()
		delete(r.members, id)
	}
}
