package app

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/dialcare/consult/internal/domain"
)

// Presence tracks known remote participants. It is confined to the
// coordinator loop, so it carries no locks. Records are retained after
// a leave; a rejoin reuses the same identity.
type Presence struct {
	log    zerolog.Logger
	window time.Duration
	byID   map[domain.ParticipantID]*domain.Participant
}

func NewPresence(window time.Duration, log zerolog.Logger) *Presence {
	return &Presence{
		log:    log.With().Str("module", "app.presence").Logger(),
		window: window,
		byID:   make(map[domain.ParticipantID]*domain.Participant),
	}
}

// Upsert reconciles a join announcement. It reports whether the
// participant was previously unknown (or had left), which is what
// triggers a fresh peer connection.
func (p *Presence) Upsert(in *domain.Participant, now time.Time) (joined bool) {
	existing, ok := p.byID[in.ID]
	if !ok {
		in.Status = domain.Connected
		in.LastSeen = now
		p.byID[in.ID] = in
		p.log.Info().Str("participant", string(in.ID)).Str("role", string(in.Role)).Msg("participant joined")
		return true
	}
	joined = existing.Status == domain.Disconnected
	existing.DisplayName = in.DisplayName
	existing.Role = in.Role
	existing.VideoEnabled = in.VideoEnabled
	existing.AudioEnabled = in.AudioEnabled
	existing.Status = domain.Connected
	existing.LastSeen = now
	return joined
}

// MarkLeft demotes the participant but keeps the record.
func (p *Presence) MarkLeft(id domain.ParticipantID) *domain.Participant {
	pt, ok := p.byID[id]
	if !ok {
		return nil
	}
	pt.Status = domain.Disconnected
	p.log.Info().Str("participant", string(id)).Msg("participant left")
	return pt
}

// Touch records a presence signal. Any envelope from a participant
// counts, not just heartbeats.
func (p *Presence) Touch(id domain.ParticipantID, now time.Time) {
	if pt, ok := p.byID[id]; ok {
		pt.LastSeen = now
		if pt.Status == domain.Connecting {
			pt.Status = domain.Connected
		}
	}
}

// Stale returns connected participants with no presence signal inside
// the window. The heartbeat sweep is the only timeout-driven state
// change in the core.
func (p *Presence) Stale(now time.Time) []*domain.Participant {
	var out []*domain.Participant
	for _, pt := range p.byID {
		if pt.Status == domain.Connected && now.Sub(pt.LastSeen) > p.window {
			out = append(out, pt)
		}
	}
	return out
}

func (p *Presence) Get(id domain.ParticipantID) (*domain.Participant, bool) {
	pt, ok := p.byID[id]
	return pt, ok
}

func (p *Presence) ConnectedCount() int {
	n := 0
	for _, pt := range p.byID {
		if pt.Status == domain.Connected {
			n++
		}
	}
	return n
}

func (p *Presence) Snapshot() []domain.Participant {
	out := make([]domain.Participant, 0, len(p.byID))
	for _, pt := range p.byID {
		out = append(out, *pt)
	}
	return out
}
