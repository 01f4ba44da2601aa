package app

import (
	"github.com/rs/zerolog"

	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
)

// ConsentBook tracks consent requests in both directions, keyed by
// request id. Confined to the coordinator loop. A request moves from
// pending to granted or denied, terminal once resolved; a new action
// needs a new request.
type ConsentBook struct {
	log  zerolog.Logger
	reqs map[string]*domain.ConsentRequest
}

func NewConsentBook(log zerolog.Logger) *ConsentBook {
	return &ConsentBook{
		log:  log.With().Str("module", "app.consent").Logger(),
		reqs: make(map[string]*domain.ConsentRequest),
	}
}

// Open records a locally created request.
func (b *ConsentBook) Open(t domain.ConsentType, by domain.ParticipantID, message string) *domain.ConsentRequest {
	req := domain.NewConsentRequest(t, by, message)
	b.reqs[req.ID] = req
	b.log.Info().Str("consent", req.ID).Str("type", string(t)).Msg("consent requested")
	return req
}

// Track records a request received from the counterpart so a later
// Respond can validate it.
func (b *ConsentBook) Track(req *domain.ConsentRequest) {
	b.reqs[req.ID] = req
}

// Resolve settles a pending request. A resolved or unknown id fails
// with ErrStaleConsent and changes nothing, which protects against
// double-answering and answering after expiry.
func (b *ConsentBook) Resolve(id string, granted bool) (*domain.ConsentRequest, error) {
	req, ok := b.reqs[id]
	if !ok || req.Status != domain.ConsentPending {
		return nil, core.ErrStaleConsent
	}
	if granted {
		req.Status = domain.ConsentGranted
	} else {
		req.Status = domain.ConsentDenied
	}
	b.log.Info().Str("consent", id).Bool("granted", granted).Msg("consent resolved")
	return req, nil
}

func (b *ConsentBook) Get(id string) (*domain.ConsentRequest, bool) {
	req, ok := b.reqs[id]
	return req, ok
}

// Pending returns requests still awaiting an answer, oldest first not
// guaranteed; callers needing order sort on CreatedAt.
func (b *ConsentBook) Pending() []domain.ConsentRequest {
	var out []domain.ConsentRequest
	for _, r := range b.reqs {
		if r.Status == domain.ConsentPending {
			out = append(out, *r)
		}
	}
	return out
}
