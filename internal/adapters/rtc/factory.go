package rtc

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dialcare/consult/internal/core"
)

// Factory implements core.LinkFactory with a shared ICE configuration.
type Factory struct {
	log zerolog.Logger
	cfg webrtc.Configuration
}

func NewFactory(iceServers []string, log zerolog.Logger) *Factory {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &Factory{log: log, cfg: cfg}
}

func (f *Factory) NewLink(participant string) (core.MediaLink, error) {
	return NewLink(f.cfg, participant, f.log)
}
