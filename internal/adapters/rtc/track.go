package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dialcare/consult/internal/core"
)

// Track wraps a pion local sample track with an enabled flag. Disabled
// tracks stay attached to the peer connection; writers consult Enabled
// before pushing samples.
type Track struct {
	local *webrtc.TrackLocalStaticSample
	kind  core.TrackKind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func newTrack(local *webrtc.TrackLocalStaticSample, kind core.TrackKind) *Track {
	return &Track{local: local, kind: kind, enabled: true}
}

func (t *Track) ID() string           { return t.local.ID() }
func (t *Track) Kind() core.TrackKind { return t.kind }

func (t *Track) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled && !t.stopped
}

func (t *Track) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.enabled = false
	t.mu.Unlock()
}

// Local exposes the underlying pion track for attachment. Only the rtc
// package reaches through it.
func (t *Track) Local() webrtc.TrackLocal { return t.local }
