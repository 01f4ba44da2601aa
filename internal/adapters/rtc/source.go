package rtc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/dialcare/consult/internal/core"
)

// SampleSource implements core.MediaSource by allocating local sample
// tracks. Feeding captured frames into the tracks is the embedding
// client's job; the coordinator only needs acquire/attach/stop
// semantics.
type SampleSource struct{}

func NewSampleSource() *SampleSource { return &SampleSource{} }

func (s *SampleSource) AcquireUserMedia(ctx context.Context) (audio, video core.MediaTrack, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	a, err := sampleTrack(webrtc.MimeTypeOpus, "audio")
	if err != nil {
		return nil, nil, err
	}
	v, err := sampleTrack(webrtc.MimeTypeVP8, "video")
	if err != nil {
		return nil, nil, err
	}
	return newTrack(a, core.TrackAudio), newTrack(v, core.TrackVideo), nil
}

func (s *SampleSource) AcquireDisplayMedia(ctx context.Context) (core.MediaTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := sampleTrack(webrtc.MimeTypeVP8, "screen")
	if err != nil {
		return nil, err
	}
	return newTrack(t, core.TrackScreen), nil
}

func sampleTrack(mime, stream string) (*webrtc.TrackLocalStaticSample, error) {
	t, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime},
		uuid.NewString(),
		stream,
	)
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", stream, err)
	}
	return t, nil
}
