package callclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const opusFrame = 20 * time.Millisecond

// opusSilence is a single Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilentSource stands in for a microphone. It produces an Opus track that
// carries silence so a headless client still negotiates audio.
type SilentSource struct {
	StreamID string
}

func (s SilentSource) Acquire(ctx context.Context) (LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID := s.StreamID
	if streamID == "" {
		streamID = "agriconnect"
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	a := &SilentAudio{track: track, stop: make(chan struct{})}
	go a.pump()
	return a, nil
}

type SilentAudio struct {
	track    *webrtc.TrackLocalStaticSample
	stop     chan struct{}
	stopOnce sync.Once
}

func (a *SilentAudio) Track() *webrtc.TrackLocalStaticSample {
	return a.track
}

func (a *SilentAudio) pump() {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			_ = a.track.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrame})
		}
	}
}

func (a *SilentAudio) Release() {
	a.stopOnce.Do(func() { close(a.stop) })
}
