package media

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	toneSampleRate  = 8000
	toneFrequency   = 440.0
	frameDuration   = 20 * time.Millisecond
	samplesPerFrame = toneSampleRate / 50 // 20ms frames
)

// LocalSource is the single local capture source shared by every peer
// session in the mesh. The headless client has no camera or
// microphone, so the audio track carries a generated test tone and the
// video track is negotiated but idle.
//
// Mute and video-off act at the writer: toggling drops frames
// immediately for every session at once, independent of any
// negotiation.
type LocalSource struct {
	logger *slog.Logger

	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	muted    atomic.Bool
	videoOff atomic.Bool

	ctx           context.Context
	ctxCancelFunc context.CancelFunc
	shutdownOnce  sync.Once
}

// NewLocalSource creates the shared audio and video tracks. Call Start
// to begin feeding the audio track.
func NewLocalSource(logger *slog.Logger) (*LocalSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU},
		"audio",
		"mindexpress-local",
	)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		"mindexpress-local",
	)
	if err != nil {
		return nil, err
	}

	ctx, cancelFunc := context.WithCancel(context.Background())
	return &LocalSource{
		logger:        logger,
		audio:         audio,
		video:         video,
		ctx:           ctx,
		ctxCancelFunc: cancelFunc,
	}, nil
}

// Tracks returns the local tracks to add to each peer session.
func (s *LocalSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audio, s.video}
}

// Start launches the tone writer. It stops when the source is closed.
func (s *LocalSource) Start() {
	go s.toneLoop()
}

func (s *LocalSource) SetMuted(muted bool)  { s.muted.Store(muted) }
func (s *LocalSource) Muted() bool          { return s.muted.Load() }
func (s *LocalSource) SetVideoOff(off bool) { s.videoOff.Store(off) }
func (s *LocalSource) VideoOff() bool       { return s.videoOff.Load() }

// Close stops the writer. The tracks themselves are released when the
// peer sessions holding them close.
func (s *LocalSource) Close() error {
	s.shutdownOnce.Do(s.ctxCancelFunc)
	return nil
}

// toneLoop writes a 440Hz tone in 20ms µ-law frames, skipping frames
// while muted.
func (s *LocalSource) toneLoop() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	var phase float64
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		if s.muted.Load() {
			continue
		}

		frame := make([]byte, samplesPerFrame)
		for i := range frame {
			sample := int16(0.3 * math.Sin(phase) * math.MaxInt16)
			frame[i] = linearToMulaw(sample)
			phase += 2 * math.Pi * toneFrequency / toneSampleRate
			if phase >= 2*math.Pi {
				phase -= 2 * math.Pi
			}
		}

		if err := s.audio.WriteSample(media.Sample{
			Data:     frame,
			Duration: frameDuration,
		}); err != nil {
			s.logger.Error("error writing audio sample", "err", err)
		}
	}
}

// linearToMulaw encodes a 16-bit linear PCM sample as G.711 µ-law.
func linearToMulaw(sample int16) byte {
	const bias = 0x84
	const clip = 0x7F7B

	var sign byte
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > clip {
		sample = clip
	}
	biased := uint16(sample) + bias

	var exponent byte
	for threshold := uint16(0x0200); exponent < 7 && biased >= threshold; threshold <<= 1 {
		exponent++
	}

	mantissa := byte((biased >> (exponent + 3)) & 0x0F)
	return ^(sign | (exponent << 4) | mantissa)
}
