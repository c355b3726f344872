// Package sources provides synthetic participant feeds: a moving-bar test
// pattern for video and a pure sine tone for audio. The demo binary builds
// its cast from them, and tests use them as deterministic stand-ins for
// real capture devices.
package sources

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/logging"
	"github.com/mikeisflux/streamlick-sub000/internal/media"
)

// Config shapes one synthetic feed. Zero values fall back to defaults.
type Config struct {
	// Width and Height size the generated frames.
	Width  int
	Height int

	// FPS is the video pump rate.
	FPS int

	// ToneHz is the audio tone frequency. Zero or negative produces silence.
	ToneHz float64

	// Volume scales the tone amplitude in [0, 1].
	Volume float64

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// DefaultConfig returns the settings used by the demo cast: a 640x360
// pattern at 30fps with a quiet 440Hz tone.
func DefaultConfig() Config {
	return Config{
		Width:  640,
		Height: 360,
		FPS:    30,
		ToneHz: 440,
		Volume: 0.2,
	}
}

// Synthetic simulates one participant: a video track fed by a pattern
// generator plus a pull-based tone source. The video side only produces
// frames between Start and Stop; the audio side synthesizes on demand and
// needs no pump.
type Synthetic struct {
	id    string
	name  string
	cfg   Config
	clock clockwork.Clock
	log   *slog.Logger

	track *media.VideoTrack
	tone  *toneSource
	hue   uint32

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	surfaces [3]*image.RGBA
	surfIdx  int
	frameNum uint64
}

// New creates a synthetic source identified by id with the given display
// name. The source is idle until Start is called.
func New(id, displayName string, cfg Config) *Synthetic {
	def := DefaultConfig()
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.Volume < 0 {
		cfg.Volume = 0
	}
	if cfg.Volume > 1 {
		cfg.Volume = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.WithComponent("sources")
	}

	s := &Synthetic{
		id:    id,
		name:  displayName,
		cfg:   cfg,
		clock: cfg.Clock,
		log:   cfg.Logger.With("source_id", id),
		track: media.NewVideoTrack(),
		tone:  newToneSource(cfg.ToneHz, cfg.Volume),
		hue:   hashID(id),
	}
	for i := range s.surfaces {
		s.surfaces[i] = image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	}
	return s
}

// ID returns the participant identifier this source was created with.
func (s *Synthetic) ID() string { return s.id }

// Video returns the track frames are published into.
func (s *Synthetic) Video() *media.VideoTrack { return s.track }

// Audio returns the tone source.
func (s *Synthetic) Audio() domain.AudioSource { return s.tone }

// Participant bundles the source into a participant descriptor ready for
// the compositor.
func (s *Synthetic) Participant(role domain.Role, isLocal bool) domain.ParticipantSource {
	return domain.ParticipantSource{
		ID:           s.id,
		DisplayName:  s.name,
		Video:        s.track,
		Audio:        s.tone,
		VideoEnabled: true,
		AudioEnabled: true,
		Role:         role,
		IsLocal:      isLocal,
	}
}

// Start begins generating frames. Calling Start on a running source is a
// no-op.
func (s *Synthetic) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.pump(ctx, s.done)
	s.log.Info("Synthetic source started", "fps", s.cfg.FPS, "tone_hz", s.cfg.ToneHz)
}

// Stop halts frame generation and waits for the pump goroutine to exit.
// The video track keeps its last frame so downstream consumers degrade
// to a still image rather than going dark.
func (s *Synthetic) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info("Synthetic source stopped")
}

func (s *Synthetic) pump(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := time.Second / time.Duration(s.cfg.FPS)
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.publishFrame()
		}
	}
}

// publishFrame draws the next pattern frame into the oldest ring surface
// and hands it to the track. Three surfaces are enough: one being drawn,
// one held by the track, one potentially still read by the compositor.
func (s *Synthetic) publishFrame() {
	s.mu.Lock()
	surf := s.surfaces[s.surfIdx]
	s.surfIdx = (s.surfIdx + 1) % len(s.surfaces)
	n := s.frameNum
	s.frameNum++
	s.mu.Unlock()

	drawPattern(surf, n, s.hue)
	s.track.Publish(surf)
}

// drawPattern fills img with a per-source background tint and a bright
// vertical bar that advances one step per frame. The motion keeps freeze
// detectors exercised.
func drawPattern(img *image.RGBA, frame uint64, hue uint32) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	bg := color.RGBA{
		R: uint8(20 + (hue>>16)&0x3F),
		G: uint8(20 + (hue>>8)&0x3F),
		B: uint8(20 + hue&0x3F),
		A: 255,
	}
	bar := color.RGBA{R: 230, G: 230, B: 235, A: 255}

	barWidth := w / 10
	if barWidth < 1 {
		barWidth = 1
	}
	barX := int(frame*4) % w

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := bg
			dx := x - barX
			if dx < 0 {
				dx += w
			}
			if dx < barWidth {
				c = bar
			}
			img.SetRGBA(x, y, c)
		}
	}
}

func hashID(id string) uint32 {
	hash := fnv.New32a()
	_, _ = fmt.Fprint(hash, id)
	return hash.Sum32()
}

// toneSource synthesizes a sine tone on demand, keeping phase across
// blocks so consecutive reads form a continuous waveform.
type toneSource struct {
	mu     sync.Mutex
	freq   float64
	volume float64
	phase  float64
}

func newToneSource(freq, volume float64) *toneSource {
	return &toneSource{freq: freq, volume: volume}
}

// ReadBlock fills dst with interleaved stereo samples of the tone and
// always reports a full block. Silence still counts as audio so the mixer
// never treats a quiet synthetic participant as stalled.
func (t *toneSource) ReadBlock(dst []int16) int {
	samples := len(dst) / domain.Channels

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.freq <= 0 || t.volume == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return samples
	}

	step := 2 * math.Pi * t.freq / float64(domain.SampleRate)
	amp := t.volume * 0.5 * float64(math.MaxInt16)
	for i := 0; i < samples; i++ {
		v := int16(amp * math.Sin(t.phase))
		for ch := 0; ch < domain.Channels; ch++ {
			dst[i*domain.Channels+ch] = v
		}
		t.phase += step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return samples
}
