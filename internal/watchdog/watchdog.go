// Package watchdog detects a silently dead program feed. The render loop
// executing is not proof that video actually flows downstream: the output
// track can be deactivated underneath a perfectly healthy compositor. The
// watchdog samples rendered pixels for motion and listens for the track's own
// mute signal, and recovers by recreating the capture track and swapping it
// into the live publish sessions in place.
package watchdog

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/events"
	"github.com/mikeisflux/streamlick-sub000/internal/logging"
	"github.com/mikeisflux/streamlick-sub000/internal/media"
	"github.com/mikeisflux/streamlick-sub000/internal/metrics"
)

// heartbeatID names the silence-breaking companion stage on the mixer. Reusing
// one id keeps repeated recoveries from stacking stages.
const heartbeatID = "watchdog:heartbeat"

// Renderer is the slice of the compositor the watchdog samples and recovers.
type Renderer interface {
	OutputTrack() *media.VideoTrack
	RecreateOutputTrack() *media.VideoTrack
	ClipActive() bool
	ShowReconnectIndicator(d time.Duration)
}

// TrackSwapper hands a recreated video track to the live publish sessions.
type TrackSwapper interface {
	SwapVideoTrack(src domain.VideoSource) error
}

// AudioSink attaches the silence-breaking companion source to the mix.
type AudioSink interface {
	AddElementSource(id string, src domain.AudioSource)
}

// Config carries the watchdog tunables. Zero fields fall back to defaults.
type Config struct {
	// SampleInterval is the spacing of liveness samples.
	SampleInterval time.Duration
	// Region is the side length of the square sampled at the surface center.
	Region int
	// Threshold is the mean absolute pixel delta below which a sample counts
	// as static.
	Threshold float64
	// FreezeAfter is how many consecutive static samples declare the feed
	// frozen.
	FreezeAfter int
	// IndicatorHold is the minimum time the reconnecting indicator stays up
	// after a recovery, even when recovery is instant.
	IndicatorHold time.Duration
	// Clock drives the sampling ticker. Defaults to the wall clock.
	Clock clockwork.Clock
	// Logger defaults to the shared logger scoped to the watchdog.
	Logger *slog.Logger
}

// DefaultConfig is the parameterization used by the studio facade.
func DefaultConfig() Config {
	return Config{
		SampleInterval: time.Second,
		Region:         64,
		Threshold:      1.5,
		FreezeAfter:    3,
		IndicatorHold:  2 * time.Second,
	}
}

// Status is a point-in-time view of the watchdog for the status surface.
type Status struct {
	Samples     uint64 `json:"samples"`
	Consecutive int    `json:"consecutive_static"`
	Frozen      bool   `json:"frozen"`
	Recoveries  uint64 `json:"recoveries"`
}

// Watchdog owns the liveness sampling loop and the mute-recovery path. Its
// pixel buffers and counters are touched only by its own goroutine; Status
// reads them under the mutex.
type Watchdog struct {
	renderer Renderer
	swapper  TrackSwapper
	audio    AudioSink
	bus      *events.Bus
	cfg      Config
	clock    clockwork.Clock
	log      *slog.Logger

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	prev        []uint8
	samples     uint64
	consecutive int
	frozen      bool
	recoveries  uint64
}

// New returns a stopped watchdog observing renderer through bus.
func New(renderer Renderer, swapper TrackSwapper, audio AudioSink, bus *events.Bus, cfg Config) *Watchdog {
	def := DefaultConfig()
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.Region <= 0 {
		cfg.Region = def.Region
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.FreezeAfter <= 0 {
		cfg.FreezeAfter = def.FreezeAfter
	}
	if cfg.IndicatorHold <= 0 {
		cfg.IndicatorHold = def.IndicatorHold
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.WithComponent("watchdog")
	}
	return &Watchdog{
		renderer: renderer,
		swapper:  swapper,
		audio:    audio,
		bus:      bus,
		cfg:      cfg,
		clock:    cfg.Clock,
		log:      cfg.Logger,
	}
}

// Start launches the sampling loop and the mute listener. Idempotent.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})
	w.prev = nil
	w.samples = 0
	w.consecutive = 0
	w.frozen = false

	sub := w.bus.Subscribe()
	go w.loop(ctx, sub)
	w.log.Info("watchdog started",
		"interval", w.cfg.SampleInterval,
		"region", w.cfg.Region,
		"threshold", w.cfg.Threshold,
	)
}

// Stop halts sampling. Idempotent and safe before Start.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	done := w.done
	w.mu.Unlock()

	<-done
	w.log.Info("watchdog stopped")
}

// Status reports the current sampling counters.
func (w *Watchdog) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Samples:     w.samples,
		Consecutive: w.consecutive,
		Frozen:      w.frozen,
		Recoveries:  w.recoveries,
	}
}

func (w *Watchdog) loop(ctx context.Context, sub *events.Subscription) {
	defer close(w.done)
	defer sub.Close()

	ticker := w.clock.NewTicker(w.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			w.sample()
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if _, muted := ev.(events.TrackMuted); muted {
				w.log.Warn("output track muted by the runtime")
				w.recover("track_muted")
			}
		}
	}
}

// sample grabs the center region of the current program frame and compares it
// against the previous sample. Fullscreen clips suppress freeze detection
// entirely: the composition underneath is intentionally static.
func (w *Watchdog) sample() {
	if w.renderer.ClipActive() {
		w.mu.Lock()
		w.samples++
		w.consecutive = 0
		w.prev = nil
		w.mu.Unlock()
		return
	}

	frame, _ := w.renderer.OutputTrack().Frame()
	if frame == nil {
		w.mu.Lock()
		w.samples++
		w.mu.Unlock()
		return
	}
	cur := w.centerRegion(frame)

	w.mu.Lock()
	w.samples++
	prev := w.prev
	w.prev = cur
	if prev == nil || len(prev) != len(cur) {
		w.mu.Unlock()
		return
	}

	delta := meanAbsDelta(prev, cur)
	metrics.WatchdogSampleDelta.Set(delta)

	if delta >= w.cfg.Threshold {
		w.consecutive = 0
		w.frozen = false
		w.mu.Unlock()
		return
	}

	w.consecutive++
	consecutive := w.consecutive
	trigger := !w.frozen && consecutive >= w.cfg.FreezeAfter
	if trigger {
		w.frozen = true
	}
	w.mu.Unlock()

	if !trigger {
		return
	}
	metrics.WatchdogFreezesTotal.Inc()
	w.bus.Publish(events.FeedFrozen{MeanDelta: delta, Consecutive: consecutive})
	w.log.Error("feed frozen",
		"mean_delta", delta,
		"consecutive", consecutive,
		"threshold", w.cfg.Threshold,
	)
	w.recover("freeze")
}

// recover recreates the capture track, attaches the silence-breaking
// companion to the mix, swaps the fresh track into the live sessions, and
// keeps the reconnecting indicator up for the configured minimum.
func (w *Watchdog) recover(trigger string) {
	fresh := w.renderer.RecreateOutputTrack()
	w.audio.AddElementSource(heartbeatID, newHeartbeat())

	if err := w.swapper.SwapVideoTrack(fresh); err != nil {
		// Not publishing yet is fine: the local track is already recovered.
		w.log.Warn("track swap during recovery", "trigger", trigger, "error", err)
	}
	w.renderer.ShowReconnectIndicator(w.cfg.IndicatorHold)

	w.mu.Lock()
	w.recoveries++
	w.mu.Unlock()

	metrics.WatchdogRecoveriesTotal.WithLabelValues(trigger).Inc()
	w.bus.Publish(events.RecoveryPerformed{Trigger: trigger})
	w.log.Info("recovery performed", "trigger", trigger)
}

// centerRegion copies the RGB bytes of the fixed sampling square. The square
// is clamped to the frame for small surfaces. Published frames are recycled
// after a few further publishes, so the sample must own its pixels.
func (w *Watchdog) centerRegion(frame *image.RGBA) []uint8 {
	b := frame.Bounds()
	side := w.cfg.Region
	if side > b.Dx() {
		side = b.Dx()
	}
	if side > b.Dy() {
		side = b.Dy()
	}
	if side <= 0 {
		return nil
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2

	out := make([]uint8, 0, side*side*3)
	for y := y0; y < y0+side; y++ {
		row := frame.Pix[frame.PixOffset(x0, y):]
		for x := 0; x < side; x++ {
			out = append(out, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return out
}

// meanAbsDelta is the average absolute difference across two equal-length
// RGB sample buffers.
func meanAbsDelta(a, b []uint8) float64 {
	if len(a) == 0 {
		return 0
	}
	var sum uint64
	for i := range a {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		sum += uint64(d)
	}
	return float64(sum) / float64(len(a))
}

// heartbeat is the silence-breaking companion: a ±1 LSB square wave,
// inaudible but never digital silence, so downstream pipelines cannot treat
// the program audio as suspended. Alternating per frame keeps both channels
// free of DC offset.
type heartbeat struct{}

func newHeartbeat() domain.AudioSource { return heartbeat{} }

func (heartbeat) ReadBlock(dst []int16) int {
	for i := range dst {
		if (i/domain.Channels)&1 == 0 {
			dst[i] = 1
		} else {
			dst[i] = -1
		}
	}
	return domain.BlockSamples
}
