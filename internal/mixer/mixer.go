package mixer

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/logging"
	"github.com/mikeisflux/streamlick-sub000/internal/media"
	"github.com/mikeisflux/streamlick-sub000/internal/metrics"
)

// LevelTap selects where the per-source level meter reads from.
type LevelTap int

const (
	// TapPostGate meters what actually reaches the mix: a gated source
	// meters as silent. This is the default.
	TapPostGate LevelTap = iota
	// TapPreGate meters the raw source signal even while the gate holds it
	// out of the mix.
	TapPreGate
)

const (
	blockLen = domain.Channels * domain.BlockSamples

	// gateHoldBlocks keeps an opened gate from fluttering shut between
	// syllables (100 ms at 20 ms blocks).
	gateHoldBlocks = 5

	// levelRelease is the per-block decay of the level meter. Attack is
	// instant.
	levelRelease = 0.82
)

// Config carries the mixer's tunables. Zero values select defaults.
type Config struct {
	// Clock drives the pump. Defaults to the wall clock.
	Clock clockwork.Clock
	// Logger defaults to the shared logger scoped to the mixer component.
	Logger *slog.Logger
	// LevelTap selects the meter tap point.
	LevelTap LevelTap
	// GateThreshold is the normalized RMS (0..1) below which a stage is
	// gated out of the mix. 0 disables the gate.
	GateThreshold float64
	// BufferBlocks is the output track depth; defaults to 25 (500 ms).
	BufferBlocks int
}

// Mixer folds all connected sources into one PCM output track.
type Mixer struct {
	clock clockwork.Clock
	log   *slog.Logger
	tap   LevelTap
	gate  float64

	mu      sync.Mutex
	stages  map[string]*stage
	master  float64
	out     *media.AudioTrack
	monitor *media.AudioTrack
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	bufBlocks int

	// scratch buffers reused across pump ticks
	accMix [blockLen]int32
	accMon [blockLen]int32
	outBuf [blockLen]int16
	monBuf [blockLen]int16
}

type stage struct {
	src      domain.AudioSource
	gain     float64
	monitor  bool
	buf      []int16
	level    float64
	gateOpen bool
	holdLeft int
}

// New returns a mixer that is not yet pumping; call Initialize.
func New(cfg Config) *Mixer {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.WithComponent("mixer")
	}
	bufBlocks := cfg.BufferBlocks
	if bufBlocks <= 0 {
		bufBlocks = 25
	}
	return &Mixer{
		clock:     clock,
		log:       log,
		tap:       cfg.LevelTap,
		gate:      cfg.GateThreshold,
		stages:    make(map[string]*stage),
		master:    1.0,
		bufBlocks: bufBlocks,
	}
}

// Initialize builds the mixing graph and starts the pump. Calling it on a
// running mixer is a no-op; calling it after Stop rebuilds fresh output
// tracks and resumes pumping.
func (m *Mixer) Initialize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	m.out = media.NewAudioTrack(m.bufBlocks)
	m.monitor = media.NewAudioTrack(m.bufBlocks)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.pump(ctx, m.done)
	m.log.Info("mixer initialized",
		"gate_threshold", m.gate,
		"level_tap", m.tap,
	)
}

// AddStream connects a participant audio source with unity gain scaled by
// the current master volume. Replacing an existing ID swaps the source but
// keeps its gain stage.
func (m *Mixer) AddStream(id string, src domain.AudioSource) {
	m.addStage(id, src, false)
}

// AddElementSource connects a media-element source (clip audio, stingers).
// Element sources are dual-routed: they reach the program mix and the local
// monitor track.
func (m *Mixer) AddElementSource(id string, src domain.AudioSource) {
	m.addStage(id, src, true)
}

func (m *Mixer) addStage(id string, src domain.AudioSource, monitor bool) {
	if src == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.stages[id]; ok {
		st.src = src
		st.monitor = monitor
		return
	}
	m.stages[id] = &stage{
		src:     src,
		gain:    1.0,
		monitor: monitor,
		buf:     make([]int16, blockLen),
	}
	metrics.MixerActiveSources.Set(float64(len(m.stages)))
	m.log.Debug("source connected", "source_id", id, "monitor", monitor)
}

// RemoveStream disconnects and frees a source's gain stage. Unknown IDs are
// a no-op.
func (m *Mixer) RemoveStream(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stages[id]; !ok {
		return
	}
	delete(m.stages, id)
	metrics.MixerActiveSources.Set(float64(len(m.stages)))
	m.log.Debug("source disconnected", "source_id", id)
}

// SetSourceGain adjusts one stage's gain, clamped to [0,1].
func (m *Mixer) SetSourceGain(id string, gain float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.stages[id]; ok {
		st.gain = clamp01(gain)
	}
}

// SetMasterVolume sets the master multiplier, clamped to [0,1]. The value
// applies to every existing stage and is remembered for stages added later.
func (m *Mixer) SetMasterVolume(v float64) {
	v = clamp01(v)
	m.mu.Lock()
	m.master = v
	m.mu.Unlock()
	metrics.MixerMasterVolume.Set(v)
	m.log.Info("master volume set", "volume", v)
}

// MasterVolume reports the current master multiplier.
func (m *Mixer) MasterVolume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.master
}

// OutputTrack returns the mixed program track, or nil before Initialize.
func (m *Mixer) OutputTrack() *media.AudioTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out
}

// MonitorTrack returns the local monitor track carrying element sources, or
// nil before Initialize.
func (m *Mixer) MonitorTrack() *media.AudioTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monitor
}

// Level reports the smoothed meter level (0..1) for a source, 0 for unknown
// IDs.
func (m *Mixer) Level(id string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.stages[id]; ok {
		return st.level
	}
	return 0
}

// Stop disconnects all sources and releases the pump. Idempotent.
func (m *Mixer) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	done := m.done
	m.stages = make(map[string]*stage)
	m.mu.Unlock()

	<-done
	metrics.MixerActiveSources.Set(0)
	m.log.Info("mixer stopped")
}

func (m *Mixer) pump(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := m.clock.NewTicker(domain.BlockDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.mixBlock()
		}
	}
}

func (m *Mixer) mixBlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}

	for i := range m.accMix {
		m.accMix[i] = 0
		m.accMon[i] = 0
	}

	haveMonitor := false
	for _, st := range m.stages {
		for i := range st.buf {
			st.buf[i] = 0
		}
		n := st.src.ReadBlock(st.buf)
		if n == 0 {
			st.meter(0, m.tap, 0)
			continue
		}

		raw := normalizedRMS(st.buf)
		passed := m.gateStage(st, raw)
		st.meter(raw, m.tap, passedRMS(raw, passed))
		if !passed {
			continue
		}

		g := st.gain * m.master
		for i, s := range st.buf {
			scaled := int32(float64(s) * g)
			m.accMix[i] += scaled
			if st.monitor {
				m.accMon[i] += scaled
			}
		}
		if st.monitor {
			haveMonitor = true
		}
	}

	clipped := 0
	for i, v := range m.accMix {
		if v > math.MaxInt16 {
			v = math.MaxInt16
			clipped++
		} else if v < math.MinInt16 {
			v = math.MinInt16
			clipped++
		}
		m.outBuf[i] = int16(v)
	}
	m.out.WriteBlock(m.outBuf[:])
	metrics.MixerBlocksMixedTotal.Inc()
	if clipped > 0 {
		metrics.MixerClippedSamplesTotal.Add(float64(clipped))
	}

	if haveMonitor {
		for i, v := range m.accMon {
			if v > math.MaxInt16 {
				v = math.MaxInt16
			} else if v < math.MinInt16 {
				v = math.MinInt16
			}
			m.monBuf[i] = int16(v)
		}
		m.monitor.WriteBlock(m.monBuf[:])
	}
}

// gateStage applies the noise gate and reports whether the block passes.
func (m *Mixer) gateStage(st *stage, rms float64) bool {
	if m.gate <= 0 {
		return true
	}
	if rms >= m.gate {
		st.gateOpen = true
		st.holdLeft = gateHoldBlocks
		return true
	}
	if st.gateOpen && st.holdLeft > 0 {
		st.holdLeft--
		return true
	}
	st.gateOpen = false
	return false
}

func (st *stage) meter(raw float64, tap LevelTap, post float64) {
	v := post
	if tap == TapPreGate {
		v = raw
	}
	if v > st.level {
		st.level = v
	} else {
		st.level *= levelRelease
	}
}

func passedRMS(raw float64, passed bool) float64 {
	if passed {
		return raw
	}
	return 0
}

func normalizedRMS(buf []int16) float64 {
	var sum float64
	for _, s := range buf {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum/float64(len(buf))) / float64(math.MaxInt16+1)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
