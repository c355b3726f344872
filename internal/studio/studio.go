// Package studio assembles the broadcast pipeline behind a single facade.
// The Engine wires the compositor, the audio mixer, the asset cache, the
// publish manager, and the liveness watchdog to one shared event bus and
// exposes the operations a control surface needs: cast management, layout
// and overlay control, publishing with failover, and a status snapshot.
package studio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mikeisflux/streamlick-sub000/internal/assets"
	"github.com/mikeisflux/streamlick-sub000/internal/compose"
	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/events"
	"github.com/mikeisflux/streamlick-sub000/internal/logging"
	"github.com/mikeisflux/streamlick-sub000/internal/mixer"
	"github.com/mikeisflux/streamlick-sub000/internal/publish"
	"github.com/mikeisflux/streamlick-sub000/internal/watchdog"
)

// reconnectChipHold is how long the reconnecting chip stays up after a
// failover when the triggering event carries no delay of its own.
const reconnectChipHold = 2 * time.Second

// Config aggregates the per-component configurations. Zero values inside
// each section fall back to that component's defaults; a Clock or Logger
// set here propagates into sections that left theirs unset.
type Config struct {
	Compose  compose.Config
	Mixer    mixer.Config
	Publish  publish.Config
	Watchdog watchdog.Config
	Assets   assets.Config

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Snapshot is the point-in-time engine state served by the status API.
type Snapshot struct {
	Running      bool                         `json:"running"`
	Publishing   bool                         `json:"publishing"`
	Uptime       time.Duration                `json:"uptime"`
	Layout       string                       `json:"layout"`
	MasterVolume float64                      `json:"master_volume"`
	Render       compose.Stats                `json:"render"`
	PrimaryID    string                       `json:"primary_id,omitempty"`
	Connections  []publish.ConnectionSnapshot `json:"connections"`
	Watchdog     watchdog.Status              `json:"watchdog"`
}

// Engine is the studio facade. All methods are safe for concurrent use;
// they delegate to components that carry their own locking, so calls into
// different components never serialize each other.
type Engine struct {
	clock clockwork.Clock
	log   *slog.Logger

	bus   *events.Bus
	store *assets.Cache
	mix   *mixer.Mixer
	comp  *compose.Compositor
	mgr   *publish.Manager
	dog   *watchdog.Watchdog

	mu         sync.Mutex
	running    bool
	closed     bool
	startedAt  time.Time
	bridgeSub  *events.Subscription
	bridgeDone chan struct{}
}

// New builds an engine publishing through transport. The engine is idle
// until Initialize or Start is called.
func New(transport domain.Transport, cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.WithComponent("studio")
	}
	if cfg.Compose.Clock == nil {
		cfg.Compose.Clock = cfg.Clock
	}
	if cfg.Mixer.Clock == nil {
		cfg.Mixer.Clock = cfg.Clock
	}
	if cfg.Publish.Clock == nil {
		cfg.Publish.Clock = cfg.Clock
	}
	if cfg.Watchdog.Clock == nil {
		cfg.Watchdog.Clock = cfg.Clock
	}

	bus := events.NewBus()
	store := assets.New(cfg.Assets)
	mix := mixer.New(cfg.Mixer)
	comp := compose.New(mix, store, bus, cfg.Compose)
	mgr := publish.NewManager(transport, bus, cfg.Publish)
	dog := watchdog.New(comp, mgr, mix, bus, cfg.Watchdog)

	return &Engine{
		clock: cfg.Clock,
		log:   cfg.Logger,
		bus:   bus,
		store: store,
		mix:   mix,
		comp:  comp,
		mgr:   mgr,
		dog:   dog,
	}
}

// Initialize binds the starting cast and brings the pipeline up: mixer
// pump, draw loop, watchdog, and the failover indicator bridge. It may be
// called again after Stop to relaunch with a fresh cast.
func (e *Engine) Initialize(ctx context.Context, participants []domain.ParticipantSource) error {
	if err := e.markRunning(); err != nil {
		return err
	}
	if err := e.comp.Initialize(ctx, participants); err != nil {
		if sub, done := e.markStopped(); sub != nil {
			sub.Close()
			<-done
		}
		e.comp.Stop()
		e.mix.Stop()
		return err
	}
	e.dog.Start()
	e.log.Info("Studio engine initialized", "participants", len(participants))
	return nil
}

// Start brings the pipeline up without binding any participants. Useful
// for a show that adds its cast one by one while already rendering the
// empty canvas.
func (e *Engine) Start() error {
	if err := e.markRunning(); err != nil {
		return err
	}
	e.mix.Initialize()
	e.comp.Start()
	e.dog.Start()
	e.log.Info("Studio engine started")
	return nil
}

// markRunning flips the engine into the running state and launches the
// event bridge. Returns ErrClosed after Close.
func (e *Engine) markRunning() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.ErrClosed
	}
	if e.running {
		return nil
	}
	e.running = true
	e.startedAt = e.clock.Now()

	e.bridgeSub = e.bus.Subscribe()
	e.bridgeDone = make(chan struct{})
	go e.bridge(e.bridgeSub, e.bridgeDone)
	return nil
}

func (e *Engine) markStopped() (sub *events.Subscription, done chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil, nil
	}
	e.running = false
	sub, done = e.bridgeSub, e.bridgeDone
	e.bridgeSub, e.bridgeDone = nil, nil
	return sub, done
}

// bridge surfaces publish-side trouble on the canvas: any failover or
// scheduled reconnect pops the reconnecting chip so viewers see a hiccup
// instead of silence.
func (e *Engine) bridge(sub *events.Subscription, done chan struct{}) {
	defer close(done)
	for ev := range sub.C {
		switch ev := ev.(type) {
		case events.Failover:
			e.comp.ShowReconnectIndicator(reconnectChipHold)
		case events.ReconnectScheduled:
			hold := ev.Delay
			if hold <= 0 {
				hold = reconnectChipHold
			}
			e.comp.ShowReconnectIndicator(hold)
		}
	}
}

// Stop tears the production pipeline down: watchdog first so recovery
// cannot race the shutdown, then the draw loop and the mixer pump. Any
// active publish sessions keep running on the last published frame until
// StopPublishing or Close.
func (e *Engine) Stop() {
	sub, done := e.markStopped()
	if sub == nil {
		return
	}

	e.dog.Stop()
	e.comp.Stop()
	e.mix.Stop()

	sub.Close()
	<-done
	e.log.Info("Studio engine stopped")
}

// AddParticipant binds a new source into the running composition.
func (e *Engine) AddParticipant(ctx context.Context, p domain.ParticipantSource) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.comp.AddParticipant(ctx, p)
}

// RemoveParticipant unbinds a participant and releases its audio stage.
func (e *Engine) RemoveParticipant(id string) {
	e.comp.RemoveParticipant(id)
}

// SetParticipantMedia toggles a participant's video and audio contribution.
func (e *Engine) SetParticipantMedia(id string, videoEnabled, audioEnabled bool) {
	e.comp.SetParticipantMedia(id, videoEnabled, audioEnabled)
}

// SetLayout switches the canvas arrangement effective next frame.
func (e *Engine) SetLayout(spec domain.LayoutSpec) {
	e.comp.SetLayout(spec)
}

// Layout returns the current canvas arrangement.
func (e *Engine) Layout() domain.LayoutSpec {
	return e.comp.Layout()
}

// AddOverlay loads the overlay's image through the asset cache and shows it.
func (e *Engine) AddOverlay(ctx context.Context, asset domain.OverlayAsset) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.comp.AddOverlay(ctx, asset)
}

// RemoveOverlay hides and drops the overlay with the given id.
func (e *Engine) RemoveOverlay(id string) {
	e.comp.RemoveOverlay(id)
}

// ShowLowerThird displays a name banner until HideLowerThird.
func (e *Engine) ShowLowerThird(text, subtext string, style domain.LowerThirdStyle) {
	e.comp.ShowLowerThird(text, subtext, style)
}

// HideLowerThird removes the current name banner.
func (e *Engine) HideLowerThird() {
	e.comp.HideLowerThird()
}

// AddChatMessage appends a message to the on-canvas chat feed.
func (e *Engine) AddChatMessage(msg domain.ChatMessage) {
	e.comp.AddChatMessage(msg)
}

// SetShowChat toggles the chat feed overlay.
func (e *Engine) SetShowChat(show bool) {
	e.comp.SetShowChat(show)
}

// SetCaption updates the live caption line. Interim captions render
// dimmed until finalized.
func (e *Engine) SetCaption(text string, interim bool) {
	e.comp.SetCaption(text, interim)
}

// PlayIntroClip plays a fullscreen clip and blocks until it finishes or
// ctx is canceled. Only one clip may run at a time.
func (e *Engine) PlayIntroClip(ctx context.Context, url string, durationOverride time.Duration) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.comp.PlayIntroClip(ctx, url, durationOverride)
}

// StartCountdown runs a fullscreen countdown for the given number of
// seconds. Returns without waiting for it to finish.
func (e *Engine) StartCountdown(seconds int) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.comp.StartCountdown(seconds)
}

// SetMasterVolume sets the program output volume in [0, 1].
func (e *Engine) SetMasterVolume(v float64) {
	e.mix.SetMasterVolume(v)
}

// MasterVolume returns the current program output volume.
func (e *Engine) MasterVolume() float64 {
	return e.mix.MasterVolume()
}

// SetSourceGain adjusts one participant's level on the program bus.
func (e *Engine) SetSourceGain(id string, gain float64) {
	e.mix.SetSourceGain(id, gain)
}

// AudioLevel reports a participant's current post-gain RMS level.
func (e *Engine) AudioLevel(id string) float64 {
	return e.mix.Level(id)
}

// StartPublishing opens sessions to the primary and backup destinations
// carrying the program output tracks, and blocks until the primary is
// ready. The pipeline must be running first so the tracks exist.
func (e *Engine) StartPublishing(ctx context.Context, primary publish.Destination, backups ...publish.Destination) error {
	if err := e.guard(); err != nil {
		return err
	}

	audio := e.mix.OutputTrack()
	video := e.comp.OutputTrack()
	if audio == nil || video == nil {
		return domain.ErrNotRunning
	}

	tracks := domain.MediaTracks{Video: video, Audio: audio}
	return e.mgr.StartPublishing(ctx, tracks, primary, backups...)
}

// StopPublishing closes every publish session. The production pipeline
// keeps rendering.
func (e *Engine) StopPublishing() error {
	return e.mgr.StopPublishing()
}

// ForceFailover promotes the named connection to primary regardless of
// the current primary's health.
func (e *Engine) ForceFailover(targetID string) error {
	return e.mgr.ForceFailover(targetID)
}

// Bus exposes the engine's event stream for UI fan-out and tests.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Snapshot assembles the full engine state for the status surface.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	running := e.running
	startedAt := e.startedAt
	e.mu.Unlock()

	snap := Snapshot{
		Running:      running,
		Layout:       string(e.comp.Layout().Kind),
		MasterVolume: e.mix.MasterVolume(),
		Render:       e.comp.Metrics(),
		PrimaryID:    e.mgr.PrimaryID(),
		Connections:  e.mgr.Snapshot(),
		Watchdog:     e.dog.Status(),
	}
	snap.Publishing = len(snap.Connections) > 0
	if running {
		snap.Uptime = e.clock.Now().Sub(startedAt)
	}
	return snap
}

// guard rejects calls on a closed engine and, for operations that need a
// live pipeline, on a stopped one.
func (e *Engine) guard() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.ErrClosed
	}
	if !e.running {
		return domain.ErrNotRunning
	}
	return nil
}

// Close stops the pipeline, tears down all publish sessions, and releases
// the asset cache and event bus. The engine cannot be restarted afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.Stop()
	err := e.mgr.Close()
	e.store.Close()
	e.bus.Close()
	e.log.Info("Studio engine closed")
	return err
}
