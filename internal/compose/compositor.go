// Package compose owns the render surface and the draw loop. Every tick it
// assembles the program frame from the active layout, participant feeds,
// overlays and transient text entities, then publishes the finished frame to
// the output video track. All surface mutation happens inside the tick; the
// rest of the studio talks to the compositor through its methods and observes
// it through the event bus.
package compose

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/events"
	"github.com/mikeisflux/streamlick-sub000/internal/logging"
	"github.com/mikeisflux/streamlick-sub000/internal/media"
	"github.com/mikeisflux/streamlick-sub000/internal/metrics"
)

const (
	// chatRingSize bounds the retained chat history.
	chatRingSize = 50

	// metricsWindow is how many recent draws feed the rolling averages.
	metricsWindow = 120

	// surfaceRing is the number of rotating render surfaces. A published
	// frame stays untouched until the ring wraps, giving pollers two full
	// frame intervals to read or copy it.
	surfaceRing = 3
)

// AudioBoard is the slice of the mixer the compositor drives: participant
// stages, clip audio, and the live levels behind the placeholder pulse rings.
type AudioBoard interface {
	Initialize()
	AddStream(id string, src domain.AudioSource)
	AddElementSource(id string, src domain.AudioSource)
	RemoveStream(id string)
	Level(id string) float64
}

// AssetStore loads overlay images and fullscreen clips ahead of the render
// loop. Lookups are expected to be cached; the compositor never retries.
type AssetStore interface {
	Image(ctx context.Context, url string) (*image.RGBA, error)
	Clip(ctx context.Context, url string) (domain.Clip, error)
}

// Config carries the compositor's tunables. DefaultConfig returns the values
// used by the studio; zero fields in a custom Config fall back to them.
type Config struct {
	// Width and Height fix the render surface resolution.
	Width  int
	Height int
	// TargetFPS is the draw rate the loop throttles to.
	TargetFPS int
	// TilePadding is the gap around participant tiles, in pixels.
	TilePadding int
	// AudioRings enables the audio-reactive pulse rings on videoless tiles.
	AudioRings bool
	// FirstFrameWait bounds how long AddParticipant waits for a source's
	// first frame before proceeding with a placeholder.
	FirstFrameWait time.Duration
	// Clock drives the loop. Defaults to the wall clock.
	Clock clockwork.Clock
	// Logger defaults to the shared logger scoped to the compositor.
	Logger *slog.Logger
}

// DefaultConfig is the parameterization used by the studio facade.
func DefaultConfig() Config {
	return Config{
		Width:          1280,
		Height:         720,
		TargetFPS:      30,
		TilePadding:    8,
		AudioRings:     true,
		FirstFrameWait: 2500 * time.Millisecond,
	}
}

// Stats is the rolling health snapshot of the render loop.
type Stats struct {
	FramesRendered uint64        `json:"frames_rendered"`
	FramesDropped  uint64        `json:"frames_dropped"`
	AvgRenderTime  time.Duration `json:"avg_render_time"`
	DropRate       float64       `json:"drop_rate"`
	Participants   int           `json:"participants"`
	ClipActive     bool          `json:"clip_active"`
}

// activeClip is the fullscreen clip currently superseding the composition.
type activeClip struct {
	id       string
	clip     domain.Clip
	audioID  string
	started  time.Time
	override time.Duration
	done     chan error
}

// effectiveDuration is the playback length: the override when set, else the
// clip's own duration (zero means "until FrameAt returns nil").
func (a *activeClip) effectiveDuration() time.Duration {
	if a.override > 0 {
		return a.override
	}
	return a.clip.Duration()
}

// Compositor runs the draw loop and owns all composition state.
type Compositor struct {
	cfg   Config
	clock clockwork.Clock
	log   *slog.Logger
	bus   *events.Bus
	audio AudioBoard
	store AssetStore

	mu           sync.Mutex
	participants map[string]domain.ParticipantSource
	order        []string
	layout       domain.LayoutSpec
	background   *domain.OverlayAsset
	overlays     []domain.OverlayAsset
	chat         []domain.ChatMessage
	showChat     bool
	lowerThird   *domain.LowerThird
	caption      domain.Caption
	clip         *activeClip
	indicatorEnd time.Time

	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	track    *media.VideoTrack
	surfaces [surfaceRing]*image.RGBA
	surfIdx  int
	lastDraw time.Time

	renderTimes [metricsWindow]time.Duration
	renderDrops [metricsWindow]bool
	renderIdx   int
	renderN     int
	drawn       uint64
	dropped     uint64

	chatLimiter *rate.Limiter
	panicLog    *rate.Limiter
}

// New returns a stopped compositor. The audio board and asset store are
// required; bus may not be nil.
func New(audio AudioBoard, store AssetStore, bus *events.Bus, cfg Config) *Compositor {
	def := DefaultConfig()
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = def.TargetFPS
	}
	if cfg.TilePadding <= 0 {
		cfg.TilePadding = def.TilePadding
	}
	if cfg.FirstFrameWait <= 0 {
		cfg.FirstFrameWait = def.FirstFrameWait
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.WithComponent("compositor")
	}

	c := &Compositor{
		cfg:          cfg,
		clock:        cfg.Clock,
		log:          cfg.Logger,
		bus:          bus,
		audio:        audio,
		store:        store,
		participants: make(map[string]domain.ParticipantSource),
		layout:       domain.DefaultLayout(),
		track:        media.NewVideoTrack(),
		// Chat injection cap: sustained 20 msg/s with a burst of 10.
		chatLimiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 10),
		panicLog:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for i := range c.surfaces {
		c.surfaces[i] = image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	}
	c.wireMuteEvents(c.track)
	return c
}

func (c *Compositor) wireMuteEvents(t *media.VideoTrack) {
	t.OnMuteChange(func(muted bool) {
		if muted {
			c.bus.Publish(events.TrackMuted{})
			return
		}
		c.bus.Publish(events.TrackUnmuted{})
	})
}

// frameBudget is the wall-clock spacing between draws.
func (c *Compositor) frameBudget() time.Duration {
	return time.Second / time.Duration(c.cfg.TargetFPS)
}

// Initialize resets all bindings, rewires the mixer, binds the given
// participants and starts the draw loop.
func (c *Compositor) Initialize(ctx context.Context, participants []domain.ParticipantSource) error {
	c.mu.Lock()
	for id := range c.participants {
		c.audio.RemoveStream(id)
	}
	c.participants = make(map[string]domain.ParticipantSource)
	c.order = nil
	c.mu.Unlock()

	c.audio.Initialize()

	for _, p := range participants {
		if err := c.AddParticipant(ctx, p); err != nil {
			return fmt.Errorf("bind participant %s: %w", p.ID, err)
		}
	}

	c.Start()
	c.log.Info("compositor initialized",
		"participants", len(participants),
		"resolution", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height),
		"target_fps", c.cfg.TargetFPS,
	)
	return nil
}

// AddParticipant binds a live source into the composition. When the
// participant carries video, the call waits up to FirstFrameWait for the
// source's first frame so a fresh tile never flashes black, then proceeds
// anyway: a stalled device renders as a placeholder rather than blocking the
// broadcast. Rebinding an existing ID replaces its source.
func (c *Compositor) AddParticipant(ctx context.Context, p domain.ParticipantSource) error {
	if p.HasVideo() {
		if err := c.awaitFirstFrame(ctx, p); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if _, exists := c.participants[p.ID]; !exists {
		c.order = append(c.order, p.ID)
	}
	c.participants[p.ID] = p
	count := len(c.participants)
	c.mu.Unlock()

	if p.HasAudio() {
		c.audio.AddStream(p.ID, p.Audio)
	}

	metrics.ActiveParticipants.Set(float64(count))
	c.bus.Publish(events.ParticipantAdded{ID: p.ID, DisplayName: p.DisplayName})
	c.log.Info("participant bound", "participant_id", p.ID, "role", p.Role)
	return nil
}

// awaitFirstFrame polls the video source until it produces a frame, the wait
// budget elapses, or ctx is cancelled. Only cancellation is an error.
func (c *Compositor) awaitFirstFrame(ctx context.Context, p domain.ParticipantSource) error {
	if frame, _ := p.Video.Frame(); frame != nil {
		return nil
	}

	deadline := c.clock.NewTimer(c.cfg.FirstFrameWait)
	defer deadline.Stop()
	poll := c.clock.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.Chan():
			c.log.Warn("participant video not ready, proceeding with placeholder",
				"participant_id", p.ID,
				"waited", c.cfg.FirstFrameWait,
			)
			return nil
		case <-poll.Chan():
			if frame, _ := p.Video.Frame(); frame != nil {
				return nil
			}
		}
	}
}

// RemoveParticipant unbinds a source. Unknown IDs are a no-op.
func (c *Compositor) RemoveParticipant(id string) {
	c.mu.Lock()
	if _, exists := c.participants[id]; !exists {
		c.mu.Unlock()
		return
	}
	delete(c.participants, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	count := len(c.participants)
	c.mu.Unlock()

	c.audio.RemoveStream(id)
	metrics.ActiveParticipants.Set(float64(count))
	c.bus.Publish(events.ParticipantRemoved{ID: id})
	c.log.Info("participant unbound", "participant_id", id)
}

// SetParticipantMedia flips the enable flags of a bound participant and
// rewires its audio stage accordingly. Unknown IDs are a no-op.
func (c *Compositor) SetParticipantMedia(id string, videoEnabled, audioEnabled bool) {
	c.mu.Lock()
	p, exists := c.participants[id]
	if !exists {
		c.mu.Unlock()
		return
	}
	audioWas := p.HasAudio()
	p.VideoEnabled = videoEnabled
	p.AudioEnabled = audioEnabled
	c.participants[id] = p
	audioNow := p.HasAudio()
	c.mu.Unlock()

	switch {
	case audioNow && !audioWas:
		c.audio.AddStream(id, p.Audio)
	case !audioNow && audioWas:
		c.audio.RemoveStream(id)
	}
	c.log.Debug("participant media updated",
		"participant_id", id,
		"video", videoEnabled,
		"audio", audioEnabled,
	)
}

// SetLayout swaps the active layout. The swap is atomic and takes effect on
// the next tick; there is no interpolation across layout changes.
func (c *Compositor) SetLayout(spec domain.LayoutSpec) {
	c.mu.Lock()
	c.layout = spec
	c.mu.Unlock()
	c.log.Info("layout changed", "kind", spec.Kind, "focus", spec.FocusID)
}

// Layout reports the active layout spec.
func (c *Compositor) Layout() domain.LayoutSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layout
}

// AddOverlay loads the asset and attaches it to the composition. The image
// handle is attached only after the load confirms; a failed load reports and
// leaves the existing composition untouched. Backgrounds are exclusive: a new
// background atomically replaces the old one.
func (c *Compositor) AddOverlay(ctx context.Context, asset domain.OverlayAsset) error {
	img, err := c.store.Image(ctx, asset.SourceURL)
	if err != nil {
		metrics.OverlayLoadsTotal.WithLabelValues("failed").Inc()
		c.bus.Publish(events.OverlayFailed{ID: asset.ID, URL: asset.SourceURL, Err: err})
		c.log.Warn("overlay load failed, keeping previous state",
			"overlay_id", asset.ID,
			"url", asset.SourceURL,
			"error", err,
		)
		return fmt.Errorf("load overlay %s: %w", asset.ID, err)
	}
	asset.Image = img

	c.mu.Lock()
	if asset.Kind == domain.OverlayBackground {
		bg := asset
		c.background = &bg
	} else {
		replaced := false
		next := make([]domain.OverlayAsset, len(c.overlays))
		copy(next, c.overlays)
		for i := range next {
			if next[i].ID == asset.ID {
				next[i] = asset
				replaced = true
				break
			}
		}
		if !replaced {
			next = append(next, asset)
		}
		c.overlays = next
	}
	c.mu.Unlock()

	metrics.OverlayLoadsTotal.WithLabelValues("loaded").Inc()
	c.bus.Publish(events.OverlayLoaded{ID: asset.ID, OverlayKind: asset.Kind})
	c.log.Info("overlay attached", "overlay_id", asset.ID, "kind", asset.Kind)
	return nil
}

// RemoveOverlay detaches an overlay by ID, background included. Unknown IDs
// are a no-op.
func (c *Compositor) RemoveOverlay(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.background != nil && c.background.ID == id {
		c.background = nil
		return
	}
	for i := range c.overlays {
		if c.overlays[i].ID == id {
			next := make([]domain.OverlayAsset, 0, len(c.overlays)-1)
			next = append(next, c.overlays[:i]...)
			next = append(next, c.overlays[i+1:]...)
			c.overlays = next
			return
		}
	}
}

// ShowLowerThird displays the name/title banner in the given style.
func (c *Compositor) ShowLowerThird(text, subtext string, style domain.LowerThirdStyle) {
	c.mu.Lock()
	c.lowerThird = &domain.LowerThird{Text: text, Subtext: subtext, Style: style}
	c.mu.Unlock()
}

// HideLowerThird removes the banner. Safe when none is shown.
func (c *Compositor) HideLowerThird() {
	c.mu.Lock()
	c.lowerThird = nil
	c.mu.Unlock()
}

// AddChatMessage appends a chat line to the overlay ring. Injection is
// rate-limited; messages beyond the cap are dropped and counted.
func (c *Compositor) AddChatMessage(msg domain.ChatMessage) {
	if !c.chatLimiter.AllowN(c.clock.Now(), 1) {
		metrics.ChatMessagesRateLimited.Inc()
		return
	}
	c.mu.Lock()
	next := make([]domain.ChatMessage, 0, chatRingSize)
	if len(c.chat) == chatRingSize {
		next = append(next, c.chat[1:]...)
	} else {
		next = append(next, c.chat...)
	}
	c.chat = append(next, msg)
	c.mu.Unlock()
}

// SetShowChat toggles the chat overlay without clearing history.
func (c *Compositor) SetShowChat(show bool) {
	c.mu.Lock()
	c.showChat = show
	c.mu.Unlock()
}

// SetCaption replaces the live caption line. Empty text clears it.
func (c *Compositor) SetCaption(text string, interim bool) {
	c.mu.Lock()
	c.caption = domain.Caption{Text: text, Interim: interim}
	c.mu.Unlock()
}

// PlayIntroClip plays fullscreen clip media as the sole rendered content,
// routing its audio into the mix. The call returns when the clip ends, when
// durationOverride elapses (if > 0), or when ctx is cancelled; the overlay
// and its mixer entry are always torn down on the way out.
func (c *Compositor) PlayIntroClip(ctx context.Context, url string, durationOverride time.Duration) error {
	clip, err := c.store.Clip(ctx, url)
	if err != nil {
		metrics.ClipPlaybacksTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("load clip %s: %w", url, err)
	}

	active, err := c.startClip(clip, durationOverride)
	if err != nil {
		metrics.ClipPlaybacksTotal.WithLabelValues("rejected").Inc()
		return err
	}
	c.bus.Publish(events.ClipStarted{ID: active.id, URL: url})
	c.log.Info("fullscreen clip started", "clip_id", active.id, "url", url)

	select {
	case err := <-active.done:
		if err != nil {
			metrics.ClipPlaybacksTotal.WithLabelValues("failed").Inc()
			return err
		}
		metrics.ClipPlaybacksTotal.WithLabelValues("completed").Inc()
		return nil
	case <-ctx.Done():
		c.finishClip(active.id, ctx.Err())
		metrics.ClipPlaybacksTotal.WithLabelValues("failed").Inc()
		return ctx.Err()
	}
}

// StartCountdown plays a generated countdown clip of the given length. The
// clip carries motion (a sweeping ring) and a per-second beep, so the output
// track keeps visibly changing through the countdown. Returns immediately;
// the loop tears the clip down when it completes.
func (c *Compositor) StartCountdown(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("countdown length %d: must be positive", seconds)
	}
	clip := newCountdownClip(seconds, c.cfg.Width, c.cfg.Height)
	active, err := c.startClip(clip, 0)
	if err != nil {
		metrics.ClipPlaybacksTotal.WithLabelValues("rejected").Inc()
		return err
	}
	c.bus.Publish(events.ClipStarted{ID: active.id, URL: "countdown"})
	c.log.Info("countdown started", "clip_id", active.id, "seconds", seconds)
	return nil
}

// startClip installs a fullscreen clip, wiring its audio into the mixer.
// Only one clip may be active at a time.
func (c *Compositor) startClip(clip domain.Clip, override time.Duration) (*activeClip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil, domain.ErrNotRunning
	}
	if c.clip != nil {
		return nil, domain.ErrClipActive
	}

	active := &activeClip{
		id:       uuid.NewString(),
		clip:     clip,
		started:  c.clock.Now(),
		override: override,
		done:     make(chan error, 1),
	}
	if audible, ok := clip.(domain.AudibleClip); ok {
		active.audioID = "clip:" + active.id
		c.audio.AddElementSource(active.audioID, audible.AudioSource())
	}
	c.clip = active
	return active, nil
}

// finishClip tears down the active clip if it matches id: the overlay is
// removed, the mixer entry freed, and waiters released with err.
func (c *Compositor) finishClip(id string, err error) {
	c.mu.Lock()
	active := c.clip
	if active == nil || active.id != id {
		c.mu.Unlock()
		return
	}
	c.clip = nil
	c.mu.Unlock()

	if active.audioID != "" {
		c.audio.RemoveStream(active.audioID)
	}
	active.done <- err
	c.bus.Publish(events.ClipEnded{ID: active.id, Err: err})
	c.log.Info("fullscreen clip ended", "clip_id", active.id, "error", err)
}

// ClipActive reports whether a fullscreen clip currently supersedes the
// composition.
func (c *Compositor) ClipActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clip != nil
}

// ShowReconnectIndicator displays the transient reconnecting chip until d has
// elapsed. Overlapping calls extend, never shorten, the display window.
func (c *Compositor) ShowReconnectIndicator(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until := c.clock.Now().Add(d)
	if until.After(c.indicatorEnd) {
		c.indicatorEnd = until
	}
}

// OutputTrack returns the continuously sampled program video track.
func (c *Compositor) OutputTrack() *media.VideoTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.track
}

// RecreateOutputTrack releases the current output track and starts publishing
// into a fresh one. This is the watchdog's recovery path for a track the
// runtime silently deactivated; the caller hands the new track downstream.
func (c *Compositor) RecreateOutputTrack() *media.VideoTrack {
	c.mu.Lock()
	old := c.track
	c.track = media.NewVideoTrack()
	fresh := c.track
	c.mu.Unlock()

	old.Release()
	c.wireMuteEvents(fresh)
	c.log.Info("output track recreated")
	return fresh
}

// Start begins the draw loop and continuous surface capture. Idempotent.
func (c *Compositor) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.lastDraw = time.Time{}
	go c.loop(ctx, c.done)
	c.log.Info("draw loop started", "frame_budget", c.frameBudget())
}

// Stop cancels the draw loop and releases all bound sources. Idempotent; the
// output track keeps its last published frame.
func (c *Compositor) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	done := c.done
	active := c.clip
	c.clip = nil
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	c.participants = make(map[string]domain.ParticipantSource)
	c.order = nil
	c.mu.Unlock()

	<-done

	if active != nil {
		if active.audioID != "" {
			c.audio.RemoveStream(active.audioID)
		}
		active.done <- domain.ErrClosed
		c.bus.Publish(events.ClipEnded{ID: active.id, Err: domain.ErrClosed})
	}
	for _, id := range ids {
		c.audio.RemoveStream(id)
	}
	metrics.ActiveParticipants.Set(0)
	c.log.Info("draw loop stopped", "released_participants", len(ids))
}

// Metrics reports the rolling render health for the status surface.
func (c *Compositor) Metrics() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sum time.Duration
	var drops int
	for i := 0; i < c.renderN; i++ {
		sum += c.renderTimes[i]
		if c.renderDrops[i] {
			drops++
		}
	}
	s := Stats{
		FramesRendered: c.drawn,
		FramesDropped:  c.dropped,
		Participants:   len(c.participants),
		ClipActive:     c.clip != nil,
	}
	if c.renderN > 0 {
		s.AvgRenderTime = sum / time.Duration(c.renderN)
		s.DropRate = float64(drops) / float64(c.renderN)
	}
	return s
}

// loop drives ticks at twice the frame rate; the tick itself throttles on
// real elapsed time, so a slow draw skips frames instead of queueing them.
func (c *Compositor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := c.clock.NewTicker(c.frameBudget() / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.tick()
		}
	}
}

// tick renders one frame. Panics are recovered and logged (rate-limited);
// the loop always continues.
func (c *Compositor) tick() {
	defer func() {
		if r := recover(); r != nil {
			metrics.CompositorPanicsTotal.Inc()
			if c.panicLog.Allow() {
				c.log.Error("render tick panic recovered", "panic", r)
			}
		}
	}()

	now := c.clock.Now()

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	// Throttle on real elapsed time: under budget means reschedule without
	// drawing.
	if !c.lastDraw.IsZero() && now.Sub(c.lastDraw) < c.frameBudget() {
		c.mu.Unlock()
		return
	}
	c.lastDraw = now

	if active := c.clip; active != nil {
		elapsed := now.Sub(active.started)
		finished := false
		if dur := active.effectiveDuration(); dur > 0 {
			finished = elapsed >= dur
		} else {
			// Length only known while playing: the clip reports its own end.
			finished = active.clip.FrameAt(elapsed) == nil
		}
		if finished {
			c.mu.Unlock()
			c.finishClip(active.id, nil)
			c.mu.Lock()
		}
	}

	surface := c.surfaces[c.surfIdx]
	c.surfIdx = (c.surfIdx + 1) % surfaceRing

	start := c.clock.Now()
	c.drawFrame(surface, now)
	renderTime := c.clock.Since(start)

	track := c.track
	overran := renderTime > c.frameBudget()
	c.recordRender(renderTime, overran)
	c.mu.Unlock()

	track.Publish(surface)
	metrics.FramesRenderedTotal.Inc()
	metrics.FrameRenderDuration.Observe(renderTime.Seconds())
	if overran {
		metrics.FramesDroppedTotal.Inc()
	}
}

// recordRender feeds the rolling windows. Caller holds mu.
func (c *Compositor) recordRender(d time.Duration, dropped bool) {
	c.renderTimes[c.renderIdx] = d
	c.renderDrops[c.renderIdx] = dropped
	c.renderIdx = (c.renderIdx + 1) % metricsWindow
	if c.renderN < metricsWindow {
		c.renderN++
	}
	c.drawn++
	if dropped {
		c.dropped++
	}
}

// drawFrame paints the complete program frame onto surface. Caller holds mu.
func (c *Compositor) drawFrame(surface *image.RGBA, now time.Time) {
	// Sub-second phase drives the pulse and caption animations.
	phase := float64(now.UnixNano()%int64(time.Second)) / float64(time.Second)

	if active := c.clip; active != nil {
		// Fullscreen clip wins draw priority: nothing else is painted, so
		// stale tiles never bleed through the letterbox bars.
		drawClipFrame(surface, active.clip.FrameAt(now.Sub(active.started)))
		if now.Before(c.indicatorEnd) {
			drawReconnectIndicator(surface)
		}
		return
	}

	clearSurface(surface, colorCanvas)
	drawBackground(surface, c.background)

	for _, placement := range computeTiles(c.layout, c.order, surface.Bounds(), c.cfg.TilePadding) {
		p, ok := c.participants[placement.id]
		if !ok {
			continue
		}
		c.drawParticipant(surface, placement, p, phase)
	}

	for i := range c.overlays {
		drawOverlayAsset(surface, &c.overlays[i])
	}
	if c.showChat {
		drawChat(surface, c.chat)
	}
	if c.lowerThird != nil {
		drawLowerThird(surface, *c.lowerThird)
	}
	drawCaption(surface, c.caption, phase)
	if now.Before(c.indicatorEnd) {
		drawReconnectIndicator(surface)
	}
}

// drawParticipant paints one tile: aspect-fitted live video, or the
// placeholder card with level-driven pulse rings when video is absent.
func (c *Compositor) drawParticipant(surface *image.RGBA, placement tilePlacement, p domain.ParticipantSource, phase float64) {
	if p.HasVideo() {
		if frame, _ := p.Video.Frame(); frame != nil {
			if placement.crop {
				drawAspectFill(surface, placement.rect, frame)
			} else {
				drawAspectFit(surface, placement.rect, frame)
			}
			return
		}
	}
	level := 0.0
	if c.cfg.AudioRings && p.HasAudio() {
		level = c.audio.Level(p.ID)
	}
	drawPlaceholder(surface, placement.rect, p.DisplayName, level, c.cfg.AudioRings, phase)
}
