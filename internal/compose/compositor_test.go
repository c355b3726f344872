package compose

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/events"
	"github.com/mikeisflux/streamlick-sub000/internal/media"
)

// fakeBoard records mixer wiring calls.
type fakeBoard struct {
	mu          sync.Mutex
	initialized int
	added       []string
	elements    []string
	removed     []string
	levels      map[string]float64
}

func (b *fakeBoard) Initialize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized++
}

func (b *fakeBoard) AddStream(id string, _ domain.AudioSource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.added = append(b.added, id)
}

func (b *fakeBoard) AddElementSource(id string, _ domain.AudioSource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.elements = append(b.elements, id)
}

func (b *fakeBoard) RemoveStream(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, id)
}

func (b *fakeBoard) Level(id string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.levels[id]
}

func (b *fakeBoard) removedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.removed))
	copy(out, b.removed)
	return out
}

// fakeStore serves scripted assets; unknown URLs fail the lookup.
type fakeStore struct {
	images map[string]*image.RGBA
	clips  map[string]domain.Clip
}

func (s *fakeStore) Image(_ context.Context, url string) (*image.RGBA, error) {
	if img, ok := s.images[url]; ok {
		return img, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, url)
}

func (s *fakeStore) Clip(_ context.Context, url string) (domain.Clip, error) {
	if clip, ok := s.clips[url]; ok {
		return clip, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, url)
}

// stubClip plays a fixed frame for a fixed duration.
type stubClip struct {
	dur   time.Duration
	frame *image.RGBA
}

func (c stubClip) FrameAt(elapsed time.Duration) *image.RGBA {
	if elapsed >= c.dur {
		return nil
	}
	return c.frame
}

func (c stubClip) Duration() time.Duration { return c.dur }

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	clearSurface(img, c)
	return img
}

func newTestCompositor(clk clockwork.Clock) (*Compositor, *fakeBoard, *fakeStore, *events.Bus) {
	board := &fakeBoard{levels: map[string]float64{}}
	store := &fakeStore{
		images: map[string]*image.RGBA{},
		clips:  map[string]domain.Clip{},
	}
	bus := events.NewBus()
	cfg := DefaultConfig()
	cfg.Clock = clk
	return New(board, store, bus, cfg), board, store, bus
}

func videoParticipant(id string, frame *image.RGBA) domain.ParticipantSource {
	src := media.NewVideoTrack()
	src.Publish(frame)
	return domain.ParticipantSource{
		ID:           id,
		DisplayName:  strings.ToUpper(id),
		Video:        src,
		VideoEnabled: true,
		Role:         domain.RoleGuest,
	}
}

func audioParticipant(id string) domain.ParticipantSource {
	return domain.ParticipantSource{
		ID:           id,
		DisplayName:  strings.ToUpper(id),
		Audio:        silentSource{},
		AudioEnabled: true,
		Role:         domain.RoleGuest,
	}
}

type silentSource struct{}

func (silentSource) ReadBlock(dst []int16) int {
	for i := range dst {
		dst[i] = 0
	}
	return domain.BlockSamples
}

// advanceOneFrame moves the fake clock one frame budget forward and waits for
// the loop to publish.
func advanceOneFrame(t *testing.T, clk *clockwork.FakeClock, track *media.VideoTrack, c *Compositor) *image.RGBA {
	t.Helper()
	_, before := track.Frame()
	clk.Advance(c.frameBudget())

	var frame *image.RGBA
	require.Eventually(t, func() bool {
		f, seq := track.Frame()
		frame = f
		return seq > before
	}, time.Second, time.Millisecond, "loop should publish a frame")
	return frame
}

func waitEvent[E events.Event](t *testing.T, sub *events.Subscription) E {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub.C:
			if typed, ok := ev.(E); ok {
				return typed
			}
		case <-deadline:
			var zero E
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestTilesReflowWhenParticipantLeaves(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, _, _ := newTestCompositor(clk)
	defer c.Stop()

	blue := color.RGBA{B: 0xff, A: 0xff}
	require.NoError(t, c.AddParticipant(context.Background(), videoParticipant("cam", solidImage(100, 100, blue))))
	require.NoError(t, c.AddParticipant(context.Background(), audioParticipant("mic")))

	c.Start()
	clk.BlockUntil(1)

	frame := advanceOneFrame(t, clk, c.OutputTrack(), c)
	assert.Equal(t, blue, frame.RGBAAt(320, 360), "left tile carries the video feed")
	assert.Equal(t, colorTile, frame.RGBAAt(652, 12), "right tile renders the placeholder card")
	assert.Equal(t, colorCanvas, frame.RGBAAt(640, 360), "tile gap shows the canvas")

	c.RemoveParticipant("cam")

	frame = advanceOneFrame(t, clk, c.OutputTrack(), c)
	assert.Equal(t, colorTile, frame.RGBAAt(12, 12), "remaining participant reflows to a full tile")
	assert.NotEqual(t, blue, frame.RGBAAt(320, 360))
}

func TestLayoutSwapTakesEffectNextFrame(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, _, _ := newTestCompositor(clk)
	defer c.Stop()

	require.NoError(t, c.AddParticipant(context.Background(), audioParticipant("a")))
	require.NoError(t, c.AddParticipant(context.Background(), audioParticipant("b")))

	c.Start()
	clk.BlockUntil(1)

	frame := advanceOneFrame(t, clk, c.OutputTrack(), c)
	assert.Equal(t, colorCanvas, frame.RGBAAt(640, 360), "grid keeps the center gap")

	c.SetLayout(domain.LayoutSpec{Kind: domain.LayoutSpotlight, FocusID: "b"})

	frame = advanceOneFrame(t, clk, c.OutputTrack(), c)
	assert.Equal(t, colorTile, frame.RGBAAt(12, 12), "spotlight covers the canvas on the next frame")
}

func TestAddParticipantProceedsWhenFirstFrameNeverArrives(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, _, _ := newTestCompositor(clk)

	stalled := domain.ParticipantSource{
		ID:           "stalled",
		DisplayName:  "Stalled",
		Video:        media.NewVideoTrack(), // never publishes
		VideoEnabled: true,
	}

	done := make(chan error, 1)
	go func() { done <- c.AddParticipant(context.Background(), stalled) }()

	// One deadline timer plus one poll ticker.
	clk.BlockUntil(2)
	clk.Advance(c.cfg.FirstFrameWait)

	select {
	case err := <-done:
		require.NoError(t, err, "stalled video must not block the add")
	case <-time.After(time.Second):
		t.Fatal("AddParticipant did not return after the wait budget")
	}
	assert.Equal(t, 1, c.Metrics().Participants)
}

func TestAddParticipantReturnsOnContextCancel(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, _, _ := newTestCompositor(clk)

	ctx, cancel := context.WithCancel(context.Background())
	stalled := domain.ParticipantSource{
		ID:           "stalled",
		Video:        media.NewVideoTrack(),
		VideoEnabled: true,
	}

	done := make(chan error, 1)
	go func() { done <- c.AddParticipant(ctx, stalled) }()

	clk.BlockUntil(2)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("AddParticipant did not honor cancellation")
	}
	assert.Equal(t, 0, c.Metrics().Participants, "aborted add must not bind")
}

func TestRemoveParticipantIsIdempotentAndFreesAudio(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, board, _, _ := newTestCompositor(clk)

	require.NoError(t, c.AddParticipant(context.Background(), audioParticipant("mic")))

	c.RemoveParticipant("mic")
	c.RemoveParticipant("mic")
	c.RemoveParticipant("never-there")

	assert.Equal(t, []string{"mic"}, board.removedIDs(), "audio stage freed exactly once")
	assert.Equal(t, 0, c.Metrics().Participants)
}

func TestSetParticipantMediaRewiresAudio(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, board, _, _ := newTestCompositor(clk)

	require.NoError(t, c.AddParticipant(context.Background(), audioParticipant("mic")))

	c.SetParticipantMedia("mic", false, false)
	assert.Equal(t, []string{"mic"}, board.removedIDs(), "disabling audio frees the stage")

	c.SetParticipantMedia("mic", false, true)
	board.mu.Lock()
	added := len(board.added)
	board.mu.Unlock()
	assert.Equal(t, 2, added, "re-enabling audio rewires the stage")
}

func TestOverlayFailureLeavesPreviousStateUntouched(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, store, bus := newTestCompositor(clk)
	sub := bus.Subscribe()
	defer sub.Close()

	red := color.RGBA{R: 0xff, A: 0xff}
	store.images["https://cdn/logo.png"] = solidImage(10, 10, red)

	require.NoError(t, c.AddOverlay(context.Background(), domain.OverlayAsset{
		ID:        "logo",
		Kind:      domain.OverlayLogo,
		SourceURL: "https://cdn/logo.png",
		Placement: image.Rect(1200, 600, 1210, 610),
	}))
	loaded := waitEvent[events.OverlayLoaded](t, sub)
	assert.Equal(t, "logo", loaded.ID)

	err := c.AddOverlay(context.Background(), domain.OverlayAsset{
		ID:        "logo",
		Kind:      domain.OverlayLogo,
		SourceURL: "https://cdn/missing.png",
	})
	require.ErrorIs(t, err, domain.ErrAssetNotFound)
	failed := waitEvent[events.OverlayFailed](t, sub)
	assert.Equal(t, "logo", failed.ID)

	c.mu.Lock()
	require.Len(t, c.overlays, 1)
	assert.Equal(t, "https://cdn/logo.png", c.overlays[0].SourceURL, "failed load keeps the prior asset")
	assert.NotNil(t, c.overlays[0].Image)
	c.mu.Unlock()
}

func TestBackgroundIsExclusive(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, store, _ := newTestCompositor(clk)

	store.images["https://cdn/bg1.png"] = solidImage(16, 9, color.RGBA{R: 0x10, A: 0xff})
	store.images["https://cdn/bg2.png"] = solidImage(16, 9, color.RGBA{R: 0x20, A: 0xff})

	require.NoError(t, c.AddOverlay(context.Background(), domain.OverlayAsset{
		ID: "bg1", Kind: domain.OverlayBackground, SourceURL: "https://cdn/bg1.png",
	}))
	require.NoError(t, c.AddOverlay(context.Background(), domain.OverlayAsset{
		ID: "bg2", Kind: domain.OverlayBackground, SourceURL: "https://cdn/bg2.png",
	}))

	c.mu.Lock()
	require.NotNil(t, c.background)
	assert.Equal(t, "bg2", c.background.ID, "new background replaces the old one")
	c.mu.Unlock()

	c.RemoveOverlay("bg2")
	c.mu.Lock()
	assert.Nil(t, c.background)
	c.mu.Unlock()
}

func TestOverlayDrawsAboveTiles(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, store, _ := newTestCompositor(clk)
	defer c.Stop()

	red := color.RGBA{R: 0xff, A: 0xff}
	store.images["https://cdn/logo.png"] = solidImage(10, 10, red)
	require.NoError(t, c.AddOverlay(context.Background(), domain.OverlayAsset{
		ID:        "logo",
		Kind:      domain.OverlayLogo,
		SourceURL: "https://cdn/logo.png",
		Placement: image.Rect(1200, 600, 1210, 610),
	}))
	require.NoError(t, c.AddParticipant(context.Background(), audioParticipant("solo")))

	c.Start()
	clk.BlockUntil(1)

	frame := advanceOneFrame(t, clk, c.OutputTrack(), c)
	assert.Equal(t, red, frame.RGBAAt(1205, 605), "logo renders over the participant tile")
}

func TestClipSupersedesCompositionAndRestoresIt(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, store, bus := newTestCompositor(clk)
	defer c.Stop()
	sub := bus.Subscribe()
	defer sub.Close()

	red := color.RGBA{R: 0xff, A: 0xff}
	store.clips["https://cdn/intro.mp4"] = stubClip{dur: 100 * time.Millisecond, frame: solidImage(100, 50, red)}

	require.NoError(t, c.AddParticipant(context.Background(), audioParticipant("host")))
	c.Start()
	clk.BlockUntil(1)

	playDone := make(chan error, 1)
	go func() { playDone <- c.PlayIntroClip(context.Background(), "https://cdn/intro.mp4", 0) }()

	require.Eventually(t, c.ClipActive, time.Second, time.Millisecond)
	waitEvent[events.ClipStarted](t, sub)

	frame := advanceOneFrame(t, clk, c.OutputTrack(), c)
	assert.Equal(t, red, frame.RGBAAt(640, 360), "clip fills the frame")
	assert.Equal(t, colorLetterbox, frame.RGBAAt(640, 10), "letterbox above the clip")

	// Two more frame budgets pass the 100ms mark.
	advanceOneFrame(t, clk, c.OutputTrack(), c)
	advanceOneFrame(t, clk, c.OutputTrack(), c)

	select {
	case err := <-playDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("PlayIntroClip did not return after the clip ended")
	}
	ended := waitEvent[events.ClipEnded](t, sub)
	assert.NoError(t, ended.Err)
	assert.False(t, c.ClipActive())

	frame = advanceOneFrame(t, clk, c.OutputTrack(), c)
	assert.Equal(t, colorTile, frame.RGBAAt(12, 12), "composition returns after the clip")
}

func TestSecondClipRejectedWhileOneIsActive(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, store, _ := newTestCompositor(clk)
	defer c.Stop()

	store.clips["https://cdn/intro.mp4"] = stubClip{dur: time.Minute, frame: solidImage(8, 8, color.RGBA{A: 0xff})}

	c.Start()
	clk.BlockUntil(1)

	require.NoError(t, c.StartCountdown(5))
	err := c.PlayIntroClip(context.Background(), "https://cdn/intro.mp4", 0)
	assert.ErrorIs(t, err, domain.ErrClipActive)
	assert.ErrorIs(t, c.StartCountdown(3), domain.ErrClipActive)
}

func TestClipRequiresRunningLoop(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, store, _ := newTestCompositor(clk)
	store.clips["https://cdn/intro.mp4"] = stubClip{dur: time.Second, frame: solidImage(8, 8, color.RGBA{A: 0xff})}

	assert.ErrorIs(t, c.PlayIntroClip(context.Background(), "https://cdn/intro.mp4", 0), domain.ErrNotRunning)
	assert.ErrorIs(t, c.StartCountdown(3), domain.ErrNotRunning)
}

func TestPlayIntroClipHonorsDurationOverride(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, store, _ := newTestCompositor(clk)
	defer c.Stop()

	// Clip claims a minute; the override cuts it to 50ms.
	store.clips["https://cdn/long.mp4"] = stubClip{dur: time.Minute, frame: solidImage(8, 8, color.RGBA{A: 0xff})}

	c.Start()
	clk.BlockUntil(1)

	playDone := make(chan error, 1)
	go func() { playDone <- c.PlayIntroClip(context.Background(), "https://cdn/long.mp4", 50*time.Millisecond) }()
	require.Eventually(t, c.ClipActive, time.Second, time.Millisecond)

	advanceOneFrame(t, clk, c.OutputTrack(), c)
	advanceOneFrame(t, clk, c.OutputTrack(), c)

	select {
	case err := <-playDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("override did not end the clip")
	}
}

func TestPlayIntroClipCancelTearsDown(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, store, bus := newTestCompositor(clk)
	defer c.Stop()
	sub := bus.Subscribe()
	defer sub.Close()

	store.clips["https://cdn/long.mp4"] = stubClip{dur: time.Minute, frame: solidImage(8, 8, color.RGBA{A: 0xff})}

	c.Start()
	clk.BlockUntil(1)

	ctx, cancel := context.WithCancel(context.Background())
	playDone := make(chan error, 1)
	go func() { playDone <- c.PlayIntroClip(ctx, "https://cdn/long.mp4", 0) }()
	require.Eventually(t, c.ClipActive, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-playDone:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancel did not end the clip")
	}
	ended := waitEvent[events.ClipEnded](t, sub)
	assert.ErrorIs(t, ended.Err, context.Canceled)
	assert.False(t, c.ClipActive())
}

func TestCountdownWiresAndFreesClipAudio(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, board, _, _ := newTestCompositor(clk)
	defer c.Stop()

	c.Start()
	clk.BlockUntil(1)

	require.NoError(t, c.StartCountdown(1))

	board.mu.Lock()
	require.Len(t, board.elements, 1)
	audioID := board.elements[0]
	board.mu.Unlock()
	assert.True(t, strings.HasPrefix(audioID, "clip:"))

	clk.Advance(1100 * time.Millisecond)
	require.Eventually(t, func() bool { return !c.ClipActive() }, time.Second, time.Millisecond)
	assert.Contains(t, board.removedIDs(), audioID, "clip audio stage freed on completion")
}

func TestChatBurstIsRateLimited(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, _, _ := newTestCompositor(clk)

	for i := 0; i < 15; i++ {
		c.AddChatMessage(domain.ChatMessage{Platform: "twitch", Author: "a", Text: fmt.Sprintf("m%d", i+1)})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.chat, 10, "burst beyond the limiter is dropped")
}

func TestChatRingKeepsNewestFifty(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, _, _ := newTestCompositor(clk)

	for i := 0; i < 60; i++ {
		clk.Advance(100 * time.Millisecond) // stay under the injection rate
		c.AddChatMessage(domain.ChatMessage{Platform: "youtube", Author: "a", Text: fmt.Sprintf("m%d", i+1)})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.chat, chatRingSize)
	assert.Equal(t, "m11", c.chat[0].Text, "oldest messages roll off")
	assert.Equal(t, "m60", c.chat[len(c.chat)-1].Text)
}

func TestTrackMuteMirrorsOntoBus(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, _, bus := newTestCompositor(clk)
	sub := bus.Subscribe()
	defer sub.Close()

	c.OutputTrack().SetMuted(true)
	waitEvent[events.TrackMuted](t, sub)

	c.OutputTrack().SetMuted(false)
	waitEvent[events.TrackUnmuted](t, sub)
}

func TestRecreateOutputTrackDetachesOldAndRewires(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, _, bus := newTestCompositor(clk)
	sub := bus.Subscribe()
	defer sub.Close()

	old := c.OutputTrack()
	fresh := c.RecreateOutputTrack()

	require.NotSame(t, old, fresh)
	assert.Same(t, fresh, c.OutputTrack())

	old.Publish(solidImage(4, 4, color.RGBA{A: 0xff}))
	_, seq := old.Frame()
	assert.Zero(t, seq, "released track ignores publishes")

	fresh.SetMuted(true)
	waitEvent[events.TrackMuted](t, sub)
}

func TestReconnectIndicatorOnlyExtends(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, _, _ := newTestCompositor(clk)

	c.ShowReconnectIndicator(2 * time.Second)
	c.mu.Lock()
	first := c.indicatorEnd
	c.mu.Unlock()

	c.ShowReconnectIndicator(time.Second)
	c.mu.Lock()
	assert.Equal(t, first, c.indicatorEnd, "shorter request must not cut the window")
	c.mu.Unlock()

	c.ShowReconnectIndicator(3 * time.Second)
	c.mu.Lock()
	assert.True(t, c.indicatorEnd.After(first))
	c.mu.Unlock()
}

func TestStopReleasesSourcesAndIsIdempotent(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, board, _, _ := newTestCompositor(clk)

	require.NoError(t, c.AddParticipant(context.Background(), audioParticipant("a")))
	require.NoError(t, c.AddParticipant(context.Background(), audioParticipant("b")))

	c.Start()
	clk.BlockUntil(1)

	c.Stop()
	c.Stop()

	removed := board.removedIDs()
	assert.Contains(t, removed, "a")
	assert.Contains(t, removed, "b")
	assert.Equal(t, 0, c.Metrics().Participants)
	assert.ErrorIs(t, c.StartCountdown(3), domain.ErrNotRunning)
}

func TestInitializeRebindsEverything(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, board, _, _ := newTestCompositor(clk)
	defer c.Stop()

	require.NoError(t, c.Initialize(context.Background(), []domain.ParticipantSource{
		audioParticipant("a"),
		audioParticipant("b"),
	}))

	board.mu.Lock()
	assert.Equal(t, 1, board.initialized)
	board.mu.Unlock()
	assert.Equal(t, 2, c.Metrics().Participants)

	// The loop is live after Initialize.
	clk.BlockUntil(1)
	advanceOneFrame(t, clk, c.OutputTrack(), c)
	assert.GreaterOrEqual(t, c.Metrics().FramesRendered, uint64(1))
}

func TestRenderLoopThrottlesToFrameBudget(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c, _, _, _ := newTestCompositor(clk)
	defer c.Stop()

	c.Start()
	clk.BlockUntil(1)

	_, before := c.OutputTrack().Frame()
	const frames = 5
	for i := 0; i < frames; i++ {
		advanceOneFrame(t, clk, c.OutputTrack(), c)
	}
	_, after := c.OutputTrack().Frame()

	// The ticker fires at twice the frame rate; the elapsed-time throttle
	// must hold publishes to exactly one per frame budget.
	assert.Equal(t, uint64(frames), after-before)
}
