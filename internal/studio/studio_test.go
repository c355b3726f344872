package studio

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/media"
	"github.com/mikeisflux/streamlick-sub000/internal/publish"
	"github.com/mikeisflux/streamlick-sub000/internal/transport/loopback"
)

type silentSource struct{}

func (silentSource) ReadBlock(dst []int16) int {
	for i := range dst {
		dst[i] = 0
	}
	return len(dst) / domain.Channels
}

// castMember returns a participant whose video track already holds a frame
// so Initialize never waits for first frames.
func castMember(id string) domain.ParticipantSource {
	track := media.NewVideoTrack()
	track.Publish(image.NewRGBA(image.Rect(0, 0, 32, 18)))
	return domain.ParticipantSource{
		ID:           id,
		DisplayName:  id,
		Video:        track,
		Audio:        silentSource{},
		VideoEnabled: true,
		AudioEnabled: true,
		Role:         domain.RoleGuest,
	}
}

func newTestEngine(t *testing.T, clk clockwork.Clock) (*Engine, *loopback.Transport) {
	t.Helper()
	tr := loopback.New(clk)
	e := New(tr, Config{Clock: clk})
	t.Cleanup(func() { _ = e.Close() })
	return e, tr
}

func TestEngineInitializeAndSnapshot(t *testing.T) {
	clk := clockwork.NewFakeClock()
	e, _ := newTestEngine(t, clk)

	require.NoError(t, e.Initialize(context.Background(), []domain.ParticipantSource{
		castMember("host"),
		castMember("guest"),
	}))

	snap := e.Snapshot()
	assert.True(t, snap.Running)
	assert.False(t, snap.Publishing)
	assert.Equal(t, 2, snap.Render.Participants)
	assert.Equal(t, "grid", snap.Layout)
	assert.Equal(t, 1.0, snap.MasterVolume)
	assert.Empty(t, snap.Connections)

	clk.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, e.Snapshot().Uptime)
}

func TestEnginePublishingCarriesProgramTracks(t *testing.T) {
	clk := clockwork.NewFakeClock()
	e, tr := newTestEngine(t, clk)

	require.NoError(t, e.Initialize(context.Background(), []domain.ParticipantSource{castMember("host")}))

	err := e.StartPublishing(context.Background(),
		publish.Destination{ID: "main", Endpoint: "loopback://main"},
		publish.Destination{ID: "backup", Endpoint: "loopback://backup"},
	)
	require.NoError(t, err)

	sess := tr.Latest("loopback://main")
	require.NotNil(t, sess)
	assert.True(t, sess.Opened())
	assert.Same(t, e.comp.OutputTrack(), sess.Tracks().Video)
	assert.Same(t, e.mix.OutputTrack(), sess.Tracks().Audio)

	snap := e.Snapshot()
	assert.True(t, snap.Publishing)
	assert.Equal(t, "main", snap.PrimaryID)
	assert.Len(t, snap.Connections, 2)
}

func TestEnginePublishingRequiresRunningPipeline(t *testing.T) {
	clk := clockwork.NewFakeClock()
	e, _ := newTestEngine(t, clk)

	err := e.StartPublishing(context.Background(), publish.Destination{ID: "main", Endpoint: "loopback://main"})
	assert.ErrorIs(t, err, domain.ErrNotRunning)
}

func TestEngineForceFailover(t *testing.T) {
	clk := clockwork.NewFakeClock()
	e, _ := newTestEngine(t, clk)

	require.NoError(t, e.Initialize(context.Background(), []domain.ParticipantSource{castMember("host")}))
	require.NoError(t, e.StartPublishing(context.Background(),
		publish.Destination{ID: "main", Endpoint: "loopback://main"},
		publish.Destination{ID: "backup", Endpoint: "loopback://backup"},
	))

	require.NoError(t, e.ForceFailover("backup"))
	assert.Equal(t, "backup", e.Snapshot().PrimaryID)

	assert.ErrorIs(t, e.ForceFailover("nope"), domain.ErrUnknownConnection)
}

func TestEngineStopKeepsSessionsUp(t *testing.T) {
	clk := clockwork.NewFakeClock()
	e, tr := newTestEngine(t, clk)

	require.NoError(t, e.Initialize(context.Background(), []domain.ParticipantSource{castMember("host")}))
	require.NoError(t, e.StartPublishing(context.Background(),
		publish.Destination{ID: "main", Endpoint: "loopback://main"}))

	e.Stop()

	assert.False(t, e.Snapshot().Running)
	assert.False(t, tr.Latest("loopback://main").Closed(), "stop must not tear down sessions")

	require.NoError(t, e.StopPublishing())
	assert.True(t, tr.Latest("loopback://main").Closed())
}

func TestEngineRestartAfterStop(t *testing.T) {
	clk := clockwork.NewFakeClock()
	e, _ := newTestEngine(t, clk)

	require.NoError(t, e.Initialize(context.Background(), []domain.ParticipantSource{castMember("host")}))
	e.Stop()
	require.NoError(t, e.Initialize(context.Background(), []domain.ParticipantSource{
		castMember("host"),
		castMember("guest"),
	}))

	snap := e.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, 2, snap.Render.Participants)
}

func TestEngineClose(t *testing.T) {
	clk := clockwork.NewFakeClock()
	tr := loopback.New(clk)
	e := New(tr, Config{Clock: clk})

	require.NoError(t, e.Initialize(context.Background(), []domain.ParticipantSource{castMember("host")}))
	require.NoError(t, e.StartPublishing(context.Background(),
		publish.Destination{ID: "main", Endpoint: "loopback://main"}))

	require.NoError(t, e.Close())
	assert.True(t, tr.Latest("loopback://main").Closed())

	assert.ErrorIs(t, e.Initialize(context.Background(), nil), domain.ErrClosed)
	assert.ErrorIs(t, e.StartCountdown(10), domain.ErrClosed)

	// Close again is a no-op.
	require.NoError(t, e.Close())
}

func TestEngineControlDelegation(t *testing.T) {
	clk := clockwork.NewFakeClock()
	e, _ := newTestEngine(t, clk)

	require.NoError(t, e.Initialize(context.Background(), []domain.ParticipantSource{castMember("host")}))

	e.SetMasterVolume(0.4)
	assert.InDelta(t, 0.4, e.Snapshot().MasterVolume, 1e-9)

	e.SetLayout(domain.LayoutSpec{Kind: domain.LayoutSpotlight, FocusID: "host"})
	assert.Equal(t, "spotlight", e.Snapshot().Layout)
	assert.Equal(t, "host", e.Layout().FocusID)

	require.NoError(t, e.StartCountdown(5))
	assert.True(t, e.Snapshot().Render.ClipActive)

	assert.ErrorIs(t, e.StartCountdown(5), domain.ErrClipActive)
}

func TestEngineGuardsWhenStopped(t *testing.T) {
	clk := clockwork.NewFakeClock()
	e, _ := newTestEngine(t, clk)

	assert.ErrorIs(t, e.AddParticipant(context.Background(), castMember("x")), domain.ErrNotRunning)
	assert.ErrorIs(t, e.StartCountdown(3), domain.ErrNotRunning)
	assert.ErrorIs(t, e.AddOverlay(context.Background(), domain.OverlayAsset{}), domain.ErrNotRunning)
}
