package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeisflux/streamlick-sub000/internal/compose"
	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/studio"
)

func TestHandleStatus(t *testing.T) {
	engine := &mockEngine{
		snapshotFn: func() studio.Snapshot {
			return studio.Snapshot{
				Running:      true,
				Layout:       "grid",
				MasterVolume: 0.8,
				Render:       compose.Stats{FramesRendered: 120, Participants: 3},
				PrimaryID:    "youtube",
			}
		},
	}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodGet, "/api/status", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["running"])
	assert.Equal(t, "grid", got["layout"])
	assert.Equal(t, "youtube", got["primary_id"])
	render := got["render"].(map[string]any)
	assert.Equal(t, float64(120), render["frames_rendered"])
}

func TestHandleSetLayout(t *testing.T) {
	var got domain.LayoutSpec
	engine := &mockEngine{setLayoutFn: func(spec domain.LayoutSpec) { got = spec }}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPost, "/api/layout",
		`{"kind":"spotlight","focus_id":"host","crop":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.LayoutSpotlight, got.Kind)
	assert.Equal(t, "host", got.FocusID)
	assert.True(t, got.Crop)
}

func TestHandleSetLayout_UnknownKind(t *testing.T) {
	srv := newTestServer(t, &mockEngine{})

	rec := doJSON(t, srv, http.MethodPost, "/api/layout", `{"kind":"mosaic"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown layout kind")
}

func TestHandleAddOverlay(t *testing.T) {
	var got domain.OverlayAsset
	engine := &mockEngine{addOverlayFn: func(_ context.Context, asset domain.OverlayAsset) error {
		got = asset
		return nil
	}}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPost, "/api/overlays",
		`{"kind":"banner","url":"https://cdn.example.com/banner.png","x":40,"y":600,"width":1200,"height":80}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, domain.OverlayBanner, got.Kind)
	assert.Equal(t, "https://cdn.example.com/banner.png", got.SourceURL)
	assert.Equal(t, image.Rect(40, 600, 1240, 680), got.Placement)
	assert.NotEmpty(t, got.ID, "missing id should be generated")
	assert.Contains(t, rec.Body.String(), got.ID)
}

func TestHandleAddOverlay_Validation(t *testing.T) {
	srv := newTestServer(t, &mockEngine{})

	tests := []struct {
		name string
		body string
	}{
		{"missing url", `{"width":100,"height":100}`},
		{"zero size", `{"url":"https://x/logo.png","width":0,"height":100}`},
		{"bad kind", `{"url":"https://x/logo.png","kind":"sticker","width":10,"height":10}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/overlays", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleAddOverlay_FetchFailure(t *testing.T) {
	engine := &mockEngine{addOverlayFn: func(context.Context, domain.OverlayAsset) error {
		return fmt.Errorf("load overlay: %w", domain.ErrAssetDecode)
	}}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPost, "/api/overlays",
		`{"url":"https://cdn.example.com/broken.png","width":100,"height":100}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"external"`)
}

func TestHandleRemoveOverlay(t *testing.T) {
	var removed string
	engine := &mockEngine{removeOverlayFn: func(id string) { removed = id }}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodDelete, "/api/overlays/logo-1", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "logo-1", removed)
}

func TestHandleShowLowerThird(t *testing.T) {
	var gotText, gotSub string
	var gotStyle domain.LowerThirdStyle
	engine := &mockEngine{showLowerThirdFn: func(text, subtext string, style domain.LowerThirdStyle) {
		gotText, gotSub, gotStyle = text, subtext, style
	}}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPost, "/api/lower-third",
		`{"text":"Ada Lovelace","subtext":"Guest"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ada Lovelace", gotText)
	assert.Equal(t, "Guest", gotSub)
	assert.Equal(t, domain.LowerThirdBar, gotStyle, "empty style should default to bar")
}

func TestHandleShowLowerThird_Validation(t *testing.T) {
	srv := newTestServer(t, &mockEngine{})

	rec := doJSON(t, srv, http.MethodPost, "/api/lower-third", `{"subtext":"Guest"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/lower-third",
		`{"text":"Ada","style":"neon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHideLowerThird(t *testing.T) {
	var hidden bool
	engine := &mockEngine{hideLowerThirdFn: func() { hidden = true }}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodDelete, "/api/lower-third", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, hidden)
}

func TestHandleChatMessage(t *testing.T) {
	var got domain.ChatMessage
	engine := &mockEngine{addChatFn: func(msg domain.ChatMessage) { got = msg }}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPost, "/api/chat",
		`{"platform":"twitch","author":"viewer42","text":"hello!"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "twitch", got.Platform)
	assert.Equal(t, "viewer42", got.Author)
	assert.Equal(t, "hello!", got.Text)
	assert.False(t, got.At.IsZero())
}

func TestHandleChatMessage_EmptyText(t *testing.T) {
	srv := newTestServer(t, &mockEngine{})

	rec := doJSON(t, srv, http.MethodPost, "/api/chat", `{"author":"viewer42"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatVisibility(t *testing.T) {
	var shown bool
	engine := &mockEngine{setShowChatFn: func(show bool) { shown = show }}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPut, "/api/chat/visibility", `{"visible":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, shown)
}

func TestHandleSetCaption(t *testing.T) {
	var gotText string
	var gotInterim bool
	engine := &mockEngine{setCaptionFn: func(text string, interim bool) {
		gotText, gotInterim = text, interim
	}}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPut, "/api/caption",
		`{"text":"welcome to the show","interim":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "welcome to the show", gotText)
	assert.True(t, gotInterim)
}

func TestHandleSetVolume(t *testing.T) {
	var got float64
	engine := &mockEngine{setMasterFn: func(v float64) { got = v }}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPut, "/api/volume", `{"master":0.65}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.65, got, 1e-9)
}

func TestHandleSetVolume_OutOfRange(t *testing.T) {
	srv := newTestServer(t, &mockEngine{})

	rec := doJSON(t, srv, http.MethodPut, "/api/volume", `{"master":1.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPut, "/api/volume", `{"master":-0.1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSetGain(t *testing.T) {
	var gotID string
	var gotGain float64
	engine := &mockEngine{setGainFn: func(id string, gain float64) { gotID, gotGain = id, gain }}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPut, "/api/gain/guest-2", `{"gain":0.25}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "guest-2", gotID)
	assert.InDelta(t, 0.25, gotGain, 1e-9)
}

func TestHandleStartCountdown(t *testing.T) {
	var got int
	engine := &mockEngine{startCountdownFn: func(seconds int) error {
		got = seconds
		return nil
	}}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPost, "/api/countdown", `{"seconds":10}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, got)
}

func TestHandleStartCountdown_Validation(t *testing.T) {
	srv := newTestServer(t, &mockEngine{})

	rec := doJSON(t, srv, http.MethodPost, "/api/countdown", `{"seconds":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStartCountdown_ClipActive(t *testing.T) {
	engine := &mockEngine{startCountdownFn: func(int) error { return domain.ErrClipActive }}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPost, "/api/countdown", `{"seconds":5}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"conflict"`)
}

func TestHandlePlayIntroClip(t *testing.T) {
	started := make(chan string, 1)
	engine := &mockEngine{playIntroFn: func(_ context.Context, url string, _ time.Duration) error {
		started <- url
		return nil
	}}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPost, "/api/clips/intro",
		`{"url":"https://cdn.example.com/intro.clip","duration_ms":3000}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case url := <-started:
		assert.Equal(t, "https://cdn.example.com/intro.clip", url)
	case <-time.After(time.Second):
		t.Fatal("intro clip was never started")
	}
}

func TestHandlePlayIntroClip_AlreadyActive(t *testing.T) {
	engine := &mockEngine{
		snapshotFn: func() studio.Snapshot {
			return studio.Snapshot{Render: compose.Stats{ClipActive: true}}
		},
	}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPost, "/api/clips/intro",
		`{"url":"https://cdn.example.com/intro.clip"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleForceFailover(t *testing.T) {
	var got string
	engine := &mockEngine{forceFailoverFn: func(id string) error {
		got = id
		return nil
	}}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPost, "/api/failover/backup-1", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "backup-1", got)
	assert.Contains(t, rec.Body.String(), `"primary":"backup-1"`)
}

func TestHandleForceFailover_Unknown(t *testing.T) {
	engine := &mockEngine{forceFailoverFn: func(string) error {
		return fmt.Errorf("force failover: %w", domain.ErrUnknownConnection)
	}}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv, http.MethodPost, "/api/failover/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"not_found"`)
}
