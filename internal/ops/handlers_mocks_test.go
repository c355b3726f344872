package ops

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/studio"
)

// --- Mock engine ---

type mockEngine struct {
	snapshotFn       func() studio.Snapshot
	setLayoutFn      func(domain.LayoutSpec)
	addOverlayFn     func(context.Context, domain.OverlayAsset) error
	removeOverlayFn  func(string)
	showLowerThirdFn func(text, subtext string, style domain.LowerThirdStyle)
	hideLowerThirdFn func()
	addChatFn        func(domain.ChatMessage)
	setShowChatFn    func(bool)
	setCaptionFn     func(string, bool)
	playIntroFn      func(context.Context, string, time.Duration) error
	startCountdownFn func(int) error
	setMasterFn      func(float64)
	setGainFn        func(string, float64)
	forceFailoverFn  func(string) error
}

func (m *mockEngine) Snapshot() studio.Snapshot {
	if m.snapshotFn != nil {
		return m.snapshotFn()
	}
	return studio.Snapshot{}
}

func (m *mockEngine) SetLayout(spec domain.LayoutSpec) {
	if m.setLayoutFn != nil {
		m.setLayoutFn(spec)
	}
}

func (m *mockEngine) AddOverlay(ctx context.Context, asset domain.OverlayAsset) error {
	if m.addOverlayFn != nil {
		return m.addOverlayFn(ctx, asset)
	}
	return nil
}

func (m *mockEngine) RemoveOverlay(id string) {
	if m.removeOverlayFn != nil {
		m.removeOverlayFn(id)
	}
}

func (m *mockEngine) ShowLowerThird(text, subtext string, style domain.LowerThirdStyle) {
	if m.showLowerThirdFn != nil {
		m.showLowerThirdFn(text, subtext, style)
	}
}

func (m *mockEngine) HideLowerThird() {
	if m.hideLowerThirdFn != nil {
		m.hideLowerThirdFn()
	}
}

func (m *mockEngine) AddChatMessage(msg domain.ChatMessage) {
	if m.addChatFn != nil {
		m.addChatFn(msg)
	}
}

func (m *mockEngine) SetShowChat(show bool) {
	if m.setShowChatFn != nil {
		m.setShowChatFn(show)
	}
}

func (m *mockEngine) SetCaption(text string, interim bool) {
	if m.setCaptionFn != nil {
		m.setCaptionFn(text, interim)
	}
}

func (m *mockEngine) PlayIntroClip(ctx context.Context, url string, durationOverride time.Duration) error {
	if m.playIntroFn != nil {
		return m.playIntroFn(ctx, url, durationOverride)
	}
	return nil
}

func (m *mockEngine) StartCountdown(seconds int) error {
	if m.startCountdownFn != nil {
		return m.startCountdownFn(seconds)
	}
	return nil
}

func (m *mockEngine) SetMasterVolume(v float64) {
	if m.setMasterFn != nil {
		m.setMasterFn(v)
	}
}

func (m *mockEngine) SetSourceGain(id string, gain float64) {
	if m.setGainFn != nil {
		m.setGainFn(id, gain)
	}
}

func (m *mockEngine) ForceFailover(targetID string) error {
	if m.forceFailoverFn != nil {
		return m.forceFailoverFn(targetID)
	}
	return nil
}

// --- Test helpers ---

func newTestServer(t *testing.T, engine Engine, checks ...HealthCheck) *Server {
	t.Helper()
	return NewServer(Config{Port: "0"}, engine, checks)
}

// doJSON drives a request through the whole router, middleware included,
// so tests observe exactly what a client would.
func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}
