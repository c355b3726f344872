// Package ops exposes the studio's operational HTTP surface: health and
// readiness probes, Prometheus metrics, a status snapshot, and the control
// endpoints a producer UI drives the show with.
package ops

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/logging"
	"github.com/mikeisflux/streamlick-sub000/internal/studio"
)

// Engine is the slice of the studio facade the control surface needs.
type Engine interface {
	Snapshot() studio.Snapshot
	SetLayout(spec domain.LayoutSpec)
	AddOverlay(ctx context.Context, asset domain.OverlayAsset) error
	RemoveOverlay(id string)
	ShowLowerThird(text, subtext string, style domain.LowerThirdStyle)
	HideLowerThird()
	AddChatMessage(msg domain.ChatMessage)
	SetShowChat(show bool)
	SetCaption(text string, interim bool)
	PlayIntroClip(ctx context.Context, url string, durationOverride time.Duration) error
	StartCountdown(seconds int) error
	SetMasterVolume(v float64)
	SetSourceGain(id string, gain float64)
	ForceFailover(targetID string) error
}

// Config carries the server settings.
type Config struct {
	Port string
}

// Server is the operational HTTP server. It owns no show state; every
// request delegates to the engine.
type Server struct {
	echo         *echo.Echo
	cfg          Config
	engine       Engine
	healthChecks []HealthCheck
	startTime    time.Time
	log          *slog.Logger
}

// NewServer wires routes and middleware around engine. The health checks
// back the readiness and startup probes in registration order.
func NewServer(cfg Config, engine Engine, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		cfg:          cfg,
		engine:       engine,
		healthChecks: healthChecks,
		startTime:    time.Now(),
		log:          logging.WithComponent("ops"),
	}

	srv.registerRoutes()

	return srv
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info("Starting control API", "port", s.cfg.Port)
	if err := s.echo.Start(":" + s.cfg.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
