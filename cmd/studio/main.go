package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mikeisflux/streamlick-sub000/internal/compose"
	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/logging"
	"github.com/mikeisflux/streamlick-sub000/internal/metrics"
	"github.com/mikeisflux/streamlick-sub000/internal/ops"
	"github.com/mikeisflux/streamlick-sub000/internal/platform/config"
	"github.com/mikeisflux/streamlick-sub000/internal/platform/version"
	"github.com/mikeisflux/streamlick-sub000/internal/publish"
	"github.com/mikeisflux/streamlick-sub000/internal/sources"
	"github.com/mikeisflux/streamlick-sub000/internal/studio"
	"github.com/mikeisflux/streamlick-sub000/internal/telemetry"
	"github.com/mikeisflux/streamlick-sub000/internal/transport/loopback"
	"github.com/mikeisflux/streamlick-sub000/internal/transport/whip"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupTransport(cfg *config.Config, clock clockwork.Clock) domain.Transport {
	switch cfg.Transport {
	case "whip":
		tr, err := whip.NewTransport(whip.Config{
			ICEServers: cfg.ICEServerList(),
			FrameRate:  cfg.TargetFPS,
			Clock:      clock,
		})
		if err != nil {
			slog.Error("Failed to create WHIP transport", "error", err)
			os.Exit(1)
		}
		return tr
	default:
		return loopback.New(clock)
	}
}

func setupTelemetry(ctx context.Context, cfg *config.Config, clock clockwork.Clock, connections []string) *telemetry.RedisFeed {
	if cfg.RedisURL == "" {
		return nil
	}

	feed, err := telemetry.NewRedisFeed(ctx, cfg.RedisURL, telemetry.Config{
		Connections: connections,
		Clock:       clock,
	})
	if err != nil {
		slog.Error("Failed to connect telemetry feed", "error", err)
		os.Exit(1)
	}
	return feed
}

// buildCast creates and starts the synthetic demo participants. The first
// member hosts; everyone else joins as a guest with a distinct tone so the
// mix is audibly layered.
func buildCast(cfg *config.Config, clock clockwork.Clock) []*sources.Synthetic {
	names := []string{"Alice", "Bert", "Chao", "Dana", "Emre", "Fola"}

	cast := make([]*sources.Synthetic, 0, cfg.DemoParticipants)
	for i := 0; i < cfg.DemoParticipants; i++ {
		name := names[i%len(names)]
		id := fmt.Sprintf("demo-%d", i+1)

		srcCfg := sources.DefaultConfig()
		srcCfg.FPS = cfg.TargetFPS
		srcCfg.ToneHz = 220 * float64(i+1)
		srcCfg.Clock = clock

		src := sources.New(id, name, srcCfg)
		src.Start()
		cast = append(cast, src)
	}
	return cast
}

func castParticipants(cast []*sources.Synthetic) []domain.ParticipantSource {
	participants := make([]domain.ParticipantSource, 0, len(cast))
	for i, src := range cast {
		role := domain.RoleGuest
		if i == 0 {
			role = domain.RoleHost
		}
		participants = append(participants, src.Participant(role, i == 0))
	}
	return participants
}

func destinations(cfg *config.Config) (publish.Destination, []publish.Destination) {
	primary := publish.Destination{ID: "primary", Endpoint: cfg.PrimaryEndpoint}

	endpoints := cfg.Backups()
	backups := make([]publish.Destination, 0, len(endpoints))
	for i, endpoint := range endpoints {
		backups = append(backups, publish.Destination{
			ID:       fmt.Sprintf("backup-%d", i+1),
			Endpoint: endpoint,
		})
	}
	return primary, backups
}

func healthChecks(engine *studio.Engine) []ops.HealthCheck {
	return []ops.HealthCheck{
		{
			Name: "render_loop",
			Check: func(context.Context) error {
				if !engine.Snapshot().Running {
					return errors.New("draw loop not running")
				}
				return nil
			},
		},
		{
			Name: "publish_connections",
			Check: func(context.Context) error {
				snap := engine.Snapshot()
				if !snap.Publishing {
					return nil
				}
				for _, conn := range snap.Connections {
					if conn.State == domain.StateReady || conn.State == domain.StateDegraded {
						return nil
					}
				}
				return errors.New("no live publish connection")
			},
		},
	}
}

func runGracefulShutdown(srv *ops.Server, engine *studio.Engine, cast []*sources.Synthetic, feed *telemetry.RedisFeed) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if err := engine.Close(); err != nil {
			slog.Error("Engine close error", "error", err)
		}
		for _, src := range cast {
			src.Stop()
		}
		if feed != nil {
			if err := feed.Close(); err != nil {
				slog.Error("Telemetry feed close error", "error", err)
			}
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Studio starting", "env", cfg.AppEnv, "port", cfg.Port)

	info := version.Get()
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.BuildTime, info.GoVersion).Set(1)

	transport := setupTransport(cfg, clock)
	primary, backups := destinations(cfg)

	connIDs := []string{primary.ID}
	for _, b := range backups {
		connIDs = append(connIDs, b.ID)
	}
	feed := setupTelemetry(context.Background(), cfg, clock, connIDs)

	engineCfg := studio.Config{
		Compose: compose.Config{
			Width:     cfg.CanvasWidth,
			Height:    cfg.CanvasHeight,
			TargetFPS: cfg.TargetFPS,
		},
		Publish: publish.Config{ReadyTimeout: cfg.PublishReadyTimeout},
		Clock:   clock,
	}
	// Assign only when the feed exists to avoid a typed-nil interface.
	if feed != nil {
		engineCfg.Publish.Telemetry = feed
	}

	engine := studio.New(transport, engineCfg)

	cast := buildCast(cfg, clock)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()
	if err := engine.Initialize(initCtx, castParticipants(cast)); err != nil {
		slog.Error("Failed to initialize engine", "error", err)
		os.Exit(1)
	}

	if err := engine.StartPublishing(context.Background(), primary, backups...); err != nil {
		slog.Error("Failed to start publishing", "primary", primary.Endpoint, "error", err)
		os.Exit(1)
	}
	slog.Info("Publishing started", "primary", primary.Endpoint, "backups", len(backups))

	srv := ops.NewServer(ops.Config{Port: cfg.Port}, engine, healthChecks(engine))

	done := runGracefulShutdown(srv, engine, cast, feed)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
