// Package config loads the studio's runtime settings from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	CanvasWidth  int `env:"CANVAS_WIDTH" default:"1280"`
	CanvasHeight int `env:"CANVAS_HEIGHT" default:"720"`
	TargetFPS    int `env:"TARGET_FPS" default:"30"`

	// Transport selects how publish sessions reach their destinations:
	// "loopback" keeps everything in-process for demos and rehearsals,
	// "whip" publishes over WebRTC.
	Transport string `env:"PUBLISH_TRANSPORT" default:"loopback"`

	// PrimaryEndpoint receives the program feed; BackupEndpoints is a
	// comma-separated list of warm standbys promoted on failover.
	PrimaryEndpoint string `env:"PRIMARY_ENDPOINT" default:"loopback://primary"`
	BackupEndpoints string `env:"BACKUP_ENDPOINTS" default:"loopback://backup-1"`

	// ICEServers is a comma-separated list of STUN/TURN URLs for the whip
	// transport. Empty keeps WebRTC on host candidates.
	ICEServers string `env:"ICE_SERVERS"`

	// RedisURL enables the destination telemetry feed when set.
	RedisURL string `env:"REDIS_URL"`

	PublishReadyTimeout time.Duration `env:"PUBLISH_READY_TIMEOUT" default:"30s"`

	// DemoParticipants is the number of synthetic cast members the demo
	// binary seeds the show with.
	DemoParticipants int `env:"DEMO_PARTICIPANTS" default:"3"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Backups splits the backup endpoint list, dropping empty entries.
func (c *Config) Backups() []string {
	return splitList(c.BackupEndpoints)
}

// ICEServerList splits the ICE server list, dropping empty entries.
func (c *Config) ICEServerList() []string {
	return splitList(c.ICEServers)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validate(cfg *Config) error {
	if cfg.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if cfg.CanvasWidth <= 0 || cfg.CanvasHeight <= 0 {
		return fmt.Errorf("CANVAS_WIDTH and CANVAS_HEIGHT must be positive, got %dx%d", cfg.CanvasWidth, cfg.CanvasHeight)
	}
	if cfg.TargetFPS <= 0 || cfg.TargetFPS > 120 {
		return fmt.Errorf("TARGET_FPS must be within 1..120, got %d", cfg.TargetFPS)
	}

	switch cfg.Transport {
	case "loopback", "whip":
	default:
		return fmt.Errorf("PUBLISH_TRANSPORT must be loopback or whip, got %q", cfg.Transport)
	}

	if cfg.PrimaryEndpoint == "" {
		return fmt.Errorf("PRIMARY_ENDPOINT is required")
	}
	if cfg.PublishReadyTimeout <= 0 {
		return fmt.Errorf("PUBLISH_READY_TIMEOUT must be positive")
	}
	if cfg.DemoParticipants < 0 {
		return fmt.Errorf("DEMO_PARTICIPANTS must not be negative")
	}

	return nil
}
