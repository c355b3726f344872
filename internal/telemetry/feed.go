// Package telemetry ingests edge-side health reports for publish connections
// over Redis pub/sub. Reports are advisory: the publish manager merges them
// into its local health view and keeps working when the feed is silent or
// down, so the subscription reconnects forever instead of surfacing errors.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/logging"
	"github.com/mikeisflux/streamlick-sub000/internal/metrics"
	"github.com/mikeisflux/streamlick-sub000/internal/platform/retry"
)

const channelPrefix = "telemetry:"

// Channel returns the pub/sub channel carrying reports for one connection.
func Channel(connectionID string) string {
	return channelPrefix + connectionID
}

// Report is the wire form of one edge health sample, published as JSON on
// the connection's telemetry channel. Zero fields mean "no reading": the
// manager merges only what the edge actually measured.
type Report struct {
	Connected       bool      `json:"connected"`
	Link            string    `json:"link,omitempty"`
	BitrateBps      float64   `json:"bitrate_bps,omitempty"`
	PacketLossRatio float64   `json:"packet_loss_ratio,omitempty"`
	At              time.Time `json:"at"`
}

// PublishReport publishes one edge health sample for a connection.
func PublishReport(ctx context.Context, client *goredis.Client, connectionID string, r Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry report: %w", err)
	}
	return client.Publish(ctx, Channel(connectionID), data).Err()
}

// Config bounds the feed's subscription and reconnect behaviour.
type Config struct {
	// Connections pins the subscription to specific connection IDs. Empty
	// subscribes to every telemetry channel by pattern.
	Connections []string
	// Buffer is the event channel depth; events beyond it are dropped.
	Buffer        int
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
	Clock         clockwork.Clock
	Logger        *slog.Logger
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Buffer:        16,
		ReconnectBase: 500 * time.Millisecond,
		ReconnectCap:  10 * time.Second,
	}
}

// RedisFeed implements domain.TelemetryFeed on top of Redis pub/sub.
type RedisFeed struct {
	client *goredis.Client
	sub    *goredis.PubSub
	cfg    Config
	clock  clockwork.Clock
	log    *slog.Logger

	events chan domain.TelemetryEvent
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewRedisFeed connects to Redis, verifies the connection, subscribes to the
// configured telemetry channels, and starts pumping events. The dial is
// retried a few times so a Redis that is still coming up does not fail the
// studio; a Redis that stays down does, and the caller decides whether to run
// without a feed.
func NewRedisFeed(ctx context.Context, redisURL string, cfg Config) (*RedisFeed, error) {
	def := DefaultConfig()
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = def.ReconnectBase
	}
	if cfg.ReconnectCap <= 0 {
		cfg.ReconnectCap = def.ReconnectCap
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.WithComponent("telemetry")
	}

	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := goredis.NewClient(opts)

	ping := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: cfg.ReconnectBase,
		Clock:          cfg.Clock,
	}
	err = retry.DoVoid(ctx, ping, func(error) retry.Action { return retry.Retry }, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	var sub *goredis.PubSub
	if len(cfg.Connections) > 0 {
		channels := make([]string, len(cfg.Connections))
		for i, id := range cfg.Connections {
			channels[i] = Channel(id)
		}
		sub = client.Subscribe(ctx, channels...)
	} else {
		sub = client.PSubscribe(ctx, channelPrefix+"*")
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	f := &RedisFeed{
		client: client,
		sub:    sub,
		cfg:    cfg,
		clock:  cfg.Clock,
		log:    cfg.Logger,
		events: make(chan domain.TelemetryEvent, cfg.Buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	metrics.TelemetrySubscriptionActive.Set(1)
	go f.pump(pumpCtx)
	return f, nil
}

// Events returns the stream of edge health events. The channel closes when
// the feed is closed.
func (f *RedisFeed) Events() <-chan domain.TelemetryEvent {
	return f.events
}

// Close tears down the subscription and the Redis connection. Idempotent; it
// returns once the event channel is closed.
func (f *RedisFeed) Close() error {
	f.closeOnce.Do(func() {
		f.cancel()
		_ = f.sub.Close()
		<-f.done
		f.closeErr = f.client.Close()
		metrics.TelemetrySubscriptionActive.Set(0)
	})
	return f.closeErr
}

// pump receives messages until the feed is closed. go-redis resubscribes
// broken connections on the next receive, so on error the pump only waits
// out a doubling backoff and tries again.
func (f *RedisFeed) pump(ctx context.Context) {
	defer close(f.done)
	defer close(f.events)

	backoff := f.cfg.ReconnectBase
	for {
		msg, err := f.sub.ReceiveMessage(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			metrics.TelemetrySubscriptionActive.Set(0)
			metrics.TelemetryReconnectionsTotal.Inc()
			f.log.Warn("telemetry subscription lost, reconnecting",
				"error", err, "backoff", backoff)
			select {
			case <-f.clock.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, f.cfg.ReconnectCap)
			continue
		}

		metrics.TelemetrySubscriptionActive.Set(1)
		backoff = f.cfg.ReconnectBase
		f.forward(msg)
	}
}

func (f *RedisFeed) forward(msg *goredis.Message) {
	var r Report
	if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
		f.log.Warn("failed to unmarshal telemetry report",
			"channel", msg.Channel, "error", err)
		return
	}
	metrics.TelemetryEventsReceived.WithLabelValues(msg.Channel).Inc()

	ev := domain.TelemetryEvent{
		ConnectionID:    strings.TrimPrefix(msg.Channel, channelPrefix),
		Connected:       r.Connected,
		Link:            domain.LinkState(r.Link),
		BitrateBps:      r.BitrateBps,
		PacketLossRatio: r.PacketLossRatio,
		At:              r.At,
	}
	select {
	case f.events <- ev:
	default:
		// Drop if the manager is slow; the next report supersedes this one.
	}
}
