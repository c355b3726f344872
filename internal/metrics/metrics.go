package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Compositor Metrics
var (
	// FramesRenderedTotal tracks frames drawn and published to the output track
	FramesRenderedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compositor_frames_rendered_total",
			Help: "Total frames drawn and published to the output track",
		},
	)

	// FramesDroppedTotal tracks ticks skipped because the previous draw overran the frame budget
	FramesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compositor_frames_dropped_total",
			Help: "Total ticks skipped because the previous draw overran the frame budget",
		},
	)

	// FrameRenderDuration tracks single-frame draw duration in seconds
	FrameRenderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compositor_frame_render_duration_seconds",
			Help:    "Single frame draw duration in seconds",
			Buckets: []float64{.001, .0025, .005, .01, .0166, .0333, .05, .1, .25},
		},
	)

	// CompositorPanicsTotal tracks draw-loop panic recoveries
	CompositorPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compositor_panics_total",
			Help: "Total draw loop panic recoveries",
		},
	)

	// ActiveParticipants tracks participants currently bound into the composition
	ActiveParticipants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compositor_active_participants",
			Help: "Participants currently bound into the composition",
		},
	)

	// OverlayLoadsTotal tracks overlay attach attempts by result
	OverlayLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compositor_overlay_loads_total",
			Help: "Total overlay attach attempts by result (loaded/failed)",
		},
		[]string{"result"},
	)

	// ClipPlaybacksTotal tracks fullscreen clip playbacks by result
	ClipPlaybacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compositor_clip_playbacks_total",
			Help: "Total fullscreen clip playbacks by result (completed/failed/rejected)",
		},
		[]string{"result"},
	)

	// ChatMessagesRateLimited tracks chat messages rejected by the injection limiter
	ChatMessagesRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compositor_chat_messages_rate_limited_total",
			Help: "Total chat messages rejected by the injection rate limiter",
		},
	)
)

// Mixer Metrics
var (
	// MixerActiveSources tracks sources currently connected to the mixing graph
	MixerActiveSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mixer_active_sources",
			Help: "Sources currently connected to the mixing graph",
		},
	)

	// MixerMasterVolume tracks the current master volume multiplier (0-1)
	MixerMasterVolume = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mixer_master_volume",
			Help: "Current master volume multiplier (0-1)",
		},
	)

	// MixerBlocksMixedTotal tracks 20ms PCM blocks mixed into the output track
	MixerBlocksMixedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mixer_blocks_mixed_total",
			Help: "Total 20ms PCM blocks mixed into the output track",
		},
	)

	// MixerClippedSamplesTotal tracks samples hard-clipped during accumulation
	MixerClippedSamplesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mixer_clipped_samples_total",
			Help: "Total samples hard-clipped to int16 range during mixing",
		},
	)
)

// Publish Connection Metrics
var (
	// ConnectionState tracks per-connection lifecycle state (0=negotiating, 1=ready, 2=degraded, 3=failed, 4=closed)
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "publish_connection_state",
			Help: "Connection lifecycle state (0=negotiating, 1=ready, 2=degraded, 3=failed, 4=closed)",
		},
		[]string{"connection"},
	)

	// ConnectionBitrate tracks last sampled send bitrate per connection in bits per second
	ConnectionBitrate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "publish_connection_bitrate_bps",
			Help: "Last sampled send bitrate per connection (bits per second)",
		},
		[]string{"connection"},
	)

	// ConnectionPacketLoss tracks last sampled packet loss ratio per connection
	ConnectionPacketLoss = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "publish_connection_packet_loss_ratio",
			Help: "Last sampled packet loss ratio per connection (0-1)",
		},
		[]string{"connection"},
	)

	// HealthProblemTicksTotal tracks health evaluations that flagged a connection, by reason
	HealthProblemTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_health_problem_ticks_total",
			Help: "Health evaluations that flagged a connection, by reason",
		},
		[]string{"reason"},
	)

	// FailoversTotal tracks primary failovers by trigger
	FailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_failovers_total",
			Help: "Total primary failovers by trigger (health/manual)",
		},
		[]string{"trigger"},
	)

	// ReconnectAttemptsTotal tracks reconnection attempts across all connections
	ReconnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "publish_reconnect_attempts_total",
			Help: "Total reconnection attempts across all connections",
		},
	)

	// ReconnectExhaustedTotal tracks connections that used up their reconnect budget
	ReconnectExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "publish_reconnect_exhausted_total",
			Help: "Connections that used up their reconnect budget",
		},
	)

	// StatsPollErrorsTotal tracks failed session stats polls
	StatsPollErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "publish_stats_poll_errors_total",
			Help: "Total failed session stats polls",
		},
	)
)

// Watchdog Metrics
var (
	// WatchdogFreezesTotal tracks frozen-feed declarations
	WatchdogFreezesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchdog_freezes_total",
			Help: "Total frozen feed declarations",
		},
	)

	// WatchdogRecoveriesTotal tracks recovery passes by trigger
	WatchdogRecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdog_recoveries_total",
			Help: "Total recovery passes by trigger (freeze/track_muted)",
		},
		[]string{"trigger"},
	)

	// WatchdogSampleDelta tracks the most recent center-region mean delta
	WatchdogSampleDelta = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchdog_sample_delta",
			Help: "Most recent center region mean absolute pixel delta",
		},
	)
)

// Asset Cache Metrics
var (
	// AssetCacheHits tracks lookups served from cache
	AssetCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asset_cache_hits_total",
			Help: "Total asset lookups served from cache",
		},
	)

	// AssetCacheMisses tracks lookups that triggered a fetch
	AssetCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asset_cache_misses_total",
			Help: "Total asset lookups that triggered a fetch",
		},
	)

	// AssetLoadFailures tracks fetch or decode failures
	AssetLoadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asset_load_failures_total",
			Help: "Total asset fetch or decode failures",
		},
	)

	// AssetLoadDuration tracks successful asset load duration in seconds
	AssetLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "asset_load_duration_seconds",
			Help:    "Successful asset load duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// AssetCacheSize tracks current number of cached assets
	AssetCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_cache_entries",
			Help: "Current number of cached assets",
		},
	)

	// AssetBreakerStateChanges tracks asset fetcher circuit breaker transitions
	AssetBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_breaker_state_changes_total",
			Help: "Asset fetcher circuit breaker state transitions by new state",
		},
		[]string{"state"},
	)
)

// Telemetry Feed Metrics
var (
	// TelemetryEventsReceived tracks edge health events received per channel
	TelemetryEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_events_received_total",
			Help: "Total edge health events received by channel",
		},
		[]string{"channel"},
	)

	// TelemetryReconnectionsTotal tracks telemetry subscription reconnects
	TelemetryReconnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_reconnections_total",
			Help: "Total telemetry subscription reconnection attempts after disconnect",
		},
	)

	// TelemetrySubscriptionActive tracks whether the telemetry subscription is active (1) or disconnected (0)
	TelemetrySubscriptionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_subscription_active",
			Help: "1 if telemetry subscription is active, 0 if disconnected",
		},
	)
)

// WHIP Transport Metrics
var (
	// WhipSamplesWrittenTotal tracks encoded samples written to WebRTC tracks by kind (video/audio)
	WhipSamplesWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whip_samples_written_total",
			Help: "Total encoded media samples written to WebRTC tracks by kind",
		},
		[]string{"kind"},
	)

	// WhipSampleErrorsTotal tracks sample encode/write failures by kind
	WhipSampleErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whip_sample_errors_total",
			Help: "Total media sample encode or write failures by kind",
		},
		[]string{"kind"},
	)

	// WhipSignalRoundTripsTotal tracks signaling offer/answer round-trips by outcome
	WhipSignalRoundTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whip_signal_roundtrips_total",
			Help: "Total signaling offer/answer round-trips by outcome",
		},
		[]string{"outcome"},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)

// HTTP Request Metrics
// Note: These are automatically provided by echoprometheus middleware
// - http_requests_total{method, path, status}
// - http_request_duration_seconds{method, path}
