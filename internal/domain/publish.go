package domain

import (
	"context"
	"time"
)

// ConnectionRole distinguishes the connection carrying the live program from
// warm spares. Exactly zero or one connection is primary at any time.
type ConnectionRole string

const (
	RolePrimary ConnectionRole = "primary"
	RoleBackup  ConnectionRole = "backup"
)

// ConnectionState is the lifecycle of one publish connection.
//
//	negotiating -> ready -> degraded -> failed
//	            \-> closed (terminal, from any state)
//
// Degraded and failed connections may re-enter negotiating through
// reconnection; closed is terminal.
type ConnectionState string

const (
	StateNegotiating ConnectionState = "negotiating"
	StateReady       ConnectionState = "ready"
	StateDegraded    ConnectionState = "degraded"
	StateFailed      ConnectionState = "failed"
	StateClosed      ConnectionState = "closed"
)

// LinkState is the transport-level connectivity as reported by the session.
type LinkState string

const (
	LinkNew          LinkState = "new"
	LinkChecking     LinkState = "checking"
	LinkConnected    LinkState = "connected"
	LinkDisconnected LinkState = "disconnected"
	LinkFailed       LinkState = "failed"
	LinkClosed       LinkState = "closed"
)

// TransportStats is one sample of send-side quality read from a session.
type TransportStats struct {
	BitrateBps      float64
	PacketLossRatio float64
	RTT             time.Duration
	SampledAt       time.Time
}

// HealthSnapshot is the manager's merged view of one connection's health,
// combining local stats polls with any edge-side telemetry.
type HealthSnapshot struct {
	Connected           bool
	Link                LinkState
	BitrateBps          float64
	PacketLossRatio     float64
	UpdatedAt           time.Time
	ConsecutiveProblems int
}

// MediaTracks bundles the program output handed to publish sessions.
type MediaTracks struct {
	Video VideoSource
	Audio AudioSource
}

// Session is one negotiated publish leg on a transport. Open blocks until the
// session is ready to carry media or the context is done. SwapVideoTrack
// replaces the outgoing video source in place, without renegotiation, and is
// the recovery path for a stalled output track. Close is idempotent.
type Session interface {
	Open(ctx context.Context) error
	SwapVideoTrack(src VideoSource) error
	Stats() (TransportStats, error)
	Link() LinkState
	Close() error
}

// Transport mints publish sessions toward one downstream endpoint.
type Transport interface {
	NewSession(endpoint string, tracks MediaTracks) (Session, error)
}

// TelemetryFeed streams edge-side health events for publish sessions keyed by
// connection ID. Implementations deliver best-effort; the manager treats the
// feed as advisory and falls back to local stats when it is silent.
type TelemetryFeed interface {
	Events() <-chan TelemetryEvent
	Close() error
}

// TelemetryEvent is one edge-side health report.
type TelemetryEvent struct {
	ConnectionID    string
	Connected       bool
	Link            LinkState
	BitrateBps      float64
	PacketLossRatio float64
	At              time.Time
}
