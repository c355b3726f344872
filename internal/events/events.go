// Package events carries cross-component notifications over an in-process
// bus. Components publish facts about what happened; observers subscribe
// without coupling to the publisher. Delivery is best-effort: a subscriber
// that stops draining loses events rather than stalling publishers.
package events

import (
	"time"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
)

// Event is implemented by every notification type on the bus.
type Event interface {
	Kind() string
}

// ParticipantAdded fires after a participant is bound into the composition.
type ParticipantAdded struct {
	ID          string
	DisplayName string
}

// ParticipantRemoved fires after a participant is unbound.
type ParticipantRemoved struct {
	ID string
}

// OverlayLoaded fires when an overlay asset finished loading and is attached.
type OverlayLoaded struct {
	ID          string
	OverlayKind domain.OverlayKind
}

// OverlayFailed fires when an overlay asset could not be loaded. The previous
// composition state is untouched.
type OverlayFailed struct {
	ID  string
	URL string
	Err error
}

// ClipStarted and ClipEnded bracket fullscreen clip playback.
type ClipStarted struct {
	ID  string
	URL string
}

type ClipEnded struct {
	ID  string
	Err error
}

// ConnectionStateChanged fires on every publish connection state transition.
type ConnectionStateChanged struct {
	ID   string
	From domain.ConnectionState
	To   domain.ConnectionState
}

// ConnectionProblem fires on each health tick that flags a connection.
type ConnectionProblem struct {
	ID          string
	Reason      string
	Consecutive int
}

// Failover fires exactly once per role transition, whether health-driven or
// manual.
type Failover struct {
	From   string
	To     string
	Reason string
}

// ReconnectScheduled fires when a reconnection attempt is queued.
type ReconnectScheduled struct {
	ID      string
	Attempt int
	Delay   time.Duration
}

// ReconnectExhausted fires when a connection used up its reconnect budget.
type ReconnectExhausted struct {
	ID       string
	Attempts int
}

// BackupUnavailable fires when a failover found no promotable backup.
type BackupUnavailable struct {
	FailedID string
	Reason   string
}

// TrackMuted and TrackUnmuted mirror the program output track's mute flag.
type TrackMuted struct{}

type TrackUnmuted struct{}

// FeedFrozen fires when the liveness watchdog declares the output stalled.
type FeedFrozen struct {
	MeanDelta   float64
	Consecutive int
}

// RecoveryPerformed fires after the watchdog finished a recovery pass.
type RecoveryPerformed struct {
	Trigger string
}

func (ParticipantAdded) Kind() string       { return "participant_added" }
func (ParticipantRemoved) Kind() string     { return "participant_removed" }
func (OverlayLoaded) Kind() string          { return "overlay_loaded" }
func (OverlayFailed) Kind() string          { return "overlay_failed" }
func (ClipStarted) Kind() string            { return "clip_started" }
func (ClipEnded) Kind() string              { return "clip_ended" }
func (ConnectionStateChanged) Kind() string { return "connection_state_changed" }
func (ConnectionProblem) Kind() string      { return "connection_problem" }
func (Failover) Kind() string               { return "failover" }
func (ReconnectScheduled) Kind() string     { return "reconnect_scheduled" }
func (ReconnectExhausted) Kind() string     { return "reconnect_exhausted" }
func (BackupUnavailable) Kind() string      { return "backup_unavailable" }
func (TrackMuted) Kind() string             { return "track_muted" }
func (TrackUnmuted) Kind() string           { return "track_unmuted" }
func (FeedFrozen) Kind() string             { return "feed_frozen" }
func (RecoveryPerformed) Kind() string      { return "recovery_performed" }
