// Package publish owns the broadcast's outbound connections: one primary
// carrying the program and any number of warm backups, with health-driven
// failover and exponential-backoff reconnection.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/events"
	"github.com/mikeisflux/streamlick-sub000/internal/logging"
	"github.com/mikeisflux/streamlick-sub000/internal/metrics"
)

// Destination names one downstream publish endpoint.
type Destination struct {
	ID       string
	Endpoint string
}

// Config carries the manager's health and reconnection tunables. Zero fields
// fall back to DefaultConfig values.
type Config struct {
	// HealthInterval is the spacing of health evaluations.
	HealthInterval time.Duration
	// StatsInterval is the spacing of session stats polls.
	StatsInterval time.Duration
	// ProblemThreshold is how many consecutive problem ticks demote a
	// connection to failed (and fail the primary over).
	ProblemThreshold int
	// BitrateFloor flags a connection sending slower than this (bps). A
	// bitrate of exactly zero is treated as "not yet measured", not a problem.
	BitrateFloor float64
	// LossCeiling flags packet loss above this ratio.
	LossCeiling float64
	// StaleAfter flags stats that have not refreshed within this window.
	StaleAfter time.Duration
	// ReadyTimeout bounds how long StartPublishing waits for the primary.
	ReadyTimeout time.Duration
	// ReconnectBase and ReconnectCap shape the backoff delay
	// min(base·2^k, cap) for attempt k.
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
	// MaxReconnects is the per-connection attempt budget.
	MaxReconnects int
	// Telemetry optionally merges edge-side health events into snapshots.
	Telemetry domain.TelemetryFeed
	// Clock drives every timer. Defaults to the wall clock.
	Clock clockwork.Clock
	// Logger defaults to the shared logger scoped to the manager.
	Logger *slog.Logger
}

// DefaultConfig is the parameterization used by the studio facade.
func DefaultConfig() Config {
	return Config{
		HealthInterval:   2 * time.Second,
		StatsInterval:    time.Second,
		ProblemThreshold: 3,
		BitrateFloor:     500_000,
		LossCeiling:      0.10,
		StaleAfter:       10 * time.Second,
		ReadyTimeout:     30 * time.Second,
		ReconnectBase:    time.Second,
		ReconnectCap:     30 * time.Second,
		MaxReconnects:    10,
	}
}

// connection is the manager's record of one publish leg. All fields are
// guarded by the manager mutex.
type connection struct {
	id       string
	endpoint string
	role     domain.ConnectionRole
	state    domain.ConnectionState
	session  domain.Session
	health   domain.HealthSnapshot
	attempts int
	timer    clockwork.Timer
}

// ConnectionSnapshot is the read-only view of one connection for the status
// surface.
type ConnectionSnapshot struct {
	ID       string                 `json:"id"`
	Role     domain.ConnectionRole  `json:"role"`
	State    domain.ConnectionState `json:"state"`
	Health   domain.HealthSnapshot  `json:"health"`
	Attempts int                    `json:"reconnect_attempts"`
}

// Manager owns every publish connection for the broadcast: it opens sessions,
// tracks their health, fails the primary over to a warm backup, and schedules
// reconnections with exponential backoff. All connection state is mutated
// inside the manager; other components observe through the event bus and
// Snapshot.
type Manager struct {
	transport domain.Transport
	bus       *events.Bus
	cfg       Config
	clock     clockwork.Clock
	log       *slog.Logger

	mu           sync.Mutex
	conns        map[string]*connection
	order        []string
	tracks       domain.MediaTracks
	running      bool
	closed       bool
	runCtx       context.Context
	cancel       context.CancelFunc
	primaryOnce  *sync.Once
	primaryReady chan struct{}
	wg           sync.WaitGroup
}

// NewManager returns an idle manager. Transport and bus are required.
func NewManager(transport domain.Transport, bus *events.Bus, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = def.StatsInterval
	}
	if cfg.ProblemThreshold <= 0 {
		cfg.ProblemThreshold = def.ProblemThreshold
	}
	if cfg.BitrateFloor <= 0 {
		cfg.BitrateFloor = def.BitrateFloor
	}
	if cfg.LossCeiling <= 0 {
		cfg.LossCeiling = def.LossCeiling
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = def.ReadyTimeout
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = def.ReconnectBase
	}
	if cfg.ReconnectCap <= 0 {
		cfg.ReconnectCap = def.ReconnectCap
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = def.MaxReconnects
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.WithComponent("publish")
	}
	return &Manager{
		transport: transport,
		bus:       bus,
		cfg:       cfg,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		conns:     make(map[string]*connection),
	}
}

// StartPublishing opens a session toward the primary and every backup
// concurrently and returns once the primary is ready to carry media. If the
// primary is not ready within ReadyTimeout the whole run is torn down and
// ErrPrimaryReadyTimeout returned; on success, backups keep warming in the
// background.
func (m *Manager) StartPublishing(ctx context.Context, tracks domain.MediaTracks, primary Destination, backups ...Destination) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrClosed
	}
	if m.running {
		m.mu.Unlock()
		return domain.ErrAlreadyPublishing
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.runCtx = runCtx
	m.cancel = cancel
	m.running = true
	m.tracks = tracks
	m.conns = make(map[string]*connection)
	m.order = nil
	m.primaryOnce = &sync.Once{}
	m.primaryReady = make(chan struct{})

	m.register(primary, domain.RolePrimary)
	for _, b := range backups {
		m.register(b, domain.RoleBackup)
	}

	m.wg.Add(2)
	go m.healthLoop(runCtx)
	go m.statsLoop(runCtx)
	if m.cfg.Telemetry != nil {
		m.wg.Add(1)
		go m.telemetryLoop(runCtx)
	}
	for _, id := range m.order {
		m.spawnOpen(runCtx, m.conns[id])
	}
	ready := m.primaryReady
	m.mu.Unlock()

	m.log.Info("publishing starting",
		"primary", primary.ID,
		"backups", len(backups),
		"ready_timeout", m.cfg.ReadyTimeout,
	)

	deadline := m.clock.NewTimer(m.cfg.ReadyTimeout)
	defer deadline.Stop()

	select {
	case <-ready:
		m.log.Info("primary connection ready", "connection_id", primary.ID)
		return nil
	case <-deadline.Chan():
		m.log.Error("primary not ready before timeout, tearing down", "connection_id", primary.ID)
		if err := m.StopPublishing(); err != nil {
			m.log.Warn("teardown after ready timeout", "error", err)
		}
		return domain.ErrPrimaryReadyTimeout
	case <-ctx.Done():
		if err := m.StopPublishing(); err != nil {
			m.log.Warn("teardown after cancelled start", "error", err)
		}
		return ctx.Err()
	}
}

// register adds a connection record. Caller holds mu.
func (m *Manager) register(dest Destination, role domain.ConnectionRole) {
	c := &connection{
		id:       dest.ID,
		endpoint: dest.Endpoint,
		role:     role,
		state:    domain.StateNegotiating,
	}
	m.conns[dest.ID] = c
	m.order = append(m.order, dest.ID)
	metrics.ConnectionState.WithLabelValues(c.id).Set(stateValue(c.state))
}

// spawnOpen launches the open for c. Caller holds mu.
func (m *Manager) spawnOpen(ctx context.Context, c *connection) {
	m.wg.Add(1)
	go m.open(ctx, c.id, c.endpoint)
}

// open mints a session and negotiates it. Success moves the connection to
// ready; failure schedules a reconnect.
func (m *Manager) open(ctx context.Context, id, endpoint string) {
	defer m.wg.Done()

	m.mu.Lock()
	tracks := m.tracks
	m.mu.Unlock()

	session, err := m.transport.NewSession(endpoint, tracks)
	if err == nil {
		err = session.Open(ctx)
	}

	m.mu.Lock()
	c, known := m.conns[id]
	if !m.running || !known || c.state == domain.StateClosed {
		m.mu.Unlock()
		if session != nil {
			_ = session.Close()
		}
		return
	}

	if err != nil {
		m.log.Warn("session open failed",
			"connection_id", id,
			"endpoint", endpoint,
			"error", err,
		)
		m.setState(c, domain.StateFailed)
		m.scheduleReconnect(c)
		m.mu.Unlock()
		if session != nil {
			_ = session.Close()
		}
		return
	}

	c.session = session
	c.attempts = 0
	c.health = domain.HealthSnapshot{
		Connected: true,
		Link:      session.Link(),
		UpdatedAt: m.clock.Now(),
	}
	m.setState(c, domain.StateReady)
	m.log.Info("connection ready", "connection_id", id, "role", c.role)

	if c.role == domain.RolePrimary {
		m.primaryOnce.Do(func() { close(m.primaryReady) })
	}
	m.mu.Unlock()
}

// healthLoop evaluates every live connection on each tick.
func (m *Manager) healthLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := m.clock.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.evaluateAll()
		}
	}
}

func (m *Manager) evaluateAll() {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	for _, id := range m.order {
		m.evaluate(m.conns[id], now)
	}
}

// evaluate applies the problem rules to one connection. Caller holds mu.
func (m *Manager) evaluate(c *connection, now time.Time) {
	if c.state != domain.StateReady && c.state != domain.StateDegraded {
		return
	}

	h := &c.health
	reason := ""
	switch {
	case h.Link == domain.LinkFailed || h.Link == domain.LinkDisconnected:
		reason = "link"
	case !h.Connected:
		reason = "disconnected"
	case h.BitrateBps > 0 && h.BitrateBps < m.cfg.BitrateFloor:
		reason = "low_bitrate"
	case h.PacketLossRatio > m.cfg.LossCeiling:
		reason = "packet_loss"
	case !h.UpdatedAt.IsZero() && now.Sub(h.UpdatedAt) > m.cfg.StaleAfter:
		reason = "stale_stats"
	}

	if reason == "" {
		if h.ConsecutiveProblems > 0 {
			m.log.Debug("connection recovered before threshold",
				"connection_id", c.id,
				"problem_ticks", h.ConsecutiveProblems,
			)
		}
		h.ConsecutiveProblems = 0
		if c.state == domain.StateDegraded {
			m.setState(c, domain.StateReady)
		}
		return
	}

	h.ConsecutiveProblems++
	metrics.HealthProblemTicksTotal.WithLabelValues(reason).Inc()
	m.bus.Publish(events.ConnectionProblem{ID: c.id, Reason: reason, Consecutive: h.ConsecutiveProblems})
	m.log.Warn("connection problem",
		"connection_id", c.id,
		"reason", reason,
		"consecutive", h.ConsecutiveProblems,
	)

	if c.state == domain.StateReady {
		m.setState(c, domain.StateDegraded)
	}
	if h.ConsecutiveProblems < m.cfg.ProblemThreshold {
		return
	}

	if c.role == domain.RolePrimary {
		m.failover(c, reason)
		return
	}
	m.setState(c, domain.StateFailed)
	m.scheduleReconnect(c)
}

// failover demotes the failed primary and promotes the first healthy backup.
// Exactly one Failover event fires per role transition; when no backup
// qualifies the primary keeps its role and is scheduled for reconnection.
// Caller holds mu.
func (m *Manager) failover(failed *connection, reason string) {
	m.setState(failed, domain.StateFailed)

	var promoted *connection
	for _, id := range m.order {
		c := m.conns[id]
		if c.role == domain.RoleBackup && c.state == domain.StateReady && c.health.Connected {
			promoted = c
			break
		}
	}

	if promoted == nil {
		m.log.Error("no backup available, reconnecting failed primary",
			"connection_id", failed.id,
			"reason", reason,
		)
		m.bus.Publish(events.BackupUnavailable{FailedID: failed.id, Reason: reason})
		m.scheduleReconnect(failed)
		return
	}

	failed.role = domain.RoleBackup
	promoted.role = domain.RolePrimary
	metrics.FailoversTotal.WithLabelValues("health").Inc()
	m.bus.Publish(events.Failover{From: failed.id, To: promoted.id, Reason: reason})
	m.log.Warn("failover",
		"from", failed.id,
		"to", promoted.id,
		"reason", reason,
	)
	m.scheduleReconnect(failed)
}

// ForceFailover promotes the target connection to primary immediately. The
// old primary stays ready as a backup. Promoting the current primary is a
// no-op.
func (m *Manager) ForceFailover(targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrClosed
	}
	if !m.running {
		return domain.ErrNotRunning
	}

	target, ok := m.conns[targetID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownConnection, targetID)
	}
	if target.role == domain.RolePrimary {
		return nil
	}
	if target.state != domain.StateReady && target.state != domain.StateDegraded {
		return fmt.Errorf("connection %s not promotable in state %s", targetID, target.state)
	}

	var from string
	for _, id := range m.order {
		c := m.conns[id]
		if c.role == domain.RolePrimary {
			c.role = domain.RoleBackup
			from = c.id
			break
		}
	}
	target.role = domain.RolePrimary

	metrics.FailoversTotal.WithLabelValues("manual").Inc()
	m.bus.Publish(events.Failover{From: from, To: target.id, Reason: "manual"})
	m.log.Info("manual failover", "from", from, "to", target.id)
	return nil
}

// scheduleReconnect queues the next attempt for c with exponential backoff,
// or emits ReconnectExhausted once the budget is spent. Caller holds mu.
func (m *Manager) scheduleReconnect(c *connection) {
	if !m.running || c.state == domain.StateClosed || c.timer != nil {
		return
	}
	if c.attempts >= m.cfg.MaxReconnects {
		metrics.ReconnectExhaustedTotal.Inc()
		m.bus.Publish(events.ReconnectExhausted{ID: c.id, Attempts: c.attempts})
		m.log.Error("reconnect budget exhausted",
			"connection_id", c.id,
			"attempts", c.attempts,
		)
		return
	}

	delay := m.cfg.ReconnectBase << uint(c.attempts)
	if delay > m.cfg.ReconnectCap || delay <= 0 {
		delay = m.cfg.ReconnectCap
	}
	attempt := c.attempts + 1

	m.bus.Publish(events.ReconnectScheduled{ID: c.id, Attempt: attempt, Delay: delay})
	m.log.Info("reconnect scheduled",
		"connection_id", c.id,
		"attempt", attempt,
		"delay", delay,
	)

	id := c.id
	c.timer = m.clock.AfterFunc(delay, func() { m.runReconnect(id) })
}

// runReconnect fires from a backoff timer: it tears down the old session and
// opens a fresh one. A connection whose run was stopped never resurrects.
func (m *Manager) runReconnect(id string) {
	m.mu.Lock()
	c, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	c.timer = nil
	if !m.running || m.closed || c.state == domain.StateClosed {
		m.mu.Unlock()
		return
	}

	c.attempts++
	metrics.ReconnectAttemptsTotal.Inc()
	old := c.session
	c.session = nil
	c.health = domain.HealthSnapshot{}
	m.setState(c, domain.StateNegotiating)
	m.log.Info("reconnecting", "connection_id", id, "attempt", c.attempts)

	m.spawnOpen(m.runCtx, c)
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
}

// statsLoop polls session stats and merges them into health snapshots.
func (m *Manager) statsLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := m.clock.NewTicker(m.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.pollAll()
		}
	}
}

func (m *Manager) pollAll() {
	m.mu.Lock()
	type target struct {
		id      string
		session domain.Session
	}
	targets := make([]target, 0, len(m.order))
	if m.running {
		for _, id := range m.order {
			c := m.conns[id]
			if c.session != nil && (c.state == domain.StateReady || c.state == domain.StateDegraded) {
				targets = append(targets, target{id: id, session: c.session})
			}
		}
	}
	m.mu.Unlock()

	for _, tg := range targets {
		stats, err := tg.session.Stats()
		if err != nil {
			metrics.StatsPollErrorsTotal.Inc()
			m.log.Debug("stats poll failed", "connection_id", tg.id, "error", err)
			continue
		}
		link := tg.session.Link()

		m.mu.Lock()
		c, ok := m.conns[tg.id]
		if !ok || c.session != tg.session {
			m.mu.Unlock()
			continue
		}
		c.health.Link = link
		c.health.Connected = link == domain.LinkConnected
		c.health.BitrateBps = stats.BitrateBps
		c.health.PacketLossRatio = stats.PacketLossRatio
		if stats.SampledAt.IsZero() {
			c.health.UpdatedAt = m.clock.Now()
		} else {
			c.health.UpdatedAt = stats.SampledAt
		}
		metrics.ConnectionBitrate.WithLabelValues(tg.id).Set(stats.BitrateBps)
		metrics.ConnectionPacketLoss.WithLabelValues(tg.id).Set(stats.PacketLossRatio)
		m.mu.Unlock()
	}
}

// telemetryLoop merges edge-side health events into connection snapshots.
func (m *Manager) telemetryLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.cfg.Telemetry.Events():
			if !ok {
				return
			}
			m.mergeTelemetry(ev)
		}
	}
}

func (m *Manager) mergeTelemetry(ev domain.TelemetryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[ev.ConnectionID]
	if !ok || !m.running {
		return
	}
	c.health.Connected = ev.Connected
	if ev.Link != "" {
		c.health.Link = ev.Link
	}
	if ev.BitrateBps > 0 {
		c.health.BitrateBps = ev.BitrateBps
	}
	if ev.PacketLossRatio > 0 {
		c.health.PacketLossRatio = ev.PacketLossRatio
	}
	if ev.At.IsZero() {
		c.health.UpdatedAt = m.clock.Now()
	} else {
		c.health.UpdatedAt = ev.At
	}
	m.log.Debug("telemetry merged",
		"connection_id", ev.ConnectionID,
		"connected", ev.Connected,
		"link", ev.Link,
	)
}

// SwapVideoTrack replaces the outgoing video source on every live session,
// in place and without renegotiation, and on all sessions opened afterwards.
// This is the watchdog's recovery hand-off.
func (m *Manager) SwapVideoTrack(src domain.VideoSource) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrClosed
	}
	if !m.running {
		m.mu.Unlock()
		return domain.ErrNotRunning
	}
	m.tracks.Video = src
	sessions := make([]domain.Session, 0, len(m.order))
	ids := make([]string, 0, len(m.order))
	for _, id := range m.order {
		c := m.conns[id]
		if c.session != nil && (c.state == domain.StateReady || c.state == domain.StateDegraded) {
			sessions = append(sessions, c.session)
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var firstErr error
	for i, s := range sessions {
		if err := s.SwapVideoTrack(src); err != nil {
			m.log.Warn("video track swap failed", "connection_id", ids[i], "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("swap video track on %s: %w", ids[i], err)
			}
		}
	}
	return firstErr
}

// PrimaryID reports which connection currently carries the program, or "".
func (m *Manager) PrimaryID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if m.conns[id].role == domain.RolePrimary {
			return id
		}
	}
	return ""
}

// Snapshot returns the current view of every connection in registration
// order.
func (m *Manager) Snapshot() []ConnectionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ConnectionSnapshot, 0, len(m.order))
	for _, id := range m.order {
		c := m.conns[id]
		out = append(out, ConnectionSnapshot{
			ID:       c.id,
			Role:     c.role,
			State:    c.state,
			Health:   c.health,
			Attempts: c.attempts,
		})
	}
	return out
}

// StopPublishing cancels all timers and loops and closes every session. The
// manager can start a new run afterwards. Idempotent.
func (m *Manager) StopPublishing() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	sessions := make([]domain.Session, 0, len(m.order))
	for _, id := range m.order {
		c := m.conns[id]
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		if c.session != nil {
			sessions = append(sessions, c.session)
			c.session = nil
		}
		m.setState(c, domain.StateClosed)
	}
	m.mu.Unlock()

	m.wg.Wait()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(s.Close)
	}
	err := g.Wait()

	m.log.Info("publishing stopped", "closed_sessions", len(sessions))
	return err
}

// Close stops publishing and makes the manager permanently unusable.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.StopPublishing()
}

// setState transitions c, publishing the change. Caller holds mu.
func (m *Manager) setState(c *connection, to domain.ConnectionState) {
	if c.state == to {
		return
	}
	from := c.state
	c.state = to
	metrics.ConnectionState.WithLabelValues(c.id).Set(stateValue(to))
	m.bus.Publish(events.ConnectionStateChanged{ID: c.id, From: from, To: to})
	m.log.Info("connection state",
		"connection_id", c.id,
		"from", from,
		"to", to,
	)
}

func stateValue(s domain.ConnectionState) float64 {
	switch s {
	case domain.StateNegotiating:
		return 0
	case domain.StateReady:
		return 1
	case domain.StateDegraded:
		return 2
	case domain.StateFailed:
		return 3
	default:
		return 4
	}
}
