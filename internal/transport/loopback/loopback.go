// Package loopback provides an in-memory publish transport. Sessions carry no
// media anywhere; they exist so the connection manager can be exercised in
// tests and in the local demo, with scriptable ready latency, open failures,
// link flaps, and stats.
package loopback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
)

// ErrScriptedOpen is returned by Open when a failure was injected through
// Transport.FailOpens.
var ErrScriptedOpen = errors.New("loopback: scripted open failure")

// Transport mints loopback sessions and keeps every session it ever created
// for later inspection.
type Transport struct {
	clock clockwork.Clock

	mu         sync.Mutex
	sessions   map[string][]*Session
	failOpens  map[string]int
	readyDelay map[string]time.Duration
}

// New returns a transport whose sessions open instantly and report a healthy
// connected link.
func New(clock clockwork.Clock) *Transport {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Transport{
		clock:      clock,
		sessions:   make(map[string][]*Session),
		failOpens:  make(map[string]int),
		readyDelay: make(map[string]time.Duration),
	}
}

// FailOpens makes the next n session opens toward endpoint fail.
func (t *Transport) FailOpens(endpoint string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failOpens[endpoint] = n
}

// SetReadyDelay delays future opens toward endpoint by d on the transport's
// clock.
func (t *Transport) SetReadyDelay(endpoint string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readyDelay[endpoint] = d
}

// NewSession creates a session toward endpoint. The session consumes one
// scripted open failure, if any are pending.
func (t *Transport) NewSession(endpoint string, tracks domain.MediaTracks) (domain.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &Session{
		clock:    t.clock,
		endpoint: endpoint,
		tracks:   tracks,
		link:     domain.LinkNew,
		delay:    t.readyDelay[endpoint],
		stats: domain.TransportStats{
			BitrateBps:      2_500_000,
			PacketLossRatio: 0.005,
		},
	}
	if t.failOpens[endpoint] > 0 {
		t.failOpens[endpoint]--
		s.failOpen = true
	}
	t.sessions[endpoint] = append(t.sessions[endpoint], s)
	return s, nil
}

// SessionCount reports how many sessions were minted toward endpoint.
func (t *Transport) SessionCount(endpoint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions[endpoint])
}

// Latest returns the most recently minted session toward endpoint, or nil.
func (t *Transport) Latest(endpoint string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := t.sessions[endpoint]
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// Sessions returns every session minted toward endpoint, oldest first.
func (t *Transport) Sessions(endpoint string) []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Session, len(t.sessions[endpoint]))
	copy(out, t.sessions[endpoint])
	return out
}

// Session is one loopback publish leg.
type Session struct {
	clock    clockwork.Clock
	endpoint string
	delay    time.Duration
	failOpen bool

	mu       sync.Mutex
	tracks   domain.MediaTracks
	link     domain.LinkState
	stats    domain.TransportStats
	statsErr error
	opened   bool
	closed   bool
	swapped  []domain.VideoSource
}

var _ domain.Session = (*Session)(nil)

// Open becomes ready after the scripted delay, or fails if a failure was
// injected for this session.
func (s *Session) Open(ctx context.Context) error {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.delay):
		}
	}
	if s.failOpen {
		return ErrScriptedOpen
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrClosed
	}
	s.opened = true
	s.link = domain.LinkConnected
	return nil
}

// SwapVideoTrack records the replacement source.
func (s *Session) SwapVideoTrack(src domain.VideoSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrClosed
	}
	s.tracks.Video = src
	s.swapped = append(s.swapped, src)
	return nil
}

// Stats returns the scripted sample, stamping it with the current clock time
// when the script left SampledAt unset.
func (s *Session) Stats() (domain.TransportStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statsErr != nil {
		return domain.TransportStats{}, s.statsErr
	}
	st := s.stats
	if st.SampledAt.IsZero() {
		st.SampledAt = s.clock.Now()
	}
	return st, nil
}

// Link reports the scripted link state.
func (s *Session) Link() domain.LinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Close marks the session closed. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.link = domain.LinkClosed
	return nil
}

// SetLink scripts the link state reported to pollers.
func (s *Session) SetLink(l domain.LinkState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link = l
}

// SetStats scripts the sample returned by Stats and clears any stats error.
func (s *Session) SetStats(st domain.TransportStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = st
	s.statsErr = nil
}

// FailStats makes Stats return err until SetStats is called.
func (s *Session) FailStats(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsErr = err
}

// Swapped returns every video source handed over via SwapVideoTrack.
func (s *Session) Swapped() []domain.VideoSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.VideoSource, len(s.swapped))
	copy(out, s.swapped)
	return out
}

// Tracks returns the media the session currently carries.
func (s *Session) Tracks() domain.MediaTracks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks
}

// Opened reports whether Open completed successfully.
func (s *Session) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Closed reports whether the session was closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
