package whip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pion/webrtc/v4"

	"github.com/mikeisflux/streamlick-sub000/internal/metrics"
	"github.com/mikeisflux/streamlick-sub000/internal/platform/retry"
)

// Message is the signaling envelope exchanged with the edge over one
// websocket round-trip. The studio sends "offer"; the edge answers with
// "answer", "busy" (try again later), or "error" (give up).
type Message struct {
	Type  string                     `json:"type"`
	SDP   *webrtc.SessionDescription `json:"sdp,omitempty"`
	Error string                     `json:"error,omitempty"`
}

// edgeRejection is an "error" reply from the edge: retrying the same offer
// will not help.
type edgeRejection struct {
	reason string
}

func (e *edgeRejection) Error() string {
	return "edge rejected offer: " + e.reason
}

// errEdgeBusy marks a "busy" reply; the exchange backs off longer before the
// next attempt.
var errEdgeBusy = errors.New("edge busy")

// signaler performs the offer/answer exchange against one endpoint. Each
// attempt is a fresh dial: edges treat a signaling socket as scoped to one
// negotiation.
type signaler struct {
	endpoint string
	timeout  time.Duration
	attempts int
	backoff  time.Duration
	clock    clockwork.Clock
	log      *slog.Logger
}

func (s *signaler) exchange(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	policy := retry.Policy{
		MaxAttempts:      s.attempts,
		InitialBackoff:   s.backoff,
		RateLimitBackoff: 4 * s.backoff,
		Clock:            s.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			s.log.Warn("signaling exchange failed, retrying",
				"endpoint", s.endpoint, "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	return retry.Do(ctx, policy, classifySignalErr, func() (webrtc.SessionDescription, error) {
		return s.roundTrip(ctx, offer)
	})
}

func classifySignalErr(err error) retry.Action {
	var rejected *edgeRejection
	if errors.As(err, &rejected) {
		return retry.Stop
	}
	if errors.Is(err, errEdgeBusy) {
		return retry.After
	}
	return retry.Retry
}

func (s *signaler) roundTrip(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	var zero webrtc.SessionDescription

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		metrics.WhipSignalRoundTripsTotal.WithLabelValues("dial_error").Inc()
		return zero, fmt.Errorf("failed to dial signaling endpoint: %w", err)
	}
	defer conn.Close()

	// Websocket deadlines are socket I/O deadlines and stay on the wall
	// clock even when the retry pacing runs on a fake one.
	deadline := time.Now().Add(s.timeout)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	if err := conn.WriteJSON(Message{Type: "offer", SDP: &offer}); err != nil {
		metrics.WhipSignalRoundTripsTotal.WithLabelValues("write_error").Inc()
		return zero, fmt.Errorf("failed to send offer: %w", err)
	}

	var reply Message
	if err := conn.ReadJSON(&reply); err != nil {
		metrics.WhipSignalRoundTripsTotal.WithLabelValues("read_error").Inc()
		return zero, fmt.Errorf("failed to read signaling reply: %w", err)
	}

	switch reply.Type {
	case "answer":
		if reply.SDP == nil {
			metrics.WhipSignalRoundTripsTotal.WithLabelValues("bad_reply").Inc()
			return zero, errors.New("answer reply carried no SDP")
		}
		metrics.WhipSignalRoundTripsTotal.WithLabelValues("answer").Inc()
		return *reply.SDP, nil
	case "busy":
		metrics.WhipSignalRoundTripsTotal.WithLabelValues("busy").Inc()
		return zero, errEdgeBusy
	case "error":
		metrics.WhipSignalRoundTripsTotal.WithLabelValues("rejected").Inc()
		return zero, &edgeRejection{reason: reply.Error}
	default:
		metrics.WhipSignalRoundTripsTotal.WithLabelValues("bad_reply").Inc()
		return zero, fmt.Errorf("unexpected signaling reply type %q", reply.Type)
	}
}
