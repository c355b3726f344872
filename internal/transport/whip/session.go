package whip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/logging"
	"github.com/mikeisflux/streamlick-sub000/internal/metrics"
)

// session is one negotiated publish leg. It implements domain.Session.
type session struct {
	endpoint string
	cfg      Config
	clock    clockwork.Clock
	log      *slog.Logger
	signals  *signaler

	pc         *webrtc.PeerConnection
	videoTrack *webrtc.TrackLocalStaticSample
	audioTrack *webrtc.TrackLocalStaticSample
	videoEnc   VideoEncoder
	audioEnc   AudioEncoder

	mu        sync.RWMutex
	video     domain.VideoSource
	audio     domain.AudioSource
	link      domain.LinkState
	opened    bool
	closed    bool
	prevBytes uint64
	prevAt    time.Time
	cancel    context.CancelFunc

	connected     chan struct{}
	connectedOnce sync.Once
	failed        chan struct{}
	failedOnce    sync.Once

	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

func newSession(cfg Config, endpoint string, pc *webrtc.PeerConnection, video, audio *webrtc.TrackLocalStaticSample, tracks domain.MediaTracks) *session {
	return &session{
		endpoint:   endpoint,
		cfg:        cfg,
		clock:      cfg.Clock,
		log:        logging.WithConnection(endpoint).With("component", "whip"),
		signals: &signaler{
			endpoint: endpoint,
			timeout:  cfg.SignalTimeout,
			attempts: cfg.SignalAttempts,
			backoff:  cfg.SignalBackoff,
			clock:    cfg.Clock,
			log:      cfg.Logger,
		},
		pc:         pc,
		videoTrack: video,
		audioTrack: audio,
		video:      tracks.Video,
		audio:      tracks.Audio,
		link:       domain.LinkNew,
		connected:  make(chan struct{}),
		failed:     make(chan struct{}),
	}
}

// Open negotiates the connection: offer, gather, exchange, answer, then
// block until ICE lands. On success the media pumps start.
func (s *session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session closed")
	}
	if s.opened {
		s.mu.Unlock()
		return errors.New("session already opened")
	}
	s.opened = true
	s.mu.Unlock()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, err := s.signals.exchange(ctx, *s.pc.LocalDescription())
	if err != nil {
		return fmt.Errorf("signaling failed: %w", err)
	}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	select {
	case <-s.connected:
	case <-s.failed:
		return errors.New("ice negotiation failed")
	case <-ctx.Done():
		return ctx.Err()
	}

	s.startPumps()
	s.log.Info("publish session open", "endpoint", s.endpoint)
	return nil
}

func (s *session) onICEStateChange(state webrtc.ICEConnectionState) {
	link := mapLink(state)
	s.mu.Lock()
	if !s.closed {
		s.link = link
	}
	s.mu.Unlock()
	s.log.Debug("ice state changed", "state", state.String())

	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		s.connectedOnce.Do(func() { close(s.connected) })
	case webrtc.ICEConnectionStateFailed:
		s.failedOnce.Do(func() { close(s.failed) })
	}
}

func mapLink(state webrtc.ICEConnectionState) domain.LinkState {
	switch state {
	case webrtc.ICEConnectionStateNew:
		return domain.LinkNew
	case webrtc.ICEConnectionStateChecking:
		return domain.LinkChecking
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return domain.LinkConnected
	case webrtc.ICEConnectionStateDisconnected:
		return domain.LinkDisconnected
	case webrtc.ICEConnectionStateFailed:
		return domain.LinkFailed
	case webrtc.ICEConnectionStateClosed:
		return domain.LinkClosed
	default:
		return domain.LinkNew
	}
}

// drainRTCP keeps the sender's RTCP read path moving so the interceptors see
// receiver reports; without it remote-inbound stats never materialize.
func (s *session) drainRTCP(sender *webrtc.RTPSender) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
}

func (s *session) startPumps() {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.cancel = cancel
	s.prevAt = s.clock.Now()
	s.prevBytes = 0
	s.mu.Unlock()

	frameDur := time.Second / time.Duration(s.cfg.FrameRate)
	videoTicker := s.clock.NewTicker(frameDur)
	audioTicker := s.clock.NewTicker(domain.BlockDuration)

	s.wg.Add(2)
	go s.videoPump(ctx, videoTicker, frameDur)
	go s.audioPump(ctx, audioTicker)
}

func (s *session) videoPump(ctx context.Context, ticker clockwork.Ticker, frameDur time.Duration) {
	defer s.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.mu.RLock()
			src := s.video
			s.mu.RUnlock()
			if src == nil {
				continue
			}
			frame, _ := src.Frame()
			if frame == nil {
				continue
			}
			data, err := s.videoEnc.Encode(frame)
			if err != nil {
				metrics.WhipSampleErrorsTotal.WithLabelValues("video").Inc()
				s.log.Debug("video encode failed", "error", err)
				continue
			}
			if err := s.videoTrack.WriteSample(media.Sample{Data: data, Duration: frameDur}); err != nil {
				metrics.WhipSampleErrorsTotal.WithLabelValues("video").Inc()
				s.log.Debug("video sample write failed", "error", err)
				continue
			}
			metrics.WhipSamplesWrittenTotal.WithLabelValues("video").Inc()
		}
	}
}

func (s *session) audioPump(ctx context.Context, ticker clockwork.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()
	// The block buffer is reused across ticks; encoders must not retain it.
	block := make([]int16, domain.Channels*domain.BlockSamples)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.mu.RLock()
			src := s.audio
			s.mu.RUnlock()
			if src == nil {
				continue
			}
			n := src.ReadBlock(block)
			for i := n * domain.Channels; i < len(block); i++ {
				block[i] = 0
			}
			data, err := s.audioEnc.Encode(block)
			if err != nil {
				metrics.WhipSampleErrorsTotal.WithLabelValues("audio").Inc()
				s.log.Debug("audio encode failed", "error", err)
				continue
			}
			if err := s.audioTrack.WriteSample(media.Sample{Data: data, Duration: domain.BlockDuration}); err != nil {
				metrics.WhipSampleErrorsTotal.WithLabelValues("audio").Inc()
				s.log.Debug("audio sample write failed", "error", err)
				continue
			}
			metrics.WhipSamplesWrittenTotal.WithLabelValues("audio").Inc()
		}
	}
}

// SwapVideoTrack replaces the frame source the pump reads from. The RTP
// track and negotiation are untouched.
func (s *session) SwapVideoTrack(src domain.VideoSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	s.video = src
	return nil
}

// Stats samples the peer connection and folds the report into transport
// stats. Bitrate is the byte delta since the previous poll.
func (s *session) Stats() (domain.TransportStats, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return domain.TransportStats{}, errors.New("session closed")
	}
	s.mu.RUnlock()

	report := s.pc.GetStats()
	now := s.clock.Now()
	bytesSent, loss, rtt := foldStatsReport(report)

	s.mu.Lock()
	defer s.mu.Unlock()
	var bitrate float64
	if !s.prevAt.IsZero() {
		if dt := now.Sub(s.prevAt).Seconds(); dt > 0 && bytesSent >= s.prevBytes {
			bitrate = float64(bytesSent-s.prevBytes) * 8 / dt
		}
	}
	s.prevAt = now
	s.prevBytes = bytesSent

	return domain.TransportStats{
		BitrateBps:      bitrate,
		PacketLossRatio: loss,
		RTT:             rtt,
		SampledAt:       now,
	}, nil
}

// foldStatsReport reduces a pion stats report to the fields the health loop
// consumes: total bytes out, worst remote-reported loss, and round-trip time
// (remote-inbound first, succeeded candidate pair as fallback).
func foldStatsReport(report webrtc.StatsReport) (bytesSent uint64, loss float64, rtt time.Duration) {
	for _, stat := range report {
		switch v := stat.(type) {
		case webrtc.OutboundRTPStreamStats:
			bytesSent += v.BytesSent
		case webrtc.RemoteInboundRTPStreamStats:
			if v.FractionLost > loss {
				loss = v.FractionLost
			}
			if v.RoundTripTime > 0 {
				rtt = time.Duration(v.RoundTripTime * float64(time.Second))
			}
		case webrtc.ICECandidatePairStats:
			if rtt == 0 && v.State == webrtc.StatsICECandidatePairStateSucceeded && v.CurrentRoundTripTime > 0 {
				rtt = time.Duration(v.CurrentRoundTripTime * float64(time.Second))
			}
		}
	}
	return bytesSent, loss, rtt
}

func (s *session) Link() domain.LinkState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.link
}

// Close is idempotent: stop the pumps, close the peer connection, join the
// drains.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.closeErr = s.pc.Close()
		s.wg.Wait()
		s.mu.Lock()
		s.link = domain.LinkClosed
		s.mu.Unlock()
		s.log.Info("publish session closed", "endpoint", s.endpoint)
	})
	return s.closeErr
}
