// Package whip publishes the studio program over WebRTC. A session owns one
// pion PeerConnection with a sendonly video and audio track, negotiated
// through a single offer/answer exchange on a websocket signaling endpoint.
// Frames and PCM blocks are pulled from the studio sources on a clock-driven
// pump and written as encoded samples; swapping the video source never
// renegotiates.
package whip

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/logging"
)

// Config carries the transport-wide knobs; sessions inherit them.
type Config struct {
	// ICEServers lists STUN/TURN URLs. Empty gathers host candidates only.
	ICEServers []string
	// IncludeLoopbackICE admits loopback host candidates, needed when the
	// edge runs on the same host (demos, tests).
	IncludeLoopbackICE bool
	// SignalTimeout bounds one offer/answer websocket round-trip.
	SignalTimeout time.Duration
	// SignalAttempts and SignalBackoff shape the exchange retry policy.
	SignalAttempts int
	SignalBackoff  time.Duration
	// FrameRate is the video sampling rate in frames per second.
	FrameRate int

	// NewVideoEncoder and NewAudioEncoder mint per-session encoders;
	// encoders hold stream state and are never shared between sessions.
	NewVideoEncoder func() VideoEncoder
	NewAudioEncoder func() AudioEncoder

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// DefaultConfig returns the production defaults. Encoder factories default
// to the null encoders; real deployments replace them.
func DefaultConfig() Config {
	return Config{
		SignalTimeout:  10 * time.Second,
		SignalAttempts: 3,
		SignalBackoff:  500 * time.Millisecond,
		FrameRate:      30,
	}
}

// Transport mints WHIP publish sessions. It satisfies domain.Transport.
type Transport struct {
	api *webrtc.API
	cfg Config
	log *slog.Logger
}

// NewTransport builds the shared pion API (codecs, interceptors, ICE
// settings) once; sessions are cheap after that.
func NewTransport(cfg Config) (*Transport, error) {
	def := DefaultConfig()
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = def.SignalTimeout
	}
	if cfg.SignalAttempts <= 0 {
		cfg.SignalAttempts = def.SignalAttempts
	}
	if cfg.SignalBackoff <= 0 {
		cfg.SignalBackoff = def.SignalBackoff
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = def.FrameRate
	}
	if cfg.NewVideoEncoder == nil {
		cfg.NewVideoEncoder = func() VideoEncoder { return &NullVideoEncoder{} }
	}
	if cfg.NewAudioEncoder == nil {
		cfg.NewAudioEncoder = func() AudioEncoder { return &NullAudioEncoder{} }
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.WithComponent("whip")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}
	settings := webrtc.SettingEngine{}
	if cfg.IncludeLoopbackICE {
		settings.SetIncludeLoopbackCandidate(true)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	)
	return &Transport{api: api, cfg: cfg, log: cfg.Logger}, nil
}

// NewSession builds the peer connection and its outgoing tracks for one
// endpoint. No network talking happens until Open.
func (t *Transport) NewSession(endpoint string, tracks domain.MediaTracks) (domain.Session, error) {
	var iceServers []webrtc.ICEServer
	if len(t.cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: t.cfg.ICEServers}}
	}
	pc, err := t.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	videoEnc := t.cfg.NewVideoEncoder()
	audioEnc := t.cfg.NewAudioEncoder()

	streamID := uuid.NewString()
	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: videoEnc.MimeType()}, "video", streamID)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}
	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: audioEnc.MimeType()}, "audio", streamID)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	s := newSession(t.cfg, endpoint, pc, videoTrack, audioTrack, tracks)
	s.videoEnc = videoEnc
	s.audioEnc = audioEnc
	t.log.Debug("session minted", "endpoint", endpoint, "stream_id", streamID)

	for _, track := range []webrtc.TrackLocal{videoTrack, audioTrack} {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to add track: %w", err)
		}
		s.drainRTCP(sender)
	}

	pc.OnICEConnectionStateChange(s.onICEStateChange)
	return s, nil
}
