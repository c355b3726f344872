package whip

import (
	"context"
	"encoding/binary"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	"github.com/mikeisflux/streamlick-sub000/internal/logging"
	"github.com/mikeisflux/streamlick-sub000/internal/platform/retry"
)

type stubVideo struct {
	frame *image.RGBA
	seq   uint64
}

func (s *stubVideo) Frame() (*image.RGBA, uint64) { return s.frame, s.seq }

type stubAudio struct{}

func (stubAudio) ReadBlock(dst []int16) int {
	for i := range dst {
		dst[i] = 1000
	}
	return domain.BlockSamples
}

func testTracks() domain.MediaTracks {
	return domain.MediaTracks{
		Video: &stubVideo{frame: image.NewRGBA(image.Rect(0, 0, 64, 36)), seq: 1},
		Audio: stubAudio{},
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestSignaler(endpoint string) *signaler {
	return &signaler{
		endpoint: endpoint,
		timeout:  2 * time.Second,
		attempts: 3,
		backoff:  time.Millisecond,
		clock:    clockwork.NewRealClock(),
		log:      logging.WithComponent("whip"),
	}
}

func fakeOffer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\n"}
}

// signalingStub answers each websocket connection with handler's reply to
// the first message it reads.
func signalingStub(t *testing.T, handler func(offer Message) Message) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.WriteJSON(handler(msg))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSignalerExchangesOfferForAnswer(t *testing.T) {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\nanswer\r\n"}
	srv := signalingStub(t, func(offer Message) Message {
		assert.Equal(t, "offer", offer.Type)
		require.NotNil(t, offer.SDP)
		assert.Equal(t, webrtc.SDPTypeOffer, offer.SDP.Type)
		return Message{Type: "answer", SDP: &answer}
	})

	got, err := newTestSignaler(wsURL(srv)).exchange(context.Background(), fakeOffer())
	require.NoError(t, err)
	assert.Equal(t, answer.SDP, got.SDP)
	assert.Equal(t, webrtc.SDPTypeAnswer, got.Type)
}

func TestSignalerRetriesFailedDials(t *testing.T) {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}
	var calls atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "edge not ready", http.StatusInternalServerError)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.WriteJSON(Message{Type: "answer", SDP: &answer})
	}))
	t.Cleanup(srv.Close)

	got, err := newTestSignaler(wsURL(srv)).exchange(context.Background(), fakeOffer())
	require.NoError(t, err)
	assert.Equal(t, answer.SDP, got.SDP)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSignalerStopsWhenEdgeRejects(t *testing.T) {
	var calls atomic.Int32
	srv := signalingStub(t, func(Message) Message {
		calls.Add(1)
		return Message{Type: "error", Error: "no capacity"}
	})

	_, err := newTestSignaler(wsURL(srv)).exchange(context.Background(), fakeOffer())
	require.Error(t, err)
	var perm *retry.PermanentError
	require.ErrorAs(t, err, &perm)
	assert.Contains(t, err.Error(), "no capacity")
	assert.Equal(t, int32(1), calls.Load(), "rejections must not be retried")
}

func TestSignalerWaitsOutBusyEdges(t *testing.T) {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}
	var calls atomic.Int32
	srv := signalingStub(t, func(Message) Message {
		if calls.Add(1) == 1 {
			return Message{Type: "busy"}
		}
		return Message{Type: "answer", SDP: &answer}
	})

	got, err := newTestSignaler(wsURL(srv)).exchange(context.Background(), fakeOffer())
	require.NoError(t, err)
	assert.Equal(t, answer.SDP, got.SDP)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSignalerGivesUpOnGarbageReplies(t *testing.T) {
	var calls atomic.Int32
	srv := signalingStub(t, func(Message) Message {
		calls.Add(1)
		return Message{Type: "weird"}
	})

	_, err := newTestSignaler(wsURL(srv)).exchange(context.Background(), fakeOffer())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestNullVideoEncoderEmitsFrameDescriptors(t *testing.T) {
	enc := &NullVideoEncoder{}
	frame := image.NewRGBA(image.Rect(0, 0, 320, 180))

	first, err := enc.Encode(frame)
	require.NoError(t, err)
	second, err := enc.Encode(frame)
	require.NoError(t, err)

	assert.Equal(t, webrtc.MimeTypeVP8, enc.MimeType())
	assert.Equal(t, []byte("NULV"), first[0:4])
	assert.Equal(t, uint32(320), binary.LittleEndian.Uint32(first[4:8]))
	assert.Equal(t, uint32(180), binary.LittleEndian.Uint32(first[8:12]))
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(first[12:20]))
	assert.Equal(t, uint64(2), binary.LittleEndian.Uint64(second[12:20]))
}

func TestNullAudioEncoderTracksPeak(t *testing.T) {
	enc := &NullAudioEncoder{}
	block := make([]int16, domain.Channels*domain.BlockSamples)
	block[10] = -30000
	block[11] = 12000

	payload, err := enc.Encode(block)
	require.NoError(t, err)

	assert.Equal(t, webrtc.MimeTypeOpus, enc.MimeType())
	assert.Equal(t, []byte("NULA"), payload[0:4])
	assert.Equal(t, uint32(domain.BlockSamples), binary.LittleEndian.Uint32(payload[4:8]))
	assert.Equal(t, uint32(30000), binary.LittleEndian.Uint32(payload[8:12]))
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(payload[12:20]))
}

func TestMapLinkCoversEveryICEState(t *testing.T) {
	cases := map[webrtc.ICEConnectionState]domain.LinkState{
		webrtc.ICEConnectionStateNew:          domain.LinkNew,
		webrtc.ICEConnectionStateChecking:     domain.LinkChecking,
		webrtc.ICEConnectionStateConnected:    domain.LinkConnected,
		webrtc.ICEConnectionStateCompleted:    domain.LinkConnected,
		webrtc.ICEConnectionStateDisconnected: domain.LinkDisconnected,
		webrtc.ICEConnectionStateFailed:       domain.LinkFailed,
		webrtc.ICEConnectionStateClosed:       domain.LinkClosed,
	}
	for ice, want := range cases {
		assert.Equal(t, want, mapLink(ice), "state %s", ice)
	}
}

func TestFoldStatsReportSumsAndPrioritizes(t *testing.T) {
	report := webrtc.StatsReport{
		"video-out": webrtc.OutboundRTPStreamStats{BytesSent: 125_000},
		"audio-out": webrtc.OutboundRTPStreamStats{BytesSent: 25_000},
		"remote-in": webrtc.RemoteInboundRTPStreamStats{FractionLost: 0.04, RoundTripTime: 0.050},
		"pair": webrtc.ICECandidatePairStats{
			State:                webrtc.StatsICECandidatePairStateSucceeded,
			CurrentRoundTripTime: 0.010,
		},
	}
	bytesSent, loss, rtt := foldStatsReport(report)
	assert.Equal(t, uint64(150_000), bytesSent)
	assert.InDelta(t, 0.04, loss, 1e-9)
	assert.Equal(t, 50*time.Millisecond, rtt, "remote-inbound RTT wins over the candidate pair")
}

func TestFoldStatsReportFallsBackToCandidatePairRTT(t *testing.T) {
	report := webrtc.StatsReport{
		"pair": webrtc.ICECandidatePairStats{
			State:                webrtc.StatsICECandidatePairStateSucceeded,
			CurrentRoundTripTime: 0.010,
		},
	}
	_, loss, rtt := foldStatsReport(report)
	assert.Zero(t, loss)
	assert.Equal(t, 10*time.Millisecond, rtt)
}

func TestSessionLifecycleWithoutNetwork(t *testing.T) {
	tr, err := NewTransport(Config{IncludeLoopbackICE: true})
	require.NoError(t, err)

	sess, err := tr.NewSession("ws://127.0.0.1:9/signal", testTracks())
	require.NoError(t, err)
	assert.Equal(t, domain.LinkNew, sess.Link())

	// Stats work before open: an idle connection reports zeros.
	st, err := sess.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.BitrateBps)
	assert.False(t, st.SampledAt.IsZero())

	require.NoError(t, sess.SwapVideoTrack(&stubVideo{}))

	require.NoError(t, sess.Close())
	assert.Equal(t, domain.LinkClosed, sess.Link())
	require.NoError(t, sess.Close(), "close is idempotent")

	_, err = sess.Stats()
	require.Error(t, err)
	require.Error(t, sess.SwapVideoTrack(&stubVideo{}))
	require.Error(t, sess.Open(context.Background()))
}

// answeringEdge upgrades one signaling socket, terminates the offer with a
// real answering peer connection, and returns its local description.
func answeringEdge(t *testing.T) (*httptest.Server, *webrtc.PeerConnection) {
	t.Helper()

	mediaEngine := &webrtc.MediaEngine{}
	require.NoError(t, mediaEngine.RegisterDefaultCodecs())
	registry := &interceptor.Registry{}
	require.NoError(t, webrtc.RegisterDefaultInterceptors(mediaEngine, registry))
	settings := webrtc.SettingEngine{}
	settings.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	)
	answerPC, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil || msg.SDP == nil {
			return
		}
		if err := answerPC.SetRemoteDescription(*msg.SDP); err != nil {
			_ = conn.WriteJSON(Message{Type: "error", Error: err.Error()})
			return
		}
		answer, err := answerPC.CreateAnswer(nil)
		if err != nil {
			_ = conn.WriteJSON(Message{Type: "error", Error: err.Error()})
			return
		}
		gathered := webrtc.GatheringCompletePromise(answerPC)
		if err := answerPC.SetLocalDescription(answer); err != nil {
			_ = conn.WriteJSON(Message{Type: "error", Error: err.Error()})
			return
		}
		<-gathered
		_ = conn.WriteJSON(Message{Type: "answer", SDP: answerPC.LocalDescription()})
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = answerPC.Close() })
	return srv, answerPC
}

func TestOpenNegotiatesAndPumpsSamples(t *testing.T) {
	if testing.Short() {
		t.Skip("full ICE handshake over loopback")
	}

	srv, _ := answeringEdge(t)
	clk := clockwork.NewFakeClock()
	tr, err := NewTransport(Config{
		IncludeLoopbackICE: true,
		SignalBackoff:      time.Millisecond,
		Clock:              clk,
	})
	require.NoError(t, err)

	sess, err := tr.NewSession(wsURL(srv), testTracks())
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, sess.Open(ctx))
	assert.Equal(t, domain.LinkConnected, sess.Link())

	// Drive the pumps; once DTLS finishes, written samples show up as sent
	// bytes and the bitrate turns positive.
	require.Eventually(t, func() bool {
		clk.Advance(100 * time.Millisecond)
		st, err := sess.Stats()
		return err == nil && st.BitrateBps > 0
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, sess.SwapVideoTrack(&stubVideo{frame: image.NewRGBA(image.Rect(0, 0, 64, 36))}))
	require.NoError(t, sess.Close())
	assert.Equal(t, domain.LinkClosed, sess.Link())
}
