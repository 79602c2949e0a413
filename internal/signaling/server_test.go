package signaling_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/p2pcast/signal-relay/internal/metrics"
	"github.com/p2pcast/signal-relay/internal/rooms"
	"github.com/p2pcast/signal-relay/internal/signaling"
)

const testWait = 2 * time.Second

type testRelay struct {
	ts  *httptest.Server
	srv *signaling.Server
	reg *rooms.Registry[*signaling.Peer]
	met *metrics.Metrics
}

func newTestRelay(t *testing.T, cfg signaling.Config) *testRelay {
	t.Helper()

	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Registry == nil {
		cfg.Registry = rooms.New[*signaling.Peer](cfg.Metrics, nil)
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := signaling.NewServer(cfg)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &testRelay{ts: ts, srv: srv, reg: cfg.Registry, met: cfg.Metrics}
}

func (tr *testRelay) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(tr.ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// dialStreamer connects a streamer and consumes the room_created message.
func (tr *testRelay) dialStreamer(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	conn := tr.dial(t, "/ws/streamer")
	msg := readMsg(t, conn)
	if msg.Type != "room_created" {
		t.Fatalf("first streamer message: %+v, want room_created", msg)
	}
	if msg.RoomID == "" {
		t.Fatal("room_created carried an empty room_id")
	}
	return conn, msg.RoomID
}

func readMsg(t *testing.T, conn *websocket.Conn) signaling.Message {
	t.Helper()
	var msg signaling.Message
	if err := json.Unmarshal(readFrame(t, conn), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

// readRaw decodes a frame into its raw JSON fields, for tests that assert on
// the exact wire shape.
func readRaw(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(readFrame(t, conn), &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return fields
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(testWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

func sendText(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// expectClosed reads until the connection errors out, draining any
// still-buffered messages.
func expectClosed(t *testing.T, conn *websocket.Conn) error {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(testWait))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func waitFor(t *testing.T, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestStreamerGetsRoomCreated(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{})

	_, roomID := tr.dialStreamer(t)

	if tr.reg.Len() != 1 {
		t.Errorf("rooms=%d, want 1", tr.reg.Len())
	}
	if _, ok := tr.reg.LookupStreamer(roomID); !ok {
		t.Errorf("LookupStreamer(%q) failed after room_created", roomID)
	}
	if got := tr.met.Get(metrics.RoomsCreated); got != 1 {
		t.Errorf("rooms_created=%d, want 1", got)
	}
}

func TestViewerJoinNotifiesStreamer(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{})

	streamer, roomID := tr.dialStreamer(t)
	tr.dial(t, "/ws/viewer?room="+roomID)

	joined := readMsg(t, streamer)
	if joined.Type != "viewer_joined" {
		t.Fatalf("streamer got %+v, want viewer_joined", joined)
	}
	if joined.ViewerID == "" {
		t.Fatal("viewer_joined carried an empty viewer_id")
	}
	if _, ok := tr.reg.LookupViewer(joined.ViewerID); !ok {
		t.Errorf("LookupViewer(%q) failed after viewer_joined", joined.ViewerID)
	}
}

func TestOfferForwardedWithoutViewerIDEcho(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{})

	streamer, roomID := tr.dialStreamer(t)
	viewer := tr.dial(t, "/ws/viewer?room="+roomID)
	joined := readMsg(t, streamer)

	sendText(t, streamer, `{"type":"offer","viewer_id":"`+joined.ViewerID+`","sdp":{"type":"offer","sdp":"v=0\r\n"}}`)

	fields := readRaw(t, viewer)
	if string(fields["type"]) != `"offer"` {
		t.Fatalf("type=%s", fields["type"])
	}
	if string(fields["sdp"]) != `{"type":"offer","sdp":"v=0\r\n"}` {
		t.Errorf("sdp not forwarded verbatim: %s", fields["sdp"])
	}
	if _, ok := fields["viewer_id"]; ok {
		t.Error("offer forwarded to viewer still carries viewer_id")
	}
	if _, ok := fields["candidate"]; ok {
		t.Error("offer forwarded to viewer grew a candidate field")
	}
}

func TestAnswerForwardedWithViewerIDAdded(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{})

	streamer, roomID := tr.dialStreamer(t)
	viewer := tr.dial(t, "/ws/viewer?room="+roomID)
	joined := readMsg(t, streamer)

	sendText(t, viewer, `{"type":"answer","sdp":{"type":"answer","sdp":"v=0\r\n"}}`)

	answer := readMsg(t, streamer)
	if answer.Type != "answer" {
		t.Fatalf("streamer got %+v, want answer", answer)
	}
	if answer.ViewerID != joined.ViewerID {
		t.Errorf("viewer_id=%q, want %q", answer.ViewerID, joined.ViewerID)
	}
	if string(answer.SDP) != `{"type":"answer","sdp":"v=0\r\n"}` {
		t.Errorf("sdp not forwarded verbatim: %s", answer.SDP)
	}
}

func TestCandidateRelayedBothDirections(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{})

	streamer, roomID := tr.dialStreamer(t)
	viewer := tr.dial(t, "/ws/viewer?room="+roomID)
	joined := readMsg(t, streamer)

	sendText(t, viewer, `{"type":"candidate","candidate":{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}}`)
	up := readMsg(t, streamer)
	if up.Type != "candidate" || up.ViewerID != joined.ViewerID {
		t.Fatalf("streamer got %+v", up)
	}
	if string(up.Candidate) != `{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}` {
		t.Errorf("candidate not forwarded verbatim: %s", up.Candidate)
	}

	sendText(t, streamer, `{"type":"candidate","viewer_id":"`+joined.ViewerID+`","candidate":{"candidate":"candidate:2"}}`)
	down := readRaw(t, viewer)
	if string(down["candidate"]) != `{"candidate":"candidate:2"}` {
		t.Errorf("candidate not forwarded verbatim: %s", down["candidate"])
	}
	if got := tr.met.Get(metrics.MessagesForwarded); got != 2 {
		t.Errorf("messages_forwarded=%d, want 2", got)
	}
}

func TestViewerRejectedWhenRoomUnknown(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{})

	viewer := tr.dial(t, "/ws/viewer?room=nosuchroom")

	msg := readMsg(t, viewer)
	if msg.Type != "error" {
		t.Fatalf("viewer got %+v, want error", msg)
	}
	if msg.Message != "Room nosuchroom not found" {
		t.Errorf("message=%q", msg.Message)
	}
	if err := expectClosed(t, viewer); err == nil {
		t.Error("connection stayed open after rejection")
	}
	if tr.reg.Len() != 0 {
		t.Errorf("rooms=%d after rejected attach, want 0", tr.reg.Len())
	}
	if got := tr.met.Get(metrics.RoomNotFound); got != 1 {
		t.Errorf("room_not_found=%d, want 1", got)
	}
}

func TestStreamerDisconnectEvictsAllViewers(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{})

	streamer, roomID := tr.dialStreamer(t)
	v1 := tr.dial(t, "/ws/viewer?room="+roomID)
	j1 := readMsg(t, streamer)
	v2 := tr.dial(t, "/ws/viewer?room="+roomID)
	readMsg(t, streamer)

	streamer.Close()

	for _, viewer := range []*websocket.Conn{v1, v2} {
		left := readMsg(t, viewer)
		if left.Type != "streamer_left" {
			t.Fatalf("viewer got %+v, want streamer_left", left)
		}
		if err := expectClosed(t, viewer); err == nil {
			t.Error("viewer connection stayed open after streamer_left")
		}
	}

	waitFor(t, func() bool { return tr.reg.Len() == 0 }, "room teardown")
	if _, ok := tr.reg.LookupViewer(j1.ViewerID); ok {
		t.Error("viewer still resolvable after room teardown")
	}
	if got := tr.met.Get(metrics.RoomsDestroyed); got != 1 {
		t.Errorf("rooms_destroyed=%d, want 1", got)
	}
}

func TestViewerDisconnectNotifiesStreamer(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{})

	streamer, roomID := tr.dialStreamer(t)
	viewer := tr.dial(t, "/ws/viewer?room="+roomID)
	joined := readMsg(t, streamer)

	viewer.Close()

	left := readMsg(t, streamer)
	if left.Type != "viewer_left" {
		t.Fatalf("streamer got %+v, want viewer_left", left)
	}
	if left.ViewerID != joined.ViewerID {
		t.Errorf("viewer_id=%q, want %q", left.ViewerID, joined.ViewerID)
	}

	// The room outlives its viewers.
	waitFor(t, func() bool {
		_, ok := tr.reg.LookupViewer(joined.ViewerID)
		return !ok
	}, "viewer detach")
	if tr.reg.Len() != 1 {
		t.Errorf("rooms=%d, want 1", tr.reg.Len())
	}
}

func TestPingPong(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{})

	streamer, _ := tr.dialStreamer(t)
	sendText(t, streamer, `{"type":"ping"}`)

	pong := readMsg(t, streamer)
	if pong.Type != "pong" {
		t.Fatalf("got %+v, want pong", pong)
	}
}

func TestMalformedMessageDoesNotKillSession(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{})

	streamer, _ := tr.dialStreamer(t)
	sendText(t, streamer, `{not json`)
	if err := streamer.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	sendText(t, streamer, `{"type":"ping"}`)
	pong := readMsg(t, streamer)
	if pong.Type != "pong" {
		t.Fatalf("session dead after malformed frames: got %+v", pong)
	}
	if got := tr.met.Get(metrics.DropMalformedMessage); got != 2 {
		t.Errorf("drop_malformed_message=%d, want 2", got)
	}
}

func TestForwardToUnknownViewerDropped(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{})

	streamer, _ := tr.dialStreamer(t)
	sendText(t, streamer, `{"type":"offer","viewer_id":"ghost","sdp":"x"}`)

	sendText(t, streamer, `{"type":"ping"}`)
	pong := readMsg(t, streamer)
	if pong.Type != "pong" {
		t.Fatalf("session dead after unknown-viewer forward: got %+v", pong)
	}
	if got := tr.met.Get(metrics.DropUnknownViewer); got != 1 {
		t.Errorf("drop_unknown_viewer=%d, want 1", got)
	}
}

func TestViewerMessageWithoutStreamerDropped(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{})

	streamer, roomID := tr.dialStreamer(t)
	viewer := tr.dial(t, "/ws/viewer?room="+roomID)
	readMsg(t, streamer)

	streamer.Close()
	left := readMsg(t, viewer)
	if left.Type != "streamer_left" {
		t.Fatalf("viewer got %+v, want streamer_left", left)
	}
	// The viewer's connection is being torn down as well; any message it
	// manages to race in must be dropped, not crash anything.
	_ = viewer.WriteMessage(websocket.TextMessage, []byte(`{"type":"answer","sdp":"x"}`))
	waitFor(t, func() bool { return tr.reg.Len() == 0 }, "room teardown")
}

func TestRateLimitClosesConnection(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{MaxMessagesPerSecond: 5})

	streamer, _ := tr.dialStreamer(t)
	for i := 0; i < 20; i++ {
		if err := streamer.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
			break
		}
	}

	err := expectClosed(t, streamer)
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("close error = %v, want policy violation", err)
	}
	if got := tr.met.Get(metrics.DropRateLimited); got != 1 {
		t.Errorf("drop_rate_limited=%d, want 1", got)
	}
}

func TestJanitorDestroysExpiredRooms(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{})

	streamer, roomID := tr.dialStreamer(t)
	viewer := tr.dial(t, "/ws/viewer?room="+roomID)
	readMsg(t, streamer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.srv.RunJanitor(ctx, time.Millisecond, 5*time.Millisecond)

	left := readMsg(t, viewer)
	if left.Type != "streamer_left" {
		t.Fatalf("viewer got %+v, want streamer_left", left)
	}
	if err := expectClosed(t, streamer); err == nil {
		t.Error("streamer connection stayed open after expiry")
	}
	waitFor(t, func() bool { return tr.reg.Len() == 0 }, "expired room teardown")
	waitFor(t, func() bool { return tr.met.Get(metrics.RoomsExpired) >= 1 }, "rooms_expired counter")
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	tr := newTestRelay(t, signaling.Config{IdleTimeout: 50 * time.Millisecond})

	streamer, _ := tr.dialStreamer(t)
	if err := expectClosed(t, streamer); err == nil {
		t.Fatal("idle connection stayed open")
	}
}
