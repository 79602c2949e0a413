package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 1 * time.Second

// Peer wraps one upgraded WebSocket connection. It serializes writes (session
// loops and other peers' sessions send to the same connection concurrently)
// and makes Close idempotent, so a viewer's own disconnect cleanup can race a
// streamer-side eviction without either path failing.
//
// The registry stores Peers as opaque handles and never calls into them.
type Peer struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn) *Peer {
	return &Peer{conn: conn}
}

// Send marshals msg and writes it as one text frame. Fails once the peer has
// disconnected or the connection is closing.
func (p *Peer) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Notify is Send with the result discarded. Cleanup paths use it for
// best-effort notifications (viewer_left, streamer_left) where failure is
// expected and non-fatal: the target may already be gone.
func (p *Peer) Notify(msg Message) {
	_ = p.Send(msg)
}

// CloseWith writes a close control frame before tearing the connection down,
// so well-behaved clients see the code and reason.
func (p *Peer) CloseWith(code int, reason string) {
	p.writeMu.Lock()
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	p.writeMu.Unlock()
	p.Close()
}

// Close tears the connection down. Safe to call from multiple goroutines and
// multiple times; any blocked read in the session loop returns with an error.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		_ = p.conn.Close()
	})
}
