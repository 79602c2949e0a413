package signaling

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/p2pcast/signal-relay/internal/metrics"
	"github.com/p2pcast/signal-relay/internal/ratelimit"
	"github.com/p2pcast/signal-relay/internal/rooms"
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	// Registry is the shared room/viewer registry. Required.
	Registry *rooms.Registry[*Peer]

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// CheckOrigin gates WebSocket upgrades. Nil accepts all origins (unit
	// tests); production wires httpserver.OriginPolicy.Allow.
	CheckOrigin func(r *http.Request) bool

	// Inbound signaling hardening.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// IdleTimeout closes connections with no inbound traffic. Client-side
	// application pings count as traffic, so live peers stay connected.
	// <= 0 disables the timeout.
	IdleTimeout time.Duration
}

// Server implements the relay's WebSocket signaling surface.
//
// Endpoints:
//   - GET /ws/streamer       : opens a new room, relays messages to viewers
//   - GET /ws/viewer?room=ID : attaches to a room, relays messages to its streamer
type Server struct {
	registry *rooms.Registry[*Peer]
	metrics  *metrics.Metrics
	log      *slog.Logger

	maxMessageBytes      int64
	maxMessagesPerSecond int
	idleTimeout          time.Duration

	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	maxBytes := cfg.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}
	maxRate := cfg.MaxMessagesPerSecond
	if maxRate <= 0 {
		maxRate = 50
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Server{
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
		log:      log,

		maxMessageBytes:      maxBytes,
		maxMessagesPerSecond: maxRate,
		idleTimeout:          cfg.IdleTimeout,

		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/streamer", s.handleStreamer)
	mux.HandleFunc("GET /ws/viewer", s.handleViewer)
}

func (s *Server) handleStreamer(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ss := &streamerSession{
		srv:  s,
		peer: newPeer(conn),
		log:  s.log.With("remote_addr", r.RemoteAddr, "role", "streamer"),
	}
	ss.run()
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	vs := &viewerSession{
		srv:  s,
		peer: newPeer(conn),
		log:  s.log.With("remote_addr", r.RemoteAddr, "role", "viewer", "room_id", roomID),
	}
	vs.run(roomID)
}

// receive drives one session's read loop: read limit, idle deadline, rate
// limit, and malformed-frame handling are identical for both roles. handle is
// invoked for each well-formed inbound message, in arrival order. Returns
// when the connection terminates.
func (s *Server) receive(peer *Peer, log *slog.Logger, handle func(Message)) {
	peer.conn.SetReadLimit(s.maxMessageBytes)
	limiter := ratelimit.NewTokenBucket(nil, int64(s.maxMessagesPerSecond), int64(s.maxMessagesPerSecond))

	for {
		if s.idleTimeout > 0 {
			_ = peer.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}

		msgType, data, err := peer.conn.ReadMessage()
		if err != nil {
			return
		}

		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.DropRateLimited)
			log.Warn("signaling rate limit exceeded, closing connection")
			peer.CloseWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if msgType != websocket.TextMessage {
			s.metrics.Inc(metrics.DropMalformedMessage)
			log.Debug("dropping non-text frame")
			continue
		}

		msg, err := parseMessage(data)
		if err != nil {
			// A malformed frame is a no-op for that message, never fatal to an
			// otherwise healthy session.
			s.metrics.Inc(metrics.DropMalformedMessage)
			log.Debug("dropping malformed message", "err", err)
			continue
		}

		handle(msg)
	}
}
