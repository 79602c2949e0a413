package signaling

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/p2pcast/signal-relay/internal/metrics"
)

// RunJanitor destroys rooms older than ttl every sweep interval, until ctx is
// cancelled. The registry keeps no expiry state itself; CreatedAt is
// informational and only this housekeeping loop acts on it.
func (s *Server) RunJanitor(ctx context.Context, ttl, every time.Duration) {
	if ttl <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired(ttl)
		}
	}
}

// sweepExpired tears down every room past its TTL, mirroring a streamer
// departure: viewers get streamer_left and are closed, then the stale
// streamer connection itself is closed. Returns the number of rooms
// destroyed.
func (s *Server) sweepExpired(ttl time.Duration) int {
	expired := s.registry.ExpiredRooms(ttl)
	for _, roomID := range expired {
		streamer, hasStreamer := s.registry.LookupStreamer(roomID)
		evicted := s.registry.DestroyRoom(roomID)
		for _, viewer := range evicted {
			viewer.Notify(Message{Type: typeStreamerLeft})
			viewer.Close()
		}
		if hasStreamer {
			streamer.CloseWith(websocket.CloseNormalClosure, "room expired")
		}
		s.metrics.Inc(metrics.RoomsExpired)
		s.log.Info("expired room destroyed", "room_id", roomID, "evicted_viewers", len(evicted))
	}
	return len(expired)
}
