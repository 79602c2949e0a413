package signaling

import (
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/p2pcast/signal-relay/internal/metrics"
)

// streamerSession is the control loop for one publishing peer. Its lifetime
// is the room's lifetime: entering creates the room, leaving destroys it and
// evicts every attached viewer.
type streamerSession struct {
	srv  *Server
	peer *Peer
	log  *slog.Logger

	roomID string
}

func (ss *streamerSession) run() {
	roomID, err := ss.srv.registry.CreateRoom(ss.peer)
	if err != nil {
		ss.log.Error("failed to create room", "err", err)
		ss.peer.CloseWith(websocket.CloseInternalServerErr, "failed to create room")
		return
	}
	ss.roomID = roomID
	ss.log = ss.log.With("room_id", roomID)
	defer ss.close()

	if err := ss.peer.Send(Message{Type: typeRoomCreated, RoomID: roomID}); err != nil {
		return
	}
	ss.log.Info("room created")

	ss.srv.receive(ss.peer, ss.log, ss.handle)
}

func (ss *streamerSession) handle(msg Message) {
	// Keepalive is answered directly and never touches the registry.
	if msg.Type == typePing {
		_ = ss.peer.Send(Message{Type: typePong})
		return
	}

	if msg.ViewerID == "" {
		ss.srv.metrics.Inc(metrics.DropNoTarget)
		ss.log.Debug("dropping message with no viewer_id", "type", msg.Type)
		return
	}

	viewer, ok := ss.srv.registry.LookupViewer(msg.ViewerID)
	if !ok {
		ss.srv.metrics.Inc(metrics.DropUnknownViewer)
		ss.log.Debug("dropping message for unknown viewer", "type", msg.Type, "viewer_id", msg.ViewerID)
		return
	}

	// The forwarded leg carries type plus the opaque payload fields only; the
	// viewer_id is not echoed back to the viewer.
	if err := viewer.Send(forwardPayload(msg)); err != nil {
		ss.srv.metrics.Inc(metrics.ForwardSendFailed)
		ss.log.Debug("forward to viewer failed", "type", msg.Type, "viewer_id", msg.ViewerID, "err", err)
		return
	}
	ss.srv.metrics.Inc(metrics.MessagesForwarded)
}

// close runs the streamer's cleanup exactly once: the room is destroyed and
// every evicted viewer gets a best-effort streamer_left before its connection
// is closed. Send failures are swallowed; the viewer is gone regardless.
func (ss *streamerSession) close() {
	evicted := ss.srv.registry.DestroyRoom(ss.roomID)
	for _, viewer := range evicted {
		viewer.Notify(Message{Type: typeStreamerLeft})
		viewer.Close()
	}
	ss.peer.Close()
	ss.log.Info("room destroyed", "evicted_viewers", len(evicted))
}
