package signaling

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/p2pcast/signal-relay/internal/metrics"
	"github.com/p2pcast/signal-relay/internal/rooms"
)

// viewerSession is the control loop for one subscribing peer attached to an
// existing room. Every inbound message is forwarded to the room's streamer
// with the viewer's id attached, so the streamer can answer per-viewer.
type viewerSession struct {
	srv  *Server
	peer *Peer
	log  *slog.Logger

	roomID   string
	viewerID string
}

func (vs *viewerSession) run(roomID string) {
	att, err := vs.srv.registry.AttachViewer(roomID, vs.peer)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		// The only error a peer ever sees. No registry state was touched.
		vs.log.Info("rejecting viewer, room not found")
		vs.peer.Notify(Message{Type: typeError, Message: fmt.Sprintf("Room %s not found", roomID)})
		vs.peer.Close()
		return
	}
	if err != nil {
		vs.log.Error("failed to attach viewer", "err", err)
		vs.peer.Close()
		return
	}

	vs.roomID = roomID
	vs.viewerID = att.ViewerID
	vs.log = vs.log.With("viewer_id", att.ViewerID)
	defer vs.close()

	vs.log.Info("viewer joined", "viewers", att.ViewerCount)
	if att.HasStreamer {
		att.Streamer.Notify(Message{Type: typeViewerJoined, ViewerID: att.ViewerID})
	}

	vs.srv.receive(vs.peer, vs.log, vs.handle)
}

func (vs *viewerSession) handle(msg Message) {
	streamer, ok := vs.srv.registry.LookupStreamer(vs.roomID)
	if !ok {
		vs.srv.metrics.Inc(metrics.DropNoStreamer)
		vs.log.Debug("dropping message, no streamer in room", "type", msg.Type)
		return
	}

	out := forwardPayload(msg)
	out.ViewerID = vs.viewerID
	if err := streamer.Send(out); err != nil {
		vs.srv.metrics.Inc(metrics.ForwardSendFailed)
		vs.log.Debug("forward to streamer failed", "type", msg.Type, "err", err)
		return
	}
	vs.srv.metrics.Inc(metrics.MessagesForwarded)
}

// close detaches the viewer exactly once. DetachViewer is idempotent, so this
// is safe even when the viewer was already evicted by the streamer's own
// cleanup racing this one.
func (vs *viewerSession) close() {
	det, ok := vs.srv.registry.DetachViewer(vs.viewerID)
	vs.peer.Close()
	if !ok {
		// Already evicted; the streamer side owned the cleanup.
		return
	}
	if det.HasStreamer {
		det.Streamer.Notify(Message{Type: typeViewerLeft, ViewerID: vs.viewerID})
	}
	vs.log.Info("viewer left", "remaining", det.Remaining)
}
