package signaling

import (
	"encoding/json"
	"errors"
)

// Message types produced by the relay itself. Peer-chosen types (offer,
// answer, candidate, ...) are forwarded opaquely and never enumerated here.
const (
	typeRoomCreated  = "room_created"
	typePing         = "ping"
	typePong         = "pong"
	typeViewerJoined = "viewer_joined"
	typeViewerLeft   = "viewer_left"
	typeStreamerLeft = "streamer_left"
	typeError        = "error"
)

// Message is one signaling frame: a JSON object per WebSocket text message.
//
// Type is the only field the relay branches on. SDP and Candidate are opaque
// pass-through payloads: they are preserved byte-for-byte when present on an
// inbound message and omitted entirely when absent (json.RawMessage keeps the
// raw bytes; a nil value marshals to no field at all). Unknown Type values
// still round-trip their optional fields, matching the permissive forwarding
// behavior peers rely on.
type Message struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id,omitempty"`
	ViewerID string `json:"viewer_id,omitempty"`

	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// Message carries the human-readable text of error frames.
	Message string `json:"message,omitempty"`
}

var errMalformedMessage = errors.New("malformed signaling message")

// parseMessage decodes one inbound frame. Unknown extra fields are ignored
// rather than rejected; a frame that is not a JSON object (or types a known
// field wrongly) is malformed. Malformed frames are dropped by the sessions,
// never fatal to the connection.
func parseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, errMalformedMessage
	}
	return msg, nil
}

// forwardPayload extracts the relay leg of an inbound message: the type plus
// whichever opaque payload fields were present. Nothing is synthesized; an
// absent sdp stays absent.
func forwardPayload(in Message) Message {
	return Message{
		Type:      in.Type,
		SDP:       in.SDP,
		Candidate: in.Candidate,
	}
}
