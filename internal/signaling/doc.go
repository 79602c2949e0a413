// Package signaling implements the relay's WebSocket surface: the streamer
// and viewer endpoints, the per-connection session loops, and the rules for
// forwarding session-description and ICE-candidate messages between peers.
//
// The relay brokers signaling only. Media flows peer-to-peer once the
// handshake completes; sdp and candidate payloads pass through opaquely and
// are never inspected.
package signaling
