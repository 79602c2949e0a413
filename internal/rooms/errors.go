package rooms

import "errors"

var (
	// ErrRoomNotFound is returned when a viewer attempts to attach to a room id
	// that is not currently registered. It is the only registry error that is
	// ever surfaced to a peer.
	ErrRoomNotFound = errors.New("room not found")
)
