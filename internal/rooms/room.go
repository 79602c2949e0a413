package rooms

import "time"

// room is a single signaling session: at most one streamer connection plus a
// set of viewer connections keyed by viewer id.
//
// Rooms are owned exclusively by the Registry and are never handed out;
// callers only ever see ids and connection handles.
type room[C any] struct {
	id        string
	createdAt time.Time

	streamer    C
	hasStreamer bool

	viewers map[string]C
}

func newRoom[C any](id string, createdAt time.Time, streamer C) *room[C] {
	return &room[C]{
		id:          id,
		createdAt:   createdAt,
		streamer:    streamer,
		hasStreamer: true,
		viewers:     make(map[string]C),
	}
}

// empty reports whether the room has neither a streamer nor any viewers.
// An empty room must not remain registered.
func (r *room[C]) empty() bool {
	return !r.hasStreamer && len(r.viewers) == 0
}
