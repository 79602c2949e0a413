// Package rooms implements the relay's connection registry: the mapping from
// room ids to live rooms and from viewer ids to their room and connection.
//
// The registry is the only shared mutable state in the relay. Every mutating
// operation is serialized behind a single mutex; lookups take the read lock.
// The registry never performs I/O on the connection handles it stores, so it
// has no partial-failure states from network errors. Notifying peers is
// always the caller's job, using the handles the registry returns.
package rooms

import (
	"errors"
	"sync"
	"time"

	"github.com/p2pcast/signal-relay/internal/metrics"
)

type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Registry owns all rooms and the viewer index. C is the connection handle
// type; the registry treats it as an opaque reference and never uses it as a
// map key.
type Registry[C any] struct {
	metrics *metrics.Metrics
	clock   clock

	mu          sync.RWMutex
	rooms       map[string]*room[C]
	viewerIndex map[string]viewerEntry[C]
}

type viewerEntry[C any] struct {
	roomID string
	conn   C
}

// New constructs an empty registry. m may be nil (counters become no-ops);
// clk may be nil (wall clock).
func New[C any](m *metrics.Metrics, clk clock) *Registry[C] {
	if clk == nil {
		clk = realClock{}
	}
	return &Registry[C]{
		metrics:     m,
		clock:       clk,
		rooms:       make(map[string]*room[C]),
		viewerIndex: make(map[string]viewerEntry[C]),
	}
}

// CreateRoom mints a fresh room id and registers a room with the given
// streamer connection. A streamer always gets a new room; joining an existing
// one is not possible.
//
// Id collisions are vanishingly unlikely (64 bits of crypto-random entropy)
// but retried anyway; the only real error path is a broken entropy source.
func (r *Registry[C]) CreateRoom(streamer C) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		id, err := newRoomID()
		if err != nil {
			return "", err
		}

		r.mu.Lock()
		if _, exists := r.rooms[id]; exists {
			r.mu.Unlock()
			continue
		}
		r.rooms[id] = newRoom(id, r.clock.Now(), streamer)
		r.mu.Unlock()

		r.metrics.Inc(metrics.RoomsCreated)
		return id, nil
	}
	return "", errors.New("failed to allocate unique room id")
}

// Attachment describes a successful viewer attach. Streamer is only valid
// when HasStreamer is true; the caller uses it to send the viewer_joined
// notification.
type Attachment[C any] struct {
	ViewerID    string
	Streamer    C
	HasStreamer bool
	ViewerCount int
}

// AttachViewer adds a viewer connection to an existing room and records it in
// the viewer index. Returns ErrRoomNotFound, with no mutation, when the room
// id is unknown.
func (r *Registry[C]) AttachViewer(roomID string, viewer C) (Attachment[C], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		r.metrics.Inc(metrics.RoomNotFound)
		return Attachment[C]{}, ErrRoomNotFound
	}

	viewerID := newViewerID()
	rm.viewers[viewerID] = viewer
	r.viewerIndex[viewerID] = viewerEntry[C]{roomID: roomID, conn: viewer}

	r.metrics.Inc(metrics.ViewersAttached)
	return Attachment[C]{
		ViewerID:    viewerID,
		Streamer:    rm.streamer,
		HasStreamer: rm.hasStreamer,
		ViewerCount: len(rm.viewers),
	}, nil
}

// Detachment describes the room state after a viewer detach. Streamer is the
// room's remaining streamer (valid when HasStreamer is true) so the caller
// can send the viewer_left notification.
type Detachment[C any] struct {
	RoomID      string
	Streamer    C
	HasStreamer bool
	Remaining   int
	RoomDeleted bool
}

// DetachViewer removes the viewer from its room and from the viewer index.
// It is idempotent: detaching an unknown (or already-detached) viewer id is a
// no-op returning ok=false. A room left with no streamer and no viewers is
// deleted.
func (r *Registry[C]) DetachViewer(viewerID string) (Detachment[C], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.viewerIndex[viewerID]
	if !ok {
		return Detachment[C]{}, false
	}
	delete(r.viewerIndex, viewerID)

	det := Detachment[C]{RoomID: entry.roomID}
	rm, ok := r.rooms[entry.roomID]
	if !ok {
		// Index entry outlived its room; nothing left to clean up.
		return det, true
	}

	delete(rm.viewers, viewerID)
	det.Streamer = rm.streamer
	det.HasStreamer = rm.hasStreamer
	det.Remaining = len(rm.viewers)

	if rm.empty() {
		delete(r.rooms, entry.roomID)
		det.RoomDeleted = true
		r.metrics.Inc(metrics.RoomsDestroyed)
	}

	r.metrics.Inc(metrics.ViewersDetached)
	return det, true
}

// DestroyRoom removes the room and every viewer index entry that pointed into
// it, returning the viewer connections that were present so the caller can
// notify and close them. Destroying an unknown room id is a no-op.
func (r *Registry[C]) DestroyRoom(roomID string) []C {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	delete(r.rooms, roomID)

	evicted := make([]C, 0, len(rm.viewers))
	for viewerID, conn := range rm.viewers {
		delete(r.viewerIndex, viewerID)
		evicted = append(evicted, conn)
	}

	r.metrics.Inc(metrics.RoomsDestroyed)
	return evicted
}

// LookupStreamer returns the streamer connection of a room, if the room
// exists and currently has one.
func (r *Registry[C]) LookupStreamer(roomID string) (C, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok || !rm.hasStreamer {
		var zero C
		return zero, false
	}
	return rm.streamer, true
}

// LookupViewer resolves a viewer id to its connection.
func (r *Registry[C]) LookupViewer(viewerID string) (C, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.viewerIndex[viewerID]
	if !ok {
		var zero C
		return zero, false
	}
	return entry.conn, true
}

// ExpiredRooms returns the ids of rooms created more than maxAge ago. The
// janitor destroys them via DestroyRoom; the registry itself has no expiry
// logic.
func (r *Registry[C]) ExpiredRooms(maxAge time.Duration) []string {
	cutoff := r.clock.Now().Add(-maxAge)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []string
	for id, rm := range r.rooms {
		if rm.createdAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	return expired
}

// Len returns the number of currently registered rooms.
func (r *Registry[C]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
