package metrics

import "sync"

// Counter names used across the relay. Kept as plain strings so new counters
// can be added without touching this package.
const (
	RoomsCreated    = "rooms_created"
	RoomsDestroyed  = "rooms_destroyed"
	RoomsExpired    = "rooms_expired"
	ViewersAttached = "viewers_attached"
	ViewersDetached = "viewers_detached"
	RoomNotFound    = "room_not_found"

	MessagesForwarded = "messages_forwarded"

	DropUnknownViewer    = "drop_unknown_viewer"
	DropNoStreamer       = "drop_no_streamer"
	DropNoTarget         = "drop_no_target"
	DropMalformedMessage = "drop_malformed_message"
	DropRateLimited      = "drop_rate_limited"
	ForwardSendFailed    = "forward_send_failed"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A production deployment is expected to plug into a real metrics backend;
// this type keeps the relay logic testable while still exposing counters for
// scraping (see PrometheusHandler).
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
