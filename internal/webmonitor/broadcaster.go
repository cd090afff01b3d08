// Package webmonitor serves the embedded HTTP monitor: annotated MJPEG
// stream, summary SSE feed, single-frame snapshot and the health and
// metrics endpoints.
package webmonitor

import (
	"log/slog"
	"sync"
)

// FrameBroadcaster fans annotated JPEG frames out to stream clients.
// Slow clients skip frames, they are never allowed to block the
// pipeline.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	latest  []byte
	closed  bool
}

// NewFrameBroadcaster creates an empty broadcaster.
func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{clients: make(map[int]chan []byte)}
}

// Subscribe adds a client and returns a channel for receiving frames.
// The most recent frame, if any, is delivered immediately.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	ch := make(chan []byte, 2) // buffer 2 frames to avoid blocking
	if fb.closed {
		close(ch)
		return -1, ch
	}

	id := fb.nextID
	fb.nextID++
	fb.clients[id] = ch

	if fb.latest != nil {
		ch <- fb.latest
	}

	slog.Debug("stream client subscribed", "client", id, "total", len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		slog.Debug("stream client unsubscribed", "client", id, "remaining", len(fb.clients))
	}
}

// Publish stores data as the latest frame and fans it out. Clients whose
// buffer is full skip this frame.
func (fb *FrameBroadcaster) Publish(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.closed {
		return
	}
	fb.latest = data

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// client too slow, skip this frame for this client
		}
	}
}

// Latest returns the most recently published frame.
func (fb *FrameBroadcaster) Latest() ([]byte, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.latest, fb.latest != nil
}

// ClientCount returns the number of connected clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Close disconnects every client. Publish becomes a no-op.
func (fb *FrameBroadcaster) Close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.closed {
		return
	}
	fb.closed = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
}

// EventBroadcaster fans serialized summary events out to SSE clients.
type EventBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	latest  []byte
	closed  bool
}

// NewEventBroadcaster creates an empty broadcaster.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{clients: make(map[int]chan []byte)}
}

// Subscribe adds a client and returns a channel for receiving events.
// The most recent event, if any, is delivered immediately so new clients
// see the current state without waiting for the next result.
func (eb *EventBroadcaster) Subscribe() (int, <-chan []byte) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan []byte, 2)
	if eb.closed {
		close(ch)
		return -1, ch
	}

	id := eb.nextID
	eb.nextID++
	eb.clients[id] = ch

	if eb.latest != nil {
		ch <- eb.latest
	}

	slog.Debug("event client subscribed", "client", id, "total", len(eb.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (eb *EventBroadcaster) Unsubscribe(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if ch, ok := eb.clients[id]; ok {
		close(ch)
		delete(eb.clients, id)
		slog.Debug("event client unsubscribed", "client", id, "remaining", len(eb.clients))
	}
}

// Publish stores data as the latest event and fans it out.
func (eb *EventBroadcaster) Publish(data []byte) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.latest = data

	for _, ch := range eb.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (eb *EventBroadcaster) ClientCount() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.clients)
}

// Close disconnects every client. Publish becomes a no-op.
func (eb *EventBroadcaster) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	for id, ch := range eb.clients {
		close(ch)
		delete(eb.clients, id)
	}
}
