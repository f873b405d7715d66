// Package events provides the structured domain event channel. The engine
// emits one event per significant occurrence (sync lifecycle, per-platform
// stages, auth probes); external listeners — progress UIs, telemetry sinks —
// subscribe here. Delivery is best-effort and a slow subscriber never blocks
// the orchestrator.
package events

import (
	"sync"
	"time"
)

// Type classifies a domain event.
type Type string

const (
	// Sync lifecycle
	SyncStarted   Type = "sync.started"
	SyncCompleted Type = "sync.completed"
	SyncFailed    Type = "sync.failed"
	SyncCancelled Type = "sync.cancelled"

	// Per-platform stages
	PlatformStarting        Type = "platform.starting"
	PlatformUploadingImages Type = "platform.uploading_images"
	PlatformSaving          Type = "platform.saving"
	PlatformCompleted       Type = "platform.completed"
	PlatformFailed          Type = "platform.failed"
	PlatformCancelled       Type = "platform.cancelled"

	// Auth probes
	AuthChecked Type = "auth.checked"
)

// Event is one structured occurrence.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	SyncID   string `json:"syncId,omitempty"`
	Platform string `json:"platform,omitempty"`

	// Current/Total carry image-upload progress for uploading_images events.
	Current int `json:"current,omitempty"`
	Total   int `json:"total,omitempty"`

	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handler processes events as they occur.
type Handler func(Event)

// Sink is where the engine publishes events.
type Sink interface {
	// Publish records an event and notifies subscribers.
	Publish(event Event)

	// Subscribe registers a handler. The returned function unsubscribes.
	Subscribe(handler Handler) func()

	// Recent returns the most recent n events, newest first.
	Recent(n int) []Event

	// RecentBySync returns recent events for one sync id, newest first.
	RecentBySync(syncID string, n int) []Event
}

type handlerEntry struct {
	id      int64
	handler Handler
}

// RingBuffer is a thread-safe fixed-size Sink. Old events are overwritten.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

// NewRingBuffer creates a sink holding up to size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 256
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Publish implements Sink.
func (rb *RingBuffer) Publish(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Notify outside the lock.
	for _, h := range handlers {
		h.handler(event)
	}
}

// Subscribe implements Sink.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{id: id, handler: handler})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent implements Sink.
func (rb *RingBuffer) Recent(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		result[i] = rb.events[idx]
	}
	return result
}

// RecentBySync implements Sink.
func (rb *RingBuffer) RecentBySync(syncID string, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if rb.events[idx].SyncID == syncID {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(Event)                    {}
func (NopSink) Subscribe(Handler) func()         { return func() {} }
func (NopSink) Recent(int) []Event               { return nil }
func (NopSink) RecentBySync(string, int) []Event { return nil }
