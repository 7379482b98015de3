// Package events provides the in-process publish/subscribe channel the
// lifecycle manager writes domain events to. Consumers (notification
// dispatch, UI sync) subscribe independently, which keeps the core decoupled
// from delivery mechanics.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeSuggestionCreated = "suggestion.created"
	TypeStatusChanged     = "suggestion.status_changed"
	TypeUserBlocked       = "moderation.user_blocked"
	TypeReportFiled       = "moderation.report_filed"
	TypeAnomalyDetected   = "analytics.anomaly_detected"
)

// Event is one domain event. Payload carries event-specific fields; UserIDs
// names the users the event concerns so consumers can route notifications.
type Event struct {
	Type       string
	UserIDs    []uuid.UUID
	Payload    map[string]any
	OccurredAt time.Time
}

// Bus is a non-blocking fan-out bus. Publish never blocks: events for slow
// subscribers are dropped and counted rather than stalling the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Int64
	closed  bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish delivers the event to every subscriber with room in its buffer.
func (b *Bus) Publish(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with the given buffer size and returns
// its channel plus a cancel function. Cancel closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close shuts down the bus and all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Dropped returns the number of events discarded due to full subscriber
// buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
