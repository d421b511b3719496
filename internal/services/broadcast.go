package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vanpelt/claude-blocker/internal/logger"
)

// EventType names what an Event carries
type EventType string

const (
	StateEvent            EventType = "state"
	BackfillProgressEvent EventType = "backfill:progress"
	HeartbeatEvent        EventType = "heartbeat"
)

// Event is a single broadcast notification
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	ID        string    `json:"-"`
	Timestamp time.Time `json:"-"`
}

// NewEvent stamps a fresh event
func NewEvent(t EventType, payload any) Event {
	return Event{Type: t, Payload: payload, ID: uuid.New().String(), Timestamp: time.Now()}
}

// Broadcaster fans events out to subscribers. Publishing never blocks: a subscriber whose
// buffer is full loses its oldest queued event.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]chan Event
	last    map[EventType]Event
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan Event),
		last:    make(map[EventType]Event),
	}
}

// Subscribe registers a subscriber with the given buffer size. The returned cancel func
// unregisters it and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (string, <-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	id := uuid.New().String()
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.clients[id] = ch
	b.mu.Unlock()
	logger.Debugf("📡 Added event subscriber %s", id)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.clients[id]; ok {
				close(c)
				delete(b.clients, id)
			}
			b.mu.Unlock()
			logger.Debugf("📡 Removed event subscriber %s", id)
		})
	}
	return id, ch, cancel
}

// Publish delivers ev to every subscriber and remembers it as the latest of its type
func (b *Broadcaster) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	// the write lock keeps the drop-oldest dance atomic per channel
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last[ev.Type] = ev
	for id, ch := range b.clients {
		select {
		case ch <- ev:
			continue
		default:
		}

		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
			logger.Debugf("📡 Dropped %s event for slow subscriber %s", ev.Type, id)
		}
	}
}

// Last returns the most recent event of type t
func (b *Broadcaster) Last(t EventType) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev, ok := b.last[t]
	return ev, ok
}

// Subscribers returns the number of registered subscribers
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
