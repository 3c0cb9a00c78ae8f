// Package events delivers license engine signals to any number of observers.
package events

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies an outward signal
type Type string

const (
	ActivationFailed    Type = "activation_failed"
	ActivationSucceeded Type = "activation_succeeded"
	NeedsAttention      Type = "needs_attention"
	FeatureDowngraded   Type = "feature_downgraded"
	LicenseChanged      Type = "license_changed"
)

// Reasons carried by NeedsAttention events
const (
	ReasonInvalid      = "invalid"
	ReasonExpired      = "expired"
	ReasonExpiringSoon = "expiring_soon"
)

// Event is a single signal published by the engine
type Event struct {
	ID      string    `json:"id"`
	Type    Type      `json:"type"`
	Time    time.Time `json:"time"`
	Message string    `json:"message,omitempty"`
	Feature string    `json:"feature,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// New creates an event with a fresh id and timestamp
func New(t Type) Event {
	return Event{
		ID:   uuid.New().String(),
		Type: t,
		Time: time.Now().UTC(),
	}
}

// Listener receives events synchronously on the publishing goroutine
type Listener func(Event)

// Bus fans events out to registered listeners and channel subscribers.
// A nil *Bus drops everything.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	logger    *slog.Logger
}

// NewBus creates an empty bus
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		listeners: make(map[int]Listener),
		logger:    logger.With("component", "events"),
	}
}

// Subscribe registers fn and returns a function that removes it
func (b *Bus) Subscribe(fn Listener) (unsubscribe func()) {
	if fn == nil {
		panic("events: nil listener")
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Channel subscribes a buffered channel. When the buffer is full new events
// for that subscriber are dropped and logged. The channel is closed by the
// returned cancel func.
func (b *Bus) Channel(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	var (
		mu     sync.Mutex
		closed bool
	)

	unsubscribe := b.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			b.logger.Warn("event subscriber buffer full, dropping event",
				slog.String("event_type", string(e.Type)),
				slog.String("event_id", e.ID))
		}
	})

	return ch, func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}

// Publish delivers e to every listener in registration order
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.mu.RLock()
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, b.listeners[id])
	}
	b.mu.RUnlock()

	b.logger.Debug("publishing event",
		slog.String("event_type", string(e.Type)),
		slog.String("event_id", e.ID),
		slog.Int("listeners", len(listeners)))

	for _, fn := range listeners {
		fn(e)
	}
}
