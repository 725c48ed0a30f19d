package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/promptclash/go/internal/clock"
)

// Hub fans events out to registered observers from a single loop.
type Hub struct {
	observers map[string]Observer
	mu        sync.RWMutex

	clock          clock.Clock
	broadcastCh    chan *Event
	publishTimeout time.Duration
}

// DefaultPublishTimeout bounds how long Publish waits on a full broadcast
// channel.
const DefaultPublishTimeout = 100 * time.Millisecond

// NewHub creates a hub. bufferSize bounds events waiting for the loop.
func NewHub(c clock.Clock, bufferSize int) *Hub {
	if c == nil {
		c = clock.Real()
	}
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Hub{
		observers:      make(map[string]Observer),
		clock:          c,
		broadcastCh:    make(chan *Event, bufferSize),
		publishTimeout: DefaultPublishTimeout,
	}
}

// Start processes broadcasts until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("broadcast hub started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("broadcast hub shutting down")
			h.closeAll()
			return
		case event := <-h.broadcastCh:
			h.handleBroadcast(event)
		}
	}
}

// Register adds an observer. An observer of the same kind already holding
// the id is displaced and closed, so a reconnecting client never shares its
// slot with the stale connection.
func (h *Hub) Register(o Observer) {
	key := observerKey(o.Kind(), o.ID())
	h.mu.Lock()
	displaced := h.observers[key]
	h.observers[key] = o
	total := len(h.observers)
	h.mu.Unlock()

	if displaced != nil && displaced != o {
		displaced.Close()
		log.Debug().Str("observer_id", o.ID()).Str("kind", o.Kind()).Msg("observer displaced by reconnect")
	}
	log.Debug().
		Str("observer_id", o.ID()).
		Str("kind", o.Kind()).
		Int("total_observers", total).
		Msg("observer registered")
}

// Unregister closes o and removes it if it still holds its slot. It reports
// whether o was removed; false means it was already gone or displaced.
func (h *Hub) Unregister(o Observer) bool {
	key := observerKey(o.Kind(), o.ID())
	h.mu.Lock()
	removed := h.observers[key] == o
	if removed {
		delete(h.observers, key)
	}
	h.mu.Unlock()

	o.Close()
	if removed {
		log.Debug().Str("observer_id", o.ID()).Str("kind", o.Kind()).Msg("observer unregistered")
	}
	return removed
}

// Observer returns the registered observer of kind with id.
func (h *Hub) Observer(kind, id string) (Observer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	o, ok := h.observers[observerKey(kind, id)]
	return o, ok
}

// Holds reports whether an observer other than except is registered under id.
func (h *Hub) Holds(id string, except Observer) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, o := range h.observers {
		if o != except && o.ID() == id {
			return true
		}
	}
	return false
}

func observerKey(kind, id string) string {
	return kind + "/" + id
}

// Publish enqueues an event for broadcast. If the channel stays full for
// publishTimeout the event is dropped and observers are asked to resync.
// Push observers cannot signal that, so they are closed and their clients
// reconnect to a fresh snapshot.
func (h *Hub) Publish(event *Event) {
	select {
	case h.broadcastCh <- event:
		return
	default:
	}

	timer := h.clock.NewTimer(h.publishTimeout)
	defer clock.StopAndDrain(timer)
	select {
	case h.broadcastCh <- event:
	case <-timer.Chan():
		log.Warn().Str("event_type", string(event.Type)).Msg("broadcast channel full, dropping message")
		h.requestResync()
	}
}

// Resyncer is implemented by observers that can tell their client to
// reload full state without being dropped.
type Resyncer interface {
	RequestResync()
}

func (h *Hub) requestResync() {
	h.mu.RLock()
	targets := make([]Observer, 0, len(h.observers))
	for _, o := range h.observers {
		targets = append(targets, o)
	}
	h.mu.RUnlock()

	for _, o := range targets {
		if r, ok := o.(Resyncer); ok {
			r.RequestResync()
			continue
		}
		h.Unregister(o)
	}
}

// Broadcast builds and enqueues an event.
func (h *Hub) Broadcast(eventType EventType, data any) (*Event, error) {
	event, err := NewEvent(eventType, data, h.clock.Now())
	if err != nil {
		return nil, err
	}
	h.Publish(event)
	return event, nil
}

// handleBroadcast delivers one event to a snapshot of the observers.
func (h *Hub) handleBroadcast(event *Event) {
	h.mu.RLock()
	targets := make([]Observer, 0, len(h.observers))
	for _, o := range h.observers {
		targets = append(targets, o)
	}
	h.mu.RUnlock()

	raw, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}
	frame := Frame{Event: event, Raw: raw}

	for _, o := range targets {
		if err := o.Deliver(frame); err != nil {
			log.Warn().
				Err(err).
				Str("observer_id", o.ID()).
				Str("kind", o.Kind()).
				Msg("dropping observer")
			h.Unregister(o)
		}
	}

	log.Debug().
		Str("event_type", string(event.Type)).
		Int("observers", len(targets)).
		Msg("event broadcasted")
}

// Counts returns the number of observers per kind.
func (h *Hub) Counts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := make(map[string]int)
	for _, o := range h.observers {
		counts[o.Kind()]++
	}
	return counts
}

// Len returns the number of registered observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Now returns the hub's clock time.
func (h *Hub) Now() time.Time {
	return h.clock.Now()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	observers := h.observers
	h.observers = make(map[string]Observer)
	h.mu.Unlock()
	for _, o := range observers {
		o.Close()
	}
}
