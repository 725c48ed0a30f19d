package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/promptclash/go/internal/clock"
	"github.com/mcdev12/promptclash/go/internal/models"
)

// PollConfig bounds the pull fallback.
type PollConfig struct {
	// QueueSize is the number of events held per client between polls.
	QueueSize int
	// IdleTimeout drops clients that stopped polling.
	IdleTimeout time.Duration
	// SweepInterval is how often idle clients are checked.
	SweepInterval time.Duration
}

// DefaultPollConfig returns defaults for the poll transport.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		QueueSize:     100,
		IdleTimeout:   2 * time.Minute,
		SweepInterval: 30 * time.Second,
	}
}

// PollQueue is the pull observer for one client id. It never refuses a
// frame: on overflow the oldest event is dropped and the client is told to
// resync from the full state it receives with every poll.
type PollQueue struct {
	id string

	mu       sync.Mutex
	events   []*Event
	size     int
	resync   bool
	lastPoll time.Time
	closed   bool
}

func newPollQueue(id string, size int, now time.Time) *PollQueue {
	return &PollQueue{id: id, size: size, lastPoll: now}
}

func (q *PollQueue) ID() string   { return q.id }
func (q *PollQueue) Kind() string { return "poll" }

func (q *PollQueue) Deliver(f Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrObserverClosed
	}
	if len(q.events) >= q.size {
		q.events = q.events[1:]
		q.resync = true
	}
	q.events = append(q.events, f.Event)
	return nil
}

// RequestResync makes the next Drain report resync.
func (q *PollQueue) RequestResync() {
	q.mu.Lock()
	q.resync = true
	q.mu.Unlock()
}

func (q *PollQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.events = nil
	q.mu.Unlock()
}

// Drain returns queued events in delivery order and clears the queue.
func (q *PollQueue) Drain(now time.Time) ([]*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	resync := q.resync
	q.events = nil
	q.resync = false
	q.lastPoll = now
	if events == nil {
		events = []*Event{}
	}
	return events, resync
}

func (q *PollQueue) idleSince() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastPoll
}

// PollResponse is the body of GET /api/game-events.
type PollResponse struct {
	Events []*Event         `json:"events"`
	State  *models.GameView `json:"state"`
	Resync bool             `json:"resync"`
}

// PollTransport serves the pull fallback.
type PollTransport struct {
	hub    *Hub
	state  StateProvider
	clock  clock.Clock
	config PollConfig

	mu     sync.Mutex
	queues map[string]*PollQueue
}

// NewPollTransport creates the transport.
func NewPollTransport(hub *Hub, state StateProvider, c clock.Clock, config PollConfig) *PollTransport {
	if c == nil {
		c = clock.Real()
	}
	return &PollTransport{
		hub:    hub,
		state:  state,
		clock:  c,
		config: config,
		queues: make(map[string]*PollQueue),
	}
}

// Poll drains the client's queue and returns it with the current state. The
// first poll for a client id registers its queue and asks for a resync.
func (t *PollTransport) Poll(ctx context.Context, clientID string) (*PollResponse, error) {
	now := t.clock.Now()
	resp := &PollResponse{Events: []*Event{}}

	if clientID != "" {
		q, created := t.queue(clientID, now)
		events, resync := q.Drain(now)
		resp.Events = events
		resp.Resync = resync || created
	}

	if t.state != nil {
		view, err := t.state.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		resp.State = view
	}
	return resp, nil
}

func (t *PollTransport) queue(clientID string, now time.Time) (*PollQueue, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if q, ok := t.queues[clientID]; ok {
		if cur, registered := t.hub.Observer(q.Kind(), clientID); registered && cur == q {
			return q, false
		}
	}
	q := newPollQueue(clientID, t.config.QueueSize, now)
	t.queues[clientID] = q
	t.hub.Register(q)
	return q, true
}

// Sweep unregisters queues idle for longer than IdleTimeout.
func (t *PollTransport) Sweep() int {
	now := t.clock.Now()
	var expired []*PollQueue

	t.mu.Lock()
	for id, q := range t.queues {
		if now.Sub(q.idleSince()) > t.config.IdleTimeout {
			expired = append(expired, q)
			delete(t.queues, id)
		}
	}
	t.mu.Unlock()

	for _, q := range expired {
		t.hub.Unregister(q)
	}
	if len(expired) > 0 {
		log.Debug().Int("expired", len(expired)).Msg("expired idle poll clients")
	}
	return len(expired)
}

// Start sweeps idle clients until ctx is done.
func (t *PollTransport) Start(ctx context.Context) {
	ticker := t.clock.NewTicker(t.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.Sweep()
		}
	}
}

// Handle serves GET /api/game-events?clientId=.
func (t *PollTransport) Handle(w http.ResponseWriter, r *http.Request) {
	resp, err := t.Poll(r.Context(), r.URL.Query().Get("clientId"))
	if err != nil {
		log.Error().Err(err).Msg("failed to serve poll")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": ErrorBody{Code: "INTERNAL", Message: "failed to get game state"},
		})
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func mustMarshal(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return raw
}
