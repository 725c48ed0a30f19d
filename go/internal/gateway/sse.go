package gateway

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/promptclash/go/internal/clock"
	"github.com/mcdev12/promptclash/go/internal/identity"
)

// DefaultKeepAlive is how often an idle stream gets a comment line.
const DefaultKeepAlive = 30 * time.Second

// SSETransport streams broadcasts as server-sent events.
type SSETransport struct {
	hub        *Hub
	state      StateProvider
	clock      clock.Clock
	keepAlive  time.Duration
	bufferSize int
}

// NewSSETransport creates the transport.
func NewSSETransport(hub *Hub, state StateProvider, c clock.Clock, keepAlive time.Duration) *SSETransport {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	if c == nil {
		c = clock.Real()
	}
	return &SSETransport{hub: hub, state: state, clock: c, keepAlive: keepAlive, bufferSize: 256}
}

type sseObserver struct {
	id        string
	frames    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (o *sseObserver) ID() string   { return o.id }
func (o *sseObserver) Kind() string { return "sse" }

func (o *sseObserver) Deliver(f Frame) error {
	select {
	case <-o.done:
		return ErrObserverClosed
	default:
	}
	select {
	case o.frames <- f:
		return nil
	default:
		return ErrObserverSlow
	}
}

func (o *sseObserver) Close() {
	o.closeOnce.Do(func() { close(o.done) })
}

// Handle serves GET /api/game-stream until the client goes away.
func (t *SSETransport) Handle(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	o := &sseObserver{
		id:     identity.NewConnectionID(),
		frames: make(chan Frame, t.bufferSize),
		done:   make(chan struct{}),
	}

	fmt.Fprintf(w, "event: %s\ndata: {\"connectionId\":%q}\n\n", EventTypeConnected, o.id)
	if t.state != nil {
		if view, err := t.state.Snapshot(r.Context()); err != nil {
			log.Error().Err(err).Msg("failed to load snapshot for stream")
		} else if ev, err := NewEvent(EventTypeStateUpdate, view, t.clock.Now()); err == nil {
			writeSSE(w, ev.Type, mustMarshal(ev))
		}
	}
	flusher.Flush()

	t.hub.Register(o)
	defer t.hub.Unregister(o)

	keepAlive := t.clock.NewTicker(t.keepAlive)
	defer keepAlive.Stop()

	log.Info().Str("connection_id", o.id).Msg("event stream opened")
	for {
		select {
		case <-r.Context().Done():
			log.Info().Str("connection_id", o.id).Msg("event stream closed")
			return
		case <-o.done:
			return
		case f := <-o.frames:
			writeSSE(w, f.Event.Type, f.Raw)
			flusher.Flush()
		case <-keepAlive.Chan():
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, eventType EventType, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
}
