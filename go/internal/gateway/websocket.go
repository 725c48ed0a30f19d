package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/promptclash/go/internal/identity"
)

// EventTypeConnected is sent once to a new push connection with its id.
const EventTypeConnected EventType = "connected"

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  8 * 1024, // prompts can be up to 1000 chars
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// WebSocketTransport upgrades HTTP requests into push observers that also
// accept commands.
type WebSocketTransport struct {
	hub      *Hub
	state    StateProvider
	commands Commands
	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// NewWebSocketTransport creates the transport.
func NewWebSocketTransport(hub *Hub, state StateProvider, commands Commands, config ConnectionConfig) *WebSocketTransport {
	return &WebSocketTransport{
		hub:      hub,
		state:    state,
		commands: commands,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// wsObserver is one WebSocket client.
type wsObserver struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	transport *WebSocketTransport

	connectedAt time.Time
}

// Handle upgrades the request. A client may pass ?connectionId= to keep its
// identity across reconnects.
func (t *WebSocketTransport) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	id := r.URL.Query().Get("connectionId")
	if id == "" {
		id = identity.NewConnectionID()
	}
	o := &wsObserver{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, t.config.SendBufferSize),
		done:        make(chan struct{}),
		transport:   t,
		connectedAt: time.Now(),
	}

	if err := t.greet(r.Context(), o); err != nil {
		log.Error().Err(err).Str("connection_id", id).Msg("failed to send initial state")
	}
	t.hub.Register(o)

	go o.writePump()
	go o.readPump()

	log.Info().
		Str("connection_id", id).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")
}

func (t *WebSocketTransport) greet(ctx context.Context, o *wsObserver) error {
	hello, err := NewEvent(EventTypeConnected, map[string]string{"connectionId": o.id}, t.hub.Now())
	if err != nil {
		return err
	}
	if err := o.enqueueEvent(hello); err != nil {
		return err
	}
	if t.state == nil {
		return nil
	}
	view, err := t.state.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	snapshot, err := NewEvent(EventTypeStateUpdate, view, t.hub.Now())
	if err != nil {
		return err
	}
	return o.enqueueEvent(snapshot)
}

func (o *wsObserver) ID() string   { return o.id }
func (o *wsObserver) Kind() string { return "websocket" }

func (o *wsObserver) Deliver(f Frame) error {
	return o.enqueue(f.Raw)
}

func (o *wsObserver) enqueueEvent(e *Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return o.enqueue(raw)
}

func (o *wsObserver) enqueue(raw []byte) error {
	select {
	case <-o.done:
		return ErrObserverClosed
	default:
	}
	select {
	case o.send <- raw:
		return nil
	default:
		return ErrObserverSlow
	}
}

func (o *wsObserver) Close() {
	o.closeOnce.Do(func() { close(o.done) })
}

// writePump handles sending messages to the WebSocket connection
func (o *wsObserver) writePump() {
	cfg := o.transport.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		o.conn.Close()
	}()

	for {
		select {
		case <-o.done:
			o.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			o.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-o.send:
			o.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := o.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", o.id).
					Msg("failed to write message to WebSocket")
				o.transport.hub.Unregister(o)
				return
			}

		case <-ticker.C:
			o.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", o.id).
					Msg("failed to send ping")
				o.transport.hub.Unregister(o)
				return
			}
		}
	}
}

// readPump reads commands until the connection fails, then releases the
// participant's connection binding.
func (o *wsObserver) readPump() {
	cfg := o.transport.config
	defer func() {
		o.transport.hub.Unregister(o)
		o.conn.Close()
		// A reconnect under the same id owns the participant binding now.
		if o.transport.commands != nil && !o.transport.hub.Holds(o.id, o) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := o.transport.commands.Disconnect(ctx, o.id); err != nil {
				log.Warn().Err(err).Str("connection_id", o.id).Msg("failed to release connection")
			}
		}
		log.Info().
			Str("connection_id", o.id).
			Dur("connected_for", time.Since(o.connectedAt)).
			Msg("WebSocket connection closed")
	}()

	o.conn.SetReadLimit(cfg.MaxMessageSize)
	o.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	o.conn.SetPongHandler(func(string) error {
		o.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := o.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", o.id).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		o.handleClientMessage(message)
		o.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}

// handleClientMessage runs a command and queues the reply behind any
// frames already waiting for this client.
func (o *wsObserver) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Str("connection_id", o.id).Msg("ignoring malformed client message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply := Reply{Type: "reply", RequestID: msg.RequestID, OK: true}
	data, err := dispatch(ctx, o.transport.commands, o.id, msg.Type, msg.Data)
	if err != nil {
		reply.OK = false
		reply.Error = NewErrorBody(err)
		log.Debug().
			Err(err).
			Str("connection_id", o.id).
			Str("command", msg.Type).
			Msg("client command rejected")
	} else {
		reply.Data = data
	}

	raw, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reply")
		return
	}
	if err := o.enqueue(raw); err != nil {
		log.Warn().Err(err).Str("connection_id", o.id).Msg("failed to queue reply")
	}
}
