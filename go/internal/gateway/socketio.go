package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"
)

// SocketIOTransport serves Socket.IO clients. Every connection is a push
// observer; game:* events carry commands and are answered by ack.
type SocketIOTransport struct {
	hub      *Hub
	state    StateProvider
	commands Commands
	server   *socketio.Server

	bufferSize int
}

// NewSocketIOTransport creates the Socket.IO server and its handlers.
func NewSocketIOTransport(hub *Hub, state StateProvider, commands Commands) *SocketIOTransport {
	t := &SocketIOTransport{
		hub:        hub,
		state:      state,
		commands:   commands,
		server:     socketio.NewServer(nil),
		bufferSize: 256,
	}
	t.registerHandlers()
	return t
}

type sioObserver struct {
	conn      socketio.Conn
	frames    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (o *sioObserver) ID() string   { return o.conn.ID() }
func (o *sioObserver) Kind() string { return "socketio" }

func (o *sioObserver) Deliver(f Frame) error {
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

func (o *sioObserver) Close() {
	o.closeOnce.Do(func() { close(o.done) })
}

// emitLoop writes frames in order from a single goroutine per connection.
func (o *sioObserver) emitLoop() {
	for {
		select {
		case <-o.done:
			return
		case f := <-o.frames:
			o.conn.Emit(string(f.Event.Type), f.Event)
		}
	}
}

func (t *SocketIOTransport) registerHandlers() {
	io := t.server

	io.OnConnect("/", func(s socketio.Conn) error {
		o := &sioObserver{
			conn:   s,
			frames: make(chan Frame, t.bufferSize),
			done:   make(chan struct{}),
		}
		s.SetContext(o)
		s.Emit(string(EventTypeConnected), map[string]string{"connectionId": s.ID()})
		if t.state != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			view, err := t.state.Snapshot(ctx)
			cancel()
			if err != nil {
				log.Error().Err(err).Str("sid", s.ID()).Msg("failed to load snapshot for socket")
			} else if ev, err := NewEvent(EventTypeStateUpdate, view, t.hub.Now()); err == nil {
				s.Emit(string(ev.Type), ev)
			}
		}
		t.hub.Register(o)
		go o.emitLoop()
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	t.onCommand("game:join", CommandJoin)
	t.onCommand("game:updatePrompt", CommandUpdatePrompt)
	t.onCommand("game:vote", CommandVote)
	t.onCommand("game:ping", CommandPing)

	io.OnError("/", func(s socketio.Conn, e error) {
		if s == nil {
			log.Error().Err(e).Msg("socket error")
			return
		}
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})

	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if o, ok := s.Context().(*sioObserver); ok {
			t.hub.Unregister(o)
		}
		if t.commands != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := t.commands.Disconnect(ctx, s.ID()); err != nil {
				log.Warn().Err(err).Str("sid", s.ID()).Msg("failed to release connection")
			}
		}
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})
}

// onCommand binds a Socket.IO event to a command. The payload is taken as
// a raw JSON string so every command shares one decoder.
func (t *SocketIOTransport) onCommand(event, command string) {
	t.server.OnEvent("/", event, func(s socketio.Conn, payload map[string]any) map[string]any {
		raw, err := json.Marshal(payload)
		if err != nil {
			return map[string]any{"ok": false, "error": NewErrorBody(err)}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		data, err := dispatch(ctx, t.commands, s.ID(), command, raw)
		if err != nil {
			body := NewErrorBody(err)
			s.Emit("error", body)
			return map[string]any{"ok": false, "error": body}
		}
		return map[string]any{"ok": true, "data": data}
	})
}

// Serve runs the Socket.IO engine until Close.
func (t *SocketIOTransport) Serve() {
	if err := t.server.Serve(); err != nil {
		log.Error().Err(err).Msg("socket.io server stopped")
	}
}

// Close stops the engine.
func (t *SocketIOTransport) Close() error {
	return t.server.Close()
}

// Mount attaches the transport to a gin router.
func (t *SocketIOTransport) Mount(r gin.IRouter) {
	r.GET("/socket.io/*any", gin.WrapH(t.server))
	r.POST("/socket.io/*any", gin.WrapH(t.server))
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

// Count returns the number of connected sockets.
func (t *SocketIOTransport) Count() int {
	return t.server.Count()
}
