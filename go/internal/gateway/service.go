package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/promptclash/go/internal/clock"
)

// Service is the broadcast layer: one hub and every transport feeding it.
type Service struct {
	hub          *Hub
	debouncer    *Debouncer
	websocket    *WebSocketTransport
	sse          *SSETransport
	socketio     *SocketIOTransport
	poll         *PollTransport
	relay        *Relay
	stateHandler *StateHandler
	state        StateProvider
	instanceID   string
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	PollConfig       PollConfig
	KeepAlive        time.Duration
	DebounceWindow   time.Duration
	BufferSize       int
	// Relay is optional; without it events stay on this instance.
	Relay *RelayConfig
	Clock clock.Clock
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		PollConfig:       DefaultPollConfig(),
		KeepAlive:        DefaultKeepAlive,
		DebounceWindow:   DefaultDebounceWindow,
		BufferSize:       1000,
	}
}

// NewService creates the gateway. commands may be nil until SetCommands is
// called, which lets the game app and the gateway reference each other.
func NewService(config Config, stateProvider StateProvider) (*Service, error) {
	c := config.Clock
	if c == nil {
		c = clock.Real()
	}
	hub := NewHub(c, config.BufferSize)
	s := &Service{
		hub:          hub,
		debouncer:    NewDebouncer(c, config.DebounceWindow),
		sse:          NewSSETransport(hub, stateProvider, c, config.KeepAlive),
		poll:         NewPollTransport(hub, stateProvider, c, config.PollConfig),
		stateHandler: NewStateHandler(stateProvider),
		state:        stateProvider,
		instanceID:   uuid.New().String()[:8],
	}
	s.websocket = NewWebSocketTransport(hub, stateProvider, nil, config.ConnectionConfig)
	s.socketio = NewSocketIOTransport(hub, stateProvider, nil)

	if config.Relay != nil {
		relay, err := NewRelay(hub, s.instanceID, *config.Relay)
		if err != nil {
			return nil, fmt.Errorf("failed to create event relay: %w", err)
		}
		s.relay = relay
	}
	return s, nil
}

// SetCommands wires the command handler for realtime transports.
func (s *Service) SetCommands(commands Commands) {
	s.websocket.commands = commands
	s.socketio.commands = commands
}

// Start runs the hub and background transports until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Str("instance", s.instanceID).Msg("starting gateway service")

	go s.hub.Start(ctx)
	go s.poll.Start(ctx)
	go s.socketio.Serve()
	if s.relay != nil {
		go func() {
			if err := s.relay.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event relay failed")
			}
		}()
	}

	<-ctx.Done()

	log.Info().Msg("gateway service shutting down")
	return s.Stop()
}

// Stop flushes pending debounced events and closes transports.
func (s *Service) Stop() error {
	s.debouncer.Flush()
	if err := s.socketio.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close socket.io server")
	}
	log.Info().Msg("gateway service stopped")
	return nil
}

// Broadcast sends an event to every observer here and, when relayed, on
// the other instances.
func (s *Service) Broadcast(eventType EventType, data any) {
	event, err := s.hub.Broadcast(eventType, data)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	if s.relay != nil {
		if err := s.relay.Publish(event); err != nil {
			log.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to relay event")
		}
	}
}

// BroadcastDebounced coalesces events sharing key. data is evaluated when
// the event is actually sent, so the latest value always goes out.
func (s *Service) BroadcastDebounced(key string, eventType EventType, data func() (any, error)) {
	s.debouncer.Do(key, func() {
		v, err := data()
		if err != nil {
			log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build debounced event")
			return
		}
		s.Broadcast(eventType, v)
	})
}

// Refresh broadcasts a fresh state:update to local observers only. It is
// used when another instance changed the shared store.
func (s *Service) Refresh(ctx context.Context) {
	if s.state == nil {
		return
	}
	view, err := s.state.Snapshot(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to refresh state")
		return
	}
	if _, err := s.hub.Broadcast(EventTypeStateUpdate, view); err != nil {
		log.Error().Err(err).Msg("failed to broadcast refreshed state")
	}
}

// RegisterRoutes mounts the realtime and pull endpoints.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/ws", gin.WrapF(s.websocket.Handle))
	r.GET("/api/game-stream", gin.WrapF(s.sse.Handle))
	r.GET("/api/game-events", gin.WrapF(s.poll.Handle))
	r.GET("/api/game-state", gin.WrapF(s.stateHandler.HandleGetState))
	r.GET("/api/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.GetStats())
	})
	s.socketio.Mount(r)
	log.Info().Msg("gateway routes registered")
}

// InstanceID identifies this process in relayed events.
func (s *Service) InstanceID() string {
	return s.instanceID
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	counts := s.hub.Counts()
	return map[string]interface{}{
		"service":           "gateway",
		"status":            "running",
		"instance":          s.instanceID,
		"total_observers":   s.hub.Len(),
		"observers":         counts,
		"socketio_sessions": s.socketio.Count(),
		"pending_debounce":  s.debouncer.Pending(),
		"relay_enabled":     s.relay != nil,
	}
}
