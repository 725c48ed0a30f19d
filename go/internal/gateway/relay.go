package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// RelayConfig holds configuration for cross-instance fan-out.
type RelayConfig struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultRelayConfig returns default relay configuration
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:           nats.DefaultURL,
		Subject:       "promptclash.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Relay mirrors locally produced events to other instances over NATS and
// re-broadcasts theirs to local observers.
type Relay struct {
	hub        *Hub
	nc         *nats.Conn
	sub        *nats.Subscription
	config     RelayConfig
	instanceID string
}

// NewRelay connects to NATS.
func NewRelay(hub *Hub, instanceID string, config RelayConfig) (*Relay, error) {
	opts := []nats.Option{
		nats.Name("promptclash-" + instanceID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Relay{
		hub:        hub,
		nc:         nc,
		config:     config,
		instanceID: instanceID,
	}, nil
}

// Publish sends a local event to the other instances.
func (r *Relay) Publish(event *Event) error {
	out := *event
	out.Origin = r.instanceID
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal relayed event: %w", err)
	}
	if err := r.nc.Publish(r.config.Subject, raw); err != nil {
		return fmt.Errorf("publish relayed event: %w", err)
	}
	return nil
}

// Start subscribes and blocks until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	sub, err := r.nc.Subscribe(r.config.Subject, func(msg *nats.Msg) {
		event, ok := r.accept(msg.Data)
		if !ok {
			return
		}
		r.hub.Publish(event)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.config.Subject, err)
	}
	r.sub = sub

	log.Info().
		Str("subject", r.config.Subject).
		Str("instance", r.instanceID).
		Msg("event relay started")

	<-ctx.Done()
	return r.Stop()
}

// accept decodes a relayed event and filters out our own.
func (r *Relay) accept(data []byte) (*Event, bool) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		log.Warn().Err(err).Msg("dropping malformed relayed event")
		return nil, false
	}
	if event.Origin == r.instanceID || !event.Type.Known() {
		return nil, false
	}
	return &event, true
}

// Stop drains the subscription and closes the connection.
func (r *Relay) Stop() error {
	log.Info().Msg("stopping event relay")
	if r.nc == nil {
		return nil
	}
	if err := r.nc.Drain(); err != nil {
		r.nc.Close()
		return err
	}
	return nil
}
