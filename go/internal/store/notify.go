package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// NotifierConfig configures the change listener.
type NotifierConfig struct {
	DatabaseURL  string
	Channel      string
	PingInterval time.Duration
	// InstanceID filters out notifications this process produced itself.
	InstanceID string
}

// DefaultNotifierConfig returns the defaults for the state channel.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		Channel:      NotifyChannel,
		PingInterval: 90 * time.Second,
	}
}

// Notifier delivers keys changed by other instances sharing the database.
type Notifier struct {
	listener *pq.Listener
	cfg      NotifierConfig
}

// NewNotifier opens a LISTEN connection.
func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
				return
			}
			if ev == pq.ListenerEventReconnected {
				log.Info().Str("channel", cfg.Channel).Msg("listener reconnected")
			}
		},
	)
	if err := l.Listen(cfg.Channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.Channel).
		Msg("listening for notifications")

	return &Notifier{listener: l, cfg: cfg}, nil
}

// Start blocks until ctx is done, calling onChange with each remote key.
// A lost connection is reported as an empty key so callers can resync.
func (n *Notifier) Start(ctx context.Context, onChange func(key string)) error {
	pingTicker := time.NewTicker(n.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("notifier shutting down")
			return n.listener.Close()
		case note := <-n.listener.Notify:
			if note == nil {
				// nil notification means the connection was re-established
				onChange("")
				continue
			}
			key, ok := parsePayload(note.Extra, n.cfg.InstanceID)
			if !ok {
				continue
			}
			onChange(key)
		case <-pingTicker.C:
			if err := n.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

// parsePayload splits "<instance>:<key>" and drops our own writes.
func parsePayload(payload, self string) (string, bool) {
	instance, key, found := strings.Cut(payload, ":")
	if !found || key == "" {
		return "", false
	}
	if self != "" && instance == self {
		return "", false
	}
	return key, true
}
