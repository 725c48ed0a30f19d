package game

import (
	"context"

	"github.com/mcdev12/promptclash/go/internal/gateway"
	"github.com/mcdev12/promptclash/go/internal/models"
)

// StartRoundRequest holds admin input for a new round. Zero values pick the
// defaults.
type StartRoundRequest struct {
	Theme            string `json:"theme"`
	TimerSeconds     int    `json:"timer"`
	ParticipantCount int    `json:"participantCount"`
}

// JoinRequest holds a participant's join input.
type JoinRequest struct {
	Token         string `json:"token"`
	Name          string `json:"name"`
	SessionSecret string `json:"sessionSecret,omitempty"`
	ConnectionID  string `json:"connectionId,omitempty"`
}

// JoinResponse is returned to the joining participant only. SessionSecret
// is set when a new seat was created.
type JoinResponse struct {
	Participant   models.ParticipantView `json:"participant"`
	SessionSecret string                 `json:"sessionSecret,omitempty"`
	Rejoined      bool                   `json:"rejoined"`
	State         *models.GameView       `json:"gameState"`
}

// Emitter publishes events to observers.
type Emitter interface {
	Broadcast(eventType gateway.EventType, data any)
	BroadcastDebounced(key string, eventType gateway.EventType, data func() (any, error))
}

// Journal is the admin log.
type Journal interface {
	Log(ctx context.Context, level models.LogLevel, message string) models.LogEntry
	List(ctx context.Context) ([]models.LogEntry, error)
}

// Archive stores finished rounds.
type Archive interface {
	Archive(ctx context.Context, record models.RoundRecord) error
	ListBySession(ctx context.Context, sessionID string) ([]models.RoundRecord, error)
}
