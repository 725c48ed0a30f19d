package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/promptclash/go/internal/models"
)

// Event is the envelope every observer receives.
type Event struct {
	ID        string          `json:"id"`        // Event UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
	// Origin is the instance that produced the event. Only set on relayed events.
	Origin string `json:"origin,omitempty"`
}

// EventType represents the type of game event
type EventType string

const (
	EventTypeStateUpdate       EventType = "state:update"
	EventTypePromptUpdate      EventType = "prompt:update"
	EventTypeParticipantJoined EventType = "participant:joined"
	EventTypeAdminLog          EventType = "admin:log"
	EventTypePing              EventType = "ping"
)

// Known reports whether t is one of the broadcast event types.
func (t EventType) Known() bool {
	switch t {
	case EventTypeStateUpdate, EventTypePromptUpdate, EventTypeParticipantJoined, EventTypeAdminLog, EventTypePing:
		return true
	}
	return false
}

// PromptUpdatePayload carries one participant's latest prompt text.
type PromptUpdatePayload struct {
	Token  string `json:"token"`
	Prompt string `json:"prompt"`
}

// ParticipantJoinedPayload announces a new or returning participant.
type ParticipantJoinedPayload struct {
	Participant models.ParticipantView `json:"participant"`
	Rejoined    bool                   `json:"rejoined"`
}

// NewEvent marshals data into a fresh envelope.
func NewEvent(eventType EventType, data any, now time.Time) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: now,
		Data:      raw,
	}, nil
}

// ParseEventPayload parses event data into the appropriate payload struct
func ParseEventPayload(event *Event) (interface{}, error) {
	switch event.Type {
	case EventTypeStateUpdate:
		var payload models.GameView
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypePromptUpdate:
		var payload PromptUpdatePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeParticipantJoined:
		var payload ParticipantJoinedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeAdminLog:
		var payload models.LogEntry
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
