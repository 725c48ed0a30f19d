package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/promptclash/go/internal/models"
)

// JoinCommand is a participant join arriving over a realtime transport.
type JoinCommand struct {
	Token         string `json:"token"`
	Name          string `json:"name"`
	SessionSecret string `json:"sessionSecret,omitempty"`
	ConnectionID  string `json:"connectionId,omitempty"`
}

// JoinReply is returned to the joining client only.
type JoinReply struct {
	Participant   models.ParticipantView `json:"participant"`
	SessionSecret string                 `json:"sessionSecret,omitempty"`
	Rejoined      bool                   `json:"rejoined"`
}

// Commands is what realtime transports can ask of the game.
type Commands interface {
	Join(ctx context.Context, cmd JoinCommand) (*JoinReply, error)
	UpdatePrompt(ctx context.Context, ref string, prompt models.PromptText) error
	CastVote(ctx context.Context, token string) error
	Disconnect(ctx context.Context, connectionID string) error
}

// Command names accepted from clients.
const (
	CommandJoin         = "join"
	CommandUpdatePrompt = "update_prompt"
	CommandVote         = "vote"
	CommandPing         = "ping"
)

// ClientMessage is a command frame sent by a WebSocket client.
type ClientMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Reply answers one ClientMessage.
type Reply struct {
	Type      string     `json:"type"`
	RequestID string     `json:"requestId,omitempty"`
	OK        bool       `json:"ok"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the wire shape of a failed command.
type ErrorBody struct {
	Code    models.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// ErrUnknownCommand is returned for an unrecognized command type.
var ErrUnknownCommand = errors.New("unknown command")

// NewErrorBody hides internal errors behind a generic message.
func NewErrorBody(err error) *ErrorBody {
	var e *models.Error
	if errors.As(err, &e) {
		return &ErrorBody{Code: e.Code, Message: e.Message}
	}
	if errors.Is(err, ErrUnknownCommand) {
		return &ErrorBody{Code: "UNKNOWN_COMMAND", Message: err.Error()}
	}
	return &ErrorBody{Code: "INTERNAL", Message: "internal error"}
}

type promptCommand struct {
	Token  string            `json:"token,omitempty"`
	Prompt models.PromptText `json:"prompt"`
}

type voteCommand struct {
	ParticipantID string `json:"participantId"`
}

// dispatch runs one command on behalf of connectionID.
func dispatch(ctx context.Context, cmds Commands, connectionID, name string, data json.RawMessage) (any, error) {
	if cmds == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	switch name {
	case CommandPing:
		return map[string]string{"pong": connectionID}, nil

	case CommandJoin:
		var cmd JoinCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return nil, err
		}
		cmd.ConnectionID = connectionID
		return cmds.Join(ctx, cmd)

	case CommandUpdatePrompt:
		var cmd promptCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return nil, err
		}
		ref := cmd.Token
		if ref == "" {
			ref = connectionID
		}
		return nil, cmds.UpdatePrompt(ctx, ref, cmd.Prompt)

	case CommandVote:
		var cmd voteCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return nil, err
		}
		return nil, cmds.CastVote(ctx, cmd.ParticipantID)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
}

func decodeCommand(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return &models.Error{Code: models.CodeInvalidPayload, Message: "missing command data"}
	}
	if err := json.Unmarshal(data, v); err != nil {
		var e *models.Error
		if errors.As(err, &e) {
			return e
		}
		return &models.Error{Code: models.CodeInvalidPayload, Message: "malformed command data"}
	}
	return nil
}
