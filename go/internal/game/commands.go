package game

import (
	"context"

	"github.com/mcdev12/promptclash/go/internal/gateway"
	"github.com/mcdev12/promptclash/go/internal/models"
)

// Commands adapts the App to the realtime transports.
func (a *App) Commands() gateway.Commands {
	return commandAdapter{app: a}
}

type commandAdapter struct {
	app *App
}

func (c commandAdapter) Join(ctx context.Context, cmd gateway.JoinCommand) (*gateway.JoinReply, error) {
	res, err := c.app.Join(ctx, JoinRequest{
		Token:         cmd.Token,
		Name:          cmd.Name,
		SessionSecret: cmd.SessionSecret,
		ConnectionID:  cmd.ConnectionID,
	})
	if err != nil {
		return nil, err
	}
	return &gateway.JoinReply{
		Participant:   res.Participant,
		SessionSecret: res.SessionSecret,
		Rejoined:      res.Rejoined,
	}, nil
}

func (c commandAdapter) UpdatePrompt(ctx context.Context, ref string, prompt models.PromptText) error {
	return c.app.UpdatePrompt(ctx, ref, prompt)
}

func (c commandAdapter) CastVote(ctx context.Context, token string) error {
	return c.app.CastVote(ctx, token)
}

func (c commandAdapter) Disconnect(ctx context.Context, connectionID string) error {
	return c.app.Disconnect(ctx, connectionID)
}
