package game

import (
	"context"

	"github.com/mcdev12/promptclash/go/internal/generation"
	"github.com/mcdev12/promptclash/go/internal/models"
)

func (a *App) generationRequest(s *models.GameState) generation.Request {
	req := generation.Request{
		SessionID: s.SessionID,
		Round:     s.Round,
		Model:     a.config.Model,
	}
	for _, p := range s.OrderedParticipants() {
		req.Jobs = append(req.Jobs, generation.Job{
			Token:       p.Token,
			DisplayName: p.DisplayName,
			Prompt:      p.Prompt,
		})
	}
	return req
}

func isCurrent(s *models.GameState, ref generation.RoundRef) bool {
	return s.SessionID == ref.SessionID && s.Round == ref.Round
}

// SetImage stores one generated image. Results for a round that has since
// been replaced, in this session or an earlier one, are dropped.
func (a *App) SetImage(ctx context.Context, ref generation.RoundRef, token, url string) error {
	_, err := a.mutate(ctx, func(s *models.GameState, fx *effects) error {
		if !isCurrent(s, ref) {
			fx.logf(models.LogLevelWarning, "Ignoring stale image for %s from round %d", token, ref.Round)
			return nil
		}
		p, ok := s.Participants[token]
		if !ok {
			fx.logf(models.LogLevelWarning, "Ignoring image for unknown participant %s", token)
			return nil
		}
		u := url
		p.ImageURL = &u
		fx.changed = true
		return nil
	})
	return err
}

// FinishGeneration sends the consolidated state once every job settled. It
// does not move the round forward; the admin opens voting.
func (a *App) FinishGeneration(ctx context.Context, ref generation.RoundRef, summary generation.Summary) error {
	_, err := a.mutate(ctx, func(s *models.GameState, fx *effects) error {
		if !isCurrent(s, ref) {
			fx.logf(models.LogLevelWarning, "Generation for round %d finished after the round was replaced", ref.Round)
			return nil
		}
		fx.broadcast = true
		return nil
	})
	return err
}

// Winners returns the top-voted participants of an ended round.
func (a *App) Winners(ctx context.Context) ([]models.ParticipantView, error) {
	view, err := a.State(ctx)
	if err != nil {
		return nil, err
	}
	out := []models.ParticipantView{}
	for _, token := range view.Winners {
		if p, ok := view.Participant(token); ok {
			out = append(out, p)
		}
	}
	return out, nil
}
