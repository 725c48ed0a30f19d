package game

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/promptclash/go/internal/gateway"
	"github.com/mcdev12/promptclash/go/internal/generation"
	"github.com/mcdev12/promptclash/go/internal/models"
)

type logLine struct {
	level   models.LogLevel
	message string
}

// effects collects what a committed mutation must announce. They run only
// after the store accepted the write.
type effects struct {
	changed   bool
	broadcast bool
	joined    *gateway.ParticipantJoinedPayload
	prompt    *gateway.PromptUpdatePayload
	request   *generation.Request
	archive   *models.RoundRecord
	logs      []logLine
}

func (fx *effects) logf(level models.LogLevel, format string, args ...any) {
	fx.logs = append(fx.logs, logLine{level: level, message: fmt.Sprintf(format, args...)})
}

// mutate runs fn against the stored state with due crossings applied
// first, then dispatches the collected effects.
func (a *App) mutate(ctx context.Context, fn func(s *models.GameState, fx *effects) error) (*models.GameState, error) {
	var fx effects
	state, err := a.repo.Update(ctx, func(s *models.GameState) (bool, error) {
		fx = effects{}
		a.applyCrossings(s, &fx)
		if fn != nil {
			if err := fn(s, &fx); err != nil {
				return false, err
			}
		}
		return fx.changed, nil
	})
	if err != nil {
		return nil, err
	}
	a.dispatch(ctx, state, &fx)
	return state, nil
}

func (a *App) dispatch(ctx context.Context, state *models.GameState, fx *effects) {
	for _, l := range fx.logs {
		if a.journal != nil {
			a.journal.Log(ctx, l.level, l.message)
		} else {
			log.Info().Str("source", "game").Str("level_name", string(l.level)).Msg(l.message)
		}
	}

	if fx.archive != nil && a.history != nil {
		if err := a.history.Archive(ctx, *fx.archive); err != nil {
			log.Error().Err(err).Int("round", fx.archive.Round).Msg("failed to archive round")
		}
	}

	if fx.request != nil {
		a.enqueue(ctx, *fx.request)
	}

	if a.emitter == nil {
		return
	}
	if fx.joined != nil {
		a.emitter.Broadcast(gateway.EventTypeParticipantJoined, fx.joined)
	}
	if fx.prompt != nil {
		payload := *fx.prompt
		a.emitter.BroadcastDebounced("prompt:"+payload.Token, gateway.EventTypePromptUpdate, func() (any, error) {
			return payload, nil
		})
		a.emitter.BroadcastDebounced("state", gateway.EventTypeStateUpdate, func() (any, error) {
			return a.State(context.Background())
		})
		return
	}
	if fx.changed || fx.broadcast {
		a.emitter.Broadcast(gateway.EventTypeStateUpdate, a.view(state))
	}
}

func (a *App) enqueue(ctx context.Context, req generation.Request) {
	select {
	case a.requests <- req:
		log.Info().Int("round", req.Round).Int("jobs", len(req.Jobs)).Msg("generation requested")
	case <-ctx.Done():
		log.Error().Err(ctx.Err()).Int("round", req.Round).Msg("generation request dropped")
	}
}
