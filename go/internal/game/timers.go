package game

import (
	"github.com/mcdev12/promptclash/go/internal/clock"
	"github.com/mcdev12/promptclash/go/internal/history"
	"github.com/mcdev12/promptclash/go/internal/models"
)

// timersOf maps the stored state onto the clock engine. The writing
// countdown stays armed only until generation is triggered, which makes its
// crossing fire once.
func timersOf(s *models.GameState) clock.Timers {
	return clock.Timers{
		Writing: clock.Countdown{
			StartedAt:       s.TimerStartedAt,
			DurationSeconds: s.TimerDurationSeconds,
			Armed:           s.Status == models.GameStatusWriting && s.TimerRunning && !s.GenerationTriggered,
		},
		Voting: clock.Countdown{
			StartedAt:       s.VotingStartedAt,
			DurationSeconds: s.VotingDurationSeconds,
			Armed:           s.Status == models.GameStatusVoting,
		},
	}
}

func (a *App) applyCrossings(s *models.GameState, fx *effects) {
	reading := a.engine.Evaluate(timersOf(s))
	if reading.Due(clock.PhaseWriting) {
		fx.logf(models.LogLevelInfo, "Timer expired for round %d", s.Round)
		a.beginGeneration(s, fx)
	}
	if reading.Due(clock.PhaseVoting) {
		a.endVoting(s, fx)
	}
}

func (a *App) due(s *models.GameState) bool {
	return len(a.engine.Evaluate(timersOf(s)).Crossings) > 0
}

// beginGeneration is the one-way WRITING -> GENERATING step.
func (a *App) beginGeneration(s *models.GameState, fx *effects) {
	s.Status = models.GameStatusGenerating
	s.GenerationTriggered = true
	s.StopTimer()
	fx.changed = true
	req := a.generationRequest(s)
	fx.request = &req
	fx.logf(models.LogLevelInfo, "Starting image generation for round %d (%d participants)", s.Round, len(req.Jobs))
}

func (a *App) endVoting(s *models.GameState, fx *effects) {
	s.Status = models.GameStatusEnded
	fx.changed = true
	record := history.BuildRecord(s, a.engine.Now())
	fx.archive = &record

	winners := s.Winners()
	switch len(winners) {
	case 0:
		fx.logf(models.LogLevelInfo, "Voting closed for round %d with no votes", s.Round)
	case 1:
		fx.logf(models.LogLevelSuccess, "Round %d won by %s with %d votes", s.Round, winners[0].DisplayName, winners[0].Votes)
	default:
		fx.logf(models.LogLevelSuccess, "Round %d ended in a %d-way tie at %d votes", s.Round, len(winners), winners[0].Votes)
	}
}

// view projects s with live countdowns. Phases past writing report no
// writing time left.
func (a *App) view(s *models.GameState) *models.GameView {
	reading := a.engine.Evaluate(timersOf(s))
	timerRemaining := reading.WritingRemaining
	switch s.Status {
	case models.GameStatusGenerating, models.GameStatusVoting, models.GameStatusEnded:
		timerRemaining = 0
	}
	return models.NewGameView(s, reading.Now, timerRemaining, reading.VotingRemaining)
}
