package game

import (
	"context"
	"fmt"
	"strings"

	"github.com/mcdev12/promptclash/go/internal/clock"
	"github.com/mcdev12/promptclash/go/internal/gateway"
	"github.com/mcdev12/promptclash/go/internal/generation"
	"github.com/mcdev12/promptclash/go/internal/identity"
	"github.com/mcdev12/promptclash/go/internal/models"
)

const defaultRequestBuffer = 16

// Config tunes the round rules.
type Config struct {
	VotingSeconds int
	// Model is passed to the orchestrator with every request.
	Model         string
	RequestBuffer int
	Issuer        *identity.Issuer
}

func DefaultConfig() Config {
	return Config{
		VotingSeconds: models.DefaultVotingSeconds,
		Model:         generation.DefaultModel,
		RequestBuffer: defaultRequestBuffer,
	}
}

// App is the round state machine. It is the only writer of game:state.
type App struct {
	repo     *Repository
	registry *identity.Registry
	issuer   *identity.Issuer
	engine   *clock.Engine
	emitter  Emitter
	journal  Journal
	history  Archive
	config   Config
	requests chan generation.Request
}

// NewApp creates a game App. journal and history may be nil.
func NewApp(repo *Repository, engine *clock.Engine, journal Journal, history Archive, config Config) *App {
	if config.VotingSeconds <= 0 {
		config.VotingSeconds = models.DefaultVotingSeconds
	}
	if config.RequestBuffer <= 0 {
		config.RequestBuffer = defaultRequestBuffer
	}
	issuer := config.Issuer
	if issuer == nil {
		issuer = identity.NewIssuer()
	}
	if engine == nil {
		engine = clock.NewEngine(nil)
	}
	return &App{
		repo:     repo,
		registry: identity.NewRegistry(),
		issuer:   issuer,
		engine:   engine,
		journal:  journal,
		history:  history,
		config:   config,
		requests: make(chan generation.Request, config.RequestBuffer),
	}
}

// SetEmitter wires the broadcast layer after construction.
func (a *App) SetEmitter(e Emitter) {
	a.emitter = e
}

// GenerationRequests delivers one request per WRITING -> GENERATING step.
func (a *App) GenerationRequests() <-chan generation.Request {
	return a.requests
}

// State returns the live view, applying any countdown that reached zero.
func (a *App) State(ctx context.Context) (*models.GameView, error) {
	state, err := a.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	if a.due(state) {
		if state, err = a.mutate(ctx, nil); err != nil {
			return nil, err
		}
	}
	return a.view(state), nil
}

// Snapshot satisfies gateway.StateProvider.
func (a *App) Snapshot(ctx context.Context) (*models.GameView, error) {
	return a.State(ctx)
}

// CheckTimers applies due crossings and reports whether any fired.
func (a *App) CheckTimers(ctx context.Context) (*models.GameView, bool, error) {
	fired := false
	state, err := a.repo.Load(ctx)
	if err != nil {
		return nil, false, err
	}
	if a.due(state) {
		state, err = a.mutate(ctx, func(s *models.GameState, fx *effects) error {
			fired = fx.changed
			return nil
		})
		if err != nil {
			return nil, false, err
		}
	}
	return a.view(state), fired, nil
}

// Tick is the background sweep callback for clock.Engine.Run.
func (a *App) Tick(ctx context.Context) {
	if _, _, err := a.CheckTimers(ctx); err != nil && ctx.Err() == nil {
		a.logError(ctx, "timer check failed: %v", err)
	}
}

// StartRound replaces whatever round is active with a fresh one.
func (a *App) StartRound(ctx context.Context, req StartRoundRequest) (*models.GameView, error) {
	theme := strings.TrimSpace(req.Theme)
	if theme == "" {
		return nil, models.ErrThemeRequired
	}
	timer := req.TimerSeconds
	if timer == 0 {
		timer = models.DefaultTimerSeconds
	}
	if timer < 1 || timer > models.MaxTimerSeconds {
		return nil, models.ErrInvalidTimer
	}
	count := req.ParticipantCount
	if count == 0 {
		count = models.DefaultParticipantCount
	}
	if count < 1 || count > models.MaxParticipantCount {
		return nil, models.ErrInvalidParticipantCount
	}
	tokens, err := a.issuer.Issue(count)
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	state, err := a.mutate(ctx, func(s *models.GameState, fx *effects) error {
		if s.Status == models.GameStatusWriting || s.Status == models.GameStatusGenerating || s.Status == models.GameStatusVoting {
			fx.logf(models.LogLevelWarning, "Round %d aborted while %s", s.Round, s.Status)
		}
		s.Round++
		s.Theme = theme
		s.Status = models.GameStatusWaitingForPlayers
		s.TimerDurationSeconds = timer
		s.StopTimer()
		s.VotingDurationSeconds = a.config.VotingSeconds
		s.VotingStartedAt = nil
		s.ExpectedParticipantCount = count
		s.ValidTokens = tokens
		s.GenerationTriggered = false
		s.Participants = make(map[string]*models.Participant)
		s.Connections = make(map[string]string)
		fx.changed = true
		fx.logf(models.LogLevelInfo, "Round %d started: %q, %d participants, %ds timer", s.Round, theme, count, timer)
		fx.logf(models.LogLevelInfo, "Tokens: %s", strings.Join(tokens, ", "))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a.view(state), nil
}

// StopTimer pauses the writing countdown without leaving WRITING.
func (a *App) StopTimer(ctx context.Context) (*models.GameView, error) {
	state, err := a.mutate(ctx, func(s *models.GameState, fx *effects) error {
		if s.Status != models.GameStatusWriting {
			return models.WrongPhase("stopping the timer", s.Status)
		}
		if !s.TimerRunning {
			return nil
		}
		s.StopTimer()
		fx.changed = true
		fx.logf(models.LogLevelWarning, "Timer stopped by admin")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a.view(state), nil
}

// TriggerGeneration starts generation early. The work runs in the
// background; the returned view is already GENERATING.
func (a *App) TriggerGeneration(ctx context.Context) (*models.GameView, error) {
	state, err := a.mutate(ctx, func(s *models.GameState, fx *effects) error {
		if s.GenerationTriggered {
			return models.ErrGenerationTriggered
		}
		if s.Status != models.GameStatusWriting {
			return models.WrongPhase("triggering generation", s.Status)
		}
		fx.logf(models.LogLevelInfo, "Generation triggered by admin")
		a.beginGeneration(s, fx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a.view(state), nil
}

// StartVoting opens voting from WRITING or GENERATING.
func (a *App) StartVoting(ctx context.Context) (*models.GameView, error) {
	state, err := a.mutate(ctx, func(s *models.GameState, fx *effects) error {
		if s.Status != models.GameStatusWriting && s.Status != models.GameStatusGenerating {
			return models.WrongPhase("starting voting", s.Status)
		}
		s.StopTimer()
		now := a.engine.Now()
		s.Status = models.GameStatusVoting
		s.VotingStartedAt = &now
		s.VotingDurationSeconds = a.config.VotingSeconds
		fx.changed = true
		fx.logf(models.LogLevelInfo, "Voting started for round %d (%ds)", s.Round, s.VotingDurationSeconds)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a.view(state), nil
}

// CloseSession resets to IDLE under a new session id.
func (a *App) CloseSession(ctx context.Context) (*models.GameView, error) {
	sessionID := a.repo.NewSessionID()
	state, err := a.mutate(ctx, func(s *models.GameState, fx *effects) error {
		old := s.SessionID
		*s = *models.NewGameState(sessionID)
		fx.changed = true
		fx.logf(models.LogLevelInfo, "Session %s closed", old)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a.view(state), nil
}

// RemoveParticipant frees a seat before writing starts.
func (a *App) RemoveParticipant(ctx context.Context, token string) (*models.GameView, error) {
	state, err := a.mutate(ctx, func(s *models.GameState, fx *effects) error {
		name := ""
		if p, ok := s.Participants[identity.NormalizeToken(token)]; ok {
			name = p.DisplayName
		}
		if err := a.registry.Remove(s, token); err != nil {
			return err
		}
		fx.changed = true
		fx.logf(models.LogLevelWarning, "Removed %s (%s)", name, identity.NormalizeToken(token))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a.view(state), nil
}

// Join claims a new seat or reclaims one with its session secret. Filling
// the last seat starts the writing countdown.
func (a *App) Join(ctx context.Context, req JoinRequest) (*JoinResponse, error) {
	var result identity.JoinResult
	state, err := a.mutate(ctx, func(s *models.GameState, fx *effects) error {
		res, err := a.registry.Join(s, identity.JoinRequest{
			Token:         req.Token,
			ConnectionID:  req.ConnectionID,
			DisplayName:   req.Name,
			SessionSecret: req.SessionSecret,
		})
		if err != nil {
			return err
		}
		result = res
		fx.changed = true
		fx.joined = &gateway.ParticipantJoinedPayload{Participant: res.Participant.View(), Rejoined: res.Rejoined}
		if res.Rejoined {
			fx.logf(models.LogLevelInfo, "%s rejoined with token %s", res.Participant.DisplayName, res.Participant.Token)
			return nil
		}
		fx.logf(models.LogLevelSuccess, "%s joined with token %s (%d/%d)",
			res.Participant.DisplayName, res.Participant.Token, len(s.Participants), s.ExpectedParticipantCount)

		if res.RoundFull && s.Status == models.GameStatusWaitingForPlayers {
			s.Status = models.GameStatusWriting
			s.StartTimer(a.engine.Now())
			fx.logf(models.LogLevelInfo, "All participants joined, writing started (%ds)", s.TimerDurationSeconds)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p := state.Participants[result.Participant.Token]
	return &JoinResponse{
		Participant:   p.View(),
		SessionSecret: result.SessionSecret,
		Rejoined:      result.Rejoined,
		State:         a.view(state),
	}, nil
}

// UpdatePrompt stores a participant's prompt. ref is a token or a
// connection id.
func (a *App) UpdatePrompt(ctx context.Context, ref string, prompt models.PromptText) error {
	if err := models.CheckPromptLength(prompt.String()); err != nil {
		return err
	}
	_, err := a.mutate(ctx, func(s *models.GameState, fx *effects) error {
		if s.Status != models.GameStatusWriting {
			return models.WrongPhase("updating a prompt", s.Status)
		}
		token, ok := a.registry.Resolve(s, ref)
		if !ok {
			return models.ErrParticipantNotFound
		}
		p := s.Participants[token]
		if p.Prompt == prompt.String() {
			return nil
		}
		p.Prompt = prompt.String()
		fx.changed = true
		fx.prompt = &gateway.PromptUpdatePayload{Token: token, Prompt: p.Prompt}
		return nil
	})
	return err
}

// CastVote adds one vote for token.
func (a *App) CastVote(ctx context.Context, token string) error {
	_, err := a.mutate(ctx, func(s *models.GameState, fx *effects) error {
		if s.Status != models.GameStatusVoting {
			return models.WrongPhase("voting", s.Status)
		}
		p, ok := s.Participants[identity.NormalizeToken(token)]
		if !ok {
			return models.ErrParticipantNotFound
		}
		p.Votes++
		fx.changed = true
		return nil
	})
	return err
}

// Disconnect unbinds a connection. The seat stays reserved.
func (a *App) Disconnect(ctx context.Context, connectionID string) error {
	if connectionID == "" {
		return nil
	}
	_, err := a.mutate(ctx, func(s *models.GameState, fx *effects) error {
		token, ok := a.registry.Disconnect(s, connectionID)
		if !ok {
			return nil
		}
		fx.changed = true
		if p, seated := s.Participants[token]; seated {
			fx.logf(models.LogLevelInfo, "%s disconnected", p.DisplayName)
		}
		return nil
	})
	return err
}

// Logs returns the admin log, oldest first.
func (a *App) Logs(ctx context.Context) ([]models.LogEntry, error) {
	if a.journal == nil {
		return []models.LogEntry{}, nil
	}
	return a.journal.List(ctx)
}

// History returns archived rounds of the current session.
func (a *App) History(ctx context.Context) ([]models.RoundRecord, error) {
	if a.history == nil {
		return []models.RoundRecord{}, nil
	}
	state, err := a.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	return a.history.ListBySession(ctx, state.SessionID)
}

func (a *App) logError(ctx context.Context, format string, args ...any) {
	if a.journal != nil {
		a.journal.Log(ctx, models.LogLevelError, fmt.Sprintf(format, args...))
	}
}
