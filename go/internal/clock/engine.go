package clock

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Phase names the countdown that crossed zero.
type Phase string

const (
	PhaseWriting Phase = "writing"
	PhaseVoting  Phase = "voting"
)

// Crossing is a countdown that has reached zero and still needs its
// transition applied. The state machine applies crossings; the engine never
// mutates state itself.
type Crossing struct {
	Phase Phase
	At    time.Time
}

// Countdown is one running timer as stored on the game state.
type Countdown struct {
	StartedAt       *time.Time
	DurationSeconds int
	// Armed is false once the countdown's crossing has been consumed, or
	// when the countdown is paused.
	Armed bool
}

// Timers is the clock-relevant slice of the game state.
type Timers struct {
	Writing Countdown
	Voting  Countdown
}

// Reading is the result of evaluating Timers at one instant.
type Reading struct {
	Now              time.Time
	WritingRemaining int
	VotingRemaining  int
	Crossings        []Crossing
}

// Due reports whether the reading carries a crossing for phase.
func (r Reading) Due(phase Phase) bool {
	for _, c := range r.Crossings {
		if c.Phase == phase {
			return true
		}
	}
	return false
}

// Engine evaluates countdowns against a clock.
type Engine struct {
	clock Clock
}

// NewEngine creates an engine. A nil clock means the wall clock.
func NewEngine(c Clock) *Engine {
	if c == nil {
		c = Real()
	}
	return &Engine{clock: c}
}

// Clock returns the engine's clock.
func (e *Engine) Clock() Clock {
	return e.clock
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Evaluate computes remaining seconds for both countdowns and reports the
// armed ones that have reached zero. It has no side effects, so calling it
// repeatedly is safe.
func (e *Engine) Evaluate(t Timers) Reading {
	now := e.clock.Now()
	r := Reading{
		Now:              now,
		WritingRemaining: remainingOf(now, t.Writing),
		VotingRemaining:  remainingOf(now, t.Voting),
	}
	if t.Writing.Armed && t.Writing.StartedAt != nil && r.WritingRemaining == 0 {
		r.Crossings = append(r.Crossings, Crossing{Phase: PhaseWriting, At: now})
	}
	if t.Voting.Armed && t.Voting.StartedAt != nil && r.VotingRemaining == 0 {
		r.Crossings = append(r.Crossings, Crossing{Phase: PhaseVoting, At: now})
	}
	return r
}

func remainingOf(now time.Time, c Countdown) int {
	if c.StartedAt == nil {
		return c.DurationSeconds
	}
	return Remaining(now, *c.StartedAt, c.DurationSeconds)
}

// Run calls fn every interval until ctx is done. It lets a deployment apply
// crossings even when no client is reading state.
func (e *Engine) Run(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("timer sweep started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("timer sweep stopped")
			return
		case <-ticker.Chan():
			fn(ctx)
		}
	}
}
