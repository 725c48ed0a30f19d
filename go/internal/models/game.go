package models

import (
	"sort"
	"time"
)

// GameStatus defines the phase of the current round.
type GameStatus string

const (
	GameStatusIdle              GameStatus = "IDLE"
	GameStatusWaitingForPlayers GameStatus = "WAITING_FOR_PLAYERS"
	GameStatusWriting           GameStatus = "WRITING"
	GameStatusGenerating        GameStatus = "GENERATING"
	GameStatusVoting            GameStatus = "VOTING"
	GameStatusEnded             GameStatus = "ENDED"
)

const (
	DefaultTimerSeconds     = 60
	DefaultParticipantCount = 2
	DefaultVotingSeconds    = 120
	MaxTimerSeconds         = 3600
	MaxParticipantCount     = 32
	MaxPromptLength         = 1000
	MaxDisplayNameLength    = 40
)

// Palette holds participant colors, assigned by join order.
var Palette = []string{"#BEFA4F", "#E83399", "#5AA7B9", "#F5B700"}

// ColorForIndex returns the palette color for the n-th joined participant.
func ColorForIndex(n int) string {
	if n < 0 {
		n = 0
	}
	return Palette[n%len(Palette)]
}

// Participant is one seat in the current round, keyed by its token.
type Participant struct {
	Token         string  `json:"token"`
	DisplayName   string  `json:"displayName"`
	Color         string  `json:"color"`
	Prompt        string  `json:"prompt"`
	ImageURL      *string `json:"imageUrl"`
	Votes         int     `json:"votes"`
	JoinOrder     int     `json:"joinOrder"`
	SessionSecret string  `json:"sessionSecret,omitempty"`
	ConnectionID  string  `json:"connectionId,omitempty"`
}

// GameState is the authoritative record persisted under the game:state key.
type GameState struct {
	SessionID                string                  `json:"sessionId"`
	Round                    int                     `json:"round"`
	Theme                    string                  `json:"theme"`
	Status                   GameStatus              `json:"status"`
	TimerDurationSeconds     int                     `json:"timerDurationSeconds"`
	TimerStartedAt           *time.Time              `json:"timerStartedAt"`
	TimerRunning             bool                    `json:"timerRunning"`
	VotingDurationSeconds    int                     `json:"votingDurationSeconds"`
	VotingStartedAt          *time.Time              `json:"votingStartedAt"`
	ExpectedParticipantCount int                     `json:"expectedParticipantCount"`
	ValidTokens              []string                `json:"validTokens"`
	GenerationTriggered      bool                    `json:"generationTriggered"`
	Participants             map[string]*Participant `json:"participants"`
	Connections              map[string]string       `json:"connections,omitempty"`
	UpdatedAt                time.Time               `json:"updatedAt"`
}

// NewGameState returns the IDLE state used for a cold store.
func NewGameState(sessionID string) *GameState {
	return &GameState{
		SessionID:                sessionID,
		Status:                   GameStatusIdle,
		TimerDurationSeconds:     DefaultTimerSeconds,
		VotingDurationSeconds:    DefaultVotingSeconds,
		ExpectedParticipantCount: DefaultParticipantCount,
		ValidTokens:              []string{},
		Participants:             make(map[string]*Participant),
		Connections:              make(map[string]string),
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	out := *s
	out.TimerStartedAt = cloneTime(s.TimerStartedAt)
	out.VotingStartedAt = cloneTime(s.VotingStartedAt)
	out.ValidTokens = append([]string(nil), s.ValidTokens...)
	out.Participants = make(map[string]*Participant, len(s.Participants))
	for token, p := range s.Participants {
		cp := *p
		if p.ImageURL != nil {
			url := *p.ImageURL
			cp.ImageURL = &url
		}
		out.Participants[token] = &cp
	}
	out.Connections = make(map[string]string, len(s.Connections))
	for conn, token := range s.Connections {
		out.Connections[conn] = token
	}
	return &out
}

// HasToken reports whether token is admitted for the current round.
func (s *GameState) HasToken(token string) bool {
	for _, t := range s.ValidTokens {
		if t == token {
			return true
		}
	}
	return false
}

// OrderedParticipants returns participants sorted by join order.
func (s *GameState) OrderedParticipants() []*Participant {
	out := make([]*Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinOrder != out[j].JoinOrder {
			return out[i].JoinOrder < out[j].JoinOrder
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// StartTimer arms the writing countdown.
func (s *GameState) StartTimer(now time.Time) {
	t := now
	s.TimerStartedAt = &t
	s.TimerRunning = true
}

// StopTimer clears the writing countdown. Both fields move together.
func (s *GameState) StopTimer() {
	s.TimerStartedAt = nil
	s.TimerRunning = false
}

// Winners returns the participants holding the highest vote count, in join order.
// Nobody wins a round without votes.
func (s *GameState) Winners() []*Participant {
	best := 0
	for _, p := range s.Participants {
		if p.Votes > best {
			best = p.Votes
		}
	}
	if best == 0 {
		return nil
	}
	var out []*Participant
	for _, p := range s.OrderedParticipants() {
		if p.Votes == best {
			out = append(out, p)
		}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
