package models

import "time"

// ParticipantView is the public projection of a Participant. Secrets and
// connection ids never leave the server.
type ParticipantView struct {
	Token       string  `json:"token"`
	DisplayName string  `json:"displayName"`
	Color       string  `json:"color"`
	Prompt      string  `json:"prompt"`
	ImageURL    *string `json:"imageUrl"`
	Votes       int     `json:"votes"`
	Connected   bool    `json:"connected"`
}

// GameView is what observers receive in state:update and pull responses.
type GameView struct {
	SessionID                string            `json:"sessionId"`
	Round                    int               `json:"round"`
	Theme                    string            `json:"theme"`
	Status                   GameStatus        `json:"status"`
	TimerDurationSeconds     int               `json:"timerDurationSeconds"`
	TimerStartedAt           *time.Time        `json:"timerStartedAt"`
	TimerRunning             bool              `json:"timerRunning"`
	TimerRemaining           int               `json:"timerRemaining"`
	VotingDurationSeconds    int               `json:"votingDurationSeconds"`
	VotingStartedAt          *time.Time        `json:"votingStartedAt"`
	VotingRemaining          int               `json:"votingRemaining"`
	ExpectedParticipantCount int               `json:"expectedParticipantCount"`
	ValidTokens              []string          `json:"validTokens"`
	GenerationTriggered      bool              `json:"generationTriggered"`
	Participants             []ParticipantView `json:"participants"`
	Winners                  []string          `json:"winners,omitempty"`
	ServerTime               time.Time         `json:"serverTime"`
}

// NewGameView projects s with the given countdown readings.
func NewGameView(s *GameState, now time.Time, timerRemaining, votingRemaining int) *GameView {
	view := &GameView{
		SessionID:                s.SessionID,
		Round:                    s.Round,
		Theme:                    s.Theme,
		Status:                   s.Status,
		TimerDurationSeconds:     s.TimerDurationSeconds,
		TimerStartedAt:           cloneTime(s.TimerStartedAt),
		TimerRunning:             s.TimerRunning,
		TimerRemaining:           timerRemaining,
		VotingDurationSeconds:    s.VotingDurationSeconds,
		VotingStartedAt:          cloneTime(s.VotingStartedAt),
		VotingRemaining:          votingRemaining,
		ExpectedParticipantCount: s.ExpectedParticipantCount,
		ValidTokens:              append([]string{}, s.ValidTokens...),
		GenerationTriggered:      s.GenerationTriggered,
		Participants:             make([]ParticipantView, 0, len(s.Participants)),
		ServerTime:               now,
	}
	for _, p := range s.OrderedParticipants() {
		view.Participants = append(view.Participants, p.View())
	}
	if s.Status == GameStatusEnded {
		for _, w := range s.Winners() {
			view.Winners = append(view.Winners, w.Token)
		}
	}
	return view
}

// View returns the public projection of p.
func (p *Participant) View() ParticipantView {
	v := ParticipantView{
		Token:       p.Token,
		DisplayName: p.DisplayName,
		Color:       p.Color,
		Prompt:      p.Prompt,
		Votes:       p.Votes,
		Connected:   p.ConnectionID != "",
	}
	if p.ImageURL != nil {
		url := *p.ImageURL
		v.ImageURL = &url
	}
	return v
}

// Participant returns the public participant with the given token.
func (v *GameView) Participant(token string) (ParticipantView, bool) {
	for _, p := range v.Participants {
		if p.Token == token {
			return p, true
		}
	}
	return ParticipantView{}, false
}
