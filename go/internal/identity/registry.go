package identity

import (
	"crypto/subtle"
	"strings"
	"unicode/utf8"

	"github.com/mcdev12/promptclash/go/internal/models"
)

// JoinRequest is a participant's attempt to claim or reclaim a seat.
type JoinRequest struct {
	Token         string
	ConnectionID  string
	DisplayName   string
	SessionSecret string
}

// JoinResult describes a successful join.
type JoinResult struct {
	Participant models.Participant
	// SessionSecret is only set for a brand new seat.
	SessionSecret string
	Rejoined      bool
	// RoundFull is true when this join filled the last expected seat.
	RoundFull bool
}

// Registry applies the join rules to a game state. It does not own the
// state; callers run it inside a serialized update.
type Registry struct {
	newSecret func() string
}

// NewRegistry creates a registry.
func NewRegistry() *Registry {
	return &Registry{newSecret: NewSessionSecret}
}

// Join evaluates the join rules in order: a round must exist, the token must
// be valid, an existing seat needs its secret, otherwise a new seat is made.
// A failed join leaves state untouched.
func (r *Registry) Join(state *models.GameState, req JoinRequest) (JoinResult, error) {
	token := NormalizeToken(req.Token)
	name := strings.TrimSpace(req.DisplayName)

	if state.Status == models.GameStatusIdle {
		return JoinResult{}, models.ErrGameNotStarted
	}
	if !state.HasToken(token) {
		return JoinResult{}, models.ErrInvalidToken
	}
	if name == "" {
		return JoinResult{}, models.ErrNameRequired
	}
	if utf8.RuneCountInString(name) > models.MaxDisplayNameLength {
		name = string([]rune(name)[:models.MaxDisplayNameLength])
	}
	if req.ConnectionID != "" {
		if bound, ok := state.Connections[req.ConnectionID]; ok && bound != token {
			return JoinResult{}, models.ErrTokenAlreadyInUse
		}
	}

	if existing, ok := state.Participants[token]; ok {
		if req.SessionSecret == "" {
			return JoinResult{}, models.ErrSessionSecretRequired
		}
		if subtle.ConstantTimeCompare([]byte(req.SessionSecret), []byte(existing.SessionSecret)) != 1 {
			return JoinResult{}, models.ErrInvalidSessionSecret
		}
		r.bind(state, existing, req.ConnectionID)
		existing.DisplayName = name
		return JoinResult{Participant: *existing, Rejoined: true}, nil
	}

	if state.Status != models.GameStatusWaitingForPlayers {
		return JoinResult{}, models.WrongPhase("joining a new seat", state.Status)
	}
	if len(state.Participants) >= state.ExpectedParticipantCount {
		return JoinResult{}, models.ErrRoundFull
	}

	order := nextJoinOrder(state)
	p := &models.Participant{
		Token:         token,
		DisplayName:   name,
		Color:         models.ColorForIndex(order),
		JoinOrder:     order,
		SessionSecret: r.newSecret(),
	}
	if state.Participants == nil {
		state.Participants = make(map[string]*models.Participant)
	}
	state.Participants[token] = p
	r.bind(state, p, req.ConnectionID)

	return JoinResult{
		Participant:   *p,
		SessionSecret: p.SessionSecret,
		RoundFull:     len(state.Participants) == state.ExpectedParticipantCount,
	}, nil
}

func nextJoinOrder(state *models.GameState) int {
	next := 0
	for _, p := range state.Participants {
		if p.JoinOrder >= next {
			next = p.JoinOrder + 1
		}
	}
	return next
}

func (r *Registry) bind(state *models.GameState, p *models.Participant, connectionID string) {
	if p.ConnectionID != "" {
		delete(state.Connections, p.ConnectionID)
	}
	p.ConnectionID = connectionID
	if connectionID == "" {
		return
	}
	if state.Connections == nil {
		state.Connections = make(map[string]string)
	}
	state.Connections[connectionID] = p.Token
}

// ResolveByConnection returns the token bound to connectionID.
func (r *Registry) ResolveByConnection(state *models.GameState, connectionID string) (string, bool) {
	if connectionID == "" {
		return "", false
	}
	token, ok := state.Connections[connectionID]
	if !ok {
		return "", false
	}
	if _, seated := state.Participants[token]; !seated {
		return "", false
	}
	return token, true
}

// Resolve accepts either a token or a connection id and returns the
// participant token it refers to.
func (r *Registry) Resolve(state *models.GameState, ref string) (string, bool) {
	if token, ok := r.ResolveByConnection(state, ref); ok {
		return token, true
	}
	token := NormalizeToken(ref)
	if _, ok := state.Participants[token]; ok {
		return token, true
	}
	return "", false
}

// Disconnect unbinds connectionID. The seat is kept so the participant can
// rejoin with their secret.
func (r *Registry) Disconnect(state *models.GameState, connectionID string) (string, bool) {
	token, ok := state.Connections[connectionID]
	if !ok {
		return "", false
	}
	delete(state.Connections, connectionID)
	if p, seated := state.Participants[token]; seated && p.ConnectionID == connectionID {
		p.ConnectionID = ""
	}
	return token, true
}

// Remove frees a seat. It is only allowed before writing starts, and the
// remaining participants keep their colors.
func (r *Registry) Remove(state *models.GameState, token string) error {
	token = NormalizeToken(token)
	if state.Status != models.GameStatusWaitingForPlayers {
		return models.WrongPhase("removing a participant", state.Status)
	}
	p, ok := state.Participants[token]
	if !ok {
		return models.ErrParticipantNotFound
	}
	if p.ConnectionID != "" {
		delete(state.Connections, p.ConnectionID)
	}
	delete(state.Participants, token)
	return nil
}
