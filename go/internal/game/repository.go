package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/promptclash/go/internal/clock"
	"github.com/mcdev12/promptclash/go/internal/models"
	"github.com/mcdev12/promptclash/go/internal/store"
)

// Repository owns the game:state record. Every write goes through Update,
// which the store serializes.
type Repository struct {
	store        store.Store
	clock        clock.Clock
	newSessionID func() string
}

// NewRepository creates a repository. A nil clock means the wall clock.
func NewRepository(s store.Store, c clock.Clock) *Repository {
	if c == nil {
		c = clock.Real()
	}
	return &Repository{
		store:        s,
		clock:        c,
		newSessionID: func() string { return uuid.New().String() },
	}
}

// Load returns the current state. A cold store is initialised with an IDLE
// state so every reader sees the same session id.
func (r *Repository) Load(ctx context.Context) (*models.GameState, error) {
	raw, err := r.store.Get(ctx, store.KeyGameState)
	if errors.Is(err, store.ErrNotFound) {
		return r.Update(ctx, func(*models.GameState) (bool, error) { return false, nil })
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load game state: %w", err)
	}
	return decodeState(raw)
}

// Update applies fn atomically. fn reports whether it changed the state;
// unchanged states are not written back.
func (r *Repository) Update(ctx context.Context, fn func(*models.GameState) (bool, error)) (*models.GameState, error) {
	var out *models.GameState
	_, err := r.store.Update(ctx, store.KeyGameState, func(current []byte) ([]byte, error) {
		var state *models.GameState
		cold := current == nil
		if cold {
			state = models.NewGameState(r.newSessionID())
		} else {
			decoded, err := decodeState(current)
			if err != nil {
				return nil, err
			}
			state = decoded
		}

		changed, err := fn(state)
		if err != nil {
			return nil, err
		}
		out = state
		if !changed && !cold {
			return nil, nil
		}
		state.UpdatedAt = r.clock.Now().UTC()
		return json.Marshal(state)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NewSessionID returns a fresh session identifier.
func (r *Repository) NewSessionID() string {
	return r.newSessionID()
}

func decodeState(raw []byte) (*models.GameState, error) {
	var state models.GameState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode game state: %w", err)
	}
	if state.Participants == nil {
		state.Participants = make(map[string]*models.Participant)
	}
	if state.Connections == nil {
		state.Connections = make(map[string]string)
	}
	if state.ValidTokens == nil {
		state.ValidTokens = []string{}
	}
	return &state, nil
}
