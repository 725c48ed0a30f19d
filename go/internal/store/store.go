package store

import (
	"context"
	"errors"
)

// Keys used by the game.
const (
	KeyGameState   = "game:state"
	KeyGameLogs    = "game:logs"
	KeyGameHistory = "game:history"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("store: key not found")

// UpdateFunc receives the current value (nil when the key is missing) and
// returns the value to write. Returning nil bytes leaves the key unchanged.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is the persistence boundary for game state, logs and history.
// Update is the single-writer primitive: fn runs while no other Update on
// the same key can interleave.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// ListAppend pushes value and trims the list to its newest max entries.
	ListAppend(ctx context.Context, key string, value []byte, max int) error
	// List returns entries oldest first.
	List(ctx context.Context, key string) ([][]byte, error)
	Close() error
}
