package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/promptclash/go/internal/models"
	"github.com/mcdev12/promptclash/go/internal/store"
)

// MaxStoredRounds bounds the game:history list.
const MaxStoredRounds = 50

// StoreRepository keeps history as a capped list next to the game state.
type StoreRepository struct {
	store store.Store
}

func NewStoreRepository(s store.Store) *StoreRepository {
	return &StoreRepository{store: s}
}

func (r *StoreRepository) Record(ctx context.Context, record models.RoundRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal round record: %w", err)
	}
	return r.store.ListAppend(ctx, store.KeyGameHistory, raw, MaxStoredRounds)
}

func (r *StoreRepository) ListBySession(ctx context.Context, sessionID string) ([]models.RoundRecord, error) {
	raw, err := r.store.List(ctx, store.KeyGameHistory)
	if err != nil {
		return nil, err
	}
	var out []models.RoundRecord
	for _, item := range raw {
		var rec models.RoundRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			log.Warn().Err(err).Msg("skipping corrupt history entry")
			continue
		}
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Round < out[j].Round })
	return out, nil
}
