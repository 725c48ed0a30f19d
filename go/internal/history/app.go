package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/promptclash/go/internal/models"
)

// Repository defines what the app layer needs from storage
type Repository interface {
	Record(ctx context.Context, record models.RoundRecord) error
	ListBySession(ctx context.Context, sessionID string) ([]models.RoundRecord, error)
}

// App handles round archive business logic
type App struct {
	repo Repository
}

// NewApp creates a new history App
func NewApp(repo Repository) *App {
	return &App{repo: repo}
}

// BuildRecord captures the outcome of a finished round.
func BuildRecord(state *models.GameState, endedAt time.Time) models.RoundRecord {
	winners := make(map[string]bool)
	for _, w := range state.Winners() {
		winners[w.Token] = true
	}
	record := models.RoundRecord{
		ID:        uuid.New().String(),
		SessionID: state.SessionID,
		Round:     state.Round,
		Theme:     state.Theme,
		EndedAt:   endedAt.UTC(),
	}
	for _, p := range state.OrderedParticipants() {
		res := models.RoundResult{
			Token:       p.Token,
			DisplayName: p.DisplayName,
			Color:       p.Color,
			Prompt:      p.Prompt,
			Votes:       p.Votes,
			Winner:      winners[p.Token],
		}
		if p.ImageURL != nil {
			url := *p.ImageURL
			res.ImageURL = &url
		}
		record.Results = append(record.Results, res)
	}
	return record
}

// Archive validates and stores a record.
func (a *App) Archive(ctx context.Context, record models.RoundRecord) error {
	if err := validateRecord(record); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := a.repo.Record(ctx, record); err != nil {
		return fmt.Errorf("failed to archive round: %w", err)
	}
	return nil
}

// ListBySession returns archived rounds of a session, oldest first.
func (a *App) ListBySession(ctx context.Context, sessionID string) ([]models.RoundRecord, error) {
	records, err := a.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	if records == nil {
		records = []models.RoundRecord{}
	}
	return records, nil
}

func validateRecord(r models.RoundRecord) error {
	if r.SessionID == "" {
		return errors.New("session id is required")
	}
	if r.Round <= 0 {
		return errors.New("round must be positive")
	}
	if r.ID == "" {
		return errors.New("record id is required")
	}
	return nil
}
