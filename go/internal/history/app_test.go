package history

import (
	"context"
	"testing"
	"time"

	"github.com/mcdev12/promptclash/go/internal/models"
	"github.com/mcdev12/promptclash/go/internal/store"
)

func endedState() *models.GameState {
	s := models.NewGameState("session-1")
	s.Round = 2
	s.Theme = "Cats"
	s.Status = models.GameStatusEnded
	url := "https://img/a.webp"
	s.Participants["AB23"] = &models.Participant{Token: "AB23", DisplayName: "A", JoinOrder: 0, Votes: 3, ImageURL: &url, Prompt: "cat"}
	s.Participants["CD45"] = &models.Participant{Token: "CD45", DisplayName: "B", JoinOrder: 1, Votes: 1}
	return s
}

func TestBuildRecordMarksWinners(t *testing.T) {
	rec := BuildRecord(endedState(), time.Unix(100, 0))
	if rec.Round != 2 || rec.Theme != "Cats" || len(rec.Results) != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if w := rec.Winners(); len(w) != 1 || w[0] != "AB23" {
		t.Fatalf("winners = %v", w)
	}
	if rec.Results[0].ImageURL == nil || *rec.Results[0].ImageURL != "https://img/a.webp" {
		t.Fatalf("image url not archived")
	}
}

func TestStoreRepositoryFiltersBySession(t *testing.T) {
	ctx := context.Background()
	app := NewApp(NewStoreRepository(store.NewMemoryStore()))

	first := BuildRecord(endedState(), time.Unix(100, 0))
	other := BuildRecord(endedState(), time.Unix(200, 0))
	other.SessionID = "session-2"

	for _, r := range []models.RoundRecord{first, other} {
		if err := app.Archive(ctx, r); err != nil {
			t.Fatalf("Archive: %v", err)
		}
	}

	got, err := app.ListBySession(ctx, "session-1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(got) != 1 || got[0].ID != first.ID {
		t.Fatalf("got %d records for session-1", len(got))
	}

	empty, err := app.ListBySession(ctx, "nobody")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("empty session should give empty slice, got %v, %v", empty, err)
	}
}

func TestArchiveValidates(t *testing.T) {
	app := NewApp(NewStoreRepository(store.NewMemoryStore()))
	if err := app.Archive(context.Background(), models.RoundRecord{ID: "x", Round: 1}); err == nil {
		t.Fatalf("missing session id should fail")
	}
}
