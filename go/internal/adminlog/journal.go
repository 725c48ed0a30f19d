package adminlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/promptclash/go/internal/clock"
	"github.com/mcdev12/promptclash/go/internal/gateway"
	"github.com/mcdev12/promptclash/go/internal/models"
	"github.com/mcdev12/promptclash/go/internal/store"
)

// Broadcaster is the slice of the gateway the journal needs.
type Broadcaster interface {
	Broadcast(eventType gateway.EventType, data any)
}

// Journal is the admin-facing log stream. Entries are kept in a capped list
// in the store, pushed live as admin:log, and mirrored to the process log.
type Journal struct {
	store       store.Store
	broadcaster Broadcaster
	clock       clock.Clock
	max         int
}

// NewJournal creates a journal. broadcaster may be nil.
func NewJournal(s store.Store, broadcaster Broadcaster, c clock.Clock) *Journal {
	if c == nil {
		c = clock.Real()
	}
	return &Journal{store: s, broadcaster: broadcaster, clock: c, max: models.MaxLogEntries}
}

// SetBroadcaster wires the live stream after construction.
func (j *Journal) SetBroadcaster(b Broadcaster) {
	j.broadcaster = b
}

// Log records one entry. Persistence failures are reported to the process
// log only; an admin log line never fails the caller.
func (j *Journal) Log(ctx context.Context, level models.LogLevel, message string) models.LogEntry {
	if !level.Valid() {
		level = models.LogLevelInfo
	}
	entry := models.LogEntry{
		Timestamp: j.clock.Now().UTC(),
		Message:   message,
		Level:     level,
	}

	mirror(entry)

	raw, err := json.Marshal(entry)
	if err == nil {
		err = j.store.ListAppend(ctx, store.KeyGameLogs, raw, j.max)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to persist admin log entry")
	}

	if j.broadcaster != nil {
		j.broadcaster.Broadcast(gateway.EventTypeAdminLog, entry)
	}
	return entry
}

func (j *Journal) Info(ctx context.Context, format string, args ...any) {
	j.Log(ctx, models.LogLevelInfo, fmt.Sprintf(format, args...))
}

func (j *Journal) Success(ctx context.Context, format string, args ...any) {
	j.Log(ctx, models.LogLevelSuccess, fmt.Sprintf(format, args...))
}

func (j *Journal) Warn(ctx context.Context, format string, args ...any) {
	j.Log(ctx, models.LogLevelWarning, fmt.Sprintf(format, args...))
}

func (j *Journal) Error(ctx context.Context, format string, args ...any) {
	j.Log(ctx, models.LogLevelError, fmt.Sprintf(format, args...))
}

// List returns the retained entries oldest first.
func (j *Journal) List(ctx context.Context) ([]models.LogEntry, error) {
	raw, err := j.store.List(ctx, store.KeyGameLogs)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin logs: %w", err)
	}
	entries := make([]models.LogEntry, 0, len(raw))
	for _, r := range raw {
		var e models.LogEntry
		if err := json.Unmarshal(r, &e); err != nil {
			log.Warn().Err(err).Msg("skipping corrupt admin log entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func mirror(entry models.LogEntry) {
	var ev *zerolog.Event
	switch entry.Level {
	case models.LogLevelError:
		ev = log.Error()
	case models.LogLevelWarning:
		ev = log.Warn()
	default:
		ev = log.Info()
	}
	ev.Str("source", "admin").Str("level_name", string(entry.Level)).Msg(entry.Message)
}
