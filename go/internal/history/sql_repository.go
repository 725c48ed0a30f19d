package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/promptclash/go/internal/models"
	"github.com/mcdev12/promptclash/go/internal/sqlutil"
)

// SQLRepository stores history in the round_history table.
type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// Record inserts a round; re-archiving the same session round replaces it.
func (r *SQLRepository) Record(ctx context.Context, record models.RoundRecord) error {
	id, err := uuid.Parse(record.ID)
	if err != nil {
		return fmt.Errorf("invalid record id: %w", err)
	}
	var results []byte
	if len(record.Results) > 0 {
		results, err = json.Marshal(record.Results)
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
	}

	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO round_history (id, session_id, round, theme, results, ended_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (session_id, round) DO UPDATE
			SET theme = EXCLUDED.theme, results = EXCLUDED.results, ended_at = EXCLUDED.ended_at`,
			id,
			record.SessionID,
			record.Round,
			sqlutil.ToSqlStringNonEmpty(record.Theme),
			pqtype.NullRawMessage{RawMessage: results, Valid: len(results) > 0},
			record.EndedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert round history: %w", err)
		}
		return nil
	})
}

func (r *SQLRepository) ListBySession(ctx context.Context, sessionID string) ([]models.RoundRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, round, theme, results, ended_at
		FROM round_history
		WHERE session_id = $1
		ORDER BY round`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query round history: %w", err)
	}
	defer rows.Close()

	var out []models.RoundRecord
	for rows.Next() {
		var (
			id      uuid.UUID
			rec     models.RoundRecord
			theme   sql.NullString
			results pqtype.NullRawMessage
		)
		if err := rows.Scan(&id, &rec.SessionID, &rec.Round, &theme, &results, &rec.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan round history: %w", err)
		}
		rec.ID = id.String()
		rec.Theme = sqlutil.FromSqlString(theme, "")
		if results.Valid {
			if err := json.Unmarshal(results.RawMessage, &rec.Results); err != nil {
				return nil, fmt.Errorf("failed to decode results for round %d: %w", rec.Round, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
