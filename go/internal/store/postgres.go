package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/promptclash/go/internal/sqlutil"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying "<instance>:<key>".
const NotifyChannel = "promptclash_state"

//go:embed schema.sql
var Schema string

// Migrate applies the embedded schema. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// PostgresStore keeps keys in kv_store and lists in kv_list. Update
// serializes writers per key with a transaction-scoped advisory lock, so
// several server instances can share one database.
type PostgresStore struct {
	pool       *pgxpool.Pool
	instanceID string
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:       pool,
		instanceID: uuid.New().String()[:8],
	}
}

// InstanceID identifies this process in change notifications.
func (s *PostgresStore) InstanceID() string {
	return s.instanceID
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	return sqlutil.RunTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := upsert(ctx, tx, key, value); err != nil {
			return err
		}
		return s.notify(ctx, tx, key)
	})
}

func (s *PostgresStore) Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	var result []byte
	err := sqlutil.RunTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockKey(ctx, tx, key); err != nil {
			return err
		}

		var current []byte
		err := tx.QueryRow(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			result = current
			return nil
		}
		if err := upsert(ctx, tx, key, next); err != nil {
			return err
		}
		result = next
		return s.notify(ctx, tx, key)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	return sqlutil.RunTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM kv_store WHERE key = $1`, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM kv_list WHERE key = $1`, key); err != nil {
			return fmt.Errorf("failed to delete list %s: %w", key, err)
		}
		return s.notify(ctx, tx, key)
	})
}

func (s *PostgresStore) ListAppend(ctx context.Context, key string, value []byte, max int) error {
	return sqlutil.RunTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockKey(ctx, tx, key); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO kv_list (key, value) VALUES ($1, $2)`, key, value); err != nil {
			return fmt.Errorf("failed to append to %s: %w", key, err)
		}
		if max > 0 {
			_, err := tx.Exec(ctx, `
				DELETE FROM kv_list
				WHERE key = $1 AND id NOT IN (
					SELECT id FROM kv_list WHERE key = $1 ORDER BY id DESC LIMIT $2
				)`, key, max)
			if err != nil {
				return fmt.Errorf("failed to trim %s: %w", key, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) List(ctx context.Context, key string) ([][]byte, error) {
	rows, err := s.pool.Query(ctx, `SELECT value FROM kv_list WHERE key = $1 ORDER BY id`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", key, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", key, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func lockKey(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to lock %s: %w", key, err)
	}
	return nil
}

func upsert(ctx context.Context, tx pgx.Tx, key string, value []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) notify(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, s.instanceID+":"+key); err != nil {
		return fmt.Errorf("failed to notify %s: %w", key, err)
	}
	return nil
}
