package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/promptclash/go/internal/dbconfig"
	"github.com/mcdev12/promptclash/go/internal/store"
)

// Infrastructure holds the storage handles for the chosen store.
type Infrastructure struct {
	Store    store.Store
	Pool     *pgxpool.Pool
	DB       *sql.DB
	Notifier *store.Notifier
}

func setupInfrastructure(ctx context.Context, cfg *Config) (*Infrastructure, error) {
	if cfg.store == storeMemory {
		log.Info().Msg("using in-memory store")
		return &Infrastructure{Store: store.NewMemoryStore()}, nil
	}

	dbCfg := dbconfig.NewConfigFromEnv()
	pool, err := setupPool(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	database, err := setupDatabase(dbCfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	pg := store.NewPostgresStore(pool)
	notifierCfg := store.DefaultNotifierConfig()
	notifierCfg.DatabaseURL = dbCfg.DSN()
	notifierCfg.InstanceID = pg.InstanceID()
	notifier, err := store.NewNotifier(notifierCfg)
	if err != nil {
		database.Close()
		pool.Close()
		return nil, fmt.Errorf("failed to listen for state changes: %w", err)
	}

	log.Info().Str("database", dbCfg.Redacted()).Msg("connected to database")
	return &Infrastructure{Store: pg, Pool: pool, DB: database, Notifier: notifier}, nil
}

func setupPool(ctx context.Context, dbCfg dbconfig.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MaxConns = dbCfg.MaxConns
	poolCfg.MaxConnLifetime = dbCfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func setupDatabase(dbCfg dbconfig.Config) (*sql.DB, error) {
	database, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return database, nil
}

// Close releases every handle. The store closes the pool it wraps and the
// notifier closes itself when its context ends.
func (i *Infrastructure) Close() {
	if i.DB != nil {
		i.DB.Close()
	}
	if err := i.Store.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close store")
	}
}
