package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/mcdev12/promptclash/go/internal/dbconfig"
	"github.com/mcdev12/promptclash/go/internal/store"
)

func main() {
	reset := pflag.Bool("reset", false, "also delete the stored game state and admin log")
	pflag.Parse()

	_ = godotenv.Load()
	ctx := context.Background()

	// 1) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 2) Apply the embedded schema
	if err := store.Migrate(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("schema applied to %s\n", cfg.Redacted())

	if !*reset {
		return
	}

	// 3) Optionally clear live state; round history is kept
	s := store.NewPostgresStore(pool)
	for _, key := range []string{store.KeyGameState, store.KeyGameLogs} {
		if err := s.Delete(ctx, key); err != nil {
			fmt.Fprintf(os.Stderr, "delete %s: %v\n", key, err)
			os.Exit(1)
		}
		fmt.Printf("deleted %s\n", key)
	}
}
