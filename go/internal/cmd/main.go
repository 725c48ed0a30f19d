package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/promptclash/go/internal/generation"
	"github.com/mcdev12/promptclash/go/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCmd(&Config{}).ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("promptclash failed")
	}
}

func run(ctx context.Context, cfg *Config) error {
	if cfg.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	catalogue, err := generation.LoadCatalogue(cfg.modelsFile)
	if err != nil {
		return err
	}
	if cfg.model == "" {
		cfg.model = catalogue.Default
	}
	if _, ok := catalogue.Lookup(cfg.model); !ok {
		return fmt.Errorf("model %q is not in the catalogue", cfg.model)
	}

	infra, err := setupInfrastructure(ctx, cfg)
	if err != nil {
		return err
	}
	defer infra.Close()

	services, err := setupServices(cfg, infra, catalogue)
	if err != nil {
		return err
	}
	server := setupServer(cfg, services)

	go func() {
		if err := services.Gateway.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()
	go services.Orchestrator.Consume(ctx, services.Game.GenerationRequests())
	go services.Engine.Run(ctx, cfg.tickInterval, services.Game.Tick)

	if infra.Notifier != nil {
		go func() {
			err := infra.Notifier.Start(ctx, func(key string) {
				if key == "" || key == store.KeyGameState {
					services.Gateway.Refresh(ctx)
				}
			})
			if err != nil {
				log.Error().Err(err).Msg("state change listener failed")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("store", cfg.store).
			Str("model", cfg.model).
			Bool("relay", cfg.natsURL != "").
			Msg("promptclash listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
