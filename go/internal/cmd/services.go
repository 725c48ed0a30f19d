package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/promptclash/go/clients/replicate_client"
	"github.com/mcdev12/promptclash/go/internal/adminlog"
	"github.com/mcdev12/promptclash/go/internal/clock"
	"github.com/mcdev12/promptclash/go/internal/game"
	"github.com/mcdev12/promptclash/go/internal/gateway"
	"github.com/mcdev12/promptclash/go/internal/generation"
	"github.com/mcdev12/promptclash/go/internal/history"
)

type Services struct {
	Engine       *clock.Engine
	Journal      *adminlog.Journal
	Game         *game.App
	GameService  *game.Service
	Gateway      *gateway.Service
	Orchestrator *generation.Orchestrator
}

var errNoReplicateToken = errors.New("REPLICATE_API_TOKEN is not set")

// unconfiguredProvider fails every job so a round without credentials still
// settles and the admin log says why.
type unconfiguredProvider struct{}

func (unconfiguredProvider) Submit(context.Context, string, string) (string, error) {
	return "", errNoReplicateToken
}

func (unconfiguredProvider) Poll(context.Context, string) (generation.PollResult, error) {
	return generation.PollResult{}, errNoReplicateToken
}

func setupServices(cfg *Config, infra *Infrastructure, catalogue *generation.Catalogue) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Repository → App → Service, with the gateway wired back in.
	engine := clock.NewEngine(nil)
	journal := adminlog.NewJournal(infra.Store, nil, engine.Clock())

	var historyRepo history.Repository = history.NewStoreRepository(infra.Store)
	if infra.DB != nil {
		historyRepo = history.NewSQLRepository(infra.DB)
	}
	archive := history.NewApp(historyRepo)

	gameCfg := game.DefaultConfig()
	gameCfg.Model = cfg.model
	gameCfg.VotingSeconds = cfg.votingSeconds
	app := game.NewApp(game.NewRepository(infra.Store, engine.Clock()), engine, journal, archive, gameCfg)

	gatewayCfg := gateway.DefaultConfig()
	if cfg.natsURL != "" {
		relayCfg := gateway.DefaultRelayConfig()
		relayCfg.URL = cfg.natsURL
		gatewayCfg.Relay = &relayCfg
	}
	gw, err := gateway.NewService(gatewayCfg, app)
	if err != nil {
		return nil, err
	}
	gw.SetCommands(app.Commands())
	app.SetEmitter(gw)
	journal.SetBroadcaster(gw)

	genCfg := generation.DefaultConfig()
	genCfg.DefaultModel = cfg.model
	genCfg.Models = catalogue.Names()

	var provider generation.Provider = unconfiguredProvider{}
	if cfg.replicateToken != "" {
		client := replicate_client.NewReplicateClient(cfg.replicateToken, cfg.replicateURL)
		provider = generation.NewReplicateProvider(client, catalogue)
	} else {
		log.Warn().Msg("no Replicate token configured; image generation will fail")
	}
	orchestrator := generation.NewOrchestrator(provider, app, journal, genCfg)

	var generator game.Generator
	if cfg.replicateToken != "" {
		generator = orchestrator
	}

	return &Services{
		Engine:       engine,
		Journal:      journal,
		Game:         app,
		GameService:  game.NewService(app, generator, game.ServiceConfig{PublicURL: cfg.publicURL, AdminUser: cfg.adminUser, AdminPass: cfg.adminPass}),
		Gateway:      gw,
		Orchestrator: orchestrator,
	}, nil
}
