package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/auctionintel/research-engine/internal/config"
	"github.com/auctionintel/research-engine/internal/executor"
	"github.com/auctionintel/research-engine/internal/orchestrator"
	"github.com/auctionintel/research-engine/internal/policy"
	"github.com/auctionintel/research-engine/internal/search"
	"github.com/auctionintel/research-engine/internal/store"
	"github.com/auctionintel/research-engine/pkg/oracle"
)

// engineEnv wires the full pipeline: store, oracle, search adapter,
// executor, and the job manager.
type engineEnv struct {
	cfg     *config.Config
	store   store.Store
	manager *orchestrator.Manager
}

func initEngine(ctx context.Context) (*engineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	pol, err := policy.Load(cfg.Search.PolicyPath)
	if err != nil {
		st.Close()
		return nil, err
	}

	client := oracle.NewClient(cfg.Oracle.Key, oracle.WithModel(cfg.Oracle.Model))
	adapter := search.New(client, pol, cfg.Search, cfg.Oracle)
	exec := executor.New(adapter, st, cfg.Research, cfg.Cache.TTL())
	manager := orchestrator.NewManager(st, exec, cfg.Research, cfg.Stream.SubscriberBuffer)

	return &engineEnv{cfg: cfg, store: st, manager: manager}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func (e *engineEnv) Close() {
	e.store.Close()
}
