package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lampioni/lampioni/internal/datadir"
	"github.com/lampioni/lampioni/internal/fetcher"
	"github.com/lampioni/lampioni/internal/provider"
	"github.com/lampioni/lampioni/internal/store"
)

// runEnv holds what the daily and prune commands share.
type runEnv struct {
	Dir      *datadir.Dir
	Store    store.Store
	Selector *provider.Selector
	Query    provider.Query
	Baseline time.Time
}

// Close releases the run ledger.
func (e *runEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initRunEnv validates the configuration and builds the provider chain and
// the run ledger. Callers should defer env.Close().
func initRunEnv(ctx context.Context) (*runEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sel, err := initSelector()
	if err != nil {
		return nil, err
	}
	q, err := cfg.BaseQuery()
	if err != nil {
		return nil, err
	}
	baseline, err := cfg.BaselineTime()
	if err != nil {
		return nil, err
	}

	return &runEnv{
		Dir:      datadir.New(cfg.Data.Dir),
		Store:    initStore(ctx),
		Selector: sel,
		Query:    q,
		Baseline: baseline,
	}, nil
}

// initSelector wires one HTTP fetcher into both dialect clients.
func initSelector() (*provider.Selector, error) {
	eps, err := cfg.Endpoints()
	if err != nil {
		return nil, err
	}
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:         cfg.Fetch.UserAgent,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
	})
	clients := map[provider.Kind]provider.Client{
		provider.KindOverpass: provider.NewOverpassClient(f),
		provider.KindPostpass: provider.NewPostpassClient(f),
	}
	return provider.NewSelector(eps, clients, cfg.SelectorOptions()), nil
}

// initStore opens the run ledger. Ledger problems never block a run, so a
// failure degrades to the no-op store.
func initStore(ctx context.Context) store.Store {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		zap.L().Warn("run ledger unavailable, runs will not be recorded",
			zap.String("driver", cfg.Store.Driver),
			zap.Error(err),
		)
		return store.Nop{}
	}
	return st
}

// openStore opens the run ledger for commands that only read it.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open run ledger")
	}
	return st, nil
}
