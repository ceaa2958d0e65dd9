package main

import (
	"context"
	"fmt"
	"log/slog"

	"slackbridge/internal/config"
	"slackbridge/internal/slack"
	"slackbridge/internal/store"
)

// dataStore is the union of the persistence interfaces both backends
// implement.
type dataStore interface {
	store.MessageWriter
	store.MessageReader
	store.UnitWriter
	store.CacheWriter
}

// openStore opens the configured storage backend.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (dataStore, func() error, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := store.OpenPostgres(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		js, err := store.NewJSONL(cfg.Store.Path, log)
		if err != nil {
			return nil, nil, err
		}
		return js, func() error { return nil }, nil
	}
}

// newClient builds the API client for the given credentials.
func newClient(cfg *config.Config, creds *slack.Credentials, log *slog.Logger) (*slack.Client, error) {
	client, err := slack.NewClient(creds, cfg.ClientConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("creating api client: %w", err)
	}
	return client, nil
}

// newCache builds the entity cache over the client, loading a snapshot
// when one is configured and present.
func newCache(cfg *config.Config, client *slack.Client, log *slog.Logger) (*slack.EntityCache, error) {
	cache := slack.NewEntityCache(client, cfg.Cache.TTL, cfg.Cache.IncludePrivate, log)
	if cfg.Cache.SnapshotPath != "" {
		if err := cache.Load(cfg.Cache.SnapshotPath); err != nil {
			return nil, fmt.Errorf("loading cache snapshot: %w", err)
		}
	}
	return cache, nil
}
