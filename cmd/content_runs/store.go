package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jonathan/content-runs/internal/config"
	"github.com/jonathan/content-runs/internal/db"
	"github.com/jonathan/content-runs/internal/db/sqlite"
	"github.com/jonathan/content-runs/internal/server"
	"github.com/jonathan/content-runs/internal/tracking"
	"github.com/jonathan/content-runs/internal/types"
)

// appStore is what every command needs from a database backend.
type appStore interface {
	tracking.Store
	server.Store
	SetUserRole(ctx context.Context, email string, role types.Role) error
	Migrate(ctx context.Context) error
}

// openStore opens the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (appStore, func(), error) {
	if path, ok := cfg.SQLitePath(); ok {
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[store] using sqlite database %s", path)
		return store, func() {
			if err := store.Close(); err != nil {
				log.Printf("[store] failed to close sqlite database: %v", err)
			}
		}, nil
	}

	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL environment variable or database.url is required")
	}
	store, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}
