package application

import (
	"context"
	"fmt"
	"log/slog"

	"thirdcoast.systems/youmood/internal/config"
	"thirdcoast.systems/youmood/internal/db"
	"thirdcoast.systems/youmood/internal/db/sqlite"
	"thirdcoast.systems/youmood/internal/workstore"
)

// Intervals derives the store's scheduling windows from the configuration.
func Intervals(conf config.Config) workstore.Intervals {
	return workstore.Intervals{
		Processing:  conf.Pipeline.ProcessingInterval,
		Sync:        conf.Discovery.SyncInterval,
		ScoreWindow: conf.Pipeline.ScoreWindow,
	}
}

// OpenStore connects to the configured database, applies migrations and
// returns the work store together with a function releasing it. SQLite is
// used when DATABASE_DSN starts with "sqlite:" or "file:", Postgres
// otherwise.
func OpenStore(ctx context.Context, conf config.Config) (workstore.Store, func(), error) {
	intervals := Intervals(conf)

	if sqlite.IsDSN(conf.DatabaseDSN) {
		s, err := sqlite.Open(ctx, conf.DatabaseDSN, intervals)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		slog.Info("Using SQLite work store")
		return s, func() { s.Close() }, nil
	}

	pool, err := OpenDBPoolWithRetry(ctx, conf)
	if err != nil {
		return nil, nil, err
	}

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := dbc.Migrate(ctx); err != nil {
		dbc.Close()
		return nil, nil, fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
	}
	slog.Info("Using PostgreSQL work store")
	return db.NewStore(dbc, intervals), dbc.Close, nil
}
