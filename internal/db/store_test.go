package db

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/youmood/internal/workstore"
	"thirdcoast.systems/youmood/internal/workstore/storetest"
)

// openTestStore connects to TEST_DATABASE_DSN, migrates it and empties the
// work tables. The tests share the database, so they must not run in parallel.
func openTestStore(t *testing.T) workstore.Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	dbc, err := NewDatabaseConnection(ctx, pool)
	require.NoError(t, err)
	t.Cleanup(dbc.Close)

	require.NoError(t, dbc.Migrate(ctx))
	_, err = dbc.Exec(ctx, "TRUNCATE video, channel")
	require.NoError(t, err)
	return NewStore(dbc, workstore.DefaultIntervals())
}

func TestSelection(t *testing.T) {
	storetest.RunSelection(t, openTestStore)
}
