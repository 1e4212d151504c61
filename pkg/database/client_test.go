package database_test

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/test/util"
)

func TestNewClientRunsMigrations(t *testing.T) {
	client := util.SetupTestDatabase(t)
	ctx := context.Background()

	var n int
	err := client.Pool().QueryRow(ctx,
		`SELECT count(*) FROM information_schema.tables
		 WHERE table_schema = current_schema()
		   AND table_name IN ('sessions', 'participants', 'utterances',
		                      'interventions', 'interruptions', 'transcripts')`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 6, n, "all six tables must exist after migration")
}

func TestMigrationsAreIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	ctx := context.Background()

	baseConnStr := util.GetBaseConnectionString(t)
	schemaName := util.GenerateSchemaName(t)

	db, err := stdsql.Open("pgx", baseConnStr)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	t.Cleanup(func() {
		db, err := stdsql.Open("pgx", baseConnStr)
		if err != nil {
			return
		}
		defer db.Close() //nolint:errcheck
		_, _ = db.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
	})

	connStr := util.AddSearchPathToConnString(baseConnStr, schemaName)

	first, err := database.NewClientFromDSN(ctx, connStr)
	require.NoError(t, err)
	first.Close()

	// A second startup against the same schema sees ErrNoChange internally
	// and must come up clean.
	second, err := database.NewClientFromDSN(ctx, connStr)
	require.NoError(t, err)
	second.Close()
}

func TestHealthReportsPoolStats(t *testing.T) {
	client := util.SetupTestDatabase(t)

	status, err := database.Health(context.Background(), client.Pool())
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	assert.Positive(t, status.MaxConns)
	assert.GreaterOrEqual(t, status.ResponseTime, int64(0))
}
