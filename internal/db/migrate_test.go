package db

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "migrations/001_init.sql", names[0])

	body, err := migrationFS.ReadFile(names[0])
	require.NoError(t, err)
	for _, table := range []string{"transactions", "ledger_entries", "gateway_credentials", "audit_logs"} {
		assert.True(t, strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table), table)
	}
}

func TestMigrateIntegration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	ctx := context.Background()
	pool, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	_, err = Migrate(ctx, pool)
	require.NoError(t, err)

	// second run applies nothing
	applied, err := Migrate(ctx, pool)
	require.NoError(t, err)
	assert.Empty(t, applied)

	list, err := Migrations(ctx, pool)
	require.NoError(t, err)
	for _, m := range list {
		assert.True(t, m.Applied, m.Name)
	}
}
