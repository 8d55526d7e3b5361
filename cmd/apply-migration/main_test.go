package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"device-management/internal/config"
	"device-management/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPrintSchema(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--print", "--driver", "sqlite3"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "CREATE TABLE IF NOT EXISTS automation_scenarios")
}

func TestPrintSchema_UnknownDriver(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--print", "--driver", "mysql"})

	assert.Error(t, cmd.Execute())
}

func TestMigrate_SQLite(t *testing.T) {
	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite3", Path: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	file := filepath.Join(t.TempDir(), "001_seed.sql")
	require.NoError(t, os.WriteFile(file, []byte(`
-- seed
INSERT INTO users (id, email, name, registered_at) VALUES ('u-1', 'a@example.com', 'A', CURRENT_TIMESTAMP);
`), 0o644))

	ctx := context.Background()
	require.NoError(t, migrate(ctx, db, "sqlite3", []string{file}, zap.NewNop()))

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n))
	assert.Equal(t, 1, n)

	err = migrate(ctx, db, "sqlite3", []string{filepath.Join(t.TempDir(), "missing.sql")}, zap.NewNop())
	assert.Error(t, err)
}
