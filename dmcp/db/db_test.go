package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConnect_PlainPath tests that a plain path creates the database file.
func TestConnect_PlainPath(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "records.db")

	conn, err := Connect(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	defer conn.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)

	var v int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT 1").Scan(&v))
	assert.Equal(t, 1, v)
}

// TestConnect_EmptyDSN tests rejection of an empty DSN.
func TestConnect_EmptyDSN(t *testing.T) {
	_, err := Connect(context.Background(), "", zerolog.Nop())
	assert.Error(t, err)
}

// TestMigrate tests that migrations apply once and can be re-run.
func TestMigrate(t *testing.T) {
	ctx := context.Background()
	conn, err := Connect(ctx, filepath.Join(t.TempDir(), "migrate.db"), zerolog.Nop())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn))

	var name string
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'execution_records'").Scan(&name))
	assert.Equal(t, "execution_records", name)
}

// TestJSONPayload tests that stored record payloads are queryable with JSON1.
func TestJSONPayload(t *testing.T) {
	ctx := context.Background()
	conn, err := Connect(ctx, filepath.Join(t.TempDir(), "json.db"), zerolog.Nop())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, Migrate(ctx, conn))

	_, err = conn.ExecContext(ctx,
		`INSERT INTO execution_records (id, session_id, step_index, tool_name, failed, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"r1", "s1", 0, "view_purchase_order", 0, `{"parameters_used":{"po_number":"PO1"}}`, 1)
	require.NoError(t, err)

	var po string
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT json_extract(payload, '$.parameters_used.po_number') FROM execution_records WHERE id = ?", "r1").Scan(&po))
	assert.Equal(t, "PO1", po)
}
