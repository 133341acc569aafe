package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

// Connect opens a libsql database. A plain path is treated as an embedded
// database file (created on demand); a DSN starting with "file:", "libsql:"
// or "http" is passed through unchanged.
func Connect(ctx context.Context, dsn string, logger zerolog.Logger) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database DSN")
	}

	if !hasScheme(dsn) {
		if err := ensureFile(dsn, logger); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL", dsn)
	}

	logger.Debug().Str("dsn", dsn).Msg("Connecting to libsql")

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}

	if err := verify(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func hasScheme(dsn string) bool {
	for _, prefix := range []string{"file:", "libsql:", "http://", "https://"} {
		if strings.HasPrefix(dsn, prefix) {
			return true
		}
	}
	return false
}

func ensureFile(path string, logger zerolog.Logger) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create database directory %s: %w", dir, err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info().Str("path", path).Msg("Database not found, creating a new one")
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("could not create db at path %s: %w", path, err)
		}
		file.Close()
	}
	return nil
}

func verify(ctx context.Context, db *sql.DB) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}
	return nil
}
