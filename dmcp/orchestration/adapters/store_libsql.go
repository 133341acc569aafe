package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/ports"
)

// LibSQLRecordStore implements RecordStore on a migrated libsql database.
type LibSQLRecordStore struct {
	db *sql.DB
}

// NewLibSQLRecordStore creates a record store; the execution_records table must exist.
func NewLibSQLRecordStore(db *sql.DB) *LibSQLRecordStore {
	return &LibSQLRecordStore{db: db}
}

// SaveRecord inserts or replaces one record.
func (s *LibSQLRecordStore) SaveRecord(ctx context.Context, rec ports.StoredRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT OR REPLACE INTO execution_records (id, session_id, step_index, tool_name, failed, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	failed := 0
	if rec.Failed {
		failed = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.StepIndex, rec.ToolName, failed, string(rec.Payload), rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// LoadSession returns the last k records of a session, oldest first. k <= 0 loads all.
func (s *LibSQLRecordStore) LoadSession(ctx context.Context, sessionID string, k int) ([]ports.StoredRecord, error) {
	query := `
		SELECT id, session_id, step_index, tool_name, failed, payload, created_at
		FROM execution_records
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	if k <= 0 {
		k = -1
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []ports.StoredRecord
	for rows.Next() {
		var (
			rec     ports.StoredRecord
			failed  int
			payload string
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StepIndex, &rec.ToolName, &failed, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Failed = failed != 0
		rec.Payload = []byte(payload)
		rec.CreatedAt = time.Unix(0, created)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	// Reverse to get chronological order (oldest first)
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// DeleteSession removes every record of a session.
func (s *LibSQLRecordStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM execution_records WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session records: %w", err)
	}
	return nil
}

var _ ports.RecordStore = (*LibSQLRecordStore)(nil)
