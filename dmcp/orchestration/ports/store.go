package orchestrationports

import (
	"context"
	"time"
)

// StoredRecord is the persisted form of one tool execution record.
type StoredRecord struct {
	ID        string
	SessionID string
	StepIndex int
	ToolName  string
	Failed    bool
	Payload   []byte // JSON encoded record
	CreatedAt time.Time
}

// RecordStore keeps execution records for the lifetime of a session.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec StoredRecord) error
	LoadSession(ctx context.Context, sessionID string, k int) ([]StoredRecord, error) // last-k records, oldest first
	DeleteSession(ctx context.Context, sessionID string) error
}
