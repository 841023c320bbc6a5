package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// OutboxSink appends events to a Postgres audit_outbox table through any
// pgx-compatible executor (pool, conn, or transaction). Append-only: rows
// are never updated or deleted by this process.
type OutboxSink struct {
	exec execer
}

// NewOutboxSink wraps an executor.
func NewOutboxSink(exec execer) (*OutboxSink, error) {
	if exec == nil {
		return nil, fmt.Errorf("audit: executor is required")
	}
	return &OutboxSink{exec: exec}, nil
}

// Record implements Sink.
func (s *OutboxSink) Record(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	query := `
		INSERT INTO audit_outbox (id, event_type, analyst_id, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.exec.Exec(ctx, query, evt.EventID, evt.EventType, evt.AnalystID, data); err != nil {
		return fmt.Errorf("audit: append event: %w", err)
	}
	return nil
}
