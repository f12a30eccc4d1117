package ledger

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_transitions (
	id              BIGSERIAL PRIMARY KEY,
	job_id          UUID        NOT NULL,
	job_type        TEXT        NOT NULL,
	event           TEXT        NOT NULL,
	from_status     TEXT        NOT NULL DEFAULT '',
	to_status       TEXT        NOT NULL,
	error_message   TEXT        NOT NULL DEFAULT '',
	result_location TEXT        NOT NULL DEFAULT '',
	occurred_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_transitions_job_id ON job_transitions (job_id, occurred_at);
`

const insertEntries = `
INSERT INTO job_transitions (
	job_id, job_type, event, from_status, to_status, error_message, result_location, occurred_at
) VALUES (
	:job_id, :job_type, :event, :from_status, :to_status, :error_message, :result_location, :occurred_at
)`

// Executor is the subset of the PostgreSQL client used by the ledger.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (int64, error)
}

// PostgresWriter appends entries to the job_transitions table.
type PostgresWriter struct {
	db Executor
}

// NewPostgresWriter creates a writer over db.
func NewPostgresWriter(db Executor) *PostgresWriter {
	return &PostgresWriter{db: db}
}

// Migrate creates the job_transitions table when it does not exist.
func (w *PostgresWriter) Migrate(ctx context.Context) error {
	if err := w.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// WriteEntries inserts entries in a single batch statement.
func (w *PostgresWriter) WriteEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if _, err := w.db.NamedExecContext(ctx, insertEntries, entries); err != nil {
		return fmt.Errorf("failed to insert %d ledger entries: %w", len(entries), err)
	}
	return nil
}
