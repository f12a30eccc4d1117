// Package ledger appends every job store change to a durable audit trail.
//
// The trail is write-only: nothing in the service reads it back, and losing
// entries never affects job processing.
package ledger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/image-converter/internal/jobstore"
)

// Defaults
const (
	DefaultBufferSize    = 1024
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second
	DefaultFlushTimeout  = 5 * time.Second
)

// Entry is one row of the audit trail.
type Entry struct {
	JobID          string    `db:"job_id"`
	JobType        string    `db:"job_type"`
	Event          string    `db:"event"`
	FromStatus     string    `db:"from_status"`
	ToStatus       string    `db:"to_status"`
	ErrorMessage   string    `db:"error_message"`
	ResultLocation string    `db:"result_location"`
	OccurredAt     time.Time `db:"occurred_at"`
}

// EntryFromEvent converts a store event into a ledger entry.
func EntryFromEvent(e jobstore.Event) Entry {
	return Entry{
		JobID:          e.Record.ID,
		JobType:        string(e.Record.Type),
		Event:          string(e.Kind),
		FromStatus:     string(e.From),
		ToStatus:       string(e.Record.Status),
		ErrorMessage:   e.Record.Error,
		ResultLocation: e.Record.ResultLocation,
		OccurredAt:     e.At,
	}
}

// Writer persists batches of entries.
type Writer interface {
	WriteEntries(ctx context.Context, entries []Entry) error
}

// Config holds ledger settings
type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// FlushTimeout bounds the final flush after Run's context is canceled.
	FlushTimeout time.Duration
}

// Ledger is a jobstore.Observer that buffers events and writes them in
// batches from its own goroutine.
type Ledger struct {
	writer  Writer
	cfg     Config
	logger  *slog.Logger
	entries chan Entry
	dropped atomic.Int64
	written atomic.Int64
}

// New creates a ledger writing to w.
func New(w Writer, cfg Config, logger *slog.Logger) *Ledger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	return &Ledger{
		writer:  w,
		cfg:     cfg,
		logger:  logger,
		entries: make(chan Entry, cfg.BufferSize),
	}
}

// JobChanged enqueues the event without blocking. When the buffer is full the
// entry is dropped.
func (l *Ledger) JobChanged(e jobstore.Event) {
	select {
	case l.entries <- EntryFromEvent(e):
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("Ledger buffer full, dropping entries",
				slog.Int64("dropped_total", n),
				slog.String("job_id", e.Record.ID),
			)
		}
	}
}

// Dropped returns how many entries were discarded because the buffer was full.
func (l *Ledger) Dropped() int64 {
	return l.dropped.Load()
}

// Written returns how many entries were persisted.
func (l *Ledger) Written() int64 {
	return l.written.Load()
}

// Run writes buffered entries until ctx is canceled, then flushes what is
// left within FlushTimeout.
func (l *Ledger) Run(ctx context.Context) error {
	l.logger.Info("Job ledger started",
		slog.Int("buffer_size", l.cfg.BufferSize),
		slog.Int("batch_size", l.cfg.BatchSize),
	)

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, l.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			batch = l.drain(batch)
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.FlushTimeout)
			l.flush(flushCtx, batch)
			cancel()
			l.logger.Info("Job ledger stopped",
				slog.Int64("written", l.Written()),
				slog.Int64("dropped", l.Dropped()),
			)
			return nil
		case entry := <-l.entries:
			batch = append(batch, entry)
			if len(batch) >= l.cfg.BatchSize {
				batch = l.flush(ctx, batch)
			}
		case <-ticker.C:
			batch = l.flush(ctx, batch)
		}
	}
}

// drain moves every buffered entry into batch.
func (l *Ledger) drain(batch []Entry) []Entry {
	for {
		select {
		case entry := <-l.entries:
			batch = append(batch, entry)
		default:
			return batch
		}
	}
}

// flush writes batch and returns it emptied. A failed batch is logged and
// discarded.
func (l *Ledger) flush(ctx context.Context, batch []Entry) []Entry {
	if len(batch) == 0 {
		return batch
	}
	for start := 0; start < len(batch); start += l.cfg.BatchSize {
		end := min(start+l.cfg.BatchSize, len(batch))
		chunk := batch[start:end]
		if err := l.writer.WriteEntries(ctx, chunk); err != nil {
			l.logger.Error("Failed to write ledger entries",
				slog.Int("entries", len(chunk)),
				slog.String("error", err.Error()),
			)
			continue
		}
		l.written.Add(int64(len(chunk)))
	}
	return batch[:0]
}
