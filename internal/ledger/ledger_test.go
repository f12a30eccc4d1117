package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/image-converter/internal/domain"
	"github.com/cuongbtq/image-converter/internal/jobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]Entry
	err     error
}

func (w *fakeWriter) WriteEntries(_ context.Context, entries []Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, append([]Entry(nil), entries...))
	return nil
}

func (w *fakeWriter) entries() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Entry
	for _, b := range w.batches {
		out = append(out, b...)
	}
	return out
}

func (w *fakeWriter) batchSizes() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	sizes := make([]int, 0, len(w.batches))
	for _, b := range w.batches {
		sizes = append(sizes, len(b))
	}
	return sizes
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func event(id string, from, to domain.Status) jobstore.Event {
	return jobstore.Event{
		Kind: jobstore.EventTransitioned,
		From: from,
		Record: domain.Record{
			ID:     id,
			Type:   domain.JobTypeResizeImage,
			Status: to,
		},
		At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func startLedger(t *testing.T, l *Ledger) (cancel func()) {
	t.Helper()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			stop()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Error("ledger did not stop")
			}
		})
	}
	t.Cleanup(cancel)
	return cancel
}

func TestEntryFromEvent(t *testing.T) {
	e := event("job-1", domain.StatusProcessing, domain.StatusFailed)
	e.Record.Error = "boom"

	got := EntryFromEvent(e)
	assert.Equal(t, Entry{
		JobID:        "job-1",
		JobType:      "ResizeImage",
		Event:        "transitioned",
		FromStatus:   "Processing",
		ToStatus:     "Failed",
		ErrorMessage: "boom",
		OccurredAt:   e.At,
	}, got)
}

func TestLedger_RecordsStoreLifecycle(t *testing.T) {
	w := &fakeWriter{}
	l := New(w, Config{FlushInterval: 10 * time.Millisecond}, discardLogger())
	startLedger(t, l)

	s := jobstore.New(jobstore.WithObserver(l))
	require.NoError(t, s.Create(domain.Record{ID: "job-1", Type: domain.JobTypeConvertToPNG}))
	require.NoError(t, s.UpdateStatus("job-1", domain.StatusProcessing))
	require.NoError(t, s.UpdateStatus("job-1", domain.StatusCompleted, jobstore.WithResultLocation("job-1.png")))
	s.Delete("job-1")

	require.Eventually(t, func() bool { return len(w.entries()) == 4 }, time.Second, 5*time.Millisecond)

	entries := w.entries()
	assert.Equal(t, "created", entries[0].Event)
	assert.Equal(t, "Pending", entries[0].ToStatus)
	assert.Equal(t, "Processing", entries[1].ToStatus)
	assert.Equal(t, "Completed", entries[2].ToStatus)
	assert.Equal(t, "job-1.png", entries[2].ResultLocation)
	assert.Equal(t, "removed", entries[3].Event)
	assert.Equal(t, int64(4), l.Written())
}

func TestLedger_FlushesFullBatches(t *testing.T) {
	w := &fakeWriter{}
	l := New(w, Config{BatchSize: 2, FlushInterval: time.Hour}, discardLogger())
	startLedger(t, l)

	for i := 0; i < 4; i++ {
		l.JobChanged(event("job", domain.StatusPending, domain.StatusProcessing))
	}

	require.Eventually(t, func() bool { return len(w.entries()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{2, 2}, w.batchSizes())
}

func TestLedger_FinalFlushOnCancel(t *testing.T) {
	w := &fakeWriter{}
	l := New(w, Config{FlushInterval: time.Hour}, discardLogger())
	cancel := startLedger(t, l)

	for i := 0; i < 3; i++ {
		l.JobChanged(event("job", domain.StatusPending, domain.StatusProcessing))
	}
	cancel()

	assert.Len(t, w.entries(), 3)
	assert.Zero(t, l.Dropped())
}

func TestLedger_DropsWhenBufferFull(t *testing.T) {
	w := &fakeWriter{}
	l := New(w, Config{BufferSize: 2}, discardLogger())

	for i := 0; i < 5; i++ {
		l.JobChanged(event("job", domain.StatusPending, domain.StatusProcessing))
	}

	assert.Equal(t, int64(3), l.Dropped())
	assert.Len(t, l.entries, 2)
}

func TestLedger_WriteErrorDiscardsBatch(t *testing.T) {
	w := &fakeWriter{err: errors.New("database is down")}
	l := New(w, Config{FlushInterval: time.Hour}, discardLogger())
	cancel := startLedger(t, l)

	l.JobChanged(event("job", domain.StatusPending, domain.StatusProcessing))
	cancel()

	assert.Empty(t, w.entries())
	assert.Zero(t, l.Written())
}

type fakeExecutor struct {
	queries []string
	args    []any
	err     error
}

func (e *fakeExecutor) ExecContext(_ context.Context, query string, args ...any) error {
	e.queries = append(e.queries, query)
	return e.err
}

func (e *fakeExecutor) NamedExecContext(_ context.Context, query string, arg any) (int64, error) {
	e.queries = append(e.queries, query)
	e.args = append(e.args, arg)
	return 1, e.err
}

func TestPostgresWriter(t *testing.T) {
	t.Run("migrate creates table", func(t *testing.T) {
		db := &fakeExecutor{}
		require.NoError(t, NewPostgresWriter(db).Migrate(context.Background()))
		require.Len(t, db.queries, 1)
		assert.Contains(t, db.queries[0], "CREATE TABLE IF NOT EXISTS job_transitions")
	})

	t.Run("batch insert", func(t *testing.T) {
		db := &fakeExecutor{}
		entries := []Entry{EntryFromEvent(event("a", "", domain.StatusPending)), EntryFromEvent(event("b", "", domain.StatusPending))}

		require.NoError(t, NewPostgresWriter(db).WriteEntries(context.Background(), entries))
		require.Len(t, db.args, 1)
		assert.Equal(t, entries, db.args[0])
		assert.Contains(t, db.queries[0], "INSERT INTO job_transitions")
	})

	t.Run("empty batch is skipped", func(t *testing.T) {
		db := &fakeExecutor{}
		require.NoError(t, NewPostgresWriter(db).WriteEntries(context.Background(), nil))
		assert.Empty(t, db.queries)
	})

	t.Run("errors are wrapped", func(t *testing.T) {
		cause := errors.New("relation does not exist")
		db := &fakeExecutor{err: cause}
		err := NewPostgresWriter(db).WriteEntries(context.Background(), []Entry{{JobID: "a"}})
		assert.ErrorIs(t, err, cause)
	})
}
