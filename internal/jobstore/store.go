// Package jobstore keeps the authoritative in-memory registry of job records.
//
// Records are held per key, each behind its own mutex, so updates to
// different jobs never contend. Callers only ever receive copies.
package jobstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/image-converter/internal/domain"
)

var (
	// ErrMissingResultLocation is returned when completing a job without a result
	ErrMissingResultLocation = errors.New("completed status requires a result location")
)

const defaultFailureDetail = "unknown error"

// EventKind describes what happened to a record.
type EventKind string

const (
	EventCreated      EventKind = "created"
	EventTransitioned EventKind = "transitioned"
	EventRemoved      EventKind = "removed"
)

// Event is delivered to observers after every change.
type Event struct {
	Kind   EventKind
	From   domain.Status
	Record domain.Record
	At     time.Time
}

// Observer receives change events. JobChanged runs while the record is
// locked, so it must not call back into the store for the same job.
type Observer interface {
	JobChanged(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) JobChanged(e Event) { f(e) }

type entry struct {
	mu      sync.Mutex
	rec     domain.Record
	removed bool
}

// Store is a concurrent registry of job records.
type Store struct {
	jobs      sync.Map // job id -> *entry
	now       func() time.Time
	observers []Observer
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithObserver registers an observer for change events.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observers = append(s.observers, o) }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a new Pending record.
func (s *Store) Create(rec domain.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if rec.Status == "" {
		rec.Status = domain.StatusPending
	}
	if rec.Status != domain.StatusPending {
		return fmt.Errorf("%w: new job must be %s, got %s", domain.ErrInvalidTransition, domain.StatusPending, rec.Status)
	}
	if !rec.Type.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedJobType, rec.Type)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.Error = ""
	rec.ResultLocation = ""
	rec.StartedAt = nil
	rec.HeartbeatAt = nil
	rec.CompletedAt = nil

	e := &entry{rec: rec.Clone()}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, loaded := s.jobs.LoadOrStore(rec.ID, e); loaded {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateJob, rec.ID)
	}

	s.notify(Event{Kind: EventCreated, Record: e.rec.Clone(), At: s.now()})
	return nil
}

// Get returns a snapshot of the record.
func (s *Store) Get(id string) (domain.Record, bool) {
	e, ok := s.load(id)
	if !ok {
		return domain.Record{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return domain.Record{}, false
	}
	return e.rec.Clone(), true
}

// List returns snapshots of all records, most recently created first.
func (s *Store) List() []domain.Record {
	records := make([]domain.Record, 0)
	s.jobs.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		defer e.mu.Unlock()

		if !e.removed {
			records = append(records, e.rec.Clone())
		}
		return true
	})

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
	return records
}

type update struct {
	errorDetail    string
	resultLocation string
}

// UpdateOption sets optional fields of a status update.
type UpdateOption func(*update)

// WithError attaches the failure detail of a Failed transition.
func WithError(detail string) UpdateOption {
	return func(u *update) { u.errorDetail = detail }
}

// WithResultLocation attaches the result location of a Completed transition.
func WithResultLocation(location string) UpdateOption {
	return func(u *update) { u.resultLocation = location }
}

// UpdateStatus moves a job to status. An unknown id is a no-op. Edges outside
// domain.CanTransition return domain.ErrInvalidTransition and change nothing.
func (s *Store) UpdateStatus(id string, status domain.Status, opts ...UpdateOption) error {
	e, ok := s.load(id)
	if !ok {
		return nil
	}

	var u update
	for _, opt := range opts {
		opt(&u)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return nil
	}
	return s.transition(e, status, u)
}

// transition applies a status change to a locked entry.
func (s *Store) transition(e *entry, to domain.Status, u update) error {
	from := e.rec.Status
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: job %s %s -> %s", domain.ErrInvalidTransition, e.rec.ID, from, to)
	}
	if to == domain.StatusCompleted && u.resultLocation == "" {
		return fmt.Errorf("job %s: %w", e.rec.ID, ErrMissingResultLocation)
	}

	now := s.now()
	e.rec.Status = to

	switch to {
	case domain.StatusProcessing:
		// A reclaim keeps the original claim time.
		if e.rec.StartedAt == nil {
			e.rec.StartedAt = &now
		}
		e.rec.HeartbeatAt = &now
	case domain.StatusCompleted:
		e.rec.ResultLocation = u.resultLocation
		e.rec.Error = ""
		e.rec.CompletedAt = &now
	case domain.StatusFailed:
		detail := u.errorDetail
		if detail == "" {
			detail = defaultFailureDetail
		}
		e.rec.Error = detail
		e.rec.ResultLocation = ""
		e.rec.CompletedAt = &now
	}

	s.notify(Event{Kind: EventTransitioned, From: from, Record: e.rec.Clone(), At: now})
	return nil
}

// Heartbeat marks a Processing job as alive without changing its status.
// It emits no event. An unknown id is a no-op; any other status returns
// domain.ErrInvalidTransition.
func (s *Store) Heartbeat(id string) error {
	e, ok := s.load(id)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return nil
	}
	if e.rec.Status != domain.StatusProcessing {
		return fmt.Errorf("%w: job %s heartbeat while %s", domain.ErrInvalidTransition, id, e.rec.Status)
	}
	now := s.now()
	e.rec.HeartbeatAt = &now
	return nil
}

// Delete removes a record regardless of status.
func (s *Store) Delete(id string) (domain.Record, bool) {
	v, ok := s.jobs.LoadAndDelete(id)
	if !ok {
		return domain.Record{}, false
	}
	e := v.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return domain.Record{}, false
	}
	e.removed = true
	s.notify(Event{Kind: EventRemoved, From: e.rec.Status, Record: e.rec.Clone(), At: s.now()})
	return e.rec.Clone(), true
}

// Sweep removes terminal records created before now-window and returns how
// many were removed.
func (s *Store) Sweep(window time.Duration) int {
	cutoff := s.now().Add(-window)
	removed := 0

	s.jobs.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.removed || !e.rec.Status.Terminal() || !e.rec.CreatedAt.Before(cutoff) {
			return true
		}
		e.removed = true
		s.jobs.CompareAndDelete(k, e)
		removed++
		s.notify(Event{Kind: EventRemoved, From: e.rec.Status, Record: e.rec.Clone(), At: s.now()})
		return true
	})

	return removed
}

// FailStale fails every Processing job whose last sign of life is older than
// maxProcessing and returns the failed records.
func (s *Store) FailStale(maxProcessing time.Duration) []domain.Record {
	cutoff := s.now().Add(-maxProcessing)
	var failed []domain.Record

	s.jobs.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.removed || e.rec.Status != domain.StatusProcessing {
			return true
		}
		alive := e.rec.HeartbeatAt
		if alive == nil {
			alive = e.rec.StartedAt
		}
		if alive == nil || !alive.Before(cutoff) {
			return true
		}

		detail := fmt.Sprintf("processing timed out after %s", maxProcessing)
		if err := s.transition(e, domain.StatusFailed, update{errorDetail: detail}); err == nil {
			failed = append(failed, e.rec.Clone())
		}
		return true
	})

	return failed
}

// Len returns the number of live records.
func (s *Store) Len() int {
	n := 0
	s.jobs.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.removed {
			n++
		}
		e.mu.Unlock()
		return true
	})
	return n
}

func (s *Store) load(id string) (*entry, bool) {
	v, ok := s.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

func (s *Store) notify(e Event) {
	for _, o := range s.observers {
		o.JobChanged(e)
	}
}
