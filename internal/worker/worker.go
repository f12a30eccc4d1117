// Package worker binds a queue to the job store and the transformers.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/image-converter/internal/domain"
	"github.com/cuongbtq/image-converter/internal/filestore"
	"github.com/cuongbtq/image-converter/internal/jobstore"
	"github.com/cuongbtq/image-converter/internal/queue"
	"github.com/cuongbtq/image-converter/internal/transform"
)

// Worker defaults
const (
	DefaultJobTimeout        = 5 * time.Minute
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultRestartDelay      = time.Second
)

// Store is the part of the job store a worker needs.
type Store interface {
	Get(id string) (domain.Record, bool)
	UpdateStatus(id string, status domain.Status, opts ...jobstore.UpdateOption) error
	Heartbeat(id string) error
}

// Recorder receives processing observations. Metrics implements it.
type Recorder interface {
	ObserveDelivery(queueName string, outcome queue.Outcome)
	ObserveProcessing(jobType domain.JobType, status domain.Status, d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveDelivery(string, queue.Outcome) {}
func (noopRecorder) ObserveProcessing(domain.JobType, domain.Status, time.Duration) {}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Queue       string
	Transport   queue.Transport
	Store       Store
	Inputs      filestore.Store
	Results     filestore.Store
	Transformer transform.Transformer
	// JobTypes served by this worker. Defaults to every type routed to Queue.
	JobTypes          []domain.JobType
	Consumers         int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	RestartDelay      time.Duration
	Recorder          Recorder
}

// Worker consumes one queue
type Worker struct {
	logger            *slog.Logger
	queue             string
	transport         queue.Transport
	store             Store
	inputs            filestore.Store
	results           filestore.Store
	transformer       transform.Transformer
	jobTypes          map[domain.JobType]bool
	consumers         int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	restartDelay      time.Duration
	recorder          Recorder
	now               func() time.Time
	wg                sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	switch {
	case cfg.Queue == "":
		return nil, fmt.Errorf("worker queue is required")
	case cfg.Transport == nil:
		return nil, fmt.Errorf("worker transport is required")
	case cfg.Store == nil:
		return nil, fmt.Errorf("worker job store is required")
	case cfg.Inputs == nil || cfg.Results == nil:
		return nil, fmt.Errorf("worker file stores are required")
	case cfg.Transformer == nil:
		return nil, fmt.Errorf("worker transformer is required")
	}

	types := cfg.JobTypes
	if len(types) == 0 {
		types = domain.JobTypesForQueue(cfg.Queue)
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("no job types route to queue %s", cfg.Queue)
	}
	served := make(map[domain.JobType]bool, len(types))
	for _, t := range types {
		if t.Queue() != cfg.Queue {
			return nil, fmt.Errorf("job type %s routes to %q, not %s", t, t.Queue(), cfg.Queue)
		}
		served[t] = true
	}

	w := &Worker{
		logger:            cfg.Logger.With(slog.String("queue", cfg.Queue)),
		queue:             cfg.Queue,
		transport:         cfg.Transport,
		store:             cfg.Store,
		inputs:            cfg.Inputs,
		results:           cfg.Results,
		transformer:       cfg.Transformer,
		jobTypes:          served,
		consumers:         cfg.Consumers,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		restartDelay:      cfg.RestartDelay,
		recorder:          cfg.Recorder,
		now:               time.Now,
	}
	if w.consumers <= 0 {
		w.consumers = 1
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = DefaultJobTimeout
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = DefaultHeartbeatInterval
	}
	if w.restartDelay <= 0 {
		w.restartDelay = DefaultRestartDelay
	}
	if w.recorder == nil {
		w.recorder = noopRecorder{}
	}
	return w, nil
}

// Queue returns the consumed queue name.
func (w *Worker) Queue() string {
	return w.queue
}

// Start declares the queue and runs the consumers until ctx is canceled.
// It returns once every in-flight delivery has been settled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("consumers", w.consumers),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	if err := w.transport.EnsureQueue(ctx, w.queue); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", w.queue, err)
	}

	w.spawnConsumers(ctx)
	w.wg.Wait()

	w.logger.Info("Worker stopped")
	return nil
}
