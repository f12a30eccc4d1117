// Package jobs implements job submission, lookup, result retrieval and
// deletion on top of the job store, the file stores and the queue transport.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/image-converter/internal/domain"
	"github.com/cuongbtq/image-converter/internal/filestore"
	"github.com/cuongbtq/image-converter/internal/jobstore"
	"github.com/cuongbtq/image-converter/internal/queue"
	"github.com/google/uuid"
)

var (
	// ErrEmptyInput is returned when a submission carries no file content
	ErrEmptyInput = errors.New("no file provided")

	// ErrInputTooLarge is returned when a submission exceeds the size limit
	ErrInputTooLarge = errors.New("file too large")
)

// SubmitRequest describes a new job.
type SubmitRequest struct {
	Name   string
	Data   []byte
	Type   domain.JobType
	Params domain.Params
}

// Result is a downloadable job result.
type Result struct {
	Data        []byte
	ContentType string
	FileName    string
}

// PublishRecorder counts messages that never reached the broker.
type PublishRecorder interface {
	ObservePublishFailure(queueName string)
}

// Config holds service dependencies
type Config struct {
	Logger    *slog.Logger
	Store     *jobstore.Store
	Transport queue.Transport
	Inputs    filestore.Store
	Results   filestore.Store
	// MaxInputSize rejects larger submissions. Zero disables the check.
	MaxInputSize int64
	Recorder     PublishRecorder
}

// Service is the boundary used by the HTTP layer.
type Service struct {
	logger       *slog.Logger
	store        *jobstore.Store
	transport    queue.Transport
	inputs       filestore.Store
	results      filestore.Store
	maxInputSize int64
	recorder     PublishRecorder
	newID        func() string
}

// NewService creates a job service
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("job store is required")
	case cfg.Transport == nil:
		return nil, fmt.Errorf("queue transport is required")
	case cfg.Inputs == nil || cfg.Results == nil:
		return nil, fmt.Errorf("file stores are required")
	}

	return &Service{
		logger:       cfg.Logger,
		store:        cfg.Store,
		transport:    cfg.Transport,
		inputs:       cfg.Inputs,
		results:      cfg.Results,
		maxInputSize: cfg.MaxInputSize,
		recorder:     cfg.Recorder,
		newID:        uuid.NewString,
	}, nil
}

// EnsureQueues declares every queue a job type routes to.
func (s *Service) EnsureQueues(ctx context.Context) error {
	for _, name := range domain.Queues() {
		if err := s.transport.EnsureQueue(ctx, name); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}
	return nil
}

// Submit stores the input, creates a Pending record and publishes exactly one
// message for it. When publishing fails the record and the input are removed
// again and the returned error wraps queue.ErrTransportUnavailable.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (domain.Record, error) {
	if len(req.Data) == 0 {
		return domain.Record{}, ErrEmptyInput
	}
	if s.maxInputSize > 0 && int64(len(req.Data)) > s.maxInputSize {
		return domain.Record{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrInputTooLarge, len(req.Data), s.maxInputSize)
	}
	if !req.Type.Valid() {
		return domain.Record{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedJobType, req.Type)
	}

	id := s.newID()
	name := filestore.SanitizeName(req.Name)
	rec := domain.Record{
		ID:            id,
		OriginalName:  name,
		InputLocation: id + "_" + name,
		Type:          req.Type,
		Status:        domain.StatusPending,
		Params:        req.Params.Clone(),
	}

	if err := s.inputs.Save(ctx, rec.InputLocation, req.Data); err != nil {
		return domain.Record{}, fmt.Errorf("failed to store input: %w", err)
	}
	if err := s.store.Create(rec); err != nil {
		s.deleteFile(ctx, s.inputs, id, rec.InputLocation)
		return domain.Record{}, fmt.Errorf("failed to create job: %w", err)
	}

	if err := queue.PublishJob(ctx, s.transport, rec.Message()); err != nil {
		s.rollback(ctx, rec)
		if s.recorder != nil {
			s.recorder.ObservePublishFailure(rec.Type.Queue())
		}
		s.logger.Error("Failed to publish job, submission rolled back",
			slog.String("job_id", id),
			slog.String("queue", rec.Type.Queue()),
			slog.String("error", err.Error()),
		)
		if !errors.Is(err, queue.ErrTransportUnavailable) {
			err = fmt.Errorf("%w: %v", queue.ErrTransportUnavailable, err)
		}
		return domain.Record{}, fmt.Errorf("failed to queue job: %w", err)
	}

	s.logger.Info("Job submitted",
		slog.String("job_id", id),
		slog.String("job_type", string(rec.Type)),
		slog.String("queue", rec.Type.Queue()),
		slog.Int("input_size", len(req.Data)),
	)

	created, ok := s.store.Get(id)
	if !ok {
		// Deleted by a concurrent request before we could read it back.
		return rec, nil
	}
	return created, nil
}

func (s *Service) rollback(ctx context.Context, rec domain.Record) {
	s.store.Delete(rec.ID)
	s.deleteFile(context.WithoutCancel(ctx), s.inputs, rec.ID, rec.InputLocation)
}

// Get returns the job record.
func (s *Service) Get(id string) (domain.Record, error) {
	rec, ok := s.store.Get(id)
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return rec, nil
}

// List returns all jobs, newest first.
func (s *Service) List() []domain.Record {
	return s.store.List()
}

// Result loads the result of a completed job.
func (s *Service) Result(ctx context.Context, id string) (Result, error) {
	rec, err := s.Get(id)
	if err != nil {
		return Result{}, err
	}
	if !rec.DownloadReady() {
		return Result{}, fmt.Errorf("%w: job %s is %s", domain.ErrNotReady, id, rec.Status)
	}

	data, err := s.results.Load(ctx, rec.ResultLocation)
	if errors.Is(err, filestore.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrResultMissing, rec.ResultLocation)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to load result: %w", err)
	}

	return Result{
		Data:        data,
		ContentType: rec.Type.ContentType(),
		FileName:    DownloadName(rec),
	}, nil
}

// Delete removes the record and its input and result files.
func (s *Service) Delete(ctx context.Context, id string) error {
	rec, ok := s.store.Delete(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	s.deleteFile(ctx, s.inputs, id, rec.InputLocation)
	if rec.ResultLocation != "" {
		s.deleteFile(ctx, s.results, id, rec.ResultLocation)
	}

	s.logger.Info("Job deleted",
		slog.String("job_id", id),
		slog.String("status", string(rec.Status)),
	)
	return nil
}

func (s *Service) deleteFile(ctx context.Context, fs filestore.Store, jobID, location string) {
	if err := fs.Delete(ctx, location); err != nil {
		s.logger.Warn("Failed to delete job file",
			slog.String("job_id", jobID),
			slog.String("location", location),
			slog.String("error", err.Error()),
		)
	}
}

// DownloadName is the file name offered for a job result.
func DownloadName(rec domain.Record) string {
	base := strings.TrimSuffix(rec.OriginalName, filepath.Ext(rec.OriginalName))
	if base == "" {
		base = "result"
	}
	return base + "_processed." + rec.Type.Extension()
}
