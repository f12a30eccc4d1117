package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/image-converter/internal/domain"
	"github.com/cuongbtq/image-converter/internal/jobstore"
)

var (
	// errJobGone means the record was deleted or swept before the delivery was handled
	errJobGone = errors.New("job is no longer tracked")

	// errAlreadyResolved means a redelivered job already reached a terminal status
	errAlreadyResolved = errors.New("job already resolved")

	// errCompletionRefused means the store rejected the Completed transition
	errCompletionRefused = errors.New("job completion refused")
)

// processJob drives one job through Processing to a terminal status.
func (w *Worker) processJob(ctx context.Context, msg domain.ProcessingMessage) error {
	rec, ok := w.store.Get(msg.JobID)
	if !ok {
		return errJobGone
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: status %s", errAlreadyResolved, rec.Status)
	}
	if !w.jobTypes[msg.JobType] {
		return fmt.Errorf("%w: %s is not served on %s", domain.ErrUnsupportedJobType, msg.JobType, w.queue)
	}

	// Claim (Pending or stale Processing -> Processing)
	if err := w.store.UpdateStatus(msg.JobID, domain.StatusProcessing); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("%w: %v", errAlreadyResolved, err)
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}

	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.String("job_type", string(msg.JobType)),
	)
	start := w.now()

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	stopHeartbeat := w.startHeartbeat(jobCtx, msg.JobID)
	location, err := w.executeJob(jobCtx, msg)
	stopHeartbeat()

	if err == nil {
		err = w.complete(ctx, msg.JobID, location)
	}

	status := domain.StatusCompleted
	if err != nil {
		status = domain.StatusFailed
	}
	w.recorder.ObserveProcessing(msg.JobType, status, w.now().Sub(start))
	return err
}

// executeJob loads the input, runs the transformer and saves the result.
func (w *Worker) executeJob(ctx context.Context, msg domain.ProcessingMessage) (string, error) {
	input, err := w.inputs.Load(ctx, msg.InputLocation)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrInputUnavailable, msg.InputLocation, err)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := w.transformer.Transform(ctx, msg.JobType, input, msg.Parameters)
		done <- result{data: data, err: err}
	}()

	var output []byte
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("job execution canceled after %s: %w", w.jobTimeout, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("%s failed: %w", msg.JobType, r.err)
		}
		output = r.data
	}

	// Results live at a deterministic location, so a redelivery overwrites.
	location := domain.ResultLocation(msg.JobID, msg.JobType)
	if err := w.results.Save(ctx, location, output); err != nil {
		return "", fmt.Errorf("failed to save result: %w", err)
	}
	return location, nil
}

// complete records the Completed status. The saved result is removed when the
// store no longer accepts it.
func (w *Worker) complete(ctx context.Context, jobID, location string) error {
	err := w.store.UpdateStatus(jobID, domain.StatusCompleted, jobstore.WithResultLocation(location))
	if err == nil {
		if _, ok := w.store.Get(jobID); ok {
			return nil
		}
		w.removeResult(ctx, jobID, location)
		return errJobGone
	}

	// A concurrent duplicate of this delivery already completed the job.
	if rec, ok := w.store.Get(jobID); ok && rec.Status == domain.StatusCompleted && rec.ResultLocation == location {
		return fmt.Errorf("%w: completed by another delivery", errAlreadyResolved)
	}

	w.removeResult(ctx, jobID, location)
	return fmt.Errorf("%w: %v", errCompletionRefused, err)
}

func (w *Worker) removeResult(ctx context.Context, jobID, location string) {
	if err := w.results.Delete(ctx, location); err != nil {
		w.logger.Warn("Failed to remove orphaned result",
			slog.String("job_id", jobID),
			slog.String("location", location),
			slog.String("error", err.Error()),
		)
	}
}

// startHeartbeat periodically marks the job alive so the staleness sweep
// leaves it alone. The returned func stops the heartbeat and waits for it to exit.
func (w *Worker) startHeartbeat(ctx context.Context, jobID string) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(w.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.store.Heartbeat(jobID); err != nil {
					w.logger.Warn("Failed to update job heartbeat",
						slog.String("job_id", jobID),
						slog.String("error", err.Error()),
					)
					return
				}
				w.logger.Debug("Job heartbeat updated",
					slog.String("job_id", jobID),
				)
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}
