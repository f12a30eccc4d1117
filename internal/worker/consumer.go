package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/image-converter/internal/domain"
	"github.com/cuongbtq/image-converter/internal/jobstore"
	"github.com/cuongbtq/image-converter/internal/queue"
)

// handleDelivery decodes one delivery, processes it and decides its settlement.
func (w *Worker) handleDelivery(ctx context.Context, body []byte) queue.Outcome {
	outcome := w.dispatch(ctx, body)
	w.recorder.ObserveDelivery(w.queue, outcome)
	return outcome
}

func (w *Worker) dispatch(ctx context.Context, body []byte) queue.Outcome {
	msg, err := domain.DecodeMessage(body)
	if err != nil {
		var msgErr *domain.MessageError
		jobID := ""
		if errors.As(err, &msgErr) {
			jobID = msgErr.JobID
		}

		w.logger.Error("Failed to decode message",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
			slog.Int("body_size", len(body)),
		)
		if jobID != "" {
			w.markFailed(jobID, err.Error())
		}
		// Malformed messages go to the DLQ
		return queue.Reject
	}

	err = w.processJob(ctx, msg)
	outcome := settlementFor(err)

	switch {
	case err == nil:
		w.logger.Info("Job completed successfully",
			slog.String("job_id", msg.JobID),
			slog.String("job_type", string(msg.JobType)),
		)
	case outcome == queue.Ack:
		w.logger.Info("Delivery skipped",
			slog.String("job_id", msg.JobID),
			slog.String("reason", err.Error()),
		)
	default:
		w.logger.Error("Job processing failed",
			slog.String("job_id", msg.JobID),
			slog.String("job_type", string(msg.JobType)),
			slog.String("error", err.Error()),
		)
		if !errors.Is(err, errCompletionRefused) {
			w.markFailed(msg.JobID, err.Error())
		}
	}

	return outcome
}

// settlementFor maps a processing result to the delivery outcome. Only
// deliveries that need no further work are acked; everything else is
// dead-lettered, never requeued.
func settlementFor(err error) queue.Outcome {
	switch {
	case err == nil:
		return queue.Ack
	case errors.Is(err, errJobGone), errors.Is(err, errAlreadyResolved):
		return queue.Ack
	default:
		return queue.Reject
	}
}

func (w *Worker) markFailed(jobID, detail string) {
	err := w.store.UpdateStatus(jobID, domain.StatusFailed, jobstore.WithError(detail))
	if err != nil {
		w.logger.Warn("Failed to update job status to Failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
