package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// spawnConsumers starts the configured number of consumer goroutines
func (w *Worker) spawnConsumers(ctx context.Context) {
	for i := 0; i < w.consumers; i++ {
		w.wg.Add(1)
		go w.consumerLoop(ctx, i)
	}

	w.logger.Info("Consumers spawned successfully",
		slog.Int("consumer_count", w.consumers),
	)
}

// consumerLoop keeps one consumer attached to the queue, restarting it after
// broker-side failures until ctx is canceled.
func (w *Worker) consumerLoop(ctx context.Context, consumerNum int) {
	defer w.wg.Done()

	consumerName := fmt.Sprintf("%s-%d", w.queue, consumerNum)
	logger := w.logger.With(slog.String("consumer", consumerName))
	logger.Info("Consumer goroutine started")

	for {
		err := w.transport.Consume(ctx, w.queue, w.handleDelivery)
		if ctx.Err() != nil {
			logger.Info("Consumer goroutine stopping - context canceled")
			return
		}
		if err == nil {
			logger.Info("Consumer goroutine stopping")
			return
		}

		logger.Error("Consumer stopped unexpectedly, restarting",
			slog.String("error", err.Error()),
			slog.Duration("retry_after", w.restartDelay),
		)

		timer := time.NewTimer(w.restartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("Consumer goroutine stopping - context canceled")
			return
		case <-timer.C:
		}
	}
}
