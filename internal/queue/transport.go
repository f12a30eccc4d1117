// Package queue defines the message transport contract between job
// submission and the workers.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuongbtq/image-converter/internal/domain"
)

var (
	// ErrTransportUnavailable is returned when no broker connection can be established
	ErrTransportUnavailable = errors.New("queue transport unavailable")

	// ErrQueueConfigurationConflict is returned when a queue already exists with different arguments
	ErrQueueConfigurationConflict = errors.New("queue configuration conflict")

	// ErrConsumerClosed is returned when the broker stops a consumer
	ErrConsumerClosed = errors.New("consumer closed by broker")
)

// Outcome is the settlement decision a Handler returns for a delivery.
type Outcome int

const (
	// Ack removes the delivery from the queue.
	Ack Outcome = iota
	// Reject discards the delivery without requeue, routing it to the dead-letter queue.
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Handler processes one delivery body. The context is never canceled while a
// delivery is in flight, so a shutdown lets the handler finish.
type Handler func(ctx context.Context, body []byte) Outcome

// Transport is a durable at-least-once message broker.
type Transport interface {
	// EnsureQueue declares name and its dead-letter pair. Idempotent.
	EnsureQueue(ctx context.Context, name string) error
	// Publish sends a persistent message to queue.
	Publish(ctx context.Context, queue string, body []byte) error
	// Consume runs a prefetch=1 manual-ack consumer on queue until ctx is
	// canceled or the broker closes the consumer.
	Consume(ctx context.Context, queue string, handler Handler) error
	Close() error
}

// DeadLetterExchange returns the dead-letter exchange name of queue.
func DeadLetterExchange(queue string) string {
	return queue + "_dlx"
}

// DeadLetterQueue returns the dead-letter queue name of queue. It is also the
// routing key binding the queue to its dead-letter exchange.
func DeadLetterQueue(queue string) string {
	return queue + "_dlq"
}

// PublishJob encodes msg and publishes it on the queue its job type routes to.
func PublishJob(ctx context.Context, t Transport, msg domain.ProcessingMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode message for job %s: %w", msg.JobID, err)
	}
	queue := msg.JobType.Queue()
	if queue == "" {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedJobType, msg.JobType)
	}
	return t.Publish(ctx, queue, body)
}
