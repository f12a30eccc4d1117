package queue

import (
	"context"
	"fmt"
	"sync"
)

type memQueue struct {
	name       string
	deadLetter bool
	ready      []memMessage
	// wake is closed and replaced whenever a message becomes ready.
	wake chan struct{}
}

type memMessage struct {
	body []byte
}

// MemoryBroker is an in-process Transport with the same delivery semantics as
// the RabbitMQ client: durable FIFO queues, prefetch 1 per consumer, manual
// settlement and dead-lettering on Reject. A consumer whose handler panics
// leaves its delivery unsettled and it is redelivered.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	closed bool
	done   chan struct{}
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string]*memQueue),
		done:   make(chan struct{}),
	}
}

// EnsureQueue declares name and its dead-letter queue.
func (b *MemoryBroker) EnsureQueue(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrTransportUnavailable
	}
	_, err := b.declareLocked(name)
	return err
}

func (b *MemoryBroker) declareLocked(name string) (*memQueue, error) {
	if name == "" {
		return nil, fmt.Errorf("queue name is required")
	}

	dlq := DeadLetterQueue(name)
	if q, ok := b.queues[name]; ok {
		if q.deadLetter {
			return nil, fmt.Errorf("%w: %s is declared as a dead-letter queue", ErrQueueConfigurationConflict, name)
		}
		return q, nil
	}
	if q, ok := b.queues[dlq]; ok && !q.deadLetter {
		return nil, fmt.Errorf("%w: %s is declared without dead-lettering", ErrQueueConfigurationConflict, dlq)
	}

	q := &memQueue{name: name, wake: make(chan struct{})}
	b.queues[name] = q
	if _, ok := b.queues[dlq]; !ok {
		b.queues[dlq] = &memQueue{name: dlq, deadLetter: true, wake: make(chan struct{})}
	}
	return q, nil
}

// Publish appends body to queue, declaring it on first use.
func (b *MemoryBroker) Publish(_ context.Context, queue string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("%w: broker closed", ErrTransportUnavailable)
	}
	q, err := b.declareLocked(queue)
	if err != nil {
		return err
	}
	b.pushLocked(q, memMessage{body: append([]byte(nil), body...)}, false)
	return nil
}

func (b *MemoryBroker) pushLocked(q *memQueue, m memMessage, front bool) {
	if front {
		q.ready = append([]memMessage{m}, q.ready...)
	} else {
		q.ready = append(q.ready, m)
	}
	close(q.wake)
	q.wake = make(chan struct{})
}

// Consume delivers messages from queue to handler one at a time.
func (b *MemoryBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	hctx := context.WithoutCancel(ctx)

	for {
		msg, ok, err := b.next(ctx, queue)
		if err != nil || !ok {
			return err
		}

		outcome, panicked := b.invoke(hctx, handler, msg.body)
		if panicked != nil {
			b.requeue(queue, msg)
			return fmt.Errorf("handler panicked on %s: %v", queue, panicked)
		}
		b.settle(queue, msg, outcome)
	}
}

// next blocks until a message is ready. ok is false when ctx is canceled.
func (b *MemoryBroker) next(ctx context.Context, queue string) (memMessage, bool, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return memMessage{}, false, ErrConsumerClosed
		}
		q, err := b.declareLocked(queue)
		if err != nil {
			b.mu.Unlock()
			return memMessage{}, false, err
		}
		if ctx.Err() != nil {
			b.mu.Unlock()
			return memMessage{}, false, nil
		}
		if len(q.ready) > 0 {
			msg := q.ready[0]
			q.ready = q.ready[1:]
			b.mu.Unlock()
			return msg, true, nil
		}
		wake := q.wake
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return memMessage{}, false, nil
		case <-b.done:
			return memMessage{}, false, ErrConsumerClosed
		case <-wake:
		}
	}
}

func (b *MemoryBroker) invoke(ctx context.Context, handler Handler, body []byte) (outcome Outcome, panicked any) {
	defer func() {
		panicked = recover()
	}()
	return handler(ctx, body), nil
}

func (b *MemoryBroker) settle(queue string, msg memMessage, outcome Outcome) {
	if outcome != Reject {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if dlq, ok := b.queues[DeadLetterQueue(queue)]; ok {
		b.pushLocked(dlq, msg, false)
	}
}

func (b *MemoryBroker) requeue(queue string, msg memMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[queue]; ok && !b.closed {
		b.pushLocked(q, msg, true)
	}
}

// Ready returns the number of messages waiting in queue.
func (b *MemoryBroker) Ready(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[queue]; ok {
		return len(q.ready)
	}
	return 0
}

// DeadLetters returns copies of the bodies dead-lettered from queue.
func (b *MemoryBroker) DeadLetters(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[DeadLetterQueue(queue)]
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(q.ready))
	for _, m := range q.ready {
		out = append(out, append([]byte(nil), m.body...))
	}
	return out
}

// Close stops all consumers and refuses further publishes.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
