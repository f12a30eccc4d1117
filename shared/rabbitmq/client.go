package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/image-converter/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	contentTypeJSON = "application/json"

	// Each consumer holds at most one unacknowledged delivery.
	consumerPrefetch = 1
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
	ConsumerTagPrefix  string
}

// DSN returns the AMQP connection URL.
func (c *Config) DSN() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	if vhost[0] != '/' {
		vhost = "/" + vhost
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.User, c.Password, c.Host, c.Port, vhost)
}

// Client is a queue.Transport backed by RabbitMQ. Publishing and queue
// declaration share one confirm-mode channel; each consumer gets its own.
type Client struct {
	config *Config
	logger *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
	closed   bool

	consumerSeq atomic.Int64
}

var _ queue.Transport = (*Client)(nil)

// NewClient creates a new RabbitMQ client. Connection attempts stop early
// when ctx is canceled.
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config:   config,
		logger:   logger,
		declared: make(map[string]bool),
	}

	if err := client.connect(ctx, config.RetryAttempts); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect dials RabbitMQ up to attempts times and installs the connection.
// mu is only held to install the result, never while dialing or waiting.
func (c *Client) connect(ctx context.Context, attempts int) error {
	var (
		conn *amqp.Connection
		err  error
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err = amqp.DialConfig(c.config.DSN(), amqpConfig)
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			if serr := sleepContext(ctx, c.config.RetryInterval); serr != nil {
				return fmt.Errorf("%w: connect aborted after %d attempts: %v", queue.ErrTransportUnavailable, attempt, serr)
			}
		}
	}

	if err != nil {
		return fmt.Errorf("%w: failed to connect to RabbitMQ after %d attempts: %v", queue.ErrTransportUnavailable, attempts, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		conn.Close()
		return fmt.Errorf("%w: client closed", queue.ErrTransportUnavailable)
	}
	if c.conn != nil && !c.conn.IsClosed() {
		// Another caller reconnected first.
		conn.Close()
		if c.channel == nil || c.channel.IsClosed() {
			return c.openChannel()
		}
		return nil
	}

	c.conn = conn
	c.channel = nil
	c.declared = make(map[string]bool)
	return c.openChannel()
}

// openChannel opens the shared publish channel in confirm mode. Caller holds mu.
func (c *Client) openChannel() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: failed to create channel: %v", queue.ErrTransportUnavailable, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("%w: failed to enable publisher confirms: %v", queue.ErrTransportUnavailable, err)
	}
	c.channel = ch
	return nil
}

// ensureConnected reconnects a dropped connection or channel. It must be
// called without mu held. A lost connection gets a single dial attempt; the
// callers retry on their own schedule.
func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: client closed", queue.ErrTransportUnavailable)
	}
	if c.conn != nil && !c.conn.IsClosed() {
		defer c.mu.Unlock()
		if c.channel == nil || c.channel.IsClosed() {
			return c.openChannel()
		}
		return nil
	}
	c.mu.Unlock()

	c.logger.Warn("RabbitMQ connection lost, reconnecting")
	return c.connect(ctx, 1)
}

// ready reports whether the connection and shared channel are usable.
// Caller holds mu.
func (c *Client) ready() error {
	if c.closed {
		return fmt.Errorf("%w: client closed", queue.ErrTransportUnavailable)
	}
	if c.conn == nil || c.conn.IsClosed() || c.channel == nil || c.channel.IsClosed() {
		return fmt.Errorf("%w: connection lost", queue.ErrTransportUnavailable)
	}
	return nil
}

// EnsureQueue declares the queue with its dead-letter exchange and queue.
func (c *Client) EnsureQueue(ctx context.Context, name string) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}
	return c.declare(name)
}

// declare runs the topology declaration for name. Caller holds mu.
func (c *Client) declare(name string) error {
	if name == "" {
		return fmt.Errorf("queue name is required")
	}
	if c.declared[name] {
		return nil
	}

	dlx := queue.DeadLetterExchange(name)
	dlq := queue.DeadLetterQueue(name)

	// Declare dead-letter exchange
	err := c.channel.ExchangeDeclare(
		dlx,      // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return c.declareError("exchange", dlx, err)
	}

	// Declare dead-letter queue
	_, err = c.channel.QueueDeclare(
		dlq,   // name
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return c.declareError("queue", dlq, err)
	}

	// Bind dead-letter queue to its exchange
	err = c.channel.QueueBind(
		dlq,   // queue name
		dlq,   // routing key
		dlx,   // exchange
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return c.declareError("binding", dlq, err)
	}

	// Declare work queue
	_, err = c.channel.QueueDeclare(
		name,  // name
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    dlx,
			"x-dead-letter-routing-key": dlq,
		},
	)
	if err != nil {
		return c.declareError("queue", name, err)
	}

	c.declared[name] = true
	c.logger.Info("RabbitMQ queue declared",
		slog.String("queue", name),
		slog.String("dead_letter_exchange", dlx),
		slog.String("dead_letter_queue", dlq),
	)
	return nil
}

// declareError classifies a declaration failure. The broker closes the
// channel on any such error, so it is dropped and reopened on next use.
func (c *Client) declareError(kind, name string, err error) error {
	c.channel = nil
	if isPreconditionFailed(err) {
		return fmt.Errorf("%w: %s %s: %v", queue.ErrQueueConfigurationConflict, kind, name, err)
	}
	return fmt.Errorf("failed to declare %s %s: %w", kind, name, err)
}

func isPreconditionFailed(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed
}

// Publish publishes a persistent JSON message to queueName via the default
// exchange and waits for the broker confirm. Failures are retried with
// exponential backoff, reconnecting between attempts.
func (c *Client) Publish(ctx context.Context, queueName string, body []byte) error {
	maxRetries := c.config.PublishRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond // default
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0 // default
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.publishOnce(ctx, queueName, body)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("Successfully published message to RabbitMQ after retry",
					slog.Int("attempt", attempt+1),
					slog.String("queue", queueName),
				)
			} else {
				c.logger.Debug("Message published to RabbitMQ",
					slog.String("queue", queueName),
					slog.Int("body_size", len(body)),
				)
			}
			return nil
		}
		lastErr = err

		if errors.Is(err, queue.ErrQueueConfigurationConflict) || ctx.Err() != nil {
			break
		}

		if attempt < maxRetries {
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)
			if err := sleepContext(ctx, delay); err != nil {
				lastErr = err
				break
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	c.logger.Error("Failed to publish message to RabbitMQ",
		slog.String("queue", queueName),
		slog.Any("error", lastErr),
	)
	if errors.Is(lastErr, queue.ErrTransportUnavailable) || errors.Is(lastErr, queue.ErrQueueConfigurationConflict) {
		return lastErr
	}
	return fmt.Errorf("%w: failed to publish message: %v", queue.ErrTransportUnavailable, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) publishOnce(ctx context.Context, queueName string, body []byte) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}
	if err := c.declare(queueName); err != nil {
		return err
	}

	confirm, err := c.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		"",        // default exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			Body:         body,
			DeliveryMode: amqp.Persistent, // persistent
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for publish confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message for queue %s", queueName)
	}
	return nil
}

// Consume runs a manual-ack consumer with prefetch 1 on its own channel.
// It returns nil when ctx is canceled, after the in-flight delivery has been
// settled, and queue.ErrConsumerClosed when the broker closes the channel.
func (c *Client) Consume(ctx context.Context, queueName string, handler queue.Handler) error {
	ch, err := c.consumerChannel(ctx, queueName)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := applyQos(ch); err != nil {
		return err
	}

	consumerTag := fmt.Sprintf("%s-%s-%d", c.tagPrefix(), queueName, c.consumerSeq.Add(1))
	deliveries, err := ch.Consume(
		queueName,   // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", queueName),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch_count", consumerPrefetch),
	)

	err = serve(ctx, deliveries, handler, c.logger.With(slog.String("queue", queueName)))
	if err == nil {
		if cerr := ch.Cancel(consumerTag, false); cerr != nil {
			c.logger.Debug("Failed to cancel consumer", slog.Any("error", cerr))
		}
	}
	return err
}

type qosSetter interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
}

// applyQos limits a consumer channel to one unacknowledged delivery.
func applyQos(ch qosSetter) error {
	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	return nil
}

func (c *Client) consumerChannel(ctx context.Context, queueName string) (*amqp.Channel, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return nil, err
	}
	if err := c.declare(queueName); err != nil {
		return nil, err
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create consumer channel: %v", queue.ErrTransportUnavailable, err)
	}
	return ch, nil
}

func (c *Client) tagPrefix() string {
	if c.config.ConsumerTagPrefix != "" {
		return c.config.ConsumerTagPrefix
	}
	return "converter"
}

// serve dispatches deliveries to handler one at a time and settles each
// exactly once.
func serve(ctx context.Context, deliveries <-chan amqp.Delivery, handler queue.Handler, logger *slog.Logger) error {
	hctx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			logger.Info("Consumer stopped - context canceled")
			return nil
		}

		select {
		case <-ctx.Done():
			logger.Info("Consumer stopped - context canceled")
			return nil

		case d, ok := <-deliveries:
			if !ok {
				logger.Warn("Delivery channel closed by broker")
				return queue.ErrConsumerClosed
			}
			settle(d, handler(hctx, d.Body), logger)
		}
	}
}

func settle(d amqp.Delivery, outcome queue.Outcome, logger *slog.Logger) {
	var err error
	switch outcome {
	case queue.Ack:
		err = d.Ack(false)
	default:
		err = d.Reject(false)
	}

	if err != nil {
		// The broker redelivers anything left unsettled on a dead channel.
		logger.Error("Failed to settle delivery",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.String("outcome", outcome.String()),
			slog.Any("error", err),
		)
		return
	}

	logger.Debug("Delivery settled",
		slog.Uint64("delivery_tag", d.DeliveryTag),
		slog.String("outcome", outcome.String()),
		slog.Bool("redelivered", d.Redelivered),
	)
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info("Closing RabbitMQ connection")

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return !c.closed && c.conn != nil && !c.conn.IsClosed()
}
