package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	applog "moneta/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second

	changesSuffix = ".changes"

	typeRecordSync   = "record.sync"
	typeRecordChange = "record.change"
)

// Client publishes row snapshots and change notices to RabbitMQ. It connects
// lazily, reconnects after connection loss and stops trying for openTimeout
// once maxFailures publishes in a row have failed.
type Client struct {
	url          string
	exchangeName string
	queueName    string
	log          *applog.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	breakerMu    sync.Mutex
	lastFailure  time.Time
}

// NewClient creates a client for the given broker. No connection is made
// until Connect or the first publish.
func NewClient(url, exchangeName, queueName string, logger *applog.Logger) *Client {
	return &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		log:          applog.OrDefault(logger, applog.ComponentAMQP).WithComponent(applog.ComponentAMQP),
	}
}

// Name identifies the client as a sync sink.
func (c *Client) Name() string { return "amqp" }

func (c *Client) logger() *applog.Logger {
	if c.log == nil {
		return applog.ForComponent(applog.ComponentAMQP)
	}
	return c.log
}

// Connect dials the broker, retrying with exponential backoff up to attempts
// times or until ctx is done.
func (c *Client) Connect(ctx context.Context, attempts int) error {
	attempts = max(attempts, 1)
	var lastErr error
	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := c.ensureChannel()
		if err == nil {
			c.recordSuccess()
			return nil
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}

		wait := exponentialBackoff(attempt)
		c.logger().WarnContext(ctx, "AMQP connection failed, retrying",
			"attempt", attempt+1,
			"backoff", wait,
			applog.FieldError, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("connect to AMQP after %d attempts: %w", attempts, lastErr)
}

// ensureChannel returns the open channel, dialing and declaring the topology
// first when there is none.
func (c *Client) ensureChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	c.closeLocked()

	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("setup exchange and queues: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return channel, nil
}

func setup(ch *amqp091.Channel, exchangeName, queueName string) error {
	err := ch.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Snapshots go to the queue itself, change notices to its ".changes" twin.
	for _, q := range []string{queueName, queueName + changesSuffix} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
		if err := ch.QueueBind(q, q, exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q, err)
		}
	}
	return nil
}

// WriteRecord publishes one row snapshot for downstream sync.
func (c *Client) WriteRecord(ctx context.Context, table string, rec map[string]any) error {
	msg := NewRecordSyncMessage(table, rec)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := c.publish(ctx, c.queueName, typeRecordSync, body); err != nil {
		return err
	}

	c.logger().DebugContext(ctx, "Published record snapshot",
		applog.FieldTable, table,
		applog.FieldID, msg.ID)
	return nil
}

// NotifyChange publishes a change notice so a running sync worker can upload
// without waiting for its next tick.
func (c *Client) NotifyChange(ctx context.Context, table, id, op string) error {
	body, err := NewRecordChangeMessage(table, id, op).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	return c.publish(ctx, c.queueName+changesSuffix, typeRecordChange, body)
}

func (c *Client) publish(ctx context.Context, routingKey, msgType string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return errors.New("circuit breaker is open: AMQP broker unavailable")
	}

	ch, err := c.ensureChannel()
	if err != nil {
		c.recordFailure()
		return err
	}

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		pctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Type:         msgType,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.mu.Lock()
			c.closeLocked()
			c.mu.Unlock()
		}
		return fmt.Errorf("publish message: %w", err)
	}

	c.recordSuccess()
	return nil
}

// ConsumeRecordChanges delivers change notices to handler until ctx is done,
// reconnecting with backoff when the broker goes away. A handler error
// requeues the notice; a malformed notice is dropped.
func (c *Client) ConsumeRecordChanges(ctx context.Context, handler func(context.Context, *RecordChangeMessage) error) error {
	queue := c.queueName + changesSuffix
	for attempt := 0; ; {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			c.logger().InfoContext(ctx, "Stopping change consumption", "reason", ctx.Err())
			return ctx.Err()
		}

		wait := exponentialBackoff(attempt)
		c.logger().WarnContext(ctx, "Change consumer interrupted, reconnecting",
			applog.FieldError, err,
			"backoff", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		attempt++
	}
}

func (c *Client) consumeOnce(ctx context.Context, queue string, handler func(context.Context, *RecordChangeMessage) error) error {
	ch, err := c.ensureChannel()
	if err != nil {
		return err
	}
	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger().InfoContext(ctx, "Started consuming change notices", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}

			msg, err := RecordChangeMessageFromJSON(delivery.Body)
			if err != nil {
				c.logger().ErrorContext(ctx, "Failed to unmarshal change notice", applog.FieldError, err)
				delivery.Nack(false, false)
				continue
			}

			if err := handler(ctx, msg); err != nil {
				c.logger().ErrorContext(ctx, "Failed to handle change notice",
					applog.FieldError, err,
					applog.FieldTable, msg.Table,
					applog.FieldID, msg.ID)
				delivery.Nack(false, true)
				continue
			}
			delivery.Ack(false)
		}
	}
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.breakerMu.Lock()
	last := c.lastFailure
	c.breakerMu.Unlock()

	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.breakerMu.Lock()
	c.lastFailure = time.Now()
	c.breakerMu.Unlock()

	// A failed probe in half-open state reopens immediately.
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			c.logger().Warn("AMQP circuit breaker opened", "failures", n)
		}
	}
}

// exponentialBackoff returns 1s doubled per attempt, capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	return min(time.Second<<attempt, maxBackoff)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection", "EOF", "broken pipe", "closed network"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}
