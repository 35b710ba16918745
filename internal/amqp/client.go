// Package amqp publishes committed ledger entries to RabbitMQ and consumes
// them in the ledger worker.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cobranca/internal/core"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateHalfOpen
	StateOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second
)

var errChannelClosed = errors.New("amqp channel closed")

type Client struct {
	url          string
	exchangeName string
	queueName    string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	lastFailure  time.Time
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()
	return nil
}

func setup(ch *amqp091.Channel, exchange, queue string) error {
	if err := ch.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	// Routing key is the queue name on a direct exchange.
	if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

func (c *Client) reconnect(ctx context.Context) {
	c.closeConn()
	if err := c.connect(); err != nil {
		slog.WarnContext(ctx, "AMQP reconnect failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "AMQP connection re-established")
}

// PublishEntry implements services.Publisher. It fails fast while the
// circuit breaker is open.
func (c *Client) PublishEntry(ctx context.Context, e core.HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("circuit breaker is open, dropping entry %s", e.ID)
	}

	body, err := NewLedgerEntryMessage(e).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, body); err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.reconnect(ctx)
		}
		return fmt.Errorf("publish entry %s: %w", e.ID, err)
	}
	c.recordSuccess()

	slog.InfoContext(ctx, "Published ledger entry message",
		"entry_id", e.ID,
		"type", e.Type,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

func (c *Client) publish(ctx context.Context, body []byte) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return errChannelClosed
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// ConsumeEntries feeds every delivery to handler until ctx is cancelled,
// reconnecting with backoff when the broker drops the channel. Successful
// handling acks; a handler error requeues; an undecodable body is dropped.
func (c *Client) ConsumeEntries(ctx context.Context, handler func(context.Context, *LedgerEntryMessage) error) error {
	return retryConsume(ctx,
		func() (int, error) { return c.consumeOnce(ctx, handler) },
		func() { c.reconnect(ctx) },
		sleepContext)
}

// retryConsume runs consumer sessions until ctx ends. The backoff grows with
// consecutive sessions that delivered nothing and restarts from the first step
// after a session that delivered at least one message.
func retryConsume(ctx context.Context, session func() (int, error), reconnect func(), sleep func(context.Context, time.Duration) error) error {
	attempt := 0
	for {
		delivered, err := session()
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		}
		if delivered > 0 {
			attempt = 0
		}
		wait := exponentialBackoff(attempt)
		slog.WarnContext(ctx, "Consumer interrupted, reconnecting",
			"error", err,
			"attempt", attempt+1,
			"delivered", delivered,
			"backoff", wait)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		reconnect()
		attempt++
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// consumeOnce runs one consumer session and reports how many deliveries it
// received before ending.
func (c *Client) consumeOnce(ctx context.Context, handler func(context.Context, *LedgerEntryMessage) error) (int, error) {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return 0, errChannelClosed
	}

	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return 0, fmt.Errorf("start consuming: %w", err)
	}
	slog.InfoContext(ctx, "Started consuming ledger entry messages", "queue", c.queueName)

	delivered := 0
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return delivered, errChannelClosed
			}
			delivered++
			msg, err := LedgerEntryMessageFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal message", "error", err)
				delivery.Nack(false, false)
				continue
			}
			if err := handler(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "Failed to handle message",
					"error", err,
					"entry_id", msg.EntryID)
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
	c.mu.Lock()
	since := time.Since(c.lastFailure)
	c.mu.Unlock()
	if since > openTimeout {
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
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff doubles from one second and caps at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errChannelClosed) || errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection closed", "EOF", "broken pipe", "use of closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
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
	c.closeConn()
	return nil
}
