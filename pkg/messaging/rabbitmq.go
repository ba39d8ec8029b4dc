package messaging

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds configuration for the RabbitMQ client.
type Config struct {
	URL string

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	MaxRetries        int // -1 for infinite
	HeartbeatTimeout  time.Duration
	PrefetchCount     int
}

// DefaultConfig returns a default configuration.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 60 * time.Second,
		MaxRetries:        -1,
		HeartbeatTimeout:  10 * time.Second,
		PrefetchCount:     8,
	}
}

// Client is a RabbitMQ connection wrapper with automatic reconnection,
// durable queue declaration, and TTL-based delayed delivery.
type Client struct {
	config Config
	conn   *amqp.Connection
	ch     *amqp.Channel
	mu     sync.RWMutex

	notifyConnClose chan *amqp.Error
	isReconnecting  bool
	isClosed        bool

	declaredMu sync.Mutex
	declared   map[string]bool
}

// NewClient connects to RabbitMQ and starts the reconnection watchdog.
func NewClient(config Config) (*Client, error) {
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = time.Second
	}
	if config.MaxReconnectDelay == 0 {
		config.MaxReconnectDelay = 60 * time.Second
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 10 * time.Second
	}

	client := &Client{config: config, declared: make(map[string]bool)}
	if err := client.connect(); err != nil {
		return nil, err
	}

	go client.handleReconnect()
	return client, nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	log.Printf("Connecting to RabbitMQ at %s", maskURL(c.config.URL))

	conn, err := amqp.DialConfig(c.config.URL, amqp.Config{
		Heartbeat: c.config.HeartbeatTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	if c.config.PrefetchCount > 0 {
		if err := ch.Qos(c.config.PrefetchCount, 0, false); err != nil {
			conn.Close()
			return fmt.Errorf("failed to set channel qos: %w", err)
		}
	}

	c.conn = conn
	c.ch = ch
	c.notifyConnClose = make(chan *amqp.Error)
	c.conn.NotifyClose(c.notifyConnClose)
	c.isReconnecting = false

	return nil
}

func (c *Client) handleReconnect() {
	c.mu.RLock()
	if c.isClosed {
		c.mu.RUnlock()
		return
	}
	notifyClose := c.notifyConnClose
	c.mu.RUnlock()

	err := <-notifyClose
	if err != nil {
		log.Printf("RabbitMQ connection closed: %v. Reconnecting...", err)
		c.reconnect()
	}
}

func (c *Client) reconnect() {
	c.mu.Lock()
	c.isReconnecting = true
	c.mu.Unlock()

	backoff := c.config.ReconnectDelay
	retries := 0

	for {
		c.mu.RLock()
		if c.isClosed {
			c.mu.RUnlock()
			return
		}
		maxRetries := c.config.MaxRetries
		c.mu.RUnlock()

		if maxRetries != -1 && retries >= maxRetries {
			log.Printf("Max reconnect retries reached, giving up")
			return
		}

		if err := c.connect(); err == nil {
			log.Println("RabbitMQ reconnected")
			go c.handleReconnect()
			return
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > c.config.MaxReconnectDelay {
			backoff = c.config.MaxReconnectDelay
		}
		retries++
	}
}

// DeclareWorkQueue declares a durable queue together with its dead-letter
// queue ("<name>.dlq"). Delay queues are declared lazily per delay value by
// PublishWithDelay.
func (c *Client) DeclareWorkQueue(name string) (amqp.Queue, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.ch == nil {
		return amqp.Queue{}, fmt.Errorf("channel is not initialized")
	}

	dlqName := name + ".dlq"
	if _, err := c.ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare DLQ: %w", err)
	}

	return c.ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqName,
	})
}

// Publish sends a message to the named queue via the default exchange.
func (c *Client) Publish(ctx context.Context, queueName string, body []byte) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// PublishWithDelay parks a message on a wait queue whose queue-level TTL
// dead-letters it back onto the main queue after the delay elapses.
//
// Each distinct delay gets its own wait queue. RabbitMQ only expires
// messages at the queue head, so a shared wait queue would let a long retry
// hold up a shorter one parked behind it.
func (c *Client) PublishWithDelay(ctx context.Context, queueName string, body []byte, delay time.Duration) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}

	waitName, err := c.declareDelayQueue(ch, queueName, delay)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, "", waitName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// waitQueueName derives the per-delay wait queue name for a destination.
func waitQueueName(queueName string, delay time.Duration) string {
	return fmt.Sprintf("%s.wait.%dms", queueName, delay.Milliseconds())
}

func (c *Client) declareDelayQueue(ch *amqp.Channel, queueName string, delay time.Duration) (string, error) {
	waitName := waitQueueName(queueName, delay)

	c.declaredMu.Lock()
	seen := c.declared[waitName]
	c.declaredMu.Unlock()
	if seen {
		return waitName, nil
	}

	_, err := ch.QueueDeclare(waitName, true, false, false, false, amqp.Table{
		"x-message-ttl":             delay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queueName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to declare delay queue: %w", err)
	}

	c.declaredMu.Lock()
	c.declared[waitName] = true
	c.declaredMu.Unlock()
	return waitName, nil
}

func (c *Client) channel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.isReconnecting || c.ch == nil {
		return nil, fmt.Errorf("connection is not available")
	}
	return c.ch, nil
}

// Consume pulls messages from the queue and runs the handler for each. A nil
// handler result acks the message. A non-nil result rejects it without
// requeue, which routes it to the DLQ; handlers that want a retry are
// expected to republish with a delay themselves before returning nil.
// Consume blocks until the context is cancelled.
func (c *Client) Consume(ctx context.Context, queueName string, handler func(ctx context.Context, body []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		ch, err := c.channel()
		if err != nil {
			time.Sleep(time.Second)
			continue
		}

		msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
		if err != nil {
			log.Printf("failed to register a consumer on %s: %v", queueName, err)
			time.Sleep(2 * time.Second)
			continue
		}

	recv:
		for {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-msgs:
				if !ok {
					// channel closed, likely connection lost
					break recv
				}
				if err := handler(ctx, d.Body); err != nil {
					log.Printf("dropping message from %s to DLQ: %v", queueName, err)
					d.Nack(false, false)
				} else {
					d.Ack(false)
				}
			}
		}

		time.Sleep(c.config.ReconnectDelay)
	}
}

// Close shuts the connection down and stops reconnection attempts.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isClosed = true
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// IsHealthy reports whether the underlying connection is usable.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed() && !c.isReconnecting
}

func maskURL(url string) string {
	if parts := strings.Split(url, "@"); len(parts) > 1 {
		prefixParts := strings.Split(parts[0], "://")
		if len(prefixParts) == 2 {
			return prefixParts[0] + "://***:***@" + parts[1]
		}
	}
	return url
}
