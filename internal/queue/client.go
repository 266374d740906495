// Package queue is the AMQP collaborator: queue depth inspection for the
// monitor and the alert publisher behind its sink interface.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/logging"
	"github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/monitoring"
)

// amqpChannel is the slice of *amqp.Channel the client uses. Narrowed for
// test doubles.
type amqpChannel interface {
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Config struct {
	URL           string `json:"url"`
	AlertExchange string `json:"alert_exchange"`
}

func (c *Config) applyDefaults() {
	if c.AlertExchange == "" {
		c.AlertExchange = "alerts"
	}
}

// Client holds one connection and one channel, guarded by a mutex. The
// broker is a low-volume collaborator here; a pool would be dead weight.
type Client struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	ch     amqpChannel
	config *Config
	logger logging.Logger
}

func NewClient(config *Config, logger logging.Logger) (*Client, error) {
	if config == nil || config.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	config.applyDefaults()
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	client := &Client{config: config, logger: logger}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) connect() error {
	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.config.AlertExchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare alert exchange: %w", err)
	}

	c.conn = conn
	c.ch = ch
	return nil
}

// ensureChannel reopens the channel after a failure. A failed passive
// declare closes the channel server-side, so every operation runs through
// this.
func (c *Client) ensureChannel() error {
	if c.ch != nil {
		return nil
	}
	if c.conn == nil || c.conn.IsClosed() {
		return c.connect()
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to reopen amqp channel: %w", err)
	}
	c.ch = ch
	return nil
}

// QueueDepth reports the message count of an existing queue. A queue that
// was never declared counts as empty.
func (c *Client) QueueDepth(ctx context.Context, name string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureChannel(); err != nil {
		return 0, err
	}

	q, err := c.ch.QueueDeclarePassive(name, true, false, false, false, nil)
	if err != nil {
		// The channel is dead after a failed passive declare.
		c.ch = nil
		if amqpErr, ok := err.(*amqp.Error); ok && amqpErr.Code == amqp.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to inspect queue %q: %w", name, err)
	}
	return q.Messages, nil
}

// PublishAlert sends a monitoring alert to the alert exchange. Consumers
// bind their own queues; nothing is awaited.
func (c *Client) PublishAlert(ctx context.Context, alert monitoring.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureChannel(); err != nil {
		return err
	}

	err = c.ch.Publish(c.config.AlertExchange, alert.Level, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
	if err != nil {
		c.ch = nil
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	c.logger.Debug("alert published",
		logging.String("exchange", c.config.AlertExchange),
		logging.String("level", alert.Level))
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Interface conformance for the monitor's collaborator contracts.
var (
	_ monitoring.QueueInspector = (*Client)(nil)
	_ monitoring.AlertSink      = (*Client)(nil)
)
