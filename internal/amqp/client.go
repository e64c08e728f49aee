// Package amqp wraps the RabbitMQ connection used to fan out subscription
// events to the export worker and renewal reminders to the notifier.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type Client struct {
	url           string
	conn          *amqp091.Connection
	channel       *amqp091.Channel
	exchangeName  string
	eventQueue    string
	reminderQueue string
}

func NewClient(url, exchangeName, eventQueue, reminderQueue string) (*Client, error) {
	client := &Client{
		url:           url,
		exchangeName:  exchangeName,
		eventQueue:    eventQueue,
		reminderQueue: reminderQueue,
	}
	if err := client.dial(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) dial() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.conn = conn
	c.channel = channel
	if err := c.setup(); err != nil {
		c.Close()
		return fmt.Errorf("setup exchange and queues: %w", err)
	}
	return nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range []string{c.eventQueue, c.reminderQueue} {
		_, err = c.channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		// Routing key is the queue name (direct exchange).
		err = c.channel.QueueBind(queue, queue, c.exchangeName, false, nil)
		if err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

// PublishSubscriptionEvent publishes a subscription change notification.
func (c *Client) PublishSubscriptionEvent(ctx context.Context, msg *SubscriptionEventMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, c.eventQueue, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published subscription event",
		"subscription_id", msg.SubscriptionID,
		"event", msg.Event,
		"version", msg.Version,
		"queue", c.eventQueue)
	return nil
}

// PublishRenewalReminder publishes an upcoming-renewal reminder.
func (c *Client) PublishRenewalReminder(ctx context.Context, msg *RenewalReminderMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, c.reminderQueue, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published renewal reminder",
		"subscription_id", msg.SubscriptionID,
		"renews_at", msg.RenewsAt,
		"queue", c.reminderQueue)
	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// ConsumeSubscriptionEvents delivers subscription events to handler until ctx
// is canceled, redialing with backoff when the broker connection drops.
// Handler errors requeue the message; malformed payloads are dropped.
func (c *Client) ConsumeSubscriptionEvents(ctx context.Context, handler func(*SubscriptionEventMessage) error) error {
	return c.consumeLoop(ctx, c.eventQueue, func(body []byte) error {
		msg, err := SubscriptionEventMessageFromJSON(body)
		if err != nil {
			return errMalformed{err}
		}
		return handler(msg)
	})
}

// ConsumeRenewalReminders delivers renewal reminders to handler until ctx is
// canceled.
func (c *Client) ConsumeRenewalReminders(ctx context.Context, handler func(*RenewalReminderMessage) error) error {
	return c.consumeLoop(ctx, c.reminderQueue, func(body []byte) error {
		msg, err := RenewalReminderMessageFromJSON(body)
		if err != nil {
			return errMalformed{err}
		}
		return handler(msg)
	})
}

// consumeLoop keeps a consumer alive across broker restarts.
func (c *Client) consumeLoop(ctx context.Context, queue string, handle func([]byte) error) error {
	attempt := 0
	for {
		err := c.consume(ctx, queue, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !isConnectionError(err) && !errors.Is(err, errChannelClosed) {
			return err
		}

		wait := exponentialBackoff(attempt)
		attempt++
		slog.WarnContext(ctx, "Consumer connection lost, reconnecting",
			"queue", queue, "error", err, "wait", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if err := c.dial(); err != nil {
			slog.ErrorContext(ctx, "Reconnect failed", "queue", queue, "error", err)
			continue
		}
		attempt = 0
	}
}

type errMalformed struct{ err error }

func (e errMalformed) Error() string { return "malformed message: " + e.err.Error() }

var errChannelClosed = errors.New("message channel closed")

func (c *Client) consume(ctx context.Context, queue string, handle func([]byte) error) error {
	msgs, err := c.channel.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack (we want manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "queue", queue, "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errChannelClosed
			}

			if err := handle(delivery.Body); err != nil {
				if _, malformed := err.(errMalformed); malformed {
					slog.ErrorContext(ctx, "Dropping malformed message", "queue", queue, "error", err)
					delivery.Nack(false, false) // reject and don't requeue
					continue
				}
				slog.ErrorContext(ctx, "Failed to handle message", "queue", queue, "error", err)
				delivery.Nack(false, true) // reject and requeue
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// exponentialBackoff returns the wait before reconnect attempt n, doubling
// from one second and capped at 30 seconds.
func exponentialBackoff(attempt int) time.Duration {
	backoff := time.Second << uint(attempt)
	if backoff > 30*time.Second || backoff <= 0 {
		return 30 * time.Second
	}
	return backoff
}

// isConnectionError reports whether err looks like a broken AMQP connection
// worth a reconnect, as opposed to a handler or protocol error.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection closed",
		"unexpected EOF",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
