package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type Client struct {
	url          string
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		url:          url,
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
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

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		c.queueName,    // queue name
		c.queueName,    // routing key (same as queue name for direct exchange)
		c.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// PublishEvent publishes one intake event as a persistent message.
func (c *Client) PublishEvent(ctx context.Context, event *IntakeEvent) error {
	body, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(
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
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	slog.InfoContext(ctx, "Published intake event",
		"kind", event.Kind,
		"entry_name", event.Name,
		"quantity_ml", event.QuantityML,
		"exchange", c.exchangeName,
		"queue", c.queueName)

	return nil
}

// ConsumeEvents consumes intake events with manual acknowledgement,
// dispatching on the event kind. A handler error requeues the message;
// an undecodable message is rejected without requeue.
func (c *Client) ConsumeEvents(ctx context.Context,
	intakeHandler func(context.Context, *IntakeEvent) error,
	resetHandler func(context.Context, *IntakeEvent) error,
) error {
	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming intake events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping event consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			event, err := IntakeEventFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal event", "error", err)
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}

			var handlerErr error
			switch event.Kind {
			case KindIntakeLogged:
				handlerErr = intakeHandler(ctx, event)
			case KindLedgerReset:
				handlerErr = resetHandler(ctx, event)
			default:
				slog.WarnContext(ctx, "Unknown event kind", "kind", event.Kind)
				delivery.Nack(false, false)
				continue
			}

			if handlerErr != nil {
				slog.ErrorContext(ctx, "Failed to handle event",
					"error", handlerErr,
					"kind", event.Kind)
				delivery.Nack(false, true) // reject and requeue
				continue
			}

			delivery.Ack(false)
		}
	}
}

// ConsumeEventsWithReconnect wraps ConsumeEvents with redial-on-drop:
// when the broker connection is lost the client redials with
// exponential backoff instead of giving up.
func (c *Client) ConsumeEventsWithReconnect(ctx context.Context,
	intakeHandler func(context.Context, *IntakeEvent) error,
	resetHandler func(context.Context, *IntakeEvent) error,
) error {
	attempt := 0
	for {
		err := c.ConsumeEvents(ctx, intakeHandler, resetHandler)
		if err == nil || ctx.Err() != nil {
			return err
		}
		if !isConnectionError(err) {
			return err
		}

		delay := exponentialBackoff(attempt)
		attempt++
		slog.WarnContext(ctx, "AMQP connection lost, reconnecting",
			"error", err,
			"delay", delay.String(),
			"attempt", attempt)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if err := c.redial(); err != nil {
			slog.ErrorContext(ctx, "AMQP redial failed", "error", err)
			continue
		}
		attempt = 0
	}
}

func (c *Client) redial() error {
	c.Close()

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
	return c.setup()
}

// exponentialBackoff returns the reconnect delay for the given attempt,
// doubling from one second and capped at 30 seconds.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	delay := time.Second << attempt
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

// isConnectionError reports whether an error looks like a dropped
// broker connection rather than an application failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{
		"connection refused",
		"connection closed",
		"connection reset",
		"channel closed",
		"message channel closed",
		"unexpected EOF",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
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
