package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	pkgevents "github.com/floroz/auctioneer/pkg/events"
)

const (
	UserEventsExchange       = "user.events"
	RoutingKeyUserSuspended  = "user.suspended"
	RoutingKeyUserReinstated = "user.reinstated"
)

// permanentBan stands in for a suspension event without an end time.
const permanentBan = 100 * 365 * 24 * time.Hour

var errMalformedEvent = errors.New("malformed user event")

// SuspensionRegistry is where bans received from the user service are kept.
type SuspensionRegistry interface {
	Suspend(ctx context.Context, userID uuid.UUID, until time.Time) error
	Reinstate(ctx context.Context, userID uuid.UUID) error
}

// SuspensionConsumer keeps the suspension registry in sync with user events.
type SuspensionConsumer struct {
	conn     *amqp.Connection
	registry SuspensionRegistry
	queue    string
	logger   *slog.Logger
}

// NewSuspensionConsumer creates a consumer. An empty queue name declares an
// exclusive queue for this process, which a node with a local registry needs
// so it sees every event.
func NewSuspensionConsumer(conn *amqp.Connection, registry SuspensionRegistry, queue string, logger *slog.Logger) *SuspensionConsumer {
	return &SuspensionConsumer{
		conn:     conn,
		registry: registry,
		queue:    queue,
		logger:   logger,
	}
}

// Run starts the consumer loop
func (c *SuspensionConsumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	queue, err := c.setupRabbitMQ(ch)
	if err != nil {
		return fmt.Errorf("failed to setup rabbitmq: %w", err)
	}

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Waiting for user events...", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("channel closed")
			}

			err := c.handle(ctx, d.RoutingKey, d.Body)
			switch {
			case errors.Is(err, errMalformedEvent):
				c.logger.Error("Dropping malformed user event", "routing_key", d.RoutingKey, "error", err)
				if nackErr := d.Nack(false, false); nackErr != nil {
					c.logger.Error("Failed to Nack message", "error", nackErr)
				}
			case err != nil:
				c.logger.Error("Failed to process user event", "routing_key", d.RoutingKey, "error", err)
				if nackErr := d.Nack(false, true); nackErr != nil {
					c.logger.Error("Failed to Nack message (requeue)", "error", nackErr)
				}
			default:
				if ackErr := d.Ack(false); ackErr != nil {
					c.logger.Error("Failed to Ack message", "error", ackErr)
				}
			}
		}
	}
}

// handle applies one event. Payload fields: user_id, and for suspensions
// an optional ban_ends_at (RFC 3339).
func (c *SuspensionConsumer) handle(ctx context.Context, routingKey string, body []byte) error {
	fields, err := pkgevents.UnmarshalPayload(body)
	if err != nil {
		return fmt.Errorf("%w: %w", errMalformedEvent, err)
	}

	raw, _ := fields["user_id"].(string)
	userID, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid user_id %q", errMalformedEvent, raw)
	}

	switch routingKey {
	case RoutingKeyUserSuspended:
		until := time.Now().Add(permanentBan)
		if rawEnd, ok := fields["ban_ends_at"].(string); ok && rawEnd != "" {
			until, err = time.Parse(time.RFC3339, rawEnd)
			if err != nil {
				return fmt.Errorf("%w: invalid ban_ends_at %q", errMalformedEvent, rawEnd)
			}
		}
		if err := c.registry.Suspend(ctx, userID, until); err != nil {
			return fmt.Errorf("failed to suspend bidder: %w", err)
		}
		c.logger.Info("Bidder suspended", "user_id", userID, "until", until)
	case RoutingKeyUserReinstated:
		if err := c.registry.Reinstate(ctx, userID); err != nil {
			return fmt.Errorf("failed to reinstate bidder: %w", err)
		}
		c.logger.Info("Bidder reinstated", "user_id", userID)
	default:
		return fmt.Errorf("%w: unexpected routing key %q", errMalformedEvent, routingKey)
	}
	return nil
}

func (c *SuspensionConsumer) setupRabbitMQ(ch *amqp.Channel) (string, error) {
	if err := pkgevents.DeclareTopicExchange(ch, UserEventsExchange); err != nil {
		return "", err
	}

	durable, exclusive := true, false
	if c.queue == "" {
		durable, exclusive = false, true
	}
	q, err := ch.QueueDeclare(
		c.queue,   // name
		durable,   // durable
		exclusive, // delete when unused
		exclusive, // exclusive
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return "", err
	}

	for _, key := range []string{RoutingKeyUserSuspended, RoutingKeyUserReinstated} {
		if err := ch.QueueBind(q.Name, key, UserEventsExchange, false, nil); err != nil {
			return "", err
		}
	}
	return q.Name, nil
}
