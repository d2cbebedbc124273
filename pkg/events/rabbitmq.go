package events

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ContentTypeProtobuf is set on every message published by this package.
const ContentTypeProtobuf = "application/x-protobuf"

// RabbitMQPublisher implements EventPublisher on a single AMQP channel.
type RabbitMQPublisher struct {
	mu      sync.Mutex
	channel *amqp.Channel
}

// NewRabbitMQPublisher opens a channel and declares the given topic exchanges.
func NewRabbitMQPublisher(conn *amqp.Connection, exchanges ...string) (*RabbitMQPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	for _, exchange := range exchanges {
		if err := DeclareTopicExchange(ch, exchange); err != nil {
			_ = ch.Close()
			return nil, err
		}
	}

	return &RabbitMQPublisher{channel: ch}, nil
}

// DeclareTopicExchange declares a durable topic exchange.
func DeclareTopicExchange(ch *amqp.Channel, name string) error {
	err := ch.ExchangeDeclare(
		name,    // name
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}
	return nil
}

// Close closes the channel
func (p *RabbitMQPublisher) Close() error {
	return p.channel.Close()
}

// Publish publishes a message to the broker. amqp channels are not safe for
// concurrent publishing, so calls are serialized.
func (p *RabbitMQPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  ContentTypeProtobuf,
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}
