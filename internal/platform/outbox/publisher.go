package outbox

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// AMQPPublisher publishes outbox messages to a durable RabbitMQ queue.
type AMQPPublisher struct {
	ch    *amqp.Channel
	queue string
}

func NewAMQPPublisher(conn *amqp.Connection, queue string) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQPPublisher{ch: ch, queue: queue}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, m *Message) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    m.ID.String(),
		Timestamp:    m.CreatedAt,
		Type:         m.Topic,
		Body:         m.Payload,
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{"topic": m.Topic},
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}

// LogPublisher writes messages to the structured log; used when no broker is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: logger}
}

func (p *LogPublisher) Publish(_ context.Context, m *Message) error {
	p.log.Info().Str("message_id", m.ID.String()).Str("topic", m.Topic).
		RawJSON("payload", m.Payload).Msg("notification")
	return nil
}

// Tee publishes to primary and, once primary accepts a message, to every
// mirror. Mirror errors are ignored; only primary decides redelivery.
func Tee(primary Publisher, mirrors ...Publisher) Publisher {
	return &teePublisher{primary: primary, mirrors: mirrors}
}

type teePublisher struct {
	primary Publisher
	mirrors []Publisher
}

func (p *teePublisher) Publish(ctx context.Context, m *Message) error {
	if err := p.primary.Publish(ctx, m); err != nil {
		return err
	}
	for _, mirror := range p.mirrors {
		_ = mirror.Publish(ctx, m)
	}
	return nil
}
