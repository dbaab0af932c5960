package outbox

import (
	"context"
	"fmt"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// LogSink writes events to the service log. It is the sink for local runs
// without a broker.
type LogSink struct {
	Log *logger.Logger
}

func (s LogSink) Publish(_ context.Context, ev models.OutboundEvent) error {
	s.Log.LogOutbox("PUBLISH", ev.ID, fmt.Sprintf("%s tenant=%s %s", ev.EventCode, ev.TenantID, ev.Payload))
	return nil
}

func (s LogSink) Close() error { return nil }

// RabbitSink publishes to a durable topic exchange, routed by event code.
type RabbitSink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewRabbitSink(url, exchange string) (*RabbitSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &RabbitSink{conn: conn, ch: ch, exchange: exchange}, nil
}

func (s *RabbitSink) Publish(ctx context.Context, ev models.OutboundEvent) error {
	return s.ch.PublishWithContext(ctx, s.exchange, ev.EventCode, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.CreatedAt.UTC(),
		Type:         ev.EventCode,
		Headers:      amqp.Table{"tenant_id": ev.TenantID},
		Body:         []byte(ev.Payload),
	})
}

func (s *RabbitSink) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
