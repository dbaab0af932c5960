package kafka

import (
	"context"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/segmentio/kafka-go"
)

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer streams outbound events to one topic. Messages are keyed by tenant
// so a tenant's events stay on one partition, in order.
type Producer struct {
	Writer Writer
	log    *logger.Logger
}

func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{Writer: writer, log: log}
}

// Publish sends one event; the payload is the JSON envelope stored in the
// outbox.
func (p *Producer) Publish(ctx context.Context, ev models.OutboundEvent) error {
	p.log.LogKafka("PUBLISH", ev.EventCode, ev.ID)
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.TenantID),
		Value: []byte(ev.Payload),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "event_code", Value: []byte(ev.EventCode)},
		},
	})
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
