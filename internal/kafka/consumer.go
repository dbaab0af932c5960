package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/outbox"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads booking event envelopes. Delivery is at least once, so an
// optional Redis set of seen event ids drops redeliveries.
type Consumer struct {
	reader Reader
	seen   *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, seen *redis.Client, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(reader, seen, log)
}

func NewConsumerWithReader(r Reader, seen *redis.Client, log *logger.Logger) *Consumer {
	return &Consumer{reader: r, seen: seen, ttl: 24 * time.Hour, log: log}
}

// Start hands each new envelope to handler and commits it once handled. It
// returns when ctx is done.
func (c *Consumer) Start(ctx context.Context, handler func(ctx context.Context, env outbox.Envelope) error) error {
	c.log.LogKafka("START", "", "consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("KAFKA", fmt.Sprintf("read message: %v", err))
			continue
		}
		if err := c.handle(ctx, msg, handler); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("offset %d: %v", msg.Offset, err))
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error("KAFKA", fmt.Sprintf("commit offset %d: %v", msg.Offset, err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler func(context.Context, outbox.Envelope) error) error {
	var env outbox.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		// Poison message; commit past it.
		c.log.Warn("KAFKA", fmt.Sprintf("dropping undecodable message at offset %d: %v", msg.Offset, err))
		return nil
	}
	if env.EventID == "" {
		return errors.New("envelope without event_id")
	}

	fresh, err := c.markSeen(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !fresh {
		c.log.LogKafka("DUPLICATE", env.EventCode, env.EventID)
		return nil
	}
	if err := handler(ctx, env); err != nil {
		c.forget(ctx, env.EventID)
		return err
	}
	return nil
}

func (c *Consumer) markSeen(ctx context.Context, eventID string) (bool, error) {
	if c.seen == nil {
		return true, nil
	}
	ok, err := c.seen.SetNX(ctx, "consumed:"+eventID, 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return ok, nil
}

func (c *Consumer) forget(ctx context.Context, eventID string) {
	if c.seen != nil {
		c.seen.Del(ctx, "consumed:"+eventID)
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
