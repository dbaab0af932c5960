// Command event-tail follows the booking event topic and prints each event
// once, skipping redeliveries.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	holdstore "ms-booking/internal/booking/redis"
	"ms-booking/internal/config"
	"ms-booking/internal/kafka"
	"ms-booking/internal/logger"
	"ms-booking/internal/outbox"

	"github.com/fatih/color"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

func main() {
	group := flag.String("group", "", "consumer group (defaults to KAFKA_GROUP_ID)")
	dedup := flag.Bool("dedup", true, "drop redelivered events using Redis")
	flag.Parse()

	log := logger.NewLoggerWithWriter(os.Stderr)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}
	if *group == "" {
		*group = cfg.Kafka.GroupID + "-tail"
	}

	var seen *redis.Client
	if *dedup {
		seen, err = holdstore.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Fatal("REDIS", err.Error())
		}
		defer seen.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topics, err := kafka.ListTopics(ctx, cfg.Kafka.Brokers)
	if err != nil {
		log.Fatal("KAFKA", fmt.Sprintf("list topics: %v", err))
	}
	if !slices.Contains(topics, cfg.Kafka.Topic) {
		log.Warn("KAFKA", fmt.Sprintf("topic %s does not exist yet, waiting for the first event", cfg.Kafka.Topic))
	}

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, *group, seen, log)
	defer consumer.Close()

	code := color.New(color.FgCyan, color.Bold).SprintFunc()
	dim := color.New(color.FgHiBlack).SprintFunc()
	err = consumer.Start(ctx, func(_ context.Context, env outbox.Envelope) error {
		fmt.Printf("%s %s tenant=%s record=%s %s\n",
			dim(env.OccurredAt.Format("15:04:05")), code(env.EventCode), env.TenantID, env.RecordID, string(env.Data))
		return nil
	})
	if err != nil {
		log.Fatal("KAFKA", err.Error())
	}
}
