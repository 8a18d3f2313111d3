package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tabletap/config"
	"tabletap/internal/logger"
	"tabletap/internal/storage"
	"tabletap/internal/worker"
)

// order-board consumes order events from Kafka and keeps the Redis board of
// pending orders current.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	defer log.Sync()

	if !cfg.Kafka.Enabled() {
		log.Fatal("TABLETAP_KAFKA_BROKERS is required")
	}
	if cfg.Redis.Addr == "" {
		log.Fatal("TABLETAP_REDIS_ADDR is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := config.MustInitRedis(cfg.Redis, log)
	defer rdb.Close()

	reader := config.NewKafkaReader(cfg.Kafka)
	defer reader.Close()

	consumer := worker.NewConsumer(reader, storage.NewRedisOrderBoard(rdb), log)
	log.Info("order board worker starting",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", cfg.Kafka.GroupID))

	if err := consumer.Start(ctx); err != nil {
		log.Fatal("consumer error", zap.Error(err))
	}
}
