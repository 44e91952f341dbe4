package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"engagement/internal/config"
	"engagement/internal/logger"
	"engagement/internal/queue"
	"engagement/internal/store"
	"engagement/internal/worker"
)

// Worker consumes session events from the redis queue, logs them and archives reports.
func main() {
	cfg := config.Load()
	log := logger.New(cfg).Named("worker")
	defer func() { _ = log.Sync() }()

	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	if cfg.QueueBackend != "redis" {
		log.Warn("QUEUE_BACKEND is not redis; the api consumes in-memory events itself",
			zap.String("backend", cfg.QueueBackend))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will retry", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal("queue consume init failed", zap.Error(err))
	}

	worker.New(log, cfg.ReportLocation, cfg.ReportDir).Run(ctx, messages)
}
