// cmd/historian/main.go is the archive daemon: it pops lobby archive records
// from the Redis queue and persists them to Postgres in batches.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/quibble-games/quibble/internal/config"
	"github.com/quibble-games/quibble/internal/database"
	"github.com/quibble-games/quibble/internal/history"
	"github.com/quibble-games/quibble/internal/store"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := store.Connect(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis connect failed: %v", err)
	}
	if err := database.Connect(ctx); err != nil {
		logger.Fatalf("database connect failed: %v", err)
	}

	svc := history.NewService(rdb, logger, cfg.ArchiveQueue, cfg.HistorianBatchSize, cfg.HistorianFlush)
	logger.Info("historian started")
	svc.Run(ctx)
	logger.Info("historian shutdown complete")
}
