// cmd/reaperd/main.go is the liveness daemon: it scans every lobby document on
// a fixed interval, evicts players whose heartbeat expired, reassigns hosts,
// and deletes lobbies with nobody active left.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/quibble-games/quibble/internal/config"
	"github.com/quibble-games/quibble/internal/history"
	"github.com/quibble-games/quibble/internal/lobby"
	"github.com/quibble-games/quibble/internal/rounds"
	"github.com/quibble-games/quibble/internal/store"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	rdb, err := store.Connect(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis connect failed: %v", err)
	}
	st := store.NewRedisStore(rdb, cfg.TxRetries)

	reaper := lobby.NewReaper(st, logger, cfg.InactiveThreshold, cfg.ReaperInterval)
	reaper.OnReap = func(b store.Batch, l *lobby.Lobby) {
		rounds.StageClear(b, l.ID)
		history.StagePublish(b, cfg.ArchiveQueue, history.NewArchiveRecord(l, history.ReasonReaped))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"interval":  cfg.ReaperInterval,
		"threshold": cfg.InactiveThreshold,
	}).Info("reaperd started")

	if err := reaper.CleanupOrphanedLobbies(ctx); err != nil {
		logger.WithField("error", err).Error("initial cleanup pass failed")
	}
	reaper.Run(ctx)

	logger.Info("reaperd shutdown complete")
}
