// engine/engine.go
// Package engine composes the lobby coordination engine for a client process:
// one store connection feeding the coordinator, view synchronizer, round
// documents, auto-starter, and participant sessions.
package engine

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/quibble-games/quibble/internal/config"
	"github.com/quibble-games/quibble/internal/history"
	"github.com/quibble-games/quibble/internal/identity"
	"github.com/quibble-games/quibble/internal/lobby"
	"github.com/quibble-games/quibble/internal/rounds"
	"github.com/quibble-games/quibble/internal/session"
	"github.com/quibble-games/quibble/internal/store"
)

// Client is one device's handle on the shared lobby world.
type Client struct {
	Coordinator  *lobby.Coordinator
	Synchronizer *lobby.Synchronizer
	Rounds       *rounds.Service

	cfg config.Config
	log *logrus.Logger
	rdb *redis.Client
}

// New connects to the store and wires the engine together. The coordinator's
// destroy hook archives the lobby and clears its round documents, matching
// what the reaper does for evicted lobbies.
func New(cfg config.Config, log *logrus.Logger) (*Client, error) {
	if log == nil {
		log = logrus.New()
	}

	rdb, err := store.Connect(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	st := store.NewRedisStore(rdb, cfg.TxRetries)

	c := &Client{
		Coordinator:  lobby.NewCoordinator(st, log),
		Synchronizer: lobby.NewSynchronizer(st, log, cfg.PollInterval),
		Rounds:       rounds.NewService(st, log),
		cfg:          cfg,
		log:          log,
		rdb:          rdb,
	}
	c.Coordinator.OnDestroy = func(ctx context.Context, l *lobby.Lobby) {
		if err := c.Rounds.ClearRound(ctx, l.ID); err != nil {
			log.WithFields(logrus.Fields{"lobby": l.ID, "error": err}).Warn("round cleanup after destroy failed")
		}
		rec := history.NewArchiveRecord(l, history.ReasonLeft)
		if err := history.Publish(ctx, rdb, cfg.ArchiveQueue, rec); err != nil {
			log.WithFields(logrus.Fields{"lobby": l.ID, "error": err}).Warn("archive publish failed")
		}
	}
	return c, nil
}

// Join joins the lobby and starts a participant session for it: heartbeats
// plus the current-lobby view stream, both scoped to ctx.
func (c *Client) Join(ctx context.Context, who identity.Identity, lobbyID, passcode string, observe lobby.ObserveOptions) (*session.Session, error) {
	p := lobby.Player{UserID: who.UserID, Username: who.Username}
	if err := c.Coordinator.JoinLobby(ctx, lobbyID, p, passcode); err != nil {
		return nil, err
	}
	return c.startSession(ctx, who, lobbyID, observe)
}

// Create creates a lobby with who as host and starts the host's session.
func (c *Client) Create(ctx context.Context, who identity.Identity, settings lobby.Settings, observe lobby.ObserveOptions) (string, *session.Session, error) {
	host := lobby.Player{UserID: who.UserID, Username: who.Username}
	id, err := c.Coordinator.CreateLobby(ctx, settings, host)
	if err != nil {
		return "", nil, err
	}
	sess, err := c.startSession(ctx, who, id, observe)
	if err != nil {
		return "", nil, err
	}
	return id, sess, nil
}

func (c *Client) startSession(ctx context.Context, who identity.Identity, lobbyID string, observe lobby.ObserveOptions) (*session.Session, error) {
	return session.Start(ctx, c.Coordinator, c.Synchronizer, c.log, who, lobbyID, session.Options{
		HeartbeatInterval: c.cfg.HeartbeatInterval,
		Observe:           observe,
	})
}

// Close releases the store connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
