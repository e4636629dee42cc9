// internal/lobby/autostart.go
package lobby

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quibble-games/quibble/internal/store"
)

// ShouldAutoStart is the pure auto-start decision: a WAITING lobby at
// capacity starts its countdown.
func ShouldAutoStart(l *Lobby) bool {
	return l.Status == StatusWaiting && l.IsFull()
}

// StartIfFull issues the WAITING -> IN_PROGRESS transition only if the lobby
// is still full at commit time, re-validated from freshly read state. Safe to
// run redundantly on every observing client: a lobby already in progress is a
// no-op, a lobby that emptied below capacity is left alone.
func (c *Coordinator) StartIfFull(ctx context.Context, lobbyID string) error {
	var started bool
	err := c.store.RunTransaction(ctx, func(tx store.Tx) error {
		started = false
		l, err := c.readLobby(tx, lobbyID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !ShouldAutoStart(l) {
			return nil
		}
		l.Status = StatusInProgress
		tx.Set(Collection, l.ID, l.Document())
		started = true
		return nil
	})
	if err != nil {
		return err
	}
	if started {
		c.log.WithField("lobby", lobbyID).Info("lobby full, auto-started")
	}
	return nil
}

// AutoStarter arms a countdown while the observed lobby is full and WAITING,
// cancels it the moment it is not, and fires the (idempotent) start when the
// countdown elapses. Multiple clients running this concurrently is expected.
type AutoStarter struct {
	coord     *Coordinator
	log       *logrus.Logger
	countdown time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewAutoStarter builds an AutoStarter issuing starts through coord.
func NewAutoStarter(coord *Coordinator, log *logrus.Logger, countdown time.Duration) *AutoStarter {
	if log == nil {
		log = logrus.New()
	}
	return &AutoStarter{coord: coord, log: log, countdown: countdown}
}

// Watch consumes lobby views until the stream ends or ctx is cancelled,
// arming and cancelling the countdown as the lobby fills and drains.
func (a *AutoStarter) Watch(ctx context.Context, views <-chan LobbyView) {
	defer a.Cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			a.Observe(ctx, v)
		}
	}
}

// Observe feeds one snapshot into the countdown logic.
func (a *AutoStarter) Observe(ctx context.Context, v LobbyView) {
	if v.Gone || v.Lobby == nil || !ShouldAutoStart(v.Lobby) {
		a.Cancel()
		return
	}
	a.arm(ctx, v.Lobby.ID)
}

func (a *AutoStarter) arm(ctx context.Context, lobbyID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		return
	}

	a.log.WithFields(logrus.Fields{
		"lobby":     lobbyID,
		"countdown": a.countdown,
	}).Info("lobby full, starting countdown")

	var timer *time.Timer
	timer = time.AfterFunc(a.countdown, func() {
		a.mu.Lock()
		if a.timer != timer {
			// A cancel raced the expiry; this firing is stale.
			a.mu.Unlock()
			return
		}
		a.timer = nil
		a.mu.Unlock()

		if err := a.coord.StartIfFull(ctx, lobbyID); err != nil {
			a.log.WithFields(logrus.Fields{"lobby": lobbyID, "error": err}).Warn("auto-start failed")
		}
	})
	a.timer = timer
}

// Cancel stops any armed countdown.
func (a *AutoStarter) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
