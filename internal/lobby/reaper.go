// internal/lobby/reaper.go
package lobby

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quibble-games/quibble/internal/store"
)

// Reaper evicts players whose heartbeat has expired and deletes lobbies with
// no active players left. It runs against the store directly, decoupled from
// any client's UI lifecycle, so crashed or backgrounded devices cannot hold a
// seat forever.
type Reaper struct {
	store     store.Store
	log       *logrus.Logger
	threshold time.Duration
	interval  time.Duration

	// OnReap, if set, stages extra work (archive records, round-document
	// cleanup) into the same batch that deletes a lobby, so a pass commits
	// or fails as one unit.
	OnReap func(b store.Batch, l *Lobby)
}

// NewReaper builds a Reaper. threshold is the heartbeat age past which a
// player counts as inactive; interval is the pass period for Run.
func NewReaper(s store.Store, log *logrus.Logger, threshold, interval time.Duration) *Reaper {
	if log == nil {
		log = logrus.New()
	}
	return &Reaper{store: s, log: log, threshold: threshold, interval: interval}
}

// CleanupOrphanedLobbies performs one reaper pass: scan every lobby document,
// partition each player list by heartbeat age, and commit every resulting
// mutation as one atomic batch. Untouched lobbies get no write at all, and a
// single malformed document is logged and skipped rather than aborting the
// pass.
func (r *Reaper) CleanupOrphanedLobbies(ctx context.Context) error {
	docs, err := r.store.Query(ctx, Collection, nil)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-r.threshold).UnixMilli()

	type rewrite struct {
		l       *Lobby
		evicted int
	}
	var rewrites []rewrite
	var deletions []*Lobby

	for _, doc := range docs {
		l, err := FromDocument(doc)
		if err != nil {
			r.log.WithField("error", err).Warn("skipping malformed lobby document")
			continue
		}

		active := l.Players[:0:0]
		for _, p := range l.Players {
			if p.LastSeenAt >= cutoff {
				active = append(active, p)
			}
		}
		if len(active) == len(l.Players) {
			continue
		}

		if len(active) == 0 {
			deletions = append(deletions, l)
			continue
		}

		evicted := len(l.Players) - len(active)
		hostGone := true
		for _, p := range active {
			if p.UserID == l.HostUserID {
				hostGone = false
				break
			}
		}
		l.Players = active
		if hostGone {
			l.recomputeHost()
		}
		rewrites = append(rewrites, rewrite{l: l, evicted: evicted})
	}

	if len(rewrites) == 0 && len(deletions) == 0 {
		return nil
	}

	err = r.store.RunBatch(ctx, func(b store.Batch) error {
		for _, rw := range rewrites {
			b.Set(Collection, rw.l.ID, rw.l.Document())
		}
		for _, l := range deletions {
			b.Delete(Collection, l.ID)
			if r.OnReap != nil {
				r.OnReap(b, l)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, rw := range rewrites {
		r.log.WithFields(logrus.Fields{
			"lobby":     rw.l.ID,
			"evicted":   rw.evicted,
			"remaining": len(rw.l.Players),
			"host":      rw.l.HostUserID,
		}).Info("evicted inactive players")
	}
	for _, l := range deletions {
		r.log.WithField("lobby", l.ID).Info("deleted lobby with no active players")
	}
	return nil
}

// Run executes cleanup passes on a fixed interval until ctx is done. Pass
// failures are logged and retried wholesale on the next tick.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.CleanupOrphanedLobbies(ctx); err != nil {
				r.log.WithField("error", err).Error("reaper pass failed")
			}
		}
	}
}
