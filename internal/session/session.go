// internal/session/session.go
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quibble-games/quibble/internal/identity"
	"github.com/quibble-games/quibble/internal/lobby"
)

// Session is one device's live participation in a lobby: the heartbeat
// obligation plus the observation of the current-lobby view. Both loops are
// bound to the session's scope, not the lobby's lifetime — when the caller
// navigates away or signs out, Close stops the loops and the lobby persists,
// to be reaped independently if nobody else is left.
type Session struct {
	coord   *lobby.Coordinator
	log     *logrus.Logger
	who     identity.Identity
	lobbyID string

	cancel    context.CancelFunc
	views     <-chan lobby.LobbyView
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Options tunes a session's loops.
type Options struct {
	// HeartbeatInterval must stay well under the reaper's inactivity
	// threshold. Defaults to 10s.
	HeartbeatInterval time.Duration

	// Observe selects the push or poll read path for the lobby view.
	Observe lobby.ObserveOptions
}

// Start begins heartbeating and observing for an identity that has already
// joined the lobby. The returned session owns both loops until Close.
func Start(ctx context.Context, coord *lobby.Coordinator, syncer *lobby.Synchronizer, log *logrus.Logger, who identity.Identity, lobbyID string, opts Options) (*Session, error) {
	if log == nil {
		log = logrus.New()
	}
	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	sctx, cancel := context.WithCancel(ctx)
	views, err := syncer.ObserveLobby(sctx, lobbyID, opts.Observe)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Session{
		coord:   coord,
		log:     log,
		who:     who,
		lobbyID: lobbyID,
		cancel:  cancel,
		views:   views,
	}
	s.wg.Add(1)
	go s.heartbeatLoop(sctx, interval)
	return s, nil
}

// Views is the stream of lobby snapshots for the UI layer. It closes when the
// lobby is gone or the session is closed.
func (s *Session) Views() <-chan lobby.LobbyView {
	return s.views
}

// Identity returns who this session heartbeats for.
func (s *Session) Identity() identity.Identity {
	return s.who
}

func (s *Session) heartbeatLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	beat := func() {
		if err := s.coord.UpdateHeartbeat(ctx, s.lobbyID, s.who.UserID); err != nil && ctx.Err() == nil {
			// Heartbeat failures are never fatal to the session; the view
			// stream reports what actually happened to the lobby.
			s.log.WithFields(logrus.Fields{
				"lobby": s.lobbyID,
				"user":  s.who.UserID,
				"error": err,
			}).Warn("heartbeat failed")
		}
	}

	beat()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}

// Close stops the heartbeat and observation loops. The caller's seat in the
// lobby is left intact; without further heartbeats the reaper will evict it.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

// Leave explicitly gives up the seat, then closes the session. Used for a
// deliberate "leave game" action rather than backgrounding the app.
func (s *Session) Leave(ctx context.Context) error {
	s.Close()
	return s.coord.LeaveLobby(ctx, s.lobbyID, s.who.UserID)
}
