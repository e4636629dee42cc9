// internal/session/session_test.go
package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quibble-games/quibble/internal/identity"
	"github.com/quibble-games/quibble/internal/lobby"
	"github.com/quibble-games/quibble/internal/store"
)

func newTestSession(t *testing.T) (*lobby.Coordinator, *lobby.Synchronizer, *store.RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	st := store.NewRedisStore(rdb, 8)
	return lobby.NewCoordinator(st, logger), lobby.NewSynchronizer(st, logger, time.Second), st
}

func createHostedLobby(t *testing.T, coord *lobby.Coordinator, who identity.Identity) string {
	t.Helper()
	id, err := coord.CreateLobby(context.Background(), lobby.Settings{
		Visibility: lobby.VisibilityPublic,
		MaxPlayers: 4,
		RoundCount: 3,
	}, lobby.Player{UserID: who.UserID, Username: who.Username})
	require.NoError(t, err)
	return id
}

func lastSeen(t *testing.T, st *store.RedisStore, lobbyID, userID string) int64 {
	t.Helper()
	doc, err := st.Get(context.Background(), lobby.Collection, lobbyID)
	require.NoError(t, err)
	l, err := lobby.FromDocument(doc)
	require.NoError(t, err)
	i := l.FindPlayer(userID)
	require.GreaterOrEqual(t, i, 0)
	return l.Players[i].LastSeenAt
}

func TestSessionHeartbeats(t *testing.T) {
	coord, syncer, st := newTestSession(t)
	ctx := context.Background()

	who := identity.NewGuest("host")
	id := createHostedLobby(t, coord, who)

	// Age the seat so the loop's refresh is observable.
	doc, err := st.Get(ctx, lobby.Collection, id)
	require.NoError(t, err)
	l, err := lobby.FromDocument(doc)
	require.NoError(t, err)
	stale := time.Now().Add(-time.Minute).UnixMilli()
	l.Players[0].LastSeenAt = stale
	require.NoError(t, st.Set(ctx, lobby.Collection, id, l.Document()))

	s, err := Start(ctx, coord, syncer, nil, who, id, Options{
		HeartbeatInterval: 20 * time.Millisecond,
		Observe:           lobby.ObserveOptions{Poll: true, Interval: 20 * time.Millisecond},
	})
	require.NoError(t, err)
	defer s.Close()

	require.Eventually(t, func() bool {
		return lastSeen(t, st, id, who.UserID) > stale
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, who, s.Identity())
}

func TestSessionCloseKeepsSeat(t *testing.T) {
	coord, syncer, st := newTestSession(t)
	ctx := context.Background()

	who := identity.NewGuest("host")
	id := createHostedLobby(t, coord, who)

	s, err := Start(ctx, coord, syncer, nil, who, id, Options{
		HeartbeatInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	s.Close()
	seen := lastSeen(t, st, id, who.UserID)

	// No further beats after Close; the seat itself persists.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, seen, lastSeen(t, st, id, who.UserID))

	// Close is safe to repeat.
	s.Close()
}

func TestSessionLeaveGivesUpSeat(t *testing.T) {
	coord, syncer, st := newTestSession(t)
	ctx := context.Background()

	host := identity.NewGuest("host")
	id := createHostedLobby(t, coord, host)

	guest := identity.NewGuest("guest")
	require.NoError(t, coord.JoinLobby(ctx, id, lobby.Player{UserID: guest.UserID, Username: guest.Username}, ""))

	s, err := Start(ctx, coord, syncer, nil, guest, id, Options{
		HeartbeatInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, s.Leave(ctx))

	doc, err := st.Get(ctx, lobby.Collection, id)
	require.NoError(t, err)
	l, err := lobby.FromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, -1, l.FindPlayer(guest.UserID))
	assert.Equal(t, host.UserID, l.HostUserID)
}

func TestSessionViewsEndWhenLobbyDies(t *testing.T) {
	coord, syncer, _ := newTestSession(t)
	ctx := context.Background()

	who := identity.NewGuest("host")
	id := createHostedLobby(t, coord, who)

	s, err := Start(ctx, coord, syncer, nil, who, id, Options{
		HeartbeatInterval: time.Hour, // only the initial beat
		Observe:           lobby.ObserveOptions{Poll: true, Interval: 20 * time.Millisecond},
	})
	require.NoError(t, err)
	defer s.Close()

	// Drain the initial snapshot.
	select {
	case v := <-s.Views():
		require.NotNil(t, v.Lobby)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial view")
	}

	require.NoError(t, coord.LeaveLobby(ctx, id, who.UserID))

	sawGone := false
	deadline := time.After(2 * time.Second)
	for !sawGone {
		select {
		case v, ok := <-s.Views():
			if !ok {
				t.Fatal("stream closed without a Gone view")
			}
			if v.Gone {
				sawGone = true
			}
		case <-deadline:
			t.Fatal("never saw the Gone view")
		}
	}
}
