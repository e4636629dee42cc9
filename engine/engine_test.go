// engine/engine_test.go
package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quibble-games/quibble/internal/config"
	"github.com/quibble-games/quibble/internal/history"
	"github.com/quibble-games/quibble/internal/identity"
	"github.com/quibble-games/quibble/internal/lobby"
	"github.com/quibble-games/quibble/internal/store"
)

func newTestClient(t *testing.T, addr string) *Client {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	c, err := New(config.Config{
		RedisAddr:         addr,
		HeartbeatInterval: 20 * time.Millisecond,
		TxRetries:         32,
		PollInterval:      20 * time.Millisecond,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTwoClientLobbyLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	hostClient := newTestClient(t, mr.Addr())
	guestClient := newTestClient(t, mr.Addr())

	host := identity.NewGuest("host")
	guest := identity.NewGuest("guest")

	observe := lobby.ObserveOptions{Poll: true, Interval: 20 * time.Millisecond}

	id, hostSess, err := hostClient.Create(ctx, host, lobby.Settings{
		Visibility: lobby.VisibilityPublic,
		MaxPlayers: 4,
		RoundCount: 3,
	}, observe)
	require.NoError(t, err)
	defer hostSess.Close()

	guestSess, err := guestClient.Join(ctx, guest, id, "", observe)
	require.NoError(t, err)
	defer guestSess.Close()

	// Both devices converge on the two-player roster.
	require.Eventually(t, func() bool {
		select {
		case v := <-hostSess.Views():
			return v.Lobby != nil && len(v.Lobby.Players) == 2
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	// Round documents live alongside the lobby.
	require.NoError(t, guestClient.Rounds.SetReady(ctx, id, guest.UserID, true, []string{"cat"}))
	states, err := hostClient.Rounds.ReadyStates(ctx, id)
	require.NoError(t, err)
	assert.True(t, states[guest.UserID].Ready)

	// Everyone leaving destroys the lobby and archives it.
	require.NoError(t, guestSess.Leave(ctx))
	require.NoError(t, hostSess.Leave(ctx))

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	st := store.NewRedisStore(rdb, 8)
	_, err = st.Get(ctx, lobby.Collection, id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	raw, err := rdb.LPop(ctx, history.DefaultQueueName).Result()
	require.NoError(t, err)
	var rec history.ArchiveRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, id, rec.LobbyID)
	assert.Equal(t, history.ReasonLeft, rec.Reason)

	// The destroy hook also cleared the round documents.
	states, err = hostClient.Rounds.ReadyStates(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestJoinUnknownLobby(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestClient(t, mr.Addr())

	_, err := c.Join(context.Background(), identity.NewGuest("g"), "nope", "", lobby.ObserveOptions{Poll: true})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
