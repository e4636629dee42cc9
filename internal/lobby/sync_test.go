// internal/lobby/sync_test.go
package lobby

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitView(t *testing.T, ch <-chan LobbyView) LobbyView {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "view stream closed early")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lobby view")
		return LobbyView{}
	}
}

func waitList(t *testing.T, ch <-chan []LobbySummary) []LobbySummary {
	t.Helper()
	select {
	case l, ok := <-ch:
		require.True(t, ok, "list stream closed early")
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lobby list")
		return nil
	}
}

func waitClosed(t *testing.T, ch <-chan LobbyView) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("view stream never closed")
		}
	}
}

func observeTestLobby(t *testing.T, coord *Coordinator) string {
	t.Helper()
	id, err := coord.CreateLobby(context.Background(), Settings{
		Visibility: VisibilityPublic,
		MaxPlayers: 4,
		RoundCount: 3,
	}, testPlayer("host"))
	require.NoError(t, err)
	return id
}

func TestObserveLobbyPush(t *testing.T) {
	coord, st, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := observeTestLobby(t, coord)
	sync := NewSynchronizer(st, testLogger(), time.Second)

	views, err := sync.ObserveLobby(ctx, id, ObserveOptions{})
	require.NoError(t, err)

	v := waitView(t, views)
	require.NotNil(t, v.Lobby)
	assert.Equal(t, id, v.Lobby.ID)
	assert.False(t, v.RouteToGame)

	require.NoError(t, coord.JoinLobby(ctx, id, testPlayer("guest"), ""))
	v = waitView(t, views)
	require.NotNil(t, v.Lobby)
	assert.Len(t, v.Lobby.Players, 2)

	require.NoError(t, coord.UpdateLobbyStatus(ctx, id, StatusInProgress))
	v = waitView(t, views)
	assert.True(t, v.RouteToGame, "first IN_PROGRESS snapshot routes to the game")
}

func TestObserveLobbyGoneOnDelete(t *testing.T) {
	coord, st, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := observeTestLobby(t, coord)
	sync := NewSynchronizer(st, testLogger(), time.Second)

	views, err := sync.ObserveLobby(ctx, id, ObserveOptions{})
	require.NoError(t, err)
	waitView(t, views)

	require.NoError(t, coord.LeaveLobby(ctx, id, "uid-host"))

	v := waitView(t, views)
	assert.True(t, v.Gone)
	assert.Nil(t, v.Lobby)
	waitClosed(t, views)
}

func TestObserveLobbyPoll(t *testing.T) {
	coord, st, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := observeTestLobby(t, coord)
	sync := NewSynchronizer(st, testLogger(), time.Second)

	views, err := sync.ObserveLobby(ctx, id, ObserveOptions{Poll: true, Interval: 20 * time.Millisecond})
	require.NoError(t, err)

	v := waitView(t, views)
	require.NotNil(t, v.Lobby)
	assert.Equal(t, StatusWaiting, v.Lobby.Status)

	require.NoError(t, st.Delete(ctx, Collection, id))
	v = waitView(t, views)
	assert.True(t, v.Gone)
	waitClosed(t, views)
}

func TestObserveLobbyMissingFromStart(t *testing.T) {
	_, st, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sync := NewSynchronizer(st, testLogger(), time.Second)
	views, err := sync.ObserveLobby(ctx, "never-existed", ObserveOptions{Poll: true, Interval: 20 * time.Millisecond})
	require.NoError(t, err)

	v := waitView(t, views)
	assert.True(t, v.Gone, "observing an absent lobby yields Gone immediately")
	waitClosed(t, views)
}

func TestObservePublicLobbies(t *testing.T) {
	coord, st, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := observeTestLobby(t, coord)
	_, err := coord.CreateLobby(ctx, Settings{Visibility: VisibilityPrivate, MaxPlayers: 4, RoundCount: 3}, testPlayer("p"))
	require.NoError(t, err)

	// A full lobby is not joinable and must not be listed.
	full, err := coord.CreateLobby(ctx, Settings{Visibility: VisibilityPublic, MaxPlayers: 1, RoundCount: 3}, testPlayer("f"))
	require.NoError(t, err)

	sync := NewSynchronizer(st, testLogger(), time.Second)
	lists, err := sync.ObservePublicLobbies(ctx, ObserveOptions{Poll: true, Interval: 20 * time.Millisecond})
	require.NoError(t, err)

	list := waitList(t, lists)
	require.Len(t, list, 1)
	assert.Equal(t, pub, list[0].ID)
	assert.Equal(t, "host", list[0].HostUsername)
	assert.Equal(t, 1, list[0].PlayerCount)
	assert.NotEqual(t, full, list[0].ID)

	// The list refreshes when membership changes.
	require.NoError(t, coord.JoinLobby(ctx, pub, testPlayer("guest"), ""))
	list = waitList(t, lists)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].PlayerCount)

	// And empties once the last public lobby starts.
	require.NoError(t, coord.UpdateLobbyStatus(ctx, pub, StatusInProgress))
	list = waitList(t, lists)
	assert.Empty(t, list)
}

func TestObservePublicLobbiesOrdering(t *testing.T) {
	_, st, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mk := func(id string, createdAt int64) {
		l := &Lobby{
			ID:         id,
			HostUserID: "uid-h",
			Visibility: VisibilityPublic,
			MaxPlayers: 4,
			RoundCount: 3,
			Status:     StatusWaiting,
			CreatedAt:  createdAt,
			Players:    []Player{{UserID: "uid-h", IsHost: true, LastSeenAt: time.Now().UnixMilli()}},
		}
		seedLobby(t, st, l)
	}
	mk("b", 200)
	mk("a", 100)
	mk("c", 200)

	sync := NewSynchronizer(st, testLogger(), time.Second)
	lists, err := sync.ObservePublicLobbies(ctx, ObserveOptions{Poll: true, Interval: 20 * time.Millisecond})
	require.NoError(t, err)

	list := waitList(t, lists)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, "c", list[2].ID)
}
