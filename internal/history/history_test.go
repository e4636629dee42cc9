// internal/history/history_test.go
package history

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quibble-games/quibble/internal/lobby"
	"github.com/quibble-games/quibble/internal/store"
)

func testLobby() *lobby.Lobby {
	return &lobby.Lobby{
		ID:           "l1",
		HostUserID:   "uid-h",
		HostUsername: "h",
		Visibility:   lobby.VisibilityPublic,
		MaxPlayers:   4,
		RoundCount:   3,
		Status:       lobby.StatusFinished,
		CreatedAt:    time.Now().Add(-time.Hour).UnixMilli(),
		Players:      []lobby.Player{{UserID: "uid-h"}, {UserID: "uid-g"}},
	}
}

func TestNewArchiveRecord(t *testing.T) {
	rec := NewArchiveRecord(testLobby(), ReasonLeft)

	assert.Equal(t, "l1", rec.LobbyID)
	assert.Equal(t, "uid-h", rec.HostUserID)
	assert.Equal(t, string(lobby.VisibilityPublic), rec.Visibility)
	assert.Equal(t, 2, rec.PlayerCount)
	assert.Equal(t, ReasonLeft, rec.Reason)
	assert.Greater(t, rec.DestroyedAt, rec.CreatedAt)
}

func TestPublish(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	ctx := context.Background()

	rec := NewArchiveRecord(testLobby(), ReasonLeft)
	require.NoError(t, Publish(ctx, rdb, "", rec))

	raw, err := rdb.LPop(ctx, DefaultQueueName).Result()
	require.NoError(t, err)

	var got ArchiveRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, rec, got)
}

func TestStagePublishCommitsWithBatch(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	ctx := context.Background()

	st := store.NewRedisStore(rdb, 8)
	rec := NewArchiveRecord(testLobby(), ReasonReaped)

	err := st.RunBatch(ctx, func(b store.Batch) error {
		b.Delete(lobby.Collection, "l1")
		StagePublish(b, "custom_queue", rec)
		return nil
	})
	require.NoError(t, err)

	n, err := rdb.LLen(ctx, "custom_queue").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
