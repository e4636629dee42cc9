// internal/history/history.go
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quibble-games/quibble/internal/lobby"
	"github.com/quibble-games/quibble/internal/store"
)

// DefaultQueueName is the Redis list (queue) name for lobby archive records.
const DefaultQueueName = "quibble_lobby_archive"

// Reasons a lobby document was destroyed.
const (
	ReasonLeft   = "last_player_left"
	ReasonReaped = "reaped"
)

// ArchiveRecord captures the final shape of a lobby at the moment its
// document was destroyed, for the historian to persist.
type ArchiveRecord struct {
	LobbyID      string `json:"lobby_id"`
	HostUserID   string `json:"host_user_id"`
	HostUsername string `json:"host_username"`
	Visibility   string `json:"visibility"`
	MaxPlayers   int    `json:"max_players"`
	RoundCount   int    `json:"round_count"`
	PlayerCount  int    `json:"player_count"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"created_at"`
	DestroyedAt  int64  `json:"destroyed_at"`
	Reason       string `json:"reason"`
}

// NewArchiveRecord builds a record from a lobby's last known state.
func NewArchiveRecord(l *lobby.Lobby, reason string) ArchiveRecord {
	return ArchiveRecord{
		LobbyID:      l.ID,
		HostUserID:   l.HostUserID,
		HostUsername: l.HostUsername,
		Visibility:   string(l.Visibility),
		MaxPlayers:   l.MaxPlayers,
		RoundCount:   l.RoundCount,
		PlayerCount:  len(l.Players),
		Status:       string(l.Status),
		CreatedAt:    l.CreatedAt,
		DestroyedAt:  time.Now().UnixMilli(),
		Reason:       reason,
	}
}

// Publish serializes the record and pushes it onto the archive queue. Used on
// the last-player-left path, after the lobby deletion has committed.
func Publish(ctx context.Context, rdb *redis.Client, queue string, rec ArchiveRecord) error {
	if queue == "" {
		queue = DefaultQueueName
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal archive record: %w", err)
	}
	if err := rdb.RPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("failed to push to queue %q: %w", queue, err)
	}
	return nil
}

// StagePublish stages the queue push into an existing batch, so the reaper's
// lobby deletion and its archive record commit as one unit.
func StagePublish(b store.Batch, queue string, rec ArchiveRecord) {
	if queue == "" {
		queue = DefaultQueueName
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	b.Push(queue, data)
}
