// internal/lobby/lobby.go
package lobby

import (
	"fmt"
)

// Collection is the document-store collection holding one document per lobby.
const Collection = "lobbies"

// Status is a lobby's lifecycle phase. Serialized as its symbolic name so
// reordering the enum can never corrupt stored documents.
type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusStarting   Status = "STARTING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
)

// ParseStatus maps a stored symbolic name back to a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusWaiting, StatusStarting, StatusInProgress, StatusFinished:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown lobby status %q", s)
}

// CanTransition reports whether the edge from s to next is legal. Writing the
// current status again is always legal (and a no-op at the coordinator).
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusWaiting:
		return next == StatusStarting || next == StatusInProgress
	case StatusStarting:
		// A cancelled countdown falls back to WAITING.
		return next == StatusInProgress || next == StatusWaiting
	case StatusInProgress:
		return next == StatusFinished
	}
	return false
}

// Visibility controls whether a lobby appears in the public list.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// Player is one participant embedded in a lobby document. JoinedAt is fixed at
// join time and defines host-succession order; LastSeenAt moves with every
// heartbeat. Both are epoch milliseconds.
type Player struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	IsReady     bool   `json:"isReady"`
	IsHost      bool   `json:"isHost"`
	IsSpectator bool   `json:"isSpectator"`
	JoinedAt    int64  `json:"joinedAt"`
	LastSeenAt  int64  `json:"lastSeenAt"`
}

// Settings are the creation-time parameters fixed for a lobby's lifetime.
type Settings struct {
	Visibility Visibility `json:"visibility"`
	Passcode   string     `json:"passcode"`
	MaxPlayers int        `json:"maxPlayers"`
	RoundCount int        `json:"roundCount"`
}

// Lobby is the root aggregate, one document per game session. The document in
// the store is the sole source of truth; Lobby values held by clients are
// cached projections.
type Lobby struct {
	ID           string     `json:"id"`
	HostUserID   string     `json:"hostUserId"`
	HostUsername string     `json:"hostUsername"`
	Visibility   Visibility `json:"visibility"`
	Passcode     string     `json:"passcode"`
	MaxPlayers   int        `json:"maxPlayers"`
	RoundCount   int        `json:"roundCount"`
	Players      []Player   `json:"players"`
	Status       Status     `json:"status"`
	CreatedAt    int64      `json:"createdAt"`
}

// IsFull reports whether the lobby is at capacity.
func (l *Lobby) IsFull() bool {
	return len(l.Players) >= l.MaxPlayers
}

// FindPlayer returns the index of the player with the given user id, or -1.
func (l *Lobby) FindPlayer(userID string) int {
	for i := range l.Players {
		if l.Players[i].UserID == userID {
			return i
		}
	}
	return -1
}

// Joinable reports whether a non-spectator seat is available: only WAITING
// lobbies with free capacity accept regular joins.
func (l *Lobby) Joinable() bool {
	return l.Status == StatusWaiting && !l.IsFull()
}

// recomputeHost restores the single-host invariant after any removal: the
// first remaining player in list order (= join order) becomes host, every
// other isHost flag is cleared, and hostUserId/hostUsername follow.
func (l *Lobby) recomputeHost() {
	if len(l.Players) == 0 {
		return
	}
	for i := range l.Players {
		l.Players[i].IsHost = i == 0
	}
	l.HostUserID = l.Players[0].UserID
	l.HostUsername = l.Players[0].Username
}
