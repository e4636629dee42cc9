// internal/lobby/coordinator.go
package lobby

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quibble-games/quibble/internal/store"
)

// PasscodeLength is the fixed length of private-lobby passcodes.
const PasscodeLength = 4

// Coordinator owns every mutation of lobby documents. Each operation is a
// single read-validate-write transaction against the store, so concurrent
// callers on different devices serialize on the document rather than on any
// client-side lock.
type Coordinator struct {
	store store.Store
	log   *logrus.Logger

	// OnDestroy, if set, runs after a transaction that deleted the lobby
	// document commits (last player left). The argument is the lobby as it
	// was just before deletion. Mirrors are expected to archive it and clear
	// its round documents.
	OnDestroy func(ctx context.Context, l *Lobby)
}

// NewCoordinator builds a Coordinator over the given store.
func NewCoordinator(s store.Store, log *logrus.Logger) *Coordinator {
	if log == nil {
		log = logrus.New()
	}
	return &Coordinator{store: s, log: log}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// GeneratePasscode returns a random fixed-length numeric passcode.
func GeneratePasscode() (string, error) {
	buf := make([]byte, PasscodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate passcode: %w", err)
	}
	code := make([]byte, PasscodeLength)
	for i, b := range buf {
		code[i] = '0' + b%10
	}
	return string(code), nil
}

func validPasscode(code string) bool {
	if len(code) != PasscodeLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CreateLobby writes a brand-new lobby document with the caller as host and
// returns its id. Private lobbies get a generated passcode when the settings
// leave it empty. After the transactional write the document is read back and
// verified; a mismatch surfaces ErrProjectionMismatch.
func (c *Coordinator) CreateLobby(ctx context.Context, settings Settings, host Player) (string, error) {
	if settings.MaxPlayers <= 0 {
		return "", fmt.Errorf("maxPlayers must be positive, got %d", settings.MaxPlayers)
	}
	if settings.RoundCount <= 0 {
		return "", fmt.Errorf("roundCount must be positive, got %d", settings.RoundCount)
	}
	switch settings.Visibility {
	case VisibilityPublic:
		settings.Passcode = ""
	case VisibilityPrivate:
		if settings.Passcode == "" {
			code, err := GeneratePasscode()
			if err != nil {
				return "", err
			}
			settings.Passcode = code
		}
		if !validPasscode(settings.Passcode) {
			return "", fmt.Errorf("passcode must be %d numeric digits", PasscodeLength)
		}
	default:
		return "", fmt.Errorf("unknown visibility %q", settings.Visibility)
	}
	if host.UserID == "" {
		return "", fmt.Errorf("host player has no userId")
	}

	now := nowMillis()
	host.IsHost = true
	host.IsReady = false
	host.IsSpectator = false
	host.JoinedAt = now
	host.LastSeenAt = now

	l := &Lobby{
		ID:           uuid.NewString(),
		HostUserID:   host.UserID,
		HostUsername: host.Username,
		Visibility:   settings.Visibility,
		Passcode:     settings.Passcode,
		MaxPlayers:   settings.MaxPlayers,
		RoundCount:   settings.RoundCount,
		Players:      []Player{host},
		Status:       StatusWaiting,
		CreatedAt:    now,
	}

	err := c.store.RunTransaction(ctx, func(tx store.Tx) error {
		_, err := tx.Get(Collection, l.ID)
		if err == nil {
			// The id generator makes this near-impossible; the contract
			// still guards it.
			return fmt.Errorf("lobby %s: %w", l.ID, store.ErrAlreadyExists)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		tx.Set(Collection, l.ID, l.Document())
		return nil
	})
	if err != nil {
		return "", err
	}

	// Verify-after-write: the created document must project back to what we
	// wrote before the caller is told the lobby exists.
	doc, err := c.store.Get(ctx, Collection, l.ID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProjectionMismatch, err)
	}
	readback, err := FromDocument(doc)
	if err != nil || readback.ID != l.ID || readback.HostUserID != l.HostUserID || len(readback.Players) != 1 {
		return "", ErrProjectionMismatch
	}

	c.log.WithFields(logrus.Fields{
		"lobby":      l.ID,
		"host":       host.UserID,
		"visibility": l.Visibility,
		"maxPlayers": l.MaxPlayers,
	}).Info("lobby created")
	return l.ID, nil
}

// JoinLobby appends a player to the lobby. Capacity and duplicate checks run
// against state re-read inside the transaction, so two racing joins can never
// both land in the last seat. Joining an in-progress game is allowed but the
// player enters as a spectator.
func (c *Coordinator) JoinLobby(ctx context.Context, lobbyID string, p Player, passcode string) error {
	if p.UserID == "" {
		return fmt.Errorf("joining player has no userId")
	}

	var spectator bool
	err := c.store.RunTransaction(ctx, func(tx store.Tx) error {
		l, err := c.readLobby(tx, lobbyID)
		if err != nil {
			return err
		}
		if l.FindPlayer(p.UserID) >= 0 {
			return fmt.Errorf("lobby %s, user %s: %w", lobbyID, p.UserID, ErrAlreadyJoined)
		}
		if l.Visibility == VisibilityPrivate && passcode != l.Passcode {
			return ErrBadPasscode
		}
		switch l.Status {
		case StatusWaiting:
			spectator = false
		case StatusInProgress:
			spectator = true
		default:
			return fmt.Errorf("lobby %s is %s: %w", lobbyID, l.Status, ErrNotJoinable)
		}
		if l.IsFull() {
			return fmt.Errorf("lobby %s: %w", lobbyID, ErrLobbyFull)
		}

		now := nowMillis()
		p.IsHost = false
		p.IsReady = false
		p.IsSpectator = spectator
		p.JoinedAt = now
		p.LastSeenAt = now
		l.Players = append(l.Players, p)
		tx.Set(Collection, l.ID, l.Document())
		return nil
	})
	if err != nil {
		return err
	}

	c.log.WithFields(logrus.Fields{
		"lobby":     lobbyID,
		"user":      p.UserID,
		"spectator": spectator,
	}).Info("player joined")
	return nil
}

// LeaveLobby removes a player. Removing the last player deletes the lobby
// document; removing the host promotes the first remaining player in join
// order. Leaving a lobby or seat that no longer exists is an idempotent no-op.
func (c *Coordinator) LeaveLobby(ctx context.Context, lobbyID, userID string) error {
	var destroyed *Lobby
	var hostChanged bool
	err := c.store.RunTransaction(ctx, func(tx store.Tx) error {
		destroyed = nil
		hostChanged = false

		l, err := c.readLobby(tx, lobbyID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		idx := l.FindPlayer(userID)
		if idx < 0 {
			return nil
		}

		wasHost := l.Players[idx].IsHost
		l.Players = append(l.Players[:idx], l.Players[idx+1:]...)

		if len(l.Players) == 0 {
			// An empty player list is never persisted; the document goes
			// away instead.
			tx.Delete(Collection, l.ID)
			destroyed = l
			return nil
		}
		if wasHost {
			l.recomputeHost()
			hostChanged = true
		}
		tx.Set(Collection, l.ID, l.Document())
		return nil
	})
	if err != nil {
		return err
	}

	entry := c.log.WithFields(logrus.Fields{"lobby": lobbyID, "user": userID})
	switch {
	case destroyed != nil:
		entry.Info("last player left, lobby deleted")
		if c.OnDestroy != nil {
			c.OnDestroy(ctx, destroyed)
		}
	case hostChanged:
		entry.Info("player left, host reassigned")
	default:
		entry.Debug("player left")
	}
	return nil
}

// UpdatePlayerReady sets one player's ready flag. An absent lobby or player
// surfaces store.ErrNotFound.
func (c *Coordinator) UpdatePlayerReady(ctx context.Context, lobbyID, userID string, ready bool) error {
	return c.store.RunTransaction(ctx, func(tx store.Tx) error {
		l, err := c.readLobby(tx, lobbyID)
		if err != nil {
			return err
		}
		idx := l.FindPlayer(userID)
		if idx < 0 {
			return fmt.Errorf("lobby %s, user %s: %w", lobbyID, userID, store.ErrNotFound)
		}
		if l.Players[idx].IsReady == ready {
			return nil
		}
		l.Players[idx].IsReady = ready
		tx.Set(Collection, l.ID, l.Document())
		return nil
	})
}

// UpdateLobbyStatus moves the lobby along the state machine. Writing the
// current status again is a no-op that leaves the document untouched; an
// illegal edge fails with ErrBadTransition.
func (c *Coordinator) UpdateLobbyStatus(ctx context.Context, lobbyID string, status Status) error {
	var changed bool
	err := c.store.RunTransaction(ctx, func(tx store.Tx) error {
		changed = false
		l, err := c.readLobby(tx, lobbyID)
		if err != nil {
			return err
		}
		if l.Status == status {
			return nil
		}
		if !l.Status.CanTransition(status) {
			return fmt.Errorf("lobby %s: %s -> %s: %w", lobbyID, l.Status, status, ErrBadTransition)
		}
		l.Status = status
		tx.Set(Collection, l.ID, l.Document())
		changed = true
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		c.log.WithFields(logrus.Fields{"lobby": lobbyID, "status": status}).Info("lobby status changed")
	}
	return nil
}

// UpdateHeartbeat refreshes the caller's lastSeenAt. A heartbeat against a
// deleted lobby, or a seat the reaper already evicted, is a benign no-op; the
// view synchronizer tells the caller what actually happened.
func (c *Coordinator) UpdateHeartbeat(ctx context.Context, lobbyID, userID string) error {
	return c.store.RunTransaction(ctx, func(tx store.Tx) error {
		l, err := c.readLobby(tx, lobbyID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		idx := l.FindPlayer(userID)
		if idx < 0 {
			return nil
		}
		l.Players[idx].LastSeenAt = nowMillis()
		tx.Set(Collection, l.ID, l.Document())
		return nil
	})
}

// readLobby fetches and projects a lobby inside a transaction. A document
// that fails to project reads as absent.
func (c *Coordinator) readLobby(tx store.Tx, lobbyID string) (*Lobby, error) {
	doc, err := tx.Get(Collection, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("lobby %s: %w", lobbyID, err)
	}
	l, err := FromDocument(doc)
	if err != nil {
		c.log.WithFields(logrus.Fields{"lobby": lobbyID, "error": err}).Warn("unparseable lobby document")
		return nil, fmt.Errorf("lobby %s: %w", lobbyID, store.ErrNotFound)
	}
	return l, nil
}
