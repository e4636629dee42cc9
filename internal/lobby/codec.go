// internal/lobby/codec.go
package lobby

import (
	"encoding/json"
	"fmt"

	"github.com/quibble-games/quibble/internal/store"
)

// Document flattens the lobby into the store's key/value form. Enums go out as
// their symbolic names, timestamps as integer epoch millis, players as an
// ordered list of per-player maps.
func (l *Lobby) Document() store.Document {
	players := make([]interface{}, 0, len(l.Players))
	for _, p := range l.Players {
		players = append(players, map[string]interface{}{
			"userId":      p.UserID,
			"username":    p.Username,
			"isReady":     p.IsReady,
			"isHost":      p.IsHost,
			"isSpectator": p.IsSpectator,
			"joinedAt":    p.JoinedAt,
			"lastSeenAt":  p.LastSeenAt,
		})
	}
	return store.Document{
		"id":           l.ID,
		"hostUserId":   l.HostUserID,
		"hostUsername": l.HostUsername,
		"visibility":   string(l.Visibility),
		"passcode":     l.Passcode,
		"maxPlayers":   l.MaxPlayers,
		"roundCount":   l.RoundCount,
		"players":      players,
		"status":       string(l.Status),
		"createdAt":    l.CreatedAt,
	}
}

// FromDocument projects a raw document back into a Lobby. Any structural
// problem is an error; callers treat such a document as absent rather than
// propagating a fatal failure.
func FromDocument(doc store.Document) (*Lobby, error) {
	id, ok := doc["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("lobby document missing id")
	}

	status, err := ParseStatus(docString(doc, "status"))
	if err != nil {
		return nil, fmt.Errorf("lobby %s: %w", id, err)
	}

	l := &Lobby{
		ID:           id,
		HostUserID:   docString(doc, "hostUserId"),
		HostUsername: docString(doc, "hostUsername"),
		Visibility:   Visibility(docString(doc, "visibility")),
		Passcode:     docString(doc, "passcode"),
		MaxPlayers:   int(docInt(doc, "maxPlayers")),
		RoundCount:   int(docInt(doc, "roundCount")),
		Status:       status,
		CreatedAt:    docInt(doc, "createdAt"),
	}
	if l.Visibility != VisibilityPublic && l.Visibility != VisibilityPrivate {
		return nil, fmt.Errorf("lobby %s: unknown visibility %q", id, l.Visibility)
	}
	if l.MaxPlayers <= 0 {
		return nil, fmt.Errorf("lobby %s: non-positive maxPlayers", id)
	}

	rawPlayers, _ := doc["players"].([]interface{})
	for _, rp := range rawPlayers {
		pm, ok := rp.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("lobby %s: malformed player entry", id)
		}
		p := Player{
			UserID:      docString(pm, "userId"),
			Username:    docString(pm, "username"),
			IsReady:     docBool(pm, "isReady"),
			IsHost:      docBool(pm, "isHost"),
			IsSpectator: docBool(pm, "isSpectator"),
			JoinedAt:    docInt(pm, "joinedAt"),
			LastSeenAt:  docInt(pm, "lastSeenAt"),
		}
		if p.UserID == "" {
			return nil, fmt.Errorf("lobby %s: player entry missing userId", id)
		}
		l.Players = append(l.Players, p)
	}
	return l, nil
}

// docString reads a string field, tolerating absence.
func docString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// docBool reads a bool field, tolerating absence.
func docBool(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// docInt reads an integer field. Documents round-trip through encoding/json,
// so numbers usually arrive as float64.
func docInt(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}
