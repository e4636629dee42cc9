// internal/identity/identity.go
package identity

import "github.com/google/uuid"

// Identity is a stable player identity, guest or registered. The UserID is
// what lobby documents key players by; the username is display-only and may
// change without affecting identity.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Guest    bool   `json:"guest"`
}

// NewGuest mints a fresh guest identity. The id is generated once per device
// and persisted by the client, so the same guest keeps their seat across app
// restarts.
func NewGuest(username string) Identity {
	return Identity{
		UserID:   uuid.NewString(),
		Username: username,
		Guest:    true,
	}
}
