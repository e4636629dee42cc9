// internal/identity/identity_test.go
package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGuest(t *testing.T) {
	a := NewGuest("alice")
	b := NewGuest("alice")

	assert.True(t, a.Guest)
	assert.Equal(t, "alice", a.Username)
	assert.NotEmpty(t, a.UserID)
	assert.NotEqual(t, a.UserID, b.UserID, "each guest gets a distinct id")
}

func TestTokenRoundTrip(t *testing.T) {
	require.NoError(t, Init())

	token, err := IssueToken("user-123")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	sub, err := VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", sub)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	require.NoError(t, Init())

	_, err := VerifyToken("not.a.token")
	assert.Error(t, err)
}

func TestTokenRejectedAfterKeyRotation(t *testing.T) {
	require.NoError(t, Init())
	token, err := IssueToken("user-123")
	require.NoError(t, err)

	// A new key pair invalidates everything signed by the old one.
	require.NoError(t, Init())
	_, err = VerifyToken(token)
	assert.Error(t, err)
}

func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	ok, err := VerifyPassword("hunter2", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("hunter3", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	// Hashes are salted, so the same password never encodes twice the same.
	hash2, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, hash, hash2)
}

func TestVerifyPasswordBadHash(t *testing.T) {
	_, err := VerifyPassword("x", "not-an-encoded-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)
}
