// internal/database/account.go
package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quibble-games/quibble/internal/identity"
)

// Account is a registered (non-guest) player. Guests never touch this table;
// their identity lives only on their device.
type Account struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"-"`
	Username string    `json:"username"`
}

// CreateAccount hashes the plaintext password and inserts the account row.
func CreateAccount(ctx context.Context, a *Account) error {
	if a.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate account id: %w", err)
		}
		a.ID = id
	}

	hash, err := identity.HashPassword(a.Password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	a.Password = hash

	q := `INSERT INTO accounts (id, email, password, username)
	      VALUES ($1, $2, $3, $4)`

	err = pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q, a.ID, a.Email, a.Password, a.Username)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// GetAccountByEmail loads one account row by email.
func GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	var a Account
	q := `SELECT id, email, password, username FROM accounts WHERE email=$1`
	err := DB.QueryRow(ctx, q, email).Scan(&a.ID, &a.Email, &a.Password, &a.Username)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccountByID loads one account row by id.
func GetAccountByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	var a Account
	q := `SELECT id, email, password, username FROM accounts WHERE id=$1`
	err := DB.QueryRow(ctx, q, id).Scan(&a.ID, &a.Email, &a.Password, &a.Username)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AuthenticateAccount verifies credentials and returns a signed session token
// whose subject is the account id.
func AuthenticateAccount(ctx context.Context, email, password string) (string, error) {
	a, err := GetAccountByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("account not found or db error: %w", err)
	}

	match, err := identity.VerifyPassword(password, a.Password)
	if err != nil || !match {
		return "", fmt.Errorf("invalid credentials")
	}

	token, err := identity.IssueToken(a.ID.String())
	if err != nil {
		return "", fmt.Errorf("failed to create session token: %w", err)
	}
	return token, nil
}
