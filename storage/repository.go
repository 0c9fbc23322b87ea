// Package storage provides the credential storage abstraction for user accounts.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned by Create when the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
)

// ResetChallenge is a pending password-reset code. Only the SHA-256 hash of
// the code is persisted.
type ResetChallenge struct {
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidAt reports whether the challenge is unexpired at now. Expiry is strict:
// a challenge is no longer valid at exactly ExpiresAt.
func (c *ResetChallenge) ValidAt(now time.Time) bool {
	return c != nil && now.Before(c.ExpiresAt)
}

// User is the persisted credential record for one account.
type User struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"password_hash"`
	Reset        *ResetChallenge `json:"reset,omitempty"`
	TokenVersion uint64          `json:"token_version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.Reset != nil {
		r := *u.Reset
		cp.Reset = &r
	}
	return &cp
}

// CredentialStore owns user records. Every method is atomic with respect to a
// single user record. Emails are expected to be normalized by the caller.
type CredentialStore interface {
	Create(ctx context.Context, email, passwordHash string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	SetResetChallenge(ctx context.Context, userID, codeHash string, expiresAt time.Time) error
	ClearResetChallenge(ctx context.Context, userID string) error
	FindByEmailAndValidChallenge(ctx context.Context, email, codeHash string, now time.Time) (*User, error)
	// ConsumeResetChallenge re-validates the challenge and, in the same
	// atomic step, replaces the password hash, clears the challenge and
	// increments TokenVersion. It returns ErrNotFound when no matching,
	// unexpired challenge exists.
	ConsumeResetChallenge(ctx context.Context, email, codeHash string, now time.Time, newHash string) (*User, error)
	Close() error
}
