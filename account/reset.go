package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/budgetkeeper/storage"
)

// Challenge is a freshly issued reset code. Code is the only copy of the raw
// code; the store keeps its hash.
type Challenge struct {
	UserID    string
	Email     string
	Code      string
	ExpiresAt time.Time
}

// ResetManager runs the per-user reset challenge lifecycle on top of a
// CredentialStore. Each user has at most one pending challenge; issuing a new
// one supersedes the previous code.
type ResetManager struct {
	store storage.CredentialStore
	opts  options
}

// NewResetManager returns a ResetManager over store. Only the clock, TTL,
// code generator and resend limiter options apply.
func NewResetManager(store storage.CredentialStore, opts ...Option) *ResetManager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newResetManager(store, o)
}

func newResetManager(store storage.CredentialStore, o options) *ResetManager {
	return &ResetManager{store: store, opts: o}
}

// TTL returns the lifetime of issued codes.
func (m *ResetManager) TTL() time.Duration {
	return m.opts.resetTTL
}

// Request issues a new code for email, overwriting any pending challenge.
// It returns ErrUserNotFound when no account exists.
func (m *ResetManager) Request(ctx context.Context, email string) (*Challenge, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	// Throttle before the lookup so known and unknown emails behave alike.
	if m.opts.resendLimiter != nil {
		ok, wait, err := m.opts.resendLimiter.Reserve(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("resend limiter: %w", err)
		}
		if !ok {
			return nil, &ResendError{RetryAfter: wait}
		}
	}

	user, err := m.store.FindByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	code, err := m.opts.generateCode()
	if err != nil {
		return nil, fmt.Errorf("generating reset code: %w", err)
	}
	expiresAt := m.opts.now().Add(m.opts.resetTTL)
	if err := m.store.SetResetChallenge(ctx, user.ID, hashCode(code), expiresAt); err != nil {
		return nil, fmt.Errorf("storing reset challenge: %w", err)
	}
	return &Challenge{UserID: user.ID, Email: email, Code: code, ExpiresAt: expiresAt}, nil
}

// Verify reports whether code is the pending, unexpired challenge for email.
// It never consumes the challenge.
func (m *ResetManager) Verify(ctx context.Context, email, code string) (bool, error) {
	email, err := NormalizeEmail(email)
	if err != nil || !validCode(code) {
		return false, nil
	}
	_, err = m.store.FindByEmailAndValidChallenge(ctx, email, hashCode(code), m.opts.now())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("verifying reset challenge: %w", err)
	}
	return true, nil
}

// Consume re-validates code and, in one atomic store step, installs newHash,
// clears the challenge and revokes outstanding session tokens.
func (m *ResetManager) Consume(ctx context.Context, email, code, newHash string) (*storage.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil || !validCode(code) {
		return nil, ErrInvalidChallenge
	}
	user, err := m.store.ConsumeResetChallenge(ctx, email, hashCode(code), m.opts.now(), newHash)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrInvalidChallenge
	case err != nil:
		return nil, fmt.Errorf("consuming reset challenge: %w", err)
	}
	return user, nil
}

// hashCode returns the hex SHA-256 of a reset code, the form persisted in
// the store.
func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
