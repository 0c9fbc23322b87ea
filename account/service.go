// Package account implements registration, login, session authentication and
// the email-based password reset flow on top of a storage.CredentialStore.
//
// Service is transport-agnostic; the api package maps its results and errors
// onto HTTP.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/budgetkeeper/crypto"
	"github.com/jmcleod/budgetkeeper/notify"
	"github.com/jmcleod/budgetkeeper/session"
	"github.com/jmcleod/budgetkeeper/storage"
)

// AuthResult is returned by Register and Login.
type AuthResult struct {
	UserID    string
	Email     string
	Token     string
	ExpiresAt time.Time
}

// ForgotResult describes the outcome of a reset-code request.
type ForgotResult struct {
	Email string
	// UserFound is false when the email is unknown and existence is not
	// revealed. No challenge was created in that case.
	UserFound bool
	ExpiresAt time.Time
	// Delivered reports whether the notification transport accepted the code.
	Delivered bool
	// DeliveryErr is the transport failure when Delivered is false.
	DeliveryErr error
	// Code is set only when delivery failed and code exposure is enabled.
	Code string
}

// Service orchestrates the account flows.
type Service struct {
	store  storage.CredentialStore
	hasher crypto.PasswordHasher
	issuer *session.Issuer
	resets *ResetManager
	opts   options

	dummyOnce sync.Once
	dummyHash string
}

// NewService wires a Service. hasher hashes new passwords and verifies stored
// ones; if it also implements crypto.Scheme, outdated hashes are upgraded on
// login.
func NewService(store storage.CredentialStore, hasher crypto.PasswordHasher, issuer *session.Issuer, opts ...Option) (*Service, error) {
	if store == nil || hasher == nil || issuer == nil {
		return nil, fmt.Errorf("store, hasher and issuer are required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.resetTTL <= 0 {
		return nil, fmt.Errorf("reset ttl must be positive, got %s", o.resetTTL)
	}
	if o.sendTimeout <= 0 {
		return nil, fmt.Errorf("send timeout must be positive, got %s", o.sendTimeout)
	}
	return &Service{
		store:  store,
		hasher: hasher,
		issuer: issuer,
		resets: newResetManager(store, o),
		opts:   o,
	}, nil
}

// Resets exposes the underlying ResetManager.
func (s *Service) Resets() *ResetManager {
	return s.resets
}

// Register creates an account and returns a session for it.
func (s *Service) Register(ctx context.Context, email, password string) (*AuthResult, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	// Cheap pre-check so a duplicate does not pay for a hash.
	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	user, err := s.store.Create(ctx, email, hash)
	if errors.Is(err, storage.ErrDuplicateEmail) {
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return s.issue(user)
}

// Login checks credentials and returns a session. Unknown emails and wrong
// passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		s.burnHash(password)
		return nil, ErrInvalidCredentials
	}

	user, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		s.burnHash(password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	s.maybeRehash(ctx, user, password)
	return s.issue(user)
}

// ForgotPassword issues a reset code for email and hands it to the sender.
// Delivery failure never fails the call: the challenge stays valid and the
// result reports the failure.
func (s *Service) ForgotPassword(ctx context.Context, email string) (*ForgotResult, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	ch, err := s.resets.Request(ctx, normalized)
	if errors.Is(err, ErrUserNotFound) {
		if s.opts.revealUnknown {
			return nil, ErrUserNotFound
		}
		return &ForgotResult{Email: normalized}, nil
	}
	if err != nil {
		return nil, err
	}

	res := &ForgotResult{Email: ch.Email, UserFound: true, ExpiresAt: ch.ExpiresAt}
	if err := s.deliver(ctx, ch); err != nil {
		s.opts.logger.Warn("reset code delivery failed", "user_id", ch.UserID, "error", err)
		res.DeliveryErr = err
		if s.opts.exposeCode {
			res.Code = ch.Code
		}
		return res, nil
	}
	res.Delivered = true
	return res, nil
}

func (s *Service) deliver(ctx context.Context, ch *Challenge) error {
	msg, err := notify.ResetCodeMessage(ch.Email, ch.Code, s.resets.TTL())
	if err != nil {
		return err
	}
	// The challenge is already committed; a client disconnect must not
	// abort the send.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.sendTimeout)
	defer cancel()
	return s.opts.sender.Send(sendCtx, msg)
}

// VerifyResetCode succeeds when code is the pending, unexpired challenge for
// email. It does not consume the challenge.
func (s *Service) VerifyResetCode(ctx context.Context, email, code string) error {
	ok, err := s.resets.Verify(ctx, email, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidChallenge
	}
	return nil
}

// ResetPassword consumes the challenge and installs newPassword. Every
// session issued before the reset is revoked; the caller must log in again.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	// Reject bad codes before paying for a hash.
	if err := s.VerifyResetCode(ctx, email, code); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	_, err = s.resets.Consume(ctx, email, code, hash)
	return err
}

// Authenticate resolves a bearer token to its user. Tokens issued before the
// user's last password reset are rejected.
func (s *Service) Authenticate(ctx context.Context, token string) (*storage.User, error) {
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	user, err := s.store.FindByID(ctx, claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if claims.Version != user.TokenVersion {
		return nil, fmt.Errorf("%w: token revoked", ErrUnauthenticated)
	}
	return user, nil
}

func (s *Service) issue(user *storage.User) (*AuthResult, error) {
	token, expiresAt, err := s.issuer.Issue(user.ID, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}
	return &AuthResult{UserID: user.ID, Email: user.Email, Token: token, ExpiresAt: expiresAt}, nil
}

// maybeRehash upgrades a hash produced with outdated parameters. Failure is
// logged and does not affect the login.
func (s *Service) maybeRehash(ctx context.Context, user *storage.User, password string) {
	scheme, ok := s.hasher.(crypto.Scheme)
	if !ok || !scheme.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := scheme.Hash(password)
	if err == nil {
		err = s.store.UpdatePasswordHash(ctx, user.ID, hash)
	}
	if err != nil {
		s.opts.logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	s.opts.logger.Debug("password rehashed", "user_id", user.ID)
}

// burnHash spends the same work as a real verification so unknown emails are
// not distinguishable by latency.
func (s *Service) burnHash(password string) {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("budgetkeeper-timing-equalizer")
		if err == nil {
			s.dummyHash = h
		}
	})
	if s.dummyHash != "" {
		s.hasher.Verify(password, s.dummyHash) //nolint:errcheck
	}
}
