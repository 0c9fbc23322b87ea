package account

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateEmail indicates the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by ForgotPassword for unknown emails when
	// account existence is revealed.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidChallenge covers a wrong, expired, superseded or consumed reset code.
	ErrInvalidChallenge = errors.New("invalid or expired reset code")
	// ErrUnauthenticated indicates a missing, invalid, expired or revoked session token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrResendTooSoon indicates a reset code was requested again within the resend window.
	ErrResendTooSoon = errors.New("reset code requested too recently")
	// ErrInvalidEmail indicates a syntactically invalid email address.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidPassword indicates a password outside the accepted length range.
	ErrInvalidPassword = errors.New("invalid password")
)

// ResendError reports how long a throttled caller must wait. It matches
// ErrResendTooSoon with errors.Is.
type ResendError struct {
	RetryAfter time.Duration
}

func (e *ResendError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ErrResendTooSoon, e.RetryAfter.Round(time.Second))
}

func (e *ResendError) Unwrap() error {
	return ErrResendTooSoon
}
