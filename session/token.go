// Package session issues and verifies signed bearer tokens.
//
// Tokens are HS256 JWTs carrying the user id and the user's token version.
// The server keeps no session state; a token is valid until it expires or the
// stored token version moves past the one it carries.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/budgetkeeper/internal/util"
)

const (
	// DefaultTTL is the validity window of an issued token.
	DefaultTTL = 7 * 24 * time.Hour
	// MinSecretLen is the minimum signing secret length in bytes.
	MinSecretLen = 32
)

var (
	// ErrInvalidToken is returned for malformed, tampered or wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for well-formed tokens past their expiry.
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	UserID  string `json:"userId"`
	Version uint64 `json:"ver"`
}

// Issuer signs and verifies session tokens with a server-held secret.
type Issuer struct {
	secret *memguard.Enclave
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		i.ttl = ttl
	}
}

// WithIssuer sets the "iss" claim written and required on verification.
func WithIssuer(name string) Option {
	return func(i *Issuer) {
		i.issuer = name
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer seals a copy of secret in a memguard enclave. The caller's slice
// is left untouched.
func NewIssuer(secret []byte, opts ...Option) (*Issuer, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", MinSecretLen, len(secret))
	}
	i := &Issuer{
		secret: memguard.NewEnclave(util.CopyBytes(secret)),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", i.ttl)
	}
	return i, nil
}

// TTL returns the validity window of issued tokens.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue returns a signed token for userID at the given token version.
func (i *Issuer) Issue(userID string, version uint64) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:  userID,
		Version: version,
	}

	key, err := i.secret.Open()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("opening signing secret: %w", err)
	}
	defer key.Destroy()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key.Bytes())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and expiry of token and returns its claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	key, err := i.secret.Open()
	if err != nil {
		return nil, fmt.Errorf("opening signing secret: %w", err)
	}
	defer key.Destroy()

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key.Bytes(), nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case !parsed.Valid || claims.UserID == "" || claims.UserID != claims.Subject:
		return nil, ErrInvalidToken
	}
	return claims, nil
}
