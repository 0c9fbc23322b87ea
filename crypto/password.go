// Package crypto implements one-way salted password hashing.
//
// Every hash is self-describing (algorithm, cost and salt are embedded in the
// encoded string), so verification never needs a side channel and cost
// parameters can change without invalidating stored hashes.
package crypto

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/budgetkeeper/internal/util"
)

// DefaultBcryptCost is the bcrypt work factor used when none is configured.
const DefaultBcryptCost = 10

// ErrUnknownHashFormat is returned when no configured scheme recognizes a hash.
var ErrUnknownHashFormat = errors.New("unknown password hash format")

// PasswordHasher hashes and verifies passwords. Verify returns (false, nil)
// on a mismatch and a non-nil error only when the stored hash is unusable.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

// Scheme is a PasswordHasher that can identify its own output and tell
// whether a hash was produced with different parameters.
type Scheme interface {
	PasswordHasher
	Recognizes(hash string) bool
	NeedsRehash(hash string) bool
}

var (
	_ Scheme = (*Bcrypt)(nil)
	_ Scheme = (*Argon2id)(nil)
	_ Scheme = (*Chain)(nil)
)

// Bcrypt hashes passwords with bcrypt at a fixed cost.
type Bcrypt struct {
	Cost int
}

// NewBcrypt returns a bcrypt scheme, rejecting costs bcrypt does not accept.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}
	return &Bcrypt{Cost: cost}, nil
}

func (b *Bcrypt) Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), b.Cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(h), nil
}

func (b *Bcrypt) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("bcrypt verify: %w", err)
	}
}

func (b *Bcrypt) Recognizes(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

func (b *Bcrypt) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err != nil || cost != b.Cost
}

// Argon2id hashes passwords with Argon2id and encodes them as PHC strings.
type Argon2id struct {
	Params util.Argon2idParams
}

// NewArgon2id returns an Argon2id scheme after validating params.
func NewArgon2id(params util.Argon2idParams) (*Argon2id, error) {
	if err := util.ValidateArgon2idParams(params); err != nil {
		return nil, err
	}
	return &Argon2id{Params: params}, nil
}

func (a *Argon2id) Hash(password string) (string, error) {
	return util.EncodeArgon2idHash(password, a.Params)
}

func (a *Argon2id) Verify(password, hash string) (bool, error) {
	params, salt, key, err := util.ParseArgon2idHash(hash)
	if err != nil {
		return false, err
	}
	return util.CompareArgon2idKey(password, salt, params, key)
}

func (a *Argon2id) Recognizes(hash string) bool {
	return strings.HasPrefix(hash, "$argon2id$")
}

func (a *Argon2id) NeedsRehash(hash string) bool {
	params, _, _, err := util.ParseArgon2idHash(hash)
	return err != nil || params != a.Params
}

// Chain hashes with Primary and verifies with whichever scheme recognizes the
// stored hash, so accounts keep working while the configured algorithm or
// cost changes.
type Chain struct {
	Primary   Scheme
	Fallbacks []Scheme
}

// NewChain returns a Chain hashing with primary and also accepting hashes
// produced by fallbacks.
func NewChain(primary Scheme, fallbacks ...Scheme) *Chain {
	return &Chain{Primary: primary, Fallbacks: fallbacks}
}

func (c *Chain) Hash(password string) (string, error) {
	return c.Primary.Hash(password)
}

func (c *Chain) Verify(password, hash string) (bool, error) {
	s := c.schemeFor(hash)
	if s == nil {
		return false, ErrUnknownHashFormat
	}
	return s.Verify(password, hash)
}

func (c *Chain) Recognizes(hash string) bool {
	return c.schemeFor(hash) != nil
}

// NeedsRehash is true when hash was not produced by the primary scheme with
// its current parameters.
func (c *Chain) NeedsRehash(hash string) bool {
	if !c.Primary.Recognizes(hash) {
		return true
	}
	return c.Primary.NeedsRehash(hash)
}

func (c *Chain) schemeFor(hash string) Scheme {
	if c.Primary.Recognizes(hash) {
		return c.Primary
	}
	for _, s := range c.Fallbacks {
		if s.Recognizes(hash) {
			return s
		}
	}
	return nil
}
