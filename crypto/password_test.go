package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/budgetkeeper/internal/util"
)

// testArgonParams is the cheapest parameter set that still passes validation.
var testArgonParams = util.Argon2idParams{Time: 1, MemoryKiB: 19 * 1024, Parallelism: 1, KeyLen: 32}

func testSchemes(t *testing.T) map[string]Scheme {
	t.Helper()
	b, err := NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	a, err := NewArgon2id(testArgonParams)
	require.NoError(t, err)
	return map[string]Scheme{"bcrypt": b, "argon2id": a}
}

func TestSchemes_HashAndVerify(t *testing.T) {
	tests := []struct {
		name     string
		password string
		attempt  string
		wantOk   bool
	}{
		{name: "correct password", password: "secret1", attempt: "secret1", wantOk: true},
		{name: "wrong password", password: "secret1", attempt: "secret2", wantOk: false},
		{name: "case sensitive", password: "Secret1", attempt: "secret1", wantOk: false},
		{name: "unicode", password: "pässwörd🔐", attempt: "pässwörd🔐", wantOk: true},
		{name: "empty attempt", password: "secret1", attempt: "", wantOk: false},
	}

	for name, s := range testSchemes(t) {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				hash, err := s.Hash(tt.password)
				require.NoError(t, err)
				assert.NotContains(t, hash, tt.password)
				assert.True(t, s.Recognizes(hash))

				ok, err := s.Verify(tt.attempt, hash)
				require.NoError(t, err)
				assert.Equal(t, tt.wantOk, ok)
			})
		}
	}
}

func TestSchemes_UniqueSalts(t *testing.T) {
	for name, s := range testSchemes(t) {
		t.Run(name, func(t *testing.T) {
			h1, err := s.Hash("samePassword")
			require.NoError(t, err)
			h2, err := s.Hash("samePassword")
			require.NoError(t, err)
			assert.NotEqual(t, h1, h2, "each hash should use a fresh salt")
		})
	}
}

func TestSchemes_MalformedHash(t *testing.T) {
	for name, s := range testSchemes(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.Verify("secret1", "$2a$garbage")
			assert.False(t, ok)
			assert.Error(t, err)
		})
	}
}

func TestNewBcrypt_RejectsOutOfRangeCost(t *testing.T) {
	_, err := NewBcrypt(bcrypt.MinCost - 1)
	assert.Error(t, err)
	_, err = NewBcrypt(bcrypt.MaxCost + 1)
	assert.Error(t, err)
}

func TestBcrypt_RejectsOverlongPassword(t *testing.T) {
	b, err := NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	_, err = b.Hash(strings.Repeat("a", 73))
	assert.Error(t, err)
}

func TestBcrypt_NeedsRehash(t *testing.T) {
	low, err := NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	high, err := NewBcrypt(bcrypt.MinCost + 1)
	require.NoError(t, err)

	hash, err := low.Hash("secret1")
	require.NoError(t, err)
	assert.False(t, low.NeedsRehash(hash))
	assert.True(t, high.NeedsRehash(hash))
}

func TestArgon2id_NeedsRehash(t *testing.T) {
	a, err := NewArgon2id(testArgonParams)
	require.NoError(t, err)
	hash, err := a.Hash("secret1")
	require.NoError(t, err)
	assert.False(t, a.NeedsRehash(hash))

	stronger := testArgonParams
	stronger.Time = 2
	b, err := NewArgon2id(stronger)
	require.NoError(t, err)
	assert.True(t, b.NeedsRehash(hash))
}

func TestNewArgon2id_RejectsWeakParams(t *testing.T) {
	weak := testArgonParams
	weak.MemoryKiB = 1024
	_, err := NewArgon2id(weak)
	assert.Error(t, err)
}

func TestChain(t *testing.T) {
	schemes := testSchemes(t)
	chain := NewChain(schemes["argon2id"], schemes["bcrypt"])

	legacy, err := schemes["bcrypt"].Hash("secret1")
	require.NoError(t, err)

	ok, err := chain.Verify("secret1", legacy)
	require.NoError(t, err)
	assert.True(t, ok, "chain should verify hashes from fallback schemes")
	assert.True(t, chain.NeedsRehash(legacy), "fallback hashes should be upgraded")

	current, err := chain.Hash("secret1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(current, "$argon2id$"))
	assert.False(t, chain.NeedsRehash(current))

	ok, err = chain.Verify("secret1", "plaintext-password")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnknownHashFormat)
	assert.False(t, chain.Recognizes("plaintext-password"))
}
