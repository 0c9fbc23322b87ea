// Package storagetest provides a conformance suite shared by every
// storage.CredentialStore backend.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/budgetkeeper/storage"
)

// Factory returns a fresh, empty store. The suite closes it when done.
type Factory func(t *testing.T) storage.CredentialStore

// Run exercises the full CredentialStore contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newStore(t)) })
	t.Run("DuplicateEmail", func(t *testing.T) { testDuplicateEmail(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("UpdatePasswordHash", func(t *testing.T) { testUpdatePasswordHash(t, newStore(t)) })
	t.Run("ChallengeLifecycle", func(t *testing.T) { testChallengeLifecycle(t, newStore(t)) })
	t.Run("ChallengeExpiryBoundary", func(t *testing.T) { testChallengeExpiryBoundary(t, newStore(t)) })
	t.Run("ChallengeOverwrite", func(t *testing.T) { testChallengeOverwrite(t, newStore(t)) })
	t.Run("ConsumeIsSingleUse", func(t *testing.T) { testConsumeIsSingleUse(t, newStore(t)) })
	t.Run("ConcurrentConsume", func(t *testing.T) { testConcurrentConsume(t, newStore(t)) })
}

func closeStore(t *testing.T, s storage.CredentialStore) {
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
}

func testCreateAndFind(t *testing.T, s storage.CredentialStore) {
	closeStore(t, s)
	ctx := context.Background()

	u, err := s.Create(ctx, "alice@example.com", "hash-1")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, "hash-1", u.PasswordHash)
	assert.Nil(t, u.Reset)
	assert.Zero(t, u.TokenVersion)
	assert.False(t, u.CreatedAt.IsZero())

	byEmail, err := s.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	byID, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", byID.Email)
}

func testDuplicateEmail(t *testing.T, s storage.CredentialStore) {
	closeStore(t, s)
	ctx := context.Background()

	_, err := s.Create(ctx, "bob@example.com", "hash-1")
	require.NoError(t, err)
	_, err = s.Create(ctx, "bob@example.com", "hash-2")
	require.ErrorIs(t, err, storage.ErrDuplicateEmail)

	u, err := s.FindByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", u.PasswordHash, "a rejected create must not overwrite the account")
}

func testNotFound(t *testing.T, s storage.CredentialStore) {
	closeStore(t, s)
	ctx := context.Background()

	_, err := s.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.FindByID(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	err = s.UpdatePasswordHash(ctx, "00000000-0000-0000-0000-000000000000", "x")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	err = s.SetResetChallenge(ctx, "00000000-0000-0000-0000-000000000000", "x", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.FindByEmailAndValidChallenge(ctx, "nobody@example.com", "x", time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.ConsumeResetChallenge(ctx, "nobody@example.com", "x", time.Now(), "y")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testUpdatePasswordHash(t *testing.T, s storage.CredentialStore) {
	closeStore(t, s)
	ctx := context.Background()

	u, err := s.Create(ctx, "carol@example.com", "old")
	require.NoError(t, err)
	require.NoError(t, s.UpdatePasswordHash(ctx, u.ID, "new"))

	got, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.PasswordHash)
	assert.Equal(t, u.TokenVersion, got.TokenVersion, "rehash must not revoke sessions")
}

func testChallengeLifecycle(t *testing.T, s storage.CredentialStore) {
	closeStore(t, s)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	u, err := s.Create(ctx, "dave@example.com", "old")
	require.NoError(t, err)
	require.NoError(t, s.SetResetChallenge(ctx, u.ID, "code-hash", now.Add(time.Hour)))

	got, err := s.FindByEmailAndValidChallenge(ctx, "dave@example.com", "code-hash", now)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	require.NotNil(t, got.Reset)
	assert.True(t, got.Reset.ExpiresAt.Equal(now.Add(time.Hour)))

	// Verification does not consume.
	_, err = s.FindByEmailAndValidChallenge(ctx, "dave@example.com", "code-hash", now)
	require.NoError(t, err)

	_, err = s.FindByEmailAndValidChallenge(ctx, "dave@example.com", "wrong-hash", now)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.ClearResetChallenge(ctx, u.ID))
	_, err = s.FindByEmailAndValidChallenge(ctx, "dave@example.com", "code-hash", now)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testChallengeExpiryBoundary(t *testing.T, s storage.CredentialStore) {
	closeStore(t, s)
	ctx := context.Background()
	expiresAt := time.Now().UTC().Truncate(time.Second).Add(time.Hour)

	u, err := s.Create(ctx, "erin@example.com", "old")
	require.NoError(t, err)
	require.NoError(t, s.SetResetChallenge(ctx, u.ID, "code-hash", expiresAt))

	_, err = s.FindByEmailAndValidChallenge(ctx, "erin@example.com", "code-hash", expiresAt.Add(-time.Second))
	assert.NoError(t, err, "challenge should be valid one second before expiry")
	_, err = s.FindByEmailAndValidChallenge(ctx, "erin@example.com", "code-hash", expiresAt)
	assert.ErrorIs(t, err, storage.ErrNotFound, "challenge should be invalid at expiry")
	_, err = s.FindByEmailAndValidChallenge(ctx, "erin@example.com", "code-hash", expiresAt.Add(time.Second))
	assert.ErrorIs(t, err, storage.ErrNotFound, "challenge should be invalid after expiry")

	_, err = s.ConsumeResetChallenge(ctx, "erin@example.com", "code-hash", expiresAt.Add(time.Second), "new")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	got, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "old", got.PasswordHash, "expired consume must not change the password")
}

func testChallengeOverwrite(t *testing.T, s storage.CredentialStore) {
	closeStore(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := s.Create(ctx, "frank@example.com", "old")
	require.NoError(t, err)
	require.NoError(t, s.SetResetChallenge(ctx, u.ID, "first", now.Add(time.Hour)))
	require.NoError(t, s.SetResetChallenge(ctx, u.ID, "second", now.Add(time.Hour)))

	_, err = s.FindByEmailAndValidChallenge(ctx, "frank@example.com", "first", now)
	assert.ErrorIs(t, err, storage.ErrNotFound, "an overwritten challenge must be invalid")
	_, err = s.FindByEmailAndValidChallenge(ctx, "frank@example.com", "second", now)
	assert.NoError(t, err)
}

func testConsumeIsSingleUse(t *testing.T, s storage.CredentialStore) {
	closeStore(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := s.Create(ctx, "grace@example.com", "old")
	require.NoError(t, err)
	require.NoError(t, s.SetResetChallenge(ctx, u.ID, "code-hash", now.Add(time.Hour)))

	updated, err := s.ConsumeResetChallenge(ctx, "grace@example.com", "code-hash", now, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", updated.PasswordHash)
	assert.Nil(t, updated.Reset)
	assert.Equal(t, u.TokenVersion+1, updated.TokenVersion)

	_, err = s.ConsumeResetChallenge(ctx, "grace@example.com", "code-hash", now, "newer")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.PasswordHash)
	assert.Nil(t, got.Reset)
}

func testConcurrentConsume(t *testing.T, s storage.CredentialStore) {
	closeStore(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := s.Create(ctx, "heidi@example.com", "old")
	require.NoError(t, err)
	require.NoError(t, s.SetResetChallenge(ctx, u.ID, "code-hash", now.Add(time.Hour)))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeResetChallenge(ctx, "heidi@example.com", "code-hash", now, "new")
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("unexpected consume error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes, "exactly one concurrent consume may succeed")
}
