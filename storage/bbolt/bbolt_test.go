package bbolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/budgetkeeper/storage"
	"github.com/jmcleod/budgetkeeper/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStoreFromFile(filepath.Join(t.TempDir(), "users.db"), nil)
	require.NoError(t, err)
	return s
}

func TestBBoltStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.CredentialStore {
		return newTestStore(t)
	})
}

func TestBBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	ctx := context.Background()

	s, err := NewStoreFromFile(path, nil)
	require.NoError(t, err)
	u, err := s.Create(ctx, "alice@example.com", "hash")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewStoreFromFile(path, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)
}

func TestBBoltStoreCreatesBuckets(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "raw.db"), 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = NewStore(db)
	require.NoError(t, err)

	err = db.View(func(tx *bbolt.Tx) error {
		assert.NotNil(t, tx.Bucket(usersBucket))
		assert.NotNil(t, tx.Bucket(emailsBucket))
		return nil
	})
	require.NoError(t, err)
}
