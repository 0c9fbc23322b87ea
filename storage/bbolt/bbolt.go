// Package bbolt provides a BBolt-backed credential store.
//
// Users live in the "users" bucket keyed by id; the "emails" bucket maps a
// normalized email to its user id. Both are written in the same transaction.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/budgetkeeper/internal/uuid"
	"github.com/jmcleod/budgetkeeper/storage"
)

var (
	usersBucket  = []byte("users")
	emailsBucket = []byte("emails")
)

// Store implements storage.CredentialStore backed by a BBolt database.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ storage.CredentialStore = (*Store)(nil)

// NewStore returns a Store backed by the given BBolt database, creating the
// buckets if needed.
func NewStore(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{usersBucket, emailsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// NewStoreFromFile opens a BBolt database at the given path and returns a new Store.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func getUser(tx *bbolt.Tx, id string) (*storage.User, error) {
	data := tx.Bucket(usersBucket).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	var u storage.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decoding user %s: %w", id, err)
	}
	return &u, nil
}

func getUserByEmail(tx *bbolt.Tx, email string) (*storage.User, error) {
	id := tx.Bucket(emailsBucket).Get([]byte(email))
	if id == nil {
		return nil, fmt.Errorf("email lookup: %w", storage.ErrNotFound)
	}
	return getUser(tx, string(id))
}

func putUser(tx *bbolt.Tx, u *storage.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return tx.Bucket(usersBucket).Put([]byte(u.ID), data)
}

func (s *Store) Create(_ context.Context, email, passwordHash string) (*storage.User, error) {
	now := s.now().UTC()
	u := &storage.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		emails := tx.Bucket(emailsBucket)
		if emails.Get([]byte(email)) != nil {
			return storage.ErrDuplicateEmail
		}
		if err := emails.Put([]byte(email), []byte(u.ID)); err != nil {
			return err
		}
		return putUser(tx, u)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (*storage.User, error) {
	var u *storage.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		u, err = getUserByEmail(tx, email)
		return err
	})
	return u, err
}

func (s *Store) FindByID(_ context.Context, id string) (*storage.User, error) {
	var u *storage.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		u, err = getUser(tx, id)
		return err
	})
	return u, err
}

// update loads the user, applies fn and writes it back in one read-write
// transaction. BBolt serializes writers, so this is atomic per record.
func (s *Store) update(userID string, fn func(u *storage.User)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		u, err := getUser(tx, userID)
		if err != nil {
			return err
		}
		fn(u)
		u.UpdatedAt = s.now().UTC()
		return putUser(tx, u)
	})
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	return s.update(userID, func(u *storage.User) {
		u.PasswordHash = newHash
	})
}

func (s *Store) SetResetChallenge(_ context.Context, userID, codeHash string, expiresAt time.Time) error {
	return s.update(userID, func(u *storage.User) {
		u.Reset = &storage.ResetChallenge{CodeHash: codeHash, ExpiresAt: expiresAt.UTC()}
	})
}

func (s *Store) ClearResetChallenge(_ context.Context, userID string) error {
	return s.update(userID, func(u *storage.User) {
		u.Reset = nil
	})
}

func (s *Store) FindByEmailAndValidChallenge(_ context.Context, email, codeHash string, now time.Time) (*storage.User, error) {
	var u *storage.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		found, err := getUserByEmail(tx, email)
		if err != nil {
			return err
		}
		if !storage.ChallengeMatches(found, codeHash, now) {
			return fmt.Errorf("reset challenge: %w", storage.ErrNotFound)
		}
		u = found
		return nil
	})
	return u, err
}

func (s *Store) ConsumeResetChallenge(_ context.Context, email, codeHash string, now time.Time, newHash string) (*storage.User, error) {
	var u *storage.User
	err := s.db.Update(func(tx *bbolt.Tx) error {
		found, err := getUserByEmail(tx, email)
		if err != nil {
			return err
		}
		if !storage.ChallengeMatches(found, codeHash, now) {
			return fmt.Errorf("reset challenge: %w", storage.ErrNotFound)
		}
		storage.ApplyReset(found, newHash, now)
		u = found
		return putUser(tx, found)
	})
	return u, err
}
