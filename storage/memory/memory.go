// Package memory provides a thread-safe in-memory implementation of storage.CredentialStore.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jmcleod/budgetkeeper/internal/uuid"
	"github.com/jmcleod/budgetkeeper/storage"
)

// Store is a thread-safe in-memory implementation of storage.CredentialStore.
// Suitable for testing, demos, and single-process use cases.
type Store struct {
	mu      sync.RWMutex
	users   map[string]*storage.User
	byEmail map[string]string
	now     func() time.Time
}

var _ storage.CredentialStore = (*Store)(nil)

// NewStore creates a new empty in-memory Store.
func NewStore() *Store {
	return &Store{
		users:   make(map[string]*storage.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *Store) Create(_ context.Context, email, passwordHash string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return nil, storage.ErrDuplicateEmail
	}
	now := s.now().UTC()
	u := &storage.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	return u.Clone(), nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, err := s.byEmailLocked(email)
	if err != nil {
		return nil, err
	}
	return u.Clone(), nil
}

func (s *Store) FindByID(_ context.Context, id string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *Store) byEmailLocked(email string) (*storage.User, error) {
	id, ok := s.byEmail[email]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	return s.mutate(userID, func(u *storage.User) {
		u.PasswordHash = newHash
	})
}

func (s *Store) SetResetChallenge(_ context.Context, userID, codeHash string, expiresAt time.Time) error {
	return s.mutate(userID, func(u *storage.User) {
		u.Reset = &storage.ResetChallenge{CodeHash: codeHash, ExpiresAt: expiresAt.UTC()}
	})
}

func (s *Store) ClearResetChallenge(_ context.Context, userID string) error {
	return s.mutate(userID, func(u *storage.User) {
		u.Reset = nil
	})
}

func (s *Store) mutate(userID string, fn func(u *storage.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) FindByEmailAndValidChallenge(_ context.Context, email, codeHash string, now time.Time) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, err := s.byEmailLocked(email)
	if err != nil {
		return nil, err
	}
	if !storage.ChallengeMatches(u, codeHash, now) {
		return nil, storage.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *Store) ConsumeResetChallenge(_ context.Context, email, codeHash string, now time.Time, newHash string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.byEmailLocked(email)
	if err != nil {
		return nil, err
	}
	if !storage.ChallengeMatches(u, codeHash, now) {
		return nil, storage.ErrNotFound
	}
	storage.ApplyReset(u, newHash, now)
	return u.Clone(), nil
}

// Close is a no-op; it exists to satisfy storage.CredentialStore.
func (s *Store) Close() error { return nil }
