// Package postgres implements storage.CredentialStore backed by PostgreSQL.
//
// The reset challenge lives in nullable columns on the users row, so every
// challenge transition is a single-row UPDATE and needs no explicit
// transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/budgetkeeper/internal/uuid"
	"github.com/jmcleod/budgetkeeper/storage"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, reset_code_hash, reset_expires_at, token_version, created_at, updated_at`

// Store implements storage.CredentialStore backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ storage.CredentialStore = (*Store)(nil)

// NewStore returns a Store backed by the given pgx connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// NewStoreFromDSN opens a connection pool and returns a new Store. It does
// not touch the schema; run Migrate first.
func NewStoreFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return NewStore(pool), nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanUser(row pgx.Row) (*storage.User, error) {
	var (
		u         storage.User
		codeHash  *string
		expiresAt *time.Time
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &codeHash, &expiresAt,
		&u.TokenVersion, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if codeHash != nil && expiresAt != nil {
		u.Reset = &storage.ResetChallenge{CodeHash: *codeHash, ExpiresAt: expiresAt.UTC()}
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func (s *Store) Create(ctx context.Context, email, passwordHash string) (*storage.User, error) {
	now := s.now().UTC()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 RETURNING `+userColumns,
		uuid.New(), email, passwordHash, now)
	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, storage.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*storage.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (s *Store) FindByID(ctx context.Context, id string) (*storage.User, error) {
	if !uuid.Valid(id) {
		return nil, storage.ErrNotFound
	}
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// execOne runs an UPDATE keyed by user id and maps "no rows" to ErrNotFound.
func (s *Store) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	if !uuid.Valid(userID) {
		return storage.ErrNotFound
	}
	return s.execOne(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, newHash, s.now().UTC())
}

func (s *Store) SetResetChallenge(ctx context.Context, userID, codeHash string, expiresAt time.Time) error {
	if !uuid.Valid(userID) {
		return storage.ErrNotFound
	}
	return s.execOne(ctx,
		`UPDATE users SET reset_code_hash = $2, reset_expires_at = $3, updated_at = $4 WHERE id = $1`,
		userID, codeHash, expiresAt.UTC(), s.now().UTC())
}

func (s *Store) ClearResetChallenge(ctx context.Context, userID string) error {
	if !uuid.Valid(userID) {
		return storage.ErrNotFound
	}
	return s.execOne(ctx,
		`UPDATE users SET reset_code_hash = NULL, reset_expires_at = NULL, updated_at = $2 WHERE id = $1`,
		userID, s.now().UTC())
}

func (s *Store) FindByEmailAndValidChallenge(ctx context.Context, email, codeHash string, now time.Time) (*storage.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE email = $1 AND reset_code_hash = $2 AND reset_expires_at > $3`,
		email, codeHash, now.UTC()))
}

func (s *Store) ConsumeResetChallenge(ctx context.Context, email, codeHash string, now time.Time, newHash string) (*storage.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`UPDATE users
		 SET password_hash = $4,
		     reset_code_hash = NULL,
		     reset_expires_at = NULL,
		     token_version = token_version + 1,
		     updated_at = $3
		 WHERE email = $1 AND reset_code_hash = $2 AND reset_expires_at > $3
		 RETURNING `+userColumns,
		email, codeHash, now.UTC(), newHash))
}
