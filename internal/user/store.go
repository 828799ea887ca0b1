// Package user provides PostgreSQL-backed storage for user identities and
// their ban/violation state. The ban columns (is_banned, banned_until,
// violation_count) live on the users row and are mutated only by the ban
// service and the moderation pipeline.
package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/classcast/live-app/internal/storage"
)

// ErrNotFound is returned when no user exists for the given ID.
var ErrNotFound = errors.New("user: not found")

// User is the identity record consumed by the chat core. Credential fields
// are owned by the auth service and never loaded here.
type User struct {
	ID             string
	Name           string
	Role           string // "teacher" or "student"
	IsBanned       bool
	BannedUntil    *time.Time // nil means no expiry (indefinite if IsBanned)
	ViolationCount int
}

// BanState is the slice of the user row the ban service operates on.
type BanState struct {
	IsBanned    bool
	BannedUntil *time.Time
}

// Store manages users in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a user store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetByID loads a user by ID.
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, name, role, is_banned, banned_until, violation_count
		FROM users
		WHERE id = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Name, &u.Role, &u.IsBanned, &u.BannedUntil, &u.ViolationCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storage.Unavailable("user: get "+id, err)
	}
	return &u, nil
}

// ReadBanState returns the current ban columns for a user.
func (s *Store) ReadBanState(ctx context.Context, id string) (BanState, error) {
	const query = `SELECT is_banned, banned_until FROM users WHERE id = $1`

	var bs BanState
	err := s.db.QueryRowContext(ctx, query, id).Scan(&bs.IsBanned, &bs.BannedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return BanState{}, ErrNotFound
	}
	if err != nil {
		return BanState{}, storage.Unavailable("user: read ban state "+id, err)
	}
	return bs, nil
}

// WriteBanState overwrites the ban columns for a user. Any existing ban is
// replaced, not stacked.
func (s *Store) WriteBanState(ctx context.Context, id string, bs BanState) error {
	const query = `
		UPDATE users
		SET is_banned = $2, banned_until = $3
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, bs.IsBanned, bs.BannedUntil)
	if err != nil {
		return storage.Unavailable("user: write ban state "+id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearExpiredBan atomically resets the ban columns if and only if the ban
// has a past expiry. Returns true if a ban was cleared. Running the
// condition and the reset in one statement keeps concurrent checks from
// racing through partial clears.
func (s *Store) ClearExpiredBan(ctx context.Context, id string, now time.Time) (bool, error) {
	const query = `
		UPDATE users
		SET is_banned = FALSE, banned_until = NULL
		WHERE id = $1
		  AND is_banned = TRUE
		  AND banned_until IS NOT NULL
		  AND banned_until <= $2`

	res, err := s.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, storage.Unavailable("user: clear expired ban "+id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IncrementViolationCount bumps the user's lifetime violation counter by one.
// The counter is monotonic; nothing in the chat core ever resets it.
func (s *Store) IncrementViolationCount(ctx context.Context, id string) error {
	const query = `UPDATE users SET violation_count = violation_count + 1 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return storage.Unavailable("user: increment violation count "+id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
