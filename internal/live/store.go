// Package live provides PostgreSQL-backed storage for livestream sessions
// and their participant lists. The chat core consumes sessions read-only
// except for participant membership; lifecycle transitions (scheduled ->
// live -> ended) belong to the HTTP CRUD layer and are monotonic.
package live

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/classcast/live-app/internal/storage"
)

// ErrNotFound is returned when no livestream exists for the given ID.
var ErrNotFound = errors.New("live: not found")

// Lifecycle status values.
const (
	StatusScheduled = "scheduled"
	StatusLive      = "live"
	StatusEnded     = "ended"
)

// Settings are the per-session moderation switches.
type Settings struct {
	AllowChat         bool
	ModerationEnabled bool
	MaxViolations     int
}

// LiveStream is a scheduled or running broadcast session.
type LiveStream struct {
	ID            string
	Title         string
	TeacherID     string
	Status        string
	ScheduledTime time.Time
	StartTime     *time.Time
	EndTime       *time.Time
	Settings      Settings
}

// Store manages livestreams in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a livestream store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindByID loads a livestream with its settings.
func (s *Store) FindByID(ctx context.Context, id string) (*LiveStream, error) {
	const query = `
		SELECT id, title, teacher_id, status, scheduled_time, start_time, end_time,
		       allow_chat, moderation_enabled, max_violations
		FROM livestreams
		WHERE id = $1`

	var ls LiveStream
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ls.ID, &ls.Title, &ls.TeacherID, &ls.Status,
		&ls.ScheduledTime, &ls.StartTime, &ls.EndTime,
		&ls.Settings.AllowChat, &ls.Settings.ModerationEnabled, &ls.Settings.MaxViolations,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storage.Unavailable("live: find "+id, err)
	}
	return &ls, nil
}

// AppendParticipant records that a user joined the session. The insert is
// idempotent: a user who joins twice keeps a single participant row with
// the original joined_at.
func (s *Store) AppendParticipant(ctx context.Context, liveID, userID string) error {
	const query = `
		INSERT INTO livestream_participants (live_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (live_id, user_id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, liveID, userID); err != nil {
		return storage.Unavailable("live: append participant", err)
	}
	return nil
}

// CountParticipants returns the number of persisted participant rows for a
// session (everyone who ever joined, not just those currently connected).
func (s *Store) CountParticipants(ctx context.Context, liveID string) (int, error) {
	const query = `SELECT COUNT(*) FROM livestream_participants WHERE live_id = $1`

	var n int
	if err := s.db.QueryRowContext(ctx, query, liveID).Scan(&n); err != nil {
		return 0, storage.Unavailable("live: count participants", err)
	}
	return n, nil
}
