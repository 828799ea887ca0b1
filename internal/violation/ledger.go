// Package violation provides the PostgreSQL-backed violation ledger. Each
// record captures who sent what in which session, the terms that matched,
// and the resulting action. The ledger is append-only: the single permitted
// mutation is promoting a record's action from warning to banned when the
// same message crosses the ban threshold.
package violation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/classcast/live-app/internal/storage"
)

// Classification values for the violation_type column. The chat core only
// produces profanity; the others exist for moderator tooling.
const (
	TypeProfanity  = "profanity"
	TypeSpam       = "spam"
	TypeHarassment = "harassment"
	TypeOther      = "other"
)

// Action values for the action column.
const (
	ActionWarning = "warning"
	ActionBanned  = "banned"
)

// ErrNotFound is returned when promoting a violation that does not exist.
var ErrNotFound = errors.New("violation: not found")

// Violation is one instance of a message failing moderation.
type Violation struct {
	ID            string
	UserID        string
	LiveID        string
	Message       string
	DetectedWords []string
	Type          string
	Action        string
	CreatedAt     time.Time
}

// Ledger manages violation records in PostgreSQL.
type Ledger struct {
	db *sql.DB
}

// NewLedger creates a violation ledger backed by the given database handle.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Record appends a profanity violation with action warning and returns the
// stored record. Exactly one record is created per message that fails
// moderation.
func (l *Ledger) Record(ctx context.Context, userID, liveID, message string, detectedWords []string) (*Violation, error) {
	const query = `
		INSERT INTO violations (id, user_id, live_id, message, detected_words, violation_type, action)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	v := &Violation{
		ID:            uuid.New().String(),
		UserID:        userID,
		LiveID:        liveID,
		Message:       message,
		DetectedWords: detectedWords,
		Type:          TypeProfanity,
		Action:        ActionWarning,
	}

	err := l.db.QueryRowContext(ctx, query,
		v.ID, v.UserID, v.LiveID, v.Message,
		pq.Array(v.DetectedWords), v.Type, v.Action,
	).Scan(&v.CreatedAt)
	if err != nil {
		return nil, storage.Unavailable("violation: record", err)
	}
	return v, nil
}

// CountFor returns the total number of violations for a user within a
// session, including any record just written.
func (l *Ledger) CountFor(ctx context.Context, userID, liveID string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM violations
		WHERE user_id = $1 AND live_id = $2`

	var n int
	if err := l.db.QueryRowContext(ctx, query, userID, liveID).Scan(&n); err != nil {
		return 0, storage.Unavailable("violation: count", err)
	}
	return n, nil
}

// PromoteToBanned mutates a record's action to banned. Used only when the
// ban threshold is crossed by the message that produced the record.
func (l *Ledger) PromoteToBanned(ctx context.Context, violationID string) error {
	const query = `UPDATE violations SET action = $2 WHERE id = $1`

	res, err := l.db.ExecContext(ctx, query, violationID, ActionBanned)
	if err != nil {
		return storage.Unavailable("violation: promote "+violationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
