// Package ban implements the per-user temporal ban state machine. Ban state
// lives on the user record (is_banned, banned_until); expiry is evaluated
// lazily on read rather than by a scheduled task. A ban with no expiry is
// indefinite; a ban whose expiry has passed is cleared atomically on the
// next check (explicit read-with-side-effect, documented as such).
package ban

import (
	"context"
	"time"

	"github.com/classcast/live-app/internal/user"
)

// Duration is the fixed escalation ban length applied when a user crosses
// the violation threshold, regardless of how far past it they are.
const Duration = 1 * time.Hour

// States is the persistence surface the service needs from the user store.
type States interface {
	ReadBanState(ctx context.Context, id string) (user.BanState, error)
	WriteBanState(ctx context.Context, id string, bs user.BanState) error
	ClearExpiredBan(ctx context.Context, id string, now time.Time) (bool, error)
}

// Service evaluates and mutates per-user ban state.
type Service struct {
	states States
	now    func() time.Time // injectable clock for tests
}

// NewService creates a ban service over the given ban-state store.
func NewService(states States) *Service {
	return &Service{states: states, now: time.Now}
}

// IsCurrentlyBanned reports whether the user is banned right now. A past
// banned_until is treated as not banned and cleared in the store before
// returning (self-healing read). The returned time is the ban expiry when
// banned; nil means an indefinite ban.
func (s *Service) IsCurrentlyBanned(ctx context.Context, userID string) (bool, *time.Time, error) {
	bs, err := s.states.ReadBanState(ctx, userID)
	if err != nil {
		return false, nil, err
	}

	if !bs.IsBanned {
		return false, nil, nil
	}
	if bs.BannedUntil == nil {
		// Indefinite ban.
		return true, nil, nil
	}
	if !bs.BannedUntil.After(s.now()) {
		// Expired. The store clears the flags in a single conditional
		// update so concurrent checks cannot race through partial clears.
		if _, err := s.states.ClearExpiredBan(ctx, userID, s.now()); err != nil {
			return false, nil, err
		}
		return false, nil, nil
	}
	return true, bs.BannedUntil, nil
}

// Ban suspends the user for the given duration starting now. An existing
// ban is overwritten, never stacked. Returns the ban expiry.
func (s *Service) Ban(ctx context.Context, userID string, d time.Duration) (time.Time, error) {
	until := s.now().Add(d)
	err := s.states.WriteBanState(ctx, userID, user.BanState{
		IsBanned:    true,
		BannedUntil: &until,
	})
	if err != nil {
		return time.Time{}, err
	}
	return until, nil
}
