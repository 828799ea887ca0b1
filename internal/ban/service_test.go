package ban

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/classcast/live-app/internal/user"
)

// fakeStates is an in-memory ban-state store.
type fakeStates struct {
	states     map[string]user.BanState
	readErr    error
	clearCalls int
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[string]user.BanState)}
}

func (f *fakeStates) ReadBanState(ctx context.Context, id string) (user.BanState, error) {
	if f.readErr != nil {
		return user.BanState{}, f.readErr
	}
	return f.states[id], nil
}

func (f *fakeStates) WriteBanState(ctx context.Context, id string, bs user.BanState) error {
	f.states[id] = bs
	return nil
}

func (f *fakeStates) ClearExpiredBan(ctx context.Context, id string, now time.Time) (bool, error) {
	f.clearCalls++
	bs := f.states[id]
	if bs.IsBanned && bs.BannedUntil != nil && !bs.BannedUntil.After(now) {
		f.states[id] = user.BanState{}
		return true, nil
	}
	return false, nil
}

func newTestService(states States, now time.Time) *Service {
	s := NewService(states)
	s.now = func() time.Time { return now }
	return s
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestIsCurrentlyBanned_NotBanned(t *testing.T) {
	svc := newTestService(newFakeStates(), testNow)

	banned, until, err := svc.IsCurrentlyBanned(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if banned {
		t.Error("expected not banned")
	}
	if until != nil {
		t.Errorf("expected nil expiry, got %v", until)
	}
}

func TestIsCurrentlyBanned_ActiveBan(t *testing.T) {
	states := newFakeStates()
	expiry := testNow.Add(30 * time.Minute)
	states.states["u-1"] = user.BanState{IsBanned: true, BannedUntil: &expiry}
	svc := newTestService(states, testNow)

	banned, until, err := svc.IsCurrentlyBanned(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned=true")
	}
	if until == nil || !until.Equal(expiry) {
		t.Errorf("expiry = %v, want %v", until, expiry)
	}
	if states.clearCalls != 0 {
		t.Errorf("ClearExpiredBan called %d times for an active ban", states.clearCalls)
	}
}

func TestIsCurrentlyBanned_IndefiniteBan(t *testing.T) {
	states := newFakeStates()
	states.states["u-1"] = user.BanState{IsBanned: true, BannedUntil: nil}
	svc := newTestService(states, testNow)

	banned, until, err := svc.IsCurrentlyBanned(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned=true for indefinite ban")
	}
	if until != nil {
		t.Errorf("indefinite ban should have nil expiry, got %v", until)
	}
}

func TestIsCurrentlyBanned_ExpiredBanSelfHeals(t *testing.T) {
	states := newFakeStates()
	expiry := testNow.Add(-time.Minute)
	states.states["u-1"] = user.BanState{IsBanned: true, BannedUntil: &expiry}
	svc := newTestService(states, testNow)

	banned, until, err := svc.IsCurrentlyBanned(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if banned {
		t.Error("expired ban reported as active")
	}
	if until != nil {
		t.Errorf("expected nil expiry, got %v", until)
	}
	if states.clearCalls != 1 {
		t.Errorf("ClearExpiredBan called %d times, want 1", states.clearCalls)
	}
	if states.states["u-1"].IsBanned {
		t.Error("ban flags not cleared in the store")
	}
}

func TestIsCurrentlyBanned_ExpiryBoundary(t *testing.T) {
	// A ban expiring exactly now is no longer active.
	states := newFakeStates()
	expiry := testNow
	states.states["u-1"] = user.BanState{IsBanned: true, BannedUntil: &expiry}
	svc := newTestService(states, testNow)

	banned, _, err := svc.IsCurrentlyBanned(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if banned {
		t.Error("ban expiring exactly now should not be active")
	}
}

func TestIsCurrentlyBanned_ReadError(t *testing.T) {
	states := newFakeStates()
	states.readErr = errors.New("pg down")
	svc := newTestService(states, testNow)

	_, _, err := svc.IsCurrentlyBanned(context.Background(), "u-1")
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestBan_SetsExpiry(t *testing.T) {
	states := newFakeStates()
	svc := newTestService(states, testNow)

	until, err := svc.Ban(context.Background(), "u-1", Duration)
	if err != nil {
		t.Fatalf("Ban() error: %v", err)
	}
	if want := testNow.Add(time.Hour); !until.Equal(want) {
		t.Errorf("until = %v, want %v", until, want)
	}

	bs := states.states["u-1"]
	if !bs.IsBanned || bs.BannedUntil == nil || !bs.BannedUntil.Equal(until) {
		t.Errorf("stored state = %+v", bs)
	}
}

func TestBan_OverwritesExistingBan(t *testing.T) {
	states := newFakeStates()
	old := testNow.Add(10 * time.Minute)
	states.states["u-1"] = user.BanState{IsBanned: true, BannedUntil: &old}
	svc := newTestService(states, testNow)

	until, err := svc.Ban(context.Background(), "u-1", Duration)
	if err != nil {
		t.Fatalf("Ban() error: %v", err)
	}
	// The new ban replaces the old one; it is not stacked on top.
	if want := testNow.Add(Duration); !until.Equal(want) {
		t.Errorf("until = %v, want %v", until, want)
	}
}
