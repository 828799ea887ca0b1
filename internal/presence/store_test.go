package presence

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and cleans
// up test presence keys. Tests that call this helper require a running Redis
// on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, KeyPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewStore(client)
}

func TestAddAndCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.Add(ctx, "test_live1", "u1")
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if n != 1 {
		t.Errorf("count after first add = %d, want 1", n)
	}

	n, err = store.Add(ctx, "test_live1", "u2")
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if n != 2 {
		t.Errorf("count after second add = %d, want 2", n)
	}
}

func TestAdd_SameUserCountsOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Add(ctx, "test_live2", "u1")
	n, err := store.Add(ctx, "test_live2", "u1")
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if n != 1 {
		t.Errorf("count after second connection = %d, want 1", n)
	}
}

func TestRemove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Add(ctx, "test_live3", "u1")
	store.Add(ctx, "test_live3", "u2")

	n, gone, err := store.Remove(ctx, "test_live3", "u1")
	if err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if n != 1 {
		t.Errorf("count after remove = %d, want 1", n)
	}
	if !gone {
		t.Error("user with a single connection should be gone after remove")
	}

	// Removing an absent user leaves the count alone.
	n, _, err = store.Remove(ctx, "test_live3", "u_ghost")
	if err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if n != 1 {
		t.Errorf("count after no-op remove = %d, want 1", n)
	}
}

func TestRemove_RefcountsAcrossConnections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Two connections for the same user, e.g. on different instances.
	store.Add(ctx, "test_live6", "u1")
	store.Add(ctx, "test_live6", "u1")

	n, gone, err := store.Remove(ctx, "test_live6", "u1")
	if err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if gone {
		t.Error("user reported gone while a second connection is open")
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	n, gone, err = store.Remove(ctx, "test_live6", "u1")
	if err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if !gone {
		t.Error("user not reported gone after the last connection closed")
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestClear_DropsAllConnections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Add(ctx, "test_live7", "u1")
	store.Add(ctx, "test_live7", "u1")

	if err := store.Clear(ctx, "test_live7", "u1"); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}

	ok, err := store.Contains(ctx, "test_live7", "u1")
	if err != nil {
		t.Fatalf("Contains() error: %v", err)
	}
	if ok {
		t.Error("user still present after Clear")
	}
}

func TestCount_EmptySession(t *testing.T) {
	store := newTestStore(t)

	n, err := store.Count(context.Background(), "test_live_empty")
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestContains(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Add(ctx, "test_live4", "u1")

	ok, err := store.Contains(ctx, "test_live4", "u1")
	if err != nil {
		t.Fatalf("Contains() error: %v", err)
	}
	if !ok {
		t.Error("expected u1 present")
	}

	ok, err = store.Contains(ctx, "test_live4", "u2")
	if err != nil {
		t.Fatalf("Contains() error: %v", err)
	}
	if ok {
		t.Error("expected u2 absent")
	}
}

func TestAdd_SetsTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Add(ctx, "test_live5", "u1")

	ttl, err := store.client.TTL(ctx, KeyPrefix+"test_live5").Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl <= 0 || ttl > TTL {
		t.Errorf("TTL = %v, want in (0, %v]", ttl, TTL)
	}
}
