// Package presence tracks which users are currently connected to each live
// session, backed by Redis so that every wsserver instance sees the same
// counts:
//
//	Key:   presence:<live_id>
//	Value: hash of user ID -> open connection count across all instances
//	TTL:   refreshed on every join
//
// Refcounting per connection (rather than a plain set of user IDs) keeps the
// distinct-user count correct when one user holds connections on several
// instances: the user only disappears once the last connection anywhere is
// released. An instance that dies without releasing its connections leaves
// stale refcounts behind; the key TTL bounds how long those survive.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for per-session presence hashes.
	KeyPrefix = "presence:"

	// TTL bounds how long a presence hash outlives its last join, so
	// entries for ended sessions do not accumulate forever.
	TTL = 6 * time.Hour
)

// removeScript decrements a user's connection refcount and deletes the field
// once it reaches zero, in one atomic step so a concurrent join cannot be
// lost between the decrement and the delete. Returns the new refcount and
// the remaining distinct-user count.
var removeScript = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call("HDEL", KEYS[1], ARGV[1])
end
return {n, redis.call("HLEN", KEYS[1])}
`)

// Store manages room presence hashes in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a presence store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Add registers one connection of a user in a session and returns the
// resulting count of distinct present users.
func (s *Store) Add(ctx context.Context, liveID, userID string) (int, error) {
	key := KeyPrefix + liveID

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, key, userID, 1)
	pipe.Expire(ctx, key, TTL)
	card := pipe.HLen(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("presence: add %s to %s: %w", userID, liveID, err)
	}
	return int(card.Val()), nil
}

// Remove releases one connection of a user and returns the remaining
// distinct-user count plus whether the user is now fully gone from the
// session on every instance.
func (s *Store) Remove(ctx context.Context, liveID, userID string) (int, bool, error) {
	res, err := removeScript.Run(ctx, s.client, []string{KeyPrefix + liveID}, userID).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("presence: remove %s from %s: %w", userID, liveID, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("presence: remove %s from %s: unexpected reply %v", userID, liveID, res)
	}
	return int(res[1]), res[0] <= 0, nil
}

// Clear drops a user's presence entry outright, regardless of how many
// connections they still hold. Used when a ban removes them mid-session.
func (s *Store) Clear(ctx context.Context, liveID, userID string) error {
	if err := s.client.HDel(ctx, KeyPrefix+liveID, userID).Err(); err != nil {
		return fmt.Errorf("presence: clear %s from %s: %w", userID, liveID, err)
	}
	return nil
}

// Count returns the number of distinct users currently present in a session.
func (s *Store) Count(ctx context.Context, liveID string) (int, error) {
	n, err := s.client.HLen(ctx, KeyPrefix+liveID).Result()
	if err != nil {
		return 0, fmt.Errorf("presence: count %s: %w", liveID, err)
	}
	return int(n), nil
}

// Contains reports whether a user is currently present in a session.
func (s *Store) Contains(ctx context.Context, liveID, userID string) (bool, error) {
	ok, err := s.client.HExists(ctx, KeyPrefix+liveID, userID).Result()
	if err != nil {
		return false, fmt.Errorf("presence: contains %s in %s: %w", userID, liveID, err)
	}
	return ok, nil
}
