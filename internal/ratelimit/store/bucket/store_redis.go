package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"steward/internal/ratelimit/models"
)

// slidingWindowScript trims the window, then admits the request only when the
// remaining count leaves room for cost. Scores are unix milliseconds.
// Returns {allowed, count, oldestMillis}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count + cost <= limit then
  for i = 1, cost do
    redis.call('ZADD', key, now, member .. ':' .. i)
  end
  count = count + cost
  allowed = 1
end
redis.call('PEXPIRE', key, window)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = now
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {allowed, count, oldestScore}
`)

// RedisClient is the slice of *redis.Client the store needs.
type RedisClient interface {
	redis.Scripter
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisBucketStore shares sliding windows between instances through Redis
// sorted sets.
type RedisBucketStore struct {
	client RedisClient
	now    func() time.Time
}

// NewRedisBucketStore creates a Redis-backed bucket store.
func NewRedisBucketStore(client RedisClient) *RedisBucketStore {
	return &RedisBucketStore{client: client, now: time.Now}
}

// Allow checks if a request is allowed and counts it when it is.
func (s *RedisBucketStore) Allow(ctx context.Context, key string, policy models.Policy) (*models.Result, error) {
	return s.AllowN(ctx, key, 1, policy)
}

// AllowN is Allow for a request that costs several slots.
func (s *RedisBucketStore) AllowN(ctx context.Context, key string, cost int, policy models.Policy) (*models.Result, error) {
	now := s.now()
	res, err := slidingWindowScript.Run(ctx, s.client, []string{key},
		now.UnixMilli(),
		policy.Window.Milliseconds(),
		policy.Limit,
		cost,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check %s: %w", key, err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("rate limit check %s: unexpected reply %v", key, res)
	}

	resetAt := time.UnixMilli(res[2]).Add(policy.Window)
	if res[0] == 0 {
		return models.Denied(policy.Limit, resetAt, now), nil
	}
	return &models.Result{
		Allowed:   true,
		Limit:     policy.Limit,
		Remaining: max(policy.Limit-int(res[1]), 0),
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the counter for a key.
func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}
