package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript applies the token bucket algorithm atomically,
// shared across every process admitting against the same Redis instance —
// the production counter store named in §4.F ("a networked counter store
// in production").
//
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost
// ARGV[4] = now (unix seconds, fractional)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 3600)

return {allowed, tokens}
`)

// RedisStore implements Store against a shared Redis instance.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *RedisStore) Admit(ctx context.Context, identityKey string, bucket Bucket, policy Policy) (Result, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", bucket, identityKey)
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, s.client, []string{key}, policy.ratePerSecond(), policy.Burst, 1, now).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis script failed: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return Result{}, fmt.Errorf("ratelimit: unexpected redis script response")
	}
	allowed, _ := results[0].(int64)
	if allowed == 1 {
		return Result{Allowed: true}, nil
	}
	retryAfter := policy.Period / time.Duration(policy.Limit)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return Result{Allowed: false, RetryAfter: retryAfter}, nil
}
