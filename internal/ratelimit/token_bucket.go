package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "pixelframe:ratelimit"

// Decision is the outcome of spending tokens from one subject's bucket.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	// RetryAfter is how long until the rejected cost would fit.
	RetryAfter time.Duration
	// ResetAfter is how long until the bucket is full again.
	ResetAfter time.Duration
}

// spend refills a bucket for elapsedMS and then takes requested tokens when
// they are available. It returns the new token count.
func spend(tokens, elapsedMS, requested, capacity, windowMS float64) (float64, Decision) {
	tokens = math.Min(capacity, tokens+math.Max(0, elapsedMS)*capacity/windowMS)

	d := Decision{Limit: int64(capacity)}
	if tokens >= requested {
		tokens -= requested
		d.Allowed = true
	} else {
		d.RetryAfter = millis((requested - tokens) * windowMS / capacity)
	}
	d.Remaining = int64(math.Floor(tokens))
	d.ResetAfter = millis((capacity - tokens) * windowMS / capacity)
	return tokens, d
}

func millis(ms float64) time.Duration {
	return time.Duration(math.Ceil(ms)) * time.Millisecond
}

// spendScript is spend in Lua, run atomically against a hash holding the
// fractional token count and the last refill time.
var spendScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "at")
local tokens = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now

tokens = math.min(capacity, tokens + math.max(0, now - at) * capacity / window)

local ok = 0
local wait = 0
if tokens >= cost then
  tokens = tokens - cost
  ok = 1
else
  wait = math.ceil((cost - tokens) * window / capacity)
end
local reset = math.ceil((capacity - tokens) * window / capacity)

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "at", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])

return {ok, math.floor(tokens), wait, reset}
`)

// RedisTokenBucket shares buckets between API replicas. Each subject gets
// capacity tokens per window; requests spend a cost between 1 and capacity.
type RedisTokenBucket struct {
	client    redis.UniversalClient
	capacity  int64
	windowMS  int64
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := validate(capacity, window); err != nil {
		return nil, err
	}
	keyPrefix = strings.TrimSuffix(strings.TrimSpace(keyPrefix), ":")
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:    client,
		capacity:  int64(capacity),
		windowMS:  windowMillis(window),
		ttl:       2 * window,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

func (l *RedisTokenBucket) Allow(ctx context.Context, subject string, cost int64) (Decision, error) {
	reply, err := spendScript.Run(ctx, l.client,
		[]string{l.key(subject)},
		l.capacity,
		l.windowMS,
		l.now().UnixMilli(),
		clampCost(cost, l.capacity),
		l.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("spend tokens: %w", err)
	}
	return decodeReply(reply, l.capacity)
}

func (l *RedisTokenBucket) key(subject string) string {
	return l.keyPrefix + ":" + normalizeSubject(subject)
}

func decodeReply(reply []int64, capacity int64) (Decision, error) {
	if len(reply) != 4 {
		return Decision{}, fmt.Errorf("token bucket replied with %d values, want 4", len(reply))
	}
	return Decision{
		Allowed:    reply[0] == 1,
		Limit:      capacity,
		Remaining:  reply[1],
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
		ResetAfter: time.Duration(reply[3]) * time.Millisecond,
	}, nil
}

func validate(capacity int, window time.Duration) error {
	if capacity <= 0 {
		return fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	return nil
}

func windowMillis(window time.Duration) int64 {
	return max(1, window.Milliseconds())
}

func normalizeSubject(subject string) string {
	if subject = strings.TrimSpace(subject); subject == "" {
		return "anonymous"
	}
	return subject
}

// clampCost keeps a single expensive request admissible on a small bucket.
func clampCost(cost, capacity int64) int64 {
	return min(max(cost, 1), capacity)
}
