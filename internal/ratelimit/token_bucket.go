package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Tokens are returned as strings: redis truncates Lua numbers to integers,
// and the fractional part drives Retry-After.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = (clock[1] * 1000) + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now

local elapsed = math.max(0, now - ts)
tokens = math.min(burst, tokens + (elapsed / 1000) * rate)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), now}
`

var (
	ErrBucketNotConfigured = errors.New("rate limiter not configured")
	ErrBucketInvalid       = errors.New("rate limiter bucket is invalid")
)

// Bucket is a refill rate in tokens per second and a burst capacity.
type Bucket struct {
	Rate  float64
	Burst int
}

func (b Bucket) valid() bool {
	return b.Rate > 0 && b.Burst > 0
}

// ttl keeps an idle bucket around for twice its full refill time.
func (b Bucket) ttl() time.Duration {
	seconds := math.Ceil(float64(b.Burst) / b.Rate * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

// TokenBucket is a redis-backed bucket evaluated atomically in one script call.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string, bucket Bucket) (*RateLimitResult, error) {
	if t == nil || t.client == nil {
		return nil, ErrBucketNotConfigured
	}
	if key == "" || !bucket.valid() {
		return nil, ErrBucketInvalid
	}

	res, err := t.script.Run(ctx, t.client, []string{key},
		bucket.Rate,
		bucket.Burst,
		bucket.ttl().Milliseconds(),
	).Slice()
	if err != nil {
		return nil, err
	}
	if len(res) != 3 {
		return nil, errors.New("unexpected token bucket reply")
	}

	allowed := toInt64(res[0]) == 1
	tokens := toFloat64(res[1])
	now := time.UnixMilli(toInt64(res[2]))

	var retryAfter time.Duration
	if !allowed {
		retryAfter = time.Duration((1 - tokens) / bucket.Rate * float64(time.Second))
	}
	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      bucket.Burst,
		Remaining:  int(tokens),
		ResetTime:  now.Add(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}

func toInt64(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}
