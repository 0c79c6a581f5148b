/**
 * @description
 * Distributed fixed-window rate limiter on Redis, used to shield the webhook
 * endpoint and signup tracking from floods. The count-and-expire pair runs as
 * one Lua script so concurrent callers across instances see a single window.
 */
package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter counts requests per scope and subject in fixed windows.
// A nil limiter or nil client disables limiting.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter creates a limiter under the given key prefix.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "glowcheck:rate_limit"
	}
	trimmed = strings.TrimSuffix(trimmed, ":")
	return &RedisRateLimiter{client: client, prefix: trimmed}
}

// Consume counts one request. It returns the count within the current window
// and, when the limit is exceeded, the seconds until the window resets.
// Limiting degrades open: misconfigured inputs consume nothing.
func (r *RedisRateLimiter) Consume(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject)
	raw, err := rateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limiter response shape: %T", raw)
	}
	current, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected rate limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected rate limiter ttl type: %T", values[1])
	}

	count = int(current)
	if count > limit {
		retryAfterSeconds = int(math.Ceil(float64(ttlMs) / 1000.0))
		if retryAfterSeconds < 1 {
			retryAfterSeconds = 1
		}
	}
	return count, retryAfterSeconds, nil
}
