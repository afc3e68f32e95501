/**
 * @description
 * Distributed fixed-window throttling for the hot claim endpoints: each
 * client IP gets a bounded number of claim attempts per minute, counted in
 * Redis so the window is shared across instances. The limit and window are
 * fixed at construction; callers ask only whether one more attempt from an
 * address is allowed.
 *
 * Rate limiting is advisory: unlike the replay guard, a limiter outage must
 * not block claims. Errors surface to the middleware, which logs and admits
 * the request — claim correctness rests on the database constraints.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: The shared counter store.
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

var claimRateLimitScript = redis.NewScript(`
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

// RateLimiter is consumed by the claim-endpoint middleware.
type RateLimiter interface {
	// AllowClaim reports whether one more claim attempt from clientIP fits
	// inside the current window. When it does not, retryAfterSeconds says
	// how long until the window resets.
	AllowClaim(ctx context.Context, clientIP string) (allowed bool, retryAfterSeconds int, err error)
}

// RedisClaimRateLimiter counts claim attempts per client IP in one-minute
// fixed windows shared across service instances.
type RedisClaimRateLimiter struct {
	client    redis.UniversalClient
	prefix    string
	perMinute int
}

// NewRedisClaimRateLimiter creates a limiter admitting perMinute claim
// attempts per client IP. A non-positive perMinute disables limiting.
func NewRedisClaimRateLimiter(client redis.UniversalClient, prefix string, perMinute int) *RedisClaimRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "coupon:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisClaimRateLimiter{
		client:    client,
		prefix:    trimmedPrefix,
		perMinute: perMinute,
	}
}

func (r *RedisClaimRateLimiter) AllowClaim(ctx context.Context, clientIP string) (bool, int, error) {
	if r == nil || r.client == nil || r.perMinute <= 0 {
		return true, 0, nil
	}
	subject := strings.TrimSpace(clientIP)
	if subject == "" {
		return true, 0, nil
	}

	windowMs := time.Minute.Milliseconds()
	key := r.prefix + ":claim:" + subject
	rawResult, err := claimRateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}
	currentCount, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	if currentCount <= int64(r.perMinute) {
		return true, 0, nil
	}
	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter, nil
}
