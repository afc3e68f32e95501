/**
 * @description
 * Replay protection for partner-token exchange. Each partner token carries a
 * unique jti; exchanging it must consume the jti exactly once across every
 * service instance. The guard is an atomic "set if absent, with expiry"
 * against a shared Redis instance, keyed by the jti, with the expiry equal to
 * the remaining lifetime of the token it protects — the guard entry outlives
 * the token and then evicts itself, so no separate cleanup is needed.
 *
 * When Redis is unreachable the guard fails closed: the error propagates as
 * an infrastructure failure. It never reports "no replay" on a store error.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: The shared key-value store client.
 */

package replay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard records partner-token identifiers so each is consumed at most once.
type Guard interface {
	// CheckAndMark atomically marks jti as consumed for ttl. It returns
	// true when the jti was already present (a replay). Errors indicate the
	// guard store is unavailable and must be treated as failures, never as
	// a clean result.
	CheckAndMark(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

// RedisGuard implements Guard over a shared Redis instance.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisGuard creates a guard that namespaces its keys under prefix.
func NewRedisGuard(client redis.UniversalClient, prefix string) *RedisGuard {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "coupon:replay"
	}
	trimmed = strings.TrimSuffix(trimmed, ":")
	return &RedisGuard{client: client, prefix: trimmed}
}

// CheckAndMark performs SET NX PX on the jti key. Exactly one concurrent
// caller for a given jti observes a fresh set; all others see a replay.
func (g *RedisGuard) CheckAndMark(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	set, err := g.client.SetNX(ctx, g.key(jti), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay guard store unavailable: %w", err)
	}
	return !set, nil
}

func (g *RedisGuard) key(jti string) string {
	return g.prefix + ":jti:" + jti
}

// Unavailable is a Guard used when no Redis is configured at startup. Every
// check fails, which keeps the partner exchange path fail-closed rather than
// silently replayable.
type Unavailable struct{}

func (Unavailable) CheckAndMark(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	return false, fmt.Errorf("replay guard store not configured")
}
