/**
 * @description
 * This file contains custom middleware for the HTTP router: widget-session
 * bearer authentication, the internal-API-key gate on admin routes, and the
 * advisory claim rate limiter for the flash-promo hot path.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - internal/app, internal/token: Session verification and rate limiting.
 */

package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/app"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/token"
)

// SessionContextKey is a custom type for the context key to avoid collisions.
type SessionContextKey string

const widgetSessionKey SessionContextKey = "widgetSession"

// SessionVerifier verifies a widget session token string.
type SessionVerifier interface {
	VerifyWidgetSession(tokenString string) (token.WidgetSession, error)
}

// SessionAuthMiddleware validates the `Authorization: Bearer` widget session
// token and stores the verified session in the request context. Missing,
// malformed, invalid, and expired tokens are all rejected with 401 — never
// silently treated as anonymous.
func SessionAuthMiddleware(verifier SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			sess, err := verifier.VerifyWidgetSession(tokenString)
			if err != nil {
				if errors.Is(err, token.ErrExpiredToken) {
					writeError(w, http.StatusUnauthorized, "Session token expired")
					return
				}
				writeError(w, http.StatusUnauthorized, "Invalid session token")
				return
			}

			ctx := context.WithValue(r.Context(), widgetSessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetWidgetSession retrieves the verified widget session from the context.
func GetWidgetSession(ctx context.Context) (token.WidgetSession, bool) {
	sess, ok := ctx.Value(widgetSessionKey).(token.WidgetSession)
	return sess, ok
}

// InternalKeyMiddleware gates the admin routes behind the process-wide
// internal API key. With no key configured the admin surface is disabled.
func InternalKeyMiddleware(internalKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if internalKey == "" {
				writeError(w, http.StatusForbidden, "Admin API disabled")
				return
			}
			presented := r.Header.Get("X-Internal-Api-Key")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(internalKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "Invalid internal API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimRateLimitMiddleware throttles claim attempts per client IP using the
// shared limiter. The limit is advisory: limiter outages log a warning and
// let the request through, because claim correctness does not depend on it.
func ClaimRateLimitMiddleware(limiter app.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			allowed, retryAfter, err := limiter.AllowClaim(r.Context(), clientIP(r))
			if err != nil {
				log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" err=%v", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "Too many claim attempts")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
