/**
 * @description
 * This file sets up the HTTP router for the coupon claim service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies middleware: request logging, panic recovery, timeouts, wildcard
 * CORS on the publicly embeddable widget and claim routes, bearer-session
 * authentication on the bearer claim path, and the internal-key gate on the
 * admin surface.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for cross-origin widget embedding.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/app"
)

// RouterConfig carries the router's wiring: verified dependencies and the
// admin gate key.
type RouterConfig struct {
	SessionVerifier  SessionVerifier
	InternalAPIKey   string
	ClaimRateLimiter app.RateLimiter
}

// NewRouter creates and returns the service router.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Widget-facing routes are embedded cross-origin on partner sites,
		// so they allow any origin. Credentials stay disabled: identity
		// travels in the bearer token or the request body, never a cookie.
		r.Group(func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   []string{"*"},
				AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
				AllowCredentials: false,
				MaxAge:           300, // Maximum value not ignored by any major browsers
			}))

			r.Post("/session/partner", h.PartnerExchangeHandler)
			r.Post("/session/api-key", h.APIKeyExchangeHandler)

			r.Group(func(r chi.Router) {
				r.Use(ClaimRateLimitMiddleware(cfg.ClaimRateLimiter))
				r.Post("/widget/claims", h.WidgetClaimHandler)

				r.Group(func(r chi.Router) {
					r.Use(SessionAuthMiddleware(cfg.SessionVerifier))
					r.Post("/claims", h.BearerClaimHandler)
				})
			})

			r.Get("/widget/coupons", h.WidgetListingHandler)
		})

		// Admin surface: vendor and coupon provisioning plus credential
		// rotation, gated by the process-wide internal API key.
		r.Group(func(r chi.Router) {
			r.Use(InternalKeyMiddleware(cfg.InternalAPIKey))

			r.Post("/admin/vendors", h.CreateVendorHandler)
			r.Post("/admin/vendors/{vendor_id}/coupons", h.CreateCouponHandler)
			r.Post("/admin/vendors/{vendor_id}/rotate-partner-secret", h.RotatePartnerSecretHandler)
			r.Post("/admin/vendors/{vendor_id}/rotate-api-key", h.RotateAPIKeyHandler)
		})
	})

	return r
}
