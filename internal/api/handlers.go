/**
 * @description
 * This file contains the HTTP handlers for the coupon claim service's API
 * endpoints. Handlers parse incoming requests, call the application service,
 * and translate typed outcomes into transport-level responses. No uniqueness
 * or authentication logic lives here beyond header extraction — every
 * correctness-critical check belongs to the layers below.
 *
 * Conflicts (already-claimed, replay, active-claim) are expected, frequent
 * outcomes; they are answered with 409 plus a machine-readable code and are
 * not logged as failures.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For route parameters.
 * - internal/app, internal/domain, internal/store, internal/token: Service logic, models, typed errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/app"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/domain"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/store"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/token"
)

// Conflict codes carried in 409 responses so widget and partner callers can
// branch without parsing human-readable text.
const (
	codeJTIReplay          = "JTI_REPLAY"
	codeCouponClaimed      = "COUPON_ALREADY_CLAIMED"
	codeUserClaimed        = "USER_ALREADY_CLAIMED"
	codeActiveClaimExists  = "ACTIVE_CLAIM_EXISTS"
	codeNoAvailableCoupons = "NO_AVAILABLE_COUPONS"
	codeCouponExpired      = "COUPON_EXPIRED"
	codeNoAPIKeyConfigured = "NO_API_KEY_CONFIGURED"
)

// ClaimService is the application surface the handlers compose. The concrete
// implementation is *app.Service; tests substitute a stub.
type ClaimService interface {
	ExchangePartnerToken(ctx context.Context, partnerToken string) (*domain.SessionResponse, error)
	ExchangeAPIKey(ctx context.Context, req domain.APIKeyExchangeRequest) (*domain.SessionResponse, error)
	ClaimWithSession(ctx context.Context, sess token.WidgetSession, couponID uuid.UUID) (*domain.Coupon, error)
	WidgetClaim(ctx context.Context, req domain.WidgetClaimRequest) (*domain.Coupon, error)
	ListWidgetCoupons(ctx context.Context, vendorID uuid.UUID, rawUserID string) (*domain.WidgetListingResponse, error)
	CreateVendor(ctx context.Context, req domain.CreateVendorRequest) (*domain.Vendor, error)
	CreateCoupon(ctx context.Context, vendorID uuid.UUID, req domain.CreateCouponRequest) (*domain.Coupon, error)
	RotatePartnerSecret(ctx context.Context, vendorID uuid.UUID) (string, error)
	RotateAPIKey(ctx context.Context, vendorID uuid.UUID) (string, error)
}

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service ClaimService
}

// NewHandlers creates the handler set over the given service.
func NewHandlers(service ClaimService) *Handlers {
	return &Handlers{service: service}
}

// PartnerExchangeHandler handles POST /session/partner: exchanges a
// partner-signed token for a widget session token.
func (h *Handlers) PartnerExchangeHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.PartnerExchangeRequest
	if issues, err := decodeAndValidate(r, &req); err != nil {
		writeValidationError(w, err, issues)
		return
	}

	session, err := h.service.ExchangePartnerToken(r.Context(), req.Token)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpiredToken):
			writeError(w, http.StatusUnauthorized, "Partner token expired")
		case errors.Is(err, token.ErrInvalidToken):
			writeError(w, http.StatusUnauthorized, "Invalid partner token")
		case errors.Is(err, app.ErrReplayDetected):
			writeConflict(w, codeJTIReplay, "Partner token already exchanged", nil)
		case errors.Is(err, app.ErrAnonymousIdentity):
			writeError(w, http.StatusUnauthorized, "Authenticated identity required")
		default:
			log.Printf("level=error component=api endpoint=partner_exchange msg=\"exchange failed\" err=%v", err)
			writeError(w, http.StatusInternalServerError, "Token exchange failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// APIKeyExchangeHandler handles POST /session/api-key: the simpler vendor
// API-key based exchange.
func (h *Handlers) APIKeyExchangeHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.APIKeyExchangeRequest
	if issues, err := decodeAndValidate(r, &req); err != nil {
		writeValidationError(w, err, issues)
		return
	}

	session, err := h.service.ExchangeAPIKey(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrVendorNotFound):
			writeError(w, http.StatusNotFound, "Vendor not found")
		case errors.Is(err, app.ErrNoAPIKeyConfigured):
			writeErrorCode(w, http.StatusBadRequest, codeNoAPIKeyConfigured, "Vendor has no API key configured")
		case errors.Is(err, app.ErrAPIKeyMismatch):
			writeError(w, http.StatusUnauthorized, "Invalid API key")
		case errors.Is(err, app.ErrAnonymousIdentity):
			writeError(w, http.StatusUnauthorized, "Authenticated identity required")
		case errors.Is(err, app.ErrMissingIdentity):
			writeError(w, http.StatusBadRequest, "user_id or user_email is required")
		case errors.Is(err, store.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			log.Printf("level=error component=api endpoint=api_key_exchange msg=\"exchange failed\" vendor_id=%s err=%v", req.VendorID, err)
			writeError(w, http.StatusInternalServerError, "Token exchange failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// BearerClaimHandler handles POST /claims: claiming a specific coupon under
// a widget session bearer token.
func (h *Handlers) BearerClaimHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := GetWidgetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Session required")
		return
	}

	var req domain.BearerClaimRequest
	if issues, err := decodeAndValidate(r, &req); err != nil {
		writeValidationError(w, err, issues)
		return
	}
	couponID, err := uuid.Parse(req.CouponID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid coupon ID format")
		return
	}

	noStore(w)
	coupon, err := h.service.ClaimWithSession(r.Context(), sess, couponID)
	if err != nil {
		h.writeClaimError(w, err, "bearer_claim")
		return
	}
	writeJSON(w, http.StatusOK, domain.BearerClaimResponse{Success: true, CouponCode: coupon.Code})
}

// WidgetClaimHandler handles POST /widget/claims: the public, key-less claim
// path used by the embedded widget, including guest claiming.
func (h *Handlers) WidgetClaimHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.WidgetClaimRequest
	if issues, err := decodeAndValidate(r, &req); err != nil {
		writeValidationError(w, err, issues)
		return
	}

	noStore(w)
	coupon, err := h.service.WidgetClaim(r.Context(), req)
	if err != nil {
		h.writeClaimError(w, err, "widget_claim")
		return
	}

	claimed := true
	writeJSON(w, http.StatusOK, domain.CouponSummary{
		ID:            coupon.ID.String(),
		Code:          coupon.Code,
		Description:   coupon.Description,
		DiscountValue: coupon.DiscountValue,
		ExpiresAt:     coupon.ExpiresAt,
		Claimed:       claimed,
		ClaimedAt:     coupon.ClaimedAt,
	})
}

// writeClaimError maps the closed set of claim outcomes onto transport codes.
func (h *Handlers) writeClaimError(w http.ResponseWriter, err error, endpoint string) {
	var activeClaim *app.ActiveClaimError
	switch {
	case errors.Is(err, store.ErrCouponNotFound):
		writeError(w, http.StatusNotFound, "Coupon not found")
	case errors.Is(err, store.ErrVendorNotFound):
		writeError(w, http.StatusNotFound, "Vendor not found")
	case errors.Is(err, store.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, store.ErrCouponAlreadyClaimed):
		writeConflict(w, codeCouponClaimed, "Coupon already claimed", nil)
	case errors.Is(err, store.ErrUserAlreadyClaimed):
		writeConflict(w, codeUserClaimed, "You have already claimed a coupon for this vendor", nil)
	case errors.Is(err, store.ErrNoAvailableCoupons):
		writeConflict(w, codeNoAvailableCoupons, "No coupons available", nil)
	case errors.Is(err, store.ErrCouponExpired):
		writeErrorCode(w, http.StatusBadRequest, codeCouponExpired, "Coupon has expired")
	case errors.Is(err, app.ErrMissingIdentity):
		writeError(w, http.StatusBadRequest, "user_id or user_email is required")
	case errors.Is(err, app.ErrMissingClaimTarget):
		writeError(w, http.StatusBadRequest, "coupon_id or vendor_id is required")
	case errors.Is(err, app.ErrAnonymousIdentity):
		writeError(w, http.StatusUnauthorized, "Authenticated identity required")
	case errors.As(err, &activeClaim):
		writeConflict(w, codeActiveClaimExists, "An active claim already exists", map[string]interface{}{
			"existing_claim": activeClaim.Claim,
		})
	case errors.Is(err, store.ErrActiveClaimExists):
		writeConflict(w, codeActiveClaimExists, "An active claim already exists", nil)
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"claim failed\" err=%v", endpoint, err)
		writeError(w, http.StatusInternalServerError, "Claim failed")
	}
}

// WidgetListingHandler handles GET /widget/coupons: the public listing the
// embedded widget renders, with the caller's active-claim status.
func (h *Handlers) WidgetListingHandler(w http.ResponseWriter, r *http.Request) {
	vendorID, err := uuid.Parse(r.URL.Query().Get("vendor_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid vendor ID format")
		return
	}

	listing, err := h.service.ListWidgetCoupons(r.Context(), vendorID, r.URL.Query().Get("user_id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrVendorNotFound):
			writeError(w, http.StatusNotFound, "Vendor not found")
		case errors.Is(err, store.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			log.Printf("level=error component=api endpoint=widget_listing msg=\"listing failed\" vendor_id=%s err=%v", vendorID, err)
			writeError(w, http.StatusInternalServerError, "Failed to list coupons")
		}
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// CreateVendorHandler handles POST /admin/vendors.
func (h *Handlers) CreateVendorHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateVendorRequest
	if issues, err := decodeAndValidate(r, &req); err != nil {
		writeValidationError(w, err, issues)
		return
	}
	vendor, err := h.service.CreateVendor(r.Context(), req)
	if err != nil {
		log.Printf("level=error component=api endpoint=create_vendor msg=\"create failed\" err=%v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create vendor")
		return
	}
	writeJSON(w, http.StatusCreated, vendor)
}

// CreateCouponHandler handles POST /admin/vendors/{vendor_id}/coupons.
func (h *Handlers) CreateCouponHandler(w http.ResponseWriter, r *http.Request) {
	vendorID, err := uuid.Parse(chi.URLParam(r, "vendor_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid vendor ID format")
		return
	}
	var req domain.CreateCouponRequest
	if issues, err := decodeAndValidate(r, &req); err != nil {
		writeValidationError(w, err, issues)
		return
	}
	coupon, err := h.service.CreateCoupon(r.Context(), vendorID, req)
	if err != nil {
		if errors.Is(err, store.ErrVendorNotFound) {
			writeError(w, http.StatusNotFound, "Vendor not found")
			return
		}
		log.Printf("level=error component=api endpoint=create_coupon msg=\"create failed\" vendor_id=%s err=%v", vendorID, err)
		writeError(w, http.StatusInternalServerError, "Failed to create coupon")
		return
	}
	writeJSON(w, http.StatusCreated, coupon)
}

// RotatePartnerSecretHandler handles POST /admin/vendors/{vendor_id}/rotate-partner-secret.
// The new secret replaces the old one immediately; in-flight partner tokens
// signed with the prior secret stop verifying.
func (h *Handlers) RotatePartnerSecretHandler(w http.ResponseWriter, r *http.Request) {
	h.rotateCredential(w, r, h.service.RotatePartnerSecret, "rotate_partner_secret")
}

// RotateAPIKeyHandler handles POST /admin/vendors/{vendor_id}/rotate-api-key.
func (h *Handlers) RotateAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	h.rotateCredential(w, r, h.service.RotateAPIKey, "rotate_api_key")
}

func (h *Handlers) rotateCredential(w http.ResponseWriter, r *http.Request, rotate func(context.Context, uuid.UUID) (string, error), endpoint string) {
	vendorID, err := uuid.Parse(chi.URLParam(r, "vendor_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid vendor ID format")
		return
	}
	secret, err := rotate(r.Context(), vendorID)
	if err != nil {
		if errors.Is(err, store.ErrVendorNotFound) {
			writeError(w, http.StatusNotFound, "Vendor not found")
			return
		}
		log.Printf("level=error component=api endpoint=%s msg=\"rotation failed\" vendor_id=%s err=%v", endpoint, vendorID, err)
		writeError(w, http.StatusInternalServerError, "Failed to rotate credential")
		return
	}
	writeJSON(w, http.StatusOK, domain.RotateSecretResponse{VendorID: vendorID.String(), Secret: secret})
}

// noStore disables caching on claim responses.
func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErrorCode writes an error with a machine-readable code.
func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

// writeConflict writes a 409 with a machine-readable code and an optional
// extra payload (e.g. the existing claim's summary).
func writeConflict(w http.ResponseWriter, code, message string, extra map[string]interface{}) {
	body := map[string]interface{}{"error": message, "code": code}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusConflict, body)
}

// writeValidationError writes a 400 with the field-level issue list.
func writeValidationError(w http.ResponseWriter, err error, issues []FieldIssue) {
	body := map[string]interface{}{"error": err.Error()}
	if len(issues) > 0 {
		body["fields"] = issues
	}
	writeJSON(w, http.StatusBadRequest, body)
}
