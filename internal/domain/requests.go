/**
 * @description
 * Request and response DTOs for the session-exchange, claim, and widget API
 * endpoints. Validation tags are consumed by the go-playground validator at
 * the API surface; nothing below the API layer sees an unvalidated request.
 */

package domain

import "time"

// PartnerExchangeRequest carries a partner-signed token to be exchanged for a
// widget session token.
type PartnerExchangeRequest struct {
	Token string `json:"token" validate:"required"`
}

// APIKeyExchangeRequest is the simpler key-based exchange. Exactly one of
// UserID or UserEmail identifies the end user.
type APIKeyExchangeRequest struct {
	APIKey    string `json:"api_key" validate:"required"`
	VendorID  string `json:"vendor_id" validate:"required,uuid4"`
	UserID    string `json:"user_id" validate:"omitempty"`
	UserEmail string `json:"user_email" validate:"omitempty,email"`
}

// SessionResponse is returned by both exchange endpoints.
type SessionResponse struct {
	SessionToken string `json:"session_token"`
	UserID       string `json:"user_id"`
	VendorID     string `json:"vendor_id"`
}

// BearerClaimRequest claims a specific coupon under a widget session.
type BearerClaimRequest struct {
	CouponID string `json:"coupon_id" validate:"required,uuid4"`
}

// BearerClaimResponse releases the reward code to the one genuine winner.
type BearerClaimResponse struct {
	Success    bool   `json:"success"`
	CouponCode string `json:"coupon_code"`
}

// WidgetClaimRequest is the public, key-less claim path. Either CouponID
// (claim that coupon) or VendorID (claim any available coupon) must be set,
// and either UserID or UserEmail identifies the claimant. Anonymous guest
// markers are accepted in UserID on this path only.
type WidgetClaimRequest struct {
	CouponID  string `json:"coupon_id" validate:"omitempty,uuid4"`
	VendorID  string `json:"vendor_id" validate:"omitempty,uuid4"`
	UserID    string `json:"user_id" validate:"omitempty"`
	UserEmail string `json:"user_email" validate:"omitempty,email"`
}

// CouponSummary is the public listing shape. The reward code is present only
// on coupons the requesting user has claimed.
type CouponSummary struct {
	ID            string     `json:"id"`
	Code          string     `json:"code,omitempty"`
	Description   string     `json:"description"`
	DiscountValue int64      `json:"discount_value"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Claimed       bool       `json:"claimed"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
}

// VendorSummary is the public vendor shape embedded in widget listings.
type VendorSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WidgetListingResponse is returned by the public widget coupon listing.
type WidgetListingResponse struct {
	Vendor            VendorSummary   `json:"vendor"`
	Coupons           []CouponSummary `json:"coupons"`
	HasActiveClaim    bool            `json:"has_active_claim"`
	ActiveClaimExpiry *time.Time      `json:"active_claim_expiry,omitempty"`
}

// CreateVendorRequest is the admin vendor-creation payload.
type CreateVendorRequest struct {
	Name string `json:"name" validate:"required,min=2,max=120"`
}

// CreateCouponRequest is the admin coupon-creation payload.
type CreateCouponRequest struct {
	Code          string    `json:"code" validate:"required,min=1,max=120"`
	Description   string    `json:"description" validate:"max=500"`
	DiscountValue int64     `json:"discount_value" validate:"gte=0"`
	ExpiresAt     time.Time `json:"expires_at" validate:"required"`
}

// RotateSecretResponse returns a freshly generated vendor credential. The
// prior value is overwritten outright; there is no dual-secret grace period.
type RotateSecretResponse struct {
	VendorID string `json:"vendor_id"`
	Secret   string `json:"secret"`
}
