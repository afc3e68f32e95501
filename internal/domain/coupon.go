/**
 * @description
 * This file defines the core domain models for the coupon claim service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Discount values are stored as `int64` in the smallest currency unit (cents)
 *   to avoid floating-point inaccuracies.
 * - The `claimed_by`/`claimed_at` columns on a coupon are denormalized copies of
 *   the most recent claim and exist for listings only; the claim-history table's
 *   unique indexes are the real gate.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Vendor owns coupons and holds the two rotatable credentials used by the
// token-exchange paths. Both secrets are optional; an exchange path whose
// secret is absent rejects every request for that vendor.
type Vendor struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	PartnerSecret *string    `json:"-"`
	APIKey        *string    `json:"-"`
	DeletedAt     *time.Time `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HasPartnerSecret reports whether the partner-token exchange path is
// configured for this vendor.
func (v *Vendor) HasPartnerSecret() bool {
	return v.PartnerSecret != nil && *v.PartnerSecret != ""
}

// HasAPIKey reports whether the API-key exchange path is configured for
// this vendor.
func (v *Vendor) HasAPIKey() bool {
	return v.APIKey != nil && *v.APIKey != ""
}

// User is an internal identity. It is created by admin action or lazily by
// the identity resolver the first time an external reference is seen.
type User struct {
	ID        uuid.UUID  `json:"id"`
	Email     *string    `json:"email,omitempty"`
	Role      string     `json:"role"` // 'admin', 'partner_admin', 'end_user', 'guest'
	DeletedAt *time.Time `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
}

// Coupon maps to the `coupons` table. A coupon belongs to exactly one vendor
// and its reward code is released only through a successful claim.
type Coupon struct {
	ID            uuid.UUID  `json:"id"`
	VendorID      uuid.UUID  `json:"vendor_id"`
	Code          string     `json:"code,omitempty"`
	Description   string     `json:"description"`
	DiscountValue int64      `json:"discount_value"` // in cents
	ExpiresAt     time.Time  `json:"expires_at"`
	ClaimedBy     *uuid.UUID `json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	DeletedAt     *time.Time `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Claim is one row of the claim-history relation. Two unique indexes guard it:
// (coupon_id, period_key) and (vendor_id, claimant_id, period_key).
type Claim struct {
	ID         uuid.UUID `json:"id"`
	CouponID   uuid.UUID `json:"coupon_id"`
	VendorID   uuid.UUID `json:"vendor_id"`
	ClaimantID uuid.UUID `json:"claimant_id"`
	PeriodKey  string    `json:"period_key"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

// ActiveClaim summarizes an unexpired claim held by an identity for a vendor.
// It is returned with the ACTIVE_CLAIM_EXISTS conflict so callers can show the
// coupon the identity already holds.
type ActiveClaim struct {
	CouponID      uuid.UUID `json:"coupon_id"`
	CouponCode    string    `json:"coupon_code"`
	Description   string    `json:"description"`
	DiscountValue int64     `json:"discount_value"`
	ClaimedAt     time.Time `json:"claimed_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}
