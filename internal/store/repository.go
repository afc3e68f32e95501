/**
 * @description
 * This file defines the data access layer contract for the coupon claim
 * service. The Repository interface abstracts all storage operations so the
 * business logic in the `app` package can be tested with stubs, and typed
 * sentinel errors give callers structured outcomes to match on — conflict
 * reasons are distinguished by which uniqueness constraint was violated,
 * never by reading the coupon first and writing second.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/domain"
)

var (
	ErrVendorNotFound = errors.New("vendor not found")
	ErrCouponNotFound = errors.New("coupon not found")
	ErrUserNotFound   = errors.New("user not found")

	// ErrCouponAlreadyClaimed: the coupon itself was taken, by anyone, for
	// the claim period.
	ErrCouponAlreadyClaimed = errors.New("coupon already claimed")
	// ErrUserAlreadyClaimed: this identity already holds a claim for the
	// vendor in the claim period.
	ErrUserAlreadyClaimed = errors.New("user already claimed for this vendor in the current period")
	// ErrCouponExpired: the coupon exists but its expiry date has passed.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrNoAvailableCoupons: no unclaimed, unexpired coupon remains for the
	// vendor in the claim period.
	ErrNoAvailableCoupons = errors.New("no available coupons")
	// ErrActiveClaimExists: the identity already holds an unexpired claim for
	// the vendor, independent of the claim period.
	ErrActiveClaimExists = errors.New("an active claim already exists for this vendor")
)

// Repository is the storage contract for the claim core. Implementations must
// enforce claim uniqueness at the layer that serializes concurrent writers
// (the database's own constraints), so callers never need a lock of their own.
type Repository interface {
	// Vendors and credentials.
	CreateVendor(ctx context.Context, name string) (*domain.Vendor, error)
	FindVendorByID(ctx context.Context, id uuid.UUID) (*domain.Vendor, error)
	// RotateVendorPartnerSecret overwrites the vendor's partner signing
	// secret outright; there is no dual-secret grace period.
	RotateVendorPartnerSecret(ctx context.Context, id uuid.UUID, secret string) error
	RotateVendorAPIKey(ctx context.Context, id uuid.UUID, key string) error

	// Coupons.
	CreateCoupon(ctx context.Context, coupon *domain.Coupon) (*domain.Coupon, error)
	FindCouponByID(ctx context.Context, id uuid.UUID) (*domain.Coupon, error)
	// ListVendorCoupons returns the vendor's unexpired coupons with their
	// claimed state for the given period.
	ListVendorCoupons(ctx context.Context, vendorID uuid.UUID, periodKey string) ([]domain.Coupon, error)

	// Identity.
	FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	// FindUserByEmail is a read-only lookup; unseen emails return
	// ErrUserNotFound and nothing is created.
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindOrCreateUserByEmail(ctx context.Context, email string) (*domain.User, error)
	// ResolveExternalIdentity maps (vendor, externalRef) to a stable internal
	// user id, creating the user and the mapping atomically on first sight.
	// Concurrent first-sight calls converge on the same id; exactly one user
	// row is created.
	ResolveExternalIdentity(ctx context.Context, vendorID uuid.UUID, externalRef, role string) (uuid.UUID, error)
	// LookupExternalIdentity is the read-only companion of
	// ResolveExternalIdentity for paths that must not mint identities; unseen
	// references return ErrUserNotFound.
	LookupExternalIdentity(ctx context.Context, vendorID uuid.UUID, externalRef string) (uuid.UUID, error)

	// Claims.
	// ClaimCoupon atomically records a claim for a specific coupon. The
	// insert into the claim-history table is the only gate: its unique
	// indexes decide the winner under concurrency. vendorID scopes the
	// claim to the session's vendor; a coupon belonging to another vendor
	// yields ErrCouponNotFound.
	ClaimCoupon(ctx context.Context, couponID, vendorID, claimantID uuid.UUID, periodKey string) (*domain.Coupon, error)
	// ClaimCouponExclusive is ClaimCoupon plus the one-active-claim rule:
	// concurrent claims by the same (vendor, claimant) are serialized inside
	// the transaction, and an identity already holding an unexpired claim
	// for the vendor gets ErrActiveClaimExists. Used by the public widget
	// path, where the rule applies regardless of the claim period.
	ClaimCouponExclusive(ctx context.Context, couponID, vendorID, claimantID uuid.UUID, periodKey string) (*domain.Coupon, error)
	// ClaimAnyVendorCoupon picks an arbitrary unclaimed, unexpired coupon
	// for the vendor and claims it, retrying selection up to maxAttempts
	// times when a competing request wins the chosen coupon. It enforces the
	// one-active-claim rule the same way as ClaimCouponExclusive.
	ClaimAnyVendorCoupon(ctx context.Context, vendorID, claimantID uuid.UUID, periodKey string, maxAttempts int) (*domain.Coupon, error)
	// FindActiveClaim returns the identity's unexpired claim for the vendor,
	// or nil when none is held.
	FindActiveClaim(ctx context.Context, vendorID, claimantID uuid.UUID, now time.Time) (*domain.ActiveClaim, error)
}
