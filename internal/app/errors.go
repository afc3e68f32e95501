/**
 * @description
 * Typed outcomes raised by the application service. These form a closed set:
 * the API surface matches them structurally (errors.Is / errors.As) and maps
 * them to transport status codes. No component below the API layer encodes
 * HTTP semantics, and no error is ever matched by substring.
 */

package app

import (
	"errors"
	"fmt"

	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/domain"
)

var (
	// ErrReplayDetected: the partner token's jti was already consumed.
	ErrReplayDetected = errors.New("partner token already exchanged")
	// ErrNoAPIKeyConfigured: the vendor exists but has no API key set, so
	// the key-based exchange path is disabled for it.
	ErrNoAPIKeyConfigured = errors.New("vendor has no api key configured")
	// ErrAPIKeyMismatch: the presented key does not match the vendor's.
	ErrAPIKeyMismatch = errors.New("api key mismatch")
	// ErrAnonymousIdentity: a guest marker reached a path that requires an
	// authenticated identity.
	ErrAnonymousIdentity = errors.New("anonymous identity not permitted")
	// ErrMissingIdentity: neither a user id nor an email was supplied.
	ErrMissingIdentity = errors.New("missing user identity")
	// ErrMissingClaimTarget: neither a coupon id nor a vendor id was supplied.
	ErrMissingClaimTarget = errors.New("missing coupon or vendor id")
)

// ActiveClaimError is returned when an identity already holds an unexpired
// claim for the vendor. It carries the existing claim so the caller can be
// shown the coupon it already has instead of silently receiving a second one.
type ActiveClaimError struct {
	Claim domain.ActiveClaim
}

func (e *ActiveClaimError) Error() string {
	return fmt.Sprintf("active claim exists for coupon %s until %s", e.Claim.CouponID, e.Claim.ExpiresAt.Format("2006-01-02"))
}
