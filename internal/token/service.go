/**
 * @description
 * This file implements the token service: stateless issuance and verification
 * of the two bearer-token kinds used by the claim platform.
 *
 * - Widget session tokens are signed with a single system-wide secret because
 *   only this system issues them.
 * - Partner tokens are signed by the partner's backend with a per-vendor
 *   secret, so verification is two-phase: decode without verifying to read the
 *   claimed vendor id, fetch that vendor's secret, then re-verify the full
 *   signature against it.
 *
 * The signing algorithm is pinned to HS256 at verification time; tokens using
 * "none" or any other algorithm are rejected.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT signing and parsing.
 * - github.com/google/uuid: For identity claims.
 */

package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken covers bad signatures, wrong algorithms, malformed
	// shapes, missing required claims, and unknown or unconfigured vendors.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for structurally valid tokens past expiry.
	ErrExpiredToken = errors.New("token expired")
	// ErrNoSecretConfigured is returned by a VendorSecretSource when the
	// vendor exists but has no partner secret set.
	ErrNoSecretConfigured = errors.New("vendor has no partner secret configured")
	// ErrVendorUnknown is returned by a VendorSecretSource when the vendor id
	// in the token does not exist.
	ErrVendorUnknown = errors.New("vendor not found")
)

const signingAlg = "HS256"

// WidgetSession is the verified content of a widget session token.
type WidgetSession struct {
	UserID   uuid.UUID
	VendorID uuid.UUID
}

// PartnerClaims is the verified content of a partner-signed token.
type PartnerClaims struct {
	VendorID       uuid.UUID
	ExternalUserID string
	JTI            string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// RemainingTTL is how long the token is still valid; the replay-guard entry
// for its jti uses exactly this lifetime so it never needs separate cleanup.
func (c PartnerClaims) RemainingTTL(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// VendorSecretSource fetches the partner signing secret for a vendor. The
// store implements this; lookups for unknown vendors return an error the
// service maps to ErrInvalidToken.
type VendorSecretSource interface {
	PartnerSecret(ctx context.Context, vendorID uuid.UUID) (string, error)
}

// Service issues widget session tokens and verifies both token kinds.
type Service struct {
	widgetSecret []byte
	sessionTTL   time.Duration
	secrets      VendorSecretSource
	now          func() time.Time
}

// NewService creates a token service. sessionTTL is the widget session
// lifetime (default 7 days when zero).
func NewService(widgetSecret string, sessionTTL time.Duration, secrets VendorSecretSource) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	return &Service{
		widgetSecret: []byte(widgetSecret),
		sessionTTL:   sessionTTL,
		secrets:      secrets,
		now:          time.Now,
	}
}

// IssueWidgetSession signs a {user_id, vendor_id, iat, exp} claim bundle with
// the system-wide secret. Nothing is stored server-side.
func (s *Service) IssueWidgetSession(userID, vendorID uuid.UUID) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"vnd": vendorID.String(),
		"iat": now.Unix(),
		"exp": now.Add(s.sessionTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.widgetSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign widget session: %w", err)
	}
	return signed, nil
}

// VerifyWidgetSession validates a widget session token and returns its
// identity claims. Validity is purely cryptographic plus expiry.
func (s *Service) VerifyWidgetSession(tokenString string) (WidgetSession, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.widgetSecret, nil
	}, jwt.WithValidMethods([]string{signingAlg}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return WidgetSession{}, ErrExpiredToken
		}
		return WidgetSession{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return WidgetSession{}, ErrInvalidToken
	}
	userID, err := claimUUID(claims, "sub")
	if err != nil {
		return WidgetSession{}, ErrInvalidToken
	}
	vendorID, err := claimUUID(claims, "vnd")
	if err != nil {
		return WidgetSession{}, ErrInvalidToken
	}
	return WidgetSession{UserID: userID, VendorID: vendorID}, nil
}

// VerifyPartnerToken verifies a partner-signed token in two phases. Phase one
// decodes without verifying to read the vendor claim; phase two re-parses the
// token against that vendor's stored secret with the algorithm pinned.
func (s *Service) VerifyPartnerToken(ctx context.Context, tokenString string) (PartnerClaims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{signingAlg}), jwt.WithTimeFunc(s.now))

	unverified, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return PartnerClaims{}, ErrInvalidToken
	}
	unverifiedClaims, ok := unverified.Claims.(jwt.MapClaims)
	if !ok {
		return PartnerClaims{}, ErrInvalidToken
	}
	vendorID, err := claimUUID(unverifiedClaims, "vendor")
	if err != nil {
		return PartnerClaims{}, ErrInvalidToken
	}

	secret, err := s.secrets.PartnerSecret(ctx, vendorID)
	if err != nil {
		if errors.Is(err, ErrNoSecretConfigured) {
			return PartnerClaims{}, ErrInvalidToken
		}
		// Unknown vendor is an invalid token; anything else is infrastructure.
		if errors.Is(err, ErrVendorUnknown) {
			return PartnerClaims{}, ErrInvalidToken
		}
		return PartnerClaims{}, fmt.Errorf("failed to load partner secret: %w", err)
	}

	parsed, err := parser.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return PartnerClaims{}, ErrExpiredToken
		}
		return PartnerClaims{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return PartnerClaims{}, ErrInvalidToken
	}

	externalRef, _ := claims["external_user_id"].(string)
	jti, _ := claims["jti"].(string)
	if externalRef == "" || jti == "" {
		return PartnerClaims{}, ErrInvalidToken
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return PartnerClaims{}, ErrInvalidToken
	}
	result := PartnerClaims{
		VendorID:       vendorID,
		ExternalUserID: externalRef,
		JTI:            jti,
		ExpiresAt:      exp.Time,
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		result.IssuedAt = iat.Time
	}
	return result, nil
}

func claimUUID(claims jwt.MapClaims, key string) (uuid.UUID, error) {
	raw, ok := claims[key].(string)
	if !ok || raw == "" {
		return uuid.Nil, fmt.Errorf("missing %s claim", key)
	}
	return uuid.Parse(raw)
}
