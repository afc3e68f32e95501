/**
 * @description
 * This file contains the core business logic for the coupon claim service.
 * The `Service` struct composes the token service, replay guard, identity
 * resolver, and claim storage for each external entry point: token exchange,
 * API-key exchange, bearer claims, public widget claims, and the widget
 * coupon listing.
 *
 * Key properties:
 * - Partner-token exchange consults the replay guard before identity
 *   resolution; a guard-store failure propagates instead of allowing replay.
 * - Anonymous guest markers are resolved on the public widget path only and
 *   rejected on every authenticated path.
 * - Claim uniqueness is enforced entirely by the repository's constraints;
 *   this layer holds no claim state and performs no check-then-act writes.
 * - Claim events are published after commit; publish failures are logged and
 *   never fail the claim.
 *
 * @dependencies
 * - github.com/google/uuid: For identity handling.
 * - internal/domain, internal/store, internal/token, internal/replay: Core components.
 * - pkg/rabbitmq: Claim event publishing.
 */

package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/domain"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/identity"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/replay"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/store"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/token"
	"github.com/ak45akash/Coupon-Dispenser-sub001/pkg/rabbitmq"
)

// Service provides the core business logic for session exchange and claims.
type Service struct {
	repo           store.Repository
	tokens         *token.Service
	replayGuard    replay.Guard
	events         rabbitmq.Publisher
	periodMode     string
	maxPickRetries int
	now            func() time.Time
}

// NewService creates the application service. periodMode selects the
// deployment's canonical claim model (PeriodModeMonthly or PeriodModeOnce).
func NewService(repo store.Repository, tokens *token.Service, guard replay.Guard, events rabbitmq.Publisher, periodMode string, maxPickRetries int) *Service {
	if periodMode != PeriodModeOnce {
		periodMode = PeriodModeMonthly
	}
	if maxPickRetries < 1 {
		maxPickRetries = 3
	}
	return &Service{
		repo:           repo,
		tokens:         tokens,
		replayGuard:    guard,
		events:         events,
		periodMode:     periodMode,
		maxPickRetries: maxPickRetries,
		now:            time.Now,
	}
}

// VendorSecretSource adapts the repository to the token service's secret
// lookup, translating store outcomes into the token package's sentinels.
type VendorSecretSource struct {
	Repo store.Repository
}

func (s VendorSecretSource) PartnerSecret(ctx context.Context, vendorID uuid.UUID) (string, error) {
	vendor, err := s.Repo.FindVendorByID(ctx, vendorID)
	if err != nil {
		if errors.Is(err, store.ErrVendorNotFound) {
			return "", token.ErrVendorUnknown
		}
		return "", err
	}
	if !vendor.HasPartnerSecret() {
		return "", token.ErrNoSecretConfigured
	}
	return *vendor.PartnerSecret, nil
}

// ExchangePartnerToken verifies a partner-signed token, consumes its jti,
// resolves the external identity, and issues a widget session token.
func (s *Service) ExchangePartnerToken(ctx context.Context, partnerToken string) (*domain.SessionResponse, error) {
	claims, err := s.tokens.VerifyPartnerToken(ctx, partnerToken)
	if err != nil {
		return nil, err
	}

	replayed, err := s.replayGuard.CheckAndMark(ctx, claims.JTI, claims.RemainingTTL(s.now()))
	if err != nil {
		return nil, fmt.Errorf("replay check failed: %w", err)
	}
	if replayed {
		return nil, ErrReplayDetected
	}

	if identity.IsAnonymous(claims.ExternalUserID) {
		return nil, ErrAnonymousIdentity
	}

	userID, err := s.repo.ResolveExternalIdentity(ctx, claims.VendorID, claims.ExternalUserID, "end_user")
	if err != nil {
		return nil, fmt.Errorf("identity resolution failed: %w", err)
	}

	return s.issueSession(userID, claims.VendorID)
}

// ExchangeAPIKey authenticates the simpler key-based exchange and issues a
// widget session token for the identified user.
func (s *Service) ExchangeAPIKey(ctx context.Context, req domain.APIKeyExchangeRequest) (*domain.SessionResponse, error) {
	vendorID, err := uuid.Parse(req.VendorID)
	if err != nil {
		return nil, store.ErrVendorNotFound
	}
	vendor, err := s.repo.FindVendorByID(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if !vendor.HasAPIKey() {
		return nil, ErrNoAPIKeyConfigured
	}
	if subtle.ConstantTimeCompare([]byte(*vendor.APIKey), []byte(req.APIKey)) != 1 {
		return nil, ErrAPIKeyMismatch
	}

	userID, err := s.resolveIdentity(ctx, vendorID, req.UserID, req.UserEmail, false)
	if err != nil {
		return nil, err
	}
	return s.issueSession(userID, vendorID)
}

func (s *Service) issueSession(userID, vendorID uuid.UUID) (*domain.SessionResponse, error) {
	sessionToken, err := s.tokens.IssueWidgetSession(userID, vendorID)
	if err != nil {
		return nil, err
	}
	return &domain.SessionResponse{
		SessionToken: sessionToken,
		UserID:       userID.String(),
		VendorID:     vendorID.String(),
	}, nil
}

// resolveIdentity turns a widget-supplied (user_id | user_email) pair into an
// internal user id. allowAnonymous permits guest markers, which resolve
// through the external-identity mapping like any other opaque reference.
func (s *Service) resolveIdentity(ctx context.Context, vendorID uuid.UUID, rawUserID, email string, allowAnonymous bool) (uuid.UUID, error) {
	if rawUserID == "" && email == "" {
		return uuid.Nil, ErrMissingIdentity
	}

	if rawUserID != "" {
		if identity.IsAnonymous(rawUserID) {
			if !allowAnonymous {
				return uuid.Nil, ErrAnonymousIdentity
			}
			return s.repo.ResolveExternalIdentity(ctx, vendorID, rawUserID, "guest")
		}
		switch identity.Classify(rawUserID) {
		case identity.RefUUID:
			id, _ := uuid.Parse(rawUserID)
			user, err := s.repo.FindUserByID(ctx, id)
			if err != nil {
				return uuid.Nil, err
			}
			return user.ID, nil
		case identity.RefEmail:
			user, err := s.repo.FindOrCreateUserByEmail(ctx, rawUserID)
			if err != nil {
				return uuid.Nil, err
			}
			return user.ID, nil
		default:
			return s.repo.ResolveExternalIdentity(ctx, vendorID, rawUserID, "end_user")
		}
	}

	user, err := s.repo.FindOrCreateUserByEmail(ctx, email)
	if err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

// resolveIdentityReadOnly maps a widget-supplied reference to an existing
// internal user without creating anything — the listing is a read and must
// not mint identity rows. An unseen email or opaque reference resolves to no
// identity (uuid.Nil); an explicit user id that does not exist is
// ErrUserNotFound.
func (s *Service) resolveIdentityReadOnly(ctx context.Context, vendorID uuid.UUID, rawUserID string) (uuid.UUID, error) {
	lookupMapping := func() (uuid.UUID, error) {
		id, err := s.repo.LookupExternalIdentity(ctx, vendorID, rawUserID)
		if errors.Is(err, store.ErrUserNotFound) {
			return uuid.Nil, nil
		}
		return id, err
	}

	if identity.IsAnonymous(rawUserID) {
		return lookupMapping()
	}
	switch identity.Classify(rawUserID) {
	case identity.RefUUID:
		id, _ := uuid.Parse(rawUserID)
		user, err := s.repo.FindUserByID(ctx, id)
		if err != nil {
			return uuid.Nil, err
		}
		return user.ID, nil
	case identity.RefEmail:
		user, err := s.repo.FindUserByEmail(ctx, rawUserID)
		if errors.Is(err, store.ErrUserNotFound) {
			return uuid.Nil, nil
		}
		if err != nil {
			return uuid.Nil, err
		}
		return user.ID, nil
	default:
		return lookupMapping()
	}
}

// ClaimWithSession claims a specific coupon under
// a verified widget session. The repository's unique indexes decide the one
// winner; losers receive a typed conflict.
func (s *Service) ClaimWithSession(ctx context.Context, sess token.WidgetSession, couponID uuid.UUID) (*domain.Coupon, error) {
	periodKey := periodKeyAt(s.periodMode, s.now())
	coupon, err := s.repo.ClaimCoupon(ctx, couponID, sess.VendorID, sess.UserID, periodKey)
	if err != nil {
		return nil, err
	}
	s.publishClaimEvent(ctx, coupon, sess.UserID, periodKey)
	return coupon, nil
}

// WidgetClaim is the public, key-less claim path. With a coupon id it claims
// that coupon; with only a vendor id it claims any available coupon. Both
// enforce the one-active-claim rule inside the claim transaction and reject
// with the held claim's details rather than silently issuing a second coupon.
func (s *Service) WidgetClaim(ctx context.Context, req domain.WidgetClaimRequest) (*domain.Coupon, error) {
	now := s.now()
	periodKey := periodKeyAt(s.periodMode, now)

	var vendorID uuid.UUID
	var couponID uuid.UUID
	switch {
	case req.CouponID != "":
		id, err := uuid.Parse(req.CouponID)
		if err != nil {
			return nil, store.ErrCouponNotFound
		}
		coupon, err := s.repo.FindCouponByID(ctx, id)
		if err != nil {
			return nil, err
		}
		couponID = coupon.ID
		vendorID = coupon.VendorID
	case req.VendorID != "":
		id, err := uuid.Parse(req.VendorID)
		if err != nil {
			return nil, store.ErrVendorNotFound
		}
		vendorID = id
	default:
		return nil, ErrMissingClaimTarget
	}

	claimantID, err := s.resolveIdentity(ctx, vendorID, req.UserID, req.UserEmail, true)
	if err != nil {
		return nil, err
	}

	var coupon *domain.Coupon
	if couponID != uuid.Nil {
		coupon, err = s.repo.ClaimCouponExclusive(ctx, couponID, vendorID, claimantID, periodKey)
	} else {
		coupon, err = s.repo.ClaimAnyVendorCoupon(ctx, vendorID, claimantID, periodKey, s.maxPickRetries)
	}
	if errors.Is(err, store.ErrActiveClaimExists) {
		// Attach the held claim's details so the widget can render it.
		active, findErr := s.repo.FindActiveClaim(ctx, vendorID, claimantID, now)
		if findErr == nil && active != nil {
			return nil, &ActiveClaimError{Claim: *active}
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	s.publishClaimEvent(ctx, coupon, claimantID, periodKey)
	return coupon, nil
}

// ListWidgetCoupons builds the public widget listing: the vendor's unexpired
// coupons plus the requesting user's active-claim status. Reward codes are
// exposed only on coupons the requesting user claimed. The user reference is
// resolved read-only; a plain GET never creates identity rows.
func (s *Service) ListWidgetCoupons(ctx context.Context, vendorID uuid.UUID, rawUserID string) (*domain.WidgetListingResponse, error) {
	now := s.now()
	vendor, err := s.repo.FindVendorByID(ctx, vendorID)
	if err != nil {
		return nil, err
	}

	var claimantID uuid.UUID
	if rawUserID != "" {
		claimantID, err = s.resolveIdentityReadOnly(ctx, vendorID, rawUserID)
		if err != nil {
			return nil, err
		}
	}

	coupons, err := s.repo.ListVendorCoupons(ctx, vendorID, periodKeyAt(s.periodMode, now))
	if err != nil {
		return nil, err
	}

	listing := &domain.WidgetListingResponse{
		Vendor:  domain.VendorSummary{ID: vendor.ID.String(), Name: vendor.Name},
		Coupons: make([]domain.CouponSummary, 0, len(coupons)),
	}
	for _, c := range coupons {
		summary := domain.CouponSummary{
			ID:            c.ID.String(),
			Description:   c.Description,
			DiscountValue: c.DiscountValue,
			ExpiresAt:     c.ExpiresAt,
			Claimed:       c.ClaimedBy != nil,
			ClaimedAt:     c.ClaimedAt,
		}
		if c.ClaimedBy != nil && claimantID != uuid.Nil && *c.ClaimedBy == claimantID {
			summary.Code = c.Code
		}
		listing.Coupons = append(listing.Coupons, summary)
	}

	if claimantID != uuid.Nil {
		active, err := s.repo.FindActiveClaim(ctx, vendorID, claimantID, now)
		if err != nil {
			return nil, err
		}
		if active != nil {
			listing.HasActiveClaim = true
			expiry := active.ExpiresAt
			listing.ActiveClaimExpiry = &expiry
		}
	}
	return listing, nil
}

// CreateVendor registers a new vendor with no credentials configured.
func (s *Service) CreateVendor(ctx context.Context, req domain.CreateVendorRequest) (*domain.Vendor, error) {
	return s.repo.CreateVendor(ctx, req.Name)
}

// CreateCoupon adds a coupon to a vendor's inventory.
func (s *Service) CreateCoupon(ctx context.Context, vendorID uuid.UUID, req domain.CreateCouponRequest) (*domain.Coupon, error) {
	if _, err := s.repo.FindVendorByID(ctx, vendorID); err != nil {
		return nil, err
	}
	coupon := &domain.Coupon{
		VendorID:      vendorID,
		Code:          req.Code,
		Description:   req.Description,
		DiscountValue: req.DiscountValue,
		ExpiresAt:     req.ExpiresAt,
	}
	return s.repo.CreateCoupon(ctx, coupon)
}

// RotatePartnerSecret generates and stores a fresh partner signing secret,
// overwriting the prior value outright.
func (s *Service) RotatePartnerSecret(ctx context.Context, vendorID uuid.UUID) (string, error) {
	secret, err := generateSecret()
	if err != nil {
		return "", err
	}
	if err := s.repo.RotateVendorPartnerSecret(ctx, vendorID, secret); err != nil {
		return "", err
	}
	return secret, nil
}

// RotateAPIKey generates and stores a fresh vendor API key.
func (s *Service) RotateAPIKey(ctx context.Context, vendorID uuid.UUID) (string, error) {
	key, err := generateSecret()
	if err != nil {
		return "", err
	}
	if err := s.repo.RotateVendorAPIKey(ctx, vendorID, key); err != nil {
		return "", err
	}
	return key, nil
}

// publishClaimEvent emits the post-commit claim event. Failures are logged
// and never propagate into the claim response.
func (s *Service) publishClaimEvent(ctx context.Context, coupon *domain.Coupon, claimantID uuid.UUID, periodKey string) {
	if s.events == nil {
		return
	}
	event := rabbitmq.ClaimEvent{
		EventType:  "coupon.claimed",
		CouponID:   coupon.ID,
		VendorID:   coupon.VendorID,
		ClaimantID: claimantID,
		PeriodKey:  periodKey,
		ClaimedAt:  s.now().UTC(),
	}
	if err := s.events.PublishClaimEvent(ctx, event); err != nil {
		log.Printf("level=warn component=app msg=\"claim event publish failed\" coupon_id=%s vendor_id=%s err=%v",
			coupon.ID, coupon.VendorID, err)
	}
}

// generateSecret returns a 64-character hex credential.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
