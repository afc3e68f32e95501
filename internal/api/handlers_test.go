package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/app"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/domain"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/store"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/token"
)

type claimServiceStub struct {
	session    *domain.SessionResponse
	sessionErr error

	coupon   *domain.Coupon
	claimErr error

	listing    *domain.WidgetListingResponse
	listingErr error

	vendor    *domain.Vendor
	vendorErr error

	rotated   string
	rotateErr error
}

func (s *claimServiceStub) ExchangePartnerToken(ctx context.Context, partnerToken string) (*domain.SessionResponse, error) {
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	return s.session, nil
}

func (s *claimServiceStub) ExchangeAPIKey(ctx context.Context, req domain.APIKeyExchangeRequest) (*domain.SessionResponse, error) {
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	return s.session, nil
}

func (s *claimServiceStub) ClaimWithSession(ctx context.Context, sess token.WidgetSession, couponID uuid.UUID) (*domain.Coupon, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	return s.coupon, nil
}

func (s *claimServiceStub) WidgetClaim(ctx context.Context, req domain.WidgetClaimRequest) (*domain.Coupon, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	return s.coupon, nil
}

func (s *claimServiceStub) ListWidgetCoupons(ctx context.Context, vendorID uuid.UUID, rawUserID string) (*domain.WidgetListingResponse, error) {
	if s.listingErr != nil {
		return nil, s.listingErr
	}
	return s.listing, nil
}

func (s *claimServiceStub) CreateVendor(ctx context.Context, req domain.CreateVendorRequest) (*domain.Vendor, error) {
	if s.vendorErr != nil {
		return nil, s.vendorErr
	}
	return s.vendor, nil
}

func (s *claimServiceStub) CreateCoupon(ctx context.Context, vendorID uuid.UUID, req domain.CreateCouponRequest) (*domain.Coupon, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	return s.coupon, nil
}

func (s *claimServiceStub) RotatePartnerSecret(ctx context.Context, vendorID uuid.UUID) (string, error) {
	return s.rotated, s.rotateErr
}

func (s *claimServiceStub) RotateAPIKey(ctx context.Context, vendorID uuid.UUID) (string, error) {
	return s.rotated, s.rotateErr
}

type verifierStub struct {
	sess token.WidgetSession
	err  error
}

func (v *verifierStub) VerifyWidgetSession(tokenString string) (token.WidgetSession, error) {
	if v.err != nil {
		return token.WidgetSession{}, v.err
	}
	return v.sess, nil
}

type limiterStub struct {
	blocked    bool
	retryAfter int
	err        error
}

func (l *limiterStub) AllowClaim(ctx context.Context, clientIP string) (bool, int, error) {
	if l.err != nil {
		return false, 0, l.err
	}
	return !l.blocked, l.retryAfter, nil
}

func newTestRouter(service ClaimService, verifier SessionVerifier, limiter app.RateLimiter, internalKey string) http.Handler {
	return NewRouter(NewHandlers(service), RouterConfig{
		SessionVerifier:  verifier,
		InternalAPIKey:   internalKey,
		ClaimRateLimiter: limiter,
	})
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	return body
}

func TestPartnerExchangeEndpoint(t *testing.T) {
	session := &domain.SessionResponse{SessionToken: "st-1", UserID: uuid.New().String(), VendorID: uuid.New().String()}

	t.Run("success returns the session", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{session: session}, &verifierStub{}, nil, "")
		rr := postJSON(t, router, "/api/v1/session/partner", map[string]string{"token": "ey.partner.token"}, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if body := decodeBody(t, rr); body["session_token"] != "st-1" {
			t.Fatalf("expected session_token in response, got %v", body)
		}
	})

	t.Run("replayed token returns 409 with code", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{sessionErr: app.ErrReplayDetected}, &verifierStub{}, nil, "")
		rr := postJSON(t, router, "/api/v1/session/partner", map[string]string{"token": "ey.partner.token"}, nil)
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rr.Code)
		}
		if body := decodeBody(t, rr); body["code"] != "JTI_REPLAY" {
			t.Fatalf("expected JTI_REPLAY code, got %v", body)
		}
	})

	t.Run("invalid token returns 401", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{sessionErr: token.ErrInvalidToken}, &verifierStub{}, nil, "")
		rr := postJSON(t, router, "/api/v1/session/partner", map[string]string{"token": "garbage"}, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("missing token field returns field issues", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{session: session}, &verifierStub{}, nil, "")
		rr := postJSON(t, router, "/api/v1/session/partner", map[string]string{}, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		body := decodeBody(t, rr)
		fields, ok := body["fields"].([]interface{})
		if !ok || len(fields) != 1 {
			t.Fatalf("expected one field issue, got %v", body)
		}
		issue := fields[0].(map[string]interface{})
		if issue["field"] != "token" || issue["rule"] != "required" {
			t.Fatalf("unexpected field issue: %v", issue)
		}
	})
}

func TestBearerClaimEndpoint(t *testing.T) {
	userID := uuid.New()
	vendorID := uuid.New()
	couponID := uuid.New()
	sess := token.WidgetSession{UserID: userID, VendorID: vendorID}
	coupon := &domain.Coupon{ID: couponID, VendorID: vendorID, Code: "SAVE20"}
	auth := map[string]string{"Authorization": "Bearer session-token"}

	t.Run("missing bearer token returns 401", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{coupon: coupon}, &verifierStub{sess: sess}, nil, "")
		rr := postJSON(t, router, "/api/v1/claims", map[string]string{"coupon_id": couponID.String()}, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("invalid session token returns 401", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{coupon: coupon}, &verifierStub{err: token.ErrInvalidToken}, nil, "")
		rr := postJSON(t, router, "/api/v1/claims", map[string]string{"coupon_id": couponID.String()}, auth)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("winner receives the reward code uncached", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{coupon: coupon}, &verifierStub{sess: sess}, nil, "")
		rr := postJSON(t, router, "/api/v1/claims", map[string]string{"coupon_id": couponID.String()}, auth)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if got := rr.Header().Get("Cache-Control"); got != "no-store" {
			t.Fatalf("expected Cache-Control no-store, got %q", got)
		}
		body := decodeBody(t, rr)
		if body["success"] != true || body["coupon_code"] != "SAVE20" {
			t.Fatalf("unexpected claim response: %v", body)
		}
	})

	t.Run("losers receive typed conflicts", func(t *testing.T) {
		testCases := []struct {
			err  error
			code string
		}{
			{err: store.ErrCouponAlreadyClaimed, code: "COUPON_ALREADY_CLAIMED"},
			{err: store.ErrUserAlreadyClaimed, code: "USER_ALREADY_CLAIMED"},
		}
		for _, tc := range testCases {
			router := newTestRouter(&claimServiceStub{claimErr: tc.err}, &verifierStub{sess: sess}, nil, "")
			rr := postJSON(t, router, "/api/v1/claims", map[string]string{"coupon_id": couponID.String()}, auth)
			if rr.Code != http.StatusConflict {
				t.Fatalf("%s: expected 409, got %d", tc.code, rr.Code)
			}
			if body := decodeBody(t, rr); body["code"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body)
			}
		}
	})

	t.Run("expired coupon returns 400 with code", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{claimErr: store.ErrCouponExpired}, &verifierStub{sess: sess}, nil, "")
		rr := postJSON(t, router, "/api/v1/claims", map[string]string{"coupon_id": couponID.String()}, auth)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		if body := decodeBody(t, rr); body["code"] != "COUPON_EXPIRED" {
			t.Fatalf("expected COUPON_EXPIRED code, got %v", body)
		}
	})
}

func TestWidgetClaimEndpoint(t *testing.T) {
	vendorID := uuid.New()
	coupon := &domain.Coupon{ID: uuid.New(), VendorID: vendorID, Code: "SAVE20"}
	reqBody := map[string]string{"vendor_id": vendorID.String(), "user_id": "anon_session_9"}

	t.Run("active claim conflict includes the existing claim", func(t *testing.T) {
		existing := domain.ActiveClaim{CouponID: uuid.New(), CouponCode: "OLD10", ExpiresAt: time.Now().Add(time.Hour)}
		stub := &claimServiceStub{claimErr: &app.ActiveClaimError{Claim: existing}}
		router := newTestRouter(stub, &verifierStub{}, nil, "")

		rr := postJSON(t, router, "/api/v1/widget/claims", reqBody, nil)
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rr.Code)
		}
		body := decodeBody(t, rr)
		if body["code"] != "ACTIVE_CLAIM_EXISTS" {
			t.Fatalf("expected ACTIVE_CLAIM_EXISTS code, got %v", body)
		}
		held, ok := body["existing_claim"].(map[string]interface{})
		if !ok {
			t.Fatalf("expected existing_claim payload, got %v", body)
		}
		if held["coupon_id"] != existing.CouponID.String() {
			t.Fatalf("existing_claim points at the wrong coupon: %v", held)
		}
	})

	t.Run("gate conflict without details still carries the code", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{claimErr: store.ErrActiveClaimExists}, &verifierStub{}, nil, "")
		rr := postJSON(t, router, "/api/v1/widget/claims", reqBody, nil)
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rr.Code)
		}
		if body := decodeBody(t, rr); body["code"] != "ACTIVE_CLAIM_EXISTS" {
			t.Fatalf("expected ACTIVE_CLAIM_EXISTS code, got %v", body)
		}
	})

	t.Run("empty inventory returns 409 with code", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{claimErr: store.ErrNoAvailableCoupons}, &verifierStub{}, nil, "")
		rr := postJSON(t, router, "/api/v1/widget/claims", reqBody, nil)
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rr.Code)
		}
		if body := decodeBody(t, rr); body["code"] != "NO_AVAILABLE_COUPONS" {
			t.Fatalf("expected NO_AVAILABLE_COUPONS code, got %v", body)
		}
	})

	t.Run("over the rate limit returns 429 with retry hint", func(t *testing.T) {
		limiter := &limiterStub{blocked: true, retryAfter: 42}
		router := newTestRouter(&claimServiceStub{coupon: coupon}, &verifierStub{}, limiter, "")
		rr := postJSON(t, router, "/api/v1/widget/claims", reqBody, nil)
		if rr.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rr.Code)
		}
		if got := rr.Header().Get("Retry-After"); got != "42" {
			t.Fatalf("expected Retry-After 42, got %q", got)
		}
	})

	t.Run("limiter outage lets the claim through", func(t *testing.T) {
		limiter := &limiterStub{err: errors.New("redis down")}
		router := newTestRouter(&claimServiceStub{coupon: coupon}, &verifierStub{}, limiter, "")
		rr := postJSON(t, router, "/api/v1/widget/claims", reqBody, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 despite limiter outage, got %d", rr.Code)
		}
	})

	t.Run("cross-origin preflight is permitted", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{coupon: coupon}, &verifierStub{}, nil, "")
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/widget/claims", nil)
		req.Header.Set("Origin", "https://partner-shop.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 preflight, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("expected wildcard allow-origin, got %q", got)
		}
	})
}

func TestWidgetListingEndpoint(t *testing.T) {
	vendorID := uuid.New()
	listing := &domain.WidgetListingResponse{
		Vendor:  domain.VendorSummary{ID: vendorID.String(), Name: "Acme"},
		Coupons: []domain.CouponSummary{},
	}

	t.Run("invalid vendor id returns 400", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{listing: listing}, &verifierStub{}, nil, "")
		req := httptest.NewRequest(http.MethodGet, "/api/v1/widget/coupons?vendor_id=not-a-uuid", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("success returns the listing", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{listing: listing}, &verifierStub{}, nil, "")
		req := httptest.NewRequest(http.MethodGet, "/api/v1/widget/coupons?vendor_id="+vendorID.String(), nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		body := decodeBody(t, rr)
		vendor, ok := body["vendor"].(map[string]interface{})
		if !ok || vendor["name"] != "Acme" {
			t.Fatalf("unexpected listing body: %v", body)
		}
	})
}

func TestAdminGate(t *testing.T) {
	vendor := &domain.Vendor{ID: uuid.New(), Name: "Acme"}
	body := map[string]string{"name": "Acme"}

	t.Run("admin surface disabled without a configured key", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{vendor: vendor}, &verifierStub{}, nil, "")
		rr := postJSON(t, router, "/api/v1/admin/vendors", body, map[string]string{"X-Internal-Api-Key": "anything"})
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rr.Code)
		}
	})

	t.Run("wrong key returns 401", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{vendor: vendor}, &verifierStub{}, nil, "hunter2")
		rr := postJSON(t, router, "/api/v1/admin/vendors", body, map[string]string{"X-Internal-Api-Key": "wrong"})
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("correct key creates the vendor", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{vendor: vendor}, &verifierStub{}, nil, "hunter2")
		rr := postJSON(t, router, "/api/v1/admin/vendors", body, map[string]string{"X-Internal-Api-Key": "hunter2"})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("rotation returns the fresh secret", func(t *testing.T) {
		router := newTestRouter(&claimServiceStub{rotated: "s3cret"}, &verifierStub{}, nil, "hunter2")
		rr := postJSON(t, router, "/api/v1/admin/vendors/"+vendor.ID.String()+"/rotate-partner-secret", map[string]string{}, map[string]string{"X-Internal-Api-Key": "hunter2"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if got := decodeBody(t, rr); got["secret"] != "s3cret" {
			t.Fatalf("expected rotated secret in response, got %v", got)
		}
	})
}
