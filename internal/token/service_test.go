package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type secretSourceStub struct {
	secrets map[uuid.UUID]string
	err     error
}

func (s *secretSourceStub) PartnerSecret(ctx context.Context, vendorID uuid.UUID) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	secret, ok := s.secrets[vendorID]
	if !ok {
		return "", ErrVendorUnknown
	}
	if secret == "" {
		return "", ErrNoSecretConfigured
	}
	return secret, nil
}

func signPartnerToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestWidgetSessionRoundTrip(t *testing.T) {
	svc := NewService("system-secret", time.Hour, nil)
	userID := uuid.New()
	vendorID := uuid.New()

	signed, err := svc.IssueWidgetSession(userID, vendorID)
	if err != nil {
		t.Fatalf("IssueWidgetSession returned error: %v", err)
	}

	sess, err := svc.VerifyWidgetSession(signed)
	if err != nil {
		t.Fatalf("VerifyWidgetSession returned error: %v", err)
	}
	if sess.UserID != userID {
		t.Fatalf("expected user id %s, got %s", userID, sess.UserID)
	}
	if sess.VendorID != vendorID {
		t.Fatalf("expected vendor id %s, got %s", vendorID, sess.VendorID)
	}
}

func TestVerifyWidgetSessionRejectsWrongSecret(t *testing.T) {
	issuer := NewService("secret-a", time.Hour, nil)
	verifier := NewService("secret-b", time.Hour, nil)

	signed, err := issuer.IssueWidgetSession(uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("IssueWidgetSession returned error: %v", err)
	}

	if _, err := verifier.VerifyWidgetSession(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyWidgetSessionRejectsExpired(t *testing.T) {
	svc := NewService("system-secret", time.Hour, nil)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	signed, err := svc.IssueWidgetSession(uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("IssueWidgetSession returned error: %v", err)
	}

	verifier := NewService("system-secret", time.Hour, nil)
	if _, err := verifier.VerifyWidgetSession(signed); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyWidgetSessionRejectsAlternateAlgorithm(t *testing.T) {
	svc := NewService("system-secret", time.Hour, nil)

	// An unsigned token claiming alg "none" must never verify.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": uuid.New().String(),
		"vnd": uuid.New().String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build none-alg token: %v", err)
	}

	if _, err := svc.VerifyWidgetSession(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for alg none, got %v", err)
	}
}

func TestVerifyWidgetSessionRequiresExpiry(t *testing.T) {
	svc := NewService("system-secret", time.Hour, nil)

	// A correctly signed token with no exp claim must not verify forever.
	eternal := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.New().String(),
		"vnd": uuid.New().String(),
		"iat": time.Now().Unix(),
	})
	raw, err := eternal.SignedString([]byte("system-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	if _, err := svc.VerifyWidgetSession(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for missing exp, got %v", err)
	}
}

func TestVerifyWidgetSessionRejectsMalformed(t *testing.T) {
	svc := NewService("system-secret", time.Hour, nil)
	for _, raw := range []string{"", "not-a-token", "a.b", "a.b.c"} {
		if _, err := svc.VerifyWidgetSession(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", raw, err)
		}
	}
}

func TestVerifyPartnerToken(t *testing.T) {
	vendorA := uuid.New()
	vendorB := uuid.New()
	unconfigured := uuid.New()
	source := &secretSourceStub{secrets: map[uuid.UUID]string{
		vendorA:      "vendor-a-secret",
		vendorB:      "vendor-b-secret",
		unconfigured: "",
	}}
	svc := NewService("system-secret", time.Hour, source)

	baseClaims := func(vendorID uuid.UUID) jwt.MapClaims {
		return jwt.MapClaims{
			"vendor":           vendorID.String(),
			"external_user_id": "wp-user-42",
			"jti":              uuid.New().String(),
			"iat":              time.Now().Unix(),
			"exp":              time.Now().Add(10 * time.Minute).Unix(),
		}
	}

	t.Run("valid token verifies against its vendor secret", func(t *testing.T) {
		raw := signPartnerToken(t, "vendor-a-secret", baseClaims(vendorA))
		claims, err := svc.VerifyPartnerToken(context.Background(), raw)
		if err != nil {
			t.Fatalf("VerifyPartnerToken returned error: %v", err)
		}
		if claims.VendorID != vendorA {
			t.Fatalf("expected vendor %s, got %s", vendorA, claims.VendorID)
		}
		if claims.ExternalUserID != "wp-user-42" {
			t.Fatalf("expected external user id wp-user-42, got %q", claims.ExternalUserID)
		}
		if claims.JTI == "" {
			t.Fatal("expected non-empty jti")
		}
		ttl := claims.RemainingTTL(time.Now())
		if ttl <= 0 || ttl > 10*time.Minute {
			t.Fatalf("expected remaining ttl within (0, 10m], got %v", ttl)
		}
	})

	t.Run("vendor claim rewritten to another vendor fails", func(t *testing.T) {
		// Signed with A's secret but claiming to be B: verification against
		// B's secret must detect the signature mismatch.
		claims := baseClaims(vendorB)
		raw := signPartnerToken(t, "vendor-a-secret", claims)
		if _, err := svc.VerifyPartnerToken(context.Background(), raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("expired token fails with expired error", func(t *testing.T) {
		claims := baseClaims(vendorA)
		claims["exp"] = time.Now().Add(-time.Minute).Unix()
		raw := signPartnerToken(t, "vendor-a-secret", claims)
		if _, err := svc.VerifyPartnerToken(context.Background(), raw); !errors.Is(err, ErrExpiredToken) {
			t.Fatalf("expected ErrExpiredToken, got %v", err)
		}
	})

	t.Run("unknown vendor fails", func(t *testing.T) {
		claims := baseClaims(uuid.New())
		raw := signPartnerToken(t, "whatever", claims)
		if _, err := svc.VerifyPartnerToken(context.Background(), raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("vendor without configured secret fails", func(t *testing.T) {
		claims := baseClaims(unconfigured)
		raw := signPartnerToken(t, "anything", claims)
		if _, err := svc.VerifyPartnerToken(context.Background(), raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("missing required claims fail", func(t *testing.T) {
		for _, missing := range []string{"vendor", "external_user_id", "jti", "exp"} {
			claims := baseClaims(vendorA)
			delete(claims, missing)
			raw := signPartnerToken(t, "vendor-a-secret", claims)
			if _, err := svc.VerifyPartnerToken(context.Background(), raw); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken when %s missing, got %v", missing, err)
			}
		}
	})

	t.Run("secret source infrastructure error propagates", func(t *testing.T) {
		broken := NewService("system-secret", time.Hour, &secretSourceStub{err: errors.New("connection refused")})
		claims := baseClaims(vendorA)
		raw := signPartnerToken(t, "vendor-a-secret", claims)
		_, err := broken.VerifyPartnerToken(context.Background(), raw)
		if err == nil || errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrExpiredToken) {
			t.Fatalf("expected infrastructure error, got %v", err)
		}
	})
}
