/**
 * @description
 * Idempotent schema bootstrap for the claim core. Executed once at startup;
 * every statement is safe to re-run. The two unique indexes on coupon_claims
 * are the heart of the exactly-once guarantee:
 *
 * - uq_coupon_claims_coupon_period: a coupon is claimed at most once per
 *   period. With the one-shot deployment's constant period key this makes
 *   the claimed state a terminal, one-way transition.
 * - uq_coupon_claims_vendor_claimant_period: an identity claims at most once
 *   per vendor per period. The index is partial — it does not apply to the
 *   one-shot deployment's constant key, where the coupon gate is the sole
 *   uniqueness rule and repeat claiming is governed by the active-claim
 *   check instead.
 */

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Constraint names used to classify unique violations into typed conflicts.
const (
	couponPeriodConstraint         = "uq_coupon_claims_coupon_period"
	vendorClaimantPeriodConstraint = "uq_coupon_claims_vendor_claimant_period"
	externalIdentityConstraint     = "uq_external_identities_vendor_ref"
)

// OneShotPeriodKey is the constant period key written by deployments using
// the one-shot claim model ("claimed once, ever").
const OneShotPeriodKey = "all"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    email TEXT UNIQUE,
    role TEXT NOT NULL DEFAULT 'end_user',
    deleted_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS vendors (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name TEXT NOT NULL,
    partner_secret TEXT,
    api_key TEXT,
    deleted_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS external_identities (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    vendor_id UUID NOT NULL REFERENCES vendors(id),
    external_ref TEXT NOT NULL,
    user_id UUID NOT NULL REFERENCES users(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT uq_external_identities_vendor_ref UNIQUE (vendor_id, external_ref)
);

CREATE TABLE IF NOT EXISTS coupons (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    vendor_id UUID NOT NULL REFERENCES vendors(id),
    code TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    discount_value BIGINT NOT NULL DEFAULT 0,
    expires_at TIMESTAMPTZ NOT NULL,
    claimed_by UUID REFERENCES users(id),
    claimed_at TIMESTAMPTZ,
    deleted_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS coupon_claims (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    coupon_id UUID NOT NULL REFERENCES coupons(id),
    vendor_id UUID NOT NULL REFERENCES vendors(id),
    claimant_id UUID NOT NULL REFERENCES users(id),
    period_key TEXT NOT NULL,
    claimed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_coupon_claims_coupon_period
    ON coupon_claims (coupon_id, period_key);

CREATE UNIQUE INDEX IF NOT EXISTS uq_coupon_claims_vendor_claimant_period
    ON coupon_claims (vendor_id, claimant_id, period_key)
    WHERE period_key <> 'all';

CREATE INDEX IF NOT EXISTS idx_coupons_vendor_expiry
    ON coupons (vendor_id, expires_at);

CREATE INDEX IF NOT EXISTS idx_coupon_claims_vendor_claimant
    ON coupon_claims (vendor_id, claimant_id);
`

// EnsureSchema creates the claim-core tables and indexes if they are absent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
