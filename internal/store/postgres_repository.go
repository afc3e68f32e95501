/**
 * @description
 * PostgreSQL implementation of the Repository interface using pgx. All
 * correctness-critical claim checks live here, inside the statements the
 * database itself serializes: the claim insert is guarded by unique indexes,
 * the identity upsert by a unique constraint with conflict handling, and the
 * any-coupon candidate pick by FOR UPDATE SKIP LOCKED. No method reads a flag and
 * writes it back in a second call.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/domain"
)

// PostgresRepository provides data access against a shared pgx pool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// classifyClaimConflict translates a unique-index violation on coupon_claims
// into the typed conflict for the constraint that fired. Any other error is
// returned unchanged.
func classifyClaimConflict(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case couponPeriodConstraint:
		return ErrCouponAlreadyClaimed
	case vendorClaimantPeriodConstraint:
		return ErrUserAlreadyClaimed
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// CreateVendor inserts a new vendor with no credentials configured.
func (r *PostgresRepository) CreateVendor(ctx context.Context, name string) (*domain.Vendor, error) {
	var vendor domain.Vendor
	query := `
		INSERT INTO vendors (name) VALUES ($1)
		RETURNING id, name, partner_secret, api_key, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, name).Scan(
		&vendor.ID, &vendor.Name, &vendor.PartnerSecret, &vendor.APIKey,
		&vendor.CreatedAt, &vendor.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create vendor: %w", err)
	}
	return &vendor, nil
}

// FindVendorByID fetches a vendor including its credential columns.
func (r *PostgresRepository) FindVendorByID(ctx context.Context, id uuid.UUID) (*domain.Vendor, error) {
	var vendor domain.Vendor
	query := `
		SELECT id, name, partner_secret, api_key, created_at, updated_at
		FROM vendors
		WHERE id = $1 AND deleted_at IS NULL
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&vendor.ID, &vendor.Name, &vendor.PartnerSecret, &vendor.APIKey,
		&vendor.CreatedAt, &vendor.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVendorNotFound
		}
		return nil, err
	}
	return &vendor, nil
}

// RotateVendorPartnerSecret overwrites the partner signing secret.
func (r *PostgresRepository) RotateVendorPartnerSecret(ctx context.Context, id uuid.UUID, secret string) error {
	return r.rotateCredential(ctx, id, "partner_secret", secret)
}

// RotateVendorAPIKey overwrites the vendor API key.
func (r *PostgresRepository) RotateVendorAPIKey(ctx context.Context, id uuid.UUID, key string) error {
	return r.rotateCredential(ctx, id, "api_key", key)
}

func (r *PostgresRepository) rotateCredential(ctx context.Context, id uuid.UUID, column, value string) error {
	query := fmt.Sprintf(`UPDATE vendors SET %s = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL`, column)
	result, err := r.db.Exec(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("failed to rotate vendor credential: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrVendorNotFound
	}
	return nil
}

// CreateCoupon inserts a coupon owned by a vendor.
func (r *PostgresRepository) CreateCoupon(ctx context.Context, coupon *domain.Coupon) (*domain.Coupon, error) {
	query := `
		INSERT INTO coupons (vendor_id, code, description, discount_value, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		coupon.VendorID, coupon.Code, coupon.Description, coupon.DiscountValue, coupon.ExpiresAt,
	).Scan(&coupon.ID, &coupon.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, ErrVendorNotFound
		}
		return nil, fmt.Errorf("failed to create coupon: %w", err)
	}
	return coupon, nil
}

// FindCouponByID fetches a coupon that has not been soft-deleted.
func (r *PostgresRepository) FindCouponByID(ctx context.Context, id uuid.UUID) (*domain.Coupon, error) {
	var coupon domain.Coupon
	query := `
		SELECT id, vendor_id, code, description, discount_value, expires_at,
		       claimed_by, claimed_at, created_at
		FROM coupons
		WHERE id = $1 AND deleted_at IS NULL
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&coupon.ID, &coupon.VendorID, &coupon.Code, &coupon.Description,
		&coupon.DiscountValue, &coupon.ExpiresAt, &coupon.ClaimedBy,
		&coupon.ClaimedAt, &coupon.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return &coupon, nil
}

// ListVendorCoupons returns the vendor's unexpired coupons together with the
// claim state for the given period.
func (r *PostgresRepository) ListVendorCoupons(ctx context.Context, vendorID uuid.UUID, periodKey string) ([]domain.Coupon, error) {
	query := `
		SELECT c.id, c.vendor_id, c.code, c.description, c.discount_value,
		       c.expires_at, cc.claimant_id, cc.claimed_at, c.created_at
		FROM coupons c
		LEFT JOIN coupon_claims cc ON cc.coupon_id = c.id AND cc.period_key = $2
		WHERE c.vendor_id = $1 AND c.deleted_at IS NULL AND c.expires_at > NOW()
		ORDER BY c.expires_at ASC
	`
	rows, err := r.db.Query(ctx, query, vendorID, periodKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var coupons []domain.Coupon
	for rows.Next() {
		var c domain.Coupon
		if err := rows.Scan(
			&c.ID, &c.VendorID, &c.Code, &c.Description, &c.DiscountValue,
			&c.ExpiresAt, &c.ClaimedBy, &c.ClaimedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		coupons = append(coupons, c)
	}
	return coupons, rows.Err()
}

// FindUserByID fetches a user that has not been soft-deleted.
func (r *PostgresRepository) FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, email, role, created_at FROM users WHERE id = $1 AND deleted_at IS NULL`
	err := r.db.QueryRow(ctx, query, id).Scan(&user.ID, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindOrCreateUserByEmail returns the user with the given email, creating one
// lazily on first sight. The upsert's DO UPDATE is a no-op write that lets
// RETURNING yield the surviving row under concurrent first-sight calls.
func (r *PostgresRepository) FindOrCreateUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	var deletedAt *time.Time
	query := `
		INSERT INTO users (email, role) VALUES ($1, 'end_user')
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, role, deleted_at, created_at
	`
	err := r.db.QueryRow(ctx, query, email).Scan(&user.ID, &user.Email, &user.Role, &deletedAt, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to find or create user by email: %w", err)
	}
	if deletedAt != nil {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

// FindUserByEmail is a read-only lookup for paths that must not create users.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, email, role, created_at FROM users WHERE email = $1 AND deleted_at IS NULL`
	err := r.db.QueryRow(ctx, query, email).Scan(&user.ID, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// LookupExternalIdentity reads the (vendor, externalRef) mapping without
// creating anything; unseen references return ErrUserNotFound.
func (r *PostgresRepository) LookupExternalIdentity(ctx context.Context, vendorID uuid.UUID, externalRef string) (uuid.UUID, error) {
	var userID uuid.UUID
	query := `SELECT user_id FROM external_identities WHERE vendor_id = $1 AND external_ref = $2`
	err := r.db.QueryRow(ctx, query, vendorID, externalRef).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrUserNotFound
		}
		return uuid.Nil, err
	}
	return userID, nil
}

// ResolveExternalIdentity maps (vendor, externalRef) to an internal user id.
// The fast path is a plain lookup. On first sight a transaction creates the
// user and the mapping together; when a concurrent caller wins the unique
// constraint on the mapping, the transaction is rolled back (discarding the
// provisional user) and the winner's user id is returned, so all callers
// converge on one identity.
func (r *PostgresRepository) ResolveExternalIdentity(ctx context.Context, vendorID uuid.UUID, externalRef, role string) (uuid.UUID, error) {
	var userID uuid.UUID
	lookup := `SELECT user_id FROM external_identities WHERE vendor_id = $1 AND external_ref = $2`
	err := r.db.QueryRow(ctx, lookup, vendorID, externalRef).Scan(&userID)
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `INSERT INTO users (role) VALUES ($1) RETURNING id`, role).Scan(&userID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create user: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO external_identities (vendor_id, external_ref, user_id) VALUES ($1, $2, $3)`,
		vendorID, externalRef, userID)
	if err != nil {
		if isUniqueViolation(err, externalIdentityConstraint) {
			// A concurrent first-sight call won; drop our provisional user
			// and adopt the surviving mapping.
			_ = tx.Rollback(ctx)
			err = r.db.QueryRow(ctx, lookup, vendorID, externalRef).Scan(&userID)
			if err != nil {
				return uuid.Nil, fmt.Errorf("failed to read winning identity mapping: %w", err)
			}
			return userID, nil
		}
		return uuid.Nil, fmt.Errorf("failed to create identity mapping: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit identity mapping: %w", err)
	}
	return userID, nil
}

// ClaimCoupon atomically records a claim for a specific coupon. The
// insert into coupon_claims is the gate; its unique indexes pick exactly one
// winner among concurrent claimants and the losers observe a typed conflict.
func (r *PostgresRepository) ClaimCoupon(ctx context.Context, couponID, vendorID, claimantID uuid.UUID, periodKey string) (*domain.Coupon, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	coupon, err := r.claimInTx(ctx, tx, couponID, vendorID, claimantID, periodKey)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return coupon, nil
}

// ClaimCouponExclusive records a claim for a specific coupon under the
// one-active-claim rule: the identity may not hold a second unexpired claim
// for the vendor, whatever the claim period.
func (r *PostgresRepository) ClaimCouponExclusive(ctx context.Context, couponID, vendorID, claimantID uuid.UUID, periodKey string) (*domain.Coupon, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.gateSingleActiveClaim(ctx, tx, vendorID, claimantID); err != nil {
		return nil, err
	}
	coupon, err := r.claimInTx(ctx, tx, couponID, vendorID, claimantID, periodKey)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return coupon, nil
}

// gateSingleActiveClaim enforces the one-active-claim rule inside tx. The
// transaction-scoped advisory lock serializes concurrent claims by the same
// (vendor, claimant), so the active-claim check that follows cannot race a
// competing insert — in one-shot deployments no unique index covers this
// rule, which makes the lock the layer that serializes these writers.
func (r *PostgresRepository) gateSingleActiveClaim(ctx context.Context, tx pgx.Tx, vendorID, claimantID uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		vendorID.String()+":"+claimantID.String())
	if err != nil {
		return fmt.Errorf("failed to serialize claimant for vendor: %w", err)
	}

	var held bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM coupon_claims cc
			JOIN coupons c ON c.id = cc.coupon_id
			WHERE cc.vendor_id = $1 AND cc.claimant_id = $2 AND c.expires_at > NOW()
		)
	`, vendorID, claimantID).Scan(&held)
	if err != nil {
		return err
	}
	if held {
		return ErrActiveClaimExists
	}
	return nil
}

// claimInTx validates the coupon and inserts the claim row inside tx.
func (r *PostgresRepository) claimInTx(ctx context.Context, tx pgx.Tx, couponID, vendorID, claimantID uuid.UUID, periodKey string) (*domain.Coupon, error) {
	var coupon domain.Coupon
	query := `
		SELECT id, vendor_id, code, description, discount_value, expires_at, created_at
		FROM coupons
		WHERE id = $1 AND deleted_at IS NULL
	`
	err := tx.QueryRow(ctx, query, couponID).Scan(
		&coupon.ID, &coupon.VendorID, &coupon.Code, &coupon.Description,
		&coupon.DiscountValue, &coupon.ExpiresAt, &coupon.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	if coupon.VendorID != vendorID {
		return nil, ErrCouponNotFound
	}
	if time.Now().After(coupon.ExpiresAt) {
		return nil, ErrCouponExpired
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`INSERT INTO coupon_claims (coupon_id, vendor_id, claimant_id, period_key, claimed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		coupon.ID, coupon.VendorID, claimantID, periodKey, now)
	if err != nil {
		return nil, classifyClaimConflict(err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE coupons SET claimed_by = $1, claimed_at = $2 WHERE id = $3`,
		claimantID, now, coupon.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record claimant on coupon: %w", err)
	}

	coupon.ClaimedBy = &claimantID
	coupon.ClaimedAt = &now
	return &coupon, nil
}

// ClaimAnyVendorCoupon picks an arbitrary unclaimed, unexpired coupon for the
// vendor and claims it. FOR UPDATE SKIP LOCKED steers concurrent
// pickers to different candidates; when the chosen coupon is nonetheless won
// by a competing request, selection retries against the remaining set. A
// claimant-level conflict aborts immediately — retrying cannot fix it.
func (r *PostgresRepository) ClaimAnyVendorCoupon(ctx context.Context, vendorID, claimantID uuid.UUID, periodKey string, maxAttempts int) (*domain.Coupon, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		coupon, err := r.claimAnyOnce(ctx, vendorID, claimantID, periodKey)
		if err == nil {
			return coupon, nil
		}
		if errors.Is(err, ErrCouponAlreadyClaimed) {
			continue
		}
		return nil, err
	}
	return nil, ErrNoAvailableCoupons
}

func (r *PostgresRepository) claimAnyOnce(ctx context.Context, vendorID, claimantID uuid.UUID, periodKey string) (*domain.Coupon, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.gateSingleActiveClaim(ctx, tx, vendorID, claimantID); err != nil {
		return nil, err
	}

	var couponID uuid.UUID
	pick := `
		SELECT c.id
		FROM coupons c
		WHERE c.vendor_id = $1
		  AND c.deleted_at IS NULL
		  AND c.expires_at > NOW()
		  AND NOT EXISTS (
		      SELECT 1 FROM coupon_claims cc
		      WHERE cc.coupon_id = c.id AND cc.period_key = $2
		  )
		ORDER BY c.expires_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	err = tx.QueryRow(ctx, pick, vendorID, periodKey).Scan(&couponID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoAvailableCoupons
		}
		return nil, err
	}

	coupon, err := r.claimInTx(ctx, tx, couponID, vendorID, claimantID, periodKey)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return coupon, nil
}

// FindActiveClaim returns the identity's most recent unexpired claim for the
// vendor, or nil when no active claim is held.
func (r *PostgresRepository) FindActiveClaim(ctx context.Context, vendorID, claimantID uuid.UUID, now time.Time) (*domain.ActiveClaim, error) {
	var claim domain.ActiveClaim
	query := `
		SELECT c.id, c.code, c.description, c.discount_value, cc.claimed_at, c.expires_at
		FROM coupon_claims cc
		JOIN coupons c ON c.id = cc.coupon_id
		WHERE cc.vendor_id = $1 AND cc.claimant_id = $2 AND c.expires_at > $3
		ORDER BY cc.claimed_at DESC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, vendorID, claimantID, now).Scan(
		&claim.CouponID, &claim.CouponCode, &claim.Description,
		&claim.DiscountValue, &claim.ClaimedAt, &claim.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &claim, nil
}
