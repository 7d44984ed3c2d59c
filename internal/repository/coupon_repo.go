package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benefitpass/coupon-engine/internal/models"
)

// CouponRepo is the Postgres ledger for coupons and redemption records.
// Coupons are append-mostly: the single in-place mutation is the conditional
// redeemed_at flip in MarkRedeemed.
type CouponRepo struct {
	db *sql.DB
}

func NewCouponRepo(db *sql.DB) *CouponRepo {
	return &CouponRepo{db: db}
}

const couponColumns = `id, benefit_id, user_id, token, pin, issued_at, expire_at,
	redeemed_at, device_id, user_agent, ip_address`

func scanCoupon(row interface{ Scan(...interface{}) error }) (*models.Coupon, error) {
	var (
		c          models.Coupon
		redeemedAt sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.BenefitID,
		&c.UserID,
		&c.Token,
		&c.Pin,
		&c.IssuedAt,
		&c.ExpireAt,
		&redeemedAt,
		&c.Metadata.DeviceID,
		&c.Metadata.UserAgent,
		&c.Metadata.IPAddress,
	)
	if err != nil {
		return nil, err
	}
	if redeemedAt.Valid {
		t := redeemedAt.Time
		c.RedeemedAt = &t
	}
	return &c, nil
}

func (r *CouponRepo) InsertCoupon(ctx context.Context, c *models.Coupon) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coupons
		(id, benefit_id, user_id, token, pin, issued_at, expire_at, device_id, user_agent, ip_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		c.ID, c.BenefitID, c.UserID, c.Token, c.Pin, c.IssuedAt, c.ExpireAt,
		c.Metadata.DeviceID, c.Metadata.UserAgent, c.Metadata.IPAddress,
	)
	if err != nil {
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// CouponByToken returns (nil, nil) when the token matches nothing.
func (r *CouponRepo) CouponByToken(ctx context.Context, token string) (*models.Coupon, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+couponColumns+` FROM coupons WHERE token = $1
	`, token)
	c, err := scanCoupon(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("coupon by token: %w", err)
	}
	return c, nil
}

// PendingByPinAndMerchant returns the pending coupons carrying this PIN
// across the merchant's benefits. PINs are not globally unique; the caller
// rejects anything but exactly one match.
func (r *CouponRepo) PendingByPinAndMerchant(ctx context.Context, pin, merchantID string, now time.Time) ([]*models.Coupon, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.benefit_id, c.user_id, c.token, c.pin, c.issued_at, c.expire_at,
		       c.redeemed_at, c.device_id, c.user_agent, c.ip_address
		FROM coupons c
		JOIN benefits b ON b.id = c.benefit_id
		WHERE c.pin = $1 AND b.merchant_id = $2
		  AND c.redeemed_at IS NULL AND c.expire_at > $3
	`, pin, merchantID, now)
	if err != nil {
		return nil, fmt.Errorf("pending by pin: %w", err)
	}
	defer rows.Close()

	var coupons []*models.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("pending by pin: %w", err)
		}
		coupons = append(coupons, c)
	}
	return coupons, rows.Err()
}

func (r *CouponRepo) UserCoupons(ctx context.Context, userID string) ([]*models.Coupon, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+couponColumns+` FROM coupons
		WHERE user_id = $1
		ORDER BY issued_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("user coupons: %w", err)
	}
	defer rows.Close()

	var coupons []*models.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("user coupons: %w", err)
		}
		coupons = append(coupons, c)
	}
	return coupons, rows.Err()
}

// CountPending implements quota.PendingCounter against the ledger.
func (r *CouponRepo) CountPending(ctx context.Context, benefitID, userID string, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM coupons
		WHERE benefit_id = $1 AND user_id = $2
		  AND redeemed_at IS NULL AND expire_at > $3
	`, benefitID, userID, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// MarkRedeemed flips redeemed_at and appends the redemption record in one
// transaction. The update is conditioned on redeemed_at IS NULL, so of two
// concurrent redeem attempts exactly one sees true; the loser gets false
// with no error.
func (r *CouponRepo) MarkRedeemed(ctx context.Context, couponID string, at time.Time, rec *models.RedemptionRecord) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin redeem tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE coupons SET redeemed_at = $2
		WHERE id = $1 AND redeemed_at IS NULL
	`, couponID, at)
	if err != nil {
		return false, fmt.Errorf("flip redeemed_at: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("flip redeemed_at: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO redemption_records
		(id, coupon_id, merchant_id, redeemed_by, lat, lng, device_id, ip_address, redeemed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		rec.ID, rec.CouponID, rec.MerchantID, rec.RedeemedBy,
		rec.Lat, rec.Lng, rec.DeviceID, rec.IPAddress, rec.RedeemedAt,
	)
	if err != nil {
		return false, fmt.Errorf("append redemption record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit redeem tx: %w", err)
	}
	committed = true
	return true, nil
}
