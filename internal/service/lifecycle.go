// Package service orchestrates the coupon lifecycle: issuance through the
// quota guard and redemption through the validation pipeline, with the
// ledger as the single durable source of truth.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/benefitpass/coupon-engine/internal/geo"
	"github.com/benefitpass/coupon-engine/internal/models"
	"github.com/benefitpass/coupon-engine/internal/quota"
	"github.com/benefitpass/coupon-engine/internal/validation"
)

// CouponTTL is the fixed validity window of an issued coupon. The source
// system hard-codes ten minutes; if this ever becomes a per-benefit field it
// is read in exactly one place (buildCoupon).
const CouponTTL = 10 * time.Minute

// Ledger is the durable store for coupons and redemption records.
type Ledger interface {
	InsertCoupon(ctx context.Context, c *models.Coupon) error
	CouponByToken(ctx context.Context, token string) (*models.Coupon, error)
	PendingByPinAndMerchant(ctx context.Context, pin, merchantID string, now time.Time) ([]*models.Coupon, error)
	UserCoupons(ctx context.Context, userID string) ([]*models.Coupon, error)
	// MarkRedeemed must condition the flip on redeemed_at being unset and
	// append the record in the same commit; returns false when another
	// redeem won the race.
	MarkRedeemed(ctx context.Context, couponID string, at time.Time, rec *models.RedemptionRecord) (bool, error)
}

// Catalog is the read-only benefit rule lookup.
type Catalog interface {
	Benefit(ctx context.Context, id string) (*models.Benefit, error)
}

// Directory resolves a merchant's location.
type Directory interface {
	Merchant(ctx context.Context, id string) (*models.Merchant, error)
}

// TokenIssuer produces redemption credentials.
type TokenIssuer interface {
	NewToken() (string, error)
	NewPin() (string, error)
}

// IssueError is a client-fault issuance rejection. Infrastructure failures
// are plain errors and never carry a code.
type IssueError struct {
	Code   validation.Code
	Reason string
	// Quota is set for quota rejections so callers can distinguish the
	// single-active-coupon case from a real multi-coupon ceiling.
	Quota *quota.ExceededError
}

func (e *IssueError) Error() string {
	return fmt.Sprintf("issue rejected: %s: %s", e.Code, e.Reason)
}

type IssueRequest struct {
	UserID    string
	BenefitID string
	Student   bool
	Metadata  models.IssueMetadata
}

type RedeemRequest struct {
	// Token is the primary redemption key. When empty, Pin is used instead
	// and is scoped to the merchant's pending coupons.
	Token      string
	Pin        string
	MerchantID string
	Location   *geo.Point
	StaffID    string
	DeviceID   string
	IPAddress  string
}

// RedeemResult is the pipeline outcome plus, on success, the appended
// redemption record.
type RedeemResult struct {
	validation.Result
	Record *models.RedemptionRecord `json:"record,omitempty"`
}

type CouponLifecycle struct {
	ledger    Ledger
	catalog   Catalog
	directory Directory
	guard     quota.Guard
	tokens    TokenIssuer
	log       *logrus.Logger
	now       func() time.Time
}

func NewCouponLifecycle(ledger Ledger, catalog Catalog, directory Directory, guard quota.Guard, tokens TokenIssuer, log *logrus.Logger) *CouponLifecycle {
	if log == nil {
		log = logrus.New()
	}
	return &CouponLifecycle{
		ledger:    ledger,
		catalog:   catalog,
		directory: directory,
		guard:     guard,
		tokens:    tokens,
		log:       log,
		now:       time.Now,
	}
}

// Issue creates a coupon for the user against the benefit. Everything up to
// the reservation is side-effect free; any failure after a successful
// reserve releases it, so quota is never burned by a failed issuance.
func (s *CouponLifecycle) Issue(ctx context.Context, req IssueRequest) (*models.Coupon, error) {
	now := s.now().UTC()

	benefit, err := s.catalog.Benefit(ctx, req.BenefitID)
	if err != nil {
		return nil, fmt.Errorf("load benefit: %w", err)
	}
	if benefit == nil {
		return nil, &IssueError{Code: validation.CodeBenefitNotFound, Reason: "benefit not found"}
	}
	if benefit.Status != models.BenefitActive {
		return nil, &IssueError{Code: validation.CodeBenefitInactive, Reason: "benefit is not active"}
	}
	if now.Before(benefit.ValidFrom) || now.After(benefit.ValidTo) {
		return nil, &IssueError{Code: validation.CodeOutOfValidityWindow, Reason: "benefit is outside its validity window"}
	}
	if benefit.StudentOnly && !req.Student {
		return nil, &IssueError{Code: validation.CodeStudentOnly, Reason: "benefit is limited to student accounts"}
	}

	res, err := s.guard.Reserve(ctx, benefit.ID, req.UserID, benefit.Quota, now)
	if err != nil {
		var ex *quota.ExceededError
		if errors.As(err, &ex) {
			return nil, &IssueError{
				Code:   quotaCode(ex.Scope),
				Reason: ex.Error(),
				Quota:  ex,
			}
		}
		return nil, fmt.Errorf("reserve quota: %w", err)
	}

	coupon, err := s.buildCoupon(benefit.ID, req, now)
	if err != nil {
		s.releaseQuietly(ctx, res)
		return nil, err
	}

	if err := s.ledger.InsertCoupon(ctx, coupon); err != nil {
		s.releaseQuietly(ctx, res)
		return nil, fmt.Errorf("write coupon: %w", err)
	}

	if err := s.guard.Commit(ctx, res); err != nil {
		// The coupon exists and is valid; the dangling hold self-expires.
		s.log.WithError(err).WithField("coupon_id", coupon.ID).
			Warn("quota commit failed after coupon write")
	}

	s.log.WithFields(logrus.Fields{
		"coupon_id":  coupon.ID,
		"benefit_id": benefit.ID,
		"user_id":    req.UserID,
		"expire_at":  coupon.ExpireAt,
	}).Info("coupon issued")

	return coupon, nil
}

func (s *CouponLifecycle) buildCoupon(benefitID string, req IssueRequest, now time.Time) (*models.Coupon, error) {
	tok, err := s.tokens.NewToken()
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	pin, err := s.tokens.NewPin()
	if err != nil {
		return nil, fmt.Errorf("issue pin: %w", err)
	}
	return &models.Coupon{
		ID:        uuid.NewString(),
		BenefitID: benefitID,
		UserID:    req.UserID,
		Token:     tok,
		Pin:       pin,
		IssuedAt:  now,
		ExpireAt:  now.Add(CouponTTL),
		Metadata:  req.Metadata,
	}, nil
}

func (s *CouponLifecycle) releaseQuietly(ctx context.Context, res *quota.Reservation) {
	if err := s.guard.Release(ctx, res); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"benefit_id": res.BenefitID,
			"user_id":    res.UserID,
		}).Error("quota release failed; reservation will expire on its own")
	}
}

func quotaCode(scope quota.Scope) validation.Code {
	switch scope {
	case quota.ScopeTotal:
		return validation.CodeQuotaExceededTotal
	case quota.ScopeDaily:
		return validation.CodeQuotaExceededDaily
	default:
		return validation.CodeQuotaExceededUser
	}
}

// Redeem validates and consumes a coupon in-store. Validation runs first as
// a pure check; the actual state change is the conditional MarkRedeemed
// commit, so two concurrent attempts on the same coupon are linearized by
// the ledger and exactly one wins.
func (s *CouponLifecycle) Redeem(ctx context.Context, req RedeemRequest) (*RedeemResult, error) {
	now := s.now().UTC()

	coupon, result, err := s.resolveCoupon(ctx, req, now)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return &RedeemResult{Result: *result}, nil
	}

	vres, err := s.validate(ctx, coupon, req, now)
	if err != nil {
		return nil, err
	}
	if !vres.Valid {
		fields := logrus.Fields{
			"merchant_id": req.MerchantID,
			"code":        vres.Code,
		}
		// coupon is nil when the token lookup found nothing.
		if coupon != nil {
			fields["coupon_id"] = coupon.ID
		}
		s.log.WithFields(fields).Info("redemption rejected")
		return &RedeemResult{Result: vres}, nil
	}

	record := &models.RedemptionRecord{
		ID:         uuid.NewString(),
		CouponID:   coupon.ID,
		MerchantID: req.MerchantID,
		RedeemedBy: req.StaffID,
		DeviceID:   req.DeviceID,
		IPAddress:  req.IPAddress,
		RedeemedAt: now,
	}
	if req.Location != nil {
		lat, lng := req.Location.Lat, req.Location.Lng
		record.Lat, record.Lng = &lat, &lng
	}

	won, err := s.ledger.MarkRedeemed(ctx, coupon.ID, now, record)
	if err != nil {
		return nil, fmt.Errorf("redeem commit: %w", err)
	}
	if !won {
		return &RedeemResult{Result: validation.Result{
			Valid:  false,
			Code:   validation.CodeAlreadyRedeemed,
			Reason: "coupon already redeemed",
		}}, nil
	}

	s.log.WithFields(logrus.Fields{
		"coupon_id":   coupon.ID,
		"merchant_id": req.MerchantID,
		"record_id":   record.ID,
	}).Info("coupon redeemed")

	vres.Coupon.RedeemedAt = &now
	return &RedeemResult{Result: vres, Record: record}, nil
}

// Validate is the read-only form of Redeem: the same pipeline with no
// state change.
func (s *CouponLifecycle) Validate(ctx context.Context, req RedeemRequest) (*validation.Result, error) {
	now := s.now().UTC()

	coupon, result, err := s.resolveCoupon(ctx, req, now)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	vres, err := s.validate(ctx, coupon, req, now)
	if err != nil {
		return nil, err
	}
	return &vres, nil
}

// resolveCoupon looks the coupon up by token or, failing that, by the
// merchant-scoped PIN. A non-nil Result means the lookup itself already
// produced the final answer.
func (s *CouponLifecycle) resolveCoupon(ctx context.Context, req RedeemRequest, now time.Time) (*models.Coupon, *validation.Result, error) {
	if req.Token != "" {
		coupon, err := s.ledger.CouponByToken(ctx, req.Token)
		if err != nil {
			return nil, nil, fmt.Errorf("lookup coupon: %w", err)
		}
		// A nil coupon flows into the pipeline, which reports NotFound.
		return coupon, nil, nil
	}

	if req.Pin == "" {
		return nil, &validation.Result{
			Valid:  false,
			Code:   validation.CodeNotFound,
			Reason: "token or pin required",
		}, nil
	}

	matches, err := s.ledger.PendingByPinAndMerchant(ctx, req.Pin, req.MerchantID, now)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup coupon by pin: %w", err)
	}
	if len(matches) != 1 {
		// Zero and many are the same answer on purpose: the engine never
		// guesses between colliding PINs. Logged because more than one
		// match means PIN scoping is too loose for this merchant.
		s.log.WithFields(logrus.Fields{
			"merchant_id": req.MerchantID,
			"matches":     len(matches),
		}).Warn("pin lookup did not resolve to exactly one coupon")
		return nil, &validation.Result{
			Valid:  false,
			Code:   validation.CodePinAmbiguousOrNotFound,
			Reason: "pin did not match exactly one pending coupon at this merchant",
		}, nil
	}
	return matches[0], nil, nil
}

func (s *CouponLifecycle) validate(ctx context.Context, coupon *models.Coupon, req RedeemRequest, now time.Time) (validation.Result, error) {
	var benefit *models.Benefit
	var merchant *models.Merchant

	if coupon != nil {
		var err error
		benefit, err = s.catalog.Benefit(ctx, coupon.BenefitID)
		if err != nil {
			return validation.Result{}, fmt.Errorf("load benefit: %w", err)
		}
		merchant, err = s.directory.Merchant(ctx, req.MerchantID)
		if err != nil {
			return validation.Result{}, fmt.Errorf("load merchant: %w", err)
		}
		if benefit != nil && benefit.MerchantID == req.MerchantID &&
			benefit.GeoRadiusMeters > 0 && req.Location != nil && merchant == nil {
			return validation.Result{}, fmt.Errorf("merchant %s missing from directory", req.MerchantID)
		}
	}

	vres := validation.Run(validation.Input{
		Coupon:     coupon,
		Benefit:    benefit,
		Merchant:   merchant,
		MerchantID: req.MerchantID,
		Location:   req.Location,
		Now:        now,
	})

	if vres.Valid && benefit != nil && benefit.GeoRadiusMeters > 0 && !vres.GeofenceChecked {
		// Source behavior: no location means no geofence check. Kept, but
		// loudly, since it lets a caller bypass geofencing by omission.
		s.log.WithFields(logrus.Fields{
			"coupon_id":   coupon.ID,
			"merchant_id": req.MerchantID,
		}).Warn("geofenced benefit validated without a location")
	}

	return vres, nil
}

// ListUserCoupons returns the user's coupons, optionally filtered by the
// derived status. Status is computed, never stored, so the filter is just a
// function of now.
func (s *CouponLifecycle) ListUserCoupons(ctx context.Context, userID string, status models.CouponStatus) ([]*models.Coupon, error) {
	coupons, err := s.ledger.UserCoupons(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user coupons: %w", err)
	}
	if status == "" {
		return coupons, nil
	}

	now := s.now().UTC()
	filtered := coupons[:0]
	for _, c := range coupons {
		if c.StatusAt(now) == status {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}
