// Package validation runs the ordered redemption checks. The pipeline is a
// pure function of its inputs, so the lifecycle can run it once to answer a
// read-only validate call and again right before the atomic redeem commit
// without side effects.
package validation

import (
	"fmt"
	"time"

	"github.com/benefitpass/coupon-engine/internal/geo"
	"github.com/benefitpass/coupon-engine/internal/models"
)

// Input carries everything the pipeline may consult. Coupon and Benefit are
// nil when the corresponding lookup found nothing; the pipeline turns that
// into the right reason instead of the caller special-casing it.
type Input struct {
	Coupon     *models.Coupon
	Benefit    *models.Benefit
	Merchant   *models.Merchant
	MerchantID string
	Location   *geo.Point
	Now        time.Time
}

type Result struct {
	Valid  bool           `json:"valid"`
	Code   Code           `json:"code,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Coupon *models.Coupon `json:"coupon,omitempty"`

	// DistanceFormatted is set on geofence rejections for the caller's
	// error message ("you are 1.3km away").
	DistanceMeters    float64 `json:"distance_meters,omitempty"`
	DistanceFormatted string  `json:"distance_formatted,omitempty"`

	// GeofenceChecked is false when the check was skipped because no
	// location was supplied; callers can audit bypasses of a geofenced
	// benefit without the engine changing the source behavior.
	GeofenceChecked bool `json:"geofence_checked"`
}

func fail(code Code, reason string) Result {
	return Result{Valid: false, Code: code, Reason: reason}
}

// Run executes the short-circuit chain: existence, already-used, expired,
// benefit resolves, merchant match, geofence, time window, blackout. The
// first failing check is the one reported.
func Run(in Input) Result {
	if in.Coupon == nil {
		return fail(CodeNotFound, "coupon not found")
	}
	if in.Coupon.RedeemedAt != nil {
		return fail(CodeAlreadyRedeemed, "coupon already redeemed")
	}
	if in.Now.After(in.Coupon.ExpireAt) {
		return fail(CodeExpired, "coupon expired")
	}
	if in.Benefit == nil {
		return fail(CodeBenefitMissing, "benefit no longer exists")
	}
	if in.Benefit.MerchantID != in.MerchantID {
		return fail(CodeMerchantMismatch, "coupon belongs to a different merchant")
	}

	result := Result{Valid: true, Coupon: in.Coupon}

	if in.Benefit.GeoRadiusMeters > 0 && in.Location != nil && in.Merchant != nil {
		check := geo.WithinRadius(in.Location.Lat, in.Location.Lng,
			in.Merchant.Lat, in.Merchant.Lng, in.Benefit.GeoRadiusMeters)
		result.GeofenceChecked = true
		result.DistanceMeters = check.DistanceMeters
		result.DistanceFormatted = geo.FormatDistance(check.DistanceMeters)
		if !check.Within {
			r := fail(CodeOutOfGeofence,
				fmt.Sprintf("too far from the store (%s away)", result.DistanceFormatted))
			r.GeofenceChecked = true
			r.DistanceMeters = check.DistanceMeters
			r.DistanceFormatted = result.DistanceFormatted
			return r
		}
	}

	local := in.Now.In(models.StoreLocation())

	if len(in.Benefit.TimeWindows) > 0 {
		inWindow := false
		for _, w := range in.Benefit.TimeWindows {
			if w.Contains(local) {
				inWindow = true
				break
			}
		}
		if !inWindow {
			return fail(CodeOutsideTimeWindow, "benefit is not redeemable at this time")
		}
	}

	for _, b := range in.Benefit.BlackoutDates {
		if b.Matches(local) {
			return fail(CodeBlackout, "benefit is not redeemable today")
		}
	}

	return result
}
