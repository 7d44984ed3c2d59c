package models

import "time"

type CouponStatus string

const (
	CouponPending  CouponStatus = "pending"
	CouponRedeemed CouponStatus = "redeemed"
	CouponExpired  CouponStatus = "expired"
)

// Coupon is a time-boxed, single-use claim on a benefit. Status is never
// stored; it is derived from (RedeemedAt, ExpireAt, now) so the row cannot
// drift out of sync with itself.
type Coupon struct {
	ID         string        `json:"id"`
	BenefitID  string        `json:"benefit_id"`
	UserID     string        `json:"user_id"`
	Token      string        `json:"token"`
	Pin        string        `json:"pin"`
	IssuedAt   time.Time     `json:"issued_at"`
	ExpireAt   time.Time     `json:"expire_at"`
	RedeemedAt *time.Time    `json:"redeemed_at,omitempty"`
	Metadata   IssueMetadata `json:"metadata"`
}

// IssueMetadata is recorded at issuance for audit and per-device abuse
// tracking.
type IssueMetadata struct {
	DeviceID  string `json:"device_id,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// StatusAt derives the coupon state at the given instant. Redeemed wins over
// expired: a coupon redeemed before its deadline stays redeemed forever.
func (c *Coupon) StatusAt(now time.Time) CouponStatus {
	if c.RedeemedAt != nil {
		return CouponRedeemed
	}
	if now.After(c.ExpireAt) {
		return CouponExpired
	}
	return CouponPending
}

// Pending reports whether the coupon is still claimable at now.
func (c *Coupon) Pending(now time.Time) bool {
	return c.StatusAt(now) == CouponPending
}
