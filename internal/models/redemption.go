package models

import "time"

// RedemptionRecord is the immutable audit row proving a coupon was consumed
// at a specific merchant, place and time. Written exactly once, inside the
// same commit that flips the coupon's RedeemedAt.
type RedemptionRecord struct {
	ID         string    `json:"id"`
	CouponID   string    `json:"coupon_id"`
	MerchantID string    `json:"merchant_id"`
	RedeemedBy string    `json:"redeemed_by,omitempty"`
	Lat        *float64  `json:"lat,omitempty"`
	Lng        *float64  `json:"lng,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	RedeemedAt time.Time `json:"redeemed_at"`
}
