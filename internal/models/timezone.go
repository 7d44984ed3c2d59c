package models

import "time"

// Coupons are stored in UTC, but daily quota scoping, time windows and
// blackout dates are all evaluated in the store-local timezone.
var storeLocation = loadStoreLocation()

func loadStoreLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		// KST has no DST, so a fixed offset is an exact fallback when the
		// host has no tzdata.
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

func StoreLocation() *time.Location { return storeLocation }

// StoreDay returns the civil date of t in the store-local timezone.
func StoreDay(t time.Time) string {
	return t.In(storeLocation).Format(DateLayout)
}
