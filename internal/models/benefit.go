package models

import (
	"fmt"
	"time"
)

type BenefitStatus string

const (
	BenefitActive   BenefitStatus = "ACTIVE"
	BenefitInactive BenefitStatus = "INACTIVE"
)

// DateLayout is the civil-date form used for blackout dates and daily quota
// scoping, always interpreted in the store-local timezone.
const DateLayout = "2006-01-02"

// ClockLayout is the wall-clock form used by time window bounds.
const ClockLayout = "15:04"

// Benefit is the read-only rule set a coupon is issued against. The engine
// never writes benefits; they are owned by the catalog.
type Benefit struct {
	ID              string         `json:"id"`
	MerchantID      string         `json:"merchant_id"`
	Title           string         `json:"title"`
	Status          BenefitStatus  `json:"status"`
	ValidFrom       time.Time      `json:"valid_from"`
	ValidTo         time.Time      `json:"valid_to"`
	GeoRadiusMeters float64        `json:"geo_radius_meters"`
	Quota           QuotaRule      `json:"quota"`
	TimeWindows     []TimeWindow   `json:"time_windows,omitempty"`
	BlackoutDates   []BlackoutDate `json:"blackout_dates,omitempty"`
	StudentOnly     bool           `json:"student_only"`
}

// QuotaRule holds the issuance ceilings for a benefit. Nil means unlimited
// for total and daily; the user ceiling defaults to one outstanding coupon.
type QuotaRule struct {
	TotalLimit *int `json:"total_limit,omitempty"`
	DailyLimit *int `json:"daily_limit,omitempty"`
	UserLimit  *int `json:"user_limit,omitempty"`
}

const DefaultUserLimit = 1

func (q QuotaRule) EffectiveUserLimit() int {
	if q.UserLimit == nil {
		return DefaultUserLimit
	}
	return *q.UserLimit
}

// TimeWindow is a recurring day-of-week interval during which a benefit is
// redeemable. Start and End are ClockLayout strings in the merchant's local
// timezone; the interval is inclusive of Start and exclusive of End. A window
// whose End precedes Start wraps past midnight into the next day: Monday
// 22:00-02:00 covers Monday 22:00-24:00 plus Tuesday 00:00-02:00.
type TimeWindow struct {
	DayOfWeek time.Weekday `json:"day_of_week"`
	Start     string       `json:"start"`
	End       string       `json:"end"`
}

// Contains reports whether t (already in the merchant's local timezone) falls
// inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	clock := t.Format(ClockLayout)
	if w.Start < w.End {
		return t.Weekday() == w.DayOfWeek && clock >= w.Start && clock < w.End
	}
	if t.Weekday() == w.DayOfWeek {
		return clock >= w.Start
	}
	return t.Weekday() == (w.DayOfWeek+1)%7 && clock < w.End
}

// BlackoutDate is a civil date (DateLayout) on which a benefit cannot be
// redeemed regardless of other rules.
type BlackoutDate string

func (b BlackoutDate) Matches(t time.Time) bool {
	return t.Format(DateLayout) == string(b)
}

func (b Benefit) Validate() error {
	if !b.ValidFrom.Before(b.ValidTo) {
		return fmt.Errorf("benefit %s: valid_from must precede valid_to", b.ID)
	}
	if b.GeoRadiusMeters < 0 || b.GeoRadiusMeters > 1000 {
		return fmt.Errorf("benefit %s: geo_radius_meters out of range [0,1000]", b.ID)
	}
	for _, w := range b.TimeWindows {
		if _, err := time.Parse(ClockLayout, w.Start); err != nil {
			return fmt.Errorf("benefit %s: window start %q is not a %s clock", b.ID, w.Start, ClockLayout)
		}
		if _, err := time.Parse(ClockLayout, w.End); err != nil {
			return fmt.Errorf("benefit %s: window end %q is not a %s clock", b.ID, w.End, ClockLayout)
		}
		if w.Start == w.End {
			return fmt.Errorf("benefit %s: window start and end are equal", b.ID)
		}
	}
	for _, d := range b.BlackoutDates {
		if _, err := time.Parse(DateLayout, string(d)); err != nil {
			return fmt.Errorf("benefit %s: blackout date %q is not %s", b.ID, d, DateLayout)
		}
	}
	return nil
}
