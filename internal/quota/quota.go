// Package quota enforces issuance ceilings under concurrent access. All
// counter mutation goes through a Guard's atomic reserve/release primitive;
// callers never read-modify-write counters themselves.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/benefitpass/coupon-engine/internal/models"
)

type Scope string

const (
	ScopeTotal Scope = "total"
	ScopeDaily Scope = "daily"
	ScopeUser  Scope = "user"
)

// holdTTL bounds how long a reservation may sit between Reserve and
// Commit/Release before the store treats it as abandoned. Keeps a crashed
// caller from burning a user slot forever.
const holdTTL = time.Minute

// dailyCounterTTL is how long daily counters are kept in expiring stores.
const dailyCounterTTL = 48 * time.Hour

// ExceededError reports which ceiling rejected a reservation.
type ExceededError struct {
	Scope Scope
	Limit int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s limit %d reached", e.Scope, e.Limit)
}

// Reservation is one unit of quota taken at issuance time. It must be
// either committed (after the coupon write lands) or released (when any
// downstream step fails).
type Reservation struct {
	BenefitID string
	UserID    string
	// Day is the store-local civil date whose daily counter was bumped, so a
	// release past midnight still undoes the right counter.
	Day string
}

// PendingCounter reports how many unredeemed, unexpired coupons a user holds
// for a benefit. Backed by the ledger; the user ceiling counts outstanding
// coupons rather than lifetime issuance, so an expired or redeemed coupon
// frees the slot without any sweep.
type PendingCounter interface {
	CountPending(ctx context.Context, benefitID, userID string, now time.Time) (int, error)
}

// Guard is the atomic reserve/release primitive. Reserve checks every
// ceiling and takes a slot in one step; two concurrent calls racing for the
// last slot see exactly one success.
type Guard interface {
	Reserve(ctx context.Context, benefitID, userID string, rule models.QuotaRule, now time.Time) (*Reservation, error)
	// Commit marks the reservation durable once the coupon row exists.
	Commit(ctx context.Context, res *Reservation) error
	// Release undoes a reservation whose coupon write failed.
	Release(ctx context.Context, res *Reservation) error
}
