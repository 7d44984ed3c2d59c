package quota

import (
	"context"
	"sync"
	"time"

	"github.com/benefitpass/coupon-engine/internal/models"
)

// MemoryGuard keeps counters in process memory behind a single mutex.
// Suitable for tests and single-node runs; multi-node deployments use the
// Postgres or Redis guard.
type MemoryGuard struct {
	mu      sync.Mutex
	pending PendingCounter
	total   map[string]int
	daily   map[string]int
	// holds tracks in-flight reservations per (benefit,user) by creation
	// time; entries older than holdTTL are pruned as abandoned.
	holds map[string][]time.Time
}

func NewMemoryGuard(pending PendingCounter) *MemoryGuard {
	return &MemoryGuard{
		pending: pending,
		total:   make(map[string]int),
		daily:   make(map[string]int),
		holds:   make(map[string][]time.Time),
	}
}

func dailyKey(benefitID, day string) string { return benefitID + "|" + day }
func holdKey(benefitID, userID string) string { return benefitID + "|" + userID }

func (g *MemoryGuard) Reserve(ctx context.Context, benefitID, userID string, rule models.QuotaRule, now time.Time) (*Reservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	day := models.StoreDay(now)
	hk := holdKey(benefitID, userID)
	g.pruneLocked(hk, now)

	if rule.TotalLimit != nil && g.total[benefitID] >= *rule.TotalLimit {
		return nil, &ExceededError{Scope: ScopeTotal, Limit: *rule.TotalLimit}
	}
	if rule.DailyLimit != nil && g.daily[dailyKey(benefitID, day)] >= *rule.DailyLimit {
		return nil, &ExceededError{Scope: ScopeDaily, Limit: *rule.DailyLimit}
	}

	if userLimit := rule.EffectiveUserLimit(); userLimit > 0 {
		outstanding, err := g.pending.CountPending(ctx, benefitID, userID, now)
		if err != nil {
			return nil, err
		}
		if outstanding+len(g.holds[hk]) >= userLimit {
			return nil, &ExceededError{Scope: ScopeUser, Limit: userLimit}
		}
	}

	g.total[benefitID]++
	g.daily[dailyKey(benefitID, day)]++
	g.holds[hk] = append(g.holds[hk], now)

	return &Reservation{BenefitID: benefitID, UserID: userID, Day: day}, nil
}

func (g *MemoryGuard) Commit(ctx context.Context, res *Reservation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropHoldLocked(res)
	return nil
}

func (g *MemoryGuard) Release(ctx context.Context, res *Reservation) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.total[res.BenefitID] > 0 {
		g.total[res.BenefitID]--
	}
	dk := dailyKey(res.BenefitID, res.Day)
	if g.daily[dk] > 0 {
		g.daily[dk]--
	}
	g.dropHoldLocked(res)
	return nil
}

func (g *MemoryGuard) dropHoldLocked(res *Reservation) {
	hk := holdKey(res.BenefitID, res.UserID)
	if hs := g.holds[hk]; len(hs) > 0 {
		g.holds[hk] = hs[:len(hs)-1]
	}
}

func (g *MemoryGuard) pruneLocked(hk string, now time.Time) {
	hs := g.holds[hk]
	if len(hs) == 0 {
		return
	}
	kept := hs[:0]
	for _, h := range hs {
		if now.Sub(h) < holdTTL {
			kept = append(kept, h)
		}
	}
	g.holds[hk] = kept
}
