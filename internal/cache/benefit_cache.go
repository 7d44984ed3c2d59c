package cache

import (
	"context"
	"sync"
	"time"

	"github.com/benefitpass/coupon-engine/internal/models"
)

// Catalog is the lookup the cache sits in front of.
type Catalog interface {
	Benefit(ctx context.Context, id string) (*models.Benefit, error)
}

// BenefitCache is a small read-through TTL cache over the benefit catalog.
// Issuance and redemption both load the benefit on every request; rules
// change rarely, so a short TTL removes most catalog round trips while rule
// edits still propagate within seconds. Negative results are not cached.
type BenefitCache struct {
	catalog Catalog
	ttl     time.Duration

	mu    sync.RWMutex
	store map[string]entry
}

type entry struct {
	benefit  *models.Benefit
	cachedAt time.Time
}

const DefaultTTL = 30 * time.Second

func NewBenefitCache(catalog Catalog, ttl time.Duration) *BenefitCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BenefitCache{
		catalog: catalog,
		ttl:     ttl,
		store:   make(map[string]entry),
	}
}

func (c *BenefitCache) Benefit(ctx context.Context, id string) (*models.Benefit, error) {
	c.mu.RLock()
	e, ok := c.store[id]
	c.mu.RUnlock()
	if ok && time.Since(e.cachedAt) < c.ttl {
		return e.benefit, nil
	}

	b, err := c.catalog.Benefit(ctx, id)
	if err != nil {
		return nil, err
	}
	if b != nil {
		c.mu.Lock()
		c.store[id] = entry{benefit: b, cachedAt: time.Now()}
		c.mu.Unlock()
	}
	return b, nil
}

// Invalidate drops a single benefit, for callers that learn of a rule edit.
func (c *BenefitCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, id)
}
