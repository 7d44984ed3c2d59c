package repository

import (
	"context"
	"sync"
	"time"

	"github.com/benefitpass/coupon-engine/internal/models"
)

// MemoryStore is an in-process ledger, catalog and directory in one. It
// backs the service tests and the memory store mode; the Postgres repos are
// the production path. The redeem flip holds the same conditional-write
// semantics as the SQL implementation.
type MemoryStore struct {
	mu        sync.RWMutex
	benefits  map[string]*models.Benefit
	merchants map[string]*models.Merchant
	coupons   map[string]*models.Coupon // by id
	byToken   map[string]string         // token -> id
	records   []*models.RedemptionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		benefits:  make(map[string]*models.Benefit),
		merchants: make(map[string]*models.Merchant),
		coupons:   make(map[string]*models.Coupon),
		byToken:   make(map[string]string),
	}
}

func (s *MemoryStore) PutBenefit(b *models.Benefit) error {
	if err := b.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.benefits[b.ID] = b
	return nil
}

func (s *MemoryStore) PutMerchant(m *models.Merchant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merchants[m.ID] = m
}

func (s *MemoryStore) Benefit(ctx context.Context, id string) (*models.Benefit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.benefits[id], nil
}

func (s *MemoryStore) Merchant(ctx context.Context, id string) (*models.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.merchants[id], nil
}

func (s *MemoryStore) InsertCoupon(ctx context.Context, c *models.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.coupons[c.ID] = &cp
	s.byToken[c.Token] = c.ID
	return nil
}

func (s *MemoryStore) CouponByToken(ctx context.Context, token string) (*models.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return nil, nil
	}
	cp := *s.coupons[id]
	return &cp, nil
}

func (s *MemoryStore) PendingByPinAndMerchant(ctx context.Context, pin, merchantID string, now time.Time) ([]*models.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []*models.Coupon
	for _, c := range s.coupons {
		if c.Pin != pin || !c.Pending(now) {
			continue
		}
		b, ok := s.benefits[c.BenefitID]
		if !ok || b.MerchantID != merchantID {
			continue
		}
		cp := *c
		matches = append(matches, &cp)
	}
	return matches, nil
}

func (s *MemoryStore) UserCoupons(ctx context.Context, userID string) ([]*models.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var coupons []*models.Coupon
	for _, c := range s.coupons {
		if c.UserID == userID {
			cp := *c
			coupons = append(coupons, &cp)
		}
	}
	return coupons, nil
}

func (s *MemoryStore) CountPending(ctx context.Context, benefitID, userID string, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.coupons {
		if c.BenefitID == benefitID && c.UserID == userID && c.Pending(now) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkRedeemed(ctx context.Context, couponID string, at time.Time, rec *models.RedemptionRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[couponID]
	if !ok || c.RedeemedAt != nil {
		return false, nil
	}
	t := at
	c.RedeemedAt = &t
	r := *rec
	s.records = append(s.records, &r)
	return true, nil
}

// Records returns a copy of the append-only redemption trail.
func (s *MemoryStore) Records() []*models.RedemptionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.RedemptionRecord, len(s.records))
	copy(out, s.records)
	return out
}
