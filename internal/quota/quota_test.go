package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benefitpass/coupon-engine/internal/models"
)

type stubPending struct {
	mu    sync.Mutex
	count int
	err   error
}

func (s *stubPending) CountPending(ctx context.Context, benefitID, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, s.err
}

func intPtr(n int) *int { return &n }

func TestMemoryGuardTotalCeilingUnderConcurrency(t *testing.T) {
	guard := NewMemoryGuard(&stubPending{})
	rule := models.QuotaRule{TotalLimit: intPtr(5), UserLimit: intPtr(100)}
	now := time.Now()

	const callers = 40
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exceeded  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := string(rune('a' + i%26))
			_, err := guard.Reserve(context.Background(), "b1", userID, rule, now)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			var ex *ExceededError
			if errors.As(err, &ex) && ex.Scope == ScopeTotal {
				exceeded++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded, "exactly the total limit must win")
	assert.Equal(t, callers-5, exceeded)
}

func TestMemoryGuardDailyCeiling(t *testing.T) {
	guard := NewMemoryGuard(&stubPending{})
	rule := models.QuotaRule{DailyLimit: intPtr(2), UserLimit: intPtr(100)}
	now := time.Now()

	for i := 0; i < 2; i++ {
		_, err := guard.Reserve(context.Background(), "b1", "u1", rule, now)
		require.NoError(t, err)
	}
	_, err := guard.Reserve(context.Background(), "b1", "u1", rule, now)
	var ex *ExceededError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, ScopeDaily, ex.Scope)

	// A new store-local day gets a fresh counter.
	_, err = guard.Reserve(context.Background(), "b1", "u1", rule, now.Add(24*time.Hour))
	require.NoError(t, err)
}

func TestMemoryGuardUserCeilingCountsOutstanding(t *testing.T) {
	pending := &stubPending{}
	guard := NewMemoryGuard(pending)
	rule := models.QuotaRule{} // default user limit of 1
	now := time.Now()

	res, err := guard.Reserve(context.Background(), "b1", "u1", rule, now)
	require.NoError(t, err)

	// The uncommitted hold alone blocks a second reservation.
	_, err = guard.Reserve(context.Background(), "b1", "u1", rule, now)
	var ex *ExceededError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, ScopeUser, ex.Scope)
	assert.Equal(t, 1, ex.Limit)

	// Once committed the hold is gone, but the ledger now reports the
	// outstanding coupon, so the slot stays taken.
	require.NoError(t, guard.Commit(context.Background(), res))
	pending.count = 1
	_, err = guard.Reserve(context.Background(), "b1", "u1", rule, now)
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, ScopeUser, ex.Scope)

	// Coupon expired or redeemed: the slot is free again.
	pending.count = 0
	_, err = guard.Reserve(context.Background(), "b1", "u1", rule, now)
	require.NoError(t, err)
}

func TestMemoryGuardReleaseRestoresSlot(t *testing.T) {
	guard := NewMemoryGuard(&stubPending{})
	rule := models.QuotaRule{TotalLimit: intPtr(1), UserLimit: intPtr(100)}
	now := time.Now()

	res, err := guard.Reserve(context.Background(), "b1", "u1", rule, now)
	require.NoError(t, err)

	_, err = guard.Reserve(context.Background(), "b1", "u2", rule, now)
	require.Error(t, err)

	require.NoError(t, guard.Release(context.Background(), res))

	_, err = guard.Reserve(context.Background(), "b1", "u2", rule, now)
	require.NoError(t, err)
}

func TestMemoryGuardAbandonedHoldExpires(t *testing.T) {
	guard := NewMemoryGuard(&stubPending{})
	rule := models.QuotaRule{}
	now := time.Now()

	// Reserve and never commit nor release.
	_, err := guard.Reserve(context.Background(), "b1", "u1", rule, now)
	require.NoError(t, err)

	_, err = guard.Reserve(context.Background(), "b1", "u1", rule, now)
	require.Error(t, err)

	// Past the hold TTL the abandoned reservation no longer burns the slot.
	_, err = guard.Reserve(context.Background(), "b1", "u1", rule, now.Add(2*holdTTL))
	require.NoError(t, err)
}

func TestMemoryGuardPendingCounterFailure(t *testing.T) {
	pending := &stubPending{err: errors.New("ledger down")}
	guard := NewMemoryGuard(pending)

	_, err := guard.Reserve(context.Background(), "b1", "u1", models.QuotaRule{}, time.Now())
	require.Error(t, err)
	var ex *ExceededError
	assert.False(t, errors.As(err, &ex), "infrastructure failure must not look like quota exhaustion")
}

func TestExceededErrorMessage(t *testing.T) {
	err := &ExceededError{Scope: ScopeDaily, Limit: 10}
	assert.Equal(t, "quota exceeded: daily limit 10 reached", err.Error())
}
