package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benefitpass/coupon-engine/internal/models"
	"github.com/benefitpass/coupon-engine/pkg/db"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("set TEST_DATABASE_URL to run Postgres guard tests")
	}
	conn, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.EnsureSchema(context.Background(), conn))
	return conn
}

// Concurrent first reservations for a benefit with no counter rows yet: the
// upsert must serialize the row creation, so with one total slot the losers
// see quota exhaustion rather than duplicate-key failures.
func TestPostgresGuardFirstReservationRace(t *testing.T) {
	conn := openTestDB(t)
	guard := NewPostgresGuard(conn)

	benefitID := fmt.Sprintf("b-%d", time.Now().UnixNano())
	rule := models.QuotaRule{TotalLimit: intPtr(1), UserLimit: intPtr(100)}
	now := time.Now()

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exceeded  int
		failures  []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", i)
			_, err := guard.Reserve(context.Background(), benefitID, userID, rule, now)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			var ex *ExceededError
			if errors.As(err, &ex) {
				exceeded++
				return
			}
			failures = append(failures, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly the total limit must win")
	assert.Equal(t, callers-1, exceeded)
	assert.Empty(t, failures, "losers must see quota exhaustion, never an infrastructure error")
}

func TestPostgresGuardReleaseRestoresSlot(t *testing.T) {
	conn := openTestDB(t)
	guard := NewPostgresGuard(conn)

	benefitID := fmt.Sprintf("b-%d", time.Now().UnixNano())
	rule := models.QuotaRule{TotalLimit: intPtr(1), UserLimit: intPtr(100)}
	now := time.Now()

	res, err := guard.Reserve(context.Background(), benefitID, "u1", rule, now)
	require.NoError(t, err)

	_, err = guard.Reserve(context.Background(), benefitID, "u2", rule, now)
	var ex *ExceededError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, ScopeTotal, ex.Scope)

	require.NoError(t, guard.Release(context.Background(), res))

	_, err = guard.Reserve(context.Background(), benefitID, "u2", rule, now)
	require.NoError(t, err)
}
