package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/benefitpass/coupon-engine/internal/models"
)

// PostgresGuard stores counters in a quota_counters table addressed by
// (benefit_id, scope) and serializes racing reservations with row locks:
// every ceiling is checked and bumped while its row is held locked, so
// read-check-increment is never observable as separate steps.
type PostgresGuard struct {
	db *sql.DB
}

func NewPostgresGuard(db *sql.DB) *PostgresGuard {
	return &PostgresGuard{db: db}
}

const (
	scopeTotalKey = "total"
)

func scopeDayKey(day string) string     { return "day:" + day }
func scopeHoldKey(userID string) string { return "hold:" + userID }

func (g *PostgresGuard) Reserve(ctx context.Context, benefitID, userID string, rule models.QuotaRule, now time.Time) (*Reservation, error) {
	day := models.StoreDay(now)

	// Row locks carry the serialization; default isolation keeps the
	// counter upserts from aborting with spurious serialization failures.
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin quota tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	totalCount, err := lockCounter(ctx, tx, benefitID, scopeTotalKey, now)
	if err != nil {
		return nil, err
	}
	if rule.TotalLimit != nil && totalCount >= *rule.TotalLimit {
		return nil, &ExceededError{Scope: ScopeTotal, Limit: *rule.TotalLimit}
	}

	dailyCount, err := lockCounter(ctx, tx, benefitID, scopeDayKey(day), now)
	if err != nil {
		return nil, err
	}
	if rule.DailyLimit != nil && dailyCount >= *rule.DailyLimit {
		return nil, &ExceededError{Scope: ScopeDaily, Limit: *rule.DailyLimit}
	}

	holdCount, err := lockHold(ctx, tx, benefitID, scopeHoldKey(userID), now)
	if err != nil {
		return nil, err
	}
	if userLimit := rule.EffectiveUserLimit(); userLimit > 0 {
		// Outstanding coupons are counted inside the same transaction; the
		// hold row lock serializes concurrent reserves for this user.
		var outstanding int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM coupons
			WHERE benefit_id = $1 AND user_id = $2
			  AND redeemed_at IS NULL AND expire_at > $3
		`, benefitID, userID, now).Scan(&outstanding)
		if err != nil {
			return nil, fmt.Errorf("count pending coupons: %w", err)
		}
		if outstanding+holdCount >= userLimit {
			return nil, &ExceededError{Scope: ScopeUser, Limit: userLimit}
		}
	}

	for _, scope := range []string{scopeTotalKey, scopeDayKey(day), scopeHoldKey(userID)} {
		if err := bumpCounter(ctx, tx, benefitID, scope, +1, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit quota tx: %w", err)
	}
	committed = true

	return &Reservation{BenefitID: benefitID, UserID: userID, Day: day}, nil
}

// Commit drops the in-flight hold; the coupon row now carries the user-scope
// count on its own. Total and daily counters stay consumed.
func (g *PostgresGuard) Commit(ctx context.Context, res *Reservation) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE quota_counters
		SET count = GREATEST(count - 1, 0), updated_at = NOW()
		WHERE benefit_id = $1 AND scope = $2
	`, res.BenefitID, scopeHoldKey(res.UserID))
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	return nil
}

func (g *PostgresGuard) Release(ctx context.Context, res *Reservation) error {
	scopes := []string{scopeTotalKey, scopeDayKey(res.Day), scopeHoldKey(res.UserID)}
	for _, scope := range scopes {
		_, err := g.db.ExecContext(ctx, `
			UPDATE quota_counters
			SET count = GREATEST(count - 1, 0), updated_at = NOW()
			WHERE benefit_id = $1 AND scope = $2
		`, res.BenefitID, scope)
		if err != nil {
			return fmt.Errorf("release reservation (%s): %w", scope, err)
		}
	}
	return nil
}

// lockCounter takes the row lock on a counter, creating the row on first use
// for a benefit/day/user. The upsert makes first use race-free: of two
// concurrent first reservations, the insert loser blocks on the winner's row
// and then locks it and reads the live count, instead of failing on the
// primary key.
func lockCounter(ctx context.Context, tx *sql.Tx, benefitID, scope string, now time.Time) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO quota_counters (benefit_id, scope, count, updated_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (benefit_id, scope) DO UPDATE SET count = quota_counters.count
		RETURNING count
	`, benefitID, scope, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("lock counter %s/%s: %w", benefitID, scope, err)
	}
	return count, nil
}

// lockHold is lockCounter plus staleness recovery: a hold that was never
// committed nor released (caller crashed mid-issuance) is reset once it is
// older than holdTTL, so it cannot burn the user's slot forever.
func lockHold(ctx context.Context, tx *sql.Tx, benefitID, scope string, now time.Time) (int, error) {
	var (
		count     int
		updatedAt time.Time
	)
	err := tx.QueryRowContext(ctx, `
		INSERT INTO quota_counters (benefit_id, scope, count, updated_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (benefit_id, scope) DO UPDATE SET count = quota_counters.count
		RETURNING count, updated_at
	`, benefitID, scope, now).Scan(&count, &updatedAt)
	if err != nil {
		return 0, fmt.Errorf("lock hold %s/%s: %w", benefitID, scope, err)
	}
	if count > 0 && now.Sub(updatedAt) > holdTTL {
		if _, err := tx.ExecContext(ctx, `
			UPDATE quota_counters SET count = 0, updated_at = $3
			WHERE benefit_id = $1 AND scope = $2
		`, benefitID, scope, now); err != nil {
			return 0, fmt.Errorf("reset stale hold %s/%s: %w", benefitID, scope, err)
		}
		count = 0
	}
	return count, nil
}

func bumpCounter(ctx context.Context, tx *sql.Tx, benefitID, scope string, delta int, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE quota_counters
		SET count = count + $3, updated_at = $4
		WHERE benefit_id = $1 AND scope = $2
	`, benefitID, scope, delta, now)
	if err != nil {
		return fmt.Errorf("bump counter %s/%s: %w", benefitID, scope, err)
	}
	return nil
}
