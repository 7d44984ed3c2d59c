package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/benefitpass/coupon-engine/internal/models"
)

// RedisGuard runs the ceiling check and increment as one Lua script, so a
// pair of racing reserves for the last slot resolves inside Redis with
// exactly one winner. Counter keys are addressed quota:{benefit}:{scope};
// daily and hold keys expire on their own.
type RedisGuard struct {
	client  *redis.Client
	pending PendingCounter
}

func NewRedisGuard(client *redis.Client, pending PendingCounter) *RedisGuard {
	return &RedisGuard{client: client, pending: pending}
}

// reserveScript increments each counter and rolls every increment back the
// moment a ceiling is hit, returning which scope rejected. Limits of -1 mean
// unlimited. ARGV: total, daily, user limits; daily TTL sec; hold TTL sec;
// outstanding pending-coupon count.
var reserveScript = redis.NewScript(`
local totalLimit = tonumber(ARGV[1])
local dailyLimit = tonumber(ARGV[2])
local userLimit = tonumber(ARGV[3])
local pending = tonumber(ARGV[6])

local total = redis.call('INCR', KEYS[1])
if totalLimit >= 0 and total > totalLimit then
  redis.call('DECR', KEYS[1])
  return 'total'
end

local daily = redis.call('INCR', KEYS[2])
redis.call('EXPIRE', KEYS[2], ARGV[4])
if dailyLimit >= 0 and daily > dailyLimit then
  redis.call('DECR', KEYS[1])
  redis.call('DECR', KEYS[2])
  return 'daily'
end

local hold = redis.call('INCR', KEYS[3])
redis.call('EXPIRE', KEYS[3], ARGV[5])
if userLimit >= 0 and pending + hold > userLimit then
  redis.call('DECR', KEYS[1])
  redis.call('DECR', KEYS[2])
  redis.call('DECR', KEYS[3])
  return 'user'
end
return 'ok'
`)

// decrScript decrements counters with a floor of zero.
var decrScript = redis.NewScript(`
for i = 1, #KEYS do
  local v = redis.call('DECR', KEYS[i])
  if v < 0 then
    redis.call('SET', KEYS[i], 0)
  end
end
return 'ok'
`)

func (g *RedisGuard) keys(benefitID, userID, day string) (total, daily, hold string) {
	total = "quota:" + benefitID + ":total"
	daily = "quota:" + benefitID + ":day:" + day
	hold = "quota:" + benefitID + ":hold:" + userID
	return
}

func (g *RedisGuard) Reserve(ctx context.Context, benefitID, userID string, rule models.QuotaRule, now time.Time) (*Reservation, error) {
	day := models.StoreDay(now)
	totalKey, dailyKey, holdKey := g.keys(benefitID, userID, day)

	totalLimit, dailyLimit := -1, -1
	if rule.TotalLimit != nil {
		totalLimit = *rule.TotalLimit
	}
	if rule.DailyLimit != nil {
		dailyLimit = *rule.DailyLimit
	}
	userLimit := rule.EffectiveUserLimit()
	if userLimit <= 0 {
		userLimit = -1
	}

	outstanding := 0
	if userLimit >= 0 {
		var err error
		outstanding, err = g.pending.CountPending(ctx, benefitID, userID, now)
		if err != nil {
			return nil, err
		}
	}

	res, err := reserveScript.Run(ctx, g.client,
		[]string{totalKey, dailyKey, holdKey},
		totalLimit, dailyLimit, userLimit,
		int(dailyCounterTTL.Seconds()), int(holdTTL.Seconds()), outstanding,
	).Text()
	if err != nil {
		return nil, fmt.Errorf("quota reserve script: %w", err)
	}

	switch res {
	case "ok":
		return &Reservation{BenefitID: benefitID, UserID: userID, Day: day}, nil
	case "total":
		return nil, &ExceededError{Scope: ScopeTotal, Limit: totalLimit}
	case "daily":
		return nil, &ExceededError{Scope: ScopeDaily, Limit: dailyLimit}
	case "user":
		return nil, &ExceededError{Scope: ScopeUser, Limit: userLimit}
	default:
		return nil, fmt.Errorf("quota reserve script: unexpected result %q", res)
	}
}

func (g *RedisGuard) Commit(ctx context.Context, res *Reservation) error {
	_, _, holdKey := g.keys(res.BenefitID, res.UserID, res.Day)
	if err := decrScript.Run(ctx, g.client, []string{holdKey}).Err(); err != nil {
		return fmt.Errorf("quota commit: %w", err)
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, res *Reservation) error {
	totalKey, dailyKey, holdKey := g.keys(res.BenefitID, res.UserID, res.Day)
	if err := decrScript.Run(ctx, g.client, []string{totalKey, dailyKey, holdKey}).Err(); err != nil {
		return fmt.Errorf("quota release: %w", err)
	}
	return nil
}
