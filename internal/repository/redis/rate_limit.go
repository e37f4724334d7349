package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/marketplace-auth/internal/core/domain"
	"github.com/arklim/marketplace-auth/internal/core/port"
)

const defaultRateLimitPrefix = "auth:rl"

// consumeScript checks the lockout key, increments the window counter and
// sets the lockout once the quota is exceeded, all in one atomic step.
//
// KEYS[1] counter, KEYS[2] lockout
// ARGV[1] points to consume, ARGV[2] window ms, ARGV[3] quota, ARGV[4] lockout ms
//
// Returns {count, ttl_ms}; count is -1 while a lockout is active.
var consumeScript = red.NewScript(`
local blocked = redis.call('PTTL', KEYS[2])
if blocked > 0 then
  return {-1, blocked}
end

local count = redis.call('INCRBY', KEYS[1], ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end

local block = tonumber(ARGV[4])
if count > tonumber(ARGV[3]) and block > 0 then
  redis.call('SET', KEYS[2], '1', 'PX', block)
  return {count, block}
end

return {count, ttl}
`)

// RateLimitRepository keeps per-tier fixed-window counters and lockouts in Redis.
type RateLimitRepository struct {
	client red.UniversalClient
	prefix string
}

// NewRateLimitRepository constructs a repository using the provided Redis client and key prefix.
func NewRateLimitRepository(client red.UniversalClient, keyPrefix string) *RateLimitRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RateLimitRepository{client: client, prefix: prefix}
}

// Consume takes points from the tier counter for key.
func (r *RateLimitRepository) Consume(ctx context.Context, tier domain.RateLimitTier, key string, points int) (domain.RateLimitDecision, error) {
	if !tier.Enabled() {
		return domain.RateLimitDecision{}, fmt.Errorf("rate limit tier %q is not configured", tier.Name)
	}
	if points <= 0 {
		return domain.RateLimitDecision{}, errors.New("points must be positive")
	}
	counterKey, blockKey, err := r.keys(tier.Name, key)
	if err != nil {
		return domain.RateLimitDecision{}, err
	}

	res, err := consumeScript.Run(ctx, r.client,
		[]string{counterKey, blockKey},
		points,
		tier.Duration.Milliseconds(),
		tier.Points,
		tier.BlockDuration.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("redis consume %s: %w", tier.Name, err)
	}
	if len(res) != 2 {
		return domain.RateLimitDecision{}, fmt.Errorf("redis consume %s: unexpected reply length %d", tier.Name, len(res))
	}

	return decide(tier, res[0], time.Duration(res[1])*time.Millisecond), nil
}

// Reset clears the window counter for key. An active lockout is left in place.
func (r *RateLimitRepository) Reset(ctx context.Context, tier domain.RateLimitTier, key string) error {
	counterKey, _, err := r.keys(tier.Name, key)
	if err != nil {
		return err
	}
	if err := r.client.Del(ctx, counterKey).Err(); err != nil {
		return fmt.Errorf("redis reset %s: %w", tier.Name, err)
	}
	return nil
}

func decide(tier domain.RateLimitTier, consumed int64, ttl time.Duration) domain.RateLimitDecision {
	if ttl < 0 {
		ttl = 0
	}

	if consumed < 0 {
		return domain.RateLimitDecision{Allowed: false, RetryAfter: ttl}
	}

	remaining := int64(tier.Points) - consumed
	if remaining < 0 {
		return domain.RateLimitDecision{
			Allowed:    false,
			Consumed:   int(consumed),
			Remaining:  0,
			RetryAfter: ttl,
		}
	}

	return domain.RateLimitDecision{
		Allowed:    true,
		Consumed:   int(consumed),
		Remaining:  int(remaining),
		RetryAfter: ttl,
	}
}

// keys places the counter and lockout of one tier/key pair in the same hash slot.
func (r *RateLimitRepository) keys(tier, key string) (string, string, error) {
	tier = strings.TrimSpace(tier)
	key = strings.TrimSpace(key)
	if tier == "" || key == "" {
		return "", "", errors.New("tier and key must not be empty")
	}
	base := fmt.Sprintf("%s:{%s:%s}", r.prefix, tier, key)
	return base, base + ":block", nil
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
