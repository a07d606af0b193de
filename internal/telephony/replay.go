package telephony

import (
	"context"
	"time"

	"delivery-engine/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard drops webhook deliveries that were already processed.
// release undoes the claim so a provider retry is processed again after a failure.
type ReplayGuard interface {
	Claim(ctx context.Context, key string) (release func(context.Context), first bool, err error)
}

// RedisReplayGuard remembers webhook keys in Redis for ttl.
type RedisReplayGuard struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisReplayGuard(rdb *redis.Client, ttl time.Duration) *RedisReplayGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisReplayGuard{rdb: rdb, ttl: ttl, prefix: "webhook:twilio:"}
}

func (g *RedisReplayGuard) Claim(ctx context.Context, key string) (func(context.Context), bool, error) {
	claim, ok, err := utils.ClaimOnce(ctx, g.rdb, g.prefix+key, g.ttl)
	if err != nil || !ok {
		return func(context.Context) {}, ok, err
	}
	return func(ctx context.Context) { _ = utils.ReleaseClaim(ctx, g.rdb, claim) }, true, nil
}
