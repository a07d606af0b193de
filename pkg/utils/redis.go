package utils

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var releaseClaimScript = redis.NewScript(`
-- KEYS[1] = claim key
-- ARGV[1] = owner token
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Claim is a held ClaimOnce key.
type Claim struct {
	Key   string
	Token string
}

// ClaimOnce marks key as seen for ttl. It returns ok=false when another caller already holds
// the key. The returned Claim can be released if the work it guards fails.
func ClaimOnce(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (Claim, bool, error) {
	if rdb == nil {
		return Claim{}, false, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return Claim{}, false, fmt.Errorf("key is required")
	}
	if ttl <= 0 {
		return Claim{}, false, fmt.Errorf("ttl must be > 0")
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return Claim{}, false, err
	}
	token := hex.EncodeToString(b)

	ok, err := rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return Claim{}, false, fmt.Errorf("claim %s: %w", key, err)
	}
	if !ok {
		return Claim{}, false, nil
	}
	return Claim{Key: key, Token: token}, true, nil
}

// ReleaseClaim deletes the key only if it is still held by c.
func ReleaseClaim(ctx context.Context, rdb *redis.Client, c Claim) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if c.Key == "" {
		return nil
	}
	_, err := releaseClaimScript.Run(ctx, rdb, []string{c.Key}, c.Token).Result()
	return err
}
