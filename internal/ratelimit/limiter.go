// Package ratelimit is the Redis-backed request limiter used by the
// stream daemon on connect-heavy endpoints. Windows are per key (hashed
// client IP), fixed from the first request in the window.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

// Decision is the outcome of one limit check.
type Decision struct {
	Limit      int
	Remaining  int
	RetryAfter int // Seconds
	Allowed    bool
}

// LimitConfig is one named limit.
type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

// Limiter counts requests per key in Redis so every streamd replica
// shares one budget.
type Limiter struct {
	client *redis.Client
	salt   string
}

// NewLimiter builds a limiter. The salt keeps hashed IP keys stable
// across restarts without storing raw addresses.
func NewLimiter(client *redis.Client, salt string) *Limiter {
	if salt == "" {
		salt = "siteguard-rl"
	}
	return &Limiter{client: client, salt: salt}
}

// HashIP creates a privacy-safe hash of a client address.
func (l *Limiter) HashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip + l.salt))
	return hex.EncodeToString(hash[:16])
}

// incrScript bumps the window counter, arming the expiry on first touch
// so the whole check is one atomic round trip.
var incrScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// Check counts the request against the key's window. Redis being down
// surfaces as ErrRedisUnavailable; the caller decides whether to fail
// open.
func (l *Limiter) Check(ctx context.Context, key string, cfg LimitConfig) (*Decision, error) {
	count, err := incrScript.Run(ctx, l.client, []string{"rl:" + key}, cfg.Window.Milliseconds()).Int()
	if err != nil {
		return nil, ErrRedisUnavailable
	}

	remaining := cfg.Rate - count
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Limit:      cfg.Rate,
		Remaining:  remaining,
		RetryAfter: int(cfg.Window.Seconds()),
		Allowed:    count <= cfg.Rate,
	}, nil
}
