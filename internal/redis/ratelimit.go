package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Rate limiting key pattern:
// - ratelimit:{scope}:{ip} - fixed window counter, TTL = window

// RateLimitConfig contains configuration for rate limiting
type RateLimitConfig struct {
	Limit  int           // Max requests per window
	Window time.Duration // Window length
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limit:  50,
		Window: 15 * time.Minute,
	}
}

// RateLimiter handles rate limiting using Redis
type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool          // Whether the action is allowed
	Remaining int           // Remaining actions in the window
	ResetIn   time.Duration // Time until the window resets
	Limit     int           // The limit for this action
}

func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	defaults := DefaultRateLimitConfig()
	if config.Limit <= 0 {
		config.Limit = defaults.Limit
	}
	if config.Window < time.Second {
		config.Window = defaults.Window
	}
	return &RateLimiter{
		client: client,
		config: config,
	}
}

var checkLimitScript = goredis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end

	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
	end

	if current < limit then
		redis.call('INCR', key)
		if ttl == window then
			redis.call('EXPIRE', key, window)
		end
		return {1, limit - current - 1, ttl}
	else
		return {0, 0, ttl}
	end
`)

// Allow counts one request from ip against scope.
func (r *RateLimiter) Allow(ctx context.Context, scope, ip string) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", scope, ip)
	return r.checkLimit(ctx, key, r.config.Limit, r.config.Window)
}

// checkLimit increments and checks the counter atomically.
func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	result, err := checkLimitScript.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}
	allowed, ok1 := resultSlice[0].(int64)
	remaining, ok2 := resultSlice[1].(int64)
	ttl, ok3 := resultSlice[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}

	return &RateLimitResult{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		ResetIn:   time.Duration(ttl) * time.Second,
		Limit:     limit,
	}, nil
}

// Reset clears the counter for ip in scope.
func (r *RateLimiter) Reset(ctx context.Context, scope, ip string) error {
	return r.client.Del(ctx, fmt.Sprintf("ratelimit:%s:%s", scope, ip)).Err()
}
