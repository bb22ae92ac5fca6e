package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/futbot/internal/domain"
)

// slidingWindowLua atomically trims a sorted-set window, counts the
// remaining entries, and records the request when under the limit.
// Returns {allowed, count}.
const slidingWindowLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count < limit then
    redis.call('ZADD', key, now, now)
    redis.call('PEXPIRE', key, math.ceil(window / 1000))
    return {1, count + 1}
end
return {0, count}
`

// waitPollInterval is how often a blocked caller re-checks the window.
const waitPollInterval = 50 * time.Millisecond

// RateLimiter throttles outbound API calls with a sliding window backed
// by Redis sorted sets and an atomic Lua script. Sharing the window in
// Redis keeps concurrent loops in one process, or several replicas,
// under a single venue budget.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	limit         int
	window        time.Duration
}

// NewRateLimiter creates a RateLimiter allowing limit requests per window.
func NewRateLimiter(c *Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		limit:         limit,
		window:        window,
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// TryAllow checks whether a request for the given key is permitted
// right now. It returns true if the request is allowed (and counted),
// or false if the window budget is spent.
func (rl *RateLimiter) TryAllow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixMicro()
	windowMicro := rl.window.Microseconds()

	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		now,
		windowMicro,
		rl.limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}

	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit %s: unexpected result length %d", key, len(result))
	}

	return result[0] == 1, nil
}

// Allow blocks until a request for the given key fits the window,
// polling at a fixed interval. It returns a wrapped
// domain.ErrRateLimited when the context ends while still blocked.
func (rl *RateLimiter) Allow(ctx context.Context, key string) error {
	for {
		allowed, err := rl.TryAllow(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait %s: %w: %w", key, domain.ErrRateLimited, ctx.Err())
		case <-timer.C:
		}
	}
}
