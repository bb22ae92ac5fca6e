package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/futbot/internal/domain"
)

// markTTL bounds how long a cached mark price is served. Prices older
// than this are treated as missing so callers fall back to REST.
const markTTL = 10 * time.Second

// MarkPriceCache implements domain.PriceCache using Redis strings with
// a short TTL. The websocket feed writes, everything else reads.
type MarkPriceCache struct {
	rdb *redis.Client
}

// NewMarkPriceCache creates a MarkPriceCache backed by the given Client.
func NewMarkPriceCache(c *Client) *MarkPriceCache {
	return &MarkPriceCache{rdb: c.Underlying()}
}

func markKey(symbol string) string {
	return "mark:" + symbol
}

// SetMark stores the latest mark price for a symbol.
func (mc *MarkPriceCache) SetMark(ctx context.Context, symbol string, price float64) error {
	val := strconv.FormatFloat(price, 'f', -1, 64)
	if err := mc.rdb.Set(ctx, markKey(symbol), val, markTTL).Err(); err != nil {
		return fmt.Errorf("redis: set mark %s: %w", symbol, err)
	}
	return nil
}

// GetMark retrieves the latest mark price for a symbol. The second
// return is false when no fresh price is cached.
func (mc *MarkPriceCache) GetMark(ctx context.Context, symbol string) (float64, bool, error) {
	val, err := mc.rdb.Get(ctx, markKey(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis: get mark %s: %w", symbol, err)
	}
	price, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: parse mark %s: %w", symbol, err)
	}
	return price, true, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*MarkPriceCache)(nil)
