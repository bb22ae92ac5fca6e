package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DailyEquityCache persists the account equity recorded at the start of
// each UTC day so the daily-loss gate survives restarts. Entries expire
// after 48 hours.
type DailyEquityCache struct {
	rdb *redis.Client
}

// NewDailyEquityCache creates a DailyEquityCache backed by the given Client.
func NewDailyEquityCache(c *Client) *DailyEquityCache {
	return &DailyEquityCache{rdb: c.Underlying()}
}

func equityKey(day time.Time) string {
	return "equity:" + day.UTC().Format("2006-01-02")
}

// SetDayStart records the day's opening equity. It only writes when no
// value exists yet, so the first writer of the day wins.
func (dc *DailyEquityCache) SetDayStart(ctx context.Context, day time.Time, equity float64) error {
	val := strconv.FormatFloat(equity, 'f', -1, 64)
	if err := dc.rdb.SetNX(ctx, equityKey(day), val, 48*time.Hour).Err(); err != nil {
		return fmt.Errorf("redis: set day-start equity: %w", err)
	}
	return nil
}

// GetDayStart returns the day's opening equity, or false when none was
// recorded.
func (dc *DailyEquityCache) GetDayStart(ctx context.Context, day time.Time) (float64, bool, error) {
	val, err := dc.rdb.Get(ctx, equityKey(day)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis: get day-start equity: %w", err)
	}
	equity, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: parse day-start equity: %w", err)
	}
	return equity, true, nil
}
