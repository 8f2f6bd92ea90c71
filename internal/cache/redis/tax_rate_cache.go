package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// TaxRateCache implements domain.TaxRateCache using Redis hashes. Each
// market's rate is stored at "taxrate:{marketID}" with fields "rate" and
// "ts" (Unix nanoseconds of the lookup), expiring after the caller's TTL.
type TaxRateCache struct {
	c *Client
}

// NewTaxRateCache creates a TaxRateCache backed by the given Client.
func NewTaxRateCache(c *Client) *TaxRateCache {
	return &TaxRateCache{c: c}
}

func (tc *TaxRateCache) rateKey(marketID string) string {
	return tc.c.key("taxrate:" + marketID)
}

// SetRate stores a market's rate for ttl.
func (tc *TaxRateCache) SetRate(ctx context.Context, marketID string, rate float64, ttl time.Duration) error {
	key := tc.rateKey(marketID)
	fields := map[string]interface{}{
		"rate": strconv.FormatFloat(rate, 'f', -1, 64),
		"ts":   strconv.FormatInt(time.Now().UnixNano(), 10),
	}
	pipe := tc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set tax rate %s: %w", marketID, err)
	}
	return nil
}

// GetRate returns the cached rate, or domain.ErrNotFound on a miss.
func (tc *TaxRateCache) GetRate(ctx context.Context, marketID string) (float64, error) {
	rateStr, err := tc.c.rdb.HGet(ctx, tc.rateKey(marketID), "rate").Result()
	if err != nil {
		if err == redis.Nil {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("redis: get tax rate %s: %w", marketID, err)
	}
	rate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse tax rate %s: %w", marketID, err)
	}
	return rate, nil
}

// Compile-time interface check.
var _ domain.TaxRateCache = (*TaxRateCache)(nil)
