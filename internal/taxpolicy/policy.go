// Package taxpolicy provides the domain.TaxPolicy implementations the
// engine is wired with: a static table from configuration layered over a
// store-backed lookup, and a read-through cache decorator.
package taxpolicy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Static answers from per-market overrides, then from the fallback policy,
// then from Default. A nil fallback means overrides and Default only.
type Static struct {
	Default   float64
	Overrides map[string]float64
	Fallback  domain.TaxPolicy
}

// EffectiveTaxRate implements domain.TaxPolicy.
func (s Static) EffectiveTaxRate(ctx context.Context, marketID string) (float64, error) {
	if rate, ok := s.Overrides[marketID]; ok {
		return rate, nil
	}
	if s.Fallback == nil {
		return s.Default, nil
	}
	rate, err := s.Fallback.EffectiveTaxRate(ctx, marketID)
	if errors.Is(err, domain.ErrNotFound) {
		return s.Default, nil
	}
	if err != nil {
		return 0, fmt.Errorf("taxpolicy: lookup %s: %w", marketID, err)
	}
	return rate, nil
}

// Cached wraps a policy with a domain.TaxRateCache. Cache failures fall
// through to the wrapped policy; only a failure of the policy itself is
// returned.
type Cached struct {
	policy domain.TaxPolicy
	cache  domain.TaxRateCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached creates a Cached policy holding rates for ttl.
func NewCached(policy domain.TaxPolicy, cache domain.TaxRateCache, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cached{
		policy: policy,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "tax_cache")),
	}
}

// EffectiveTaxRate implements domain.TaxPolicy.
func (c *Cached) EffectiveTaxRate(ctx context.Context, marketID string) (float64, error) {
	rate, err := c.cache.GetRate(ctx, marketID)
	if err == nil {
		return rate, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		c.logger.WarnContext(ctx, "tax cache read failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}

	rate, err = c.policy.EffectiveTaxRate(ctx, marketID)
	if err != nil {
		return 0, err
	}
	if err := c.cache.SetRate(ctx, marketID, rate, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "tax cache write failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
	return rate, nil
}

var (
	_ domain.TaxPolicy = Static{}
	_ domain.TaxPolicy = (*Cached)(nil)
)
