package taxpolicy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

var errDown = errors.New("connection refused")

type fakePolicy struct {
	rates map[string]float64
	err   error
	calls int
}

func (f *fakePolicy) EffectiveTaxRate(_ context.Context, marketID string) (float64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	rate, ok := f.rates[marketID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return rate, nil
}

type fakeCache struct {
	rates   map[string]float64
	ttls    map[string]time.Duration
	readErr error
	setErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{rates: map[string]float64{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCache) GetRate(_ context.Context, marketID string) (float64, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	rate, ok := f.rates[marketID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return rate, nil
}

func (f *fakeCache) SetRate(_ context.Context, marketID string, rate float64, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.rates[marketID] = rate
	f.ttls[marketID] = ttl
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStaticPrecedence(t *testing.T) {
	t.Parallel()
	fallback := &fakePolicy{rates: map[string]float64{"harbor": 0.2, "mine": 0.3}}
	p := Static{
		Default:   0.1,
		Overrides: map[string]float64{"mine": 0.05},
		Fallback:  fallback,
	}
	ctx := context.Background()

	for _, tc := range []struct {
		market string
		want   float64
	}{
		{"mine", 0.05},
		{"harbor", 0.2},
		{"unknown", 0.1},
	} {
		rate, err := p.EffectiveTaxRate(ctx, tc.market)
		assert.NoError(t, err)
		check.Equal(t, tc.want, rate)
	}
}

func TestStaticWithoutFallback(t *testing.T) {
	t.Parallel()
	rate, err := Static{Default: 0.15}.EffectiveTaxRate(context.Background(), "any")
	assert.NoError(t, err)
	check.Equal(t, 0.15, rate)
}

func TestStaticFallbackFailure(t *testing.T) {
	t.Parallel()
	p := Static{Default: 0.1, Fallback: &fakePolicy{err: errDown}}
	_, err := p.EffectiveTaxRate(context.Background(), "harbor")
	check.True(t, errors.Is(err, errDown))
}

func TestCachedReadsThrough(t *testing.T) {
	t.Parallel()
	inner := &fakePolicy{rates: map[string]float64{"harbor": 0.2}}
	cache := newFakeCache()
	p := NewCached(inner, cache, 30*time.Second, discard())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rate, err := p.EffectiveTaxRate(ctx, "harbor")
		assert.NoError(t, err)
		check.Equal(t, 0.2, rate)
	}
	check.Equal(t, 1, inner.calls)
	check.Equal(t, 30*time.Second, cache.ttls["harbor"])
}

func TestCachedSurvivesCacheOutage(t *testing.T) {
	t.Parallel()
	inner := &fakePolicy{rates: map[string]float64{"harbor": 0.2}}
	cache := newFakeCache()
	cache.readErr = errDown
	cache.setErr = errDown
	p := NewCached(inner, cache, time.Minute, discard())

	rate, err := p.EffectiveTaxRate(context.Background(), "harbor")
	assert.NoError(t, err)
	check.Equal(t, 0.2, rate)
	check.Equal(t, 1, inner.calls)
}

func TestCachedPolicyFailure(t *testing.T) {
	t.Parallel()
	cache := newFakeCache()
	p := NewCached(&fakePolicy{err: errDown}, cache, time.Minute, discard())

	_, err := p.EffectiveTaxRate(context.Background(), "harbor")
	check.True(t, errors.Is(err, errDown))
	check.Equal(t, 0, len(cache.rates))
}
