package domain

import (
	"context"
	"time"
)

// TaxRateCache caches tax policy lookups.
type TaxRateCache interface {
	GetRate(ctx context.Context, marketID string) (float64, error)
	SetRate(ctx context.Context, marketID string, rate float64, ttl time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel names.
const (
	ChannelTrades = "trades"
	ChannelCycles = "cycles"
	ChannelXP     = "xp"
	StreamTrades  = "stream:trades"
)

// RateLimiter throttles requests per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
