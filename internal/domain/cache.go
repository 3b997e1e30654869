package domain

import (
	"context"
	"time"
)

// RateCache exposes the latest edge rates to other processes.
type RateCache interface {
	SetRates(ctx context.Context, edges []TradingEdge) error
	GetRate(ctx context.Context, key EdgeKey) (TradingEdge, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter admits at most limit events per key within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a durable stream.
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

// Bus channel and stream names shared by publishers and subscribers.
const (
	ChannelRates         = "rates"
	ChannelOpportunities = "opportunities"
	StreamOpportunities  = "stream:opportunities"
)
