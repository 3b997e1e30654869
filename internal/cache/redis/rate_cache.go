package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

// RateCache implements domain.RateCache using one Redis hash per edge at
// "rate:{source}:{target}:{venue}" with fields "rate" and "ts" (Unix nanos).
// Entries expire after ttl so a stalled writer cannot leave stale rates
// looking current.
type RateCache struct {
	c   *Client
	ttl time.Duration
}

// NewRateCache creates a RateCache. A zero ttl disables expiry.
func NewRateCache(c *Client, ttl time.Duration) *RateCache {
	return &RateCache{c: c, ttl: ttl}
}

func (rc *RateCache) rateKey(k domain.EdgeKey) string {
	return rc.c.Key("rate", k.Source, k.Target, k.Venue)
}

// SetRates writes all edges in one pipeline.
func (rc *RateCache) SetRates(ctx context.Context, edges []domain.TradingEdge) error {
	if len(edges) == 0 {
		return nil
	}
	rdb := rc.c.Underlying()
	_, err := rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range edges {
			key := rc.rateKey(e.EdgeKey)
			pipe.HSet(ctx, key, encodeRate(e))
			if rc.ttl > 0 {
				pipe.Expire(ctx, key, rc.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set %d rates: %w", len(edges), err)
	}
	return nil
}

// GetRate returns the cached edge or domain.ErrNotFound.
func (rc *RateCache) GetRate(ctx context.Context, key domain.EdgeKey) (domain.TradingEdge, error) {
	vals, err := rc.c.Underlying().HGetAll(ctx, rc.rateKey(key)).Result()
	if err != nil {
		return domain.TradingEdge{}, fmt.Errorf("redis: get rate %s: %w", key, err)
	}
	if len(vals) == 0 {
		return domain.TradingEdge{}, fmt.Errorf("redis: rate %s: %w", key, domain.ErrNotFound)
	}
	e, err := decodeRate(key, vals)
	if err != nil {
		return domain.TradingEdge{}, fmt.Errorf("redis: rate %s: %w", key, err)
	}
	return e, nil
}

func encodeRate(e domain.TradingEdge) map[string]any {
	return map[string]any{
		"rate": strconv.FormatFloat(e.Rate, 'g', -1, 64),
		"ts":   strconv.FormatInt(e.LastUpdated.UnixNano(), 10),
	}
}

func decodeRate(key domain.EdgeKey, vals map[string]string) (domain.TradingEdge, error) {
	rateStr, ok := vals["rate"]
	if !ok {
		return domain.TradingEdge{}, domain.ErrNotFound
	}
	rate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return domain.TradingEdge{}, fmt.Errorf("parse rate: %w", err)
	}
	e := domain.TradingEdge{EdgeKey: key, Rate: rate}
	if tsStr, ok := vals["ts"]; ok {
		ns, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return domain.TradingEdge{}, fmt.Errorf("parse ts: %w", err)
		}
		e.LastUpdated = time.Unix(0, ns)
	}
	return e, nil
}

var _ domain.RateCache = (*RateCache)(nil)
