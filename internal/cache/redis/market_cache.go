package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// snapshotTTL bounds how stale a served market snapshot can be. It also sets
// the effective per-ticker rate limit on market refetches.
const snapshotTTL = 30 * time.Second

// MarketCache implements domain.MarketCache using Redis string keys holding
// JSON-serialized snapshots.
//
// Key schema:
//
//	market:snap:{ticker} - JSON MarketSnapshot, 30s TTL
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func snapshotKey(ticker string) string { return "market:snap:" + ticker }

// Set stores a snapshot with the standard TTL.
func (mc *MarketCache) Set(ctx context.Context, snap domain.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.Ticker, err)
	}

	if err := mc.rdb.Set(ctx, snapshotKey(snap.Ticker), data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Ticker, err)
	}
	return nil
}

// Get retrieves a snapshot by ticker. It returns domain.ErrNotFound when the
// key does not exist or has expired.
func (mc *MarketCache) Get(ctx context.Context, ticker string) (domain.MarketSnapshot, error) {
	data, err := mc.rdb.Get(ctx, snapshotKey(ticker)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", ticker, err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", ticker, err)
	}
	return snap, nil
}

// Bust removes a ticker's cached snapshot so the next read must hit the
// exchange. Used when settlement state must be observed fresh.
func (mc *MarketCache) Bust(ctx context.Context, ticker string) error {
	if err := mc.rdb.Del(ctx, snapshotKey(ticker)).Err(); err != nil {
		return fmt.Errorf("redis: bust snapshot %s: %w", ticker, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
