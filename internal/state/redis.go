package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"alertbot-go/internal/signal"
)

const defaultMirrorTTL = 15 * time.Minute

// PriceMirror receives a copy of cached prices and built snapshots.
type PriceMirror interface {
	MirrorPrice(ctx context.Context, symbol string, price float64) error
	MirrorSnapshot(ctx context.Context, snap signal.Snapshot) error
}

// Setter is the part of *redis.Client the mirror writes through.
type Setter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisMirror writes latest:<symbol> and snapshot:<symbol> keys with a TTL.
// Nothing reads them back at startup.
type RedisMirror struct {
	client Setter
	ttl    time.Duration
}

// NewRedisClient connects to addr.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// NewRedisMirror wraps client; ttl <= 0 uses 15 minutes.
func NewRedisMirror(client Setter, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = defaultMirrorTTL
	}
	return &RedisMirror{client: client, ttl: ttl}
}

// MirrorPrice stores the latest trade price.
func (m *RedisMirror) MirrorPrice(ctx context.Context, symbol string, price float64) error {
	key := "latest:" + symbol
	if err := m.client.Set(ctx, key, strconv.FormatFloat(price, 'f', -1, 64), m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// MirrorSnapshot stores the snapshot as JSON.
func (m *RedisMirror) MirrorSnapshot(ctx context.Context, snap signal.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	key := "snapshot:" + snap.Symbol
	if err := m.client.Set(ctx, key, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
