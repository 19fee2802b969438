// Package cache holds fetched activity lists so repeated renders skip the upstream API.
package cache

import (
	"context"
	"time"
)

// Store is a byte store with per-key expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
