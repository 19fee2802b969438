// Package activitycache is a read-through cache in front of the activity API:
// an in-process LRU tier, an optional shared store tier, then the upstream.
package activitycache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/stravafeeds/internal/cache"
	"github.com/mohammed-shakir/stravafeeds/internal/cache/keys"
	"github.com/mohammed-shakir/stravafeeds/internal/core/model"
	"github.com/mohammed-shakir/stravafeeds/internal/core/observability"
	"github.com/mohammed-shakir/stravafeeds/internal/core/stravaapi"
)

const (
	TierLRU      = "lru"
	TierStore    = "redis"
	TierUpstream = "upstream"
)

type Options struct {
	TTL       time.Duration
	LRUSize   int
	OpTimeout time.Duration
	Logger    *slog.Logger
}

type Result struct {
	Activities []model.Activity
	Tier       string
}

type entry struct {
	acts    []model.Activity
	expires time.Time
}

type Cache struct {
	fetch     stravaapi.Interface
	store     cache.Store
	lru       *lru.Cache[string, entry]
	flight    singleflight.Group
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New builds the cache; store may be nil to run with the LRU tier only.
func New(fetch stravaapi.Interface, store cache.Store, o Options) (*Cache, error) {
	if fetch == nil {
		return nil, fmt.Errorf("activitycache: fetcher is required")
	}
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.LRUSize <= 0 {
		o.LRUSize = 256
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 250 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	l, err := lru.New[string, entry](o.LRUSize)
	if err != nil {
		return nil, fmt.Errorf("activitycache: lru: %w", err)
	}
	return &Cache{
		fetch:     fetch,
		store:     store,
		lru:       l,
		ttl:       o.TTL,
		opTimeout: o.OpTimeout,
		logger:    o.Logger,
		now:       time.Now,
	}, nil
}

// Get returns the activities for fc from the first tier holding them.
func (c *Cache) Get(ctx context.Context, fc model.FeedConfig) (Result, error) {
	key := keys.ActivityKey(fc.Method, fc.PerPage, fc.AccessToken)

	if e, ok := c.lru.Get(key); ok {
		if c.now().Before(e.expires) {
			observability.IncCacheHit(TierLRU)
			return Result{Activities: e.acts, Tier: TierLRU}, nil
		}
		c.lru.Remove(key)
	}
	observability.IncCacheMiss(TierLRU)

	if acts, ok := c.storeGet(ctx, key); ok {
		observability.IncCacheHit(TierStore)
		c.lru.Add(key, entry{acts: acts, expires: c.now().Add(c.ttl)})
		return Result{Activities: acts, Tier: TierStore}, nil
	}

	// concurrent misses for one key share a single upstream call
	v, err, _ := c.flight.Do(key, func() (any, error) {
		acts, err := c.fetch.FetchActivities(ctx, fc)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, entry{acts: acts, expires: c.now().Add(c.ttl)})
		c.storeSet(ctx, key, acts)
		return acts, nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Activities: v.([]model.Activity), Tier: TierUpstream}, nil
}

// Invalidate drops fc from every tier.
func (c *Cache) Invalidate(ctx context.Context, fc model.FeedConfig) {
	key := keys.ActivityKey(fc.Method, fc.PerPage, fc.AccessToken)
	c.flight.Forget(key)
	c.lru.Remove(key)
	if c.store == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.store.Del(opCtx, key); err != nil {
		c.logger.WarnContext(ctx, "cache invalidate failed", "err", err)
	}
}

// store failures degrade to the upstream and are only logged
func (c *Cache) storeGet(ctx context.Context, key string) ([]model.Activity, bool) {
	if c.store == nil {
		return nil, false
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	b, ok, err := c.store.Get(opCtx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "cache read failed", "err", err)
		return nil, false
	}
	if !ok {
		observability.IncCacheMiss(TierStore)
		return nil, false
	}
	var acts []model.Activity
	if err := json.Unmarshal(b, &acts); err != nil {
		c.logger.WarnContext(ctx, "cache entry undecodable", "err", err)
		return nil, false
	}
	return acts, true
}

func (c *Cache) storeSet(ctx context.Context, key string, acts []model.Activity) {
	if c.store == nil {
		return
	}
	b, err := json.Marshal(acts)
	if err != nil {
		c.logger.WarnContext(ctx, "cache encode failed", "err", err)
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.store.Set(opCtx, key, b, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "cache write failed", "err", err)
	}
}
