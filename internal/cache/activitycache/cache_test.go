package activitycache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/stravafeeds/internal/cache/keys"
	"github.com/mohammed-shakir/stravafeeds/internal/cache/redisstore"
	"github.com/mohammed-shakir/stravafeeds/internal/core/model"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	acts  []model.Activity
	err   error
}

func (f *fakeFetcher) FetchActivities(_ context.Context, _ model.FeedConfig) ([]model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.acts, f.err
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var fc = model.FeedConfig{Method: "/v3/athlete/activities", AccessToken: "tok", PerPage: 1}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redisstore.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func TestGet_TiersInOrder(t *testing.T) {
	_, rc := newRedis(t)
	f := &fakeFetcher{acts: []model.Activity{{ID: 1, Name: "Ride"}}}

	c, err := New(f, rc, Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	r, err := c.Get(ctx, fc)
	if err != nil || r.Tier != TierUpstream || r.Activities[0].ID != 1 {
		t.Fatalf("first get: %+v err=%v", r, err)
	}

	r, err = c.Get(ctx, fc)
	if err != nil || r.Tier != TierLRU {
		t.Fatalf("second get tier=%q err=%v want lru", r.Tier, err)
	}

	// a second process sharing redis starts with a cold LRU
	c2, err := New(f, rc, Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("New c2: %v", err)
	}
	r, err = c2.Get(ctx, fc)
	if err != nil || r.Tier != TierStore || r.Activities[0].Name != "Ride" {
		t.Fatalf("shared get: %+v err=%v want redis", r, err)
	}

	if f.count() != 1 {
		t.Fatalf("upstream calls=%d want 1", f.count())
	}
}

func TestGet_LRUEntryExpires(t *testing.T) {
	f := &fakeFetcher{acts: []model.Activity{{ID: 1}}}
	c, err := New(f, nil, Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	if _, err := c.Get(ctx, fc); err != nil {
		t.Fatalf("Get: %v", err)
	}
	now = now.Add(2 * time.Minute)
	r, err := c.Get(ctx, fc)
	if err != nil || r.Tier != TierUpstream {
		t.Fatalf("tier=%q err=%v want upstream after expiry", r.Tier, err)
	}
	if f.count() != 2 {
		t.Fatalf("upstream calls=%d want 2", f.count())
	}
}

func TestInvalidate_DropsBothTiers(t *testing.T) {
	mr, rc := newRedis(t)
	f := &fakeFetcher{acts: []model.Activity{{ID: 1}}}
	c, err := New(f, rc, Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if _, err := c.Get(ctx, fc); err != nil {
		t.Fatalf("Get: %v", err)
	}
	key := keys.ActivityKey(fc.Method, fc.PerPage, fc.AccessToken)
	if !mr.Exists(key) {
		t.Fatalf("expected %s in redis", key)
	}

	c.Invalidate(ctx, fc)
	if mr.Exists(key) {
		t.Fatalf("expected %s removed from redis", key)
	}
	r, err := c.Get(ctx, fc)
	if err != nil || r.Tier != TierUpstream {
		t.Fatalf("tier=%q err=%v want upstream", r.Tier, err)
	}
}

func TestGet_StoreFailureFallsBackToUpstream(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	mr.Close()

	f := &fakeFetcher{acts: []model.Activity{{ID: 9}}}
	c, err := New(f, rc, Options{TTL: time.Minute, OpTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := c.Get(context.Background(), fc)
	if err != nil {
		t.Fatalf("Get must not fail when redis is down: %v", err)
	}
	if r.Tier != TierUpstream || r.Activities[0].ID != 9 {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestGet_UpstreamErrorNotCached(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeFetcher{err: boom}
	c, err := New(f, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if _, err := c.Get(ctx, fc); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	if _, err := c.Get(ctx, fc); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	if f.count() != 2 {
		t.Fatalf("failed fetches must not be cached; calls=%d", f.count())
	}
}

type gatedFetcher struct {
	fakeFetcher
	entered chan struct{}
	release chan struct{}
}

func (g *gatedFetcher) FetchActivities(ctx context.Context, fc model.FeedConfig) ([]model.Activity, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.fakeFetcher.FetchActivities(ctx, fc)
}

func TestGet_ConcurrentMissesShareUpstreamCall(t *testing.T) {
	g := &gatedFetcher{
		fakeFetcher: fakeFetcher{acts: []model.Activity{{ID: 9}}},
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	c, err := New(g, nil, Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), fc)
		}(i)
	}

	<-g.entered
	// let the other callers queue behind the in-flight fetch
	time.Sleep(50 * time.Millisecond)
	close(g.release)
	wg.Wait()

	if got := g.count(); got != 1 {
		t.Fatalf("upstream calls=%d want 1", got)
	}
	for i := range results {
		if errs[i] != nil || len(results[i].Activities) != 1 || results[i].Activities[0].ID != 9 {
			t.Fatalf("caller %d: %+v err=%v", i, results[i], errs[i])
		}
	}
}
