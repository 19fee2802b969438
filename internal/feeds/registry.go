// Package feeds keeps the live feed instances. Each instance fetches the
// newest activity for one configuration, renders it into an HTML fragment and
// reports its lifecycle to subscribers.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/stravafeeds/internal/cache/activitycache"
	"github.com/mohammed-shakir/stravafeeds/internal/core/model"
	"github.com/mohammed-shakir/stravafeeds/internal/core/observability"
	"github.com/mohammed-shakir/stravafeeds/internal/core/stravaapi"
	mylog "github.com/mohammed-shakir/stravafeeds/internal/logger"
	"github.com/mohammed-shakir/stravafeeds/internal/mapper"
	"github.com/mohammed-shakir/stravafeeds/internal/render"
)

var (
	ErrNotFound     = errors.New("feed not found")
	ErrInvalidInput = errors.New("invalid feed input")
)

type Handle string

// Loader returns the activities for a configuration.
type Loader interface {
	Get(ctx context.Context, fc model.FeedConfig) (activitycache.Result, error)
	Invalidate(ctx context.Context, fc model.FeedConfig)
}

type Renderer interface {
	Render(a model.Activity, s model.Settings, target string) (render.Fragment, error)
}

// Spec describes a feed to create. OnEvent, when set, is subscribed before
// the first event fires.
type Spec struct {
	Target      string
	Method      string
	AccessToken string
	Options     model.Options
	OnEvent     func(Event)
}

// Snapshot is the public view of an instance. It never carries the token.
type Snapshot struct {
	Handle     Handle         `json:"handle"`
	Target     string         `json:"target"`
	Method     string         `json:"method"`
	Settings   model.Settings `json:"settings"`
	ActivityID int64          `json:"activity_id"`
	AthleteID  int64          `json:"athlete_id,omitempty"`
	Region     string         `json:"region,omitempty"`
	Zoom       *int           `json:"zoom,omitempty"`
	Tier       string         `json:"tier"`
	LoadedAt   time.Time      `json:"loaded_at"`
}

type Options struct {
	Sink   Sink
	Logger *slog.Logger

	// Tagger and EventRegionRes coarsen the fragment region for events.
	// Events carry no region when Tagger is nil.
	Tagger         mapper.RegionTagger
	EventRegionRes int
}

type instance struct {
	handle   Handle
	target   string
	method   string
	token    string
	settings model.Settings

	frag      render.Fragment
	athleteID int64
	tier      string
	loadedAt  time.Time

	// gen increases on every load so an older load cannot overwrite a newer one
	gen     uint64
	subs    map[uint64]func(Event)
	nextSub uint64
}

func (in *instance) config() model.FeedConfig {
	return model.FeedConfig{Method: in.method, AccessToken: in.token, PerPage: in.settings.PerPage}
}

type Registry struct {
	mu    sync.RWMutex
	items map[Handle]*instance

	loader   Loader
	renderer Renderer
	sink     Sink
	tagger   mapper.RegionTagger
	evRes    int
	logger   *slog.Logger

	now       func() time.Time
	newHandle func() Handle
}

func New(loader Loader, renderer Renderer, o Options) (*Registry, error) {
	if loader == nil {
		return nil, errors.New("feeds: nil loader")
	}
	if renderer == nil {
		return nil, errors.New("feeds: nil renderer")
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.EventRegionRes <= 0 {
		o.EventRegionRes = 5
	}
	return &Registry{
		items:     make(map[Handle]*instance),
		loader:    loader,
		renderer:  renderer,
		sink:      o.Sink,
		tagger:    o.Tagger,
		evRes:     o.EventRegionRes,
		logger:    o.Logger,
		now:       time.Now,
		newHandle: func() Handle { return Handle(uuid.NewString()) },
	}, nil
}

// Create validates spec, loads and renders its newest activity and registers
// the instance. Nothing is registered when loading fails.
func (r *Registry) Create(ctx context.Context, spec Spec) (Handle, error) {
	target := strings.TrimSpace(spec.Target)
	if target == "" {
		return "", fmt.Errorf("%w: target is required", ErrInvalidInput)
	}
	if err := stravaapi.ValidateMethod(spec.Method); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(spec.AccessToken) == "" {
		return "", fmt.Errorf("%w: access token is required", ErrInvalidInput)
	}
	settings := model.DefaultSettings().Merge(spec.Options)
	if err := settings.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	in := &instance{
		handle:   r.newHandle(),
		target:   target,
		method:   strings.TrimSpace(spec.Method),
		token:    spec.AccessToken,
		settings: settings,
		subs:     make(map[uint64]func(Event)),
	}
	if spec.OnEvent != nil {
		in.subs[0] = spec.OnEvent
		in.nextSub = 1
	}

	r.emit(in, EventInit, render.Fragment{})
	l, err := r.load(ctx, in, in.config(), in.settings)
	if err != nil {
		return "", err
	}
	in.apply(l, r.now())

	r.mu.Lock()
	r.items[in.handle] = in
	n := len(r.items)
	r.mu.Unlock()
	observability.SetFeedInstances(n)

	lctx := mylog.WithCacheTier(mylog.WithFeed(ctx, string(in.handle)), l.tier)
	r.logger.LogAttrs(lctx, slog.LevelInfo, "feed created",
		slog.String("target", in.target),
		slog.Int64("activity_id", l.frag.ActivityID),
	)
	r.attached(in, l.frag)
	return in.handle, nil
}

type loaded struct {
	frag      render.Fragment
	athleteID int64
	tier      string
}

// load fetches and renders. It emits getjson before fetching.
func (r *Registry) load(ctx context.Context, in *instance, fc model.FeedConfig, s model.Settings) (loaded, error) {
	r.emit(in, EventGetJSON, render.Fragment{})

	res, err := r.loader.Get(ctx, fc)
	if err != nil {
		return loaded{}, err
	}
	if len(res.Activities) == 0 {
		return loaded{}, stravaapi.ErrNoActivities
	}
	a := res.Activities[0]
	frag, err := r.renderer.Render(a, s, in.target)
	if err != nil {
		return loaded{}, fmt.Errorf("render activity %d: %w", a.ID, err)
	}
	return loaded{frag: frag, athleteID: a.Athlete.ID, tier: res.Tier}, nil
}

func (in *instance) apply(l loaded, at time.Time) {
	in.frag, in.athleteID, in.tier, in.loadedAt = l.frag, l.athleteID, l.tier, at
}

func (r *Registry) attached(in *instance, frag render.Fragment) {
	r.emit(in, EventAttachElement, frag)
	if frag.Viewport != nil {
		r.emit(in, EventAttachMap, frag)
	}
}

// Refresh drops the cached activities of each instance, reloads it and
// re-renders its fragment under the same handle. No handles means all.
func (r *Registry) Refresh(ctx context.Context, handles ...Handle) error {
	if len(handles) == 0 {
		handles = r.handles()
	}
	var errs []error
	for _, h := range handles {
		if err := r.refreshOne(ctx, h, nil, EventRefresh); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", h, err))
		}
	}
	return errors.Join(errs...)
}

// Update merges opts into the settings of h and refreshes it. Settings are
// only replaced once the reload succeeds.
func (r *Registry) Update(ctx context.Context, h Handle, opts model.Options) error {
	r.mu.RLock()
	in, ok := r.items[h]
	var settings model.Settings
	if ok {
		settings = in.settings.Merge(opts)
	}
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("update %s: %w", h, ErrNotFound)
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := r.refreshOne(ctx, h, &settings, EventUpdate); err != nil {
		return fmt.Errorf("update %s: %w", h, err)
	}
	return nil
}

func (r *Registry) refreshOne(ctx context.Context, h Handle, next *model.Settings, kind EventKind) error {
	r.mu.Lock()
	in, ok := r.items[h]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	in.gen++
	gen := in.gen
	settings := in.settings
	if next != nil {
		settings = *next
	}
	old := in.config()
	fc := old
	fc.PerPage = settings.PerPage
	r.mu.Unlock()

	r.emit(in, kind, render.Fragment{})
	r.loader.Invalidate(ctx, old)
	if fc != old {
		r.loader.Invalidate(ctx, fc)
	}

	l, err := r.load(ctx, in, fc, settings)
	if err != nil {
		return err
	}

	r.mu.Lock()
	cur, ok := r.items[h]
	if !ok || cur != in {
		r.mu.Unlock()
		return ErrNotFound
	}
	if in.gen != gen {
		r.mu.Unlock()
		return nil
	}
	in.settings = settings
	in.apply(l, r.now())
	r.mu.Unlock()

	lctx := mylog.WithCacheTier(mylog.WithFeed(ctx, string(h)), l.tier)
	r.logger.LogAttrs(lctx, slog.LevelInfo, "feed reloaded",
		slog.String("event", string(kind)),
		slog.Int64("activity_id", l.frag.ActivityID),
	)
	r.attached(in, l.frag)
	return nil
}

// Destroy removes the instances. No handles means all. Unknown handles are
// reported after the known ones are removed.
func (r *Registry) Destroy(ctx context.Context, handles ...Handle) error {
	if len(handles) == 0 {
		handles = r.handles()
	}
	var (
		removed []*instance
		errs    []error
	)
	r.mu.Lock()
	for _, h := range handles {
		in, ok := r.items[h]
		if !ok {
			errs = append(errs, fmt.Errorf("destroy %s: %w", h, ErrNotFound))
			continue
		}
		delete(r.items, h)
		removed = append(removed, in)
	}
	n := len(r.items)
	r.mu.Unlock()
	observability.SetFeedInstances(n)

	for _, in := range removed {
		r.emit(in, EventDestroy, in.frag)
		r.logger.InfoContext(mylog.WithFeed(ctx, string(in.handle)), "feed destroyed")
	}
	return errors.Join(errs...)
}

// Subscribe registers fn for the events of h. The returned cancel func is
// idempotent.
func (r *Registry) Subscribe(h Handle, fn func(Event)) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil subscriber", ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.items[h]
	if !ok {
		return nil, fmt.Errorf("subscribe %s: %w", h, ErrNotFound)
	}
	id := in.nextSub
	in.nextSub++
	in.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(in.subs, id)
			r.mu.Unlock()
		})
	}, nil
}

func (r *Registry) Get(h Handle) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.items[h]
	if !ok {
		return Snapshot{}, fmt.Errorf("get %s: %w", h, ErrNotFound)
	}
	return snapshot(in), nil
}

// Fragment returns the rendered HTML of h.
func (r *Registry) Fragment(h Handle) (template.HTML, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.items[h]
	if !ok {
		return "", fmt.Errorf("fragment %s: %w", h, ErrNotFound)
	}
	return in.frag.HTML, nil
}

// Feeds lists every instance ordered by target then handle.
func (r *Registry) Feeds() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.items))
	for _, in := range r.items {
		out = append(out, snapshot(in))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Registry) handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handle, 0, len(r.items))
	for h := range r.items {
		out = append(out, h)
	}
	return out
}

func snapshot(in *instance) Snapshot {
	s := Snapshot{
		Handle:     in.handle,
		Target:     in.target,
		Method:     in.method,
		Settings:   in.settings,
		ActivityID: in.frag.ActivityID,
		AthleteID:  in.athleteID,
		Region:     in.frag.Region,
		Tier:       in.tier,
		LoadedAt:   in.loadedAt,
	}
	if in.frag.Viewport != nil {
		z := in.frag.Viewport.Zoom
		s.Zoom = &z
	}
	return s
}

// emit delivers ev to the subscribers of in, then to the sink. Subscribers
// run outside the lock and may call back into the registry.
func (r *Registry) emit(in *instance, kind EventKind, frag render.Fragment) {
	ev := Event{
		Kind:       kind,
		Handle:     in.handle,
		Target:     in.target,
		ActivityID: frag.ActivityID,
		Region:     r.eventRegion(frag.Region),
		TS:         r.now().UTC(),
	}

	r.mu.RLock()
	ids := make([]uint64, 0, len(in.subs))
	for id := range in.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, in.subs[id])
	}
	r.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
	if r.sink != nil {
		r.sink.Publish(ev)
	}
	observability.IncFeedEvent(string(kind))
}

func (r *Registry) eventRegion(cell string) string {
	if cell == "" || r.tagger == nil {
		return ""
	}
	parent, err := r.tagger.ToParent(cell, r.evRes)
	if err != nil {
		r.logger.Debug("event region", "cell", cell, "err", err)
		return ""
	}
	return parent
}
