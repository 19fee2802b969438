package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/stravafeeds/internal/cache/activitycache"
	"github.com/mohammed-shakir/stravafeeds/internal/core/config"
	"github.com/mohammed-shakir/stravafeeds/internal/core/health"
	"github.com/mohammed-shakir/stravafeeds/internal/core/model"
	"github.com/mohammed-shakir/stravafeeds/internal/core/router"
	"github.com/mohammed-shakir/stravafeeds/internal/feeds"
	"github.com/mohammed-shakir/stravafeeds/internal/render"
)

type noFetch struct{}

func (noFetch) FetchActivities(context.Context, model.FeedConfig) ([]model.Activity, error) {
	return nil, errors.New("offline")
}

func newHandler(t *testing.T, cfg config.Config, deps map[string]health.Pinger) http.Handler {
	t.Helper()
	c, err := activitycache.New(noFetch{}, nil, activitycache.Options{})
	if err != nil {
		t.Fatalf("activitycache.New: %v", err)
	}
	reg, err := feeds.New(c, render.New(nil, 0), feeds.Options{})
	if err != nil {
		t.Fatalf("feeds.New: %v", err)
	}
	return Handler(cfg, nil, router.New(nil, reg, 400), deps)
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHandler_Routes(t *testing.T) {
	cfg := config.Config{CORSOrigins: []string{"*"}, CacheOpTimeout: 250 * time.Millisecond}
	h := newHandler(t, cfg, nil)

	if rr := get(h, "/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("/healthz=%d", rr.Code)
	}
	if rr := get(h, "/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("/readyz=%d", rr.Code)
	}
	rr := get(h, "/metrics")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "feed_instances") {
		t.Fatalf("/metrics=%d", rr.Code)
	}
	if rr := get(h, "/feeds"); rr.Code != http.StatusOK {
		t.Fatalf("/feeds=%d", rr.Code)
	}
	vp := get(h, "/viewport?south=40&west=-74.5&north=40.5&east=-74")
	if vp.Code != http.StatusOK {
		t.Fatalf("/viewport=%d", vp.Code)
	}
	if vp.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}
}

func TestHandler_NilLoggerRecoversPanics(t *testing.T) {
	h := newHandler(t, config.Config{CacheOpTimeout: 250 * time.Millisecond}, nil)
	mux, ok := h.(*chi.Mux)
	if !ok {
		t.Fatalf("handler is %T, want *chi.Mux", h)
	}
	mux.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	if rr := get(h, "/boom"); rr.Code != http.StatusInternalServerError {
		t.Fatalf("/boom=%d want 500", rr.Code)
	}
}

func TestHandler_ReadyzReportsDeps(t *testing.T) {
	deps := map[string]health.Pinger{
		"redis": health.PingerFunc(func(context.Context) error { return errors.New("down") }),
	}
	h := newHandler(t, config.Config{CacheOpTimeout: 250 * time.Millisecond}, deps)
	if rr := get(h, "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz=%d want 503", rr.Code)
	}
}

func TestHandler_MetricsOnSeparateListener(t *testing.T) {
	cfg := config.Config{MetricsEnabled: true, MetricsAddr: ":9090", CacheOpTimeout: time.Second}
	h := newHandler(t, cfg, nil)
	if rr := get(h, "/metrics"); rr.Code != http.StatusNotFound {
		t.Fatalf("/metrics=%d want 404 when served separately", rr.Code)
	}
}
