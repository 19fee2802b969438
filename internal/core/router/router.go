package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/stravafeeds/internal/core/model"
	"github.com/mohammed-shakir/stravafeeds/internal/core/observability"
	"github.com/mohammed-shakir/stravafeeds/internal/core/stravaapi"
	"github.com/mohammed-shakir/stravafeeds/internal/core/viewport"
	"github.com/mohammed-shakir/stravafeeds/internal/feeds"
	mylog "github.com/mohammed-shakir/stravafeeds/internal/logger"
)

const maxBody = 64 << 10

// FeedService is the registry as the HTTP layer sees it.
type FeedService interface {
	Create(ctx context.Context, spec feeds.Spec) (feeds.Handle, error)
	Feeds() []feeds.Snapshot
	Get(h feeds.Handle) (feeds.Snapshot, error)
	Fragment(h feeds.Handle) (template.HTML, error)
	Update(ctx context.Context, h feeds.Handle, opts model.Options) error
	Refresh(ctx context.Context, handles ...feeds.Handle) error
	Destroy(ctx context.Context, handles ...feeds.Handle) error
}

type API struct {
	logger *slog.Logger
	feeds  FeedService
	px     model.PixelExtent
}

// New returns the API; mapSize is the default viewport edge in pixels.
func New(logger *slog.Logger, svc FeedService, mapSize int) *API {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if mapSize <= 0 {
		mapSize = 400
	}
	return &API{logger: logger, feeds: svc, px: model.PixelExtent{Height: mapSize, Width: mapSize}}
}

// Mount registers the feed and viewport routes on r.
func (a *API) Mount(r chi.Router) {
	r.Route("/feeds", func(r chi.Router) {
		r.Post("/", a.observe(a.createFeed))
		r.Get("/", a.observe(a.listFeeds))
		r.Delete("/", a.observe(a.destroyAll))
		r.Post("/refresh", a.observe(a.refreshAll))
		r.Get("/{handle}", a.observe(a.getFragment))
		r.Get("/{handle}/info", a.observe(a.getFeed))
		r.Patch("/{handle}", a.observe(a.updateFeed))
		r.Post("/{handle}/refresh", a.observe(a.refreshFeed))
		r.Delete("/{handle}", a.observe(a.destroyFeed))
	})
	r.Get("/viewport", a.observe(a.viewport))
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// observe records the request under its route pattern so handles do not
// blow up label cardinality.
func (a *API) observe(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		ctx := r.Context()
		if h := chi.URLParam(r, "handle"); h != "" {
			ctx = mylog.WithFeed(ctx, h)
		}
		next(sw, r.WithContext(ctx))

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type createRequest struct {
	Target      string        `json:"target"`
	Method      string        `json:"method"`
	AccessToken string        `json:"access_token"`
	Options     model.Options `json:"options"`
}

func (a *API) createFeed(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	h, err := a.feeds.Create(r.Context(), feeds.Spec{
		Target:      req.Target,
		Method:      req.Method,
		AccessToken: req.AccessToken,
		Options:     req.Options,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/feeds/"+string(h))
	writeJSON(w, http.StatusCreated, map[string]string{"handle": string(h)})
}

func (a *API) listFeeds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.feeds.Feeds())
}

func (a *API) getFragment(w http.ResponseWriter, r *http.Request) {
	html, err := a.feeds.Fragment(handleParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, string(html))
}

func (a *API) getFeed(w http.ResponseWriter, r *http.Request) {
	s, err := a.feeds.Get(handleParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) updateFeed(w http.ResponseWriter, r *http.Request) {
	var opts model.Options
	if err := decodeJSON(r, &opts); err != nil {
		a.fail(w, r, err)
		return
	}
	h := handleParam(r)
	if err := a.feeds.Update(r.Context(), h, opts); err != nil {
		a.fail(w, r, err)
		return
	}
	a.getFeed(w, r)
}

func (a *API) refreshFeed(w http.ResponseWriter, r *http.Request) {
	if err := a.feeds.Refresh(r.Context(), handleParam(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	a.getFeed(w, r)
}

func (a *API) refreshAll(w http.ResponseWriter, r *http.Request) {
	if err := a.feeds.Refresh(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.feeds.Feeds())
}

func (a *API) destroyFeed(w http.ResponseWriter, r *http.Request) {
	if err := a.feeds.Destroy(r.Context(), handleParam(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) destroyAll(w http.ResponseWriter, r *http.Request) {
	if err := a.feeds.Destroy(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) viewport(w http.ResponseWriter, r *http.Request) {
	bb, px, err := ParseViewportRequest(r, a.px)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"zoom": viewport.Zoom(bb, px)})
}

// badRequest marks errors caused by the request itself.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

// ParseViewportRequest reads the box and pixel extent from the query. Height
// and width fall back to def.
func ParseViewportRequest(r *http.Request, def model.PixelExtent) (model.GeoBoundingBox, model.PixelExtent, error) {
	q := r.URL.Query()
	var vals [4]float64
	for i, name := range []string{"south", "west", "north", "east"} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return model.GeoBoundingBox{}, model.PixelExtent{}, badRequest{fmt.Errorf("missing required parameter: %s", name)}
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return model.GeoBoundingBox{}, model.PixelExtent{}, badRequest{fmt.Errorf("%s: not a finite number: %q", name, raw)}
		}
		vals[i] = f
	}
	bb := model.GeoBoundingBox{South: vals[0], West: vals[1], North: vals[2], East: vals[3]}
	if bb.South < -90 || bb.South > 90 || bb.North < -90 || bb.North > 90 {
		return model.GeoBoundingBox{}, model.PixelExtent{}, badRequest{errors.New("latitude must be in [-90,90]")}
	}
	if bb.West < -180 || bb.West > 180 || bb.East < -180 || bb.East > 180 {
		return model.GeoBoundingBox{}, model.PixelExtent{}, badRequest{errors.New("longitude must be in [-180,180]")}
	}

	px := def
	for _, p := range []struct {
		name string
		dst  *int
	}{{"height", &px.Height}, {"width", &px.Width}} {
		raw := strings.TrimSpace(q.Get(p.name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return model.GeoBoundingBox{}, model.PixelExtent{}, badRequest{fmt.Errorf("%s must be a positive integer (got %q)", p.name, raw)}
		}
		*p.dst = n
	}
	return bb, px, nil
}

func handleParam(r *http.Request) feeds.Handle {
	return feeds.Handle(chi.URLParam(r, "handle"))
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest{fmt.Errorf("decode body: %w", err)}
	}
	return nil
}

// StatusFor maps a service error onto an HTTP status.
func StatusFor(err error) int {
	var br badRequest
	var ue *stravaapi.UpstreamError
	switch {
	case errors.As(err, &br), errors.Is(err, feeds.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, feeds.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &ue), errors.Is(err, stravaapi.ErrNoActivities):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	lvl := slog.LevelWarn
	if code >= http.StatusInternalServerError {
		lvl = slog.LevelError
	}
	a.logger.LogAttrs(r.Context(), lvl, "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", code),
		slog.Any("err", err),
	)
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
