// Package stravaapi fetches activity summaries from the fitness-tracking API.
package stravaapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/stravafeeds/internal/core/model"
	"github.com/mohammed-shakir/stravafeeds/internal/core/observability"
)

const maxBody = 4 << 20

var ErrNoActivities = errors.New("no activities returned")

// UpstreamError is a non-2xx answer from the API.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

type Interface interface {
	FetchActivities(ctx context.Context, fc model.FeedConfig) ([]model.Activity, error)
}

type Client struct {
	logger   *slog.Logger
	client   *http.Client
	baseURL  *url.URL
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, base string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url must be http(s), got %q", base)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		logger:   logger,
		client:   client,
		baseURL:  u,
		startNow: time.Now,
	}, nil
}

// ValidateMethod checks an API method path such as "/v3/athlete/activities".
func ValidateMethod(method string) error {
	switch {
	case method == "":
		return errors.New("method is required")
	case !strings.HasPrefix(method, "/"):
		return fmt.Errorf("method %q must start with /", method)
	case strings.ContainsAny(method, "?#"):
		return fmt.Errorf("method %q must not carry a query or fragment", method)
	case strings.Contains(method, ".."):
		return fmt.Errorf("method %q must not contain ..", method)
	}
	return nil
}

// BuildParams returns the query for a feed fetch.
func BuildParams(fc model.FeedConfig) url.Values {
	perPage := fc.PerPage
	if perPage <= 0 {
		perPage = 1
	}
	v := url.Values{}
	v.Set("access_token", fc.AccessToken)
	v.Set("per_page", strconv.Itoa(perPage))
	return v
}

func (c *Client) endpoint(fc model.FeedConfig) (*url.URL, error) {
	if err := ValidateMethod(fc.Method); err != nil {
		return nil, err
	}
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + fc.Method
	u.RawPath = ""
	u.RawQuery = BuildParams(fc).Encode()
	return &u, nil
}

// FetchActivities calls the API and decodes either a list of activities or
// a single activity object.
func (c *Client) FetchActivities(ctx context.Context, fc model.FeedConfig) ([]model.Activity, error) {
	u, err := c.endpoint(fc)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := c.startNow()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.ObserveUpstreamLatency("strava", 0, time.Since(start).Seconds())
		// url.Error repeats the URL, which carries the token
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency("strava", resp.StatusCode, dur.Seconds())
	c.logger.DebugContext(ctx, "fetch activities",
		"method", fc.Method,
		"per_page", fc.PerPage,
		"status", resp.StatusCode,
		"duration", dur.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	acts, err := decodeActivities(b)
	if err != nil {
		return nil, err
	}
	if len(acts) == 0 {
		return nil, ErrNoActivities
	}
	return acts, nil
}

func decodeActivities(b []byte) ([]model.Activity, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var a model.Activity
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, fmt.Errorf("decode activity: %w", err)
		}
		return []model.Activity{a}, nil
	}
	var acts []model.Activity
	if err := json.Unmarshal(b, &acts); err != nil {
		return nil, fmt.Errorf("decode activities: %w", err)
	}
	return acts, nil
}
