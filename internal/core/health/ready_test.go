package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/stravafeeds/internal/cache/redisstore"
)

func readiness(t *testing.T, deps map[string]Pinger) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	Readiness(deps, time.Second)(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return rr.Code, body
}

func TestReadiness_NoDeps(t *testing.T) {
	code, body := readiness(t, nil)
	if code != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("code=%d body=%v", code, body)
	}
}

func TestReadiness_FailingDep(t *testing.T) {
	deps := map[string]Pinger{
		"ok":   PingerFunc(func(context.Context) error { return nil }),
		"down": PingerFunc(func(context.Context) error { return errors.New("refused") }),
	}
	code, body := readiness(t, deps)
	if code != http.StatusServiceUnavailable || body["status"] != "not_ready" {
		t.Fatalf("code=%d body=%v", code, body)
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["down"] != "refused" || checks["ok"] != "ok" {
		t.Fatalf("checks=%v", checks)
	}
}

func TestReadiness_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	defer func() { _ = rc.Close() }()

	deps := map[string]Pinger{"redis": rc}
	if code, body := readiness(t, deps); code != http.StatusOK {
		t.Fatalf("code=%d body=%v", code, body)
	}

	mr.Close()
	if code, _ := readiness(t, deps); code != http.StatusServiceUnavailable {
		t.Fatalf("code=%d want 503 after redis stopped", code)
	}
}
