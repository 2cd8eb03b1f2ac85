package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestApp(t *testing.T, mutate func(*Config)) *App {
	t.Helper()

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestApp_Routes(t *testing.T) {
	t.Parallel()

	h := newTestApp(t, nil).Handler()

	if rr := get(t, h, "/healthz"); rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("healthz %d %q", rr.Code, rr.Body.String())
	}
	if rr := get(t, h, "/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("readyz %d", rr.Code)
	}
	rr := get(t, h, "/metrics")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("metrics %d", rr.Code)
	}
	if rr := get(t, h, "/ws"); rr.Code != http.StatusForbidden {
		t.Fatalf("ws without origin %d", rr.Code)
	}
	if rr := get(t, h, "/nope"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown route %d", rr.Code)
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	t.Parallel()

	h := newTestApp(t, func(c *Config) { c.DB.ReadinessRequire = true }).Handler()
	if rr := get(t, h, "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz %d", rr.Code)
	}
}
