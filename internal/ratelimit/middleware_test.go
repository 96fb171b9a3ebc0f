package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rift-hq/gateway/internal/model"
)

type fixedLimiter struct {
	allowed bool
	err     error
}

func (f fixedLimiter) Allow(context.Context, string) (bool, error) { return f.allowed, f.err }
func (f fixedLimiter) Close() error                                { return nil }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAllows(t *testing.T) {
	h := Middleware(fixedLimiter{allowed: true}, IPKeyFunc)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMiddlewareRejectsWithEnvelope(t *testing.T) {
	h := Middleware(fixedLimiter{allowed: false}, IPKeyFunc)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing")
	}

	var apiErr model.APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("body is not an error envelope: %v", err)
	}
	if apiErr.Error.Code != model.ErrCodeRateLimited {
		t.Fatalf("code = %s", apiErr.Error.Code)
	}
}

func TestMiddlewareFailsOpenOnLimiterError(t *testing.T) {
	h := Middleware(fixedLimiter{err: errors.New("limiter down")}, IPKeyFunc)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("limiter malfunction must fail open, got %d", rec.Code)
	}
}

func TestMiddlewareEmptyKeySkips(t *testing.T) {
	h := Middleware(fixedLimiter{allowed: false}, func(*http.Request) string { return "" })(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("empty key must skip limiting, got %d", rec.Code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:54321"
	if got := IPKeyFunc(r); got != "10.1.2.3" {
		t.Fatalf("IPKeyFunc = %q", got)
	}
}
