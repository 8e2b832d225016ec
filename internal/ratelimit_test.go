package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	now := time.Date(2025, 9, 24, 0, 0, 0, 0, time.UTC)
	limiter := newRateLimiter(1, 1, time.Minute)
	limiter.now = func() time.Time { return now }

	if !limiter.allow("client") {
		t.Fatalf("expected first request to be allowed")
	}
	if limiter.allow("client") {
		t.Fatalf("expected second request to be rate limited")
	}
	if !limiter.allow("other") {
		t.Fatalf("expected other clients to have their own bucket")
	}

	now = now.Add(1100 * time.Millisecond)

	if !limiter.allow("client") {
		t.Fatalf("expected request after refill to be allowed")
	}
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	now := time.Date(2025, 9, 24, 0, 0, 0, 0, time.UTC)
	limiter := newRateLimiter(1, 1, time.Minute)
	limiter.now = func() time.Time { return now }

	limiter.allow("idle")
	now = now.Add(2 * time.Minute)
	limiter.allow("active")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.store["idle"]; ok {
		t.Fatalf("expected idle client to be swept")
	}
	if _, ok := limiter.store["active"]; !ok {
		t.Fatalf("expected active client to remain")
	}
}

func TestRateLimitHandler(t *testing.T) {
	handler := NewRateLimitHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), 1, 1, time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/webhook/lark", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	if first.Code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", first.Code)
	}
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
}
