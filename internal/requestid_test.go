package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDHandlerGeneratesID(t *testing.T) {
	var seen string
	handler := NewRequestIDHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("expected generated uuid, got %q", seen)
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("expected response header to echo request id")
	}
}

func TestRequestIDHandlerKeepsIncomingID(t *testing.T) {
	var seen string
	handler := NewRequestIDHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "abc-123" {
		t.Fatalf("expected incoming request id, got %q", seen)
	}
}
