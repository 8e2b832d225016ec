package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"formhooks/pkg/record"
)

type graphServer struct {
	mu        sync.Mutex
	langs     []string
	auth      []string
	paths     []string
	available string
}

func (g *graphServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	g.mu.Lock()
	g.langs = append(g.langs, req.Template.Language.Code)
	g.auth = append(g.auth, r.Header.Get("Authorization"))
	g.paths = append(g.paths, r.URL.Path)
	g.mu.Unlock()

	if req.Template.Language.Code != g.available {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"(#132001) Template name does not exist in the translation"}}`))
		return
	}
	_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
}

func (g *graphServer) snapshot() (langs, auth, paths []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.langs...), append([]string(nil), g.auth...), append([]string(nil), g.paths...)
}

func newTestSink(t *testing.T, handler http.Handler, cfg Config) *Sink {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg.AccessToken = "token-1"
	cfg.PhoneNumberID = "12345"
	cfg.BaseURL = srv.URL
	sink, err := New(cfg, srv.Client().Transport, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	return sink
}

func TestSendFallsBackThroughLanguages(t *testing.T) {
	graph := &graphServer{available: "en_US"}
	sink := newTestSink(t, graph, Config{})

	rec := record.Record{RecordID: "rec1", Fields: map[string]string{FieldPhone: "+60 (12) 345-6789"}}
	if err := sink.Send(context.Background(), rec); err != nil {
		t.Fatalf("send: %v", err)
	}

	langs, auth, paths := graph.snapshot()
	if len(langs) != 2 || langs[0] != "en" || langs[1] != "en_US" {
		t.Fatalf("expected deduplicated fallback en -> en_US, got %v", langs)
	}
	if auth[0] != "Bearer token-1" {
		t.Fatalf("expected bearer token, got %q", auth[0])
	}
	if paths[0] != "/v20.0/12345/messages" {
		t.Fatalf("unexpected path %s", paths[0])
	}
}

func TestSendStopsOnOtherErrors(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid token"}}`))
	})
	sink := newTestSink(t, handler, Config{Language: "ms"})

	err := sink.Send(context.Background(), record.Record{Fields: map[string]string{FieldPhone: "60123456789"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestSendReportsMissingTemplate(t *testing.T) {
	graph := &graphServer{available: "none"}
	sink := newTestSink(t, graph, Config{Language: "ms"})

	err := sink.Send(context.Background(), record.Record{Fields: map[string]string{FieldPhone: "60123456789"}})
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	if langs, _, _ := graph.snapshot(); len(langs) != 4 {
		t.Fatalf("expected 4 attempts, got %v", langs)
	}
}

func TestSendRejectsInvalidPhone(t *testing.T) {
	sink := newTestSink(t, http.NotFoundHandler(), Config{})
	for _, phone := range []string{"", "   ", "call me", "+60-12-abc"} {
		err := sink.Send(context.Background(), record.Record{Fields: map[string]string{FieldPhone: phone}})
		if !errors.Is(err, ErrInvalidPhone) {
			t.Fatalf("phone %q: expected ErrInvalidPhone, got %v", phone, err)
		}
	}
}

func TestSendHonoursTimeout(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	sink := newTestSink(t, handler, Config{Timeout: 50 * time.Millisecond})

	start := time.Now()
	if err := sink.Send(context.Background(), record.Record{Fields: map[string]string{FieldPhone: "60123456789"}}); err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("expected request to be bounded by the timeout")
	}
}

func TestFormatPhoneNumber(t *testing.T) {
	tests := map[string]string{
		"+60 12-345 6789": "60123456789",
		"(03) 1234-5678":  "0312345678",
		"60123456789":     "60123456789",
	}
	for in, want := range tests {
		got, err := FormatPhoneNumber(in)
		if err != nil || got != want {
			t.Fatalf("FormatPhoneNumber(%q): expected %q, got %q (%v)", in, want, got, err)
		}
	}
}

func TestLanguages(t *testing.T) {
	got := Languages("en_GB")
	want := []string{"en_GB", "en", "en_US"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
