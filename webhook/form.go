// Package webhook serves the form submission endpoint.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"formhooks/internal"
	"formhooks/pkg/jsonrepair"
	"formhooks/pkg/record"
)

// maxLoggedBody bounds how much of a rejected body is logged.
const maxLoggedBody = 500

// Dispatcher delivers records to sinks.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec record.Record, names []string) error
	DispatchAsync(ctx context.Context, rec record.Record, names []string)
}

// FormHandler accepts form submissions, repairing malformed bodies, and fans
// the resulting record out to sinks.
type FormHandler struct {
	secret       []byte
	secretHeader string
	maxBodyBytes int64
	async        bool
	decoder      jsonrepair.Decoder
	extractor    *record.Extractor
	rules        *internal.RuleEngine
	dispatcher   Dispatcher
	logger       *log.Logger
	now          func() time.Time
}

// NewFormHandler builds the webhook handler. The secret must be set; a nil
// rules engine sends every record to every sink.
func NewFormHandler(cfg internal.WebhookConfig, maxBodyBytes int64, extractor *record.Extractor, rules *internal.RuleEngine, dispatcher Dispatcher, logger *log.Logger) (*FormHandler, error) {
	if cfg.Secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	if dispatcher == nil {
		return nil, errors.New("webhook dispatcher is required")
	}
	if extractor == nil {
		var err error
		extractor, err = record.NewExtractor(record.DefaultPaths())
		if err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = log.Default()
	}
	header := cfg.SecretHeader
	if header == "" {
		header = "X-Webhook-Secret"
	}
	return &FormHandler{
		secret:       []byte(cfg.Secret),
		secretHeader: header,
		maxBodyBytes: maxBodyBytes,
		async:        cfg.Async,
		decoder:      jsonrepair.Decoder{DisableRepair: cfg.DisableRepair},
		extractor:    extractor,
		rules:        rules,
		dispatcher:   dispatcher,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (h *FormHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		internal.IncRequest("unauthorized")
		h.logger.Printf("invalid secret remote=%s", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, detail("invalid secret"))
		return
	}

	body := r.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	rawBody, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			internal.IncRequest("too_large")
			writeJSON(w, http.StatusRequestEntityTooLarge, detail("payload too large"))
			return
		}
		internal.IncRequest("read_error")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	result, err := h.decoder.Parse(rawBody)
	if err != nil {
		category := jsonrepair.CategoryOf(err)
		internal.IncParseError(string(category))
		if category == jsonrepair.CategoryRepairFailed {
			internal.IncRepair("failed")
		}
		h.logger.Printf("payload rejected category=%s err=%v body=%q", category, err, truncate(rawBody, maxLoggedBody))
		writeJSON(w, http.StatusBadRequest, detail(RejectionDetail(category)))
		return
	}
	if result.Repaired {
		internal.IncRepair("repaired")
	}

	rec := h.extractor.Extract(result.Payload)
	rec.ReceivedAt = h.now().UTC()
	rec.Repaired = result.Repaired
	rec.RequestID = internal.RequestIDFromContext(r.Context())

	names := h.rules.Evaluate(rec)
	h.logger.Printf("submission accepted record_id=%s event=%s repaired=%t sinks=%v", rec.RecordID, rec.Event, rec.Repaired, describeSinks(names))
	internal.IncRequest("accepted")

	if h.async {
		h.dispatcher.DispatchAsync(r.Context(), rec, names)
	} else {
		// Sink writes finish even if the caller hangs up.
		_ = h.dispatcher.Dispatch(context.WithoutCancel(r.Context()), rec, names)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *FormHandler) authorized(r *http.Request) bool {
	got := r.Header.Get(h.secretHeader)
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), h.secret) == 1
}

// RejectionDetail is the client-facing message for a rejected body.
func RejectionDetail(category jsonrepair.Category) string {
	if category == jsonrepair.CategoryRepairFailed {
		return "invalid json format"
	}
	return "invalid json"
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func detail(message string) map[string]string {
	return map[string]string{"detail": message}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n])
}

func describeSinks(names []string) interface{} {
	if names == nil {
		return "all"
	}
	return names
}
