package api

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"formhooks/pkg/storage"
)

// SubmissionsHandler lists stored submissions, filtered by record_id, event and limit.
type SubmissionsHandler struct {
	Store        storage.Store
	Secret       string
	SecretHeader string
	Logger       *log.Logger
}

// submissionView is the JSON shape returned for a stored submission.
type submissionView struct {
	RecordID    string            `json:"record_id"`
	Event       string            `json:"event"`
	SubmittedAt string            `json:"submitted_at"`
	Fields      map[string]string `json:"fields"`
	Raw         json.RawMessage   `json:"raw,omitempty"`
	Repaired    bool              `json:"repaired"`
	RequestID   string            `json:"request_id,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
}

func (h *SubmissionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		http.Error(w, "invalid secret", http.StatusUnauthorized)
		return
	}
	if h.Store == nil {
		http.Error(w, "storage not configured", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	filter := storage.SubmissionFilter{
		RecordID: strings.TrimSpace(query.Get("record_id")),
		Event:    strings.TrimSpace(query.Get("event")),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	records, err := h.Store.ListSubmissions(r.Context(), filter)
	if err != nil {
		http.Error(w, "list submissions failed", http.StatusInternalServerError)
		if h.Logger != nil {
			h.Logger.Printf("list submissions failed: %v", err)
		}
		return
	}

	views := make([]submissionView, 0, len(records))
	for _, item := range records {
		view := submissionView{
			RecordID:    item.RecordID,
			Event:       item.Event,
			SubmittedAt: item.SubmittedAt,
			Fields:      item.Fields(),
			Repaired:    item.Repaired,
			RequestID:   item.RequestID,
			ReceivedAt:  item.ReceivedAt,
		}
		if json.Valid([]byte(item.RawJSON)) {
			view.Raw = json.RawMessage(item.RawJSON)
		}
		views = append(views, view)
	}
	writeJSON(w, views)
}

func (h *SubmissionsHandler) authorized(r *http.Request) bool {
	if h.Secret == "" {
		return false
	}
	header := h.SecretHeader
	if header == "" {
		header = "X-Webhook-Secret"
	}
	got := r.Header.Get(header)
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) == 1
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
