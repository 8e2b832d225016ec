package csvlog

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"formhooks/pkg/record"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestNewWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "submissions.csv")

	if _, err := New(Config{Path: path}); err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if _, err := New(Config{Path: path}); err != nil {
		t.Fatalf("reopen sink: %v", err)
	}

	rows := readRows(t, path)
	if len(rows) != 1 {
		t.Fatalf("expected a single header row, got %d rows", len(rows))
	}
	if rows[0][0] != ColumnReceivedAt || rows[0][len(rows[0])-1] != ColumnRawJSON {
		t.Fatalf("unexpected header %v", rows[0])
	}
}

func TestSendAppendsRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submissions.csv")
	sink, err := New(Config{Path: path, Columns: []string{"received_at", "record_id", "Customer Name", "Issue", "_raw_json"}})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	rec := record.Record{
		RecordID:   "recIDcWVji",
		Fields:     map[string]string{"Customer Name": "nnnn, jr"},
		ReceivedAt: time.Date(2025, 9, 24, 6, 52, 1, 0, time.FixedZone("x", 8*3600)),
		Raw:        []byte(`{"record_id":"recIDcWVji"}`),
	}
	if err := sink.Send(context.Background(), rec); err != nil {
		t.Fatalf("send: %v", err)
	}

	rows := readRows(t, path)
	if len(rows) != 2 {
		t.Fatalf("expected header and one row, got %d", len(rows))
	}
	want := []string{"2025-09-23T22:52:01Z", "recIDcWVji", "nnnn, jr", "", `{"record_id":"recIDcWVji"}`}
	for i := range want {
		if rows[1][i] != want[i] {
			t.Fatalf("column %d: expected %q, got %q", i, want[i], rows[1][i])
		}
	}
}

func TestSendConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submissions.csv")
	sink, err := New(Config{Path: path})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sink.Send(context.Background(), record.Record{RecordID: "rec"}); err != nil {
				t.Errorf("send: %v", err)
			}
		}()
	}
	wg.Wait()

	if rows := readRows(t, path); len(rows) != 21 {
		t.Fatalf("expected 21 rows, got %d", len(rows))
	}
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing path")
	}
}
