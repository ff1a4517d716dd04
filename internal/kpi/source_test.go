package kpi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleDoc = `{
  "date": "2026-08-25",
  "agents": {
    "alice": { "spend": 1240.5, "register": 41, "ftd": 9 },
    "bob":   { "spend": 130,    "register": 4,  "ftd": 1 }
  },
  "pipeline_version": "ignored-extra-field"
}`

func TestFileSourceFetch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "kpi.json")
	if err := os.WriteFile(path, []byte(sampleDoc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	snap, err := NewFileSource(path).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.Date != "2026-08-25" || len(snap.Agents) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Agents["alice"].Spend != 1240.5 {
		t.Fatalf("alice spend = %v", snap.Agents["alice"].Spend)
	}
	if snap.CollectedAt.IsZero() {
		t.Fatal("CollectedAt should be stamped")
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewFileSource(filepath.Join(t.TempDir(), "absent.json")).Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFetchEmptyAgentsIsErrNoData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "kpi.json")
	if err := os.WriteFile(path, []byte(`{"date":"2026-08-25","agents":{}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := NewFileSource(path).Fetch(context.Background())
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestHTTPSourceFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleDoc))
	}))
	defer srv.Close()

	snap, err := NewHTTPSource(srv.URL, 5*time.Second).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(snap.Agents) != 2 {
		t.Fatalf("agents = %v", snap.Agents)
	}
}

func TestHTTPSourceRejectsBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewHTTPSource(srv.URL, 5*time.Second).Fetch(context.Background()); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestHTTPSourceHonorsContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewHTTPSource(srv.URL, 5*time.Second).Fetch(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestNewSourceDispatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    string
		path    string
		url     string
		wantErr bool
	}{
		{name: "file", kind: "file", path: "./kpi.json"},
		{name: "default is file", kind: "", path: "./kpi.json"},
		{name: "http", kind: "http", url: "https://api.example.com/kpi"},
		{name: "file without path", kind: "file", wantErr: true},
		{name: "http without url", kind: "http", wantErr: true},
		{name: "unknown kind", kind: "ftp", path: "x", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src, err := NewSource(tt.kind, tt.path, tt.url, 0)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSource: %v", err)
			}
			if src == nil {
				t.Fatal("nil source")
			}
		})
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	t.Parallel()

	h := NewHistory(filepath.Join(t.TempDir(), "state", "last_report_data.json"))

	// Nothing saved yet.
	prev, err := h.Load()
	if err != nil || prev != nil {
		t.Fatalf("empty Load = (%v, %v)", prev, err)
	}

	want := snap(map[string]AgentStats{"alice": {Spend: 99.5, Registrations: 3, FTD: 1}})
	want.CollectedAt = time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)
	if err := h.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := h.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.Agents["alice"].Spend != 99.5 || !got.CollectedAt.Equal(want.CollectedAt) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestHistoryCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "last_report_data.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewHistory(path).Load(); err == nil {
		t.Fatal("expected decode error for corrupt history")
	}
}
