package relwatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/relwatch/relwatch/internal/state"
)

func TestStatusRouter(t *testing.T) {
	up := newUpstream(t, "2024-10-01T00:00:00Z", goodWorkbook(t))
	f := newFixture(t, up)
	reg := prometheus.NewRegistry()
	svc := f.service(t, WithRegisterer(reg))
	if res := svc.RunOnce(context.Background()); res.Outcome != OutcomeCommitted {
		t.Fatalf("run: %+v (err %v)", res, res.Err)
	}

	srv := httptest.NewServer(NewStatusRouter(svc, reg))
	defer srv.Close()

	get := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
		return resp
	}

	if h := get("/healthz").Header; h.Get("X-Request-ID") == "" || h.Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("shield headers missing: %v", h)
	}

	var rec state.Record
	if err := json.NewDecoder(get("/state").Body).Decode(&rec); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if rec.CachedFileName != up.locator() || rec.RowCount == nil || *rec.RowCount != 3 {
		t.Errorf("state: %+v", rec)
	}

	var runs []RunEntry
	if err := json.NewDecoder(get("/runs?limit=5").Body).Decode(&runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Outcome != "committed" {
		t.Errorf("runs: %+v", runs)
	}

	body, err := io.ReadAll(get("/metrics").Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `relwatch_runs_total{outcome="committed"} 1`) {
		t.Errorf("metrics missing committed run:\n%s", body)
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=5", 5},
		{"limit=-1", 50},
		{"limit=abc", 50},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/runs?"+tt.query, nil)
		if got := queryInt(r, "limit", 50); got != tt.want {
			t.Errorf("%q: got %d, want %d", tt.query, got, tt.want)
		}
	}
}
