package shield

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func newRouter(h http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	for _, mw := range StatusStack(slog.New(slog.NewTextHandler(io.Discard, nil))) {
		r.Use(mw)
	}
	r.Get("/", h)
	return r
}

// WHAT: Every response carries the API security headers.
// WHY: The status server is JSON only and must never be framed or cached.
func TestStatusStack_Headers(t *testing.T) {
	h := newRouter(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

// WHAT: HEAD is answered by GET routes.
// WHY: chi returns 405 for HEAD on r.Get routes; monitors probe with HEAD.
func TestHeadToGet(t *testing.T) {
	h := newRouter(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("HEAD status = %d", rec.Code)
	}
}

// WHAT: A request ID is generated, or a valid incoming one is kept, and
// reaches the handler through the context.
// WHY: The ID ties a status request to its log lines.
func TestRequestID(t *testing.T) {
	var seen string
	h := newRouter(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		if GetLogger(r.Context()) == slog.Default() {
			t.Error("per-request logger missing")
		}
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("generated id %q: %v", seen, err)
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("header %q != context %q", rec.Header().Get("X-Request-ID"), seen)
	}

	in := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", in)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != in {
		t.Errorf("incoming id not kept: %q != %q", seen, in)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid\r\n")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "not-a-uuid\r\n" {
		t.Error("invalid incoming id accepted")
	}
}

// WHAT: A panicking handler yields a JSON 500 instead of a dropped connection.
func TestRecover(t *testing.T) {
	h := newRouter(func(http.ResponseWriter, *http.Request) { panic("boom") })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type %q", ct)
	}
}
