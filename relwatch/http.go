package relwatch

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/relwatch/shield"
)

// NewStatusRouter returns a read-only HTTP surface over svc:
//
//	GET /healthz   liveness
//	GET /state     committed state
//	GET /runs      run log, newest first (?limit=N)
//	GET /metrics   Prometheus exposition from g (omitted when g is nil)
func NewStatusRouter(svc *Service, g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.StatusStack(svc.logger) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		c, err := svc.State(r.Context())
		if err != nil {
			shield.GetLogger(r.Context()).Error("status: load state", "error", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, EncodeState(c))
	})

	r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
		runs, err := svc.History(r.Context(), queryInt(r, "limit", 50))
		if err != nil {
			shield.GetLogger(r.Context()).Error("status: run history", "error", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if runs == nil {
			runs = []*RunEntry{}
		}
		writeJSON(w, http.StatusOK, runs)
	})

	if g != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
