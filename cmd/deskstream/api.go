package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avaropoint/deskstream/internal/store"
)

// statusRouter serves Prometheus metrics, a liveness probe and the
// session journal as JSON.
func statusRouter(st store.Store, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", metrics)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			sessions, err := st.ListSessions(r.Context(), limit)
			if err != nil {
				http.Error(w, `{"error":"failed to list sessions"}`, http.StatusInternalServerError)
				return
			}
			if sessions == nil {
				sessions = []*store.SessionRecord{}
			}
			writeJSON(w, sessions)
		})
		r.Get("/{id}/events", func(w http.ResponseWriter, r *http.Request) {
			events, err := st.ListEvents(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, `{"error":"failed to list events"}`, http.StatusInternalServerError)
				return
			}
			if len(events) == 0 {
				http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
				return
			}
			writeJSON(w, events)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func statusServer(addr string, st store.Store) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           statusRouter(st, promhttp.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
