package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/avaropoint/deskstream/internal/store"
)

func testRouter(t *testing.T) (http.Handler, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) })
	return statusRouter(st, metrics), st
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusRouterHealthAndMetrics(t *testing.T) {
	h, _ := testRouter(t)
	if rec := get(h, "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(h, "/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestStatusRouterSessions(t *testing.T) {
	h, st := testRouter(t)

	rec := get(h, "/api/sessions")
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Fatalf("empty list = %d %q", rec.Code, rec.Body.String())
	}

	ctx := context.Background()
	_ = st.CreateSession(ctx, &store.SessionRecord{ID: "abc", Role: "host", Peer: "10.0.0.9:4000", StartedAt: time.Now()})
	_ = st.AppendEvent(ctx, &store.EventRecord{SessionID: "abc", Kind: "connected", Time: time.Now()})

	rec = get(h, "/api/sessions")
	var sessions []store.SessionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].ID != "abc" || sessions[0].Peer != "10.0.0.9:4000" {
		t.Fatalf("sessions = %+v", sessions)
	}

	rec = get(h, "/api/sessions/abc/events")
	var events []store.EventRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != "connected" {
		t.Fatalf("events = %+v", events)
	}

	if rec := get(h, "/api/sessions/nope/events"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session = %d", rec.Code)
	}
}
