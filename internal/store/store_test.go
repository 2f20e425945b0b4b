package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/avaropoint/deskstream/internal/protocol"
	"github.com/avaropoint/deskstream/internal/session"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenAppliesPragmas(t *testing.T) {
	st := openStore(t)
	var mode string
	if err := st.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
	var timeout int
	if err := st.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatal(err)
	}
	if timeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestSessionLifecycle(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := st.CreateSession(ctx, &SessionRecord{ID: "s1", Role: "host", Peer: "10.0.0.2:5000", StartedAt: start}); err != nil {
		t.Fatal(err)
	}
	r, err := st.GetSession(ctx, "s1")
	if err != nil || r == nil {
		t.Fatalf("get: %v %v", r, err)
	}
	if r.EndedAt != nil || !r.StartedAt.Equal(start) {
		t.Fatalf("open session = %+v", r)
	}

	end := &SessionEnd{EndedAt: start.Add(time.Minute), Reason: "viewer closed", Frames: 10, Bytes: 4096}
	if err := st.EndSession(ctx, "s1", end); err != nil {
		t.Fatal(err)
	}
	r, _ = st.GetSession(ctx, "s1")
	if r.EndedAt == nil || !r.EndedAt.Equal(end.EndedAt) || r.Reason != "viewer closed" || r.Frames != 10 || r.Bytes != 4096 {
		t.Fatalf("closed session = %+v", r)
	}

	if err := st.EndSession(ctx, "missing", end); err == nil {
		t.Fatal("ending an unknown session should fail")
	}
	if r, err := st.GetSession(ctx, "missing"); r != nil || err != nil {
		t.Fatalf("missing session = %v, %v", r, err)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		if err := st.CreateSession(ctx, &SessionRecord{ID: id, Role: "host", StartedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}
	all, err := st.ListSessions(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("sessions = %v", ids(all))
	}
	two, _ := st.ListSessions(ctx, 2)
	if len(two) != 2 {
		t.Fatalf("limit 2 returned %d", len(two))
	}
}

func ids(rs []*SessionRecord) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	st, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = st.CreateSession(context.Background(), &SessionRecord{ID: "keep", Role: "viewer", StartedAt: time.Now()})
	_ = st.Close()

	st, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if r, _ := st.GetSession(context.Background(), "keep"); r == nil {
		t.Fatal("session lost across reopen")
	}
}

func TestJournalRecordsSession(t *testing.T) {
	st := openStore(t)
	j := NewJournal(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Now()
	ev := func(kind session.EventKind) session.Event {
		now = now.Add(time.Millisecond)
		return session.Event{Kind: kind, SessionID: "sess", Role: "viewer", Peer: "pipe", Time: now}
	}

	connected := ev(session.EventConnected)
	connected.Host = &protocol.HostInfo{Name: "desk", OS: "linux", OSVersion: "Ubuntu 24.04", Screen: protocol.Size{Width: 1920, Height: 1080}}
	j.OnEvent(connected)
	for i := 0; i < 3; i++ {
		f := ev(session.EventFrame)
		f.Bytes = 100
		j.OnEvent(f)
	}
	j.OnEvent(ev(session.EventCursor))
	failed := ev(session.EventError)
	failed.Reason, failed.Err = "codec error", protocol.ErrCodec
	j.OnEvent(failed)
	done := ev(session.EventDisconnected)
	done.Reason, done.Err = "codec error", protocol.ErrCodec
	j.OnEvent(done)

	r, err := st.GetSession(context.Background(), "sess")
	if err != nil || r == nil {
		t.Fatalf("session: %v %v", r, err)
	}
	if r.HostName != "desk" || r.HostOS != "linux Ubuntu 24.04" || r.Screen != "1920x1080" {
		t.Fatalf("host fields = %+v", r)
	}
	if r.Frames != 3 || r.Bytes != 300 || r.Reason != "codec error" || r.Error == "" || r.EndedAt == nil {
		t.Fatalf("end fields = %+v", r)
	}

	events, err := st.ListEvents(context.Background(), "sess")
	if err != nil {
		t.Fatal(err)
	}
	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	want := []string{"connected", "error", "disconnected"}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events = %v, want %v", kinds, want)
		}
	}
}

func TestJournalHandshakeFailureHasNoSessionRow(t *testing.T) {
	st := openStore(t)
	j := NewJournal(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	j.OnEvent(session.Event{Kind: session.EventDisconnected, SessionID: "early", Time: time.Now(),
		Reason: "handshake failed", Err: errors.New("boom")})

	if r, _ := st.GetSession(context.Background(), "early"); r != nil {
		t.Fatalf("unexpected session row %+v", r)
	}
	events, _ := st.ListEvents(context.Background(), "early")
	if len(events) != 1 || events[0].Error != "boom" {
		t.Fatalf("events = %+v", events)
	}
}
