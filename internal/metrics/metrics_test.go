package metrics

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/avaropoint/deskstream/internal/protocol"
	"github.com/avaropoint/deskstream/internal/session"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestCollectorCountsSession(t *testing.T) {
	c := New(WithRegistry(prometheus.NewRegistry()))
	events := []session.Event{
		{Kind: session.EventConnected, Role: "host", SessionID: "s1"},
		{Kind: session.EventFrame, Role: "host", Packets: 3, Bytes: 900},
		{Kind: session.EventFrame, Role: "host", Packets: 1, Bytes: 100},
		{Kind: session.EventCursor, Role: "host", CacheHit: false},
		{Kind: session.EventCursor, Role: "host", CacheHit: true},
		{Kind: session.EventCursor, Role: "host", CacheHit: true},
		{Kind: session.EventError, Role: "host", Err: fmt.Errorf("%w: bad", protocol.ErrCodec)},
	}
	for _, e := range events {
		c.OnEvent(e)
	}

	if got := gaugeValue(t, c.activeSessions); got != 1 {
		t.Fatalf("active_sessions = %v, want 1", got)
	}
	checks := []struct {
		name string
		c    prometheus.Counter
		want float64
	}{
		{"sessions", c.sessionsTotal.WithLabelValues("host"), 1},
		{"frames", c.framesTotal.WithLabelValues("host"), 2},
		{"packets", c.packetsTotal.WithLabelValues("host"), 4},
		{"bytes", c.bytesTotal.WithLabelValues("host"), 1000},
		{"cursor hits", c.cursorTotal.WithLabelValues("host", "hit"), 2},
		{"cursor misses", c.cursorTotal.WithLabelValues("host", "miss"), 1},
		{"codec errors", c.errorsTotal.WithLabelValues("host", "codec"), 1},
	}
	for _, tt := range checks {
		if got := counterValue(t, tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}

	c.OnEvent(session.Event{Kind: session.EventDisconnected, Role: "host", SessionID: "s1", Reason: "viewer closed"})
	if got := gaugeValue(t, c.activeSessions); got != 0 {
		t.Fatalf("active_sessions after disconnect = %v", got)
	}
	if got := counterValue(t, c.disconnects.WithLabelValues("host", "none")); got != 1 {
		t.Fatalf("orderly disconnects = %v", got)
	}
}

func TestCollectorHandshakeFailureLeavesGauge(t *testing.T) {
	c := New(WithRegistry(prometheus.NewRegistry()))
	c.OnEvent(session.Event{Kind: session.EventDisconnected, Role: "viewer", SessionID: "s1", Err: protocol.ErrHandshake})
	if got := gaugeValue(t, c.activeSessions); got != 0 {
		t.Fatalf("active_sessions = %v, want 0", got)
	}
	if got := counterValue(t, c.disconnects.WithLabelValues("viewer", "handshake")); got != 1 {
		t.Fatalf("handshake disconnects = %v", got)
	}
}

func TestCollectorIgnoresDisconnectBeforeConnected(t *testing.T) {
	c := New(WithRegistry(prometheus.NewRegistry()))
	c.OnEvent(session.Event{Kind: session.EventConnected, Role: "host", SessionID: "live"})

	// The hello exchange failed after a clean handshake.
	c.OnEvent(session.Event{Kind: session.EventDisconnected, Role: "host", SessionID: "early", Reason: "connection closed"})
	if got := gaugeValue(t, c.activeSessions); got != 1 {
		t.Fatalf("active_sessions = %v, want 1", got)
	}

	c.OnEvent(session.Event{Kind: session.EventDisconnected, Role: "host", SessionID: "live"})
	c.OnEvent(session.Event{Kind: session.EventDisconnected, Role: "host", SessionID: "live"})
	if got := gaugeValue(t, c.activeSessions); got != 0 {
		t.Fatalf("active_sessions after disconnect = %v, want 0", got)
	}
	if got := counterValue(t, c.disconnects.WithLabelValues("host", "none")); got != 3 {
		t.Fatalf("disconnects = %v, want 3", got)
	}
}

func TestCollectorRejectsDuplicateNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(WithRegistry(reg), WithNamespace("a"))
	New(WithRegistry(reg), WithNamespace("b"))
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration should panic")
		}
	}()
	New(WithRegistry(reg), WithNamespace("a"))
}
