// Package metrics exports session activity as Prometheus metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/avaropoint/deskstream/internal/protocol"
	"github.com/avaropoint/deskstream/internal/session"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "deskstream").
	Namespace string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Collector counts session events. It implements session.Observer.
type Collector struct {
	sessionsTotal  *prometheus.CounterVec
	activeSessions prometheus.Gauge
	disconnects    *prometheus.CounterVec
	framesTotal    *prometheus.CounterVec
	packetsTotal   *prometheus.CounterVec
	bytesTotal     *prometheus.CounterVec
	cursorTotal    *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec

	mu        sync.Mutex
	connected map[string]struct{}
}

// New registers the collector's metrics and returns it.
func New(opts ...Option) *Collector {
	cfg := Config{Namespace: "deskstream", Registry: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)
	ns := cfg.Namespace

	return &Collector{
		connected: make(map[string]struct{}),
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sessions_total",
			Help:      "Sessions that completed the handshake",
		}, []string{"role"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_sessions",
			Help:      "Sessions currently streaming",
		}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "disconnects_total",
			Help:      "Ended sessions by error kind (none for orderly closes)",
		}, []string{"role", "kind"}),
		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "frames_total",
			Help:      "Video frames sent or applied",
		}, []string{"role"}),
		packetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "video_packets_total",
			Help:      "Video packets sent or received",
		}, []string{"role"}),
		bytesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "video_bytes_total",
			Help:      "Encoded video payload bytes",
		}, []string{"role"}),
		cursorTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cursor_shapes_total",
			Help:      "Cursor shapes by cache result",
		}, []string{"role", "result"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Session errors by kind",
		}, []string{"role", "kind"}),
	}
}

// OnEvent implements session.Observer.
func (c *Collector) OnEvent(e session.Event) {
	switch e.Kind {
	case session.EventConnected:
		c.sessionsTotal.WithLabelValues(e.Role).Inc()
		c.mu.Lock()
		c.connected[e.SessionID] = struct{}{}
		c.mu.Unlock()
		c.activeSessions.Inc()
	case session.EventDisconnected:
		// Sessions that failed before Connected were never counted.
		c.mu.Lock()
		_, ok := c.connected[e.SessionID]
		delete(c.connected, e.SessionID)
		c.mu.Unlock()
		if ok {
			c.activeSessions.Dec()
		}
		c.disconnects.WithLabelValues(e.Role, protocol.Kind(e.Err)).Inc()
	case session.EventError:
		c.errorsTotal.WithLabelValues(e.Role, protocol.Kind(e.Err)).Inc()
	case session.EventFrame:
		c.framesTotal.WithLabelValues(e.Role).Inc()
		c.packetsTotal.WithLabelValues(e.Role).Add(float64(e.Packets))
		c.bytesTotal.WithLabelValues(e.Role).Add(float64(e.Bytes))
	case session.EventCursor:
		result := "miss"
		if e.CacheHit {
			result = "hit"
		}
		c.cursorTotal.WithLabelValues(e.Role, result).Inc()
	}
}
