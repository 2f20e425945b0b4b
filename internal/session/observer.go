package session

import (
	"time"

	"github.com/avaropoint/deskstream/internal/protocol"
)

// EventKind classifies session events.
type EventKind int

// Session events.
const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventError
	EventFrame
	EventCursor
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventFrame:
		return "frame"
	case EventCursor:
		return "cursor"
	}
	return "unknown"
}

// Event is delivered to observers synchronously from the goroutine that
// produced it. Observers must not block.
type Event struct {
	Kind      EventKind
	SessionID string
	Role      string
	Peer      string
	Time      time.Time

	// Connected
	Host *protocol.HostInfo

	// Disconnected and Error
	Reason string
	Err    error

	// Frame
	Packets int
	Bytes   int

	// Cursor
	CacheHit bool
}

// Observer receives session events.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Observers fans an event out to several observers in order.
type Observers []Observer

// OnEvent delivers e to every non-nil observer.
func (o Observers) OnEvent(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.OnEvent(e)
		}
	}
}
