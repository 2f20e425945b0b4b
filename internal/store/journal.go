package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avaropoint/deskstream/internal/session"
)

// writeTimeout bounds each journal write so a slow disk cannot stall the
// session goroutine delivering the event.
const writeTimeout = 5 * time.Second

// Journal records session lifecycles into a Store. It implements
// session.Observer. Frame events are only counted; the totals are written
// when the session ends.
type Journal struct {
	store Store
	log   *slog.Logger

	mu     sync.Mutex
	totals map[string]*SessionEnd
}

// NewJournal returns a Journal writing to st. If log is nil, slog.Default()
// is used.
func NewJournal(st Store, log *slog.Logger) *Journal {
	if log == nil {
		log = slog.Default()
	}
	return &Journal{
		store:  st,
		log:    log.With("component", "journal"),
		totals: make(map[string]*SessionEnd),
	}
}

// OnEvent implements session.Observer.
func (j *Journal) OnEvent(e session.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch e.Kind {
	case session.EventConnected:
		err = j.begin(ctx, e)
	case session.EventFrame:
		j.count(e)
	case session.EventError:
		err = j.append(ctx, e)
	case session.EventDisconnected:
		err = j.end(ctx, e)
	}
	if err != nil {
		j.log.Warn("journal write failed", "session", e.SessionID, "event", e.Kind.String(), "error", err)
	}
}

func (j *Journal) begin(ctx context.Context, e session.Event) error {
	r := &SessionRecord{ID: e.SessionID, Role: e.Role, Peer: e.Peer, StartedAt: e.Time}
	if e.Host != nil {
		r.HostName = e.Host.Name
		r.HostOS = e.Host.OS
		if e.Host.OSVersion != "" {
			r.HostOS += " " + e.Host.OSVersion
		}
		r.Screen = e.Host.Screen.String()
	}
	j.mu.Lock()
	j.totals[e.SessionID] = &SessionEnd{}
	j.mu.Unlock()
	if err := j.store.CreateSession(ctx, r); err != nil {
		return err
	}
	return j.append(ctx, e)
}

func (j *Journal) count(e session.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if t := j.totals[e.SessionID]; t != nil {
		t.Frames++
		t.Bytes += int64(e.Bytes)
	}
}

func (j *Journal) append(ctx context.Context, e session.Event) error {
	rec := &EventRecord{SessionID: e.SessionID, Kind: e.Kind.String(), Time: e.Time, Reason: e.Reason}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	return j.store.AppendEvent(ctx, rec)
}

func (j *Journal) end(ctx context.Context, e session.Event) error {
	j.mu.Lock()
	t, ok := j.totals[e.SessionID]
	delete(j.totals, e.SessionID)
	j.mu.Unlock()

	if err := j.append(ctx, e); err != nil {
		return err
	}
	if !ok {
		// The session never connected (failed handshake); there is no
		// session row to close.
		return nil
	}
	t.EndedAt, t.Reason = e.Time, e.Reason
	if e.Err != nil {
		t.Error = e.Err.Error()
	}
	return j.store.EndSession(ctx, e.SessionID, t)
}
