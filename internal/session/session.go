package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avaropoint/deskstream/internal/protocol"
	"github.com/avaropoint/deskstream/internal/security"
)

// Options carries the optional collaborators shared by Host and Viewer.
type Options struct {
	Logger   *slog.Logger
	Observer Observer
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// conn is the state common to both ends of one connection.
type conn struct {
	id       string
	role     security.Role
	ch       *protocol.Channel
	log      *slog.Logger
	observer Observer
}

func newConn(rw io.ReadWriteCloser, role security.Role, opts Options) *conn {
	ch := protocol.NewChannel(rw)
	id := uuid.NewString()
	return &conn{
		id:       id,
		role:     role,
		ch:       ch,
		log:      opts.logger().With("component", "session", "role", role.String(), "session", id, "peer", ch.RemoteAddr()),
		observer: opts.Observer,
	}
}

func (c *conn) emit(e Event) {
	if c.observer == nil {
		return
	}
	e.SessionID = c.id
	e.Role = c.role.String()
	e.Peer = c.ch.RemoteAddr()
	e.Time = time.Now()
	c.observer.OnEvent(e)
}

// handshake runs the key exchange bounded by timeout.
func (c *conn) handshake(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := security.NewNegotiator(c.role, c.log).Run(ctx, c.ch); err != nil {
		c.emit(Event{Kind: EventError, Reason: "handshake failed", Err: err})
		c.emit(Event{Kind: EventDisconnected, Reason: "handshake failed", Err: err})
		return err
	}
	return nil
}

// watchShutdown sends Close when the caller's context ends so the peer sees
// an orderly disconnect. It returns when either context is done.
func (c *conn) watchShutdown(parent context.Context, reason string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-parent.Done():
			if err := c.ch.Send(&protocol.Close{Reason: reason}); err != nil {
				c.log.Debug("send close", "error", err)
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// finish reports the end of a session and returns the error the caller
// sees. A peer Close or a local shutdown is not an error.
func (c *conn) finish(err error, peerReason string, stopping bool) error {
	// A worker that tripped over the closed channel may have returned
	// before the one that closed it.
	if cause := c.ch.Err(); cause != nil && (err == nil || errors.Is(err, protocol.ErrClosed) || errors.Is(err, context.Canceled)) {
		err = cause
	}
	reason := peerReason
	switch {
	case peerReason != "":
		err = nil
	case stopping:
		reason, err = "local shutdown", nil
	case err == nil || errors.Is(err, protocol.ErrClosed):
		reason, err = "connection closed", nil
	default:
		reason = protocol.Kind(err) + " error"
		c.emit(Event{Kind: EventError, Reason: reason, Err: err})
	}
	c.log.Info("session ended", "reason", reason, "error", err)
	c.emit(Event{Kind: EventDisconnected, Reason: reason, Err: err})
	return err
}
