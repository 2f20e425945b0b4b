// Package worker runs the long-lived goroutines of a session as one unit.
// Shutdown is two-phase: Stop signals every worker (context cancellation
// plus closers that unblock pending I/O), Wait joins them.
package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group is a set of co-terminal workers: when any worker returns, for any
// reason, the rest are signalled to stop.
type Group struct {
	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mu      sync.Mutex
	closers []io.Closer
	closed  bool
}

// New returns a Group whose context derives from parent. closers are
// closed once when the group is signalled, to unblock reads and writes.
func New(parent context.Context, log *slog.Logger, closers ...io.Closer) *Group {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	eg, ctx := errgroup.WithContext(ctx)
	g := &Group{eg: eg, ctx: ctx, cancel: cancel, log: log, closers: closers}
	context.AfterFunc(ctx, g.closeAll)
	return g
}

// Context is cancelled when the group is signalled.
func (g *Group) Context() context.Context { return g.ctx }

// Go starts fn as a named worker.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		g.log.Debug("worker started", "worker", name)
		err := fn(g.ctx)
		g.log.Debug("worker stopped", "worker", name, "error", err)
		if err == nil {
			// errgroup only cancels on error.
			g.cancel()
		}
		return err
	})
}

// Stop signals every worker. It does not wait.
func (g *Group) Stop() { g.cancel() }

// Wait joins every worker and returns the first error that was not caused
// by the group being stopped.
func (g *Group) Wait() error {
	err := g.eg.Wait()
	g.cancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (g *Group) closeAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	for _, c := range g.closers {
		if err := c.Close(); err != nil {
			g.log.Debug("close on stop", "error", err)
		}
	}
}
