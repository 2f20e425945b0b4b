package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/avaropoint/deskstream/internal/cursor"
	"github.com/avaropoint/deskstream/internal/protocol"
	"github.com/avaropoint/deskstream/internal/security"
	"github.com/avaropoint/deskstream/internal/video"
	"github.com/avaropoint/deskstream/internal/worker"
)

// Viewer connects to a host, requests a stream and renders it. Input and
// reconfiguration requests may be sent from any goroutine while Run is
// active.
type Viewer struct {
	cfg      Config
	renderer Renderer
	opts     Options

	mu     sync.Mutex
	active *viewerSession
}

// NewViewer validates cfg and returns a Viewer. renderer may be nil.
func NewViewer(cfg Config, renderer Renderer, opts Options) (*Viewer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Viewer{cfg: cfg, renderer: renderer, opts: opts}, nil
}

// Run performs the handshake on rw, requests the configured stream and
// decodes until the host disconnects, a fatal error occurs or ctx is
// cancelled. rw is closed on return.
func (v *Viewer) Run(ctx context.Context, rw io.ReadWriteCloser) error {
	c := newConn(rw, security.RoleViewer, v.opts)
	defer c.ch.Close()

	if err := c.handshake(ctx, v.cfg.HandshakeTimeout); err != nil {
		return err
	}

	info, err := v.receiveHello(ctx, c)
	if err != nil {
		return c.finish(err, "", ctx.Err() != nil)
	}
	c.log.Info("connected to host", "name", info.Name, "os", info.OSVersion, "screen", info.Screen)
	c.emit(Event{Kind: EventConnected, Host: info})

	s, err := newViewerSession(v, c)
	if err != nil {
		return c.finish(err, "", false)
	}
	if err := s.request(); err != nil {
		return c.finish(err, "", ctx.Err() != nil)
	}

	v.mu.Lock()
	v.active = s
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.active = nil
		v.mu.Unlock()
	}()

	g := worker.New(context.WithoutCancel(ctx), c.log, c.ch)
	g.Go("receive", s.receiveLoop)
	g.Go("shutdown", c.watchShutdown(ctx, "viewer closed"))
	err = g.Wait()

	return c.finish(err, s.peerReason(), ctx.Err() != nil)
}

// receiveHello waits for the HostInfo that follows the handshake.
func (v *Viewer) receiveHello(ctx context.Context, c *conn) (*protocol.HostInfo, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.ch.Close() })
	defer stop()

	msg, err := c.ch.Receive()
	if err != nil {
		return nil, err
	}
	info, ok := msg.(*protocol.HostInfo)
	if !ok {
		return nil, c.ch.Fail(fmt.Errorf("%w: expected host_info, got %s", protocol.ErrCodec, msg.Type()))
	}
	return info, nil
}

func (v *Viewer) session() (*viewerSession, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active == nil {
		return nil, protocol.ErrClosed
	}
	return v.active, nil
}

// SendPointer forwards a pointer event to the host.
func (v *Viewer) SendPointer(x, y int, mask uint8) error {
	s, err := v.session()
	if err != nil {
		return err
	}
	return s.ch.Send(&protocol.PointerEvent{X: uint16(x), Y: uint16(y), Mask: mask})
}

// SendKey forwards a key event to the host.
func (v *Viewer) SendKey(code uint32, pressed bool) error {
	s, err := v.session()
	if err != nil {
		return err
	}
	return s.ch.Send(&protocol.KeyEvent{Code: code, Pressed: pressed})
}

// SetDesktopEffects asks the host to enable or disable desktop effects.
func (v *Viewer) SetDesktopEffects(enable bool) error {
	s, err := v.session()
	if err != nil {
		return err
	}
	return s.ch.Send(&protocol.DesktopEffects{Enable: enable})
}

// Reconfigure requests a new stream configuration. Invalid settings are
// rejected with ErrConfig before anything is sent.
func (v *Viewer) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s, err := v.session()
	if err != nil {
		return err
	}
	return s.reconfigure(cfg)
}

// viewerSession is the per-connection state of a Viewer. The decoders are
// only touched by the receive loop, except for the cursor cache reset in
// reconfigure, which takes mu.
type viewerSession struct {
	*conn
	v       *Viewer
	frame   *video.Frame
	dec     *video.Decoder
	pending frameStats

	mu          sync.Mutex
	cfg         Config
	cursorDec   *cursor.Decoder
	closeReason atomic.Pointer[string]
}

func newViewerSession(v *Viewer, c *conn) (*viewerSession, error) {
	cdec, err := cursor.NewDecoder(v.cfg.CursorCapacity)
	if err != nil {
		return nil, err
	}
	return &viewerSession{
		conn:      c,
		v:         v,
		frame:     &video.Frame{},
		dec:       video.NewDecoder(),
		cfg:       v.cfg,
		cursorDec: cdec,
	}, nil
}

func (s *viewerSession) peerReason() string {
	if r := s.closeReason.Load(); r != nil {
		return *r
	}
	return ""
}

// request sends the initial stream configuration. The cursor request goes
// first so both caches agree on capacity before any shape is sent.
func (s *viewerSession) request() error {
	cfg := s.cfg
	if err := s.ch.Send(&protocol.CursorControl{Enable: cfg.Cursor, CacheCapacity: uint8(cfg.CursorCapacity)}); err != nil {
		return err
	}
	if !cfg.DesktopEffects {
		if err := s.ch.Send(&protocol.DesktopEffects{Enable: false}); err != nil {
			return err
		}
	}
	return s.ch.Send(cfg.videoControl())
}

func (s *viewerSession) reconfigure(cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	cursorChanged := cfg.Cursor != prev.Cursor || cfg.CursorCapacity != prev.CursorCapacity
	// An enabling CursorControl always starts a fresh cache on the host.
	if cfg.Cursor && cursorChanged {
		if err := s.cursorDec.Reset(cfg.CursorCapacity); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	if cursorChanged {
		if err := s.ch.Send(&protocol.CursorControl{Enable: cfg.Cursor, CacheCapacity: uint8(cfg.CursorCapacity)}); err != nil {
			return err
		}
	}
	if cfg.DesktopEffects != prev.DesktopEffects {
		if err := s.ch.Send(&protocol.DesktopEffects{Enable: cfg.DesktopEffects}); err != nil {
			return err
		}
	}
	return s.ch.Send(cfg.videoControl())
}

func (s *viewerSession) receiveLoop(ctx context.Context) error {
	for {
		msg, err := s.ch.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch m := msg.(type) {
		case *protocol.VideoPacket:
			if err := s.applyVideo(m); err != nil {
				return s.ch.Fail(err)
			}
		case *protocol.CursorShape:
			if err := s.applyCursor(m); err != nil {
				return s.ch.Fail(err)
			}
		case *protocol.HostInfo:
			s.log.Info("host info updated", "screen", m.Screen)
		case *protocol.Close:
			reason := m.Reason
			if reason == "" {
				reason = "host closed"
			}
			s.closeReason.Store(&reason)
			return nil
		default:
			return s.ch.Fail(fmt.Errorf("%w: unexpected %s from host", protocol.ErrCodec, msg.Type()))
		}
	}
}

// frameStats accumulates over the frame being decoded.
type frameStats struct {
	packets int
	bytes   int
}

func (s *viewerSession) applyVideo(p *protocol.VideoPacket) error {
	applied, err := s.dec.Decode(p, s.frame)
	if err != nil {
		return err
	}
	s.pending.packets++
	s.pending.bytes += len(p.Data)
	if !applied {
		return nil
	}
	s.emit(Event{Kind: EventFrame, Packets: s.pending.packets, Bytes: s.pending.bytes})
	s.pending = frameStats{}
	if r := s.v.renderer; r != nil {
		if err := r.RenderFrame(s.frame); err != nil {
			s.log.Warn("render frame failed", "error", err)
		}
	}
	return nil
}

func (s *viewerSession) applyCursor(m *protocol.CursorShape) error {
	s.mu.Lock()
	shape, err := s.cursorDec.Decode(m)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if shape == nil {
		// Dropped while waiting for the host to acknowledge a cache reset.
		return nil
	}
	s.emit(Event{Kind: EventCursor, CacheHit: m.Encoding == protocol.CursorCached})
	if r := s.v.renderer; r != nil {
		if err := r.RenderCursor(shape); err != nil {
			s.log.Warn("render cursor failed", "error", err)
		}
	}
	return nil
}
