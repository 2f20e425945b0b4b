package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avaropoint/deskstream/internal/cursor"
	"github.com/avaropoint/deskstream/internal/protocol"
	"github.com/avaropoint/deskstream/internal/scheduler"
	"github.com/avaropoint/deskstream/internal/security"
	"github.com/avaropoint/deskstream/internal/video"
	"github.com/avaropoint/deskstream/internal/worker"
)

// Host serves the local screen to viewers, one connection per Serve call.
type Host struct {
	cfg      Config
	capturer Capturer
	injector InputInjector
	opts     Options
}

// NewHost validates cfg and returns a Host. injector may be nil, in which
// case input events are dropped.
func NewHost(cfg Config, capturer Capturer, injector InputInjector, opts Options) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if capturer == nil {
		return nil, fmt.Errorf("%w: host needs a capturer", protocol.ErrConfig)
	}
	return &Host{cfg: cfg, capturer: capturer, injector: injector, opts: opts}, nil
}

// Serve runs one session on rw until the viewer disconnects, a fatal error
// occurs or ctx is cancelled. rw is closed on return.
func (h *Host) Serve(ctx context.Context, rw io.ReadWriteCloser) error {
	c := newConn(rw, security.RoleHost, h.opts)
	defer c.ch.Close()

	if err := c.handshake(ctx, h.cfg.HandshakeTimeout); err != nil {
		return err
	}

	info := CollectHostInfo(h.cfg.Name, h.capturer.Screen())
	if err := c.ch.Send(info); err != nil {
		return c.finish(err, "", false)
	}
	c.log.Info("viewer connected", "screen", info.Screen)
	c.emit(Event{Kind: EventConnected, Host: info})

	s := newHostSession(h, c)
	g := worker.New(context.WithoutCancel(ctx), c.log, c.ch)
	g.Go("capture", s.captureLoop)
	g.Go("receive", s.receiveLoop)
	g.Go("shutdown", c.watchShutdown(ctx, "host shutting down"))
	err := g.Wait()

	return c.finish(err, s.peerReason(), ctx.Err() != nil)
}

// hostSession is the per-connection state of a Host. mu guards the encoder
// configuration; the capture loop holds it for a whole frame so a control
// message never lands halfway through one.
type hostSession struct {
	*conn
	h     *Host
	sched *scheduler.Scheduler
	wake  chan struct{}

	mu          sync.Mutex
	video       bool
	encoding    protocol.Encoding
	format      protocol.PixelFormat
	encoder     *video.Encoder
	source      protocol.PixelFormat
	resize      bool
	cursor      bool
	cursorCap   int
	cursorEnc   *cursor.Encoder
	lastCursor  *cursor.Shape
	closeReason atomic.Pointer[string]
}

func newHostSession(h *Host, c *conn) *hostSession {
	return &hostSession{
		conn:      c,
		h:         h,
		sched:     scheduler.New(h.cfg.Interval),
		wake:      make(chan struct{}, 1),
		encoding:  h.cfg.Encoding,
		format:    h.cfg.Format,
		cursorCap: h.cfg.CursorCapacity,
	}
}

func (s *hostSession) peerReason() string {
	if r := s.closeReason.Load(); r != nil {
		return *r
	}
	return ""
}

func (s *hostSession) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// active reports whether anything is being streamed.
func (s *hostSession) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video || s.cursor
}

func (s *hostSession) captureLoop(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		// Streaming is off until the viewer asks for it.
		for !s.active() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
			}
		}

		s.sched.BeginCapture()
		if err := s.captureOnce(); err != nil {
			return err
		}

		timer.Reset(s.sched.NextDelay())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *hostSession) captureOnce() error {
	frame, dirty, err := s.h.capturer.CaptureImage()
	if err != nil {
		s.log.Warn("capture failed", "error", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.video {
		if err := s.sendFrame(frame, dirty); err != nil {
			return err
		}
	}
	if s.cursor {
		return s.sendCursor()
	}
	return nil
}

// sendFrame encodes and sends one frame. Called with mu held.
func (s *hostSession) sendFrame(frame *video.Frame, dirty []protocol.Rect) error {
	if s.encoder == nil {
		enc, err := video.NewEncoder(s.encoding, s.h.cfg.PartitionSize)
		if err != nil {
			return err
		}
		s.encoder, s.resize = enc, true
	}
	if s.resize || s.encoder.Screen() != frame.Size || s.source != frame.Format {
		if err := s.encoder.Resize(frame.Size, frame.Format, s.format); err != nil {
			return err
		}
		s.source, s.resize = frame.Format, false
		s.log.Debug("encoder configured", "encoding", s.encoding, "screen", frame.Size, "format", s.format)
	}

	packets, bytes := 0, 0
	for pkt, err := range s.encoder.Encode(dirty, frame) {
		if err != nil {
			return err
		}
		if err := s.ch.Send(pkt); err != nil {
			return err
		}
		packets++
		bytes += len(pkt.Data)
	}
	if packets > 0 {
		s.emit(Event{Kind: EventFrame, Packets: packets, Bytes: bytes})
	}
	return nil
}

// sendCursor sends the cursor shape when it changed. Called with mu held.
func (s *hostSession) sendCursor() error {
	shape, err := s.h.capturer.CaptureCursor()
	if err != nil {
		s.log.Warn("cursor capture failed", "error", err)
		return nil
	}
	if shape == nil || shape.Equal(s.lastCursor) {
		return nil
	}
	if s.cursorEnc == nil {
		enc, err := cursor.NewEncoder(s.cursorCap)
		if err != nil {
			return err
		}
		s.cursorEnc = enc
	}
	msg, hit, err := s.cursorEnc.Encode(shape)
	if err != nil {
		return err
	}
	if err := s.ch.Send(msg); err != nil {
		return err
	}
	s.lastCursor = shape
	s.emit(Event{Kind: EventCursor, CacheHit: hit})
	return nil
}

func (s *hostSession) receiveLoop(ctx context.Context) error {
	for {
		msg, err := s.ch.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch m := msg.(type) {
		case *protocol.VideoControl:
			s.reject(s.applyVideoControl(m))
		case *protocol.CursorControl:
			s.reject(s.applyCursorControl(m))
		case *protocol.DesktopEffects:
			s.applyDesktopEffects(m)
		case *protocol.PointerEvent:
			if inj := s.h.injector; inj != nil {
				if err := inj.Pointer(int(m.X), int(m.Y), m.Mask); err != nil {
					s.log.Debug("pointer injection failed", "error", err)
				}
			}
		case *protocol.KeyEvent:
			if inj := s.h.injector; inj != nil {
				if err := inj.Key(m.Code, m.Pressed); err != nil {
					s.log.Debug("key injection failed", "error", err)
				}
			}
		case *protocol.Close:
			reason := m.Reason
			if reason == "" {
				reason = "viewer closed"
			}
			s.closeReason.Store(&reason)
			return nil
		default:
			return s.ch.Fail(fmt.Errorf("%w: unexpected %s from viewer", protocol.ErrCodec, msg.Type()))
		}
	}
}

// reject reports a refused control message. The session keeps its
// previous configuration.
func (s *hostSession) reject(err error) {
	if err == nil {
		return
	}
	s.log.Warn("control request rejected", "error", err)
	s.emit(Event{Kind: EventError, Reason: "request rejected", Err: err})
}

func (s *hostSession) applyVideoControl(m *protocol.VideoControl) error {
	if !m.Enable {
		s.mu.Lock()
		s.video, s.encoder = false, nil
		s.mu.Unlock()
		s.log.Info("video disabled")
		return nil
	}
	if !video.Supported(m.Encoding) {
		return fmt.Errorf("%w: unsupported encoding %s", protocol.ErrConfig, m.Encoding)
	}
	if !m.Format.Valid() {
		return fmt.Errorf("%w: unsupported pixel format %s", protocol.ErrConfig, m.Format)
	}
	if m.Interval > scheduler.MaxInterval {
		return fmt.Errorf("%w: interval %s above %s", protocol.ErrConfig, m.Interval, scheduler.MaxInterval)
	}

	s.mu.Lock()
	if m.Encoding != s.encoding {
		s.encoder = nil
	}
	if m.Format != s.format {
		s.resize = true
	}
	if !s.video {
		// A re-enabled stream starts from a full frame.
		s.resize = true
	}
	s.encoding, s.format, s.video = m.Encoding, m.Format, true
	s.mu.Unlock()

	if m.Interval > 0 {
		s.sched.SetInterval(m.Interval)
	}
	s.log.Info("video enabled", "encoding", m.Encoding, "format", m.Format, "interval", s.sched.Interval())
	s.signal()
	return nil
}

func (s *hostSession) applyCursorControl(m *protocol.CursorControl) error {
	if !m.Enable {
		s.mu.Lock()
		s.cursor = false
		s.mu.Unlock()
		return nil
	}
	capacity := int(m.CacheCapacity)
	if capacity == 0 {
		capacity = cursor.DefaultCapacity
	}
	if capacity > cursor.MaxCapacity {
		return fmt.Errorf("%w: cursor cache capacity %d above %d", protocol.ErrConfig, capacity, cursor.MaxCapacity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursorEnc == nil {
		enc, err := cursor.NewEncoder(capacity)
		if err != nil {
			return err
		}
		s.cursorEnc = enc
	} else if err := s.cursorEnc.Reset(capacity); err != nil {
		return err
	}
	s.cursorCap = capacity
	s.cursor = true
	s.lastCursor = nil
	s.signal()
	return nil
}

func (s *hostSession) applyDesktopEffects(m *protocol.DesktopEffects) {
	t, ok := s.h.capturer.(EffectsToggler)
	if !ok {
		s.log.Debug("desktop effects not supported by capturer")
		return
	}
	if err := t.SetDesktopEffects(m.Enable); err != nil {
		s.log.Warn("desktop effects toggle failed", "error", err)
	}
}
