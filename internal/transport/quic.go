package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/avaropoint/deskstream/internal/protocol"
)

// streamPreamble is written by the dialer as soon as its stream opens. A
// QUIC stream is invisible to the peer until data flows on it, and the host
// cannot accept the stream while the viewer waits for the host's first
// handshake frame.
const streamPreamble byte = 0xD5

const quicIdleTimeout = 30 * time.Second

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  quicIdleTimeout,
		KeepAlivePeriod: quicIdleTimeout / 3,
	}
}

// streamConn wraps a QUIC stream as net.Conn. Closing it closes the whole
// QUIC connection since each connection carries exactly one session.
type streamConn struct {
	*quic.Stream
	conn *quic.Conn
}

func (c *streamConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *streamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *streamConn) Close() error {
	c.Stream.CancelRead(0)
	err := c.Stream.Close()
	_ = c.conn.CloseWithError(0, "session closed")
	return err
}

func dialQUIC(ctx context.Context, addr string, tlsCfg *tls.Config) (net.Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsCfg, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", protocol.ErrTransport, addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("%w: open stream: %v", protocol.ErrTransport, err)
	}
	if _, err := stream.Write([]byte{streamPreamble}); err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("%w: write preamble: %v", protocol.ErrTransport, err)
	}
	return &streamConn{Stream: stream, conn: conn}, nil
}

type quicListener struct {
	ln *quic.Listener
}

func listenQUIC(addr string, tlsCfg *tls.Config) (*quicListener, error) {
	ln, err := quic.ListenAddr(addr, tlsCfg, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %v", protocol.ErrTransport, addr, err)
	}
	return &quicListener{ln: ln}, nil
}

func (l *quicListener) Accept(ctx context.Context) (net.Conn, error) {
	for {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, quic.ErrServerClosed) {
				return nil, fmt.Errorf("%w: %w", protocol.ErrTransport, protocol.ErrClosed)
			}
			return nil, fmt.Errorf("%w: accept: %v", protocol.ErrTransport, err)
		}
		sc, err := acceptSession(ctx, conn)
		if err != nil {
			// A misbehaving peer must not take the listener down.
			_ = conn.CloseWithError(1, "bad preamble")
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return sc, nil
	}
}

func acceptSession(ctx context.Context, conn *quic.Conn) (*streamConn, error) {
	ctx, cancel := context.WithTimeout(ctx, quicIdleTimeout)
	defer cancel()
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	var b [1]byte
	if _, err := io.ReadFull(stream, b[:]); err != nil {
		return nil, err
	}
	if b[0] != streamPreamble {
		return nil, fmt.Errorf("unexpected preamble %#x", b[0])
	}
	return &streamConn{Stream: stream, conn: conn}, nil
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }
func (l *quicListener) Close() error   { return l.ln.Close() }
