// Package transport opens the byte streams that sessions run over. Two
// networks are supported: "tcp" and "quic" (one bidirectional stream per
// connection).
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/avaropoint/deskstream/internal/protocol"
)

// Network names accepted by Listen and Dial.
const (
	TCP  = "tcp"
	QUIC = "quic"
)

// Listener accepts session connections.
type Listener interface {
	// Accept blocks until a peer connects or ctx is done.
	Accept(ctx context.Context) (net.Conn, error)
	Addr() net.Addr
	Close() error
}

// Listen opens a listener on addr. tlsCfg is required for QUIC and ignored
// for TCP.
func Listen(network, addr string, tlsCfg *tls.Config) (Listener, error) {
	switch network {
	case TCP, "":
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("%w: listen %s: %v", protocol.ErrTransport, addr, err)
		}
		return &tcpListener{ln: ln.(*net.TCPListener)}, nil
	case QUIC:
		if tlsCfg == nil {
			return nil, fmt.Errorf("%w: quic requires a TLS config", protocol.ErrConfig)
		}
		return listenQUIC(addr, tlsCfg)
	default:
		return nil, fmt.Errorf("%w: unknown network %q", protocol.ErrConfig, network)
	}
}

// Dial connects to a listening host. tlsCfg is required for QUIC and ignored
// for TCP.
func Dial(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
	switch network {
	case TCP, "":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", protocol.ErrTransport, addr, err)
		}
		return conn, nil
	case QUIC:
		if tlsCfg == nil {
			return nil, fmt.Errorf("%w: quic requires a TLS config", protocol.ErrConfig)
		}
		return dialQUIC(ctx, addr, tlsCfg)
	default:
		return nil, fmt.Errorf("%w: unknown network %q", protocol.ErrConfig, network)
	}
}

type tcpListener struct {
	ln *net.TCPListener
}

func (l *tcpListener) Accept(ctx context.Context) (net.Conn, error) {
	_ = l.ln.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = l.ln.SetDeadline(time.Now()) })
	defer stop()

	conn, err := l.ln.AcceptTCP()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, fmt.Errorf("%w: %w", protocol.ErrTransport, protocol.ErrClosed)
		}
		return nil, fmt.Errorf("%w: accept: %v", protocol.ErrTransport, err)
	}
	_ = conn.SetNoDelay(true)
	return conn, nil
}

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }
func (l *tcpListener) Close() error   { return l.ln.Close() }
