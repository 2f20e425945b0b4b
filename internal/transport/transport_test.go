package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/avaropoint/deskstream/internal/protocol"
	"github.com/avaropoint/deskstream/internal/security"
)

func roundTrip(t *testing.T, ln Listener, network string, dial func(ctx context.Context) (net.Conn, error)) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	accepted := make(chan net.Conn, 1)
	errc := make(chan error, 1)
	go func() {
		c, err := ln.Accept(ctx)
		if err != nil {
			errc <- err
			return
		}
		accepted <- c
	}()

	client, err := dial(ctx)
	if err != nil {
		t.Fatalf("%s dial: %v", network, err)
	}
	defer client.Close()

	// The viewer end of a session reads first; make sure the host side can
	// still accept and write before the dialer sends anything.
	var server net.Conn
	select {
	case server = <-accepted:
	case err := <-errc:
		t.Fatalf("%s accept: %v", network, err)
	case <-ctx.Done():
		t.Fatalf("%s accept timed out", network)
	}
	defer server.Close()

	hostCh := protocol.NewChannel(server)
	viewerCh := protocol.NewChannel(client)
	go func() { errc <- hostCh.SendFrame([]byte("hello")) }()
	got, err := viewerCh.ReceiveFrame()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
}

func TestTCPRoundTrip(t *testing.T) {
	ln, err := Listen(TCP, "127.0.0.1:0", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	roundTrip(t, ln, TCP, func(ctx context.Context) (net.Conn, error) {
		return Dial(ctx, TCP, ln.Addr().String(), nil)
	})
}

func TestQUICRoundTrip(t *testing.T) {
	serverTLS, paths, err := security.LoadOrGenerateTLS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	clientTLS, err := security.ClientTLS(paths.CACertPath)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := Listen(QUIC, "127.0.0.1:0", serverTLS)
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	defer ln.Close()
	roundTrip(t, ln, QUIC, func(ctx context.Context) (net.Conn, error) {
		return Dial(ctx, QUIC, ln.Addr().String(), clientTLS)
	})
}

func TestAcceptHonoursContext(t *testing.T) {
	ln, err := Listen(TCP, "127.0.0.1:0", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := ln.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestListenRejectsBadNetwork(t *testing.T) {
	if _, err := Listen("sctp", "127.0.0.1:0", nil); !errors.Is(err, protocol.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
	if _, err := Listen(QUIC, "127.0.0.1:0", nil); !errors.Is(err, protocol.ErrConfig) {
		t.Fatalf("quic without TLS: err = %v, want ErrConfig", err)
	}
}

func TestDialFailureIsTransportError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := Dial(context.Background(), TCP, addr, nil); !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}
