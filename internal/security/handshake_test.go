package security

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/avaropoint/deskstream/internal/protocol"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pipeChannels(t *testing.T) (*protocol.Channel, *protocol.Channel) {
	t.Helper()
	a, b := net.Pipe()
	ca, cb := protocol.NewChannel(a), protocol.NewChannel(b)
	t.Cleanup(func() {
		_ = ca.Close()
		_ = cb.Close()
	})
	return ca, cb
}

func TestHandshakeEstablishesDuplexCipher(t *testing.T) {
	hostCh, viewerCh := pipeChannels(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := NewNegotiator(RoleHost, quietLogger())
	viewer := NewNegotiator(RoleViewer, quietLogger())

	errc := make(chan error, 1)
	go func() { errc <- host.Run(ctx, hostCh) }()
	if err := viewer.Run(ctx, viewerCh); err != nil {
		t.Fatalf("viewer: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("host: %v", err)
	}
	if host.State() != StateEstablished || viewer.State() != StateEstablished {
		t.Fatalf("states = %s/%s", host.State(), viewer.State())
	}
	if !hostCh.Encrypted() || !viewerCh.Encrypted() {
		t.Fatal("cipher not installed")
	}

	// Host to viewer.
	go func() { errc <- hostCh.Send(&protocol.HostInfo{Name: "desk"}) }()
	msg, err := viewerCh.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if info, ok := msg.(*protocol.HostInfo); !ok || info.Name != "desk" {
		t.Fatalf("got %#v", msg)
	}

	// Viewer to host.
	go func() { errc <- viewerCh.Send(&protocol.KeyEvent{Code: 13, Pressed: true}) }()
	msg, err = hostCh.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if key, ok := msg.(*protocol.KeyEvent); !ok || key.Code != 13 || !key.Pressed {
		t.Fatalf("got %#v", msg)
	}
}

func TestHandshakeRejectsShortPublicKey(t *testing.T) {
	viewerCh, fakeCh := pipeChannels(t)
	go func() { _ = fakeCh.SendFrame(make([]byte, PublicKeySize-1)) }()

	viewer := NewNegotiator(RoleViewer, quietLogger())
	err := viewer.Run(context.Background(), viewerCh)
	if !errors.Is(err, protocol.ErrHandshake) {
		t.Fatalf("err = %v, want ErrHandshake", err)
	}
	if viewer.State() != StateFailed {
		t.Fatalf("state = %s, want failed", viewer.State())
	}
	if !viewerCh.Closed() {
		t.Fatal("channel should be closed after a failed handshake")
	}
	if err := viewerCh.Send(&protocol.Close{}); !errors.Is(err, protocol.ErrClosed) {
		t.Fatalf("send after failure: err = %v, want ErrClosed", err)
	}
	if _, err := viewerCh.Receive(); !errors.Is(err, protocol.ErrClosed) {
		t.Fatalf("receive after failure: err = %v, want ErrClosed", err)
	}
}

func TestHandshakeRejectsBadWrappedKey(t *testing.T) {
	tests := []struct {
		name    string
		wrapped func(peerPublic []byte) []byte
	}{
		{"wrong size", func([]byte) []byte { return make([]byte, WrappedKeySize+1) }},
		{"tampered", func(peerPublic []byte) []byte {
			key := make([]byte, SessionKeySize)
			w, err := wrapKey(peerPublic, key)
			if err != nil {
				panic(err)
			}
			w[len(w)-1] ^= 0x01
			return w
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hostCh, fakeCh := pipeChannels(t)

			// The fake viewer reads the host key, answers with its own key
			// pair's public half, then sends a bad wrapped key.
			go func() {
				hostPublic, err := fakeCh.ReceiveFrame()
				if err != nil {
					return
				}
				fake := NewNegotiator(RoleViewer, quietLogger())
				if err := fake.sendPublicKey(fakeCh); err != nil {
					return
				}
				_ = fakeCh.SendFrame(tt.wrapped(hostPublic))
				_, _ = fakeCh.ReceiveFrame()
			}()

			host := NewNegotiator(RoleHost, quietLogger())
			err := host.Run(context.Background(), hostCh)
			if !errors.Is(err, protocol.ErrHandshake) {
				t.Fatalf("err = %v, want ErrHandshake", err)
			}
			if host.State() != StateFailed || !hostCh.Closed() {
				t.Fatalf("state = %s closed = %v", host.State(), hostCh.Closed())
			}
		})
	}
}

func TestHandshakeCancelClosesChannel(t *testing.T) {
	hostCh, _ := pipeChannels(t)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- NewNegotiator(RoleViewer, quietLogger()).Run(ctx, hostCh) }()
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, protocol.ErrHandshake) || !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handshake did not return after cancel")
	}
	if !hostCh.Closed() {
		t.Fatal("channel should be closed")
	}
}

func TestNegotiatorSingleUse(t *testing.T) {
	ch, _ := pipeChannels(t)
	n := NewNegotiator(RoleHost, quietLogger())
	n.state = StateEstablished
	if err := n.Run(context.Background(), ch); !errors.Is(err, protocol.ErrHandshake) {
		t.Fatalf("err = %v, want ErrHandshake", err)
	}
}
