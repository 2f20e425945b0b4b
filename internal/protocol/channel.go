package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// frameHeaderSize is the 4-byte big-endian length prefix.
const frameHeaderSize = 4

// MaxFrameSize bounds the ciphertext carried by one frame.
const MaxFrameSize = MaxMessageSize + 1024

// Cipher seals outgoing and opens incoming payloads. The two directions use
// independent keys; Seal and Open are each called by one goroutine at a time.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// Channel is a length-prefixed message transport over a byte stream.
// Until SetCipher is called frames travel in the clear (handshake only).
// Any error closes the channel; later calls fail with ErrClosed.
type Channel struct {
	conn io.ReadWriteCloser

	sendMu sync.Mutex
	recvMu sync.Mutex

	cipher atomic.Pointer[cipherBox]
	closed atomic.Bool
	once   sync.Once
	header [frameHeaderSize]byte

	errMu sync.Mutex
	err   error
}

type cipherBox struct{ c Cipher }

// NewChannel wraps conn. TCP connections get Nagle disabled so each frame,
// written with a single Write, leaves as soon as it is complete.
func NewChannel(conn io.ReadWriteCloser) *Channel {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &Channel{conn: conn}
}

// SetCipher installs the session cipher. All later Send/Receive calls are
// encrypted.
func (c *Channel) SetCipher(cipher Cipher) {
	c.cipher.Store(&cipherBox{c: cipher})
}

// Encrypted reports whether a session cipher is installed.
func (c *Channel) Encrypted() bool { return c.cipher.Load() != nil }

// Closed reports whether the channel has failed or been closed.
func (c *Channel) Closed() bool { return c.closed.Load() }

// RemoteAddr returns the peer address when the underlying conn exposes one.
func (c *Channel) RemoteAddr() string {
	if nc, ok := c.conn.(interface{ RemoteAddr() net.Addr }); ok && nc.RemoteAddr() != nil {
		return nc.RemoteAddr().String()
	}
	return ""
}

// Send marshals msg, encrypts it and writes it as one frame.
func (c *Channel) Send(msg Message) error {
	data, err := Marshal(msg)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if box := c.cipher.Load(); box != nil {
		if data, err = box.c.Seal(data); err != nil {
			return c.fail(fmt.Errorf("%w: seal: %v", ErrTransport, err))
		}
	}
	return c.writeFrameLocked(data)
}

// Receive reads one frame, decrypts it and parses the message.
func (c *Channel) Receive() (Message, error) {
	c.recvMu.Lock()
	data, err := c.readFrameLocked()
	if err == nil {
		if box := c.cipher.Load(); box != nil {
			if data, err = box.c.Open(data); err != nil {
				err = c.fail(fmt.Errorf("%w: open: %v", ErrTransport, err))
			}
		}
	}
	c.recvMu.Unlock()
	if err != nil {
		return nil, err
	}

	msg, err := Unmarshal(data)
	if err != nil {
		return nil, c.fail(err)
	}
	return msg, nil
}

// SendFrame writes payload as a single unencrypted frame. It is used by the
// handshake before a cipher exists.
func (c *Channel) SendFrame(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.writeFrameLocked(payload)
}

// ReceiveFrame reads a single unencrypted frame.
func (c *Channel) ReceiveFrame() ([]byte, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return c.readFrameLocked()
}

// Close shuts the channel down and unblocks any pending Receive.
func (c *Channel) Close() error {
	var err error
	c.closed.Store(true)
	c.once.Do(func() { err = c.conn.Close() })
	return err
}

// Fail closes the channel and returns err, or ErrClosed if err is nil.
// Components layered on the channel use it to tear the connection down on
// protocol violations they detect themselves.
func (c *Channel) Fail(err error) error {
	if err == nil {
		err = ErrClosed
	}
	return c.fail(err)
}

// Err returns the error that first failed the channel, or nil if it is
// open or was closed without a failure.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Channel) fail(err error) error {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	_ = c.Close()
	return err
}

func (c *Channel) writeFrameLocked(payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if len(payload) == 0 {
		return c.fail(fmt.Errorf("%w: empty frame", ErrTransport))
	}
	if len(payload) > MaxFrameSize {
		return c.fail(fmt.Errorf("%w: frame too large (%d bytes)", ErrTransport, len(payload)))
	}

	// Prefix and body go out in one write so a message is never split
	// across separately flushed segments.
	frame := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)

	if _, err := c.conn.Write(frame); err != nil {
		return c.fail(fmt.Errorf("%w: write: %v", ErrTransport, err))
	}
	return nil
}

func (c *Channel) readFrameLocked() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if _, err := io.ReadFull(c.conn, c.header[:]); err != nil {
		return nil, c.fail(readError(err))
	}

	length := binary.BigEndian.Uint32(c.header[:])
	if length == 0 {
		return nil, c.fail(fmt.Errorf("%w: zero-length frame", ErrTransport))
	}
	if length > MaxFrameSize {
		return nil, c.fail(fmt.Errorf("%w: frame too large (%d bytes)", ErrTransport, length))
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, c.fail(readError(err))
	}
	return payload, nil
}

func readError(err error) error {
	if c := closedError(err); c != nil {
		return c
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: short read", ErrTransport)
	}
	return fmt.Errorf("%w: read: %v", ErrTransport, err)
}

// closedError maps a clean EOF or a locally closed socket to a wrapped
// ErrClosed so callers can tell an orderly shutdown from a failure.
func closedError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("%w: %w", ErrTransport, ErrClosed)
	}
	return nil
}
