package security

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"filippo.io/mlkem768"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/avaropoint/deskstream/internal/protocol"
)

// Fixed wire sizes of the handshake blobs.
const (
	PublicKeySize  = 1184 // ML-KEM-768 encapsulation key
	kemCipherSize  = 1088 // ML-KEM-768 ciphertext
	WrappedKeySize = kemCipherSize + SessionKeySize + chacha20poly1305.Overhead
)

var wrapInfo = []byte("deskstream-session-key-wrap-v1")

// Role selects which side of the handshake a Negotiator plays.
type Role int

const (
	// RoleHost is the side being viewed. It sends its public key first.
	RoleHost Role = iota
	// RoleViewer is the side that dialled in.
	RoleViewer
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "viewer"
}

// State is a handshake step.
type State int

// Handshake states.
const (
	StateStart State = iota
	StatePublicKeySent
	StatePublicKeyReceived
	StateSessionKeySent
	StateSessionKeyReceived
	StateEstablished
	StateFailed
)

func (s State) String() string {
	return [...]string{"start", "public_key_sent", "public_key_received",
		"session_key_sent", "session_key_received", "established", "failed"}[s]
}

// Negotiator runs the key exchange on a fresh channel. Each side generates
// an ephemeral ML-KEM key pair and a random key for the direction it sends
// in, wraps that key for the peer's public key, and unwraps the peer's key
// for the direction it receives in. A failure is final: the channel is
// closed and the caller must reconnect.
type Negotiator struct {
	role   Role
	state  State
	log    *slog.Logger
	random io.Reader

	decap   *mlkem768.DecapsulationKey
	public  []byte
	peer    []byte
	sendKey []byte
	recvKey []byte
}

// NewNegotiator returns a Negotiator for role. If log is nil, slog.Default()
// is used.
func NewNegotiator(role Role, log *slog.Logger) *Negotiator {
	if log == nil {
		log = slog.Default()
	}
	return &Negotiator{
		role:   role,
		log:    log.With("component", "handshake", "role", role.String()),
		random: rand.Reader,
	}
}

// State returns the current handshake step.
func (n *Negotiator) State() State { return n.state }

// Run performs the handshake and installs the session cipher on ch. The
// context bounds the whole exchange; cancelling it closes ch.
func (n *Negotiator) Run(ctx context.Context, ch *protocol.Channel) error {
	if n.state != StateStart {
		return fmt.Errorf("%w: negotiator already used (state %s)", protocol.ErrHandshake, n.state)
	}
	stop := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer stop()
	defer n.destroy()

	var err error
	if n.role == RoleHost {
		err = n.runHost(ch)
	} else {
		err = n.runViewer(ch)
	}
	if err == nil {
		err = n.establish(ch)
	}
	if err != nil {
		n.state = StateFailed
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", protocol.ErrHandshake, ctx.Err())
		} else if !errors.Is(err, protocol.ErrHandshake) {
			err = fmt.Errorf("%w: %w", protocol.ErrHandshake, err)
		}
		n.log.Warn("handshake failed", "error", err)
		return ch.Fail(err)
	}

	n.state = StateEstablished
	n.log.Debug("handshake established")
	return nil
}

// runHost: send public key, receive peer key, receive wrapped key, send wrapped key.
func (n *Negotiator) runHost(ch *protocol.Channel) error {
	if err := n.sendPublicKey(ch); err != nil {
		return err
	}
	if err := n.receivePublicKey(ch); err != nil {
		return err
	}
	if err := n.receiveSessionKey(ch); err != nil {
		return err
	}
	return n.sendSessionKey(ch)
}

// runViewer mirrors runHost so synchronous transports never deadlock.
func (n *Negotiator) runViewer(ch *protocol.Channel) error {
	if err := n.receivePublicKey(ch); err != nil {
		return err
	}
	if err := n.sendPublicKey(ch); err != nil {
		return err
	}
	if err := n.sendSessionKey(ch); err != nil {
		return err
	}
	return n.receiveSessionKey(ch)
}

func (n *Negotiator) sendPublicKey(ch *protocol.Channel) error {
	decap, err := mlkem768.GenerateKey()
	if err != nil {
		return fmt.Errorf("%w: generate key pair: %v", protocol.ErrHandshake, err)
	}
	n.decap = decap
	n.public = decap.EncapsulationKey()
	if len(n.public) != PublicKeySize {
		return fmt.Errorf("%w: unexpected local public key size %d", protocol.ErrHandshake, len(n.public))
	}
	if err := ch.SendFrame(n.public); err != nil {
		return err
	}
	n.advance(StatePublicKeySent)
	return nil
}

func (n *Negotiator) receivePublicKey(ch *protocol.Channel) error {
	peer, err := ch.ReceiveFrame()
	if err != nil {
		return err
	}
	if len(peer) != PublicKeySize {
		return fmt.Errorf("%w: public key is %d bytes, want %d", protocol.ErrHandshake, len(peer), PublicKeySize)
	}
	n.peer = peer
	n.advance(StatePublicKeyReceived)
	return nil
}

func (n *Negotiator) sendSessionKey(ch *protocol.Channel) error {
	n.sendKey = make([]byte, SessionKeySize)
	if _, err := io.ReadFull(n.random, n.sendKey); err != nil {
		return fmt.Errorf("%w: generate session key: %v", protocol.ErrHandshake, err)
	}
	wrapped, err := wrapKey(n.peer, n.sendKey)
	if err != nil {
		return err
	}
	if err := ch.SendFrame(wrapped); err != nil {
		return err
	}
	n.advance(StateSessionKeySent)
	return nil
}

func (n *Negotiator) receiveSessionKey(ch *protocol.Channel) error {
	wrapped, err := ch.ReceiveFrame()
	if err != nil {
		return err
	}
	if len(wrapped) != WrappedKeySize {
		return fmt.Errorf("%w: session key is %d bytes, want %d", protocol.ErrHandshake, len(wrapped), WrappedKeySize)
	}
	key, err := unwrapKey(n.decap, n.public, wrapped)
	if err != nil {
		return err
	}
	n.recvKey = key
	n.advance(StateSessionKeyReceived)
	return nil
}

func (n *Negotiator) establish(ch *protocol.Channel) error {
	c, err := NewSessionCipher(n.sendKey, n.recvKey)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrHandshake, err)
	}
	ch.SetCipher(c)
	return nil
}

func (n *Negotiator) advance(s State) {
	n.state = s
	n.log.Debug("handshake step", "state", s.String())
}

// destroy drops the key pair and wipes the raw session keys. The cipher
// keeps its own copies.
func (n *Negotiator) destroy() {
	wipe(n.sendKey)
	wipe(n.recvKey)
	n.decap, n.sendKey, n.recvKey = nil, nil, nil
}

// wrapKey encapsulates to the peer's public key and seals sessionKey with a
// key derived from the shared secret, bound to the recipient's public key.
func wrapKey(peerPublic, sessionKey []byte) ([]byte, error) {
	kemCiphertext, shared, err := mlkem768.Encapsulate(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: encapsulate: %v", protocol.ErrHandshake, err)
	}
	aead, err := wrapAEAD(shared)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	out := make([]byte, 0, WrappedKeySize)
	out = append(out, kemCiphertext...)
	return aead.Seal(out, nonce, sessionKey, peerPublic), nil
}

func unwrapKey(decap *mlkem768.DecapsulationKey, public, wrapped []byte) ([]byte, error) {
	shared, err := mlkem768.Decapsulate(decap, wrapped[:kemCipherSize])
	if err != nil {
		return nil, fmt.Errorf("%w: decapsulate: %v", protocol.ErrHandshake, err)
	}
	aead, err := wrapAEAD(shared)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	key, err := aead.Open(nil, nonce, wrapped[kemCipherSize:], public)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap session key: %v", protocol.ErrHandshake, err)
	}
	return key, nil
}

// wrapAEAD derives a single-use wrapping key from the KEM shared secret.
// Each key is used for exactly one Seal, so a zero nonce is safe.
func wrapAEAD(shared []byte) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	defer wipe(key)
	if _, err := io.ReadFull(hkdf.New(sha512.New, shared, nil, wrapInfo), key); err != nil {
		return nil, fmt.Errorf("%w: derive wrap key: %v", protocol.ErrHandshake, err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrHandshake, err)
	}
	return aead, nil
}
