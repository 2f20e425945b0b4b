package security

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// SessionKeySize is the size of each direction's symmetric key.
const SessionKeySize = chacha20poly1305.KeySize

var errNonceExhausted = errors.New("nonce counter exhausted")

// direction is one half of a duplex session: an AEAD plus the implicit
// message counter used as its nonce. Frames are applied strictly in order,
// so the counter never travels on the wire.
type direction struct {
	aead    cipher.AEAD
	counter uint64
	nonce   [chacha20poly1305.NonceSize]byte
}

func newDirection(key []byte) (*direction, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &direction{aead: aead}, nil
}

func (d *direction) next() ([]byte, error) {
	if d.counter == ^uint64(0) {
		return nil, errNonceExhausted
	}
	binary.BigEndian.PutUint64(d.nonce[4:], d.counter)
	d.counter++
	return d.nonce[:], nil
}

// SessionCipher encrypts outgoing frames with one key and decrypts incoming
// frames with another. It satisfies protocol.Cipher.
type SessionCipher struct {
	send *direction
	recv *direction
}

// NewSessionCipher builds a cipher from the two directional keys. The caller
// may wipe the key slices afterwards.
func NewSessionCipher(sendKey, recvKey []byte) (*SessionCipher, error) {
	send, err := newDirection(sendKey)
	if err != nil {
		return nil, fmt.Errorf("send key: %w", err)
	}
	recv, err := newDirection(recvKey)
	if err != nil {
		return nil, fmt.Errorf("receive key: %w", err)
	}
	return &SessionCipher{send: send, recv: recv}, nil
}

// Seal encrypts plaintext under the next send nonce.
func (c *SessionCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce, err := c.send.next()
	if err != nil {
		return nil, err
	}
	return c.send.aead.Seal(nil, nonce, plaintext, nil), nil
}

// Open decrypts ciphertext under the next receive nonce. A reordered,
// replayed or tampered frame fails authentication.
func (c *SessionCipher) Open(ciphertext []byte) ([]byte, error) {
	nonce, err := c.recv.next()
	if err != nil {
		return nil, err
	}
	return c.recv.aead.Open(nil, nonce, ciphertext, nil)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
