// Package security provides the cryptography for a streaming session:
//
//   - The ML-KEM-768 key exchange that opens every session (Negotiator)
//   - The per-direction ChaCha20-Poly1305 session cipher (SessionCipher)
//   - Self-signed TLS material for the QUIC transport
//
// # Key exchange
//
// Each side sends an ephemeral ML-KEM-768 public key, then a random
// 256-bit key for the direction it sends in, wrapped for the peer. The
// wrapping key comes from HKDF-SHA-512 over the KEM shared secret and the
// wrap is bound to the recipient's public key as associated data.
//
// # Session cipher
//
// Frames are sealed with ChaCha20-Poly1305 under an implicit 64-bit
// counter nonce. The counter never travels on the wire, so a dropped,
// replayed or reordered frame fails authentication and ends the session.
package security
