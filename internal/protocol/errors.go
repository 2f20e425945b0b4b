package protocol

import "errors"

// Error taxonomy. Concrete failures wrap one of these with fmt.Errorf("%w")
// so callers can classify them with errors.Is.
var (
	// ErrTransport covers socket failures, short reads and zero-length frames.
	// Always fatal to the connection.
	ErrTransport = errors.New("transport error")

	// ErrHandshake covers key size mismatches and unwrap failures.
	ErrHandshake = errors.New("handshake error")

	// ErrCodec covers malformed media: rectangle overflow, unknown encodings,
	// cursor cache desynchronisation and message parse failures.
	ErrCodec = errors.New("codec error")

	// ErrConfig is returned when a peer asks for an unsupported encoding or
	// pixel format. The prior configuration stays in effect.
	ErrConfig = errors.New("config error")

	// ErrClosed is returned by a channel that has already failed or been closed.
	ErrClosed = errors.New("channel closed")
)

// Kind returns a short label for err's taxonomy class, used in disconnect
// reasons and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrHandshake):
		return "handshake"
	case errors.Is(err, ErrCodec):
		return "codec"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrTransport), errors.Is(err, ErrClosed):
		return "transport"
	default:
		return "internal"
	}
}
