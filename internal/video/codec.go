package video

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"

	"github.com/avaropoint/deskstream/internal/protocol"
)

// Supported reports whether enc has a codec.
func Supported(enc protocol.Encoding) bool {
	return enc == protocol.EncodingRaw || enc == protocol.EncodingZlib
}

// rectEncoder compresses the partitions of one rectangle at a time.
type rectEncoder interface {
	// begin starts a new rectangle with fresh stream state.
	begin()
	// partition encodes raw; last closes the rectangle's stream.
	partition(raw []byte, last bool) ([]byte, error)
}

// rectDecoder mirrors rectEncoder. partition must fill out exactly.
type rectDecoder interface {
	begin()
	partition(data, out []byte, last bool) error
}

func newRectEncoder(enc protocol.Encoding, level int) (rectEncoder, error) {
	switch enc {
	case protocol.EncodingRaw:
		return rawEncoder{}, nil
	case protocol.EncodingZlib:
		return &zlibEncoder{level: level}, nil
	}
	return nil, fmt.Errorf("%w: encoding %s is not supported", protocol.ErrConfig, enc)
}

func newRectDecoder(enc protocol.Encoding) (rectDecoder, error) {
	switch enc {
	case protocol.EncodingRaw:
		return rawDecoder{}, nil
	case protocol.EncodingZlib:
		return &zlibDecoder{}, nil
	}
	return nil, fmt.Errorf("%w: unsupported encoding %d", protocol.ErrCodec, enc)
}

type rawEncoder struct{}

func (rawEncoder) begin() {}

func (rawEncoder) partition(raw []byte, _ bool) ([]byte, error) {
	return bytes.Clone(raw), nil
}

type rawDecoder struct{}

func (rawDecoder) begin() {}

func (rawDecoder) partition(data, out []byte, _ bool) error {
	if len(data) != len(out) {
		return fmt.Errorf("%w: raw partition is %d bytes, declared %d", protocol.ErrCodec, len(data), len(out))
	}
	copy(out, data)
	return nil
}

// zlibEncoder runs one zlib stream per rectangle. Every partition but the
// last ends with a sync flush so its packet decodes on its own.
type zlibEncoder struct {
	level int
	buf   bytes.Buffer
	zw    *zlib.Writer
}

func (z *zlibEncoder) begin() {
	z.buf.Reset()
	if z.zw == nil {
		zw, err := zlib.NewWriterLevel(&z.buf, z.level)
		if err != nil {
			zw = zlib.NewWriter(&z.buf)
		}
		z.zw = zw
		return
	}
	z.zw.Reset(&z.buf)
}

func (z *zlibEncoder) partition(raw []byte, last bool) ([]byte, error) {
	if _, err := z.zw.Write(raw); err != nil {
		return nil, err
	}
	var err error
	if last {
		err = z.zw.Close()
	} else {
		err = z.zw.Flush()
	}
	if err != nil {
		return nil, err
	}
	out := bytes.Clone(z.buf.Bytes())
	z.buf.Reset()
	return out, nil
}

// chunkReader feeds packet payloads to the inflater. It implements
// io.ByteReader so the inflater consumes only the bytes it needs, and its
// EOF is not sticky: more input can arrive with the next packet.
type chunkReader struct {
	buf []byte
}

func (c *chunkReader) feed(b []byte) {
	if len(c.buf) == 0 {
		c.buf = b
		return
	}
	c.buf = append(bytes.Clone(c.buf), b...)
}

func (c *chunkReader) reset() { c.buf = nil }

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *chunkReader) ReadByte() (byte, error) {
	if len(c.buf) == 0 {
		return 0, io.EOF
	}
	b := c.buf[0]
	c.buf = c.buf[1:]
	return b, nil
}

type zlibDecoder struct {
	src chunkReader
	zr  io.ReadCloser
	// open is set once the current rectangle's stream header was read.
	open bool
}

func (z *zlibDecoder) begin() {
	z.src.reset()
	z.open = false
}

func (z *zlibDecoder) partition(data, out []byte, last bool) error {
	z.src.feed(data)
	if !z.open {
		if err := z.openStream(); err != nil {
			return err
		}
	}
	if _, err := io.ReadFull(z.zr, out); err != nil {
		return fmt.Errorf("%w: inflate: %v", protocol.ErrCodec, err)
	}
	if !last {
		return nil
	}

	// The stream must end exactly at the declared size.
	var extra [1]byte
	n, err := z.zr.Read(extra[:])
	switch {
	case n > 0:
		return fmt.Errorf("%w: rectangle overflows its declared size", protocol.ErrCodec)
	case err == nil:
		return fmt.Errorf("%w: rectangle stream not terminated", protocol.ErrCodec)
	case !errors.Is(err, io.EOF):
		return fmt.Errorf("%w: inflate: %v", protocol.ErrCodec, err)
	case len(z.src.buf) > 0:
		return fmt.Errorf("%w: %d trailing bytes after rectangle stream", protocol.ErrCodec, len(z.src.buf))
	}
	z.open = false
	return nil
}

func (z *zlibDecoder) openStream() error {
	var err error
	if z.zr == nil {
		z.zr, err = zlib.NewReader(&z.src)
	} else {
		err = z.zr.(zlib.Resetter).Reset(&z.src, nil)
	}
	if err != nil {
		return fmt.Errorf("%w: zlib header: %v", protocol.ErrCodec, err)
	}
	z.open = true
	return nil
}

// Deflate compresses raw as a single self-contained zlib stream.
func Deflate(raw []byte) ([]byte, error) {
	var z zlibEncoder
	z.level = zlib.DefaultCompression
	z.begin()
	return z.partition(raw, true)
}

// Inflate decompresses a stream produced by Deflate into out, which must be
// exactly the decompressed size. A stream that is shorter or longer than out
// fails with ErrCodec.
func Inflate(data, out []byte) error {
	var z zlibDecoder
	z.begin()
	return z.partition(data, out, true)
}
