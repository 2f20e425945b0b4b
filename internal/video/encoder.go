package video

import (
	"compress/zlib"
	"fmt"
	"iter"

	"github.com/avaropoint/deskstream/internal/protocol"
)

// DefaultPartitionSize bounds the raw bytes carried by one packet.
const DefaultPartitionSize = 64 << 10

// MaxScreenPixels bounds the screen area a stream may declare.
const MaxScreenPixels = 8192 * 8192

// maxRects caps the rectangles per frame; a larger dirty set is sent as its
// bounding box.
const maxRects = 64

// Encoder turns dirty regions of a captured frame into VideoPackets. It is
// not safe for concurrent use; the session guards it with the same lock it
// uses to swap encoders.
type Encoder struct {
	encoding      protocol.Encoding
	partitionSize int
	codec         rectEncoder

	screen protocol.Size
	src    protocol.PixelFormat
	dst    protocol.PixelFormat
	tr     translator
	ready  bool
	full   bool

	scratch []byte
}

// NewEncoder returns an encoder for enc. partitionSize bounds the raw bytes
// per packet; zero selects DefaultPartitionSize. Unsupported encodings fail
// with ErrConfig.
func NewEncoder(enc protocol.Encoding, partitionSize int) (*Encoder, error) {
	codec, err := newRectEncoder(enc, zlib.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if partitionSize <= 0 {
		partitionSize = DefaultPartitionSize
	}
	return &Encoder{encoding: enc, partitionSize: partitionSize, codec: codec}, nil
}

// Encoding returns the encoder's wire encoding.
func (e *Encoder) Encoding() protocol.Encoding { return e.encoding }

// Format returns the wire pixel format.
func (e *Encoder) Format() protocol.PixelFormat { return e.dst }

// Screen returns the configured screen size.
func (e *Encoder) Screen() protocol.Size { return e.screen }

// Resize must be called before the first Encode and whenever the screen
// size, the capture format or the wire format changes. The next frame is
// sent in full.
func (e *Encoder) Resize(screen protocol.Size, src, dst protocol.PixelFormat) error {
	if screen.Empty() || screen.Width > 0xFFFF || screen.Height > 0xFFFF || screen.Width*screen.Height > MaxScreenPixels {
		return fmt.Errorf("%w: invalid screen size %s", protocol.ErrConfig, screen)
	}
	if !src.Valid() {
		return fmt.Errorf("%w: invalid capture format %s", protocol.ErrConfig, src)
	}
	if !dst.Valid() {
		return fmt.Errorf("%w: invalid wire format %s", protocol.ErrConfig, dst)
	}
	e.screen, e.src, e.dst = screen, src, dst
	e.tr = newTranslator(src, dst)
	e.ready = true
	e.full = true
	return nil
}

// Encode returns the packets for region of frame. The sequence is lazy:
// each packet is compressed when the caller pulls it, and the last one
// carries LastPacket. An empty region yields nothing, except right after
// Resize when the whole screen is sent.
func (e *Encoder) Encode(region []protocol.Rect, frame *Frame) iter.Seq2[*protocol.VideoPacket, error] {
	return func(yield func(*protocol.VideoPacket, error) bool) {
		if !e.ready {
			yield(nil, fmt.Errorf("%w: encoder used before Resize", protocol.ErrConfig))
			return
		}
		if !frame.Matches(e.screen, e.src) {
			yield(nil, fmt.Errorf("%w: frame is %s %s, encoder expects %s %s",
				protocol.ErrConfig, frame.Size, frame.Format, e.screen, e.src))
			return
		}

		rects := e.plan(region)
		if len(rects) == 0 {
			return
		}
		first := true
		for i, r := range rects {
			lastRect := i == len(rects)-1
			for pkt, err := range e.encodeRect(r, frame) {
				if err != nil {
					yield(nil, err)
					return
				}
				if first {
					pkt.Flags |= protocol.FirstPacket
					pkt.Screen = e.screen
					pkt.Format = e.dst
					first = false
				}
				if lastRect && pkt.Flags.Has(protocol.LastPartition) {
					pkt.Flags |= protocol.LastPacket
				}
				if !yield(pkt, nil) {
					return
				}
			}
		}
		e.full = false
	}
}

// plan clips region to the screen and drops empty rectangles.
func (e *Encoder) plan(region []protocol.Rect) []protocol.Rect {
	screen := protocol.RectFromSize(e.screen)
	if e.full {
		return []protocol.Rect{screen}
	}
	rects := make([]protocol.Rect, 0, len(region))
	for _, r := range region {
		if c := r.Intersect(screen); !c.Empty() {
			rects = append(rects, c)
		}
	}
	if len(rects) > maxRects {
		return []protocol.Rect{boundingBox(rects)}
	}
	return rects
}

func boundingBox(rects []protocol.Rect) protocol.Rect {
	b := rects[0]
	for _, r := range rects[1:] {
		x0, y0 := min(b.X, r.X), min(b.Y, r.Y)
		x1, y1 := max(b.Right(), r.Right()), max(b.Bottom(), r.Bottom())
		b = protocol.Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
	}
	return b
}

// rowsPerPartition returns how many rows of a rectangle fit in one packet.
func (e *Encoder) rowsPerPartition(width int) int {
	rowBytes := width * e.dst.BytesPerPixel()
	return max(1, e.partitionSize/rowBytes)
}

// encodeRect yields one packet per partition of r.
func (e *Encoder) encodeRect(r protocol.Rect, frame *Frame) iter.Seq2[*protocol.VideoPacket, error] {
	return func(yield func(*protocol.VideoPacket, error) bool) {
		rows := e.rowsPerPartition(r.Width)
		rowBytes := r.Width * e.dst.BytesPerPixel()
		e.codec.begin()

		for y := r.Y; y < r.Bottom(); y += rows {
			n := min(rows, r.Bottom()-y)
			raw := e.partitionBuffer(n * rowBytes)
			for i := 0; i < n; i++ {
				e.tr.row(raw[i*rowBytes:(i+1)*rowBytes], frame.row(r, y+i), r.Width)
			}

			last := y+n >= r.Bottom()
			data, err := e.codec.partition(raw, last)
			if err != nil {
				yield(nil, fmt.Errorf("%w: encode %s: %v", protocol.ErrCodec, r, err))
				return
			}

			pkt := &protocol.VideoPacket{
				Encoding: e.encoding,
				RawLen:   uint32(len(raw)),
				Data:     data,
			}
			if y == r.Y {
				pkt.Flags |= protocol.FirstPartition
				pkt.Rect = r
			}
			if last {
				pkt.Flags |= protocol.LastPartition
			}
			if !yield(pkt, nil) {
				return
			}
		}
	}
}

func (e *Encoder) partitionBuffer(n int) []byte {
	if cap(e.scratch) < n {
		e.scratch = make([]byte, n)
	}
	return e.scratch[:n]
}
