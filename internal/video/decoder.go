package video

import (
	"fmt"

	"github.com/avaropoint/deskstream/internal/protocol"
)

// Decoder applies VideoPackets to a destination frame. Packets must arrive
// in the order the Encoder produced them. Any error abandons the frame in
// progress; the stream cannot be resynchronised and the session must end.
type Decoder struct {
	encoding protocol.Encoding
	codec    rectDecoder
	screen   protocol.Size
	format   protocol.PixelFormat

	inFrame bool
	inRect  bool
	rect    protocol.Rect
	filled  int
	scratch []byte
}

// NewDecoder returns a decoder that configures itself from the first packet.
func NewDecoder() *Decoder { return &Decoder{} }

// Encoding returns the encoding of the current stream, zero before the
// first packet.
func (d *Decoder) Encoding() protocol.Encoding { return d.encoding }

// Decode applies p to dst and reports whether it completed a frame. A
// FirstPacket reconfigures the decoder when the encoding changed and
// reshapes dst when the screen size or format changed. A rectangle is
// copied into dst only once all of its partitions decoded cleanly.
func (d *Decoder) Decode(p *protocol.VideoPacket, dst *Frame) (bool, error) {
	applied, err := d.decode(p, dst)
	if err != nil {
		d.abandon()
		return false, err
	}
	return applied, nil
}

func (d *Decoder) decode(p *protocol.VideoPacket, dst *Frame) (bool, error) {
	if p.Flags.Has(protocol.FirstPacket) {
		if d.inFrame {
			return false, fmt.Errorf("%w: new frame before previous frame ended", protocol.ErrCodec)
		}
		if err := d.begin(p, dst); err != nil {
			return false, err
		}
	} else if !d.inFrame {
		return false, fmt.Errorf("%w: packet outside a frame", protocol.ErrCodec)
	}
	if p.Encoding != d.encoding {
		return false, fmt.Errorf("%w: encoding changed mid-frame (%s to %s)", protocol.ErrCodec, d.encoding, p.Encoding)
	}
	if !dst.Matches(d.screen, d.format) {
		return false, fmt.Errorf("%w: destination reshaped mid-stream", protocol.ErrCodec)
	}

	if p.Flags.Has(protocol.FirstPartition) {
		if d.inRect {
			return false, fmt.Errorf("%w: new rectangle before %s ended", protocol.ErrCodec, d.rect)
		}
		if err := d.beginRect(p.Rect); err != nil {
			return false, err
		}
	} else if !d.inRect {
		return false, fmt.Errorf("%w: partition outside a rectangle", protocol.ErrCodec)
	}

	last := p.Flags.Has(protocol.LastPartition)
	if err := d.partition(p, last); err != nil {
		return false, err
	}
	if last {
		if d.filled != len(d.scratch) {
			return false, fmt.Errorf("%w: rectangle %s truncated at %d of %d bytes",
				protocol.ErrCodec, d.rect, d.filled, len(d.scratch))
		}
		d.blit(dst)
		d.inRect = false
	}

	if p.Flags.Has(protocol.LastPacket) {
		if d.inRect {
			return false, fmt.Errorf("%w: frame ended inside rectangle %s", protocol.ErrCodec, d.rect)
		}
		d.inFrame = false
		return true, nil
	}
	return false, nil
}

func (d *Decoder) begin(p *protocol.VideoPacket, dst *Frame) error {
	if !p.Format.Valid() {
		return fmt.Errorf("%w: invalid pixel format %s", protocol.ErrCodec, p.Format)
	}
	if p.Screen.Empty() {
		return fmt.Errorf("%w: empty screen size", protocol.ErrCodec)
	}
	if p.Screen.Width*p.Screen.Height > MaxScreenPixels {
		return fmt.Errorf("%w: screen %s exceeds %d pixels", protocol.ErrCodec, p.Screen, MaxScreenPixels)
	}
	if d.codec == nil || p.Encoding != d.encoding {
		codec, err := newRectDecoder(p.Encoding)
		if err != nil {
			return err
		}
		d.codec, d.encoding = codec, p.Encoding
	}
	if p.Screen != d.screen || p.Format != d.format || !dst.Matches(p.Screen, p.Format) {
		d.screen, d.format = p.Screen, p.Format
		dst.Reset(p.Screen, p.Format)
	}
	d.inFrame = true
	return nil
}

func (d *Decoder) beginRect(r protocol.Rect) error {
	if r.Empty() || !r.Within(d.screen) {
		return fmt.Errorf("%w: rectangle %s outside screen %s", protocol.ErrCodec, r, d.screen)
	}
	n := r.Width * r.Height * d.format.BytesPerPixel()
	if cap(d.scratch) < n {
		d.scratch = make([]byte, n)
	}
	d.scratch = d.scratch[:n]
	d.rect, d.filled, d.inRect = r, 0, true
	d.codec.begin()
	return nil
}

// partition decodes exactly RawLen bytes into the rectangle's scratch.
func (d *Decoder) partition(p *protocol.VideoPacket, last bool) error {
	n := int(p.RawLen)
	if n == 0 {
		return fmt.Errorf("%w: empty partition", protocol.ErrCodec)
	}
	if d.filled+n > len(d.scratch) {
		return fmt.Errorf("%w: partition of %d bytes overflows rectangle %s (%d of %d bytes used)",
			protocol.ErrCodec, n, d.rect, d.filled, len(d.scratch))
	}
	if err := d.codec.partition(p.Data, d.scratch[d.filled:d.filled+n], last); err != nil {
		return err
	}
	d.filled += n
	return nil
}

// blit copies the completed rectangle into dst row by row.
func (d *Decoder) blit(dst *Frame) {
	rowBytes := d.rect.Width * d.format.BytesPerPixel()
	for i := 0; i < d.rect.Height; i++ {
		copy(dst.row(d.rect, d.rect.Y+i), d.scratch[i*rowBytes:(i+1)*rowBytes])
	}
}

func (d *Decoder) abandon() {
	d.inFrame = false
	d.inRect = false
	d.filled = 0
	if d.codec != nil {
		d.codec.begin()
	}
}
