package video

import "github.com/avaropoint/deskstream/internal/protocol"

func load(b []byte, bpp int) uint32 {
	switch bpp {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(b[0]) | uint32(b[1])<<8
	default:
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	}
}

func store(b []byte, bpp int, v uint32) {
	switch bpp {
	case 1:
		b[0] = byte(v)
	case 2:
		b[0], b[1] = byte(v), byte(v>>8)
	default:
		b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}
}

// scale maps a channel value from [0, from] to [0, to] with rounding.
func scale(v, from, to uint32) uint32 {
	if from == to {
		return v
	}
	return (v*to + from/2) / from
}

// Pack builds a pixel value in format f from 8-bit channels.
func Pack(f protocol.PixelFormat, r, g, b uint8) uint32 {
	return scale(uint32(r), 255, uint32(f.RedMax))<<f.RedShift |
		scale(uint32(g), 255, uint32(f.GreenMax))<<f.GreenShift |
		scale(uint32(b), 255, uint32(f.BlueMax))<<f.BlueShift
}

// Unpack splits a pixel value in format f into 8-bit channels.
func Unpack(f protocol.PixelFormat, v uint32) (r, g, b uint8) {
	r = uint8(scale(v>>f.RedShift&uint32(f.RedMax), uint32(f.RedMax), 255))
	g = uint8(scale(v>>f.GreenShift&uint32(f.GreenMax), uint32(f.GreenMax), 255))
	b = uint8(scale(v>>f.BlueShift&uint32(f.BlueMax), uint32(f.BlueMax), 255))
	return r, g, b
}

// translator converts rows of pixels between two formats.
type translator struct {
	src, dst protocol.PixelFormat
	srcBpp   int
	dstBpp   int
}

func newTranslator(src, dst protocol.PixelFormat) translator {
	return translator{src: src, dst: dst, srcBpp: src.BytesPerPixel(), dstBpp: dst.BytesPerPixel()}
}

func (t translator) identity() bool { return t.src == t.dst }

// row converts n pixels from src into dst. dst must hold n*dstBpp bytes.
func (t translator) row(dst, src []byte, n int) {
	if t.identity() {
		copy(dst, src[:n*t.srcBpp])
		return
	}
	s, d := t.src, t.dst
	for i := 0; i < n; i++ {
		v := load(src[i*t.srcBpp:], t.srcBpp)
		r := scale(v>>s.RedShift&uint32(s.RedMax), uint32(s.RedMax), uint32(d.RedMax))
		g := scale(v>>s.GreenShift&uint32(s.GreenMax), uint32(s.GreenMax), uint32(d.GreenMax))
		b := scale(v>>s.BlueShift&uint32(s.BlueMax), uint32(s.BlueMax), uint32(d.BlueMax))
		store(dst[i*t.dstBpp:], t.dstBpp, r<<d.RedShift|g<<d.GreenShift|b<<d.BlueShift)
	}
}
