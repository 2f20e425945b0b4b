// Package video turns captured screen regions into VideoPacket sequences
// and applies them to a destination surface on the other end.
//
// A frame is sent as one or more rectangles. Each rectangle is split by rows
// into partitions of bounded raw size and every partition travels in its own
// packet, so a frame spans 1..N packets:
//
//	FirstPacket    first packet of the frame; carries screen size and format
//	FirstPartition first packet of a rectangle; carries the rectangle
//	LastPartition  last packet of a rectangle
//	LastPacket     last packet of the frame
//
// Compressed encodings keep one stream per rectangle, flushed at every
// partition boundary, so the decoder can inflate each packet as it arrives
// and never carries stream state from one rectangle into the next.
package video

import (
	"fmt"
	"image"
	"image/color"

	"github.com/avaropoint/deskstream/internal/protocol"
)

// Frame is a packed pixel surface. Pixels are little-endian.
type Frame struct {
	Size   protocol.Size
	Format protocol.PixelFormat
	Stride int
	Pix    []byte
}

// NewFrame allocates a zeroed frame.
func NewFrame(size protocol.Size, format protocol.PixelFormat) *Frame {
	f := &Frame{}
	f.Reset(size, format)
	return f
}

// Reset reshapes the frame, reallocating only when the buffer is too small.
// Pixel contents are undefined afterwards unless the buffer was reallocated.
func (f *Frame) Reset(size protocol.Size, format protocol.PixelFormat) {
	f.Size = size
	f.Format = format
	f.Stride = size.Width * format.BytesPerPixel()
	n := f.Stride * size.Height
	if cap(f.Pix) < n {
		f.Pix = make([]byte, n)
		return
	}
	f.Pix = f.Pix[:n]
}

// Matches reports whether the frame already has the given shape.
func (f *Frame) Matches(size protocol.Size, format protocol.PixelFormat) bool {
	return f.Size == size && f.Format == format
}

// Bounds returns the rectangle covering the whole frame.
func (f *Frame) Bounds() protocol.Rect { return protocol.RectFromSize(f.Size) }

// row returns the bytes of rect r on line y.
func (f *Frame) row(r protocol.Rect, y int) []byte {
	bpp := f.Format.BytesPerPixel()
	off := y*f.Stride + r.X*bpp
	return f.Pix[off : off+r.Width*bpp]
}

// Pixel returns the packed value at (x, y).
func (f *Frame) Pixel(x, y int) uint32 {
	bpp := f.Format.BytesPerPixel()
	return load(f.Pix[y*f.Stride+x*bpp:], bpp)
}

// SetPixel stores a packed value at (x, y).
func (f *Frame) SetPixel(x, y int, v uint32) {
	bpp := f.Format.BytesPerPixel()
	store(f.Pix[y*f.Stride+x*bpp:], bpp, v)
}

// Fill paints r with an 8-bit-per-channel colour.
func (f *Frame) Fill(r protocol.Rect, red, green, blue uint8) {
	r = r.Intersect(f.Bounds())
	v := Pack(f.Format, red, green, blue)
	for y := r.Y; y < r.Bottom(); y++ {
		for x := r.X; x < r.Right(); x++ {
			f.SetPixel(x, y, v)
		}
	}
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Pix = append([]byte(nil), f.Pix...)
	return &c
}

// Image converts the frame to an opaque RGBA image.
func (f *Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Size.Width, f.Size.Height))
	for y := 0; y < f.Size.Height; y++ {
		for x := 0; x < f.Size.Width; x++ {
			r, g, b := Unpack(f.Format, f.Pixel(x, y))
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 0xFF})
		}
	}
	return img
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame %s %s", f.Size, f.Format)
}
