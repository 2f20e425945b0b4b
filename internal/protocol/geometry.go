package protocol

import "fmt"

// Size is a width and height in pixels.
type Size struct {
	Width  int
	Height int
}

// Empty reports whether the size covers no pixels.
func (s Size) Empty() bool { return s.Width <= 0 || s.Height <= 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// Rect is an axis-aligned rectangle.
type Rect struct {
	X, Y          int
	Width, Height int
}

// RectFromSize returns the rectangle at the origin covering s.
func RectFromSize(s Size) Rect { return Rect{Width: s.Width, Height: s.Height} }

// Empty reports whether r covers no pixels.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Right returns the exclusive right edge.
func (r Rect) Right() int { return r.X + r.Width }

// Bottom returns the exclusive bottom edge.
func (r Rect) Bottom() int { return r.Y + r.Height }

// Within reports whether r lies entirely inside a surface of size s.
func (r Rect) Within(s Size) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width >= 0 && r.Height >= 0 &&
		r.Right() <= s.Width && r.Bottom() <= s.Height
}

// Intersect returns the overlap of r and o, or an empty rect.
func (r Rect) Intersect(o Rect) Rect {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1, y1 := min(r.Right(), o.Right()), min(r.Bottom(), o.Bottom())
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}

// PixelFormat describes how a pixel is packed into 1, 2 or 4 little-endian
// bytes. Formats compare by value.
type PixelFormat struct {
	BitsPerPixel uint8
	RedMax       uint16
	GreenMax     uint16
	BlueMax      uint16
	RedShift     uint8
	GreenShift   uint8
	BlueShift    uint8
}

// Common pixel formats.
var (
	FormatARGB   = PixelFormat{BitsPerPixel: 32, RedMax: 255, GreenMax: 255, BlueMax: 255, RedShift: 16, GreenShift: 8, BlueShift: 0}
	FormatRGB565 = PixelFormat{BitsPerPixel: 16, RedMax: 31, GreenMax: 63, BlueMax: 31, RedShift: 11, GreenShift: 5, BlueShift: 0}
	FormatRGB555 = PixelFormat{BitsPerPixel: 16, RedMax: 31, GreenMax: 31, BlueMax: 31, RedShift: 10, GreenShift: 5, BlueShift: 0}
	FormatRGB332 = PixelFormat{BitsPerPixel: 8, RedMax: 7, GreenMax: 7, BlueMax: 3, RedShift: 5, GreenShift: 2, BlueShift: 0}
)

// BytesPerPixel returns the storage size of one pixel.
func (f PixelFormat) BytesPerPixel() int { return int(f.BitsPerPixel) / 8 }

// Valid reports whether the format can be used by the codecs: 8, 16 or 32
// bits per pixel, non-zero channel maxima of the form 2^n-1, and channels
// that fit inside the pixel.
func (f PixelFormat) Valid() bool {
	switch f.BitsPerPixel {
	case 8, 16, 32:
	default:
		return false
	}
	for _, c := range [...]struct {
		max   uint16
		shift uint8
	}{{f.RedMax, f.RedShift}, {f.GreenMax, f.GreenShift}, {f.BlueMax, f.BlueShift}} {
		if c.max == 0 || c.max&(c.max+1) != 0 {
			return false
		}
		if uint64(c.max)<<c.shift >= uint64(1)<<f.BitsPerPixel {
			return false
		}
	}
	return true
}

func (f PixelFormat) String() string {
	return fmt.Sprintf("%dbpp r%d<<%d g%d<<%d b%d<<%d",
		f.BitsPerPixel, f.RedMax, f.RedShift, f.GreenMax, f.GreenShift, f.BlueMax, f.BlueShift)
}
