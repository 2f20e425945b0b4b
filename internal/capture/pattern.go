// Package capture provides a synthetic screen source for hosts without an
// OS capture backend, and for tests.
package capture

import (
	"sync"

	"github.com/avaropoint/deskstream/internal/cursor"
	"github.com/avaropoint/deskstream/internal/protocol"
	"github.com/avaropoint/deskstream/internal/video"
)

const (
	// DefaultWidth and DefaultHeight size the pattern when none is given.
	DefaultWidth  = 800
	DefaultHeight = 600

	gridSpacing = 50
	dotRadius   = 5
	dotStep     = 4

	// cursorPeriod is the number of captures between cursor shape changes.
	cursorPeriod = 30
)

// TestPattern draws a gradient with a grid and a dot that moves a few
// pixels per capture. Only the dot's old and new positions are reported
// dirty, so it exercises incremental encoding. It satisfies
// session.Capturer and session.EffectsToggler.
type TestPattern struct {
	mu      sync.Mutex
	frame   *video.Frame
	tick    int
	dot     protocol.Rect
	drawn   bool
	effects bool
	cursors []*cursor.Shape
}

// NewTestPattern returns a pattern of the given size. An empty size
// selects DefaultWidth x DefaultHeight.
func NewTestPattern(size protocol.Size) *TestPattern {
	if size.Empty() {
		size = protocol.Size{Width: DefaultWidth, Height: DefaultHeight}
	}
	return &TestPattern{
		frame:   video.NewFrame(size, protocol.FormatARGB),
		effects: true,
		cursors: []*cursor.Shape{arrowCursor(), crosshairCursor()},
	}
}

// Screen returns the pattern size.
func (p *TestPattern) Screen() protocol.Size { return p.frame.Size }

// CaptureImage advances the animation by one step. The returned frame is
// reused by the next call.
func (p *TestPattern) CaptureImage() (*video.Frame, []protocol.Rect, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.drawn {
		p.drawBackground(p.frame.Bounds())
		p.dot = p.dotRect()
		p.drawDot(p.dot)
		p.drawn = true
		p.tick++
		return p.frame, []protocol.Rect{p.frame.Bounds()}, nil
	}

	old := p.dot
	p.tick++
	p.dot = p.dotRect()
	p.drawBackground(old)
	p.drawDot(p.dot)
	return p.frame, dirtyRegion(old, p.dot, p.frame.Bounds()), nil
}

// CaptureCursor alternates between two shapes every cursorPeriod captures.
func (p *TestPattern) CaptureCursor() (*cursor.Shape, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursors[(p.tick/cursorPeriod)%len(p.cursors)], nil
}

// SetDesktopEffects switches between the gradient and a flat background.
// The whole screen is redrawn on the next capture.
func (p *TestPattern) SetDesktopEffects(enable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.effects != enable {
		p.effects = enable
		p.drawn = false
	}
	return nil
}

func (p *TestPattern) dotRect() protocol.Rect {
	w := p.frame.Size.Width
	d := 2*dotRadius + 1
	span := max(w-d, 1)
	return protocol.Rect{X: (p.tick * dotStep) % span, Y: p.frame.Size.Height/2 - dotRadius, Width: d, Height: d}
}

// drawBackground repaints r with the wallpaper and grid.
func (p *TestPattern) drawBackground(r protocol.Rect) {
	f := p.frame
	r = r.Intersect(f.Bounds())
	w, h := f.Size.Width, f.Size.Height
	for y := r.Y; y < r.Bottom(); y++ {
		for x := r.X; x < r.Right(); x++ {
			var v uint32
			switch {
			case x%gridSpacing == 0 || y%gridSpacing == 0:
				v = video.Pack(f.Format, 255, 255, 255)
			case p.effects:
				v = video.Pack(f.Format, uint8(50+x*100/w), uint8(50+y*100/h), 100)
			default:
				v = video.Pack(f.Format, 40, 40, 40)
			}
			f.SetPixel(x, y, v)
		}
	}
}

func (p *TestPattern) drawDot(r protocol.Rect) {
	f := p.frame
	v := video.Pack(f.Format, 255, 100, 100)
	cx, cy := r.X+dotRadius, r.Y+dotRadius
	for dy := -dotRadius; dy <= dotRadius; dy++ {
		for dx := -dotRadius; dx <= dotRadius; dx++ {
			if dx*dx+dy*dy > dotRadius*dotRadius {
				continue
			}
			x, y := cx+dx, cy+dy
			if x >= 0 && x < f.Size.Width && y >= 0 && y < f.Size.Height {
				f.SetPixel(x, y, v)
			}
		}
	}
}

// dirtyRegion returns non-overlapping rectangles covering a and b, clipped
// to bounds.
func dirtyRegion(a, b, bounds protocol.Rect) []protocol.Rect {
	a, b = a.Intersect(bounds), b.Intersect(bounds)
	if !a.Intersect(b).Empty() {
		x0, y0 := min(a.X, b.X), min(a.Y, b.Y)
		x1, y1 := max(a.Right(), b.Right()), max(a.Bottom(), b.Bottom())
		return []protocol.Rect{{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}}
	}
	var out []protocol.Rect
	for _, r := range []protocol.Rect{a, b} {
		if !r.Empty() {
			out = append(out, r)
		}
	}
	return out
}

// putPixel stores an ARGB cursor pixel.
func putPixel(s *cursor.Shape, x, y int, a, r, g, b byte) {
	i := (y*s.Width + x) * 4
	s.Pix[i], s.Pix[i+1], s.Pix[i+2], s.Pix[i+3] = b, g, r, a
}

func arrowCursor() *cursor.Shape {
	s := &cursor.Shape{Width: 16, Height: 16, Pix: make([]byte, 16*16*4)}
	for y := 0; y < s.Height; y++ {
		for x := 0; x <= y && x < s.Width; x++ {
			if x == 0 || x == y || y == s.Height-1 {
				putPixel(s, x, y, 0xFF, 0, 0, 0)
			} else {
				putPixel(s, x, y, 0xFF, 0xFF, 0xFF, 0xFF)
			}
		}
	}
	return s
}

func crosshairCursor() *cursor.Shape {
	const n = 15
	s := &cursor.Shape{Width: n, Height: n, HotX: n / 2, HotY: n / 2, Pix: make([]byte, n*n*4)}
	for i := 0; i < n; i++ {
		putPixel(s, i, n/2, 0xFF, 0, 0, 0)
		putPixel(s, n/2, i, 0xFF, 0, 0, 0)
	}
	return s
}
