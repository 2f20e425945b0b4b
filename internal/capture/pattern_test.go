package capture

import (
	"testing"

	"github.com/avaropoint/deskstream/internal/protocol"
)

func TestFirstCaptureIsFullFrame(t *testing.T) {
	p := NewTestPattern(protocol.Size{})
	if got := p.Screen(); got.Width != DefaultWidth || got.Height != DefaultHeight {
		t.Fatalf("screen = %s", got)
	}
	frame, dirty, err := p.CaptureImage()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 1 || dirty[0] != frame.Bounds() {
		t.Fatalf("dirty = %v, want the whole frame", dirty)
	}
}

func TestDirtyRegionTracksDot(t *testing.T) {
	p := NewTestPattern(protocol.Size{Width: 200, Height: 100})
	p.CaptureImage()
	before := p.frame.Clone()

	frame, dirty, err := p.CaptureImage()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) == 0 {
		t.Fatal("moving dot produced no dirty rectangles")
	}
	for i, r := range dirty {
		if !r.Within(frame.Size) {
			t.Fatalf("rect %s outside screen", r)
		}
		for _, o := range dirty[i+1:] {
			if !r.Intersect(o).Empty() {
				t.Fatalf("rects %s and %s overlap", r, o)
			}
		}
	}

	// Every changed pixel must be covered by the dirty region.
	for y := 0; y < frame.Size.Height; y++ {
		for x := 0; x < frame.Size.Width; x++ {
			if frame.Pixel(x, y) == before.Pixel(x, y) {
				continue
			}
			covered := false
			for _, r := range dirty {
				if x >= r.X && x < r.Right() && y >= r.Y && y < r.Bottom() {
					covered = true
				}
			}
			if !covered {
				t.Fatalf("pixel (%d,%d) changed outside the dirty region", x, y)
			}
		}
	}
}

func TestDirtyRegionMergesOverlap(t *testing.T) {
	bounds := protocol.Rect{Width: 100, Height: 100}
	got := dirtyRegion(protocol.Rect{X: 0, Y: 0, Width: 10, Height: 10}, protocol.Rect{X: 5, Y: 0, Width: 10, Height: 10}, bounds)
	if len(got) != 1 || got[0] != (protocol.Rect{Width: 15, Height: 10}) {
		t.Fatalf("merged = %v", got)
	}
	got = dirtyRegion(protocol.Rect{X: 0, Y: 0, Width: 10, Height: 10}, protocol.Rect{X: 50, Y: 0, Width: 10, Height: 10}, bounds)
	if len(got) != 2 {
		t.Fatalf("disjoint = %v", got)
	}
}

func TestCursorShapesAreValidAndAlternate(t *testing.T) {
	p := NewTestPattern(protocol.Size{Width: 64, Height: 64})
	first, _ := p.CaptureCursor()
	if err := first.Validate(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < cursorPeriod; i++ {
		p.CaptureImage()
	}
	second, _ := p.CaptureCursor()
	if err := second.Validate(); err != nil {
		t.Fatal(err)
	}
	if first.Equal(second) {
		t.Fatal("cursor did not change after a period")
	}
}

func TestDesktopEffectsForcesRedraw(t *testing.T) {
	p := NewTestPattern(protocol.Size{Width: 64, Height: 64})
	p.CaptureImage()
	p.CaptureImage()
	if err := p.SetDesktopEffects(false); err != nil {
		t.Fatal(err)
	}
	frame, dirty, _ := p.CaptureImage()
	if len(dirty) != 1 || dirty[0] != frame.Bounds() {
		t.Fatalf("dirty after effects change = %v", dirty)
	}
}
