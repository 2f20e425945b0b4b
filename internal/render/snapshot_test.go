package render

import (
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/avaropoint/deskstream/internal/protocol"
	"github.com/avaropoint/deskstream/internal/video"
)

func TestSnapshotWritesLatestFrame(t *testing.T) {
	s := NewSnapshot()
	path := filepath.Join(t.TempDir(), "shot.png")
	if err := s.WritePNG(path); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("err = %v, want ErrNoFrame", err)
	}

	f := video.NewFrame(protocol.Size{Width: 8, Height: 4}, protocol.FormatRGB565)
	f.Fill(f.Bounds(), 255, 0, 0)
	if err := s.RenderFrame(f); err != nil {
		t.Fatal(err)
	}
	// Later changes to the decoder's buffer must not leak into the copy.
	f.Fill(f.Bounds(), 0, 0, 255)

	if err := s.WritePNG(path); err != nil {
		t.Fatal(err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	img, err := png.Decode(file)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Fatalf("image is %v", b)
	}
	r, g, b, _ := img.At(3, 2).RGBA()
	if r>>8 != 255 || g != 0 || b != 0 {
		t.Fatalf("pixel = %d,%d,%d, want red", r>>8, g>>8, b>>8)
	}
	if n, _ := s.Stats(); n != 1 {
		t.Fatalf("frames = %d", n)
	}
}

func TestSnapshotFollowsResize(t *testing.T) {
	s := NewSnapshot()
	_ = s.RenderFrame(video.NewFrame(protocol.Size{Width: 4, Height: 4}, protocol.FormatARGB))
	_ = s.RenderFrame(video.NewFrame(protocol.Size{Width: 6, Height: 2}, protocol.FormatRGB332))
	f, err := s.Frame()
	if err != nil {
		t.Fatal(err)
	}
	if f.Size != (protocol.Size{Width: 6, Height: 2}) || f.Format != protocol.FormatRGB332 {
		t.Fatalf("frame = %s", f)
	}
}
