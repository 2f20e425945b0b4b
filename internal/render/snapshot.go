// Package render holds viewer-side renderers that do not need a display.
package render

import (
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avaropoint/deskstream/internal/cursor"
	"github.com/avaropoint/deskstream/internal/video"
)

// ErrNoFrame is returned when a snapshot is requested before any frame
// was rendered.
var ErrNoFrame = errors.New("no frame rendered yet")

// Snapshot keeps a copy of the latest decoded frame and cursor shape and
// can write the frame as a PNG. It satisfies session.Renderer.
type Snapshot struct {
	mu      sync.Mutex
	frame   *video.Frame
	cursor  *cursor.Shape
	frames  int
	updated time.Time
}

// NewSnapshot returns an empty Snapshot.
func NewSnapshot() *Snapshot { return &Snapshot{} }

// RenderFrame copies f. The decoder keeps reusing its buffer.
func (s *Snapshot) RenderFrame(f *video.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil || !s.frame.Matches(f.Size, f.Format) {
		s.frame = f.Clone()
	} else {
		copy(s.frame.Pix, f.Pix)
	}
	s.frames++
	s.updated = time.Now()
	return nil
}

// RenderCursor records the current cursor shape.
func (s *Snapshot) RenderCursor(c *cursor.Shape) error {
	s.mu.Lock()
	s.cursor = c
	s.mu.Unlock()
	return nil
}

// Stats returns the number of frames rendered and when the last one was.
func (s *Snapshot) Stats() (frames int, updated time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.updated
}

// Cursor returns the last cursor shape, or nil.
func (s *Snapshot) Cursor() *cursor.Shape {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Frame returns a copy of the latest frame.
func (s *Snapshot) Frame() (*video.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, ErrNoFrame
	}
	return s.frame.Clone(), nil
}

// WritePNG writes the latest frame to path, replacing it atomically.
func (s *Snapshot) WritePNG(path string) error {
	f, err := s.Frame()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.png")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := png.Encode(tmp, f.Image()); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
