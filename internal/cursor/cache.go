// Package cursor streams cursor shapes. Both ends keep a FIFO cache of
// recently seen bitmaps, mutated in lockstep with every encoded and decoded
// message, so a repeated shape travels as a one-byte cache index.
package cursor

import (
	"bytes"
	"fmt"

	"github.com/avaropoint/deskstream/internal/protocol"
)

// Cache capacity bounds.
const (
	DefaultCapacity = 12
	MaxCapacity     = 32
)

// MaxDimension bounds cursor width and height.
const MaxDimension = 256

// Shape is a cursor bitmap: Width*Height pixels of 32-bit little-endian
// ARGB, with the hotspot in pixel coordinates.
type Shape struct {
	Width, Height int
	HotX, HotY    int
	Pix           []byte
}

// Validate checks dimensions, hotspot and buffer size.
func (s *Shape) Validate() error {
	if s.Width <= 0 || s.Height <= 0 || s.Width > MaxDimension || s.Height > MaxDimension {
		return fmt.Errorf("cursor size %dx%d out of range", s.Width, s.Height)
	}
	if s.HotX < 0 || s.HotY < 0 || s.HotX >= s.Width || s.HotY >= s.Height {
		return fmt.Errorf("cursor hotspot (%d,%d) outside %dx%d", s.HotX, s.HotY, s.Width, s.Height)
	}
	if len(s.Pix) != s.Width*s.Height*4 {
		return fmt.Errorf("cursor buffer is %d bytes, want %d", len(s.Pix), s.Width*s.Height*4)
	}
	return nil
}

// Equal compares shapes by content.
func (s *Shape) Equal(o *Shape) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Width == o.Width && s.Height == o.Height &&
		s.HotX == o.HotX && s.HotY == o.HotY && bytes.Equal(s.Pix, o.Pix)
}

// Cache is a fixed-size ring of shapes. Inserting into a full cache evicts
// the oldest entry.
type Cache struct {
	slots []*Shape
	next  int
	count int
}

// NewCache returns an empty cache. capacity must be within 1..MaxCapacity.
func NewCache(capacity int) (*Cache, error) {
	if capacity < 1 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: cursor cache capacity %d not in 1..%d", protocol.ErrConfig, capacity, MaxCapacity)
	}
	return &Cache{slots: make([]*Shape, capacity)}, nil
}

// Capacity returns the number of slots.
func (c *Cache) Capacity() int { return len(c.slots) }

// Len returns the number of occupied slots.
func (c *Cache) Len() int { return c.count }

// Find returns the slot holding a shape equal to s, or -1.
func (c *Cache) Find(s *Shape) int {
	for i, e := range c.slots {
		if e != nil && e.Equal(s) {
			return i
		}
	}
	return -1
}

// Insert stores s in the next slot and returns its index.
func (c *Cache) Insert(s *Shape) int {
	i := c.next
	c.slots[i] = s
	c.next = (c.next + 1) % len(c.slots)
	if c.count < len(c.slots) {
		c.count++
	}
	return i
}

// Get returns the shape in slot i.
func (c *Cache) Get(i int) (*Shape, bool) {
	if i < 0 || i >= len(c.slots) || c.slots[i] == nil {
		return nil, false
	}
	return c.slots[i], true
}

// Reset empties the cache.
func (c *Cache) Reset() {
	clear(c.slots)
	c.next, c.count = 0, 0
}
