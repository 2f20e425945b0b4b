package cursor

import (
	"fmt"

	"github.com/avaropoint/deskstream/internal/protocol"
	"github.com/avaropoint/deskstream/internal/video"
)

// Encoder produces CursorShape messages on the host.
type Encoder struct {
	cache      *Cache
	generation uint32
	reset      bool
}

// NewEncoder returns an encoder whose first message resets the peer cache.
func NewEncoder(capacity int) (*Encoder, error) {
	e := &Encoder{}
	if err := e.Reset(capacity); err != nil {
		return nil, err
	}
	return e, nil
}

// Reset replaces the cache with an empty one of the given capacity. The
// next message carries a reset marker and a new generation.
func (e *Encoder) Reset(capacity int) error {
	cache, err := NewCache(capacity)
	if err != nil {
		return err
	}
	e.cache = cache
	e.reset = true
	return nil
}

// Generation returns the current cache generation.
func (e *Encoder) Generation() uint32 { return e.generation }

// Encode returns the message for s and whether it was a cache hit.
func (e *Encoder) Encode(s *Shape) (*protocol.CursorShape, bool, error) {
	if err := s.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", protocol.ErrCodec, err)
	}
	if !e.reset {
		if i := e.cache.Find(s); i >= 0 {
			return &protocol.CursorShape{
				Encoding:   protocol.CursorCached,
				Generation: e.generation,
				CacheIndex: int8(i),
			}, true, nil
		}
	}

	data, err := video.Deflate(s.Pix)
	if err != nil {
		return nil, false, fmt.Errorf("%w: compress cursor: %v", protocol.ErrCodec, err)
	}
	m := &protocol.CursorShape{
		Encoding: protocol.CursorCompressed,
		Width:    uint16(s.Width),
		Height:   uint16(s.Height),
		HotX:     uint16(s.HotX),
		HotY:     uint16(s.HotY),
		Data:     data,
	}
	if e.reset {
		e.generation++
		e.cache.Reset()
		e.cache.Insert(s)
		e.reset = false
		m.CacheIndex = protocol.CursorResetIndex
	} else {
		m.CacheIndex = int8(e.cache.Insert(s))
	}
	m.Generation = e.generation
	return m, false, nil
}

// Decoder rebuilds cursor shapes on the viewer.
type Decoder struct {
	cache      *Cache
	generation uint32
	synced     bool
	// pending is set by a local Reset: shapes sent against the old cache
	// may still be in flight and are dropped until the reset marker.
	pending bool
}

// NewDecoder returns a decoder that expects a reset marker first; any
// other message before it is a desync.
func NewDecoder(capacity int) (*Decoder, error) {
	cache, err := NewCache(capacity)
	if err != nil {
		return nil, err
	}
	return &Decoder{cache: cache}, nil
}

// Reset replaces the cache after the viewer asked the host for a new
// capacity. Messages are dropped until the host's reset marker arrives.
func (d *Decoder) Reset(capacity int) error {
	cache, err := NewCache(capacity)
	if err != nil {
		return err
	}
	d.cache = cache
	d.synced = false
	d.pending = true
	return nil
}

// Decode returns the shape carried or referenced by m, or nil when m was
// dropped after a local Reset. Any mismatch with the local cache means the
// two ends diverged and fails with ErrCodec.
func (d *Decoder) Decode(m *protocol.CursorShape) (*Shape, error) {
	if d.pending && !(m.Encoding == protocol.CursorCompressed && m.CacheIndex == protocol.CursorResetIndex) {
		return nil, nil
	}
	switch m.Encoding {
	case protocol.CursorCached:
		if !d.synced || m.Generation != d.generation {
			return nil, fmt.Errorf("%w: cursor generation %d, have %d", protocol.ErrCodec, m.Generation, d.generation)
		}
		s, ok := d.cache.Get(int(m.CacheIndex))
		if !ok {
			return nil, fmt.Errorf("%w: cursor cache index %d out of range (%d cached)", protocol.ErrCodec, m.CacheIndex, d.cache.Len())
		}
		return s, nil

	case protocol.CursorCompressed:
		reset := m.CacheIndex == protocol.CursorResetIndex
		if !reset && (!d.synced || m.Generation != d.generation) {
			return nil, fmt.Errorf("%w: cursor generation %d, have %d", protocol.ErrCodec, m.Generation, d.generation)
		}
		s := &Shape{Width: int(m.Width), Height: int(m.Height), HotX: int(m.HotX), HotY: int(m.HotY)}
		if s.Width <= 0 || s.Height <= 0 || s.Width > MaxDimension || s.Height > MaxDimension {
			return nil, fmt.Errorf("%w: cursor size %dx%d out of range", protocol.ErrCodec, s.Width, s.Height)
		}
		s.Pix = make([]byte, s.Width*s.Height*4)
		if err := video.Inflate(m.Data, s.Pix); err != nil {
			return nil, err
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrCodec, err)
		}

		if reset {
			d.cache.Reset()
			d.generation = m.Generation
			d.synced, d.pending = true, false
			d.cache.Insert(s)
			return s, nil
		}
		if i := d.cache.Insert(s); i != int(m.CacheIndex) {
			return nil, fmt.Errorf("%w: cursor inserted at %d, peer used %d", protocol.ErrCodec, i, m.CacheIndex)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown cursor encoding %d", protocol.ErrCodec, m.Encoding)
}
