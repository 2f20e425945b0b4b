package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	// maxStringLen bounds every length-prefixed string field.
	maxStringLen = 1024

	// MaxMessageSize bounds a serialized message and therefore a frame.
	MaxMessageSize = 8 << 20
)

// Marshal serializes msg as [type][body].
func Marshal(msg Message) ([]byte, error) {
	b := make([]byte, 0, 64)
	b = append(b, byte(msg.Type()))

	switch m := msg.(type) {
	case *HostInfo:
		b = appendString(b, m.Name)
		b = appendString(b, m.Hostname)
		b = appendString(b, m.OS)
		b = appendString(b, m.OSVersion)
		b = appendString(b, m.Arch)
		b = appendString(b, m.Version)
		b = appendSize(b, m.Screen)
	case *VideoControl:
		b = appendBool(b, m.Enable)
		b = append(b, byte(m.Encoding))
		b = appendFormat(b, m.Format)
		b = binary.BigEndian.AppendUint32(b, uint32(m.Interval/time.Millisecond))
	case *CursorControl:
		b = appendBool(b, m.Enable)
		b = append(b, m.CacheCapacity)
	case *DesktopEffects:
		b = appendBool(b, m.Enable)
	case *PointerEvent:
		b = binary.BigEndian.AppendUint16(b, m.X)
		b = binary.BigEndian.AppendUint16(b, m.Y)
		b = append(b, m.Mask)
	case *KeyEvent:
		b = binary.BigEndian.AppendUint32(b, m.Code)
		b = appendBool(b, m.Pressed)
	case *VideoPacket:
		b = append(b, byte(m.Flags), byte(m.Encoding))
		if m.Flags.Has(FirstPacket) {
			b = appendSize(b, m.Screen)
			b = appendFormat(b, m.Format)
		}
		if m.Flags.Has(FirstPartition) {
			b = appendRect(b, m.Rect)
		}
		b = binary.BigEndian.AppendUint32(b, m.RawLen)
		b = appendBytes(b, m.Data)
	case *CursorShape:
		b = append(b, byte(m.Encoding))
		b = binary.BigEndian.AppendUint32(b, m.Generation)
		b = append(b, byte(m.CacheIndex))
		if m.Encoding == CursorCompressed {
			b = binary.BigEndian.AppendUint16(b, m.Width)
			b = binary.BigEndian.AppendUint16(b, m.Height)
			b = binary.BigEndian.AppendUint16(b, m.HotX)
			b = binary.BigEndian.AppendUint16(b, m.HotY)
			b = appendBytes(b, m.Data)
		}
	case *Close:
		b = appendString(b, m.Reason)
	default:
		return nil, fmt.Errorf("%w: cannot marshal %T", ErrCodec, msg)
	}

	if len(b) > MaxMessageSize {
		return nil, fmt.Errorf("%w: message too large (%d bytes)", ErrCodec, len(b))
	}
	return b, nil
}

// Unmarshal parses a message produced by Marshal. Any malformed input is
// reported as ErrCodec.
func Unmarshal(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrCodec)
	}
	r := &reader{buf: data[1:]}

	var msg Message
	switch MessageType(data[0]) {
	case TypeHostInfo:
		msg = &HostInfo{
			Name:      r.string(),
			Hostname:  r.string(),
			OS:        r.string(),
			OSVersion: r.string(),
			Arch:      r.string(),
			Version:   r.string(),
			Screen:    r.size(),
		}
	case TypeVideoControl:
		msg = &VideoControl{
			Enable:   r.bool(),
			Encoding: Encoding(r.u8()),
			Format:   r.format(),
			Interval: time.Duration(r.u32()) * time.Millisecond,
		}
	case TypeCursorControl:
		msg = &CursorControl{Enable: r.bool(), CacheCapacity: r.u8()}
	case TypeDesktopEffects:
		msg = &DesktopEffects{Enable: r.bool()}
	case TypePointerEvent:
		msg = &PointerEvent{X: r.u16(), Y: r.u16(), Mask: r.u8()}
	case TypeKeyEvent:
		msg = &KeyEvent{Code: r.u32(), Pressed: r.bool()}
	case TypeVideoPacket:
		p := &VideoPacket{Flags: PacketFlags(r.u8()), Encoding: Encoding(r.u8())}
		if p.Flags.Has(FirstPacket) {
			p.Screen = r.size()
			p.Format = r.format()
		}
		if p.Flags.Has(FirstPartition) {
			p.Rect = r.rect()
		}
		p.RawLen = r.u32()
		p.Data = r.bytes()
		msg = p
	case TypeCursorShape:
		s := &CursorShape{
			Encoding:   CursorEncoding(r.u8()),
			Generation: r.u32(),
			CacheIndex: int8(r.u8()),
		}
		switch s.Encoding {
		case CursorCompressed:
			s.Width, s.Height = r.u16(), r.u16()
			s.HotX, s.HotY = r.u16(), r.u16()
			s.Data = r.bytes()
		case CursorCached:
		default:
			return nil, fmt.Errorf("%w: unknown cursor encoding %d", ErrCodec, s.Encoding)
		}
		msg = s
	case TypeClose:
		msg = &Close{Reason: r.string()}
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrCodec, data[0])
	}

	if r.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCodec, MessageType(data[0]), r.err)
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %s: %d trailing bytes", ErrCodec, MessageType(data[0]), len(r.buf))
	}
	return msg, nil
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

func appendString(b []byte, s string) []byte {
	s = clipString(s, maxStringLen)
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

// clipString shortens s to at most n bytes without splitting a rune.
func clipString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func appendBytes(b, data []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}

func appendSize(b []byte, s Size) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(s.Width))
	return binary.BigEndian.AppendUint16(b, uint16(s.Height))
}

func appendRect(b []byte, r Rect) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(r.X))
	b = binary.BigEndian.AppendUint16(b, uint16(r.Y))
	b = binary.BigEndian.AppendUint16(b, uint16(r.Width))
	return binary.BigEndian.AppendUint16(b, uint16(r.Height))
}

func appendFormat(b []byte, f PixelFormat) []byte {
	b = append(b, f.BitsPerPixel)
	b = binary.BigEndian.AppendUint16(b, f.RedMax)
	b = binary.BigEndian.AppendUint16(b, f.GreenMax)
	b = binary.BigEndian.AppendUint16(b, f.BlueMax)
	return append(b, f.RedShift, f.GreenShift, f.BlueShift)
}

// reader consumes big-endian fields and remembers the first short read.
type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.buf) {
		r.err = fmt.Errorf("short buffer: need %d, have %d", n, len(r.buf))
		return nil
	}
	v := r.buf[:n]
	r.buf = r.buf[n:]
	return v
}

func (r *reader) u8() uint8 {
	if v := r.take(1); v != nil {
		return v[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if v := r.take(2); v != nil {
		return binary.BigEndian.Uint16(v)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if v := r.take(4); v != nil {
		return binary.BigEndian.Uint32(v)
	}
	return 0
}

func (r *reader) bool() bool { return r.u8() != 0 }

func (r *reader) string() string {
	n := int(r.u16())
	if n > maxStringLen && r.err == nil {
		r.err = fmt.Errorf("string too long: %d", n)
	}
	return string(r.take(n))
}

func (r *reader) bytes() []byte {
	n := r.u32()
	if n > MaxMessageSize && r.err == nil {
		r.err = fmt.Errorf("payload too long: %d", n)
		return nil
	}
	v := r.take(int(n))
	if v == nil {
		return nil
	}
	return append([]byte(nil), v...)
}

func (r *reader) size() Size {
	return Size{Width: int(r.u16()), Height: int(r.u16())}
}

func (r *reader) rect() Rect {
	return Rect{X: int(r.u16()), Y: int(r.u16()), Width: int(r.u16()), Height: int(r.u16())}
}

func (r *reader) format() PixelFormat {
	return PixelFormat{
		BitsPerPixel: r.u8(),
		RedMax:       r.u16(),
		GreenMax:     r.u16(),
		BlueMax:      r.u16(),
		RedShift:     r.u8(),
		GreenShift:   r.u8(),
		BlueShift:    r.u8(),
	}
}
