// Package protocol defines the wire messages exchanged between a streaming
// host and its viewer, their binary encoding, and the encrypted,
// length-prefixed channel that carries them.
package protocol

import "time"

// MessageType tags each serialized message.
type MessageType uint8

// Message types.
const (
	TypeHostInfo       MessageType = 1
	TypeVideoControl   MessageType = 2
	TypeCursorControl  MessageType = 3
	TypeDesktopEffects MessageType = 4
	TypePointerEvent   MessageType = 5
	TypeKeyEvent       MessageType = 6
	TypeVideoPacket    MessageType = 7
	TypeCursorShape    MessageType = 8
	TypeClose          MessageType = 9
)

func (t MessageType) String() string {
	switch t {
	case TypeHostInfo:
		return "host_info"
	case TypeVideoControl:
		return "video_control"
	case TypeCursorControl:
		return "cursor_control"
	case TypeDesktopEffects:
		return "desktop_effects"
	case TypePointerEvent:
		return "pointer_event"
	case TypeKeyEvent:
		return "key_event"
	case TypeVideoPacket:
		return "video_packet"
	case TypeCursorShape:
		return "cursor_shape"
	case TypeClose:
		return "close"
	}
	return "unknown"
}

// Message is implemented by every wire message.
type Message interface {
	Type() MessageType
}

// Encoding identifies a video codec.
type Encoding uint8

// Video encodings. EncodingVP8 is reserved on the wire but has no codec.
const (
	EncodingRaw  Encoding = 1
	EncodingZlib Encoding = 2
	EncodingVP8  Encoding = 3
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingZlib:
		return "zlib"
	case EncodingVP8:
		return "vp8"
	}
	return "unknown"
}

// HostInfo is sent by the host once the handshake completes.
type HostInfo struct {
	Name      string
	Hostname  string
	OS        string
	OSVersion string
	Arch      string
	Version   string
	Screen    Size
}

// VideoControl enables or disables streaming and selects the encoding,
// the pixel format the viewer wants on the wire and the capture interval.
type VideoControl struct {
	Enable   bool
	Encoding Encoding
	Format   PixelFormat
	Interval time.Duration
}

// CursorControl enables cursor shape streaming and sets the cache capacity
// both ends use.
type CursorControl struct {
	Enable        bool
	CacheCapacity uint8
}

// DesktopEffects asks the host to toggle wallpaper/animation effects.
type DesktopEffects struct {
	Enable bool
}

// PointerEvent carries a pointer position and button mask.
type PointerEvent struct {
	X, Y uint16
	Mask uint8
}

// Pointer button bits.
const (
	ButtonLeft   uint8 = 1 << 0
	ButtonMiddle uint8 = 1 << 1
	ButtonRight  uint8 = 1 << 2
	WheelUp      uint8 = 1 << 3
	WheelDown    uint8 = 1 << 4
)

// KeyEvent carries a key code and its state.
type KeyEvent struct {
	Code    uint32
	Pressed bool
}

// PacketFlags mark a packet's place within a frame and within a rectangle.
type PacketFlags uint8

// Packet flags.
const (
	FirstPacket    PacketFlags = 1 << 0
	LastPacket     PacketFlags = 1 << 1
	FirstPartition PacketFlags = 1 << 2
	LastPartition  PacketFlags = 1 << 3
)

// Has reports whether all bits of f are set.
func (p PacketFlags) Has(f PacketFlags) bool { return p&f == f }

// VideoPacket is one transport unit of an encoded frame. Screen and Format
// are only meaningful on a FirstPacket; Rect only on a FirstPartition.
// RawLen is the number of decoded bytes this packet contributes to Rect.
type VideoPacket struct {
	Flags    PacketFlags
	Encoding Encoding
	Screen   Size
	Format   PixelFormat
	Rect     Rect
	RawLen   uint32
	Data     []byte
}

// CursorEncoding says whether a shape is inline or a cache reference.
type CursorEncoding uint8

// Cursor encodings.
const (
	CursorCompressed CursorEncoding = 1
	CursorCached     CursorEncoding = 2
)

// CursorResetIndex in a compressed shape tells the receiver to clear its
// cache before inserting.
const CursorResetIndex int8 = -1

// CursorShape carries a cursor bitmap or a reference to a cached one.
// Generation counts cache resets so both ends can detect a desync.
type CursorShape struct {
	Encoding   CursorEncoding
	Generation uint32
	CacheIndex int8
	Width      uint16
	Height     uint16
	HotX       uint16
	HotY       uint16
	Data       []byte
}

// Close announces an orderly disconnect.
type Close struct {
	Reason string
}

func (*HostInfo) Type() MessageType       { return TypeHostInfo }
func (*VideoControl) Type() MessageType   { return TypeVideoControl }
func (*CursorControl) Type() MessageType  { return TypeCursorControl }
func (*DesktopEffects) Type() MessageType { return TypeDesktopEffects }
func (*PointerEvent) Type() MessageType   { return TypePointerEvent }
func (*KeyEvent) Type() MessageType       { return TypeKeyEvent }
func (*VideoPacket) Type() MessageType    { return TypeVideoPacket }
func (*CursorShape) Type() MessageType    { return TypeCursorShape }
func (*Close) Type() MessageType          { return TypeClose }
