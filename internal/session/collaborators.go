package session

import (
	"github.com/avaropoint/deskstream/internal/cursor"
	"github.com/avaropoint/deskstream/internal/protocol"
	"github.com/avaropoint/deskstream/internal/video"
)

// Capturer is the host's screen source.
type Capturer interface {
	// Screen returns the current screen size.
	Screen() protocol.Size
	// CaptureImage returns the current screen and the regions that changed
	// since the previous call. The frame may be reused by the next call.
	CaptureImage() (*video.Frame, []protocol.Rect, error)
	// CaptureCursor returns the current cursor shape, or nil when the
	// cursor is hidden or unknown.
	CaptureCursor() (*cursor.Shape, error)
}

// EffectsToggler is implemented by capturers that can switch desktop
// effects such as wallpaper and animations.
type EffectsToggler interface {
	SetDesktopEffects(enable bool) error
}

// InputInjector replays the viewer's input on the host.
type InputInjector interface {
	Pointer(x, y int, mask uint8) error
	Key(code uint32, pressed bool) error
}

// Renderer presents decoded output on the viewer.
type Renderer interface {
	// RenderFrame is called after a frame completes. The frame is owned by
	// the session and is updated in place by later packets.
	RenderFrame(*video.Frame) error
	RenderCursor(*cursor.Shape) error
}
