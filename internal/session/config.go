// Package session runs one streaming connection end to end: the key
// exchange, then the host's capture and control loops or the viewer's
// decode loop, each as a worker in a co-terminal group.
package session

import (
	"fmt"
	"time"

	"github.com/avaropoint/deskstream/internal/cursor"
	"github.com/avaropoint/deskstream/internal/protocol"
	"github.com/avaropoint/deskstream/internal/scheduler"
	"github.com/avaropoint/deskstream/internal/video"
)

// Config holds the streaming parameters. On the viewer they are requested
// from the host; on the host they are the defaults until a request arrives.
type Config struct {
	// Name is announced in HostInfo. Empty means the hostname.
	Name string

	Video          bool
	Encoding       protocol.Encoding
	Format         protocol.PixelFormat
	Interval       time.Duration
	PartitionSize  int
	Cursor         bool
	CursorCapacity int

	// DesktopEffects, when false, asks the host to disable wallpaper and
	// animations for the session.
	DesktopEffects bool

	HandshakeTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Video:            true,
		Encoding:         protocol.EncodingZlib,
		Format:           protocol.FormatARGB,
		Interval:         scheduler.DefaultInterval,
		PartitionSize:    video.DefaultPartitionSize,
		Cursor:           true,
		CursorCapacity:   cursor.DefaultCapacity,
		DesktopEffects:   true,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Validate rejects unsupported settings with ErrConfig.
func (c Config) Validate() error {
	if !video.Supported(c.Encoding) {
		return fmt.Errorf("%w: unsupported encoding %s", protocol.ErrConfig, c.Encoding)
	}
	if !c.Format.Valid() {
		return fmt.Errorf("%w: unsupported pixel format %s", protocol.ErrConfig, c.Format)
	}
	if c.Interval <= 0 || c.Interval > scheduler.MaxInterval {
		return fmt.Errorf("%w: interval %s not in (0, %s]", protocol.ErrConfig, c.Interval, scheduler.MaxInterval)
	}
	if c.PartitionSize < 1024 || c.PartitionSize > protocol.MaxMessageSize/2 {
		return fmt.Errorf("%w: partition size %d out of range", protocol.ErrConfig, c.PartitionSize)
	}
	if c.CursorCapacity < 1 || c.CursorCapacity > cursor.MaxCapacity {
		return fmt.Errorf("%w: cursor cache capacity %d not in 1..%d", protocol.ErrConfig, c.CursorCapacity, cursor.MaxCapacity)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: handshake timeout must be positive", protocol.ErrConfig)
	}
	return nil
}

// videoControl builds the request a viewer sends for c.
func (c Config) videoControl() *protocol.VideoControl {
	return &protocol.VideoControl{
		Enable:   c.Video,
		Encoding: c.Encoding,
		Format:   c.Format,
		Interval: c.Interval,
	}
}

// ParseFormat maps a format name to a pixel format.
func ParseFormat(name string) (protocol.PixelFormat, error) {
	switch name {
	case "argb", "rgb888", "32":
		return protocol.FormatARGB, nil
	case "rgb565", "16":
		return protocol.FormatRGB565, nil
	case "rgb555", "15":
		return protocol.FormatRGB555, nil
	case "rgb332", "8":
		return protocol.FormatRGB332, nil
	}
	return protocol.PixelFormat{}, fmt.Errorf("%w: unknown pixel format %q", protocol.ErrConfig, name)
}

// ParseEncoding maps an encoding name to its identifier.
func ParseEncoding(name string) (protocol.Encoding, error) {
	for _, e := range []protocol.Encoding{protocol.EncodingRaw, protocol.EncodingZlib, protocol.EncodingVP8} {
		if e.String() == name {
			return e, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown encoding %q", protocol.ErrConfig, name)
}
