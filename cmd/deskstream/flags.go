package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/avaropoint/deskstream/internal/session"
	"github.com/avaropoint/deskstream/internal/transport"
)

// streamFlags are the stream settings shared by host and view.
type streamFlags struct {
	network        string
	encoding       string
	format         string
	interval       time.Duration
	partitionSize  int
	noVideo        bool
	noCursor       bool
	cursorCapacity int
	noEffects      bool
	handshake      time.Duration
}

func (f *streamFlags) register(cmd *cobra.Command) {
	def := session.DefaultConfig()
	fs := cmd.Flags()
	fs.StringVar(&f.network, "network", transport.TCP, "Transport: tcp or quic")
	fs.StringVar(&f.encoding, "encoding", def.Encoding.String(), "Video encoding: raw or zlib")
	fs.StringVar(&f.format, "format", "argb", "Wire pixel format: argb, rgb565, rgb555 or rgb332")
	fs.DurationVar(&f.interval, "interval", def.Interval, "Capture interval")
	fs.IntVar(&f.partitionSize, "partition-size", def.PartitionSize, "Maximum raw bytes per video packet")
	fs.BoolVar(&f.noVideo, "no-video", false, "Do not stream video")
	fs.BoolVar(&f.noCursor, "no-cursor", false, "Do not stream cursor shapes")
	fs.IntVar(&f.cursorCapacity, "cursor-cache", def.CursorCapacity, "Cursor cache capacity (1-32)")
	fs.BoolVar(&f.noEffects, "no-effects", false, "Ask the host to disable desktop effects")
	fs.DurationVar(&f.handshake, "handshake-timeout", def.HandshakeTimeout, "Key exchange timeout")
}

// config builds and validates a session.Config.
func (f *streamFlags) config(name string) (session.Config, error) {
	cfg := session.DefaultConfig()
	cfg.Name = name

	enc, err := session.ParseEncoding(f.encoding)
	if err != nil {
		return cfg, err
	}
	format, err := session.ParseFormat(f.format)
	if err != nil {
		return cfg, err
	}
	cfg.Encoding = enc
	cfg.Format = format
	cfg.Interval = f.interval
	cfg.PartitionSize = f.partitionSize
	cfg.Video = !f.noVideo
	cfg.Cursor = !f.noCursor
	cfg.CursorCapacity = f.cursorCapacity
	cfg.DesktopEffects = !f.noEffects
	cfg.HandshakeTimeout = f.handshake
	return cfg, cfg.Validate()
}
