package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestMarshalVideoPacketFirstPacket(t *testing.T) {
	p := &VideoPacket{
		Flags:    FirstPacket | FirstPartition | LastPartition,
		Encoding: EncodingZlib,
		Screen:   Size{Width: 1920, Height: 1080},
		Format:   FormatRGB565,
		Rect:     Rect{X: 10, Y: 20, Width: 30, Height: 40},
		RawLen:   2400,
		Data:     []byte{1, 2, 3},
	}
	b, err := Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := msg.(*VideoPacket)
	if !ok {
		t.Fatalf("got %T, want *VideoPacket", msg)
	}
	if got.Flags != p.Flags || got.Encoding != p.Encoding || got.Screen != p.Screen ||
		got.Format != p.Format || got.Rect != p.Rect || got.RawLen != p.RawLen || !bytes.Equal(got.Data, p.Data) {
		t.Fatalf("roundtrip: got %+v, want %+v", got, p)
	}
}

func TestMarshalVideoPacketContinuationOmitsMetadata(t *testing.T) {
	full, _ := Marshal(&VideoPacket{Flags: FirstPacket | FirstPartition, Data: []byte{1}})
	cont, _ := Marshal(&VideoPacket{Flags: LastPacket | LastPartition, Data: []byte{1}})
	if len(cont) >= len(full) {
		t.Fatalf("continuation packet %d bytes, first packet %d bytes", len(cont), len(full))
	}
	msg, err := Unmarshal(cont)
	if err != nil {
		t.Fatal(err)
	}
	if p := msg.(*VideoPacket); p.Screen != (Size{}) || p.Rect != (Rect{}) {
		t.Fatalf("continuation carried metadata: %+v", p)
	}
}

func TestMarshalControlMessages(t *testing.T) {
	vc := &VideoControl{Enable: true, Encoding: EncodingRaw, Format: FormatARGB, Interval: 40 * time.Millisecond}
	b, err := Marshal(vc)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if got := msg.(*VideoControl); *got != *vc {
		t.Fatalf("got %+v, want %+v", got, vc)
	}

	cached := &CursorShape{Encoding: CursorCached, Generation: 7, CacheIndex: 3}
	b, _ = Marshal(cached)
	msg, err = Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if got := msg.(*CursorShape); got.Generation != 7 || got.CacheIndex != 3 || got.Data != nil {
		t.Fatalf("cursor shape: got %+v", got)
	}
}

func TestMarshalClipsLongStrings(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		want   int
	}{
		{"ascii", strings.Repeat("a", 2000), maxStringLen},
		{"rune across limit", strings.Repeat("a", maxStringLen-1) + "é", maxStringLen - 1},
		{"exact fit", strings.Repeat("a", maxStringLen-2) + "é", maxStringLen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Marshal(&Close{Reason: tt.reason})
			if err != nil {
				t.Fatal(err)
			}
			msg, err := Unmarshal(b)
			if err != nil {
				t.Fatal(err)
			}
			got := msg.(*Close).Reason
			if len(got) != tt.want || !utf8.ValidString(got) {
				t.Fatalf("reason is %d bytes (valid utf8: %v), want %d", len(got), utf8.ValidString(got), tt.want)
			}
		})
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	good, _ := Marshal(&HostInfo{Name: "desk", Screen: Size{Width: 800, Height: 600}})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown type", []byte{0xEE, 0x00}},
		{"truncated", good[:len(good)-1]},
		{"trailing bytes", append(append([]byte(nil), good...), 0)},
		{"bad cursor encoding", []byte{byte(TypeCursorShape), 9, 0, 0, 0, 0, 0}},
		{"oversized payload length", []byte{byte(TypeVideoPacket), 0, 1, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal(tt.data); !errors.Is(err, ErrCodec) {
				t.Fatalf("err = %v, want ErrCodec", err)
			}
		})
	}
}

func TestPixelFormatValid(t *testing.T) {
	for _, f := range []PixelFormat{FormatARGB, FormatRGB565, FormatRGB555, FormatRGB332} {
		if !f.Valid() {
			t.Errorf("%v should be valid", f)
		}
	}
	bad := []PixelFormat{
		{BitsPerPixel: 24, RedMax: 255, GreenMax: 255, BlueMax: 255, RedShift: 16, GreenShift: 8},
		{BitsPerPixel: 16, RedMax: 30, GreenMax: 63, BlueMax: 31, RedShift: 11, GreenShift: 5},
		{BitsPerPixel: 8, RedMax: 7, GreenMax: 7, BlueMax: 3, RedShift: 6, GreenShift: 2},
		{},
	}
	for _, f := range bad {
		if f.Valid() {
			t.Errorf("%v should be invalid", f)
		}
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{ErrHandshake, "handshake"},
		{errors.Join(errors.New("x"), ErrCodec), "codec"},
		{ErrConfig, "config"},
		{ErrClosed, "transport"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
