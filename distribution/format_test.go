package distribution

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/rongdian/mvekit/media"
)

func TestHelloRoundTrip(t *testing.T) {
	t.Parallel()
	h, err := ParseHello(SerializeHello(Hello{Stream: "intro"}))
	if err != nil {
		t.Fatalf("ParseHello: %v", err)
	}
	if h.Stream != "intro" {
		t.Errorf("stream = %q, want intro", h.Stream)
	}
}

func TestParseHelloTruncated(t *testing.T) {
	t.Parallel()
	payload := SerializeHello(Hello{Stream: "intro"})
	_, err := ParseHello(payload[:2])
	var werr *WireError
	if !errors.As(err, &werr) {
		t.Fatalf("err = %T, want *WireError", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want io.ErrUnexpectedEOF underneath", err)
	}
}

func TestInfoRoundTrip(t *testing.T) {
	t.Parallel()
	palette := make([]byte, media.PaletteSize)
	palette[0] = 0xB0
	in := Info{
		Streams: []media.StreamInfo{
			{
				Index:              0,
				Type:               media.TypeVideo,
				Codec:              media.CodecInterplayVideo,
				TimeBase:           media.Rational{Num: 1, Den: 1000000},
				Width:              640,
				Height:             480,
				BitsPerCodedSample: 8,
			},
			{
				Index:              1,
				Type:               media.TypeAudio,
				Codec:              media.CodecPCMS16LE,
				TimeBase:           media.Rational{Num: 1, Den: 22050},
				Channels:           2,
				SampleRate:         22050,
				BitsPerCodedSample: 16,
				BitRate:            705600,
				BlockAlign:         32,
			},
		},
		Palette: palette,
	}

	out, err := ParseInfo(SerializeInfo(in))
	if err != nil {
		t.Fatalf("ParseInfo: %v", err)
	}
	if len(out.Streams) != 2 {
		t.Fatalf("streams = %d, want 2", len(out.Streams))
	}
	if out.Streams[0] != in.Streams[0] || out.Streams[1] != in.Streams[1] {
		t.Errorf("stream table did not round-trip:\n got %+v\nwant %+v", out.Streams, in.Streams)
	}
	if !bytes.Equal(out.Palette, palette) {
		t.Error("palette did not round-trip")
	}
}

func TestInfoRoundTripNoPalette(t *testing.T) {
	t.Parallel()
	in := Info{Streams: []media.StreamInfo{{Index: 0, Type: media.TypeVideo}}}
	out, err := ParseInfo(SerializeInfo(in))
	if err != nil {
		t.Fatalf("ParseInfo: %v", err)
	}
	if out.Palette != nil {
		t.Errorf("palette = %d bytes, want nil", len(out.Palette))
	}
}

func TestParseInfoBadPalette(t *testing.T) {
	t.Parallel()
	var buf []byte
	buf = quicvarint.Append(buf, 0) // no streams
	buf = appendVarIntBytes(buf, []byte{1, 2, 3})
	if _, err := ParseInfo(buf); err == nil {
		t.Error("ParseInfo accepted a 3-byte palette")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()
	palette := make([]byte, media.PaletteSize)
	palette[4] = 0x3C
	in := &media.Packet{
		StreamIndex: 0,
		PTS:         66566,
		Pos:         12345,
		Data:        []byte{1, 2, 3, 4, 5},
		Palette:     palette,
	}

	out, err := ParseFrame(SerializeFrame(in))
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if out.StreamIndex != 0 || out.PTS != 66566 {
		t.Errorf("header = stream %d pts %d", out.StreamIndex, out.PTS)
	}
	if out.Pos != -1 {
		t.Errorf("pos = %d, want -1 after transport", out.Pos)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Error("data did not round-trip")
	}
	if !bytes.Equal(out.Palette, palette) {
		t.Error("palette did not round-trip")
	}
}

func TestFrameRoundTripNoPalette(t *testing.T) {
	t.Parallel()
	in := &media.Packet{StreamIndex: 1, PTS: 1024, Data: []byte{9, 9}}
	out, err := ParseFrame(SerializeFrame(in))
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if out.Palette != nil {
		t.Error("palette should be nil")
	}
	if out.StreamIndex != 1 || out.PTS != 1024 {
		t.Errorf("header = stream %d pts %d", out.StreamIndex, out.PTS)
	}
}

func TestParseFrameTruncated(t *testing.T) {
	t.Parallel()
	full := SerializeFrame(&media.Packet{StreamIndex: 0, PTS: 5, Data: []byte{1, 2, 3}})
	for cut := 0; cut < len(full); cut++ {
		if _, err := ParseFrame(full[:cut]); err == nil {
			t.Errorf("ParseFrame accepted %d of %d bytes", cut, len(full))
		}
	}
}

func TestReadWriteMessage(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteMessage(&buf, MsgHello, []byte("abc")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if err := WriteMessage(&buf, MsgFrame, nil); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	typ, payload, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if typ != MsgHello || string(payload) != "abc" {
		t.Errorf("message 1 = type %d payload %q", typ, payload)
	}
	typ, payload, err = ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if typ != MsgFrame || len(payload) != 0 {
		t.Errorf("message 2 = type %d payload %d bytes", typ, len(payload))
	}
	if _, _, err := ReadMessage(&buf); !errors.Is(err, io.EOF) {
		t.Errorf("empty buffer: err = %v, want io.EOF", err)
	}
}

func TestReadMessageTooLarge(t *testing.T) {
	t.Parallel()
	var buf []byte
	buf = quicvarint.Append(buf, MsgFrame)
	buf = quicvarint.Append(buf, maxMessagePayload+1)
	_, _, err := ReadMessage(bytes.NewReader(buf))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("err = %v, want ErrMessageTooLarge", err)
	}
}
