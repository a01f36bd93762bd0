package distribution

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/rongdian/mvekit/media"
)

// mvestream message type IDs.
const (
	MsgHello uint64 = 0x01
	MsgInfo  uint64 = 0x02
	MsgFrame uint64 = 0x03
)

// maxMessagePayload bounds a single message. The largest legitimate payload
// is a video frame: two opcode bodies of at most 64 KiB each plus palette
// side data, so 1 MiB leaves ample headroom without letting a broken peer
// allocate arbitrarily.
const maxMessagePayload = 1 << 20

// Sentinel errors for session handling, distinguishable with errors.Is.
var (
	ErrUnknownStream     = errors.New("distribution: unknown stream")
	ErrUnexpectedMessage = errors.New("distribution: unexpected message type")
	ErrMessageTooLarge   = errors.New("distribution: message exceeds size limit")
)

// WireError indicates a failure to parse an mvestream message field. It
// wraps the underlying error and records which field was being parsed.
type WireError struct {
	Field string
	Err   error
}

func (e *WireError) Error() string {
	return fmt.Sprintf("distribution: parse %s: %v", e.Field, e.Err)
}

func (e *WireError) Unwrap() error {
	return e.Err
}

// Hello is the first message on a viewer's stream, naming the stream it
// subscribes to.
type Hello struct {
	Stream string
}

// Info is the server's reply to a Hello: the stream table of the subscribed
// stream plus the palette in effect, so a late joiner can render the first
// video frame it receives. Palette is nil when no palette has been seen.
type Info struct {
	Streams []media.StreamInfo
	Palette []byte
}

// ReadMessage reads one framed message. Payload allocation is bounded by
// maxMessagePayload.
func ReadMessage(r io.Reader) (uint64, []byte, error) {
	br, ok := r.(quicvarint.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	msgType, err := quicvarint.Read(br)
	if err != nil {
		return 0, nil, err
	}
	length, err := quicvarint.Read(br)
	if err != nil {
		return 0, nil, fmt.Errorf("read message length: %w", err)
	}
	if length > maxMessagePayload {
		return 0, nil, ErrMessageTooLarge
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(br, payload); err != nil {
			return 0, nil, fmt.Errorf("read message payload: %w", err)
		}
	}
	return msgType, payload, nil
}

// WriteMessage frames payload and writes it as a single Write call, so
// concurrent writers on distinct messages cannot interleave partial frames.
func WriteMessage(w io.Writer, msgType uint64, payload []byte) error {
	buf := make([]byte, 0, 2*quicvarint.Len(uint64(len(payload)))+len(payload))
	buf = quicvarint.Append(buf, msgType)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// SerializeHello serializes a HELLO payload.
func SerializeHello(h Hello) []byte {
	return appendVarIntBytes(nil, []byte(h.Stream))
}

// ParseHello parses a HELLO payload.
func ParseHello(data []byte) (Hello, error) {
	r := newBufReader(data)
	name, err := r.readVarIntBytes()
	if err != nil {
		return Hello{}, &WireError{Field: "stream name", Err: err}
	}
	return Hello{Stream: string(name)}, nil
}

// SerializeInfo serializes an INFO payload.
func SerializeInfo(info Info) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, uint64(len(info.Streams)))
	for _, s := range info.Streams {
		buf = quicvarint.Append(buf, uint64(s.Index))
		buf = quicvarint.Append(buf, uint64(s.Type))
		buf = quicvarint.Append(buf, uint64(s.Codec))
		buf = quicvarint.Append(buf, uint64(s.TimeBase.Num))
		buf = quicvarint.Append(buf, uint64(s.TimeBase.Den))
		buf = quicvarint.Append(buf, uint64(s.Width))
		buf = quicvarint.Append(buf, uint64(s.Height))
		buf = quicvarint.Append(buf, uint64(s.Channels))
		buf = quicvarint.Append(buf, uint64(s.SampleRate))
		buf = quicvarint.Append(buf, uint64(s.BitsPerCodedSample))
		buf = quicvarint.Append(buf, uint64(s.BitRate))
		buf = quicvarint.Append(buf, uint64(s.BlockAlign))
	}
	buf = appendVarIntBytes(buf, info.Palette)
	return buf
}

// maxInfoStreams bounds the stream table a peer may announce. MVE files
// carry at most two elementary streams.
const maxInfoStreams = 16

// ParseInfo parses an INFO payload.
func ParseInfo(data []byte) (Info, error) {
	r := newBufReader(data)
	var info Info

	count, err := r.readVarint()
	if err != nil {
		return info, &WireError{Field: "stream count", Err: err}
	}
	if count > maxInfoStreams {
		return info, &WireError{Field: "stream count", Err: ErrMessageTooLarge}
	}
	info.Streams = make([]media.StreamInfo, count)
	for i := range info.Streams {
		s, err := parseStreamInfo(r)
		if err != nil {
			return info, err
		}
		info.Streams[i] = s
	}

	palette, err := r.readVarIntBytes()
	if err != nil {
		return info, &WireError{Field: "palette", Err: err}
	}
	if len(palette) > 0 {
		if len(palette) != media.PaletteSize {
			return info, &WireError{Field: "palette", Err: ErrMessageTooLarge}
		}
		info.Palette = palette
	}
	return info, nil
}

func parseStreamInfo(r *bufReader) (media.StreamInfo, error) {
	var s media.StreamInfo

	idx, err := r.readVarint()
	if err != nil {
		return s, &WireError{Field: "stream index", Err: err}
	}
	s.Index = int(idx)

	typ, err := r.readVarint()
	if err != nil {
		return s, &WireError{Field: "stream type", Err: err}
	}
	s.Type = media.Type(typ)

	codec, err := r.readVarint()
	if err != nil {
		return s, &WireError{Field: "codec", Err: err}
	}
	s.Codec = media.CodecID(codec)

	// The remaining nine fields are plain ints in serialization order.
	rest := []struct {
		field string
		dst   *int
	}{
		{"timebase num", &s.TimeBase.Num},
		{"timebase den", &s.TimeBase.Den},
		{"width", &s.Width},
		{"height", &s.Height},
		{"channels", &s.Channels},
		{"sample rate", &s.SampleRate},
		{"bits per sample", &s.BitsPerCodedSample},
		{"bit rate", &s.BitRate},
		{"block align", &s.BlockAlign},
	}
	for _, f := range rest {
		v, err := r.readVarint()
		if err != nil {
			return s, &WireError{Field: f.field, Err: err}
		}
		*f.dst = int(v)
	}
	return s, nil
}

// Frame flag bits.
const frameFlagPalette = 0x01

// SerializeFrame serializes a FRAME payload from a packet.
func SerializeFrame(pkt *media.Packet) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, uint64(pkt.StreamIndex))
	buf = quicvarint.Append(buf, uint64(pkt.PTS))
	var flags uint64
	if pkt.Palette != nil {
		flags |= frameFlagPalette
	}
	buf = quicvarint.Append(buf, flags)
	if pkt.Palette != nil {
		buf = appendVarIntBytes(buf, pkt.Palette)
	}
	buf = appendVarIntBytes(buf, pkt.Data)
	return buf
}

// ParseFrame parses a FRAME payload into a packet. Pos is -1: the receiver
// has no byte offset to speak of.
func ParseFrame(data []byte) (*media.Packet, error) {
	r := newBufReader(data)
	pkt := &media.Packet{Pos: -1}

	idx, err := r.readVarint()
	if err != nil {
		return nil, &WireError{Field: "stream index", Err: err}
	}
	pkt.StreamIndex = int(idx)

	pts, err := r.readVarint()
	if err != nil {
		return nil, &WireError{Field: "pts", Err: err}
	}
	pkt.PTS = int64(pts)

	flags, err := r.readVarint()
	if err != nil {
		return nil, &WireError{Field: "flags", Err: err}
	}
	if flags&frameFlagPalette != 0 {
		palette, err := r.readVarIntBytes()
		if err != nil {
			return nil, &WireError{Field: "palette", Err: err}
		}
		if len(palette) != media.PaletteSize {
			return nil, &WireError{Field: "palette", Err: ErrMessageTooLarge}
		}
		pkt.Palette = palette
	}

	pkt.Data, err = r.readVarIntBytes()
	if err != nil {
		return nil, &WireError{Field: "frame data", Err: err}
	}
	return pkt, nil
}

// appendVarIntBytes appends a varint-length-prefixed byte string to buf.
func appendVarIntBytes(buf []byte, data []byte) []byte {
	buf = quicvarint.Append(buf, uint64(len(data)))
	return append(buf, data...)
}

// bufReader wraps a byte slice for sequential varint reading.
type bufReader struct {
	data []byte
	pos  int
}

func newBufReader(data []byte) *bufReader {
	return &bufReader{data: data}
}

func (b *bufReader) readVarint() (uint64, error) {
	if b.pos >= len(b.data) {
		return 0, io.ErrUnexpectedEOF
	}
	val, n, err := quicvarint.Parse(b.data[b.pos:])
	if err != nil {
		return 0, err
	}
	b.pos += n
	return val, nil
}

func (b *bufReader) readVarIntBytes() ([]byte, error) {
	length, err := b.readVarint()
	if err != nil {
		return nil, err
	}
	end := b.pos + int(length)
	if end > len(b.data) {
		return nil, io.ErrUnexpectedEOF
	}
	val := b.data[b.pos:end]
	b.pos = end
	return val, nil
}
