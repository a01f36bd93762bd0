// Package media defines the packet and stream types that flow through the
// mvekit processing pipeline, from demuxing through distribution.
package media

import "fmt"

// Channel buffer sizes used by both the demuxer (producer) and viewer sessions
// (consumer) to decouple packet production from consumption. MVE runs at most
// ~15 fps with one audio frame per video frame, so these absorb several
// seconds of jitter without excessive memory.
const (
	VideoBufferSize = 60
	AudioBufferSize = 120
)

// PaletteSize is the byte length of a packet's palette side data:
// 256 entries, 4 bytes each.
const PaletteSize = 1024

// Type identifies the medium a stream carries.
type Type int

const (
	TypeUnknown Type = iota
	TypeVideo
	TypeAudio
)

func (t Type) String() string {
	switch t {
	case TypeVideo:
		return "video"
	case TypeAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// CodecID identifies the codec of a stream's payload. The demuxer does not
// decode payloads; the ID tells downstream decoders what they are holding.
type CodecID int

const (
	CodecNone CodecID = iota
	// CodecInterplayVideo is Interplay's run-coded 8x8-block video, decoded
	// against the decoding map carried in the same packet.
	CodecInterplayVideo
	// CodecPCMU8 is unsigned 8-bit linear PCM.
	CodecPCMU8
	// CodecPCMS16LE is signed 16-bit little-endian linear PCM.
	CodecPCMS16LE
	// CodecInterplayDPCM is Interplay's differential PCM; each packet keeps
	// its 6-byte predictor header.
	CodecInterplayDPCM
)

func (c CodecID) String() string {
	switch c {
	case CodecInterplayVideo:
		return "interplayvideo"
	case CodecPCMU8:
		return "pcm_u8"
	case CodecPCMS16LE:
		return "pcm_s16le"
	case CodecInterplayDPCM:
		return "interplay_dpcm"
	default:
		return "none"
	}
}

// Rational is an exact time base expressed as Num/Den seconds per tick.
type Rational struct {
	Num int
	Den int
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// StreamInfo describes one elementary stream found during header parsing.
// Video fields are zero for audio streams and vice versa.
type StreamInfo struct {
	Index    int
	Type     Type
	Codec    CodecID
	CodecTag uint32 // no FourCC assigned for MVE; always 0
	TimeBase Rational

	// Video parameters.
	Width  int
	Height int

	// Audio parameters.
	Channels   int
	SampleRate int

	// BitsPerCodedSample is the video bit depth (8 or 16) or the audio
	// sample width (8 or 16).
	BitsPerCodedSample int
	BitRate            int
	BlockAlign         int
}

// Packet is one demuxed payload ready for a decoder. Data is owned by the
// receiver; the demuxer never reuses it.
type Packet struct {
	// StreamIndex selects the entry in the demuxer's stream table.
	StreamIndex int
	// PTS is in the stream's time base: microseconds for video, sample
	// index for audio.
	PTS int64
	// Pos is the file offset the payload was read from, -1 if unknown.
	Pos int64
	// Data is the payload. For video packets it is the decoding map
	// immediately followed by the video data.
	Data []byte
	// Palette is nil, or exactly PaletteSize bytes of side data: 256
	// little-endian 0x00RRGGBB entries. Attached to the first video packet
	// after a palette change only.
	Palette []byte
}
