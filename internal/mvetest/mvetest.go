// Package mvetest builds synthetic Interplay MVE byte streams for tests and
// the mvegen tool. It writes raw wire bytes and deliberately does not import
// the demuxer, so white-box demuxer tests can use it too.
package mvetest

import "encoding/binary"

// Signature returns the 21-byte container magic.
func Signature() []byte {
	return []byte("Interplay MVE File\x1a\x00\x1a")
}

// Header returns the file preamble: signature plus the 4 filler bytes that
// precede the first chunk.
func Header() []byte {
	return append(Signature(), 0, 0, 0, 0)
}

// File assembles a complete stream: header followed by the given chunks.
func File(chunks ...[]byte) []byte {
	out := Header()
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// Chunk frames the given opcodes as one chunk of the given type, computing
// the size field from the opcode bytes.
func Chunk(typ uint16, ops ...[]byte) []byte {
	var body []byte
	for _, op := range ops {
		body = append(body, op...)
	}
	return ChunkRaw(typ, len(body), body)
}

// ChunkRaw frames body as a chunk whose preamble claims the given size,
// which tests may set inconsistently with len(body).
func ChunkRaw(typ uint16, size int, body []byte) []byte {
	out := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint16(out[0:2], uint16(size))
	binary.LittleEndian.PutUint16(out[2:4], typ)
	return append(out, body...)
}

// Op frames body as one opcode, computing the size field.
func Op(typ, version uint8, body []byte) []byte {
	return OpRaw(typ, version, len(body), body)
}

// OpRaw frames body as an opcode whose preamble claims the given size,
// which tests may set inconsistently with len(body).
func OpRaw(typ, version uint8, size int, body []byte) []byte {
	out := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint16(out[0:2], uint16(size))
	out[2] = typ
	out[3] = version
	return append(out, body...)
}

// OpTimer builds a create-timer opcode: rate times subdivision is the video
// frame period in microseconds.
func OpTimer(rate uint32, subdivision uint16) []byte {
	body := make([]byte, 6)
	binary.LittleEndian.PutUint32(body[0:4], rate)
	binary.LittleEndian.PutUint16(body[4:6], subdivision)
	return Op(0x02, 0, body)
}

// OpInitVideo builds a version-1 init-video-buffers opcode. Dimensions are
// stored divided by 8, as on the wire.
func OpInitVideo(encodedWidth, encodedHeight uint16) []byte {
	body := make([]byte, 6)
	binary.LittleEndian.PutUint16(body[0:2], encodedWidth)
	binary.LittleEndian.PutUint16(body[2:4], encodedHeight)
	return Op(0x05, 1, body)
}

// OpInitVideo16 builds a version-2 init-video-buffers opcode declaring
// 16 bpp video via a nonzero true-color word.
func OpInitVideo16(encodedWidth, encodedHeight uint16) []byte {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint16(body[0:2], encodedWidth)
	binary.LittleEndian.PutUint16(body[2:4], encodedHeight)
	binary.LittleEndian.PutUint16(body[6:8], 1)
	return Op(0x05, 2, body)
}

// OpInitAudio builds an init-audio-buffers opcode. Flags: bit 0 stereo,
// bit 1 16-bit samples, bit 2 (version 1 only) DPCM compression.
func OpInitAudio(version uint8, flags, sampleRate uint16) []byte {
	n := 8
	if version == 1 {
		n = 10
	}
	body := make([]byte, n)
	binary.LittleEndian.PutUint16(body[2:4], flags)
	binary.LittleEndian.PutUint16(body[4:6], sampleRate)
	return Op(0x03, version, body)
}

// OpAudioFrame builds an audio-frame opcode: the 6-byte sub-header
// {sequence, stream mask, payload length} followed by the payload.
func OpAudioFrame(seq uint16, payload []byte) []byte {
	body := make([]byte, 6, 6+len(payload))
	binary.LittleEndian.PutUint16(body[0:2], seq)
	binary.LittleEndian.PutUint16(body[2:4], 1)
	binary.LittleEndian.PutUint16(body[4:6], uint16(len(payload)))
	return Op(0x08, 0, append(body, payload...))
}

// OpDecodingMap builds a set-decoding-map opcode around data.
func OpDecodingMap(data []byte) []byte {
	return Op(0x0F, 0, data)
}

// OpVideoData builds a video-data opcode around data.
func OpVideoData(data []byte) []byte {
	return Op(0x11, 0, data)
}

// OpPalette builds a set-palette opcode replacing count entries starting at
// first. rgb holds 3 bytes per entry, 6-bit components.
func OpPalette(first, count uint16, rgb []byte) []byte {
	body := make([]byte, 4, 4+len(rgb))
	binary.LittleEndian.PutUint16(body[0:2], first)
	binary.LittleEndian.PutUint16(body[2:4], count)
	return Op(0x0C, 0, append(body, rgb...))
}

// OpEndOfChunk builds an empty end-of-chunk marker opcode.
func OpEndOfChunk() []byte {
	return Op(0x01, 0, nil)
}

// OpEndOfStream builds an empty end-of-stream marker opcode.
func OpEndOfStream() []byte {
	return Op(0x00, 0, nil)
}

// EndChunk builds the end chunk that closes a well-formed file.
func EndChunk() []byte {
	return Chunk(0x0005, OpEndOfStream())
}

// ShutdownChunk builds a shutdown chunk.
func ShutdownChunk() []byte {
	return Chunk(0x0004, OpEndOfChunk())
}
