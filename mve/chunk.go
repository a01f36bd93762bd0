package mve

// Chunk types. Chunks are the outer framing unit: a 4-byte preamble
// {u16 size, u16 type} followed by size bytes of opcodes.
const (
	ChunkInitAudio uint16 = 0x0000
	ChunkAudioOnly uint16 = 0x0001
	ChunkInitVideo uint16 = 0x0002
	ChunkVideo     uint16 = 0x0003
	ChunkShutdown  uint16 = 0x0004
	ChunkEnd       uint16 = 0x0005
)

// Opcode types. Opcodes are the inner framing unit: a 4-byte preamble
// {u16 size, u8 type, u8 version} followed by size bytes of body. The
// demuxer interprets the timer, init, palette, and payload-bearing opcodes
// and skips the rest; types above OpUnknown15 are a format error.
const (
	OpEndOfStream          uint8 = 0x00
	OpEndOfChunk           uint8 = 0x01
	OpCreateTimer          uint8 = 0x02
	OpInitAudioBuffers     uint8 = 0x03
	OpStartStopAudio       uint8 = 0x04
	OpInitVideoBuffers     uint8 = 0x05
	OpUnknown06            uint8 = 0x06
	OpSendBufferToDisplay  uint8 = 0x07
	OpAudioFrame           uint8 = 0x08
	OpSilenceFrame         uint8 = 0x09
	OpInitVideoMode        uint8 = 0x0A
	OpCreateGradient       uint8 = 0x0B
	OpSetPalette           uint8 = 0x0C
	OpSetPaletteCompressed uint8 = 0x0D
	OpUnknown0E            uint8 = 0x0E
	OpSetDecodingMap       uint8 = 0x0F
	OpUnknown10            uint8 = 0x10
	OpVideoData            uint8 = 0x11
	OpUnknown12            uint8 = 0x12
	OpUnknown13            uint8 = 0x13
	OpUnknown14            uint8 = 0x14
	OpUnknown15            uint8 = 0x15
)

const (
	chunkPreambleLen  = 4
	opcodePreambleLen = 4
)

// ChunkTypeName returns a short human-readable name for a chunk type,
// "invalid" for values outside the defined range.
func ChunkTypeName(t uint16) string {
	switch t {
	case ChunkInitAudio:
		return "init audio"
	case ChunkAudioOnly:
		return "audio only"
	case ChunkInitVideo:
		return "init video"
	case ChunkVideo:
		return "video"
	case ChunkShutdown:
		return "shutdown"
	case ChunkEnd:
		return "end"
	default:
		return "invalid"
	}
}

// OpcodeName returns a short human-readable name for an opcode type,
// "invalid" for values outside the defined range.
func OpcodeName(t uint8) string {
	switch t {
	case OpEndOfStream:
		return "end of stream"
	case OpEndOfChunk:
		return "end of chunk"
	case OpCreateTimer:
		return "create timer"
	case OpInitAudioBuffers:
		return "init audio buffers"
	case OpStartStopAudio:
		return "start/stop audio"
	case OpInitVideoBuffers:
		return "init video buffers"
	case OpSendBufferToDisplay:
		return "send buffer to display"
	case OpAudioFrame:
		return "audio frame"
	case OpSilenceFrame:
		return "silence frame"
	case OpInitVideoMode:
		return "init video mode"
	case OpCreateGradient:
		return "create gradient"
	case OpSetPalette:
		return "set palette"
	case OpSetPaletteCompressed:
		return "set palette (compressed)"
	case OpSetDecodingMap:
		return "set decoding map"
	case OpVideoData:
		return "video data"
	case OpUnknown06, OpUnknown0E, OpUnknown10, OpUnknown12, OpUnknown13,
		OpUnknown14, OpUnknown15:
		return "unknown"
	default:
		return "invalid"
	}
}
