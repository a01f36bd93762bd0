package mve

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/rongdian/mvekit/media"
)

// Stream indices are fixed by header parsing: video first, audio second
// when the file has audio at all.
const (
	VideoStreamIndex = 0
	AudioStreamIndex = 1
)

// audioSubHeaderLen is the sub-header opening every audio-frame opcode body.
// It is stripped before emission for PCM and kept for DPCM, where it seeds
// the decoder's predictors.
const audioSubHeaderLen = 6

// Handler bounds on opcode body sizes, from the format definition.
const (
	maxTimerOpcodeSize     = 6
	maxInitAudioOpcodeSize = 10
	maxInitVideoOpcodeSize = 8
	maxPaletteOpcodeSize   = 0x304
)

// paletteEntries is the fixed palette table length for 8 bpp video.
const paletteEntries = 256

// Demuxer reads packets out of one MVE byte stream. It is not safe for
// concurrent use; it owns its state and borrows the source reader for the
// duration of each call.
type Demuxer struct {
	ctx context.Context
	r   *reader

	streams []media.StreamInfo

	// Timing. framePTSInc is microseconds per video frame, set once by the
	// timer opcode. videoPTS is the next video packet's timestamp.
	framePTSInc int64
	videoPTS    int64

	videoWidth  int
	videoHeight int
	videoBPP    int

	audioBits       int
	audioChannels   int
	audioSampleRate int
	audioCodec      media.CodecID

	// audioFrameCount is the cumulative sample count across emitted audio
	// packets, used directly as the audio PTS.
	audioFrameCount int64

	// Pending payload locations recorded during the opcode scan. A zero
	// offset means nothing is pending; real payloads can never sit at
	// offset 0 because the signature precedes all chunks.
	audioChunkOffset int64
	audioChunkSize   int
	videoChunkOffset int64
	videoChunkSize   int
	decodeMapOffset  int64
	decodeMapSize    int

	// nextChunkOffset is where the next chunk preamble begins, maintained
	// across the deferred-payload seeks.
	nextChunkOffset int64

	palette    [paletteEntries]uint32
	hasPalette bool

	closed bool
}

// NewDemuxer opens an MVE byte stream: it scans rs for the container
// signature, parses the init chunks, and builds the stream table. The
// context is observed once per ReadPacket call. The demuxer does not close
// rs; the caller keeps ownership.
func NewDemuxer(ctx context.Context, rs io.ReadSeeker) (*Demuxer, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	r, err := newReader(rs)
	if err != nil {
		return nil, err
	}
	d := &Demuxer{ctx: ctx, r: r}
	if err := d.readHeader(); err != nil {
		return nil, err
	}
	return d, nil
}

// Streams returns the stream table built during header parsing. Entry 0 is
// always the video stream; entry 1, when present, is the audio stream.
func (d *Demuxer) Streams() []media.StreamInfo {
	return d.streams
}

// FramePeriod returns the interval between video frames fixed by the timer
// opcode.
func (d *Demuxer) FramePeriod() time.Duration {
	return time.Duration(d.framePTSInc) * time.Microsecond
}

// Close drops any deferred payload state and ends packet reading. It does
// not close the underlying reader, which the caller owns. Close is
// idempotent.
func (d *Demuxer) Close() error {
	d.closed = true
	d.audioChunkOffset = 0
	d.videoChunkOffset = 0
	d.decodeMapOffset = 0
	return nil
}

// ReadPacket returns the next demuxed packet. At the end of the stream,
// and on shutdown or end chunks, it returns io.EOF. A source that ends
// mid-structure yields an error wrapping io.ErrUnexpectedEOF; structural
// violations yield one wrapping ErrInvalidData.
func (d *Demuxer) ReadPacket() (*media.Packet, error) {
	if d.closed {
		return nil, ErrClosed
	}
	for {
		if err := d.ctx.Err(); err != nil {
			return nil, err
		}
		pkt, typ, err := d.processChunk()
		if err != nil {
			return nil, err
		}
		if pkt != nil {
			return pkt, nil
		}
		switch typ {
		case ChunkShutdown, ChunkEnd:
			return nil, io.EOF
		case ChunkInitAudio, ChunkInitVideo:
			// Init chunks belong to the header; a recurrence means the
			// stream structure is broken.
			return nil, &ParseError{Field: "chunk type", Offset: d.r.tell(), Err: ErrInvalidData}
		}
		// An audio-only or video chunk with no payload opcodes emits
		// nothing; parse on.
	}
}

// processChunk drains a deferred payload if one is pending, otherwise parses
// the next chunk and drains whatever it deferred. It returns the emitted
// packet (nil if none) and the chunk type processed.
func (d *Demuxer) processChunk() (*media.Packet, uint16, error) {
	// Drain first. When nothing is pending this also repositions the reader
	// at the next chunk preamble, undoing the emission-time seeks.
	pkt, err := d.loadPacket()
	if err != nil {
		return nil, 0, err
	}
	if pkt != nil {
		return pkt, ChunkVideo, nil
	}

	typ, err := d.parseChunk()
	if err != nil {
		return nil, typ, err
	}

	if typ == ChunkAudioOnly || typ == ChunkVideo {
		pkt, err = d.loadPacket()
		if err != nil {
			return nil, typ, err
		}
	}
	return pkt, typ, nil
}

// parseChunk reads one chunk preamble and its opcode stream at the current
// position, updating demuxer state and recording payload offsets. It returns
// the chunk type. io.EOF is returned untouched only when the source ends
// exactly on a chunk boundary.
func (d *Demuxer) parseChunk() (uint16, error) {
	var pre [chunkPreambleLen]byte
	if err := d.r.readFull(pre[:]); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, &ParseError{Field: "chunk preamble", Offset: d.r.tell(), Err: err}
	}
	remaining := int(binary.LittleEndian.Uint16(pre[0:2]))
	chunkType := binary.LittleEndian.Uint16(pre[2:4])
	if chunkType > ChunkEnd {
		return chunkType, &ParseError{Field: "chunk type", Offset: d.r.tell() - 2, Err: ErrInvalidData}
	}

	for remaining > 0 {
		opOff := d.r.tell()
		var opPre [opcodePreambleLen]byte
		if err := d.readExact(opPre[:], "opcode preamble"); err != nil {
			return chunkType, err
		}
		opSize := int(binary.LittleEndian.Uint16(opPre[0:2]))
		opType := opPre[2]
		opVersion := opPre[3]

		remaining -= opcodePreambleLen + opSize
		if remaining < 0 {
			// The opcode claims more bytes than the chunk has left; stop
			// before touching them.
			return chunkType, &ParseError{Field: "opcode size", Offset: opOff, Err: ErrInvalidData}
		}

		if err := d.handleOpcode(opType, opVersion, opSize, opOff); err != nil {
			return chunkType, err
		}
	}

	// A decoding map and video data pair up within one chunk; seeing only
	// one of them cannot produce a frame.
	if (d.decodeMapOffset != 0) != (d.videoChunkOffset != 0) {
		return chunkType, &ParseError{Field: "video opcode pair", Offset: d.r.tell(), Err: ErrInvalidData}
	}

	d.nextChunkOffset = d.r.tell()
	return chunkType, nil
}

func (d *Demuxer) handleOpcode(typ, version uint8, size int, off int64) error {
	switch typ {
	case OpCreateTimer:
		return d.opCreateTimer(version, size, off)
	case OpInitAudioBuffers:
		return d.opInitAudio(version, size, off)
	case OpInitVideoBuffers:
		return d.opInitVideo(version, size, off)
	case OpSetPalette:
		return d.opSetPalette(size, off)
	case OpAudioFrame:
		d.audioChunkOffset = d.r.tell()
		d.audioChunkSize = size
		return d.r.skip(int64(size))
	case OpSetDecodingMap:
		d.decodeMapOffset = d.r.tell()
		d.decodeMapSize = size
		return d.r.skip(int64(size))
	case OpVideoData:
		d.videoChunkOffset = d.r.tell()
		d.videoChunkSize = size
		return d.r.skip(int64(size))
	case OpEndOfStream, OpEndOfChunk, OpStartStopAudio, OpUnknown06,
		OpSendBufferToDisplay, OpSilenceFrame, OpInitVideoMode,
		OpCreateGradient, OpSetPaletteCompressed, OpUnknown0E, OpUnknown10,
		OpUnknown12, OpUnknown13, OpUnknown14, OpUnknown15:
		return d.r.skip(int64(size))
	default:
		return &ParseError{Field: "opcode type", Offset: off, Err: ErrInvalidData}
	}
}

// opCreateTimer sets the video frame period: a 32-bit tick rate times a
// 16-bit subdivision count, in microseconds.
func (d *Demuxer) opCreateTimer(version uint8, size int, off int64) error {
	if version > 0 || size != maxTimerOpcodeSize {
		return &ParseError{Field: "create timer opcode", Offset: off, Err: ErrInvalidData}
	}
	var b [maxTimerOpcodeSize]byte
	if err := d.readExact(b[:], "create timer body"); err != nil {
		return err
	}
	d.framePTSInc = int64(binary.LittleEndian.Uint32(b[0:4])) * int64(binary.LittleEndian.Uint16(b[4:6]))
	return nil
}

func (d *Demuxer) opInitAudio(version uint8, size int, off int64) error {
	if version > 1 || size > maxInitAudioOpcodeSize || size < 6 {
		return &ParseError{Field: "init audio opcode", Offset: off, Err: ErrInvalidData}
	}
	b := make([]byte, size)
	if err := d.readExact(b, "init audio body"); err != nil {
		return err
	}
	flags := binary.LittleEndian.Uint16(b[2:4])
	d.audioSampleRate = int(binary.LittleEndian.Uint16(b[4:6]))
	d.audioChannels = int(flags&1) + 1
	d.audioBits = (int(flags>>1&1) + 1) * 8
	switch {
	case version == 1 && flags&0x4 != 0:
		d.audioCodec = media.CodecInterplayDPCM
	case d.audioBits == 16:
		d.audioCodec = media.CodecPCMS16LE
	default:
		d.audioCodec = media.CodecPCMU8
	}
	return nil
}

func (d *Demuxer) opInitVideo(version uint8, size int, off int64) error {
	need := 4
	if version >= 2 {
		need = 8 // the true-color word at bytes 6..8 must be present
	}
	if version > 2 || size > maxInitVideoOpcodeSize || size < need {
		return &ParseError{Field: "init video opcode", Offset: off, Err: ErrInvalidData}
	}
	b := make([]byte, size)
	if err := d.readExact(b, "init video body"); err != nil {
		return err
	}
	// Dimensions are stored divided by 8.
	d.videoWidth = int(binary.LittleEndian.Uint16(b[0:2])) * 8
	d.videoHeight = int(binary.LittleEndian.Uint16(b[2:4])) * 8
	if version < 2 || binary.LittleEndian.Uint16(b[6:8]) == 0 {
		d.videoBPP = 8
	} else {
		d.videoBPP = 16
	}
	return nil
}

// opSetPalette replaces a range of palette entries. Components are 6-bit
// values expanded to 8 bits, stored packed as 0x00RRGGBB.
func (d *Demuxer) opSetPalette(size int, off int64) error {
	if size > maxPaletteOpcodeSize || size < 4 {
		return &ParseError{Field: "set palette opcode", Offset: off, Err: ErrInvalidData}
	}
	b := make([]byte, size)
	if err := d.readExact(b, "set palette body"); err != nil {
		return err
	}
	first := int(binary.LittleEndian.Uint16(b[0:2]))
	count := int(binary.LittleEndian.Uint16(b[2:4]))
	last := first + count - 1
	if first > 0xFF || last > 0xFF {
		return &ParseError{Field: "palette range", Offset: off, Err: ErrInvalidData}
	}
	if 4+3*count > size {
		return &ParseError{Field: "palette payload", Offset: off, Err: ErrInvalidData}
	}
	// Components shift inside the byte: a value above the 6-bit range wraps
	// instead of spilling into the neighboring field.
	j := 4
	for i := first; i <= last; i++ {
		r := uint32(b[j] << 2)
		g := uint32(b[j+1] << 2)
		bl := uint32(b[j+2] << 2)
		j += 3
		d.palette[i] = r<<16 | g<<8 | bl
	}
	d.hasPalette = true
	return nil
}

// loadPacket emits a deferred payload: pending audio drains before pending
// video so downstream A/V sync sees audio for a frame first. With nothing
// pending it seeks to the next chunk and returns nil.
func (d *Demuxer) loadPacket() (*media.Packet, error) {
	switch {
	case d.audioChunkOffset != 0:
		return d.loadAudioPacket()
	case d.decodeMapOffset != 0:
		return d.loadVideoPacket()
	default:
		if err := d.r.seek(d.nextChunkOffset); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func (d *Demuxer) loadAudioPacket() (*media.Packet, error) {
	off, size := d.audioChunkOffset, d.audioChunkSize
	d.audioChunkOffset = 0

	if d.audioCodec == media.CodecNone {
		return nil, &ParseError{Field: "audio frame", Offset: off, Err: ErrInvalidData}
	}
	if size < audioSubHeaderLen {
		return nil, &ParseError{Field: "audio frame size", Offset: off, Err: ErrInvalidData}
	}
	payloadSize := size
	if d.audioCodec != media.CodecInterplayDPCM {
		off += audioSubHeaderLen
		payloadSize -= audioSubHeaderLen
	}

	if err := d.r.seek(off); err != nil {
		return nil, err
	}
	data := make([]byte, payloadSize)
	if err := d.readExact(data, "audio payload"); err != nil {
		return nil, err
	}

	pkt := &media.Packet{
		StreamIndex: AudioStreamIndex,
		PTS:         d.audioFrameCount,
		Pos:         off,
		Data:        data,
	}
	if d.audioCodec == media.CodecInterplayDPCM {
		d.audioFrameCount += int64((size - audioSubHeaderLen) / d.audioChannels)
	} else {
		d.audioFrameCount += int64(payloadSize / d.audioChannels / (d.audioBits / 8))
	}
	return pkt, nil
}

func (d *Demuxer) loadVideoPacket() (*media.Packet, error) {
	mapOff, mapSize := d.decodeMapOffset, d.decodeMapSize
	vidOff, vidSize := d.videoChunkOffset, d.videoChunkSize
	d.decodeMapOffset = 0
	d.videoChunkOffset = 0

	data := make([]byte, mapSize+vidSize)
	if err := d.r.seek(mapOff); err != nil {
		return nil, err
	}
	if err := d.readExact(data[:mapSize], "decoding map"); err != nil {
		return nil, err
	}
	if err := d.r.seek(vidOff); err != nil {
		return nil, err
	}
	if err := d.readExact(data[mapSize:], "video payload"); err != nil {
		return nil, err
	}

	pkt := &media.Packet{
		StreamIndex: VideoStreamIndex,
		PTS:         d.videoPTS,
		Pos:         mapOff,
		Data:        data,
	}
	if d.hasPalette {
		pkt.Palette = d.encodePalette()
		d.hasPalette = false
	}
	d.videoPTS += d.framePTSInc
	return pkt, nil
}

// encodePalette serializes the palette as packet side data: 256 words of
// 0x00RRGGBB, little-endian.
func (d *Demuxer) encodePalette() []byte {
	buf := make([]byte, media.PaletteSize)
	for i, c := range d.palette {
		binary.LittleEndian.PutUint32(buf[i*4:], c)
	}
	return buf
}

// readHeader synchronizes on the signature and parses the init chunks. The
// first chunk must be init-video; audio presence is decided by peeking the
// following chunk preamble, and when present that chunk must be init-audio.
func (d *Demuxer) readHeader() error {
	if err := syncSignature(d.r); err != nil {
		return err
	}
	d.nextChunkOffset = d.r.tell() + signatureFiller

	_, typ, err := d.processChunk()
	if err != nil {
		return err
	}
	if typ != ChunkInitVideo {
		return &ParseError{Field: "first chunk", Offset: d.r.tell(), Err: ErrInvalidData}
	}

	// Peek the next chunk preamble and restore the position. A video chunk
	// here means the file carries no audio stream.
	peekAt := d.r.tell()
	var pre [chunkPreambleLen]byte
	if err := d.readExact(pre[:], "chunk preamble"); err != nil {
		return err
	}
	if err := d.r.seek(peekAt); err != nil {
		return err
	}
	if binary.LittleEndian.Uint16(pre[2:4]) != ChunkVideo {
		_, typ, err = d.processChunk()
		if err != nil {
			return err
		}
		if typ != ChunkInitAudio {
			return &ParseError{Field: "second chunk", Offset: d.r.tell(), Err: ErrInvalidData}
		}
	}

	d.streams = append(d.streams, media.StreamInfo{
		Index:              VideoStreamIndex,
		Type:               media.TypeVideo,
		Codec:              media.CodecInterplayVideo,
		TimeBase:           media.Rational{Num: 1, Den: 1000000},
		Width:              d.videoWidth,
		Height:             d.videoHeight,
		BitsPerCodedSample: d.videoBPP,
	})

	if d.audioCodec != media.CodecNone {
		bitRate := d.audioChannels * d.audioSampleRate * d.audioBits
		if d.audioCodec == media.CodecInterplayDPCM {
			bitRate /= 2
		}
		d.streams = append(d.streams, media.StreamInfo{
			Index:              AudioStreamIndex,
			Type:               media.TypeAudio,
			Codec:              d.audioCodec,
			TimeBase:           media.Rational{Num: 1, Den: d.audioSampleRate},
			Channels:           d.audioChannels,
			SampleRate:         d.audioSampleRate,
			BitsPerCodedSample: d.audioBits,
			BitRate:            bitRate,
			BlockAlign:         d.audioChannels * d.audioBits,
		})
	}
	return nil
}

// readExact reads len(p) bytes, mapping a clean EOF to io.ErrUnexpectedEOF;
// it is only used where the format promises the bytes exist.
func (d *Demuxer) readExact(p []byte, field string) error {
	off := d.r.tell()
	if err := d.r.readFull(p); err != nil {
		return &ParseError{Field: field, Offset: off, Err: eofToUnexpected(err)}
	}
	return nil
}
