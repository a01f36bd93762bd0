package mve

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/rongdian/mvekit/internal/mvetest"
	"github.com/rongdian/mvekit/media"
)

func TestScanner_WalkStructure(t *testing.T) {
	t.Parallel()
	stream := mvetest.File(
		mvetest.Chunk(ChunkInitVideo,
			mvetest.OpTimer(testFramePeriod, 1),
			mvetest.OpInitVideo(40, 25),
		),
		mvetest.Chunk(ChunkVideo,
			mvetest.OpAudioFrame(0, bytes.Repeat([]byte{0x55}, 64)),
			mvetest.OpDecodingMap(bytes.Repeat([]byte{0x11}, 16)),
			mvetest.OpVideoData(bytes.Repeat([]byte{0x22}, 32)),
		),
		mvetest.EndChunk(),
	)

	s, err := NewScanner(bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}

	type want struct {
		typ     uint16
		opcodes []uint8
	}
	expected := []want{
		{ChunkInitVideo, []uint8{OpCreateTimer, OpInitVideoBuffers}},
		{ChunkVideo, []uint8{OpAudioFrame, OpSetDecodingMap, OpVideoData}},
		{ChunkEnd, []uint8{OpEndOfStream}},
	}

	// The first chunk preamble starts right after the 25-byte file header.
	wantOffset := int64(25)
	for i, w := range expected {
		c, err := s.Next()
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if c.Type != w.typ {
			t.Errorf("chunk %d type = %#04x, want %#04x", i, c.Type, w.typ)
		}
		if c.Offset != wantOffset {
			t.Errorf("chunk %d offset = %d, want %d", i, c.Offset, wantOffset)
		}
		if len(c.Opcodes) != len(w.opcodes) {
			t.Fatalf("chunk %d opcodes = %d, want %d", i, len(c.Opcodes), len(w.opcodes))
		}
		for j, op := range c.Opcodes {
			if op.Type != w.opcodes[j] {
				t.Errorf("chunk %d opcode %d = %#02x, want %#02x", i, j, op.Type, w.opcodes[j])
			}
		}
		wantOffset += int64(chunkPreambleLen + c.Size)
	}

	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("after last chunk: err = %v, want io.EOF", err)
	}
}

func TestScanner_TolerantOfUnknownTypes(t *testing.T) {
	t.Parallel()
	// The scanner is an inspection tool: unknown chunk and opcode types
	// must not stop the walk, only framing damage does.
	stream := mvetest.File(
		mvetest.Chunk(0x0042, mvetest.Op(0x7F, 3, []byte{1, 2, 3})),
		mvetest.EndChunk(),
	)
	s, err := NewScanner(bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	c, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if c.Type != 0x0042 || len(c.Opcodes) != 1 || c.Opcodes[0].Type != 0x7F {
		t.Errorf("chunk = %+v, want type 0x0042 with one 0x7F opcode", c)
	}
	if c.Opcodes[0].Version != 3 || c.Opcodes[0].Size != 3 {
		t.Errorf("opcode = %+v, want version 3 size 3", c.Opcodes[0])
	}
}

func TestScanner_BudgetOverrun(t *testing.T) {
	t.Parallel()
	stream := mvetest.File(
		mvetest.Chunk(ChunkVideo, mvetest.OpRaw(OpVideoData, 0, 0x4000, []byte{1, 2})),
	)
	s, err := NewScanner(bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	if _, err := s.Next(); !errors.Is(err, ErrInvalidData) {
		t.Errorf("err = %v, want ErrInvalidData", err)
	}
}

func TestScanner_Truncated(t *testing.T) {
	t.Parallel()
	// Chunk preamble promises 20 bytes of opcodes but the stream ends after
	// two bytes of the first opcode preamble.
	stream := mvetest.File(mvetest.ChunkRaw(ChunkVideo, 20, []byte{0x10, 0x00}))
	s, err := NewScanner(bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	_, err = s.Next()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want io.ErrUnexpectedEOF", err)
	}
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %T, want *ParseError", err)
	}
	if perr.Field != "opcode preamble" {
		t.Errorf("Field = %q, want %q", perr.Field, "opcode preamble")
	}
}

func TestScanner_RebuildRoundTrip(t *testing.T) {
	t.Parallel()
	// Re-serializing every chunk and opcode in scanned order must reproduce
	// the original bytes, and demuxing both must yield identical packets.
	original := mvetest.File(
		mvetest.Chunk(ChunkInitVideo,
			mvetest.OpTimer(testFramePeriod, 1),
			mvetest.OpInitVideo(40, 25),
		),
		mvetest.Chunk(ChunkInitAudio, mvetest.OpInitAudio(0, 0b001, 22050)),
		mvetest.Chunk(ChunkVideo,
			mvetest.OpAudioFrame(0, bytes.Repeat([]byte{0x55}, 128)),
			mvetest.OpPalette(0, 2, []byte{0x0C, 0x1C, 0x2C, 0x04, 0x08, 0x0F}),
			mvetest.OpDecodingMap(bytes.Repeat([]byte{0x11}, 16)),
			mvetest.OpVideoData(bytes.Repeat([]byte{0x22}, 64)),
			mvetest.OpEndOfChunk(),
		),
		mvetest.EndChunk(),
	)

	s, err := NewScanner(bytes.NewReader(original))
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	rebuilt := mvetest.Header()
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		var body []byte
		for _, op := range c.Opcodes {
			opBody := original[op.Offset : op.Offset+int64(op.Size)]
			body = append(body, mvetest.OpRaw(op.Type, op.Version, op.Size, opBody)...)
		}
		rebuilt = append(rebuilt, mvetest.ChunkRaw(c.Type, c.Size, body)...)
	}
	if !bytes.Equal(rebuilt, original) {
		t.Error("rebuilt stream differs from the original bytes")
	}

	demux := func(stream []byte) []*media.Packet {
		d, err := NewDemuxer(context.Background(), bytes.NewReader(stream))
		if err != nil {
			t.Fatalf("NewDemuxer: %v", err)
		}
		var pkts []*media.Packet
		for {
			pkt, err := d.ReadPacket()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("ReadPacket: %v", err)
			}
			pkts = append(pkts, pkt)
		}
		return pkts
	}
	if !reflect.DeepEqual(demux(original), demux(rebuilt)) {
		t.Error("packets from the rebuilt stream differ from the original's")
	}
}

func TestChunkTypeName(t *testing.T) {
	t.Parallel()
	if got := ChunkTypeName(ChunkVideo); got != "video" {
		t.Errorf("ChunkTypeName(video) = %q", got)
	}
	if got := ChunkTypeName(0x7777); got != "invalid" {
		t.Errorf("ChunkTypeName(0x7777) = %q", got)
	}
	if got := OpcodeName(OpSetDecodingMap); got != "set decoding map" {
		t.Errorf("OpcodeName(0x0F) = %q", got)
	}
	if got := OpcodeName(0x16); got != "invalid" {
		t.Errorf("OpcodeName(0x16) = %q", got)
	}
}
