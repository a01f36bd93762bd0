package mve

import (
	"encoding/binary"
	"io"
)

// Opcode is one opcode header located by a Scanner. Offset is the position
// of the body, not the preamble.
type Opcode struct {
	Offset  int64
	Size    int
	Type    uint8
	Version uint8
}

// Chunk is one chunk located by a Scanner, with the headers of every opcode
// it contains. Offset is the position of the chunk preamble.
type Chunk struct {
	Offset  int64
	Size    int
	Type    uint16
	Opcodes []Opcode
}

// Scanner walks the raw chunk/opcode structure of an MVE stream without
// demuxing it, reading only preambles and skipping payload bytes. Unlike the
// demuxer it tolerates unknown chunk and opcode types, which makes it suited
// to inspecting broken files; only framing damage (an opcode overrunning its
// chunk, or truncation) stops it.
type Scanner struct {
	r *reader
}

// NewScanner synchronizes on the container signature and returns a Scanner
// positioned at the first chunk.
func NewScanner(rs io.ReadSeeker) (*Scanner, error) {
	r, err := newReader(rs)
	if err != nil {
		return nil, err
	}
	if err := syncSignature(r); err != nil {
		return nil, err
	}
	if err := r.skip(signatureFiller); err != nil {
		return nil, err
	}
	return &Scanner{r: r}, nil
}

// Next returns the next chunk and its opcode headers, or io.EOF when the
// source ends on a chunk boundary.
func (s *Scanner) Next() (*Chunk, error) {
	chunkOff := s.r.tell()
	var pre [chunkPreambleLen]byte
	if err := s.r.readFull(pre[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &ParseError{Field: "chunk preamble", Offset: chunkOff, Err: err}
	}

	c := &Chunk{
		Offset: chunkOff,
		Size:   int(binary.LittleEndian.Uint16(pre[0:2])),
		Type:   binary.LittleEndian.Uint16(pre[2:4]),
	}

	remaining := c.Size
	for remaining > 0 {
		opOff := s.r.tell()
		var opPre [opcodePreambleLen]byte
		if err := s.r.readFull(opPre[:]); err != nil {
			return nil, &ParseError{Field: "opcode preamble", Offset: opOff, Err: eofToUnexpected(err)}
		}
		op := Opcode{
			Offset:  s.r.tell(),
			Size:    int(binary.LittleEndian.Uint16(opPre[0:2])),
			Type:    opPre[2],
			Version: opPre[3],
		}
		remaining -= opcodePreambleLen + op.Size
		if remaining < 0 {
			return nil, &ParseError{Field: "opcode size", Offset: opOff, Err: ErrInvalidData}
		}
		if err := s.r.skip(int64(op.Size)); err != nil {
			return nil, err
		}
		c.Opcodes = append(c.Opcodes, op)
	}
	return c, nil
}
