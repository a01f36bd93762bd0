package mve

import (
	"fmt"
	"io"
)

// reader wraps the random-access source with position tracking so tell never
// issues a syscall. All multibyte integers in the container are little-endian;
// decoding happens at the call sites via encoding/binary.
type reader struct {
	rs  io.ReadSeeker
	pos int64
}

func newReader(rs io.ReadSeeker) (*reader, error) {
	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("mve: query position: %w", err)
	}
	return &reader{rs: rs, pos: pos}, nil
}

func (r *reader) tell() int64 { return r.pos }

// readFull reads exactly len(p) bytes. io.EOF means the source ended before
// the first byte; a partial read returns io.ErrUnexpectedEOF.
func (r *reader) readFull(p []byte) error {
	n, err := io.ReadFull(r.rs, p)
	r.pos += int64(n)
	return err
}

func (r *reader) readByte() (byte, error) {
	var b [1]byte
	if err := r.readFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// skip advances past n payload bytes without reading them. Seeking beyond the
// end of the source is not an error; the truncation surfaces on the next read.
func (r *reader) skip(n int64) error {
	if n == 0 {
		return nil
	}
	pos, err := r.rs.Seek(n, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("mve: skip %d bytes: %w", n, err)
	}
	r.pos = pos
	return nil
}

func (r *reader) seek(off int64) error {
	pos, err := r.rs.Seek(off, io.SeekStart)
	if err != nil {
		return fmt.Errorf("mve: seek to %d: %w", off, err)
	}
	r.pos = pos
	return nil
}
