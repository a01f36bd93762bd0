package mve

import (
	"errors"
	"fmt"
)

// ErrInvalidData reports a structural violation of the container format:
// an unknown chunk or opcode type, an opcode overrunning its chunk's byte
// budget, out-of-range palette indices, or an undersized opcode body.
// Truncated files are not invalid data; they surface io.ErrUnexpectedEOF.
var ErrInvalidData = errors.New("mve: invalid data")

// ErrClosed is returned by ReadPacket once the demuxer has been closed.
var ErrClosed = errors.New("mve: demuxer closed")

// ParseError indicates a failure while parsing one element of the container.
// It wraps the underlying I/O or format error and records which field was
// being parsed and the file offset where parsing failed, so callers can
// distinguish failure modes with errors.Is while keeping position context.
type ParseError struct {
	Field  string
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mve: parse %s at offset %d: %v", e.Field, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
