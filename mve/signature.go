package mve

import (
	"bytes"
	"io"
)

// signature is the 21-byte magic that opens every MVE file. Four filler
// bytes follow it before the first chunk preamble.
var signature = []byte("Interplay MVE File\x1a\x00\x1a")

const signatureFiller = 4

// ScoreMax is the probe confidence returned for a positive match.
const ScoreMax = 100

// Probe reports how confidently buf is the start of an MVE byte stream:
// ScoreMax if the signature occurs anywhere in buf, 0 otherwise. Some
// releases prepend junk before the magic, so the whole prefix is searched.
func Probe(buf []byte) int {
	if bytes.Contains(buf, signature) {
		return ScoreMax
	}
	return 0
}

// syncSignature advances r to the first byte past the signature, sliding a
// one-byte window forward until it matches. Running out of bytes first means
// the source is not an MVE stream or was cut short of one.
func syncSignature(r *reader) error {
	start := r.tell()
	window := make([]byte, len(signature))
	if err := r.readFull(window); err != nil {
		return &ParseError{Field: "signature", Offset: start, Err: eofToUnexpected(err)}
	}
	for !bytes.Equal(window, signature) {
		b, err := r.readByte()
		if err != nil {
			return &ParseError{Field: "signature", Offset: r.tell(), Err: eofToUnexpected(err)}
		}
		copy(window, window[1:])
		window[len(window)-1] = b
	}
	return nil
}

// eofToUnexpected maps a clean io.EOF to io.ErrUnexpectedEOF for call sites
// where the format promises more bytes.
func eofToUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
