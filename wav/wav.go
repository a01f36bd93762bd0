// Package wav writes uncompressed PCM audio as a minimal RIFF/WAVE file.
// The header is written up front with zero sizes and patched on Close, so
// the destination must support seeking.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	riffID = [4]byte{'R', 'I', 'F', 'F'}
	waveID = [4]byte{'W', 'A', 'V', 'E'}
	fmtID  = [4]byte{'f', 'm', 't', ' '}
	dataID = [4]byte{'d', 'a', 't', 'a'}
)

// headerLen covers the RIFF preamble, the 16-byte PCM fmt chunk, and the
// data chunk header.
const headerLen = 44

// formatPCM is the RIFF format tag for uncompressed integer PCM. Compressed
// payloads have no tag here; callers must decode before writing.
const formatPCM = 1

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("wav: writer closed")

// Writer emits one WAVE file. It is not safe for concurrent use.
type Writer struct {
	ws      io.WriteSeeker
	dataLen uint32
	closed  bool
}

// NewWriter writes the WAVE header for the given sample format and returns
// a writer for the sample data. Only 1- or 2-channel integer PCM at 8 or
// 16 bits per sample is representable.
func NewWriter(ws io.WriteSeeker, channels, sampleRate, bits int) (*Writer, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("wav: %d channels not representable", channels)
	}
	if bits != 8 && bits != 16 {
		return nil, fmt.Errorf("wav: %d bits per sample not representable", bits)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav: invalid sample rate %d", sampleRate)
	}

	blockAlign := channels * bits / 8
	h := make([]byte, headerLen)
	copy(h[0:4], riffID[:])
	// h[4:8] is the RIFF size, patched on Close.
	copy(h[8:12], waveID[:])
	copy(h[12:16], fmtID[:])
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], formatPCM)
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], uint16(bits))
	copy(h[36:40], dataID[:])
	// h[40:44] is the data size, patched on Close.

	if _, err := ws.Write(h); err != nil {
		return nil, fmt.Errorf("wav: write header: %w", err)
	}
	return &Writer{ws: ws}, nil
}

// Write appends raw little-endian sample bytes to the data chunk.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	n, err := w.ws.Write(p)
	w.dataLen += uint32(n)
	if err != nil {
		return n, fmt.Errorf("wav: write samples: %w", err)
	}
	return n, nil
}

// Close pads the data chunk to an even length as RIFF requires, patches the
// RIFF and data sizes, and leaves the destination positioned at the end of
// the file. It does not close the destination. Close is idempotent.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	// The pad byte sits outside the data chunk's counted size.
	var pad uint32
	if w.dataLen%2 == 1 {
		pad = 1
		if _, err := w.ws.Write([]byte{0}); err != nil {
			return fmt.Errorf("wav: write pad byte: %w", err)
		}
	}

	var sz [4]byte
	binary.LittleEndian.PutUint32(sz[:], headerLen-8+w.dataLen+pad)
	if err := w.patch(4, sz[:]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(sz[:], w.dataLen)
	if err := w.patch(40, sz[:]); err != nil {
		return err
	}
	if _, err := w.ws.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("wav: seek to end: %w", err)
	}
	return nil
}

func (w *Writer) patch(off int64, p []byte) error {
	if _, err := w.ws.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("wav: seek to %d: %w", off, err)
	}
	if _, err := w.ws.Write(p); err != nil {
		return fmt.Errorf("wav: patch size at %d: %w", off, err)
	}
	return nil
}
