package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

// memFile is an in-memory io.WriteSeeker for header patch tests.
type memFile struct {
	buf []byte
	pos int64
}

func (f *memFile) Write(p []byte) (int, error) {
	need := f.pos + int64(len(p))
	if need > int64(len(f.buf)) {
		grown := make([]byte, need)
		copy(grown, f.buf)
		f.buf = grown
	}
	copy(f.buf[f.pos:], p)
	f.pos = need
	return len(p), nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.pos = offset
	case io.SeekCurrent:
		f.pos += offset
	case io.SeekEnd:
		f.pos = int64(len(f.buf)) + offset
	}
	return f.pos, nil
}

func TestWriter(t *testing.T) {
	t.Parallel()
	f := &memFile{}
	w, err := NewWriter(f, 1, 22050, 16)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	if _, err := w.Write(pcm[:4]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write(pcm[4:]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out := f.buf
	if len(out) != 44+6 {
		t.Fatalf("file length = %d, want 50", len(out))
	}
	if !bytes.Equal(out[0:4], []byte("RIFF")) || !bytes.Equal(out[8:12], []byte("WAVE")) {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); got != 36+6 {
		t.Errorf("riff size = %d, want 42", got)
	}
	if got := binary.LittleEndian.Uint16(out[20:22]); got != 1 {
		t.Errorf("format tag = %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(out[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 22050 {
		t.Errorf("sample rate = %d, want 22050", got)
	}
	if got := binary.LittleEndian.Uint32(out[28:32]); got != 44100 {
		t.Errorf("byte rate = %d, want 44100", got)
	}
	if got := binary.LittleEndian.Uint16(out[32:34]); got != 2 {
		t.Errorf("block align = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint16(out[34:36]); got != 16 {
		t.Errorf("bits = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 6 {
		t.Errorf("data size = %d, want 6", got)
	}
	if !bytes.Equal(out[44:], pcm) {
		t.Error("data chunk does not round-trip the samples")
	}

	if _, err := w.Write([]byte{9}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Close: %v, want ErrClosed", err)
	}
}

func TestWriterOddDataPadded(t *testing.T) {
	t.Parallel()
	f := &memFile{}
	w, err := NewWriter(f, 1, 11025, 8)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := w.Write([]byte{0x80, 0x81, 0x82}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out := f.buf
	// Three sample bytes plus one pad byte.
	if len(out) != 44+4 {
		t.Fatalf("file length = %d, want 48", len(out))
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 3 {
		t.Errorf("data size = %d, want 3 (pad not counted)", got)
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); got != 36+4 {
		t.Errorf("riff size = %d, want 40 (pad counted)", got)
	}
	if out[47] != 0 {
		t.Errorf("pad byte = %#02x, want 0", out[47])
	}
}

func TestWriterRejectsBadFormats(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name                       string
		channels, sampleRate, bits int
	}{
		{"zero channels", 0, 22050, 16},
		{"too many channels", 3, 22050, 16},
		{"odd bit depth", 1, 22050, 12},
		{"zero sample rate", 1, 0, 16},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewWriter(&memFile{}, tc.channels, tc.sampleRate, tc.bits); err == nil {
				t.Error("NewWriter accepted an unrepresentable format")
			}
		})
	}
}
