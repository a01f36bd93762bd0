// Package format keeps the registry of input container formats and picks
// the right one for a byte stream by content probing. Formats register
// themselves at package init; Open is the one-call entry point for tools
// that do not care which container they were handed.
package format

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rongdian/mvekit/media"
)

// ScoreMax is the probe score an input returns when the stream is certainly
// its format. Probes return 0 for no match; intermediate values mean a
// plausible but uncertain match.
const ScoreMax = 100

// probeWindow is how many leading bytes Open hands each input's probe. Some
// producers prepend junk before a container's magic, so the window is
// generous.
const probeWindow = 1 << 20

// ErrUnknownFormat is returned by Open when no registered input recognizes
// the stream.
var ErrUnknownFormat = errors.New("format: unknown input format")

// Demuxer is the reading side every input format provides. Implementations
// do not close their source reader; the caller owns it.
type Demuxer interface {
	Streams() []media.StreamInfo
	ReadPacket() (*media.Packet, error)
	Close() error
}

// Input describes one container format: identification strings, a content
// probe, and a constructor for its demuxer.
type Input struct {
	// Name is the short format name used for lookups, e.g. "mve".
	Name string
	// LongName is the descriptive name shown to humans.
	LongName string
	// Extensions lists typical file extensions without the dot.
	Extensions []string
	// Probe scores how confidently buf starts this format, 0..ScoreMax.
	Probe func(buf []byte) int
	// Open constructs a demuxer over rs, which is positioned at the start
	// of the stream.
	Open func(ctx context.Context, rs io.ReadSeeker) (Demuxer, error)
}

var (
	registryMu sync.RWMutex
	registry   []*Input
)

// Register adds an input format to the registry. It panics if in is
// incomplete or its name is already taken, since registration happens at
// init time and a broken registry should not limp along.
func Register(in *Input) {
	if in == nil || in.Name == "" || in.Probe == nil || in.Open == nil {
		panic("format: Register with incomplete input")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, have := range registry {
		if have.Name == in.Name {
			panic("format: Register called twice for " + in.Name)
		}
	}
	registry = append(registry, in)
}

// Lookup returns the registered input with the given short name, or nil.
func Lookup(name string) *Input {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, in := range registry {
		if in.Name == name {
			return in
		}
	}
	return nil
}

// Inputs returns the registered inputs in registration order.
func Inputs() []*Input {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]*Input, len(registry))
	copy(out, registry)
	return out
}

// Probe runs every registered probe over buf and returns the best-scoring
// input and its score. A nil input means nothing matched.
func Probe(buf []byte) (*Input, int) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var best *Input
	bestScore := 0
	for _, in := range registry {
		if score := in.Probe(buf); score > bestScore {
			best, bestScore = in, score
		}
	}
	return best, bestScore
}

// Open probes rs and opens it with the best-matching input, returning the
// demuxer and the input that claimed the stream. rs must be positioned at
// the start; Open rewinds it there after probing.
func Open(ctx context.Context, rs io.ReadSeeker) (Demuxer, *Input, error) {
	buf := make([]byte, probeWindow)
	n, err := io.ReadFull(rs, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, nil, err
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, nil, err
	}
	in, score := Probe(buf[:n])
	if in == nil || score == 0 {
		return nil, nil, ErrUnknownFormat
	}
	d, err := in.Open(ctx, rs)
	if err != nil {
		return nil, in, err
	}
	return d, in, nil
}
