// Package stream tracks the lifecycle of the streams a server is playing
// out, providing create/remove/list operations used by the serving layer.
package stream

import (
	"log/slog"
	"sync"
	"time"
)

// Stream represents one file being served under a stream name.
type Stream struct {
	Name      string
	Source    string
	StartedAt time.Time
	done      chan struct{}
}

// Done is closed when the stream is removed from its manager. Playback
// loops select on it to stop replaying a stream that no longer exists.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Manager manages the lifecycle of active streams.
type Manager struct {
	log     *slog.Logger
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewManager creates a new stream manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "stream-manager"),
		streams: make(map[string]*Stream),
	}
}

// Create registers a new stream playing the given source. Returns the stream
// and true if created, or nil and false if the name is already taken.
func (m *Manager) Create(name, source string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[name]; ok {
		m.log.Warn("stream already exists, rejecting duplicate", "name", name)
		return nil, false
	}

	s := &Stream{
		Name:      name,
		Source:    source,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}

	m.streams[name] = s
	m.log.Info("stream created", "name", name, "source", source)
	return s, true
}

// Remove removes a stream from the manager and closes its Done channel.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	s, ok := m.streams[name]
	if ok {
		delete(m.streams, name)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("stream removed", "name", name)
	}
}

// List returns all active streams.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()

	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	return streams
}
