package distribution

import (
	"log/slog"
	"sync"

	"github.com/rongdian/mvekit/media"
)

// Viewer is the interface a viewer session must implement to receive
// packets from a Relay.
type Viewer interface {
	ID() string
	SendPacket(pkt *media.Packet)
	Stats() ViewerStats
}

// ViewerStats holds delivery metrics for one viewer.
type ViewerStats struct {
	ID      string `json:"id"`
	Sent    int64  `json:"sent"`
	Dropped int64  `json:"dropped"`
}

// Relay is the fan-out hub for a single stream. It distributes packets from
// the pipeline to all connected viewers and caches the palette carried on
// video packets, so late joiners can be handed the palette in effect at
// subscribe time instead of waiting for the next palette change.
type Relay struct {
	log      *slog.Logger
	streams  []media.StreamInfo
	mu       sync.RWMutex
	sessions map[string]Viewer

	paletteMu   sync.RWMutex
	lastPalette []byte
}

// NewRelay creates a Relay for a stream with the given stream table and no
// viewers.
func NewRelay(streams []media.StreamInfo) *Relay {
	return &Relay{
		log:      slog.With("component", "relay"),
		streams:  streams,
		sessions: make(map[string]Viewer),
	}
}

// Streams returns the stream table announced to subscribing viewers.
func (r *Relay) Streams() []media.StreamInfo {
	return r.streams
}

// AddViewer registers a viewer for packet delivery.
func (r *Relay) AddViewer(v Viewer) {
	r.mu.Lock()
	r.sessions[v.ID()] = v
	r.mu.Unlock()

	r.log.Info("viewer added", "session", v.ID(), "viewers", r.ViewerCount())
}

// RemoveViewer unregisters a viewer by ID.
func (r *Relay) RemoveViewer(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	r.log.Info("viewer removed", "session", id, "viewers", r.ViewerCount())
}

// Broadcast sends a packet to every connected viewer and refreshes the
// palette cache when the packet carries palette side data. Delivery is
// non-blocking; slow viewers drop packets rather than stall the pipeline.
func (r *Relay) Broadcast(pkt *media.Packet) {
	if pkt.Palette != nil {
		r.paletteMu.Lock()
		r.lastPalette = pkt.Palette
		r.paletteMu.Unlock()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, session := range r.sessions {
		session.SendPacket(pkt)
	}
}

// LastPalette returns the most recently broadcast palette, nil if none has
// been seen. Callers must not modify the returned slice.
func (r *Relay) LastPalette() []byte {
	r.paletteMu.RLock()
	defer r.paletteMu.RUnlock()
	return r.lastPalette
}

// ViewerCount returns the number of currently connected viewers.
func (r *Relay) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ViewerStatsAll returns delivery metrics for every connected viewer.
func (r *Relay) ViewerStatsAll() []ViewerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]ViewerStats, 0, len(r.sessions))
	for _, s := range r.sessions {
		stats = append(stats, s.Stats())
	}
	return stats
}
