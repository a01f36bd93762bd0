// Package pipeline moves packets from a demuxer onto per-medium channels,
// bridging pull-based packet reading and channel-based consumers such as
// the distribution relay, while collecting throughput telemetry.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rongdian/mvekit/media"
)

// Demuxer is the packet source the pipeline drains. Accepting an interface
// here decouples the pipeline from the concrete demuxer type, making it
// testable with stubs.
type Demuxer interface {
	Streams() []media.StreamInfo
	ReadPacket() (*media.Packet, error)
}

// Pipeline reads packets from one demuxer and routes them onto buffered
// video and audio channels. Run drives it; the channels close when Run
// returns, so consumers can range over them.
type Pipeline struct {
	log     *slog.Logger
	dmx     Demuxer
	videoCh chan *media.Packet
	audioCh chan *media.Packet

	startTime    time.Time
	videoPackets atomic.Int64
	audioPackets atomic.Int64
	videoBytes   atomic.Int64
	audioBytes   atomic.Int64
	lastVideoPTS atomic.Int64
	lastAudioPTS atomic.Int64
}

// New creates a Pipeline over dmx. If log is nil, slog.Default() is used.
func New(dmx Demuxer, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:       log.With("component", "pipeline"),
		dmx:       dmx,
		videoCh:   make(chan *media.Packet, media.VideoBufferSize),
		audioCh:   make(chan *media.Packet, media.AudioBufferSize),
		startTime: time.Now(),
	}
}

// Video returns the channel carrying video packets in demux order.
func (p *Pipeline) Video() <-chan *media.Packet {
	return p.videoCh
}

// Audio returns the channel carrying audio packets in demux order.
func (p *Pipeline) Audio() <-chan *media.Packet {
	return p.audioCh
}

// Run drains the demuxer until end of stream, a demux error, or context
// cancellation, then closes both output channels. End of stream and
// cancellation return nil; demux failures return the demuxer's error.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.videoCh)
	defer close(p.audioCh)

	types := make(map[int]media.Type)
	for _, s := range p.dmx.Streams() {
		types[s.Index] = s.Type
	}

	for {
		if ctx.Err() != nil {
			p.log.Info("pipeline cancelled")
			return nil
		}
		pkt, err := p.dmx.ReadPacket()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				p.log.Info("stream ended",
					"video_packets", p.videoPackets.Load(),
					"audio_packets", p.audioPackets.Load())
				return nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				p.log.Info("pipeline cancelled")
				return nil
			default:
				p.log.Error("demux failed", "error", err)
				return err
			}
		}

		switch types[pkt.StreamIndex] {
		case media.TypeVideo:
			if !p.send(ctx, p.videoCh, pkt) {
				return nil
			}
			p.videoPackets.Add(1)
			p.videoBytes.Add(int64(len(pkt.Data)))
			p.lastVideoPTS.Store(pkt.PTS)
		case media.TypeAudio:
			if !p.send(ctx, p.audioCh, pkt) {
				return nil
			}
			p.audioPackets.Add(1)
			p.audioBytes.Add(int64(len(pkt.Data)))
			p.lastAudioPTS.Store(pkt.PTS)
		default:
			p.log.Warn("packet for unknown stream dropped", "stream", pkt.StreamIndex)
		}
	}
}

func (p *Pipeline) send(ctx context.Context, ch chan *media.Packet, pkt *media.Packet) bool {
	select {
	case ch <- pkt:
		return true
	case <-ctx.Done():
		p.log.Info("pipeline cancelled")
		return false
	}
}

// Snapshot is a point-in-time view of pipeline throughput, suitable for
// stats endpoints and logs.
type Snapshot struct {
	UptimeMs     int64 `json:"uptime_ms"`
	VideoPackets int64 `json:"video_packets"`
	AudioPackets int64 `json:"audio_packets"`
	VideoBytes   int64 `json:"video_bytes"`
	AudioBytes   int64 `json:"audio_bytes"`
	LastVideoPTS int64 `json:"last_video_pts"`
	LastAudioPTS int64 `json:"last_audio_pts"`
}

// Snapshot returns current counters. Safe to call while Run is active.
func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		UptimeMs:     time.Since(p.startTime).Milliseconds(),
		VideoPackets: p.videoPackets.Load(),
		AudioPackets: p.audioPackets.Load(),
		VideoBytes:   p.videoBytes.Load(),
		AudioBytes:   p.audioBytes.Load(),
		LastVideoPTS: p.lastVideoPTS.Load(),
		LastAudioPTS: p.lastAudioPTS.Load(),
	}
}
