package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rongdian/mvekit/media"
)

// stubDemuxer yields a fixed packet sequence, then err (io.EOF if nil).
type stubDemuxer struct {
	streams []media.StreamInfo
	packets []*media.Packet
	next    int
	err     error
}

func (s *stubDemuxer) Streams() []media.StreamInfo { return s.streams }

func (s *stubDemuxer) ReadPacket() (*media.Packet, error) {
	if s.next < len(s.packets) {
		pkt := s.packets[s.next]
		s.next++
		return pkt, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func avStreams() []media.StreamInfo {
	return []media.StreamInfo{
		{Index: 0, Type: media.TypeVideo, Codec: media.CodecInterplayVideo},
		{Index: 1, Type: media.TypeAudio, Codec: media.CodecPCMU8},
	}
}

func TestRunRoutesPackets(t *testing.T) {
	t.Parallel()
	dmx := &stubDemuxer{
		streams: avStreams(),
		packets: []*media.Packet{
			{StreamIndex: 1, PTS: 0, Data: make([]byte, 100)},
			{StreamIndex: 0, PTS: 0, Data: make([]byte, 300)},
			{StreamIndex: 1, PTS: 100, Data: make([]byte, 100)},
			{StreamIndex: 0, PTS: 66566, Data: make([]byte, 200)},
		},
	}
	p := New(dmx, nil)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	var video, audio []*media.Packet
	for pkt := range p.Video() {
		video = append(video, pkt)
	}
	for pkt := range p.Audio() {
		audio = append(audio, pkt)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(video) != 2 || len(audio) != 2 {
		t.Fatalf("routed %d video, %d audio; want 2 and 2", len(video), len(audio))
	}
	if video[0].PTS != 0 || video[1].PTS != 66566 {
		t.Errorf("video order: %d, %d", video[0].PTS, video[1].PTS)
	}
	if audio[0].PTS != 0 || audio[1].PTS != 100 {
		t.Errorf("audio order: %d, %d", audio[0].PTS, audio[1].PTS)
	}
}

func TestSnapshotCounters(t *testing.T) {
	t.Parallel()
	dmx := &stubDemuxer{
		streams: avStreams(),
		packets: []*media.Packet{
			{StreamIndex: 0, PTS: 66566, Data: make([]byte, 300)},
			{StreamIndex: 1, PTS: 512, Data: make([]byte, 100)},
		},
	}
	p := New(dmx, nil)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	for range p.Video() {
	}
	for range p.Audio() {
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := p.Snapshot()
	if snap.VideoPackets != 1 || snap.AudioPackets != 1 {
		t.Errorf("packets = %d/%d, want 1/1", snap.VideoPackets, snap.AudioPackets)
	}
	if snap.VideoBytes != 300 || snap.AudioBytes != 100 {
		t.Errorf("bytes = %d/%d, want 300/100", snap.VideoBytes, snap.AudioBytes)
	}
	if snap.LastVideoPTS != 66566 || snap.LastAudioPTS != 512 {
		t.Errorf("last PTS = %d/%d, want 66566/512", snap.LastVideoPTS, snap.LastAudioPTS)
	}
}

func TestRunReturnsDemuxError(t *testing.T) {
	t.Parallel()
	want := errors.New("bitstream damage")
	dmx := &stubDemuxer{
		streams: avStreams(),
		packets: []*media.Packet{{StreamIndex: 0, Data: []byte{1}}},
		err:     want,
	}
	p := New(dmx, nil)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	for range p.Video() {
	}
	for range p.Audio() {
	}
	if err := <-done; !errors.Is(err, want) {
		t.Errorf("Run = %v, want %v", err, want)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	// More video than the channel buffers and no consumer: Run must block
	// on the send and unblock on cancellation.
	packets := make([]*media.Packet, media.VideoBufferSize+10)
	for i := range packets {
		packets[i] = &media.Packet{StreamIndex: 0, Data: []byte{0}}
	}
	dmx := &stubDemuxer{streams: avStreams(), packets: packets}
	p := New(dmx, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Channels must be closed so consumers do not hang.
	for range p.Video() {
	}
	for range p.Audio() {
	}
}
