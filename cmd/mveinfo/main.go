package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rongdian/mvekit/format"
	"github.com/rongdian/mvekit/media"
	"github.com/rongdian/mvekit/mve"
	"github.com/rongdian/mvekit/wav"
)

// probeWindow mirrors the registry's probe window so the reported score is
// the one format.Open would act on.
const probeWindow = 1 << 20

type options struct {
	packets bool
	jsonOut bool
	limit   int
	audio   string
	raw     string
	scan    bool
}

func main() {
	var opts options
	flag.BoolVar(&opts.packets, "packets", false, "print every packet")
	flag.BoolVar(&opts.jsonOut, "json", false, "emit a JSON report instead of text")
	flag.IntVar(&opts.limit, "limit", envOrInt("MVEINFO_LIMIT", 0), "stop after this many packets (0 = all)")
	flag.StringVar(&opts.audio, "audio", "", "extract the audio track to this WAV file (PCM only)")
	flag.StringVar(&opts.raw, "raw", "", "extract raw audio payload bytes to this file")
	flag.BoolVar(&opts.scan, "scan", false, "print the raw chunk/opcode structure and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: mveinfo [flags] file.mve\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	f, err := os.Open(path)
	if err != nil {
		fatal("open: %v", err)
	}
	defer f.Close()

	if opts.scan {
		if err := scanStructure(f); err != nil {
			fatal("scan %s: %v", path, err)
		}
		return
	}

	if err := inspect(f, path, opts); err != nil {
		fatal("%v", err)
	}
}

type streamReport struct {
	Index         int    `json:"index"`
	Type          string `json:"type"`
	Codec         string `json:"codec"`
	TimeBase      string `json:"time_base"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	BitsPerSample int    `json:"bits_per_coded_sample,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	BitRate       int    `json:"bit_rate,omitempty"`
	BlockAlign    int    `json:"block_align,omitempty"`
}

type packetReport struct {
	Stream  int    `json:"stream"`
	Type    string `json:"type"`
	PTS     int64  `json:"pts"`
	Pos     int64  `json:"pos"`
	Size    int    `json:"size"`
	Palette bool   `json:"palette,omitempty"`
}

type report struct {
	File            string         `json:"file"`
	Format          string         `json:"format"`
	FormatLong      string         `json:"format_long"`
	Score           int            `json:"probe_score"`
	FramePeriodUs   int64          `json:"frame_period_us,omitempty"`
	Streams         []streamReport `json:"streams"`
	VideoPackets    int64          `json:"video_packets"`
	AudioPackets    int64          `json:"audio_packets"`
	VideoBytes      int64          `json:"video_bytes"`
	AudioBytes      int64          `json:"audio_bytes"`
	PaletteChanges  int64          `json:"palette_changes"`
	VideoDurationUs int64          `json:"video_duration_us,omitempty"`
	AudioDurationUs int64          `json:"audio_duration_us,omitempty"`
	Packets         []packetReport `json:"packets,omitempty"`
}

func inspect(f *os.File, path string, opts options) error {
	in, score, err := probeInput(f)
	if err != nil {
		return err
	}

	dmx, err := in.Open(context.Background(), f)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer dmx.Close()

	rep := report{
		File:       path,
		Format:     in.Name,
		FormatLong: in.LongName,
		Score:      score,
	}
	if m, ok := dmx.(*mve.Demuxer); ok {
		rep.FramePeriodUs = m.FramePeriod().Microseconds()
	}

	streams := dmx.Streams()
	types := make(map[int]media.Type)
	var audioInfo *media.StreamInfo
	for _, s := range streams {
		rep.Streams = append(rep.Streams, newStreamReport(s))
		types[s.Index] = s.Type
		if s.Type == media.TypeAudio {
			info := s
			audioInfo = &info
		}
	}

	ex, err := newExtractor(audioInfo, opts)
	if err != nil {
		return err
	}

	var audioSamples int64
	var total int64
	for {
		pkt, err := dmx.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("read packet: %w", err)
		}
		total++

		typ := types[pkt.StreamIndex]
		switch typ {
		case media.TypeVideo:
			rep.VideoPackets++
			rep.VideoBytes += int64(len(pkt.Data))
			if pkt.Palette != nil {
				rep.PaletteChanges++
			}
			rep.VideoDurationUs = pkt.PTS + rep.FramePeriodUs
		case media.TypeAudio:
			rep.AudioPackets++
			rep.AudioBytes += int64(len(pkt.Data))
			audioSamples += sampleCount(*audioInfo, pkt.Data)
			if err := ex.write(pkt.Data); err != nil {
				return err
			}
		}

		if opts.packets {
			if opts.jsonOut {
				rep.Packets = append(rep.Packets, packetReport{
					Stream:  pkt.StreamIndex,
					Type:    typ.String(),
					PTS:     pkt.PTS,
					Pos:     pkt.Pos,
					Size:    len(pkt.Data),
					Palette: pkt.Palette != nil,
				})
			} else {
				palette := ""
				if pkt.Palette != nil {
					palette = "  +palette"
				}
				fmt.Printf("%-6s #%-4d pts=%-10d pos=%-9d size=%d%s\n",
					typ, pkt.StreamIndex, pkt.PTS, pkt.Pos, len(pkt.Data), palette)
			}
		}

		if opts.limit > 0 && total >= int64(opts.limit) {
			break
		}
	}
	if audioInfo != nil && audioInfo.SampleRate > 0 {
		rep.AudioDurationUs = audioSamples * 1000000 / int64(audioInfo.SampleRate)
	}

	if err := ex.close(); err != nil {
		return err
	}

	if opts.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	printReport(rep)
	return nil
}

// probeInput scores the file head against the registry and rewinds.
func probeInput(f *os.File) (*format.Input, int, error) {
	head := make([]byte, probeWindow)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, 0, fmt.Errorf("read head: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}
	in, score := format.Probe(head[:n])
	if in == nil {
		return nil, 0, format.ErrUnknownFormat
	}
	return in, score, nil
}

func newStreamReport(s media.StreamInfo) streamReport {
	return streamReport{
		Index:         s.Index,
		Type:          s.Type.String(),
		Codec:         s.Codec.String(),
		TimeBase:      s.TimeBase.String(),
		Width:         s.Width,
		Height:        s.Height,
		BitsPerSample: s.BitsPerCodedSample,
		SampleRate:    s.SampleRate,
		Channels:      s.Channels,
		BitRate:       s.BitRate,
		BlockAlign:    s.BlockAlign,
	}
}

// sampleCount converts one audio payload to its sample count per channel.
// DPCM payloads keep their 6-byte predictor header and code one byte per
// sample after it.
func sampleCount(s media.StreamInfo, data []byte) int64 {
	if s.Codec == media.CodecInterplayDPCM {
		return int64((len(data) - 6) / s.Channels)
	}
	return int64(len(data) / s.Channels / (s.BitsPerCodedSample / 8))
}

func printReport(rep report) {
	fmt.Printf("Input: %s (%s, probe score %d)\n", rep.File, rep.FormatLong, rep.Score)
	if rep.FramePeriodUs > 0 {
		fmt.Printf("Frame period: %dus (%.2f fps)\n", rep.FramePeriodUs, 1e6/float64(rep.FramePeriodUs))
	}
	for _, s := range rep.Streams {
		switch s.Type {
		case "video":
			fmt.Printf("  Stream #%d: video %s, %dx%d, %d bpp, tb %s\n",
				s.Index, s.Codec, s.Width, s.Height, s.BitsPerSample, s.TimeBase)
		case "audio":
			fmt.Printf("  Stream #%d: audio %s, %d Hz, %d ch, %d bit, %d b/s, tb %s\n",
				s.Index, s.Codec, s.SampleRate, s.Channels, s.BitsPerSample, s.BitRate, s.TimeBase)
		}
	}
	fmt.Printf("Packets: %d video (%d bytes), %d audio (%d bytes), %d palette changes\n",
		rep.VideoPackets, rep.VideoBytes, rep.AudioPackets, rep.AudioBytes, rep.PaletteChanges)
	if rep.VideoDurationUs > 0 || rep.AudioDurationUs > 0 {
		fmt.Printf("Duration: video %.2fs, audio %.2fs\n",
			float64(rep.VideoDurationUs)/1e6, float64(rep.AudioDurationUs)/1e6)
	}
}

// extractor routes audio payloads to the -audio and -raw outputs.
type extractor struct {
	wavFile *os.File
	wavOut  *wav.Writer
	rawOut  *os.File
}

func newExtractor(audioInfo *media.StreamInfo, opts options) (*extractor, error) {
	ex := &extractor{}
	if opts.audio == "" && opts.raw == "" {
		return ex, nil
	}
	if audioInfo == nil {
		return nil, errors.New("no audio stream to extract")
	}

	if opts.audio != "" {
		switch audioInfo.Codec {
		case media.CodecPCMU8, media.CodecPCMS16LE:
		default:
			return nil, fmt.Errorf("%s audio cannot be written as WAV without decoding; use -raw", audioInfo.Codec)
		}
		f, err := os.Create(opts.audio)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", opts.audio, err)
		}
		w, err := wav.NewWriter(f, audioInfo.Channels, audioInfo.SampleRate, audioInfo.BitsPerCodedSample)
		if err != nil {
			f.Close()
			return nil, err
		}
		ex.wavFile, ex.wavOut = f, w
	}

	if opts.raw != "" {
		f, err := os.Create(opts.raw)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", opts.raw, err)
		}
		ex.rawOut = f
	}
	return ex, nil
}

func (ex *extractor) write(data []byte) error {
	if ex.wavOut != nil {
		if _, err := ex.wavOut.Write(data); err != nil {
			return err
		}
	}
	if ex.rawOut != nil {
		if _, err := ex.rawOut.Write(data); err != nil {
			return fmt.Errorf("write raw audio: %w", err)
		}
	}
	return nil
}

func (ex *extractor) close() error {
	if ex.wavOut != nil {
		if err := ex.wavOut.Close(); err != nil {
			return err
		}
		name := ex.wavFile.Name()
		if err := ex.wavFile.Close(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "audio written to %s\n", name)
	}
	if ex.rawOut != nil {
		name := ex.rawOut.Name()
		if err := ex.rawOut.Close(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "raw audio written to %s\n", name)
	}
	return nil
}

// scanStructure walks chunk and opcode preambles without demuxing, which
// works on files the demuxer rejects.
func scanStructure(rs io.ReadSeeker) error {
	s, err := mve.NewScanner(rs)
	if err != nil {
		return err
	}
	for {
		c, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fmt.Printf("chunk @%-9d %-22s size=%d\n", c.Offset, mve.ChunkTypeName(c.Type), c.Size)
		for _, op := range c.Opcodes {
			fmt.Printf("  op  @%-9d %-22s size=%-6d v%d\n", op.Offset, mve.OpcodeName(op.Type), op.Size, op.Version)
		}
	}
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
