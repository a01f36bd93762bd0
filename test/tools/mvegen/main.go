package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/rongdian/mvekit/internal/mvetest"
	"github.com/rongdian/mvekit/mve"
)

// Timer values shared by every generated file: ~66.6 ms per frame, ~15 fps.
const (
	timerRate     = 8321
	timerSubdiv   = 8
	framePeriodUs = timerRate * timerSubdiv
)

type FileConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
	Frames      int    `json:"frames"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	SampleRate  int    `json:"sampleRate,omitempty"`
	Channels    int    `json:"channels,omitempty"`
	Bits        int    `json:"bits,omitempty"`
	SizeBytes   int    `json:"sizeBytes,omitempty"`
}

type Manifest struct {
	Generated string       `json:"generated"`
	Files     []FileConfig `json:"files"`
}

var files = []FileConfig{
	{
		Name: "silent", Kind: "silent",
		Description: "video only, no audio stream",
		Frames:      45, Width: 320, Height: 200,
	},
	{
		Name: "av_pcm8", Kind: "pcm",
		Description: "8 bpp video with mono 8-bit PCM",
		Frames:      60, Width: 640, Height: 480,
		SampleRate: 22050, Channels: 1, Bits: 8,
	},
	{
		Name: "av_pcm16", Kind: "pcm",
		Description: "8 bpp video with stereo 16-bit PCM",
		Frames:      60, Width: 640, Height: 480,
		SampleRate: 44100, Channels: 2, Bits: 16,
	},
	{
		Name: "dpcm", Kind: "dpcm",
		Description: "8 bpp video with stereo compressed DPCM",
		Frames:      60, Width: 640, Height: 480,
		SampleRate: 22050, Channels: 2, Bits: 16,
	},
	{
		Name: "palette_storm", Kind: "palette",
		Description: "full palette replacement before every frame",
		Frames:      30, Width: 320, Height: 200,
	},
	{
		Name: "hicolor", Kind: "hicolor",
		Description: "16 bpp video, no palettes, mono 8-bit PCM",
		Frames:      30, Width: 640, Height: 480,
		SampleRate: 22050, Channels: 1, Bits: 8,
	},
}

func main() {
	out := flag.String("out", "", "output directory (default <project root>/test/streams)")
	flag.Parse()

	rng := rand.New(rand.NewSource(42))

	dir := *out
	if dir == "" {
		dir = filepath.Join(findProjectRoot(), "test", "streams")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		fatal("create output dir: %v", err)
	}

	fmt.Println("=== MVE Sample Generator ===")
	fmt.Printf("Generating %d sample files in %s\n\n", len(files), dir)

	for i := range files {
		sc := files[i]
		outFile := filepath.Join(dir, sc.Name+".mve")
		if fileExists(outFile) {
			fmt.Printf("--- %s: already exists, skipping\n", sc.Name)
			continue
		}
		data := buildFile(sc, rng)
		if err := os.WriteFile(outFile, data, 0644); err != nil {
			fatal("write %s: %v", outFile, err)
		}
		files[i].SizeBytes = len(data)
		fmt.Printf("--- %s: %s (%d frames, %d bytes)\n", sc.Name, sc.Description, sc.Frames, len(data))
	}

	manifestFile := filepath.Join(dir, "manifest.json")
	if err := writeManifest(manifestFile); err != nil {
		fatal("write manifest: %v", err)
	}

	fmt.Printf("\n=== Done! %d files in %s ===\n", len(files), dir)
}

// buildFile assembles one complete MVE byte stream: init chunks, frame
// chunks with interleaved audio, and the shutdown/end trailer.
func buildFile(sc FileConfig, rng *rand.Rand) []byte {
	initOps := [][]byte{mvetest.OpTimer(timerRate, timerSubdiv)}
	if sc.Kind == "hicolor" {
		initOps = append(initOps, mvetest.OpInitVideo16(uint16(sc.Width/8), uint16(sc.Height/8)))
	} else {
		initOps = append(initOps, mvetest.OpInitVideo(uint16(sc.Width/8), uint16(sc.Height/8)))
	}
	initOps = append(initOps, mvetest.OpEndOfChunk())
	chunks := [][]byte{mvetest.Chunk(mve.ChunkInitVideo, initOps...)}

	hasAudio := sc.SampleRate > 0
	samplesPerFrame := int(int64(sc.SampleRate) * framePeriodUs / 1000000)
	if hasAudio {
		var version uint8
		var flags uint16
		if sc.Channels == 2 {
			flags |= 1
		}
		if sc.Bits == 16 {
			flags |= 2
		}
		if sc.Kind == "dpcm" {
			version = 1
			flags |= 4
		}
		// Real files preload the first audio frame inside the init-audio
		// chunk so playback starts with samples buffered.
		chunks = append(chunks, mvetest.Chunk(mve.ChunkInitAudio,
			mvetest.OpInitAudio(version, flags, uint16(sc.SampleRate)),
			mvetest.OpAudioFrame(0, audioPayload(sc, samplesPerFrame, rng)),
			mvetest.OpEndOfChunk(),
		))
	}

	for i := 0; i < sc.Frames; i++ {
		var ops [][]byte
		if hasAudio {
			ops = append(ops, mvetest.OpAudioFrame(uint16(i+1), audioPayload(sc, samplesPerFrame, rng)))
		}
		if sc.Kind == "palette" {
			rgb := make([]byte, 3*256)
			for j := range rgb {
				rgb[j] = byte(rng.Intn(64))
			}
			ops = append(ops, mvetest.OpPalette(0, 256, rgb))
		}
		mapData := make([]byte, sc.Width/8*sc.Height/8/2)
		rng.Read(mapData)
		videoData := make([]byte, 200+rng.Intn(1200))
		rng.Read(videoData)
		ops = append(ops,
			mvetest.OpDecodingMap(mapData),
			mvetest.OpVideoData(videoData),
			mvetest.Op(0x07, 0, []byte{0, 0, 0xFF, 0}), // send-buffer-to-display, skipped by the demuxer
			mvetest.OpEndOfChunk(),
		)
		chunks = append(chunks, mvetest.Chunk(mve.ChunkVideo, ops...))
	}

	chunks = append(chunks, mvetest.ShutdownChunk(), mvetest.EndChunk())
	return mvetest.File(chunks...)
}

// audioPayload sizes one frame's worth of samples. DPCM codes one byte per
// sample after the sub-header; PCM carries whole sample words.
func audioPayload(sc FileConfig, samplesPerFrame int, rng *rand.Rand) []byte {
	n := samplesPerFrame * sc.Channels * sc.Bits / 8
	if sc.Kind == "dpcm" {
		n = samplesPerFrame * sc.Channels
	}
	payload := make([]byte, n)
	rng.Read(payload)
	return payload
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		fatal("getwd: %v", err)
	}
	for {
		if fileExists(filepath.Join(dir, "go.mod")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			fatal("could not find project root (no go.mod found)")
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeManifest(path string) error {
	m := Manifest{
		Generated: time.Now().UTC().Format(time.RFC3339),
		Files:     files,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	fmt.Printf("Manifest written to %s\n", path)
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
