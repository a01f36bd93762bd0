package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rongdian/mvekit/certs"
	"github.com/rongdian/mvekit/distribution"
	"github.com/rongdian/mvekit/mve"
	"github.com/rongdian/mvekit/pipeline"
	"github.com/rongdian/mvekit/stream"
)

var version = "dev"

// fallbackFramePeriod paces files whose init chunk carries no timer opcode.
const fallbackFramePeriod = 66 * time.Millisecond

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	addr := flag.String("addr", envOr("MVESERVE_ADDR", ":4443"), "QUIC listen address")
	loop := flag.Bool("loop", os.Getenv("MVESERVE_LOOP") != "", "replay files from the start when they end")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: mveserve [flags] file.mve ...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		slog.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	srv, err := distribution.NewServer(distribution.ServerConfig{
		Addr: *addr,
		Cert: cert,
	})
	if err != nil {
		slog.Error("failed to create distribution server", "error", err)
		os.Exit(1)
	}

	a := &app{
		mgr:  stream.NewManager(nil),
		srv:  srv,
		loop: *loop,
	}

	slog.Info("mveserve starting",
		"version", version,
		"addr", *addr,
		"files", flag.NArg(),
		"loop", *loop,
		"cert_hash", cert.FingerprintBase64(),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(ctx)
	})

	for _, path := range flag.Args() {
		path := path
		g.Go(func() error {
			return a.serveFile(ctx, path)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// app wires the stream manager and distribution server together for the
// playback goroutines.
type app struct {
	mgr  *stream.Manager
	srv  *distribution.Server
	loop bool
}

// serveFile plays one MVE file into its relay, replaying from the start when
// looping is enabled. It returns when the file ends (looping disabled), the
// stream is removed, or the context is cancelled.
func (a *app) serveFile(ctx context.Context, path string) error {
	name := streamName(path)
	log := slog.With("stream", name)

	s, created := a.mgr.Create(name, path)
	if !created {
		return fmt.Errorf("duplicate stream name %q from %s", name, path)
	}
	defer a.mgr.Remove(name)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dmx, err := mve.NewDemuxer(ctx, f)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	relay := a.srv.RegisterStream(name, dmx.Streams())
	defer a.srv.UnregisterStream(name)

	log.Info("serving stream",
		"source", path,
		"streams", len(dmx.Streams()),
		"frame_period", dmx.FramePeriod(),
	)

	for {
		if err := a.playOnce(ctx, dmx, relay); err != nil {
			return fmt.Errorf("play %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.Done():
			return nil
		default:
		}
		if !a.loop {
			log.Info("stream finished")
			return nil
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind %s: %w", path, err)
		}
		dmx, err = mve.NewDemuxer(ctx, f)
		if err != nil {
			return fmt.Errorf("reopen %s: %w", path, err)
		}
		log.Debug("looping stream")
	}
}

// playOnce runs one pass of the file through a pipeline, forwarding both
// packet channels to the relay paced at the container's frame period.
func (a *app) playOnce(ctx context.Context, dmx *mve.Demuxer, relay *distribution.Relay) error {
	p := pipeline.New(dmx, nil)

	period := dmx.FramePeriod()
	if period <= 0 {
		period = fallbackFramePeriod
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(ctx)
	})
	g.Go(func() error {
		return forward(ctx, p, relay, period)
	})
	return g.Wait()
}

// forward drains the pipeline channels into the relay. Video packets are
// paced to the frame period; audio rides along as it arrives, which keeps
// the interleave close to the file's since chunks carry one of each.
func forward(ctx context.Context, p *pipeline.Pipeline, relay *distribution.Relay, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	video, audio := p.Video(), p.Audio()
	for video != nil || audio != nil {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-audio:
			if !ok {
				audio = nil
				continue
			}
			relay.Broadcast(pkt)
		case pkt, ok := <-video:
			if !ok {
				video = nil
				continue
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return nil
			}
			relay.Broadcast(pkt)
		}
	}
	return nil
}

// streamName derives the name viewers subscribe to from the file path:
// the base name without its extension.
func streamName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
