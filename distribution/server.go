package distribution

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/rongdian/mvekit/certs"
	"github.com/rongdian/mvekit/media"
)

// ALPN is the TLS application protocol identifying mvestream.
const ALPN = "mvestream/1"

// Session close error codes sent to clients via CloseWithError.
const (
	errCodeUnknownStream quic.ApplicationErrorCode = 1
	errCodeProtocol      quic.ApplicationErrorCode = 2
	errCodeInternal      quic.ApplicationErrorCode = 3
)

// viewerQueueSize is the per-viewer send queue depth. Sized to hold the
// demuxer's full video and audio buffering so a briefly stalled viewer
// catches up instead of dropping.
const viewerQueueSize = media.VideoBufferSize + media.AudioBufferSize

// maxIdleTimeout closes connections whose peer has gone silent.
const maxIdleTimeout = 30 * time.Second

// ServerConfig holds the configuration for the mvestream Server.
type ServerConfig struct {
	Addr string
	Cert *certs.CertInfo
	Log  *slog.Logger
}

// Server owns the QUIC listener and the registry of streams being served.
// Each accepted connection is one viewer subscribing to one stream.
type Server struct {
	config ServerConfig
	log    *slog.Logger

	mu      sync.RWMutex
	streams map[string]*Relay

	listener atomic.Pointer[quic.Listener]
}

// NewServer creates an mvestream Server with the given configuration. It
// returns an error if required fields are missing.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Cert == nil {
		return nil, errors.New("distribution: Cert is required")
	}
	if config.Addr == "" {
		return nil, errors.New("distribution: Addr is required")
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		config:  config,
		log:     log.With("component", "server"),
		streams: make(map[string]*Relay),
	}, nil
}

// RegisterStream creates a Relay serving the named stream and returns it.
// If the name is already registered, the existing relay is returned.
func (s *Server) RegisterStream(name string, streams []media.StreamInfo) *Relay {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.streams[name]; ok {
		return r
	}
	r := NewRelay(streams)
	s.streams[name] = r
	return r
}

// UnregisterStream removes the relay for a stream name.
func (s *Server) UnregisterStream(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, name)
}

// GetRelay returns the Relay for a stream name, or nil if not registered.
func (s *Server) GetRelay(name string) *Relay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[name]
}

// StreamNames returns the registered stream names.
func (s *Server) StreamNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.streams))
	for name := range s.streams {
		names = append(names, name)
	}
	return names
}

// Addr returns the listener's address once Start is running, nil before.
// Useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	if ln := s.listener.Load(); ln != nil {
		return ln.Addr()
	}
	return nil
}

// Start listens for viewers and blocks until the context is cancelled or a
// fatal listener error occurs. Viewer sessions run under an errgroup that
// Start waits on before returning.
func (s *Server) Start(ctx context.Context) error {
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{s.config.Cert.TLSCert},
		NextProtos:   []string{ALPN},
	}
	ln, err := quic.ListenAddr(s.config.Addr, tlsConf, &quic.Config{
		MaxIdleTimeout: maxIdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("distribution: listen %s: %w", s.config.Addr, err)
	}
	s.listener.Store(ln)
	s.log.Info("mvestream server listening", "addr", ln.Addr())

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for {
		conn, err := ln.Accept(gctx)
		if err != nil {
			waitErr := g.Wait()
			if ctx.Err() != nil {
				return nil
			}
			if waitErr != nil {
				return waitErr
			}
			return err
		}
		g.Go(func() error {
			s.handleConn(gctx, conn)
			return nil
		})
	}
}

// handleConn serves one viewer connection: accept its stream, perform the
// Hello/Info exchange, then pump frames until the viewer leaves or the
// server shuts down.
func (s *Server) handleConn(ctx context.Context, conn quic.Connection) {
	log := s.log.With("remote", conn.RemoteAddr().String())

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		log.Debug("viewer opened no stream", "error", err)
		conn.CloseWithError(errCodeProtocol, "no stream")
		return
	}

	sess, relay, err := s.setupViewer(conn, stream)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownStream):
			log.Info("viewer asked for unknown stream", "error", err)
			conn.CloseWithError(errCodeUnknownStream, "unknown stream")
		case errors.Is(err, ErrUnexpectedMessage):
			log.Info("viewer broke protocol", "error", err)
			conn.CloseWithError(errCodeProtocol, "protocol error")
		default:
			log.Debug("viewer setup failed", "error", err)
			conn.CloseWithError(errCodeInternal, "setup failed")
		}
		return
	}

	relay.AddViewer(sess)
	defer relay.RemoveViewer(sess.ID())

	if err := sess.run(ctx, stream); err != nil {
		log.Debug("viewer session ended", "error", err)
	}
	conn.CloseWithError(0, "")
}

// setupViewer performs the Hello/Info exchange on a fresh viewer stream.
func (s *Server) setupViewer(conn quic.Connection, stream quic.Stream) (*viewerSession, *Relay, error) {
	br := bufio.NewReader(stream)
	msgType, payload, err := ReadMessage(br)
	if err != nil {
		return nil, nil, fmt.Errorf("read hello: %w", err)
	}
	if msgType != MsgHello {
		return nil, nil, ErrUnexpectedMessage
	}
	hello, err := ParseHello(payload)
	if err != nil {
		return nil, nil, err
	}

	relay := s.GetRelay(hello.Stream)
	if relay == nil {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownStream, hello.Stream)
	}

	info := Info{Streams: relay.Streams(), Palette: relay.LastPalette()}
	if err := WriteMessage(stream, MsgInfo, SerializeInfo(info)); err != nil {
		return nil, nil, fmt.Errorf("send info: %w", err)
	}

	id := fmt.Sprintf("%s/%d", conn.RemoteAddr(), stream.StreamID())
	sess := newViewerSession(id, s.log.With("session", id), hello.Stream)
	return sess, relay, nil
}

// viewerSession delivers one stream's packets to one viewer. SendPacket is
// called from the relay's broadcast path and must never block, so packets
// pass through a bounded queue that drops when the viewer lags.
type viewerSession struct {
	id     string
	stream string
	log    *slog.Logger
	queue  chan *media.Packet

	sent    atomic.Int64
	dropped atomic.Int64
}

func newViewerSession(id string, log *slog.Logger, stream string) *viewerSession {
	return &viewerSession{
		id:     id,
		stream: stream,
		log:    log,
		queue:  make(chan *media.Packet, viewerQueueSize),
	}
}

// ID returns the unique identifier for this session.
func (v *viewerSession) ID() string { return v.id }

// SendPacket queues a packet for delivery, dropping it when the queue is
// full.
func (v *viewerSession) SendPacket(pkt *media.Packet) {
	select {
	case v.queue <- pkt:
	default:
		v.dropped.Add(1)
	}
}

// Stats returns delivery metrics for this session.
func (v *viewerSession) Stats() ViewerStats {
	return ViewerStats{
		ID:      v.id,
		Sent:    v.sent.Load(),
		Dropped: v.dropped.Load(),
	}
}

// run drains the queue onto w as FRAME messages until the context is
// cancelled or a write fails.
func (v *viewerSession) run(ctx context.Context, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt := <-v.queue:
			if err := WriteMessage(w, MsgFrame, SerializeFrame(pkt)); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
			v.sent.Add(1)
		}
	}
}
