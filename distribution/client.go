package distribution

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/rongdian/mvekit/media"
)

// Client is the consuming side of mvestream: dial a server, subscribe to
// one stream, and read its frames. It is not safe for concurrent use.
type Client struct {
	conn quic.Connection
	str  quic.Stream
	br   *bufio.Reader // persistent buffered reader for the data stream
}

// Dial connects to an mvestream server. A nil tlsConf skips certificate
// verification, which suits the self-signed certificates development
// servers generate; production callers pass a config trusting their CA.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (*Client, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	} else {
		tlsConf = tlsConf.Clone()
	}
	tlsConf.NextProtos = []string{ALPN}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  maxIdleTimeout,
		KeepAlivePeriod: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("distribution: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Subscribe names the stream to receive and returns its Info. It must be
// called once, before ReadFrame.
func (c *Client) Subscribe(ctx context.Context, name string) (Info, error) {
	if c.str != nil {
		return Info{}, errors.New("distribution: already subscribed")
	}
	str, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("distribution: open stream: %w", err)
	}
	c.str = str
	c.br = bufio.NewReader(str)

	if err := WriteMessage(str, MsgHello, SerializeHello(Hello{Stream: name})); err != nil {
		return Info{}, fmt.Errorf("distribution: send hello: %w", err)
	}

	msgType, payload, err := ReadMessage(c.br)
	if err != nil {
		return Info{}, mapSessionErr(err)
	}
	if msgType != MsgInfo {
		return Info{}, ErrUnexpectedMessage
	}
	return ParseInfo(payload)
}

// ReadFrame returns the next packet pushed by the server. A cleanly closed
// stream returns io.EOF.
func (c *Client) ReadFrame() (*media.Packet, error) {
	if c.br == nil {
		return nil, errors.New("distribution: not subscribed")
	}
	msgType, payload, err := ReadMessage(c.br)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	if msgType != MsgFrame {
		return nil, ErrUnexpectedMessage
	}
	return ParseFrame(payload)
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.CloseWithError(0, "")
}

// mapSessionErr turns the server's close codes back into sentinel errors.
func mapSessionErr(err error) error {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.ErrorCode {
		case errCodeUnknownStream:
			return fmt.Errorf("%w (server: %s)", ErrUnknownStream, appErr.ErrorMessage)
		case errCodeProtocol:
			return fmt.Errorf("%w (server: %s)", ErrUnexpectedMessage, appErr.ErrorMessage)
		}
	}
	return err
}
