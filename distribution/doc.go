// Package distribution serves demuxed packets to remote viewers over QUIC.
//
// The wire protocol ("mvestream") is deliberately small: a viewer dials
// with ALPN mvestream/1, opens one bidirectional stream, and sends a Hello
// naming the stream it wants. The server answers with an Info carrying the
// stream table and the current palette, then pushes Frame messages until
// the stream ends or the viewer disconnects. All messages are framed as
// [type varint] [length varint] [payload].
//
// Relay is the per-stream fan-out hub, Server owns the QUIC listener and
// viewer sessions, and Client is the consuming side used by tools and
// tests.
package distribution
