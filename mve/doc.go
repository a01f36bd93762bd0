// Package mve demultiplexes the Interplay MVE container format, the movie
// format used by Interplay games of the 1990s. An MVE file carries one
// Interplay-video stream and at most one audio stream (unsigned 8-bit PCM,
// signed 16-bit little-endian PCM, or Interplay DPCM).
//
// The container is a flat sequence of chunks, each holding a stream of
// opcodes. A displayable frame is one video chunk whose opcodes carry, in
// arbitrary order, an optional audio frame, a decoding map, and the video
// data. The demuxer scans a whole chunk before emitting anything, then
// emits the pending audio packet first and the pending video packet (the
// decoding map and video data concatenated) on the following call. Video
// timestamps are microseconds advancing by the timer opcode's period; audio
// timestamps are cumulative sample counts.
//
// Payload bytes are not buffered during the opcode scan; the demuxer records
// their file offsets and seeks back at emission time, so the source must be
// an io.ReadSeeker. The demuxer borrows the source for the duration of each
// call and does not close it. It decodes nothing: packets are sliced and
// tagged for downstream Interplay decoders.
package mve
