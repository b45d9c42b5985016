// Package frame implements the wire format spoken between a stream service and
// an SDS I/O server, and the link that runs it over a transport.
//
// Every frame starts with a 24 byte little endian header: the magic "SD", a
// version, flags (end of stream, control), the stream id, a per stream and
// direction sequence number, the payload length and two xxhash based
// checksums, one over the payload and one over the header itself.
//
// Key Components:
//
//   - Frame: header fields plus payload, with encoding via AppendBinary.
//
//   - Decoder: stateful decoder for a byte stream. Incomplete frames are kept
//     across calls. Corrupt input is skipped byte by byte until the next valid
//     frame start, which makes the format usable on lossy serial lines.
//
//   - Sequencer: classifies received sequence numbers as accepted, duplicate
//     or gap.
//
//   - Link: serializes frame emission on a shared transport and runs one
//     receive loop that hands decoded frames to a handler. Used by both the
//     client side stream service and the server.
//
// Control frames (FlagControl) carry a common.Control message encoded by one
// of the rpc/serializer implementations. Open requests travel on stream id 0,
// everything else on the stream id assigned by the server.
package frame
