// Package transport defines the byte channel abstraction that streams are
// carried over, together with the error helpers shared by all implementations.
//
// Implementations live in sub packages:
//
//   - file: one file per stream under a base directory. Not multiplexed and
//     without handshake, the stream service writes raw payload bytes and
//     tails the file when reading.
//   - socket: TCP or Unix domain socket connection to an SDS I/O server,
//     dialled through a per network IClientConnector with retries.
//   - serial: a serial port (go.bug.st/serial) paced to the line rate.
//     The line is unreliable, the frame decoder resynchronizes after loss.
//   - mem: in-process pipe pair, with fault injection for tests.
//
// The session never switches on the concrete type. Everything it needs to
// know about a transport is reported by Info: whether it is reliable,
// buffered, session oriented and multiplexed.
//
// Deadlines and cancellation are passed as context.Context. Implementations
// return errors that satisfy IsTimeout when a deadline expired and
// IsDisconnect when the peer went away.
package transport
