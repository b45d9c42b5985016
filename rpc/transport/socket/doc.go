// Package socket implements the stream socket transport used to reach an SDS
// I/O server over TCP or a Unix domain socket.
//
// Key Components:
//
//   - IClientConnector: network specific dialing and connection tuning, with
//     implementations for tcp and unix.
//
//   - Transport: a single connection. Connect retries with exponential backoff
//     (50ms doubling, +-10% jitter) and fails with transport.ErrUnreachable
//     after RetryCount attempts. Deadlines from the context are applied as
//     socket deadlines, cancellation interrupts blocked reads and writes.
//
//   - FromConn: wraps a connection accepted by a server, so both sides run the
//     same frame link code.
package socket
