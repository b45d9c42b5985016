package transport

import (
	"context"
	"errors"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"io"
	"net"
	"os"
	"syscall"
)

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// ITransport is a bidirectional byte channel to a stream endpoint (a file,
// a socket server or a serial line). All blocking methods honour the deadline
// and cancellation of ctx.
type ITransport interface {
	// Connect opens the underlying channel. Calling Connect after Disconnect
	// re-opens it, if the transport supports that.
	Connect(ctx context.Context) error

	// Send writes p and returns how many bytes were handed to the channel.
	// A short count is always accompanied by an error.
	Send(ctx context.Context, p []byte) (int, error)

	// Receive reads up to len(p) bytes. It returns io.EOF when the channel
	// has no more data to deliver.
	Receive(ctx context.Context, p []byte) (int, error)

	// Disconnect releases the channel. It unblocks pending Send and Receive calls.
	Disconnect() error

	// Info describes the transport and its capabilities
	Info() Info
}

// Info describes what a transport can do. The stream session decides on
// these capabilities only, it never inspects the concrete transport type.
type Info struct {
	Kind common.TransportKind

	// Endpoint is a human readable address (path, host:port, serial port)
	Endpoint string

	// Reliable transports never lose or corrupt bytes
	Reliable bool

	// Buffered transports accept data faster than the medium drains it, so
	// frames are only emitted once a full frame is buffered
	Buffered bool

	// SessionOriented transports need an open/ack handshake and a close
	// notification for every stream
	SessionOriented bool

	// Multiplexed transports carry many streams over one channel, told apart
	// by the frame stream id
	Multiplexed bool

	// BytesPerSec is the line rate of paced transports, 0 if Send is not paced
	BytesPerSec int
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrClosed is returned when the transport was disconnected
	ErrClosed = errors.New("transport closed")

	// ErrUnreachable is returned when the remote endpoint cannot be reached
	ErrUnreachable = errors.New("endpoint unreachable")

	// ErrNotFound is returned when the source of a read stream does not exist
	ErrNotFound = errors.New("stream source not found")
)

// IsTimeout reports whether err was caused by an expired deadline
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsDisconnect reports whether err means that the peer went away
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// ContextError maps a context error to the error a transport should return:
// deadlines stay recognizable via IsTimeout, cancellation means the caller
// gave up (e.g. the stream was closed).
func ContextError(ctx context.Context) error {
	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}
