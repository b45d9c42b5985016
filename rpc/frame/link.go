package frame

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("frame")

var (
	// ErrLinkDown is returned by Send once the link has failed or was closed
	ErrLinkDown = errors.New("link down")
	// ErrLinkClosed is the cause recorded when Close is called
	ErrLinkClosed = errors.New("link closed")
)

const (
	defaultWriteTimeout   = 3 * time.Second
	defaultReadBufferSize = 16 * 1024
)

// Handler is called by the receive loop for every decoded frame. It runs on
// the receive goroutine and must not block.
type Handler func(f *Frame)

// LinkConfig configures a Link
type LinkConfig struct {
	// WriteTimeout bounds the emission of a single frame once it has started.
	// A frame that cannot be written completely within this time breaks the link.
	// On paced transports it is raised to what the line rate needs for the frame.
	WriteTimeout time.Duration
	// MaxPayload is the largest payload accepted from the peer
	MaxPayload int
	// ReadBufferSize is the size of a single transport Receive
	ReadBufferSize int
}

// LinkStats are cumulative counters of a link
type LinkStats struct {
	FramesIn  uint64
	FramesOut uint64
	BytesIn   uint64
	BytesOut  uint64
	Corrupt   uint64
}

// Link runs the frame protocol over a transport. Frame emission is serialized,
// so frames of different streams never interleave on the wire. A single
// receive loop decodes incoming frames and hands them to the handler.
type Link struct {
	tr   transport.ITransport
	info transport.Info
	conf LinkConfig

	// sendSem is a one slot semaphore, unlike a mutex waiting on it can be cancelled
	sendSem chan struct{}
	scratch []byte

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool

	failOnce sync.Once
	err      error

	framesIn, framesOut atomic.Uint64
	bytesIn, bytesOut   atomic.Uint64
	corrupt             atomic.Uint64
}

// NewLink creates a link over a connected transport. Start must be called to
// begin receiving.
func NewLink(tr transport.ITransport, conf LinkConfig) *Link {
	if conf.WriteTimeout <= 0 {
		conf.WriteTimeout = defaultWriteTimeout
	}
	if conf.ReadBufferSize <= 0 {
		conf.ReadBufferSize = defaultReadBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		tr:      tr,
		info:    tr.Info(),
		conf:    conf,
		sendSem: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the receive loop. It has no effect on a closed link.
func (l *Link) Start(h Handler) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.receive(h)
}

// Send emits a frame. Waiting for the link honours ctx; once the first byte is
// written the frame is completed regardless of ctx, bounded by WriteTimeout.
// It returns an error satisfying transport.IsTimeout if the frame was not sent
// in time, and ErrLinkDown if the link is gone.
func (l *Link) Send(ctx context.Context, f *Frame) error {
	select {
	case l.sendSem <- struct{}{}:
	case <-ctx.Done():
		return transport.ContextError(ctx)
	case <-l.ctx.Done():
		return l.Err()
	}
	defer func() { <-l.sendSem }()

	if l.ctx.Err() != nil {
		return l.Err()
	}
	if ctx.Err() != nil {
		return transport.ContextError(ctx)
	}

	var err error
	if l.scratch, err = f.AppendBinary(l.scratch[:0]); err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(l.ctx, l.writeTimeout(len(l.scratch)))
	defer cancel()

	n, err := l.tr.Send(wctx, l.scratch)
	l.bytesOut.Add(uint64(n))
	if err != nil {
		if n == 0 && transport.IsTimeout(err) {
			// nothing left the host, the link is still in sync
			return err
		}
		l.fail(fmt.Errorf("send %s: %w", f, err))
		return l.Err()
	}

	l.framesOut.Add(1)
	Logger.Debugf("sent %s", f)
	return nil
}

// Close shuts the link down and waits for the receive loop to exit
func (l *Link) Close() error {
	l.fail(ErrLinkClosed)
	if l.started.CompareAndSwap(false, true) {
		close(l.done)
		return nil
	}
	<-l.done
	return nil
}

// Done is closed when the link is down
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err returns nil while the link is up, afterwards an error wrapping
// ErrLinkDown and the cause
func (l *Link) Err() error {
	if l.ctx.Err() == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrLinkDown, l.err)
}

// Info returns the info of the underlying transport
func (l *Link) Info() transport.Info {
	return l.info
}

// Stats returns a snapshot of the link counters
func (l *Link) Stats() LinkStats {
	return LinkStats{
		FramesIn:  l.framesIn.Load(),
		FramesOut: l.framesOut.Load(),
		BytesIn:   l.bytesIn.Load(),
		BytesOut:  l.bytesOut.Load(),
		Corrupt:   l.corrupt.Load(),
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// fail records the first cause, cancels pending operations and releases the transport
func (l *Link) fail(cause error) {
	l.failOnce.Do(func() {
		l.err = cause
		l.cancel()
		if err := l.tr.Disconnect(); err != nil {
			Logger.Debugf("disconnect %s: %v", l.info.Endpoint, err)
		}
		if !errors.Is(cause, ErrLinkClosed) {
			Logger.Warningf("link to %s failed: %v", l.info.Endpoint, cause)
		}
	})
}

// writeTimeout returns WriteTimeout, stretched on paced transports to the
// time the line needs for n bytes plus a quarter
func (l *Link) writeTimeout(n int) time.Duration {
	timeout := l.conf.WriteTimeout
	if rate := l.info.BytesPerSec; rate > 0 {
		need := time.Duration(n) * time.Second / time.Duration(rate)
		timeout = max(timeout, need+need/4)
	}
	return timeout
}

func (l *Link) receive(h Handler) {
	defer close(l.done)

	buf := make([]byte, l.conf.ReadBufferSize)
	dec := NewDecoder(l.conf.MaxPayload)

	for {
		n, err := l.tr.Receive(l.ctx, buf)
		if n > 0 {
			l.bytesIn.Add(uint64(n))
			dec.Feed(buf[:n])

			for {
				f, derr := dec.Next()
				if derr != nil {
					l.corrupt.Add(1)
					if l.info.Reliable {
						l.fail(fmt.Errorf("%w on reliable transport", derr))
						return
					}
					Logger.Debugf("resync on %s after %d skipped bytes", l.info.Endpoint, dec.Skipped())
					continue
				}
				if f == nil {
					break
				}
				l.framesIn.Add(1)
				h(f)
			}
		}

		if err != nil {
			if l.ctx.Err() == nil {
				l.fail(fmt.Errorf("receive: %w", err))
			}
			return
		}
	}
}
