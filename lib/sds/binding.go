package sds

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/frame"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"io"
)

// binding connects a descriptor to its transport. Every transport looks the
// same to the session: a sequence of frames in write order.
type binding interface {
	// send emits one data frame of the stream
	send(ctx context.Context, f *frame.Frame) error
	// recv returns the next data frame, its payload is at most max bytes
	// for transports that honour a read size
	recv(ctx context.Context, max int) (*frame.Frame, error)
	// consumed tells the binding that the reader took n bytes out of the buffer
	consumed(ctx context.Context, n int)
	// close notifies the remote side that the stream ends
	close(ctx context.Context, broken bool) error
	// release frees the resources of the binding, it is called exactly once
	release() error
	info() transport.Info
}

// --------------------------------------------------------------------------
// Direct binding (one transport per stream, no session protocol)
// --------------------------------------------------------------------------

// directBinding carries raw payload bytes. On the read side frames are
// synthesized with local sequence numbers.
type directBinding struct {
	tr        transport.ITransport
	frameSize int
	rseq      uint32
}

func newDirectBinding(ctx context.Context, tr transport.ITransport, frameSize int) (*directBinding, error) {
	if err := tr.Connect(ctx); err != nil {
		return nil, err
	}
	return &directBinding{tr: tr, frameSize: frameSize}, nil
}

func (b *directBinding) send(ctx context.Context, f *frame.Frame) error {
	p := f.Payload
	for len(p) > 0 {
		n, err := b.tr.Send(ctx, p)
		p = p[n:]
		if err != nil {
			if len(p) < len(f.Payload) {
				return fmt.Errorf("%w: frame cut after %d of %d bytes: %v", ErrInterface, len(f.Payload)-len(p), len(f.Payload), err)
			}
			return err
		}
	}
	return nil
}

func (b *directBinding) recv(ctx context.Context, max int) (*frame.Frame, error) {
	buf := make([]byte, min(max, b.frameSize))
	n, err := b.tr.Receive(ctx, buf)
	if n > 0 {
		f := &frame.Frame{Seq: b.rseq, Payload: buf[:n]}
		b.rseq++
		return f, nil
	}
	if errors.Is(err, io.EOF) {
		f := &frame.Frame{Seq: b.rseq, Flags: frame.FlagEOS}
		b.rseq++
		return f, nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return nil, err
}

func (b *directBinding) consumed(ctx context.Context, n int) {}

func (b *directBinding) close(ctx context.Context, broken bool) error {
	return nil
}

func (b *directBinding) release() error {
	return b.tr.Disconnect()
}

func (b *directBinding) info() transport.Info {
	return b.tr.Info()
}
