package sds

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/frame"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a stream
type State int32

const (
	StateOpen State = iota
	StateBroken
	StateClosed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateBroken:
		return "broken"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StreamInfo describes an open stream
type StreamInfo struct {
	Handle    Handle               `json:"handle"`
	Name      string               `json:"name"`
	Mode      common.Mode          `json:"mode"`
	Transport common.TransportKind `json:"transport"`
	Endpoint  string               `json:"endpoint"`
	Bytes     uint64               `json:"bytes"`
	Frames    uint64               `json:"frames"`
	State     string               `json:"state"`
	Opened    time.Time            `json:"opened"`
}

// descriptor is the state of one open stream. mu serializes the operations
// on the stream, ctx is cancelled by Close to wake up a pending operation.
type descriptor struct {
	handle  Handle
	name    string
	mode    common.Mode
	binding binding
	info    transport.Info
	opened  time.Time

	frameSize int
	timeout   time.Duration
	metrics   *serviceMetrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	buf     *ringBuffer
	scratch []byte
	wseq    uint32
	rseq    frame.Sequencer
	eos     bool
	cause   error

	state  atomic.Int32
	bytes  atomic.Uint64
	frames atomic.Uint64
}

func newDescriptor(h Handle, name string, mode common.Mode, b binding, conf *common.ServiceConfig, m *serviceMetrics) *descriptor {
	ctx, cancel := context.WithCancel(context.Background())
	return &descriptor{
		handle:    h,
		name:      name,
		mode:      mode,
		binding:   b,
		info:      b.info(),
		opened:    time.Now(),
		frameSize: conf.FrameSize,
		timeout:   conf.Timeout,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		buf:       newRingBuffer(conf.BufferSize),
		scratch:   make([]byte, conf.FrameSize),
	}
}

// --------------------------------------------------------------------------
// Write path
// --------------------------------------------------------------------------

// write accepts bytes into the buffer and emits frames as it fills up. It
// returns the number of accepted bytes, which is less than len(p) only if the
// transport did not take frames in time or failed.
func (d *descriptor) write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, fmt.Errorf("%w: empty write", ErrParameter)
	}
	if d.mode != common.ModeWrite {
		return 0, fmt.Errorf("%w: stream is opened for %s", ErrParameter, d.mode)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.usable(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	accepted := 0
	for accepted < len(p) {
		accepted += d.buf.Write(p[accepted:])

		if err := d.flush(ctx, d.threshold(), false); err != nil {
			if d.ctx.Err() != nil {
				// closed concurrently, Close flushes what was accepted
				return accepted, ErrHandleClosed
			}
			if errors.Is(err, ErrTimeout) {
				d.metrics.timeouts.Inc()
				if accepted > 0 {
					return accepted, nil
				}
			}
			return accepted, err
		}
	}
	return accepted, nil
}

// threshold is the buffer level at which frames are emitted
func (d *descriptor) threshold() int {
	if d.info.Buffered {
		return d.frameSize
	}
	return 1
}

// flush emits frames while at least threshold bytes are buffered. With eos
// set the last frame carries the end of stream flag, an empty one if needed.
// Must be called with mu held.
func (d *descriptor) flush(ctx context.Context, threshold int, eos bool) error {
	for d.buf.Len() >= threshold && d.buf.Len() > 0 {
		n := d.buf.PeekInto(d.scratch[:min(d.frameSize, d.buf.Len())])
		f := &frame.Frame{Seq: d.wseq, Payload: d.scratch[:n]}
		if eos && n == d.buf.Len() {
			f.Flags |= frame.FlagEOS
		}
		if err := d.emit(ctx, f); err != nil {
			return err
		}
		d.buf.Discard(n)
		if f.EOS() {
			return nil
		}
	}

	if eos {
		return d.emit(ctx, &frame.Frame{Seq: d.wseq, Flags: frame.FlagEOS})
	}
	return nil
}

// emit sends one frame and advances the counters on success
func (d *descriptor) emit(ctx context.Context, f *frame.Frame) error {
	if err := d.binding.send(ctx, f); err != nil {
		return d.fault(err)
	}
	d.wseq++
	d.bytes.Add(uint64(len(f.Payload)))
	d.frames.Add(1)
	d.metrics.bytesOut.Add(len(f.Payload))
	d.metrics.framesOut.Inc()
	return nil
}

// --------------------------------------------------------------------------
// Read path
// --------------------------------------------------------------------------

// read returns buffered bytes or waits for the next frame. After the end of
// stream was received and all bytes were returned it returns io.EOF.
func (d *descriptor) read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, fmt.Errorf("%w: empty read buffer", ErrParameter)
	}
	if d.mode != common.ModeRead {
		return 0, fmt.Errorf("%w: stream is opened for %s", ErrParameter, d.mode)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.State() == StateClosed || d.ctx.Err() != nil {
		return 0, ErrInvalidHandle
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	for {
		if d.buf.Len() > 0 {
			n := d.buf.Read(p)
			d.binding.consumed(ctx, n)
			return n, nil
		}
		if d.eos {
			return 0, io.EOF
		}
		if d.State() == StateBroken {
			return 0, d.cause
		}

		f, err := d.binding.recv(ctx, d.buf.Free())
		if err != nil {
			err = d.fault(err)
			if errors.Is(err, ErrTimeout) {
				d.metrics.timeouts.Inc()
			}
			return 0, err
		}

		switch v := d.rseq.Check(f.Seq); v {
		case frame.Duplicate:
			d.metrics.duplicates.Inc()
			Logger.Debugf("%s: discarding duplicate frame %d", d.name, f.Seq)
			continue
		case frame.Gap:
			d.metrics.gaps.Inc()
			return 0, d.breakWith(fmt.Errorf("%w: sequence gap, expected frame %d, got %d", ErrInterface, d.rseq.Expected(), f.Seq))
		}

		if d.buf.Write(f.Payload) < len(f.Payload) {
			return 0, d.breakWith(fmt.Errorf("%w: peer sent more than the granted credit", ErrInterface))
		}
		d.bytes.Add(uint64(len(f.Payload)))
		d.frames.Add(1)
		d.metrics.bytesIn.Add(len(f.Payload))
		d.metrics.framesIn.Inc()
		if f.EOS() {
			d.eos = true
		}
	}
}

// --------------------------------------------------------------------------
// Close
// --------------------------------------------------------------------------

// shutdown ends the stream: write streams flush the remaining bytes followed
// by the end of stream marker, the remote side is notified and the binding
// released. It returns ErrInvalidHandle if the stream is already closed.
func (d *descriptor) shutdown() error {
	d.cancel()

	d.mu.Lock()
	defer d.mu.Unlock()

	prev := State(d.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return ErrInvalidHandle
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var err error
	if d.mode == common.ModeWrite && prev == StateOpen {
		err = d.flush(ctx, 1, true)
	}

	if cerr := d.binding.close(ctx, prev == StateBroken || err != nil); cerr != nil && err == nil {
		err = classify(cerr)
	}
	if rerr := d.binding.release(); rerr != nil && err == nil {
		err = classify(rerr)
	}
	d.buf.Reset()
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// State returns the current state of the stream
func (d *descriptor) State() State {
	return State(d.state.Load())
}

func (d *descriptor) usable() error {
	if d.ctx.Err() != nil {
		return ErrInvalidHandle
	}
	switch d.State() {
	case StateClosed:
		return ErrInvalidHandle
	case StateBroken:
		return d.cause
	default:
		return nil
	}
}

// fault classifies a transport error. Every error except a timeout or a
// concurrent Close breaks the stream.
func (d *descriptor) fault(err error) error {
	err = classify(err)
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrHandleClosed) {
		return err
	}
	return d.breakWith(err)
}

// breakWith marks the stream as broken, operations return cause until Close
func (d *descriptor) breakWith(cause error) error {
	if d.state.CompareAndSwap(int32(StateOpen), int32(StateBroken)) {
		d.cause = cause
		Logger.Warningf("stream %s (%s) broken: %v", d.name, d.mode, cause)
	}
	if d.cause != nil {
		return d.cause
	}
	return cause
}

func (d *descriptor) stat() StreamInfo {
	return StreamInfo{
		Handle:    d.handle,
		Name:      d.name,
		Mode:      d.mode,
		Transport: d.info.Kind,
		Endpoint:  d.info.Endpoint,
		Bytes:     d.bytes.Load(),
		Frames:    d.frames.Load(),
		State:     d.State().String(),
		Opened:    d.opened,
	}
}
