package sds

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/sdsio/lib/util"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/frame"
	"github.com/ValentinKolb/sdsio/rpc/serializer"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"sync/atomic"
	"time"
)

// --------------------------------------------------------------------------
// Remote link (one per session oriented transport)
// --------------------------------------------------------------------------

// remoteLink multiplexes the streams of one transport kind over a single
// frame link. A failed link is replaced by a new one on the next Open.
type remoteLink struct {
	tr         transport.ITransport
	serializer serializer.IControlSerializer
	conf       frame.LinkConfig

	mu    sync.Mutex
	cur   *linkSession
	token atomic.Uint32
}

// linkSession is the state of one connected link
type linkSession struct {
	link    *frame.Link
	streams *xsync.MapOf[uint32, *remoteStream]
	pending *xsync.MapOf[uint32, chan *common.Control]
}

func newRemoteLink(tr transport.ITransport, ser serializer.IControlSerializer, timeout time.Duration) *remoteLink {
	return &remoteLink{
		tr:         tr,
		serializer: ser,
		conf:       frame.LinkConfig{WriteTimeout: timeout, MaxPayload: frame.MaxPayload},
	}
}

// session returns the current link session, connecting if needed
func (rl *remoteLink) session(ctx context.Context) (*linkSession, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.cur != nil && rl.cur.link.Err() == nil {
		return rl.cur, nil
	}

	if err := rl.tr.Connect(ctx); err != nil {
		return nil, err
	}

	s := &linkSession{
		link:    frame.NewLink(rl.tr, rl.conf),
		streams: xsync.NewMapOf[uint32, *remoteStream](),
		pending: xsync.NewMapOf[uint32, chan *common.Control](),
	}
	s.link.Start(func(f *frame.Frame) { rl.dispatch(s, f) })
	go rl.watch(s)

	rl.cur = s
	Logger.Infof("link to %s established", rl.tr.Info().Endpoint)
	return s, nil
}

// close shuts the current link down
func (rl *remoteLink) close() error {
	rl.mu.Lock()
	s := rl.cur
	rl.cur = nil
	rl.mu.Unlock()

	if s != nil {
		s.link.Close()
	}
	return rl.tr.Disconnect()
}

// open runs the open handshake for name and returns the new stream
func (rl *remoteLink) open(ctx context.Context, name string, mode common.Mode) (*remoteStream, error) {
	s, err := rl.session(ctx)
	if err != nil {
		return nil, err
	}

	token := rl.token.Add(1)
	if token == 0 {
		token = rl.token.Add(1)
	}
	ackCh := make(chan *common.Control, 1)
	s.pending.Store(token, ackCh)
	defer s.pending.Delete(token)

	if err := rl.sendControl(ctx, s, 0, common.NewOpenRequest(token, name, mode)); err != nil {
		if transport.IsTimeout(err) {
			return nil, fmt.Errorf("%w: open request not sent: %v", ErrNoServer, err)
		}
		return nil, err
	}

	var ack *common.Control
	select {
	case ack = <-ackCh:
	case <-s.link.Done():
		return nil, fmt.Errorf("%w: %v", ErrNoServer, s.link.Err())
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: no answer from %s: %v", ErrNoServer, rl.tr.Info().Endpoint, transport.ContextError(ctx))
	}

	switch ack.Status {
	case common.StatusOK:
	case common.StatusInvalidName:
		return nil, fmt.Errorf("%w: rejected by server: %s", ErrInvalidName, ack.Reason)
	case common.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ack.Reason)
	case common.StatusBusy:
		return nil, fmt.Errorf("%w: on server: %s", ErrConflict, ack.Reason)
	default:
		return nil, fmt.Errorf("%w: open failed (%s): %s", ErrInterface, ack.Status, ack.Reason)
	}

	rs := &remoteStream{
		id:     ack.StreamID,
		mode:   mode,
		sess:   s,
		inbox:  util.NewLockFreeMPSC[frame.Frame](),
		failed: make(chan struct{}),
	}
	s.streams.Store(rs.id, rs)

	// the link may have failed before the stream was registered
	if s.link.Err() != nil {
		rs.fail(s.link.Err())
	}
	return rs, nil
}

func (rl *remoteLink) sendControl(ctx context.Context, s *linkSession, streamID uint32, msg *common.Control) error {
	payload, err := rl.serializer.Serialize(*msg)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", msg.Kind, err)
	}
	return s.link.Send(ctx, &frame.Frame{Flags: frame.FlagControl, StreamID: streamID, Payload: payload})
}

// dispatch runs on the receive loop of the link and must not block
func (rl *remoteLink) dispatch(s *linkSession, f *frame.Frame) {
	if !f.IsControl() {
		rs, ok := s.streams.Load(f.StreamID)
		if !ok {
			Logger.Debugf("dropping %s for unknown stream", f)
			return
		}
		rs.inbox.Push(f)
		return
	}

	var msg common.Control
	if err := rl.serializer.Deserialize(f.Payload, &msg); err != nil {
		Logger.Warningf("invalid control frame from %s: %v", rl.tr.Info().Endpoint, err)
		return
	}

	switch msg.Kind {
	case common.CtlAck:
		if ch, ok := s.pending.LoadAndDelete(msg.Token); ok {
			ch <- &msg
		}
	case common.CtlReset:
		if rs, ok := s.streams.Load(f.StreamID); ok {
			rs.fail(fmt.Errorf("%w: reset by server (%s): %s", ErrInterface, msg.Status, msg.Reason))
		}
	default:
		Logger.Debugf("ignoring %s control on stream %d", msg.Kind, f.StreamID)
	}
}

// watch breaks every stream of s once its link is down
func (rl *remoteLink) watch(s *linkSession) {
	<-s.link.Done()
	cause := s.link.Err()
	s.streams.Range(func(_ uint32, rs *remoteStream) bool {
		rs.fail(cause)
		return true
	})
}

// --------------------------------------------------------------------------
// Remote stream
// --------------------------------------------------------------------------

type remoteStream struct {
	id    uint32
	mode  common.Mode
	sess  *linkSession
	inbox *util.LockFreeMPSC[frame.Frame]

	failOnce sync.Once
	failed   chan struct{}
	err      error
}

// fail records the first cause. Frames pushed before the failure stay in the
// inbox, its channel is closed once they are received.
func (rs *remoteStream) fail(err error) {
	rs.failOnce.Do(func() {
		rs.err = err
		close(rs.failed)
		rs.inbox.Close()
	})
}

func (rs *remoteStream) failure() error {
	select {
	case <-rs.failed:
		return rs.err
	default:
		return nil
	}
}

// --------------------------------------------------------------------------
// Remote binding
// --------------------------------------------------------------------------

type remoteBinding struct {
	rl *remoteLink
	rs *remoteStream

	bufferSize int
	frameSize  int

	consumedTotal uint64
	granted       uint64
}

func newRemoteBinding(ctx context.Context, rl *remoteLink, name string, mode common.Mode, frameSize, bufferSize int) (*remoteBinding, error) {
	rs, err := rl.open(ctx, name, mode)
	if err != nil {
		return nil, err
	}
	b := &remoteBinding{rl: rl, rs: rs, bufferSize: bufferSize, frameSize: frameSize}

	if mode == common.ModeRead {
		b.grant(ctx, uint64(bufferSize))
	}
	return b, nil
}

func (b *remoteBinding) send(ctx context.Context, f *frame.Frame) error {
	if err := b.rs.failure(); err != nil {
		return err
	}
	f.StreamID = b.rs.id
	return b.rs.sess.link.Send(ctx, f)
}

func (b *remoteBinding) recv(ctx context.Context, max int) (*frame.Frame, error) {
	// queued frames win over an expired ctx
	select {
	case f, ok := <-b.rs.inbox.Recv():
		if ok {
			return f, nil
		}
		return nil, b.drained()
	default:
	}

	select {
	case f, ok := <-b.rs.inbox.Recv():
		if ok {
			return f, nil
		}
		return nil, b.drained()
	case <-ctx.Done():
		return nil, transport.ContextError(ctx)
	}
}

// drained is the error once the inbox is closed and empty
func (b *remoteBinding) drained() error {
	if err := b.rs.failure(); err != nil {
		return err
	}
	return ErrHandleClosed
}

// consumed grants the server new credit once a reasonable window is free
func (b *remoteBinding) consumed(ctx context.Context, n int) {
	b.consumedTotal += uint64(n)
	window := b.consumedTotal + uint64(b.bufferSize) - b.granted
	if window >= uint64(max(b.frameSize, b.bufferSize/4)) {
		b.grant(ctx, window)
	}
}

func (b *remoteBinding) grant(ctx context.Context, n uint64) {
	if b.rs.failure() != nil {
		return
	}
	if err := b.rl.sendControl(ctx, b.rs.sess, b.rs.id, common.NewCredit(uint32(n))); err != nil {
		// retried with the next read
		Logger.Debugf("credit for stream %d not sent: %v", b.rs.id, err)
		return
	}
	b.granted += n
}

func (b *remoteBinding) close(ctx context.Context, broken bool) error {
	if errors.Is(b.rs.failure(), frame.ErrLinkDown) {
		return nil
	}

	switch {
	case b.rs.mode == common.ModeRead:
		return b.rl.sendControl(ctx, b.rs.sess, b.rs.id, common.NewClose())
	case broken:
		return b.rl.sendControl(ctx, b.rs.sess, b.rs.id, common.NewReset(common.StatusProtocol, "writer broken"))
	default:
		return nil
	}
}

func (b *remoteBinding) release() error {
	b.rs.sess.streams.Delete(b.rs.id)
	b.rs.inbox.Abort()
	return nil
}

func (b *remoteBinding) info() transport.Info {
	return b.rl.tr.Info()
}
