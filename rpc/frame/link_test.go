package frame

import (
	"context"
	"errors"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"net"
	"sync"
	"testing"
	"time"
)

// pipeTransport is a minimal transport over one end of a net.Pipe
type pipeTransport struct {
	conn     net.Conn
	reliable bool
}

func (p *pipeTransport) Connect(ctx context.Context) error { return nil }

func (p *pipeTransport) Send(ctx context.Context, b []byte) (int, error) {
	if dl, ok := ctx.Deadline(); ok {
		p.conn.SetWriteDeadline(dl)
	}
	return p.conn.Write(b)
}

func (p *pipeTransport) Receive(ctx context.Context, b []byte) (int, error) {
	stop := context.AfterFunc(ctx, func() { p.conn.SetReadDeadline(time.Now()) })
	defer stop()
	return p.conn.Read(b)
}

func (p *pipeTransport) Disconnect() error { return p.conn.Close() }

func (p *pipeTransport) Info() transport.Info {
	return transport.Info{Kind: common.TransportMem, Endpoint: "pipe", Reliable: p.reliable, Multiplexed: true}
}

func newPipe(reliable bool) (*pipeTransport, *pipeTransport) {
	a, b := net.Pipe()
	return &pipeTransport{conn: a, reliable: reliable}, &pipeTransport{conn: b, reliable: reliable}
}

// collector gathers frames delivered by a link
type collector struct {
	mu     sync.Mutex
	frames []*Frame
	ch     chan struct{}
}

func newCollector() *collector {
	return &collector{ch: make(chan struct{}, 1024)}
}

func (c *collector) handle(f *Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []*Frame {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("Timeout waiting for frame %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Frame(nil), c.frames...)
}

func TestLinkSendReceive(t *testing.T) {
	a, b := newPipe(true)
	la := NewLink(a, LinkConfig{})
	lb := NewLink(b, LinkConfig{})
	defer la.Close()
	defer lb.Close()

	got := newCollector()
	la.Start(func(f *Frame) {})
	lb.Start(got.handle)

	ctx := context.Background()
	for i := uint32(0); i < 5; i++ {
		if err := la.Send(ctx, &Frame{StreamID: 3, Seq: i, Payload: []byte{byte(i)}}); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	frames := got.wait(t, 5)
	for i, f := range frames {
		if f.Seq != uint32(i) || f.StreamID != 3 || f.Payload[0] != byte(i) {
			t.Errorf("Unexpected frame %d: %s", i, f)
		}
	}

	if s := la.Stats(); s.FramesOut != 5 {
		t.Errorf("Expected 5 frames out, got %d", s.FramesOut)
	}
}

func TestLinkConcurrentSendersDoNotInterleave(t *testing.T) {
	a, b := newPipe(true)
	la := NewLink(a, LinkConfig{})
	lb := NewLink(b, LinkConfig{})
	defer la.Close()
	defer lb.Close()

	got := newCollector()
	la.Start(func(f *Frame) {})
	lb.Start(got.handle)

	const senders = 8
	const perSender = 20

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			payload := make([]byte, 1000)
			for i := uint32(0); i < perSender; i++ {
				if err := la.Send(context.Background(), &Frame{StreamID: id, Seq: i, Payload: payload}); err != nil {
					t.Errorf("Sender %d: %v", id, err)
					return
				}
			}
		}(uint32(s + 1))
	}
	wg.Wait()

	frames := got.wait(t, senders*perSender)
	seqs := make(map[uint32]*Sequencer)
	for _, f := range frames {
		if seqs[f.StreamID] == nil {
			seqs[f.StreamID] = &Sequencer{}
		}
		if v := seqs[f.StreamID].Check(f.Seq); v != Accept {
			t.Errorf("Stream %d seq %d: %s", f.StreamID, f.Seq, v)
		}
	}
	if lb.Stats().Corrupt != 0 {
		t.Errorf("Receiver saw corrupt frames")
	}
}

func TestLinkCorruptionOnReliableTransportFails(t *testing.T) {
	a, b := newPipe(true)
	lb := NewLink(b, LinkConfig{})
	lb.Start(func(f *Frame) {})
	defer a.Disconnect()

	go a.conn.Write([]byte("garbage!"))

	select {
	case <-lb.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Link did not fail on corrupt input")
	}
	if err := lb.Err(); !errors.Is(err, ErrLinkDown) || !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrLinkDown wrapping ErrCorrupt, got %v", err)
	}
}

func TestLinkCorruptionOnLossyTransportResyncs(t *testing.T) {
	a, b := newPipe(false)
	lb := NewLink(b, LinkConfig{})
	got := newCollector()
	lb.Start(got.handle)
	defer lb.Close()
	defer a.Disconnect()

	good, _ := (&Frame{StreamID: 1, Payload: []byte("ok")}).Encode()
	go func() {
		a.conn.Write([]byte("noise"))
		a.conn.Write(good)
	}()

	frames := got.wait(t, 1)
	if string(frames[0].Payload) != "ok" {
		t.Errorf("Unexpected payload %q", frames[0].Payload)
	}
	if lb.Stats().Corrupt == 0 {
		t.Errorf("Expected corrupt counter to increase")
	}
}

func TestLinkPeerDisconnect(t *testing.T) {
	a, b := newPipe(true)
	lb := NewLink(b, LinkConfig{})
	lb.Start(func(f *Frame) {})

	a.Disconnect()

	select {
	case <-lb.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Link did not notice the peer going away")
	}

	err := lb.Send(context.Background(), &Frame{StreamID: 1})
	if !errors.Is(err, ErrLinkDown) {
		t.Errorf("Expected ErrLinkDown, got %v", err)
	}
}

func TestLinkSendTimeoutKeepsLinkUp(t *testing.T) {
	// nobody reads from b, so the pipe write blocks until the write timeout
	a, b := newPipe(true)
	la := NewLink(a, LinkConfig{WriteTimeout: 50 * time.Millisecond})
	la.Start(func(f *Frame) {})
	defer la.Close()
	defer b.Disconnect()

	err := la.Send(context.Background(), &Frame{StreamID: 1, Payload: []byte("x")})
	if !transport.IsTimeout(err) {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if la.Err() != nil {
		t.Errorf("Link should still be up, got %v", la.Err())
	}
}

func TestLinkSendHonoursContextWhileWaiting(t *testing.T) {
	a, b := newPipe(true)
	la := NewLink(a, LinkConfig{WriteTimeout: time.Second})
	la.Start(func(f *Frame) {})
	defer la.Close()
	defer b.Disconnect()

	// occupy the send slot with a frame nobody reads
	go la.Send(context.Background(), &Frame{StreamID: 1})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := la.Send(ctx, &Frame{StreamID: 2})
	if !transport.IsTimeout(err) {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Send waited too long: %s", time.Since(start))
	}
}

func TestLinkCloseBeforeStart(t *testing.T) {
	a, b := newPipe(true)
	defer b.Disconnect()

	l := NewLink(a, LinkConfig{})
	done := make(chan struct{})
	go func() {
		l.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a link that was never started")
	}
	if !errors.Is(l.Err(), ErrLinkClosed) {
		t.Errorf("Expected ErrLinkClosed cause, got %v", l.Err())
	}
}
