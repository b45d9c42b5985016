package mem

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/frame"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"net"
	"sync"
	"time"
)

// Transport implements transport.ITransport over one end of an in-process pipe.
// Once disconnected it cannot be reconnected.
type Transport struct {
	name string
	conn net.Conn

	mu     sync.Mutex
	closed bool

	// fault injection, counted over data frames sent from this end (1-based)
	dataFrames int
	drop       map[int]bool
	duplicate  map[int]bool
}

// NewPipe returns two connected transports, one for each side
func NewPipe() (client *Transport, server *Transport) {
	a, b := net.Pipe()
	return newTransport("mem:client", a), newTransport("mem:server", b)
}

func newTransport(name string, conn net.Conn) *Transport {
	return &Transport{
		name:      name,
		conn:      conn,
		drop:      make(map[int]bool),
		duplicate: make(map[int]bool),
	}
}

// DropFrame silently discards the n-th data frame sent from this end
func (t *Transport) DropFrame(n int) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drop[n] = true
	return t
}

// DuplicateFrame sends the n-th data frame from this end twice
func (t *Transport) DuplicateFrame(n int) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.duplicate[n] = true
	return t
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("%w: %s", transport.ErrUnreachable, t.name)
	}
	return nil
}

func (t *Transport) Send(ctx context.Context, p []byte) (int, error) {
	if t.isClosed() {
		return 0, transport.ErrClosed
	}

	copies := 1
	if n, ok := t.countDataFrame(p); ok {
		t.mu.Lock()
		switch {
		case t.drop[n]:
			copies = 0
		case t.duplicate[n]:
			copies = 2
		}
		t.mu.Unlock()
	}

	dl, _ := ctx.Deadline()
	t.conn.SetWriteDeadline(dl)
	stop := context.AfterFunc(ctx, func() { t.conn.SetWriteDeadline(time.Now()) })
	defer stop()

	for i := 0; i < copies; i++ {
		if n, err := t.conn.Write(p); err != nil {
			return n, err
		}
	}
	return len(p), nil
}

func (t *Transport) Receive(ctx context.Context, p []byte) (int, error) {
	if t.isClosed() {
		return 0, transport.ErrClosed
	}

	dl, _ := ctx.Deadline()
	t.conn.SetReadDeadline(dl)
	stop := context.AfterFunc(ctx, func() { t.conn.SetReadDeadline(time.Now()) })
	defer stop()

	n, err := t.conn.Read(p)
	if err != nil && n == 0 && ctx.Err() != nil {
		return 0, transport.ContextError(ctx)
	}
	return n, err
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

func (t *Transport) Info() transport.Info {
	return transport.Info{
		Kind:            common.TransportMem,
		Endpoint:        t.name,
		Reliable:        true,
		Buffered:        true,
		SessionOriented: true,
		Multiplexed:     true,
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// countDataFrame reports the 1-based index of p among the data frames sent
// from this end. A link hands every frame to Send in a single call.
func (t *Transport) countDataFrame(p []byte) (int, bool) {
	if len(p) < frame.HeaderSize || p[0] != 'S' || p[1] != 'D' {
		return 0, false
	}
	if frame.Flags(p[3])&frame.FlagControl != 0 {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.dataFrames++
	return t.dataFrames, true
}
