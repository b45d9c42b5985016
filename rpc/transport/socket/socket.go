package socket

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"math/rand"
	"net"
	"sync"
	"time"
)

var Logger = logger.GetLogger("transport")

// initial backoff between two connection attempts
const initialBackoff = 50 * time.Millisecond

// Transport implements transport.ITransport over a stream socket
type Transport struct {
	connector IClientConnector
	conf      common.ClientSocketConf
	endpoint  string

	// accepted is set for server side connections, they cannot be re-dialled
	accepted bool

	mu   sync.Mutex
	conn net.Conn
}

// New creates a client transport for the network and endpoint in conf.
// No connection is made before Connect.
func New(conf common.ClientSocketConf) (*Transport, error) {
	connector, err := ConnectorFor(conf.Network)
	if err != nil {
		return nil, err
	}
	return NewWithConnector(connector, conf), nil
}

// NewWithConnector creates a client transport using a custom connector
func NewWithConnector(connector IClientConnector, conf common.ClientSocketConf) *Transport {
	if conf.RetryCount < 1 {
		conf.RetryCount = 1
	}
	return &Transport{
		connector: connector,
		conf:      conf,
		endpoint:  conf.Endpoint,
	}
}

// FromConn wraps an already established connection, e.g. one accepted by a server
func FromConn(conn net.Conn) *Transport {
	return &Transport{
		conf:     common.ClientSocketConf{Network: conn.LocalAddr().Network(), RetryCount: 1},
		endpoint: conn.RemoteAddr().String(),
		accepted: true,
		conn:     conn,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

// Connect dials the endpoint. Failed attempts are retried RetryCount times
// with exponential backoff, afterwards transport.ErrUnreachable is returned.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}
	if t.accepted {
		return fmt.Errorf("%w: accepted connection from %s is gone", transport.ErrUnreachable, t.endpoint)
	}

	var lastErr error
	backoff := initialBackoff

	for i := 0; i < t.conf.RetryCount; i++ {
		conn, err := t.connector.Dial(ctx, t.endpoint)
		if err == nil {
			if err = t.connector.UpgradeConnection(conn, t.conf); err != nil {
				conn.Close()
				err = fmt.Errorf("failed to upgrade connection: %w", err)
			}
		}
		if err == nil {
			t.conn = conn
			Logger.Infof("connected to %s using %s", t.endpoint, t.connector.GetName())
			return nil
		}

		lastErr = err
		Logger.Debugf("connection attempt %d/%d to %s failed: %v", i+1, t.conf.RetryCount, t.endpoint, err)

		if i == t.conf.RetryCount-1 {
			break
		}

		// Exponential backoff with a small random jitter (+-10%)
		jitter := time.Duration(float64(backoff) * (0.9 + 0.2*rand.Float64()))
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", transport.ErrUnreachable, t.endpoint, transport.ContextError(ctx))
		}
		backoff *= 2
	}

	return fmt.Errorf("%w: %s after %d attempts: %v", transport.ErrUnreachable, t.endpoint, t.conf.RetryCount, lastErr)
}

func (t *Transport) Send(ctx context.Context, p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, transport.ErrClosed
	}

	dl, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(dl); err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() { conn.SetWriteDeadline(time.Now()) })
	defer stop()

	return conn.Write(p)
}

func (t *Transport) Receive(ctx context.Context, p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, transport.ErrClosed
	}

	dl, _ := ctx.Deadline()
	if err := conn.SetReadDeadline(dl); err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	n, err := conn.Read(p)
	if err != nil && ctx.Err() != nil && n == 0 {
		return 0, transport.ContextError(ctx)
	}
	return n, err
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *Transport) Info() transport.Info {
	return transport.Info{
		Kind:            common.TransportSocket,
		Endpoint:        t.endpoint,
		Reliable:        true,
		Buffered:        true,
		SessionOriented: true,
		Multiplexed:     true,
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *Transport) current() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}
