package socket

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"net"
	"time"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the network specific part of the socket transport
type IClientConnector interface {
	// Dial establishes a single connection to endpoint
	Dial(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the network (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies network specific settings to an established connection
	UpgradeConnection(conn net.Conn, conf common.ClientSocketConf) error
}

// ConnectorFor returns the connector of a network name
func ConnectorFor(network string) (IClientConnector, error) {
	switch network {
	case "tcp", "":
		return &tcpConnector{}, nil
	case "unix":
		return &unixConnector{}, nil
	default:
		return nil, fmt.Errorf("unsupported socket network %q (expected tcp or unix)", network)
	}
}

// --------------------------------------------------------------------------
// TCP
// --------------------------------------------------------------------------

// tcpConnector implements IClientConnector for TCP sockets
type tcpConnector struct{}

func (c *tcpConnector) GetName() string {
	return "tcp"
}

func (c *tcpConnector) Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", endpoint)
}

// UpgradeConnection applies the TCPConf and SocketConf settings
func (c *tcpConnector) UpgradeConnection(conn net.Conn, conf common.ClientSocketConf) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}
	return UpgradeTCP(tcpConn, conf.SocketConf, conf.TCPConf)
}

// UpgradeTCP applies socket and TCP options to a connection. It is shared by
// the client transport and the server listener.
func UpgradeTCP(conn *net.TCPConn, sock common.SocketConf, tcp common.TCPConf) error {
	// Disable Nagle's algorithm, frames are small and latency matters
	if err := conn.SetNoDelay(tcp.TCPNoDelay); err != nil {
		return err
	}

	if sock.WriteBufferSize > 0 {
		if err := conn.SetWriteBuffer(sock.WriteBufferSize); err != nil {
			return err
		}
	}

	if sock.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(sock.ReadBufferSize); err != nil {
			return err
		}
	}

	if tcp.TCPKeepAliveSec > 0 {
		if err := conn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := conn.SetKeepAlivePeriod(time.Duration(tcp.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	}

	if tcp.TCPLingerSec >= 0 {
		if err := conn.SetLinger(tcp.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Unix
// --------------------------------------------------------------------------

// unixConnector implements IClientConnector for Unix domain sockets
type unixConnector struct{}

func (c *unixConnector) GetName() string {
	return "unix"
}

func (c *unixConnector) Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", endpoint)
}

// UpgradeConnection sets the socket buffer sizes, if configured
func (c *unixConnector) UpgradeConnection(conn net.Conn, conf common.ClientSocketConf) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	if conf.WriteBufferSize > 0 {
		if err := unixConn.SetWriteBuffer(conf.WriteBufferSize); err != nil {
			return err
		}
	}
	if conf.ReadBufferSize > 0 {
		if err := unixConn.SetReadBuffer(conf.ReadBufferSize); err != nil {
			return err
		}
	}
	return nil
}
