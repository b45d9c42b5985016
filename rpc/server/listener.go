package server

import (
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/transport/socket"
	"github.com/google/uuid"
	tec "github.com/jbenet/go-temp-err-catcher"
	"net"
	"os"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies the socket options of the config to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// ServerConnectorFor returns the connector of a network ("tcp" or "unix")
func ServerConnectorFor(network string) (IServerConnector, error) {
	switch network {
	case "tcp", "":
		return &tcpServerConnector{}, nil
	case "unix":
		return &unixServerConnector{}, nil
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
}

// --------------------------------------------------------------------------
// TCP
// --------------------------------------------------------------------------

type tcpServerConnector struct{}

func (c *tcpServerConnector) GetName() string {
	return "tcp"
}

func (c *tcpServerConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %v", err)
	}
	return listener, nil
}

func (c *tcpServerConnector) UpgradeConnection(conn net.Conn, config common.ServerConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}
	return socket.UpgradeTCP(tcpConn, config.SocketConf, config.TCPConf)
}

// --------------------------------------------------------------------------
// Unix
// --------------------------------------------------------------------------

type unixServerConnector struct{}

func (c *unixServerConnector) GetName() string {
	return "unix"
}

func (c *unixServerConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	socketPath := config.Endpoint

	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %v", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix socket: %v", err)
	}
	return listener, nil
}

func (c *unixServerConnector) UpgradeConnection(conn net.Conn, config common.ServerConfig) error {
	return nil
}

// --------------------------------------------------------------------------
// Accept loop
// --------------------------------------------------------------------------

// acceptLoop serves every accepted connection in its own session. Temporary
// accept errors are retried with backoff.
func (s *Server) acceptLoop(listener net.Listener, connector IServerConnector) {
	defer s.wg.Done()

	var catcher tec.TempErrCatcher
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if catcher.IsTemporary(err) {
				Logger.Warningf("temporary accept error: %v", err)
				continue
			}
			Logger.Errorf("accept failed, stopping listener: %v", err)
			return
		}
		catcher.Reset()

		if err := connector.UpgradeConnection(conn, s.conf); err != nil {
			Logger.Errorf("failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}

		id := uuid.NewString()
		Logger.Infof("[%s] accepted %s connection from %s", id, connector.GetName(), conn.RemoteAddr())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(id, socket.FromConn(conn))
		}()
	}
}
