package common

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Transport kinds used by the routing table
// --------------------------------------------------------------------------

// TransportKind names one of the transport families a stream can be routed to
type TransportKind string

const (
	TransportFile   TransportKind = "file"
	TransportSocket TransportKind = "socket"
	TransportSerial TransportKind = "serial"
	TransportMem    TransportKind = "mem"
)

// ParseTransportKind converts a configuration string into a TransportKind
func ParseTransportKind(s string) (TransportKind, error) {
	switch TransportKind(strings.ToLower(strings.TrimSpace(s))) {
	case TransportFile:
		return TransportFile, nil
	case TransportSocket:
		return TransportSocket, nil
	case TransportSerial:
		return TransportSerial, nil
	case TransportMem:
		return TransportMem, nil
	default:
		return "", fmt.Errorf("invalid transport %q (expected one of: file, socket, serial, mem)", s)
	}
}

// --------------------------------------------------------------------------
// Routing
// --------------------------------------------------------------------------

// Route maps stream names matching Pattern (path.Match syntax) to a transport
type Route struct {
	Pattern   string
	Transport TransportKind
}

// ParseRoutes parses a comma-separated list in the format PATTERN=KIND,
// e.g. "sensor*=socket,*=file". The order is preserved, first match wins.
func ParseRoutes(s string) ([]Route, error) {
	var routes []Route
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		pair := strings.Split(part, "=")
		if len(pair) != 2 {
			return nil, fmt.Errorf("invalid route format: %s (expected PATTERN=KIND)", part)
		}

		pattern := strings.TrimSpace(pair[0])
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid route pattern %q: %w", pattern, err)
		}

		kind, err := ParseTransportKind(pair[1])
		if err != nil {
			return nil, err
		}

		routes = append(routes, Route{Pattern: pattern, Transport: kind})
	}

	if len(routes) == 0 {
		return nil, fmt.Errorf("no routes provided")
	}
	return routes, nil
}

// --------------------------------------------------------------------------
// Transport specific configuration
// --------------------------------------------------------------------------

// FileConf configures the file transport
type FileConf struct {
	// Dir is the base directory, stream names map to <Dir>/<name>.sds
	Dir string
	// Quiescence is how long a reader waits at end of file without growth
	// before it treats the end of file as the end of the stream
	Quiescence time.Duration
	// PollInterval is the fallback polling interval when file events are unavailable
	PollInterval time.Duration
}

// SocketConf holds options for socket (tcp, unix) transports
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds options only applicable to TCP connections
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ClientSocketConf configures the socket transport used by the stream service
type ClientSocketConf struct {
	// Network is either "tcp" or "unix"
	Network  string
	Endpoint string
	// RetryCount is how many connection attempts are made before giving up
	RetryCount int
	SocketConf
	TCPConf
}

// SerialConf configures a serial port
type SerialConf struct {
	Port     string
	BaudRate int
	DataBits int
	// Parity is one of N, E, O, M, S
	Parity string
	// StopBits is one of 1, 1.5, 2
	StopBits float64
}

// --------------------------------------------------------------------------
// Stream service configuration struct
// --------------------------------------------------------------------------

// ServiceConfig holds all parameters of a stream service instance
type ServiceConfig struct {
	Routes []Route

	File   FileConf
	Socket ClientSocketConf
	Serial SerialConf

	// FrameSize is the flush threshold of write buffers and the maximum payload per frame
	FrameSize int
	// BufferSize is the capacity of every per stream buffer
	BufferSize int
	// Timeout bounds every blocking operation
	Timeout time.Duration

	// Serializer selects the control payload encoding (binary, json, gob)
	Serializer string

	LogLevel string
}

const (
	DefaultFrameSize  = 4 * 1024
	DefaultBufferSize = 64 * 1024
	DefaultTimeout    = 3 * time.Second
	DefaultQuiescence = 500 * time.Millisecond
	DefaultPoll       = 50 * time.Millisecond
	DefaultRetryCount = 3
	DefaultSocketPort = 5050
	DefaultBaudRate   = 115200
)

// DefaultServiceConfig returns a configuration routing every stream to the file transport
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Routes: []Route{{Pattern: "*", Transport: TransportFile}},
		File: FileConf{
			Dir:          ".",
			Quiescence:   DefaultQuiescence,
			PollInterval: DefaultPoll,
		},
		Socket: ClientSocketConf{
			Network:    "tcp",
			Endpoint:   "localhost:" + strconv.Itoa(DefaultSocketPort),
			RetryCount: DefaultRetryCount,
			TCPConf:    TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		},
		Serial: SerialConf{
			BaudRate: DefaultBaudRate,
			DataBits: 8,
			Parity:   "N",
			StopBits: 1,
		},
		FrameSize:  DefaultFrameSize,
		BufferSize: DefaultBufferSize,
		Timeout:    DefaultTimeout,
		Serializer: "binary",
		LogLevel:   "info",
	}
}

// Validate checks the configuration for values the service cannot work with
func (c *ServiceConfig) Validate() error {
	if len(c.Routes) == 0 {
		return fmt.Errorf("no routes configured")
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", c.FrameSize)
	}
	if c.BufferSize < c.FrameSize {
		return fmt.Errorf("buffer size (%d) must not be smaller than frame size (%d)", c.BufferSize, c.FrameSize)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Kinds returns the distinct transport kinds referenced by the routes, sorted
func (c *ServiceConfig) Kinds() []TransportKind {
	seen := make(map[TransportKind]bool)
	var kinds []TransportKind
	for _, r := range c.Routes {
		if !seen[r.Transport] {
			seen[r.Transport] = true
			kinds = append(kinds, r.Transport)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// String returns a formatted string representation of the configuration
func (c *ServiceConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Stream Service")
	addField("Frame Size", fmt.Sprintf("%d bytes", c.FrameSize))
	addField("Buffer Size", fmt.Sprintf("%d bytes", c.BufferSize))
	addField("Timeout", c.Timeout.String())
	addField("Serializer", c.Serializer)
	addField("Log Level", c.LogLevel)

	addSection("Routes")
	for i, r := range c.Routes {
		addField(strconv.Itoa(i), fmt.Sprintf("%s -> %s", r.Pattern, r.Transport))
	}

	for _, kind := range c.Kinds() {
		switch kind {
		case TransportFile:
			addSection("File Transport")
			addField("Directory", c.File.Dir)
			addField("Quiescence", c.File.Quiescence.String())
		case TransportSocket:
			addSection("Socket Transport")
			addField("Network", c.Socket.Network)
			addField("Endpoint", c.Socket.Endpoint)
			addField("Retry Count", strconv.Itoa(c.Socket.RetryCount))
			addField("TCP No Delay", fmt.Sprintf("%t", c.Socket.TCPNoDelay))
		case TransportSerial:
			addSection("Serial Transport")
			addField("Port", c.Serial.Port)
			addField("Baudrate", strconv.Itoa(c.Serial.BaudRate))
			addField("Parity", c.Serial.Parity)
			addField("Stop Bits", strconv.FormatFloat(c.Serial.StopBits, 'f', -1, 64))
		}
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// SDS I/O server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of the SDS I/O server
type ServerConfig struct {
	// OutDir is where recordings are written and played back from
	OutDir string

	// Network is "tcp", "unix" or "serial"
	Network  string
	Endpoint string
	Serial   SerialConf

	SocketConf
	TCPConf

	// TimeoutSecond bounds the emission of a frame to a client, 0 selects the default
	TimeoutSecond int64

	// StatusEndpoint is the optional HTTP address serving /metrics and /streams
	StatusEndpoint string

	Serializer string
	LogLevel   string
}

// String returns a formatted string representation of the server configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("SDS I/O Server")
	addField("Network", c.Network)
	if c.Network == "serial" {
		addField("Serial Port", c.Serial.Port)
		addField("Baudrate", strconv.Itoa(c.Serial.BaudRate))
		addField("Parity", c.Serial.Parity)
		addField("Stop Bits", strconv.FormatFloat(c.Serial.StopBits, 'f', -1, 64))
	} else {
		addField("Endpoint", c.Endpoint)
	}
	addField("Output Directory", c.OutDir)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Serializer", c.Serializer)

	if c.StatusEndpoint != "" {
		addSection("Status")
		addField("Endpoint", c.StatusEndpoint)
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
