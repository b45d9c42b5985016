package util

import (
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"net"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by the cli
	EnvPrefix = "sdsio"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read SDSIO_<FLAG> variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Stream service flags
// --------------------------------------------------------------------------

// SetupServiceFlags adds the flags configuring a stream service to a command
func SetupServiceFlags(cmd *cobra.Command) {
	defaults := common.DefaultServiceConfig()

	key := "routes"
	cmd.PersistentFlags().String(key, "*=file", WrapString("Comma-separated routing table in the format PATTERN=TRANSPORT, the first matching pattern wins (e.g. 'imu*=serial,*=socket'). Transports: file, socket, serial"))

	key = "timeout"
	cmd.PersistentFlags().Duration(key, defaults.Timeout, WrapString("Upper bound of every blocking stream operation"))

	key = "frame-size"
	cmd.PersistentFlags().Int(key, defaults.FrameSize, WrapString("Maximum payload of a frame, write buffers are flushed at this level (in bytes)"))

	key = "buffer-size"
	cmd.PersistentFlags().Int(key, defaults.BufferSize, WrapString("Capacity of every per stream buffer (in bytes)"))

	key = "file-dir"
	cmd.PersistentFlags().String(key, defaults.File.Dir, WrapString("(file transport) Directory holding the <name>.sds files"))

	key = "file-quiescence"
	cmd.PersistentFlags().Duration(key, defaults.File.Quiescence, WrapString("(file transport) How long a reader waits at the end of a file that nobody writes before it reports the end of the stream"))

	key = "socket-network"
	cmd.PersistentFlags().String(key, defaults.Socket.Network, WrapString("(socket transport) Network of the server, tcp or unix"))

	key = "socket-endpoint"
	cmd.PersistentFlags().String(key, defaults.Socket.Endpoint, WrapString("(socket transport) Address of the SDS I/O server (host:port or socket path)"))

	key = "socket-retries"
	cmd.PersistentFlags().Int(key, defaults.Socket.RetryCount, WrapString("(socket transport) How many connection attempts are made before giving up"))

	key = "socket-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("(socket transport) Whether to enable TCP_NODELAY"))

	key = "socket-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("(socket transport) The keepalive interval (in seconds)"))

	key = "serial-port"
	cmd.PersistentFlags().String(key, "", WrapString("(serial transport) Serial port of the server (e.g. /dev/ttyUSB0, COM3)"))

	key = "serial-baudrate"
	cmd.PersistentFlags().Int(key, defaults.Serial.BaudRate, WrapString("(serial transport) Baudrate of the serial line"))

	key = "serial-parity"
	cmd.PersistentFlags().String(key, defaults.Serial.Parity, WrapString("(serial transport) Parity of the serial line (N, E, O, M, S)"))

	key = "serial-stopbits"
	cmd.PersistentFlags().Float64(key, defaults.Serial.StopBits, WrapString("(serial transport) Stop bits of the serial line (1, 1.5, 2)"))
}

// GetServiceConfig reads the stream service configuration from viper
func GetServiceConfig() (common.ServiceConfig, error) {
	conf := common.DefaultServiceConfig()

	routes, err := common.ParseRoutes(viper.GetString("routes"))
	if err != nil {
		return conf, err
	}
	conf.Routes = routes

	conf.Timeout = viper.GetDuration("timeout")
	conf.FrameSize = viper.GetInt("frame-size")
	conf.BufferSize = viper.GetInt("buffer-size")
	conf.Serializer = viper.GetString("serializer")
	conf.LogLevel = viper.GetString("log-level")

	conf.File.Dir = viper.GetString("file-dir")
	conf.File.Quiescence = viper.GetDuration("file-quiescence")

	conf.Socket.Network = viper.GetString("socket-network")
	conf.Socket.Endpoint = viper.GetString("socket-endpoint")
	conf.Socket.RetryCount = viper.GetInt("socket-retries")
	conf.Socket.TCPNoDelay = viper.GetBool("socket-tcp-nodelay")
	conf.Socket.TCPKeepAliveSec = viper.GetInt("socket-tcp-keepalive")

	conf.Serial.Port = viper.GetString("serial-port")
	conf.Serial.BaudRate = viper.GetInt("serial-baudrate")
	conf.Serial.Parity = viper.GetString("serial-parity")
	conf.Serial.StopBits = viper.GetFloat64("serial-stopbits")

	return conf, conf.Validate()
}

// --------------------------------------------------------------------------
// Network helper
// --------------------------------------------------------------------------

// InterfaceAddr returns the first IPv4 address of the named network
// interface, or its first IPv6 address if it has no IPv4 address
func InterfaceAddr(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", fmt.Errorf("unknown interface %s: %v", name, err)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return "", fmt.Errorf("failed to read addresses of %s: %v", name, err)
	}

	var v6 net.IP
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
		if v6 == nil {
			v6 = ipNet.IP
		}
	}
	if v6 == nil {
		return "", fmt.Errorf("interface %s has no IP address", name)
	}
	return v6.String(), nil
}
