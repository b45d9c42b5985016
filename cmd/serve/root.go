package serve

import (
	"fmt"
	cmdUtil "github.com/ValentinKolb/sdsio/cmd/util"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/server"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

var (
	Logger = logger.GetLogger("cmd")

	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the SDS I/O server",
		Long:  `Start the SDS I/O server on a socket or a serial port. Write streams are recorded to <outdir>/<name>.<index>.sds, read streams play the recordings back. The configuration can be set via command line flags or environment variables. The format of the environment variables is SDSIO_<flag> (e.g. SDSIO_OUTDIR=/data)`,
	}

	socketCmd = &cobra.Command{
		Use:     "socket",
		Short:   "Serve clients over TCP or a Unix socket",
		PreRunE: processSocketConfig,
		RunE:    run,
	}

	serialCmd = &cobra.Command{
		Use:     "serial",
		Short:   "Serve a client on a serial port",
		PreRunE: processSerialConfig,
		RunE:    run,
	}
)

func init() {
	// add flags
	key := "outdir"
	ServeCmd.PersistentFlags().String(key, ".", cmdUtil.WrapString("Directory the recordings are written to and played back from, it must exist"))

	key = "status"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional address of the HTTP status endpoint serving /metrics and /streams (e.g. localhost:9090)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 3, cmdUtil.WrapString("Timeout in seconds for sending a frame to a client"))

	// socket flags
	key = "ipaddr"
	socketCmd.Flags().String(key, "", cmdUtil.WrapString("IP address to listen on, empty listens on all addresses"))

	key = "interface"
	socketCmd.Flags().String(key, "", cmdUtil.WrapString("Network interface to listen on, its IPv4 address is used (IPv6 if it has none). Overrides --ipaddr"))

	key = "port"
	socketCmd.Flags().Int(key, common.DefaultSocketPort, cmdUtil.WrapString("TCP port to listen on"))

	key = "unix"
	socketCmd.Flags().String(key, "", cmdUtil.WrapString("Path of a Unix socket to listen on instead of TCP"))

	key = "tcp-nodelay"
	socketCmd.Flags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY on accepted connections"))

	key = "tcp-keepalive"
	socketCmd.Flags().Int(key, 0, cmdUtil.WrapString("The keepalive interval of accepted connections (in seconds)"))

	// serial flags
	key = "port"
	serialCmd.Flags().StringP(key, "p", "", cmdUtil.WrapString("Serial port to serve (e.g. /dev/ttyUSB0, COM3), see sdsio ports"))

	key = "baudrate"
	serialCmd.Flags().Int(key, common.DefaultBaudRate, cmdUtil.WrapString("Baudrate of the serial line"))

	key = "parity"
	serialCmd.Flags().String(key, "N", cmdUtil.WrapString("Parity of the serial line (N, E, O, M, S)"))

	key = "stopbits"
	serialCmd.Flags().Float64(key, 1, cmdUtil.WrapString("Stop bits of the serial line (1, 1.5, 2)"))

	ServeCmd.AddCommand(socketCmd)
	ServeCmd.AddCommand(serialCmd)
}

// processCommon reads the flags shared by all server commands
func processCommon(cmd *cobra.Command) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.OutDir = viper.GetString("outdir")
	serveCmdConfig.StatusEndpoint = viper.GetString("status")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Serializer = viper.GetString("serializer")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if _, err := common.ParseLogLevel(serveCmdConfig.LogLevel); err != nil {
		return err
	}
	common.InitLoggers(serveCmdConfig.LogLevel)
	return nil
}

// processSocketConfig converts the socket flags to the server configuration
func processSocketConfig(cmd *cobra.Command, _ []string) error {
	if err := processCommon(cmd); err != nil {
		return err
	}

	serveCmdConfig.SocketConf = common.SocketConf{}
	serveCmdConfig.TCPConf = common.TCPConf{
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		TCPLingerSec:    -1,
	}

	if path := viper.GetString("unix"); path != "" {
		serveCmdConfig.Network = "unix"
		serveCmdConfig.Endpoint = path
		return nil
	}

	port := viper.GetInt("port")
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}

	host := viper.GetString("ipaddr")
	if iface := viper.GetString("interface"); iface != "" {
		addr, err := cmdUtil.InterfaceAddr(iface)
		if err != nil {
			return err
		}
		host = addr
	} else if host != "" && net.ParseIP(host) == nil {
		return fmt.Errorf("invalid IP address %s", host)
	}

	serveCmdConfig.Network = "tcp"
	serveCmdConfig.Endpoint = net.JoinHostPort(host, strconv.Itoa(port))
	return nil
}

// processSerialConfig converts the serial flags to the server configuration
func processSerialConfig(cmd *cobra.Command, _ []string) error {
	if err := processCommon(cmd); err != nil {
		return err
	}

	serveCmdConfig.Network = "serial"
	serveCmdConfig.Serial = common.SerialConf{
		Port:     viper.GetString("port"),
		BaudRate: viper.GetInt("baudrate"),
		DataBits: 8,
		Parity:   viper.GetString("parity"),
		StopBits: viper.GetFloat64("stopbits"),
	}
	if serveCmdConfig.Serial.Port == "" {
		return fmt.Errorf("no serial port given (--port)")
	}
	return nil
}

// run serves until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	serv, err := server.New(*serveCmdConfig)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan error, 1)
	go func() {
		s := <-sig
		Logger.Infof("received %s, shutting down", s)
		stopped <- serv.Shutdown()
	}()

	if err := serv.Serve(); err != nil {
		return err
	}
	return <-stopped
}
