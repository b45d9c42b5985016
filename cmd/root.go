package cmd

import (
	"fmt"
	"github.com/ValentinKolb/sdsio/cmd/serve"
	"github.com/ValentinKolb/sdsio/cmd/stream"
	"github.com/ValentinKolb/sdsio/cmd/util"
	"github.com/ValentinKolb/sdsio/rpc/transport/serial"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "sdsio",
		Short: "sensor data stream I/O",
		Long: fmt.Sprintf(`sdsio (v%s)

Named, unidirectional byte streams between an embedded
application and a host. Streams are routed to files, to
a socket server or to a serial line, and recorded by the
SDS I/O server.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of sdsio",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sdsio v%s\n", Version)
		},
	}

	// portsCmd lists the serial ports of the host
	portsCmd = &cobra.Command{
		Use:   "ports",
		Short: "List the serial ports of this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := serial.Ports()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Println("no serial ports found")
				return nil
			}
			for _, p := range ports {
				fmt.Println(p)
			}
			return nil
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(stream.StreamCommands)
	RootCmd.AddCommand(portsCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer of the control messages (binary, json, gob), must match the server"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
