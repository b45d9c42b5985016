package stream

import (
	"github.com/ValentinKolb/sdsio/cmd/util"
	"github.com/ValentinKolb/sdsio/lib/sds"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
)

var (
	Logger = logger.GetLogger("cmd")

	svc *sds.Service

	// StreamCommands represents the stream command group
	StreamCommands = &cobra.Command{
		Use:                "stream",
		Short:              "Write, read and benchmark streams",
		PersistentPreRunE:  setupService,
		PersistentPostRunE: teardownService,
	}
)

func init() {
	// Add the stream service flags to the stream command
	util.SetupServiceFlags(StreamCommands)

	// Add subcommands
	StreamCommands.AddCommand(writeCmd)
	StreamCommands.AddCommand(readCmd)
	StreamCommands.AddCommand(perfTestCmd)
}

// setupService initializes the stream service from the flags
func setupService(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf, err := util.GetServiceConfig()
	if err != nil {
		return err
	}
	common.InitLoggers(conf.LogLevel)
	Logger.Debugf("stream service configuration:%s", conf.String())

	svc, err = sds.Init(conf)
	return err
}

// teardownService closes all streams that are still open
func teardownService(_ *cobra.Command, _ []string) error {
	if svc == nil {
		return nil
	}
	return svc.Uninit()
}
