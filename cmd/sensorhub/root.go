package sensorhub

import (
	"fmt"
	"os"

	"github.com/edgeflare/sensorhub/pkg/config"
	"github.com/edgeflare/sensorhub/pkg/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	v        = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "sensorhub",
	Short: "sensorhub normalizes sensor messages and fans out changes",
	Long: `sensorhub accepts sensor readings over HTTP, WebSocket and MQTT in many
envelope formats, normalizes them into mutations, runs them through hooks,
stores them and pushes every change to WebSocket, SSE and configured sinks.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Fprintln(cmd.OutOrStdout(), config.Version)
			return
		}

		// If no subcommand is provided, print help
		cmd.Help()
	},
}

func Main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/sensorhub.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "", "log at this level (debug, info, warn, error, none)")
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Print the version number")

	rootCmd.AddCommand(serveCmd, publishCmd, subscribeCmd, probeCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load(v, cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
}

// newLogger builds the process logger from the loaded config.
func newLogger() (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Development)
}
