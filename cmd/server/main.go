package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/brokerwatch/pkg/config"
)

var (
	configFile string
	verbose    bool
	output     string
)

var rootCmd = &cobra.Command{
	Use:   "brokerwatch-server",
	Short: "BrokerWatch Server - RabbitMQ alerting and notifications",
	Long: `BrokerWatch polls RabbitMQ management APIs, detects node and queue
conditions against per-tenant thresholds, tracks each condition through
its lifecycle and notifies tenants by email, webhook and chat.

Examples:
  # Run the API and pollers
  brokerwatch-server serve -c config.yaml

  # One read-only pass against a configured broker
  brokerwatch-server analyze -c config.yaml --server prod-eu --vhost orders`,
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if output == "json" {
			_ = writeJSON(os.Stdout, config.GetBuildInfo())
			return
		}
		fmt.Println(config.VersionString())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config, or the defaults when no file is given.
func loadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	cfg.Verbose = verbose
	return cfg, nil
}

// newLogger builds a JSON production logger, or a console logger at debug
// level in verbose mode.
func newLogger(verbose bool) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level.SetLevel(zap.DebugLevel)
	}
	zapConfig.InitialFields = map[string]interface{}{
		"service": "brokerwatch",
		"version": config.Version,
	}
	return zapConfig.Build()
}

// setup loads configuration and wires the app for a subcommand.
func setup() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}
