package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/warriorguo/loadflow/config"
)

var rootCmd = &cobra.Command{
	Use:   "loadflow",
	Short: "Distributed load-test execution engine",
	Long: `
Runs the campaigns of the orders demo scenario, either in a single process
(standalone) or with a head coordinating factories through NATS.

The configuration is read from the file given with --config, then from the
LOADFLOW_ environment variables. Example:

mode: factory
nodeId: factory-1
nats:
  url: nats://localhost:4222
postgres:
  host: localhost
  database: loadflow
metrics:
  port: 9102
`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "logrus level, overrides the configuration")
	rootCmd.PersistentFlags().String("node-id", "", "node identifier, overrides the configuration")

	rootCmd.AddCommand(standaloneCmd(), headCmd(), factoryCmd())
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration of the command, then configures the
// logging.
func loadConfig(cmd *cobra.Command) (*config.Configuration, error) {
	v := viper.New()
	flags := cmd.Flags()
	if err := v.BindPFlag("logLevel", flags.Lookup("log-level")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("nodeId", flags.Lookup("node-id")); err != nil {
		return nil, err
	}
	file, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}

	c, err := config.Load(v, file)
	if err != nil {
		return nil, err
	}
	if err := config.ConfigureLogging(c.LogLevel); err != nil {
		return nil, err
	}
	return c, nil
}
