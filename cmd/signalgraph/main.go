// Command signalgraph tracks the signal connection graph of a simulated
// object graph and publishes it over the qbackend protocol.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/CrimsonAS/signalgraph/config"
)

// version is set at link time with -ldflags "-X main.version=..."
var version = "devel"

var (
	configPath string
	verbosity  int
	logFile    string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "signalgraph",
	Short: "Track the signal connection graph of an object graph",
	Long: `signalgraph samples or follows the connections between the objects of an
inspected process, filtered by class, thread, object and connection type.

Without an inspected process attached, a simulated object graph is used.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.LoadOrDefault(configPath); err != nil {
			return err
		}
		if cmd.Flags().Changed("verbose") {
			cfg.Log.Verbosity = verbosity
		}
		if logFile != "" {
			cfg.Log.File = logFile
		}

		var path *string
		if cfg.Log.File != "" {
			path = &cfg.Log.File
		}
		commonlog.Configure(cfg.Log.Verbosity, path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (YAML)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "log more; repeat for more detail")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log to a file instead of stderr")

	rootCmd.AddCommand(serveCmd, sampleCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
