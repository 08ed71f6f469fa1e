// Command signalgraph-view shows the connection graph of a simulated object
// graph in a QML window, running the frontend in process.
package main

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/CrimsonAS/signalgraph/backend/qmlscene"
	"github.com/CrimsonAS/signalgraph/config"
	"github.com/CrimsonAS/signalgraph/internal/session"
)

//go:embed main.qml
var mainQML string

var (
	configPath string
	verbosity  int
	qmlFile    string
)

var rootCmd = &cobra.Command{
	Use:          "signalgraph-view",
	Short:        "Show the signal connection graph in a QML window",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("verbose") {
			cfg.Log.Verbosity = verbosity
		}
		commonlog.Configure(cfg.Log.Verbosity, nil)

		s, err := session.New(cfg)
		if err != nil {
			return err
		}
		scene, err := qmlscene.New()
		if err != nil {
			return err
		}
		if qmlFile != "" {
			err = scene.Load(qmlFile)
		} else {
			err = scene.LoadData(mainQML)
		}
		if err != nil {
			return err
		}

		code := scene.Exec(func() error {
			return s.Serve(cmd.Context(), scene.Connection(), session.ServeOptions{
				ConfigPath: configPath,
				Start:      true,
				Simulate:   true,
			})
		})
		if code != 0 {
			return fmt.Errorf("scene exited with status %d", code)
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "configuration file (YAML)")
	rootCmd.Flags().CountVarP(&verbosity, "verbose", "v", "log more; repeat for more detail")
	rootCmd.Flags().StringVar(&qmlFile, "qml", "", "load this QML file instead of the built-in view")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
