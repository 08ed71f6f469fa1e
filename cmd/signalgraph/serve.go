package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CrimsonAS/signalgraph/backend"
	"github.com/CrimsonAS/signalgraph/internal/session"
)

var (
	serveFds      string
	serveStart    bool
	serveSimulate bool
	serveMetrics  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Publish the connection graph over the qbackend protocol",
	Long: `Publish the engine to a qbackend client. The protocol runs on stdin and
stdout unless --fd names a pair of inherited file descriptors, in the
"fd:<read>,<write>" form the QML plugin uses.

The configuration file, when given, is watched; sampling rate, buffer size
and gate defaults are applied while running.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		in, out := os.Stdin, os.Stdout
		if serveFds != "" {
			var err error
			if in, out, err = openFds(serveFds); err != nil {
				return err
			}
		}
		if serveMetrics != "" {
			cfg.Metrics.Listen = serveMetrics
		}

		s, err := session.New(cfg)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return s.Serve(ctx, backend.NewConnectionSplit(in, out), session.ServeOptions{
			ConfigPath: configPath,
			Start:      serveStart,
			Simulate:   serveSimulate,
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFds, "fd", "", `file descriptors to use instead of stdio, as "fd:<read>,<write>"`)
	serveCmd.Flags().BoolVar(&serveStart, "start", true, "start the engine immediately")
	serveCmd.Flags().BoolVar(&serveSimulate, "simulate", true, "keep changing the simulated object graph")
	serveCmd.Flags().StringVar(&serveMetrics, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// parseFds parses "fd:<read>,<write>".
func parseFds(spec string) (int, int, error) {
	fds, ok := strings.CutPrefix(spec, "fd:")
	if !ok {
		return 0, 0, fmt.Errorf("invalid fd pair %q: expected fd:<read>,<write>", spec)
	}
	rs, ws, ok := strings.Cut(fds, ",")
	if !ok {
		return 0, 0, fmt.Errorf("invalid fd pair %q: expected fd:<read>,<write>", spec)
	}
	r, err := strconv.Atoi(rs)
	if err != nil || r < 0 {
		return 0, 0, fmt.Errorf("invalid read fd %q", rs)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w < 0 {
		return 0, 0, fmt.Errorf("invalid write fd %q", ws)
	}
	return r, w, nil
}

func openFds(spec string) (*os.File, *os.File, error) {
	r, w, err := parseFds(spec)
	if err != nil {
		return nil, nil, err
	}
	return os.NewFile(uintptr(r), "qbackend-in"), os.NewFile(uintptr(w), "qbackend-out"), nil
}
