package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CrimsonAS/signalgraph/counter"
	"github.com/CrimsonAS/signalgraph/engine"
	"github.com/CrimsonAS/signalgraph/internal/session"
)

var (
	sampleSteps  int
	sampleHidden bool
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Run one pass over the simulated graph and print the tables",
	Long: `Build the simulated object graph, apply --steps random mutations and print
the edge table and the four dimension counters after one engine pass.

In live mode the engine follows the mutations as they happen, and the pass
drains what it queued.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := session.New(cfg)
		if err != nil {
			return err
		}

		if s.Engine.Mode() == engine.ModeLive {
			s.Engine.Start()
			defer s.Engine.Stop()
		}
		for i := 0; i < sampleSteps; i++ {
			s.Simulator.Step()
		}
		s.Engine.Refresh()

		return writeTables(cmd.OutOrStdout(), s.Engine, sampleHidden)
	},
}

func init() {
	sampleCmd.Flags().IntVar(&sampleSteps, "steps", 0, "random mutations to apply before the pass")
	sampleCmd.Flags().BoolVar(&sampleHidden, "all", false, "include edges hidden by the visibility gates")
}

func writeTables(out io.Writer, e *engine.Engine, hidden bool) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "SENDER\tRECEIVER\tSENDER THREAD\tRECEIVER THREAD\tWEIGHT")
	for i := 0; i < e.Edges().Len(); i++ {
		r := e.EdgeRow(i)
		if !r.Visible && !hidden {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.SenderLabel, r.ReceiverLabel,
			r.SenderThreadLabel, r.ReceiverThreadLabel, r.Weight)
	}

	for _, d := range counter.Dimensions {
		t := e.Dimension(d)
		fmt.Fprintf(w, "\n%s\tCOUNT\tRECORDING\tVISIBLE\n", d)
		for i := 0; i < t.Len(); i++ {
			r := t.Row(i)
			fmt.Fprintf(w, "%s\t%d\t%t\t%t\n", r.Label, r.Count, r.Recording, r.Visible)
		}
	}

	tel := e.Telemetry()
	fmt.Fprintf(w, "\n%d edges, buffer %d%% of %d, %d overruns, pass took %s\n",
		tel.Edges, tel.BufferUsage, tel.BufferSize, tel.Overruns, tel.PassDuration)
	return w.Flush()
}
