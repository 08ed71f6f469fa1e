package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/CrimsonAS/signalgraph/backend"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "signalgraph %s (qbackend protocol %d, %s)\n",
			version, backend.ProtocolVersion, runtime.Version())
	},
}
