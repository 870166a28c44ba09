package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/joshuapare/gcalloc/internal/invariant"
	"github.com/joshuapare/gcalloc/internal/numa"
)

// Set by -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func init() {
	rootCmd.Version = version
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version, build and host information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			checks := "diagnostic"
			if !invariant.Enabled {
				checks = "release"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gcalloc %s (%s, built %s)\n", version, commit, date)
			fmt.Fprintf(out, "  go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "  invariants: %s\n", checks)
			fmt.Fprintf(out, "  cpus:       %d\n", numa.UsableCPUs())
			fmt.Fprintf(out, "  topology:   %s\n", numa.Detect())
		},
	})
}
