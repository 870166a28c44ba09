package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/gcalloc/internal/logger"
	"github.com/joshuapare/gcalloc/internal/report"
)

var (
	// Global flags
	verbose  bool
	quiet    bool
	jsonOut  bool
	logLevel string
	logDir   string
)

var rootCmd = &cobra.Command{
	Use:   "gcalloc",
	Short: "Exercise and inspect the heap allocator",
	Long: `gcalloc drives the heap allocation layers: the extent free list that
tracks address space, the NUMA-aware free region list, and the size-class
object allocator with its shared pages.

Each command builds an in-memory heap, runs a seeded workload against it and
prints a report.`,
	SilenceUsage:      true,
	PersistentPreRunE: initLogging,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output and debug logging")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Write logs to a dated file in this directory")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cmd *cobra.Command, _ []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	if verbose {
		level = slog.LevelDebug
	}
	return logger.Init(logger.Options{
		Enabled: !quiet,
		Level:   level,
		JSON:    jsonOut,
		Output:  cmd.ErrOrStderr(),
		LogDir:  logDir,
	})
}

// output returns where command results go, or io.Discard in quiet mode.
func output(cmd *cobra.Command) io.Writer {
	if quiet {
		return io.Discard
	}
	return cmd.OutOrStdout()
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(cmd *cobra.Command, format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}

// writeReport renders r as text or JSON depending on --json.
func writeReport(cmd *cobra.Command, r *report.Report) error {
	if jsonOut {
		return r.WriteJSON(output(cmd))
	}
	return r.WriteText(output(cmd))
}
