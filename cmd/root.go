// Package cmd is the thin CLI layer: argument parsing, logger setup, and
// process exit codes. All conversion logic lives in internal/.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var silent bool

var rootCmd = &cobra.Command{
	Use:           "tilevault",
	Short:         "Convert between tile directory trees and MBTiles containers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&silent, "silent", false, "Only log errors")
}

// newLogger builds the run logger. --silent keeps errors visible but
// drops progress and warnings.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if silent {
		level = slog.LevelError
	}
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
