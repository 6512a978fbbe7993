// Command overlap-mcl runs overlap-based Monte Carlo localisation against a
// prebuilt map of feature volumes.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/overlap-mcl/internal/mcl"
	"github.com/banshee-data/overlap-mcl/internal/version"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var logLevel string
	rootCmd := &cobra.Command{
		Use:   "overlap-mcl",
		Short: "Overlap-based Monte Carlo localisation",
		Long: `overlap-mcl localises a LiDAR trajectory in a grid map of feature volumes.
Each particle is scored by the predicted overlap between the current scan and
the map cell it occupies, optionally weighted by yaw agreement.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			w, err := logWriters(logLevel, stderr)
			if err != nil {
				return err
			}
			mcl.SetLogWriters(w)
			return nil
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "ops", "Log streams to enable: none, ops, diag or trace")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "overlap-mcl "+version.String())
		},
	})
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newVolumesCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newServeScorerCmd())
	return rootCmd
}

// logWriters maps a level to the streams it enables. Each level includes
// the ones below it.
func logWriters(level string, w io.Writer) (mcl.LogWriters, error) {
	switch level {
	case "none":
		return mcl.LogWriters{}, nil
	case "ops":
		return mcl.LogWriters{Ops: w}, nil
	case "diag":
		return mcl.LogWriters{Ops: w, Diag: w}, nil
	case "trace":
		return mcl.LogWriters{Ops: w, Diag: w, Trace: w}, nil
	default:
		return mcl.LogWriters{}, fmt.Errorf("unknown log level %q", level)
	}
}
