// Package cli implements the forgy command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the forgy command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "forgy",
		Short:   "Ramp virtual users against an HTTP endpoint and stream live metrics",
		Version: Version,
		Long: `Forgy is a load generator for a single HTTP endpoint. It ramps virtual users
up to a peak, holds them there and ramps them back down, while pushing live
metrics to a Prometheus remote-write endpoint or a Pushgateway.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command with os.Args and reports any error on
// stderr.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
