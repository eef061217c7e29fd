// Command treemeter runs the pay-per-tree billing service and its maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "treemeter",
		Short:         "treemeter - pay-per-tree-planted billing service",
		Long:          `treemeter bills planted trees through Stripe metered subscriptions and records them in a ledger`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newUserCmd())
	rootCmd.AddCommand(newCheckoutCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "treemeter %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
