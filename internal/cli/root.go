// Package cli provides the ledgerctl command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

// NewRootCommand builds the ledgerctl command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operate the ledger autopilot offline",
		Long: `ledgerctl inspects and exercises the ledger autopilot without a running API.

It loads the same embedded tax presets and YAML files the services use, so a
tax configuration can be checked before it is deployed.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTaxCommand())
	return root
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}
