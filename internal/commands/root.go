// Package commands implements the erpledger command line: the HTTP server and
// the batch jobs (depreciation runs, reconciliation, reports) that operators
// run against the same store.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "erpledger",
		Short: "Double-entry general ledger service",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file (defaults to ./.env when present)")

	env := func() string { return envFile }
	rootCmd.AddCommand(
		newServeCommand(env),
		newDepreciateCommand(env),
		newReconcileCommand(env),
		newReportCommand(env),
	)
	return rootCmd
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}
