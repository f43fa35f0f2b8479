package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newReconcileCommand(envFile func() string) *cobra.Command {
	var business string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute every account balance from its entries and compare with the cached balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bizID, err := uuidFlag("business", business)
			if err != nil {
				return err
			}
			a, err := bootstrap(ctx, envFile())
			if err != nil {
				return err
			}
			defer a.closeFn()

			bals, recErr := a.svc.Balances.ReconcileAll(ctx, bizID)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tTYPE\tBALANCE\tSEQUENCE")
			for _, b := range bals {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", b.Code, b.Type, amt(b.Amount), b.AsOfSequence)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if recErr != nil {
				return fmt.Errorf("reconciliation failed: %w", recErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&business, "business", "", "business id (required)")
	_ = cmd.MarkFlagRequired("business")
	return cmd
}
