package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tinoosan/erpledger/internal/ledger"
)

func newDepreciateCommand(envFile func() string) *cobra.Command {
	var business, branch, period, actor string

	cmd := &cobra.Command{
		Use:   "depreciate",
		Short: "Post one period of depreciation for every active asset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bizID, err := uuidFlag("business", business)
			if err != nil {
				return err
			}
			actorID, err := uuidFlag("actor", actor)
			if err != nil {
				return err
			}
			scope := ledger.Scope{BusinessID: bizID}
			if branch != "" {
				if scope.BranchID, err = uuidFlag("branch", branch); err != nil {
					return err
				}
			}
			p, err := ledger.ParsePeriod(period)
			if err != nil {
				return err
			}

			a, err := bootstrap(ctx, envFile())
			if err != nil {
				return err
			}
			defer a.closeFn()

			runs, err := a.svc.Depreciation.RunAll(ctx, a.principal(actorID), scope, p)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ASSET\tPERIOD\tAMOUNT\tVOUCHER\tERROR")
			failed := 0
			for _, r := range runs {
				if r.Err != nil {
					failed++
					fmt.Fprintf(tw, "%s\t%s\t-\t-\t%v\n", r.AssetCode, r.Period, r.Err)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", r.AssetCode, r.Period, amt(r.Amount), r.Voucher.Number)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			a.log.Info("depreciation run complete", "period", p.Key, "assets", len(runs), "failed", failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&business, "business", "", "business id (required)")
	cmd.Flags().StringVar(&branch, "branch", "", "restrict the run to one branch")
	cmd.Flags().StringVar(&period, "period", "", "period key, YYYY-MM or YYYY (required)")
	cmd.Flags().StringVar(&actor, "actor", "", "acting user id (required)")
	_ = cmd.MarkFlagRequired("business")
	_ = cmd.MarkFlagRequired("period")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}
