package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/govalues/money"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tinoosan/erpledger/internal/ledger"
	"github.com/tinoosan/erpledger/internal/service/report"
)

const dateLayout = "2006-01-02"

type reportFlags struct {
	business, branch string
	asOf, from, to   string
	output           string
}

// reportRow is the printable form of a report line.
type reportRow struct {
	Code    string `json:"code" yaml:"code"`
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`
	Debit   string `json:"debit,omitempty" yaml:"debit,omitempty"`
	Credit  string `json:"credit,omitempty" yaml:"credit,omitempty"`
	Balance string `json:"balance" yaml:"balance"`
}

// reportDoc is one rendered report: titled sections of rows plus totals.
type reportDoc struct {
	Title    string              `json:"title" yaml:"title"`
	Sections []reportSection     `json:"sections" yaml:"sections"`
	Totals   []map[string]string `json:"totals" yaml:"totals"`
}

type reportSection struct {
	Name string      `json:"name" yaml:"name"`
	Rows []reportRow `json:"rows" yaml:"rows"`
}

func newReportCommand(envFile func() string) *cobra.Command {
	f := &reportFlags{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print financial reports",
	}
	cmd.PersistentFlags().StringVar(&f.business, "business", "", "business id (required)")
	cmd.PersistentFlags().StringVar(&f.branch, "branch", "", "restrict the report to one branch")
	cmd.PersistentFlags().StringVarP(&f.output, "output", "o", "table", "output format: table, json or yaml")
	_ = cmd.MarkPersistentFlagRequired("business")

	tb := &cobra.Command{
		Use:   "trial-balance",
		Short: "Trial balance as of a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, envFile(), f, func(r report.Service, s ledger.Scope) (reportDoc, error) {
				asOf, err := parseFlagDate("as-of", f.asOf)
				if err != nil {
					return reportDoc{}, err
				}
				t, err := r.TrialBalance(cmd.Context(), s, asOf)
				if err != nil {
					return reportDoc{}, err
				}
				return reportDoc{
					Title:    "Trial balance" + asOfSuffix(t.AsOf),
					Sections: []reportSection{{Name: "Accounts", Rows: toReportRows(t.Rows, true)}},
					Totals:   []map[string]string{{"debit": amt(t.TotalDebit), "credit": amt(t.TotalCredit)}},
				}, nil
			})
		},
	}
	tb.Flags().StringVar(&f.asOf, "as-of", "", "include entries dated on or before YYYY-MM-DD")

	bs := &cobra.Command{
		Use:   "balance-sheet",
		Short: "Balance sheet as of a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, envFile(), f, func(r report.Service, s ledger.Scope) (reportDoc, error) {
				asOf, err := parseFlagDate("as-of", f.asOf)
				if err != nil {
					return reportDoc{}, err
				}
				b, err := r.BalanceSheet(cmd.Context(), s, asOf)
				if err != nil {
					return reportDoc{}, err
				}
				return reportDoc{
					Title: "Balance sheet" + asOfSuffix(b.AsOf),
					Sections: []reportSection{
						{Name: "Assets", Rows: toReportRows(b.Assets, false)},
						{Name: "Liabilities", Rows: toReportRows(b.Liabilities, false)},
						{Name: "Equity", Rows: toReportRows(b.Equity, false)},
					},
					Totals: []map[string]string{{
						"assets":           amt(b.TotalAssets),
						"liabilities":      amt(b.TotalLiabilities),
						"current_earnings": amt(b.CurrentEarnings),
						"equity":           amt(b.TotalEquity),
					}},
				}, nil
			})
		},
	}
	bs.Flags().StringVar(&f.asOf, "as-of", "", "include entries dated on or before YYYY-MM-DD")

	pnl := &cobra.Command{
		Use:   "pnl",
		Short: "Profit and loss over a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, envFile(), f, func(r report.Service, s ledger.Scope) (reportDoc, error) {
				from, err := parseFlagDate("from", f.from)
				if err != nil {
					return reportDoc{}, err
				}
				to, err := parseFlagDate("to", f.to)
				if err != nil {
					return reportDoc{}, err
				}
				p, err := r.ProfitAndLoss(cmd.Context(), s, from, to)
				if err != nil {
					return reportDoc{}, err
				}
				return reportDoc{
					Title: "Profit and loss",
					Sections: []reportSection{
						{Name: "Revenue", Rows: toReportRows(p.Revenue, false)},
						{Name: "Expenses", Rows: toReportRows(p.Expenses, false)},
					},
					Totals: []map[string]string{{
						"revenue":    amt(p.TotalRevenue),
						"expense":    amt(p.TotalExpense),
						"net_income": amt(p.NetIncome),
					}},
				}, nil
			})
		},
	}
	pnl.Flags().StringVar(&f.from, "from", "", "first day, YYYY-MM-DD")
	pnl.Flags().StringVar(&f.to, "to", "", "last day, YYYY-MM-DD")

	cmd.AddCommand(tb, bs, pnl)
	return cmd
}

func runReport(cmd *cobra.Command, envFile string, f *reportFlags, build func(report.Service, ledger.Scope) (reportDoc, error)) error {
	bizID, err := uuidFlag("business", f.business)
	if err != nil {
		return err
	}
	scope := ledger.Scope{BusinessID: bizID}
	if f.branch != "" {
		if scope.BranchID, err = uuidFlag("branch", f.branch); err != nil {
			return err
		}
	}
	a, err := bootstrap(cmd.Context(), envFile)
	if err != nil {
		return err
	}
	defer a.closeFn()

	doc, err := build(a.svc.Reports, scope)
	if err != nil {
		return err
	}
	return writeReport(cmd.OutOrStdout(), f.output, doc)
}

func writeReport(w io.Writer, format string, doc reportDoc) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		return writeTable(w, doc)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeTable(w io.Writer, doc reportDoc) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, doc.Title)
	for _, s := range doc.Sections {
		fmt.Fprintf(tw, "\n%s\n", s.Name)
		fmt.Fprintln(tw, "CODE\tNAME\tDEBIT\tCREDIT\tBALANCE")
		for _, r := range s.Rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Code, r.Name, r.Debit, r.Credit, r.Balance)
		}
	}
	fmt.Fprintln(tw)
	for _, t := range doc.Totals {
		for _, k := range sortedKeys(t) {
			fmt.Fprintf(tw, "%s\t%s\n", k, t[k])
		}
	}
	return tw.Flush()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toReportRows(in []report.Row, sides bool) []reportRow {
	out := make([]reportRow, 0, len(in))
	for _, r := range in {
		row := reportRow{Code: r.AccountCode, Name: r.AccountName, Type: string(r.Type), Balance: amt(r.Balance)}
		if sides {
			row.Debit, row.Credit = amt(r.Debit), amt(r.Credit)
		}
		out = append(out, row)
	}
	return out
}

func parseFlagDate(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", name, err)
	}
	return t, nil
}

func amt(a money.Amount) string { return a.Decimal().String() }

func asOfSuffix(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return " as of " + t.Format(dateLayout)
}
