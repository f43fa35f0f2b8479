package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tinoosan/erpledger/internal/authz"
	"github.com/tinoosan/erpledger/internal/dictionary"
	v1 "github.com/tinoosan/erpledger/internal/httpapi/v1"
	"github.com/tinoosan/erpledger/internal/ledger"
)

func newServeCommand(envFile func() string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, envFile())
			if err != nil {
				return err
			}
			defer a.closeFn()
			if addr != "" {
				a.cfg.HTTPAddr = addr
			}
			if a.cfg.DevSeed {
				if err := devSeed(ctx, a, cmd.OutOrStdout()); err != nil {
					a.log.Error("dev seed failed", "err", err)
				}
			}
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	api := v1.New(a.svc, v1.Options{
		Currency:   a.cfg.Ledger.Currency,
		Authorizer: a.authz,
		JWT:        a.cfg.JWT,
		Ready:      a.store,
	}, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("ledger service listening", "addr", srv.Addr, "jwt", a.cfg.JWT.Secret != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctxShutdown); err != nil {
			a.log.Error("server shutdown error", "err", err)
			return err
		}
		return nil
	case err := <-errCh:
		a.log.Error("server error", "err", err)
		return err
	}
}

// devSeed installs the default chart for a fresh business and branch and
// prints the ids needed to start posting.
func devSeed(ctx context.Context, a *app, out io.Writer) error {
	scope := ledger.Scope{BusinessID: uuid.New(), BranchID: uuid.New()}
	actor := uuid.New()
	accs, err := a.svc.Accounts.InstallChart(ctx, authz.As(actor, authz.AllowAll), ledger.Scope{BusinessID: scope.BusinessID}, dictionary.DefaultChart())
	if err != nil {
		return err
	}
	logDevSeed(a.log, a.backend, scope, actor, accs)
	printDevSeedBanner(out, scope, actor, accs)
	return nil
}

// seedIDs picks the accounts worth printing.
func seedIDs(accs []ledger.Account) map[string]string {
	want := map[string]string{
		dictionary.CodeCash:                    "cash_account_id",
		dictionary.CodeSales:                   "sales_account_id",
		dictionary.CodeRent:                    "rent_account_id",
		dictionary.CodeDepreciationExpense:     "depreciation_expense_account_id",
		dictionary.CodeAccumulatedDepreciation: "accumulated_depreciation_account_id",
	}
	ids := map[string]string{}
	for _, acc := range accs {
		if key, ok := want[acc.Code]; ok {
			ids[key] = acc.ID.String()
		}
	}
	return ids
}

func logDevSeed(l *slog.Logger, backend string, scope ledger.Scope, actor uuid.UUID, accs []ledger.Account) {
	l.Info("DEV seed ("+backend+")",
		"business_id", scope.BusinessID.String(),
		"branch_id", scope.BranchID.String(),
		"actor_id", actor.String(),
		"accounts", len(accs),
		"ids", seedIDs(accs),
	)
}

// printDevSeedBanner prints a simple banner for easy copy/paste of ids.
func printDevSeedBanner(w io.Writer, scope ledger.Scope, actor uuid.UUID, accs []ledger.Account) {
	fmt.Fprintln(w, "==================== DEV SEED ====================")
	fmt.Fprintf(w, "business_id: %s\n", scope.BusinessID)
	fmt.Fprintf(w, "branch_id: %s\n", scope.BranchID)
	fmt.Fprintf(w, "actor_id: %s\n", actor)
	ids := seedIDs(accs)
	for _, key := range []string{"cash_account_id", "sales_account_id", "rent_account_id", "depreciation_expense_account_id", "accumulated_depreciation_account_id"} {
		if id, ok := ids[key]; ok {
			fmt.Fprintf(w, "%s: %s\n", key, id)
		}
	}
	fmt.Fprintln(w, "==================================================")
}
