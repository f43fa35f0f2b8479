package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/authz"
	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
	"github.com/tinoosan/erpledger/internal/service/journal"
	"github.com/tinoosan/erpledger/internal/service/ledgerstore"
)

func getTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres store tests")
	}
	return dsn
}

func mustOpen(t *testing.T, dsn string) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func applyInitSQL(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Resolve init SQL path relative to this test file so CWD doesn't matter
	_, thisFile, _, _ := runtime.Caller(0)
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(thisFile), "../../../"))
	b, err := os.ReadFile(filepath.Join(repoRoot, "db", "migrations", "0001_init.sql"))
	if err != nil {
		t.Fatalf("read init sql: %v", err)
	}
	if _, err := s.pool.Exec(ctx, string(b)); err != nil {
		t.Fatalf("apply init sql: %v", err)
	}
	if _, err := s.pool.Exec(ctx, `truncate table ledger_entries, account_balances, voucher_lines, vouchers, voucher_numbers,
		budget_items, budgets, fixed_assets, accounts cascade`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func seedAccount(t *testing.T, s *Store, scope ledger.Scope, code string, typ ledger.AccountType) ledger.Account {
	t.Helper()
	a, err := s.CreateAccount(context.Background(), ledger.Account{
		ID: uuid.New(), BusinessID: scope.BusinessID, Code: code, Name: code, Type: typ, Active: true,
	})
	if err != nil {
		t.Fatalf("create account %s: %v", code, err)
	}
	return a
}

func TestStore_PostReverseAndReconcile(t *testing.T) {
	dsn := getTestDSN(t)
	s := mustOpen(t, dsn)
	defer s.Close()
	applyInitSQL(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	scope := ledger.Scope{BusinessID: uuid.New(), BranchID: uuid.New()}
	cash := seedAccount(t, s, scope, "1000", ledger.AccountTypeAsset)
	sales := seedAccount(t, s, scope, "4000", ledger.AccountTypeRevenue)

	eng := journal.New(s, s, journal.Options{Currency: "USD"})
	p := authz.As(uuid.New(), authz.AllowAll)
	amt := ledger.Amount("USD", 100000)
	zero := ledger.Amount("USD", 0)

	posted, err := eng.Submit(ctx, p, ledger.Voucher{
		Scope: scope, Date: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), Reference: "INV-1",
		Lines: []ledger.Line{
			{AccountID: cash.ID, Debit: amt, Credit: zero},
			{AccountID: sales.ID, Debit: zero, Credit: amt},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if posted.Number != "JV-00001" || posted.Sequence == 0 || posted.Status != ledger.StatusPosted {
		t.Fatalf("unexpected posted voucher: %+v", posted)
	}

	bal := ledgerstore.New(s, "USD", nil)
	got, err := bal.Balance(ctx, scope.BusinessID, sales.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if ledger.Minor(got.Amount) != 100000 {
		t.Fatalf("sales balance = %d, want 100000", ledger.Minor(got.Amount))
	}

	rev, err := eng.Reverse(ctx, p, scope.BusinessID, posted.ID, time.Time{})
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if rev.ReversalOf != posted.ID {
		t.Fatalf("reversal link missing: %+v", rev)
	}
	orig, err := s.VoucherByID(ctx, scope.BusinessID, posted.ID)
	if err != nil {
		t.Fatalf("get original: %v", err)
	}
	if orig.Status != ledger.StatusReversed || orig.ReversedBy != rev.ID {
		t.Fatalf("original not marked reversed: %+v", orig)
	}
	if _, err := eng.Reverse(ctx, p, scope.BusinessID, posted.ID, time.Time{}); !errors.Is(err, errs.ErrImmutable) {
		t.Fatalf("second reverse err = %v, want immutable", err)
	}

	if _, err := bal.ReconcileAll(ctx, scope.BusinessID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	at, err := bal.BalanceAt(ctx, scope.BusinessID, cash.ID, posted.Sequence)
	if err != nil {
		t.Fatalf("balance at: %v", err)
	}
	if at.Raw != 100000 {
		t.Fatalf("cash at seq %d = %d, want 100000", posted.Sequence, at.Raw)
	}

	// posted history cannot be edited in place
	if _, err := s.pool.Exec(ctx, `update ledger_entries set debit_minor = 1 where voucher_id = $1`, posted.ID); err == nil {
		t.Fatalf("expected trigger to reject ledger_entries update")
	}
	if err := s.DeleteDraft(ctx, scope.BusinessID, posted.ID); !errors.Is(err, errs.ErrImmutable) {
		t.Fatalf("delete posted err = %v, want immutable", err)
	}
}

func TestStore_SourceKeyUnique(t *testing.T) {
	dsn := getTestDSN(t)
	s := mustOpen(t, dsn)
	defer s.Close()
	applyInitSQL(t, s)
	ctx := context.Background()

	scope := ledger.Scope{BusinessID: uuid.New(), BranchID: uuid.New()}
	exp := seedAccount(t, s, scope, "6100", ledger.AccountTypeExpense)
	acc := seedAccount(t, s, scope, "1590", ledger.AccountTypeAsset)
	eng := journal.New(s, s, journal.Options{Currency: "USD"})
	p := authz.As(uuid.New(), authz.AllowAll)
	v := ledger.Voucher{
		Scope: scope, Date: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), SourceKey: "depreciation:x:2025-01",
		Lines: []ledger.Line{
			{AccountID: exp.ID, Debit: ledger.Amount("USD", 100), Credit: ledger.Amount("USD", 0)},
			{AccountID: acc.ID, Debit: ledger.Amount("USD", 0), Credit: ledger.Amount("USD", 100)},
		},
	}
	if _, err := eng.Submit(ctx, p, v); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := eng.Submit(ctx, p, v); !errors.Is(err, errs.ErrAlreadyPosted) {
		t.Fatalf("second submit err = %v, want already posted", err)
	}
	if _, ok, err := s.VoucherBySourceKey(ctx, scope.BusinessID, v.SourceKey); err != nil || !ok {
		t.Fatalf("lookup by source key: ok=%v err=%v", ok, err)
	}
}
