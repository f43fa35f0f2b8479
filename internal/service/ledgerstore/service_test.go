package ledgerstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/erpledger/internal/authz"
	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
	"github.com/tinoosan/erpledger/internal/service/journal"
	"github.com/tinoosan/erpledger/internal/service/ledgerstore"
	"github.com/tinoosan/erpledger/internal/storage/memory"
)

// driftRepo reports a cached balance that disagrees with the log.
type driftRepo struct {
	*memory.Store
	drift int64
}

func (d driftRepo) CachedBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	v, err := d.Store.CachedBalance(ctx, accountID)
	return v + d.drift, err
}

func (d driftRepo) BalanceSnapshot(ctx context.Context, accountID uuid.UUID) (int64, []ledger.Entry, error) {
	cached, entries, err := d.Store.BalanceSnapshot(ctx, accountID)
	return cached + d.drift, entries, err
}

func post(t *testing.T, eng journal.Service, scope ledger.Scope, debit, credit ledger.Account, units int64) ledger.Voucher {
	t.Helper()
	v, err := eng.Submit(context.Background(), authz.As(uuid.New(), authz.AllowAll), ledger.Voucher{
		Scope: scope,
		Date:  time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Lines: []ledger.Line{
			{AccountID: debit.ID, Debit: ledger.Amount("USD", units), Credit: ledger.Amount("USD", 0)},
			{AccountID: credit.ID, Debit: ledger.Amount("USD", 0), Credit: ledger.Amount("USD", units)},
		},
	})
	require.NoError(t, err)
	return v
}

func seed(t *testing.T) (*memory.Store, journal.Service, ledger.Scope, ledger.Account, ledger.Account) {
	t.Helper()
	st := memory.New()
	scope := ledger.Scope{BusinessID: uuid.New(), BranchID: uuid.New()}
	cash := ledger.Account{ID: uuid.New(), BusinessID: scope.BusinessID, Code: "1000", Name: "Cash", Type: ledger.AccountTypeAsset, Active: true}
	sales := ledger.Account{ID: uuid.New(), BusinessID: scope.BusinessID, Code: "4000", Name: "Sales", Type: ledger.AccountTypeRevenue, Active: true}
	st.SeedAccount(cash)
	st.SeedAccount(sales)
	return st, journal.New(st, st, journal.Options{Currency: "USD"}), scope, cash, sales
}

func TestBalanceAndBalanceAt(t *testing.T) {
	st, eng, scope, cash, sales := seed(t)
	ctx := context.Background()
	first := post(t, eng, scope, cash, sales, 700)
	post(t, eng, scope, cash, sales, 300)

	svc := ledgerstore.New(st, "USD", nil)
	b, err := svc.Balance(ctx, scope.BusinessID, sales.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-1000), b.Raw)
	assert.Equal(t, int64(1000), ledger.Minor(b.Amount))

	at, err := svc.BalanceAt(ctx, scope.BusinessID, cash.ID, first.Sequence)
	require.NoError(t, err)
	assert.Equal(t, int64(700), at.Raw)
	assert.Equal(t, first.Sequence, at.AsOfSequence)

	_, err = svc.BalanceAt(ctx, scope.BusinessID, cash.ID, -1)
	assert.Equal(t, errs.RuleInvalidField, errs.RuleOf(err))

	rec, err := svc.Reconcile(ctx, scope.BusinessID, cash.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rec.Raw)
}

func TestReconcile_Mismatch(t *testing.T) {
	st, eng, scope, cash, sales := seed(t)
	ctx := context.Background()
	post(t, eng, scope, cash, sales, 250)

	svc := ledgerstore.New(driftRepo{Store: st, drift: 1}, "USD", nil)
	_, err := svc.Reconcile(ctx, scope.BusinessID, cash.ID)
	require.ErrorIs(t, err, errs.ErrConsistency)
	var ce *errs.ConsistencyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, cash.ID, ce.AccountID)
	assert.Equal(t, int64(251), ce.Cached)
	assert.Equal(t, int64(250), ce.Recomputed)

	all, err := svc.ReconcileAll(ctx, scope.BusinessID)
	assert.ErrorIs(t, err, errs.ErrConsistency)
	assert.Len(t, all, 2)

	// the cache is reported, never corrected
	raw, err := st.CachedBalance(ctx, cash.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), raw)
}
