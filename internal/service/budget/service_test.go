package budget_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/erpledger/internal/authz"
	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
	"github.com/tinoosan/erpledger/internal/service/budget"
	"github.com/tinoosan/erpledger/internal/service/journal"
	"github.com/tinoosan/erpledger/internal/storage/memory"
)

type fixture struct {
	svc   budget.Service
	eng   journal.Service
	p     authz.Principal
	scope ledger.Scope
	cash  ledger.Account
	sales ledger.Account
	rent  ledger.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	scope := ledger.Scope{BusinessID: uuid.New(), BranchID: uuid.New()}
	mk := func(code string, typ ledger.AccountType) ledger.Account {
		a := ledger.Account{ID: uuid.New(), BusinessID: scope.BusinessID, Code: code, Name: code, Type: typ, Active: true}
		st.SeedAccount(a)
		return a
	}
	return &fixture{
		svc:   budget.New(st, st, "USD"),
		eng:   journal.New(st, st, journal.Options{Currency: "USD"}),
		p:     authz.As(uuid.New(), authz.AllowAll),
		scope: scope,
		cash:  mk("1000", ledger.AccountTypeAsset),
		sales: mk("4000", ledger.AccountTypeRevenue),
		rent:  mk("6000", ledger.AccountTypeExpense),
	}
}

func (f *fixture) post(t *testing.T, date time.Time, debit, credit ledger.Account, units int64) {
	t.Helper()
	_, err := f.eng.Submit(context.Background(), f.p, ledger.Voucher{
		Scope: f.scope,
		Date:  date,
		Lines: []ledger.Line{
			{AccountID: debit.ID, Debit: ledger.Amount("USD", units), Credit: ledger.Amount("USD", 0)},
			{AccountID: credit.ID, Debit: ledger.Amount("USD", 0), Credit: ledger.Amount("USD", units)},
		},
	})
	require.NoError(t, err)
}

func item(a ledger.Account, period ledger.Period, units int64) ledger.BudgetItem {
	return ledger.BudgetItem{AccountID: a.ID, Period: period, Target: ledger.Amount("USD", units)}
}

func TestVariance_ExpenseOverSpend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jan := ledger.MonthPeriod(2025, time.January)

	_, err := f.svc.Create(ctx, f.p, ledger.Budget{Scope: f.scope, Name: "FY25", FiscalYear: 2025, Items: []ledger.BudgetItem{item(f.rent, jan, 1000)}})
	require.NoError(t, err)
	f.post(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), f.rent, f.cash, 1200)
	f.post(t, time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC), f.rent, f.cash, 999)

	v, err := f.svc.Variance(ctx, f.scope, f.rent.ID, jan)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), ledger.Minor(v.Actual))
	assert.Equal(t, int64(1000), ledger.Minor(v.Target))
	assert.Equal(t, int64(200), ledger.Minor(v.Variance))
	require.NotNil(t, v.Percent)
	assert.Equal(t, "20", v.Percent.String())
	assert.True(t, v.Flagged)
	assert.Equal(t, budget.OverSpend, v.Direction)
}

func TestVariance_RevenueUnderCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q1 := ledger.MonthPeriod(2025, time.March)

	b, err := f.svc.Create(ctx, f.p, ledger.Budget{Scope: f.scope, Name: "FY25", FiscalYear: 2025})
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, f.p, f.scope.BusinessID, b.ID, item(f.sales, q1, 3000))
	require.NoError(t, err)
	f.post(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), f.cash, f.sales, 2000)

	rows, err := f.svc.Report(ctx, f.scope.BusinessID, b.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(-1000), ledger.Minor(rows[0].Variance))
	assert.Equal(t, "-33.33", rows[0].Percent.String())
	assert.True(t, rows[0].Flagged)
	assert.Equal(t, budget.UnderCollection, rows[0].Direction)

	f.post(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), f.cash, f.sales, 1500)
	v, err := f.svc.Variance(ctx, f.scope, f.sales.ID, q1)
	require.NoError(t, err)
	assert.False(t, v.Flagged)
}

func TestVariance_ZeroTargetAndMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jan := ledger.MonthPeriod(2025, time.January)

	_, err := f.svc.Create(ctx, f.p, ledger.Budget{Scope: f.scope, Name: "FY25", FiscalYear: 2025, Items: []ledger.BudgetItem{item(f.rent, jan, 0)}})
	require.NoError(t, err)
	v, err := f.svc.Variance(ctx, f.scope, f.rent.ID, jan)
	require.NoError(t, err)
	assert.Nil(t, v.Percent)
	assert.False(t, v.Flagged)

	_, err = f.svc.Variance(ctx, f.scope, f.sales.ID, jan)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.p, ledger.Budget{Scope: f.scope, Name: "FY25", FiscalYear: 2025,
		Items: []ledger.BudgetItem{item(f.rent, ledger.MonthPeriod(2024, time.December), 10)}})
	assert.Equal(t, errs.RuleInvalidField, errs.RuleOf(err))

	_, err = f.svc.Create(ctx, f.p, ledger.Budget{Scope: f.scope, Name: "FY25", FiscalYear: 2025,
		Items: []ledger.BudgetItem{item(f.rent, ledger.MonthPeriod(2025, time.May), -1)}})
	assert.Equal(t, errs.RuleNegativeAmount, errs.RuleOf(err))

	_, err = f.svc.Create(ctx, f.p, ledger.Budget{Scope: f.scope, FiscalYear: 2025})
	assert.Equal(t, errs.RuleInvalidField, errs.RuleOf(err))

	_, err = f.svc.Create(ctx, authz.As(uuid.New(), authz.DenyAll), ledger.Budget{Scope: f.scope, Name: "x", FiscalYear: 2025})
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	list, err := f.svc.List(ctx, f.scope.BusinessID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
