package report_test

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
	"github.com/tinoosan/erpledger/internal/service/journal"
	"github.com/tinoosan/erpledger/internal/service/report"
	"github.com/tinoosan/erpledger/internal/storage/memory"
)

type books struct {
	store   *memory.Store
	eng     journal.Service
	reports report.Service
	scope   ledger.Scope
	accts   map[string]ledger.Account
}

func newBooks(t *testing.T) *books {
	t.Helper()
	st := memory.New()
	scope := ledger.Scope{BusinessID: uuid.New(), BranchID: uuid.New()}
	b := &books{
		store:   st,
		eng:     journal.New(st, st, journal.Options{Currency: "USD"}),
		reports: report.New(st, "USD"),
		scope:   scope,
		accts:   make(map[string]ledger.Account),
	}
	for code, typ := range map[string]ledger.AccountType{
		"1000": ledger.AccountTypeAsset,
		"2000": ledger.AccountTypeLiability,
		"3000": ledger.AccountTypeEquity,
		"4000": ledger.AccountTypeRevenue,
		"6000": ledger.AccountTypeExpense,
	} {
		a := ledger.Account{ID: uuid.New(), BusinessID: scope.BusinessID, Code: code, Name: "acct " + code, Type: typ, Active: true}
		st.SeedAccount(a)
		b.accts[code] = a
	}
	return b
}

func day(m time.Month, d int) time.Time { return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC) }

func (b *books) post(t *testing.T, date time.Time, debit, credit string, units int64) {
	t.Helper()
	_, err := b.eng.Submit(context.Background(), authz.As(uuid.New(), authz.AllowAll), ledger.Voucher{
		Scope: b.scope,
		Date:  date,
		Lines: []ledger.Line{
			{AccountID: b.accts[debit].ID, Debit: ledger.Amount("USD", units), Credit: ledger.Amount("USD", 0)},
			{AccountID: b.accts[credit].ID, Debit: ledger.Amount("USD", 0), Credit: ledger.Amount("USD", units)},
		},
	})
	require.NoError(t, err)
}

func (b *books) fill(t *testing.T) {
	b.post(t, day(time.January, 2), "1000", "3000", 5000) // capital
	b.post(t, day(time.January, 15), "1000", "4000", 1000) // cash sale
	b.post(t, day(time.February, 1), "6000", "1000", 400) // rent
	b.post(t, day(time.February, 10), "1000", "2000", 2000) // loan
	b.post(t, day(time.March, 5), "1000", "4000", 600)
}

func TestTrialBalance_CashSales(t *testing.T) {
	b := newBooks(t)
	b.post(t, day(time.January, 15), "1000", "4000", 1000)

	tb, err := b.reports.TrialBalance(context.Background(), b.scope, time.Time{})
	require.NoError(t, err)
	require.Len(t, tb.Rows, 2)
	assert.Equal(t, int64(1000), ledger.Minor(tb.TotalDebit))
	assert.Equal(t, int64(1000), ledger.Minor(tb.TotalCredit))
	assert.Equal(t, "1000", tb.Rows[0].AccountCode)
	assert.Equal(t, int64(1000), ledger.Minor(tb.Rows[0].Debit))
	assert.Equal(t, int64(1000), ledger.Minor(tb.Rows[1].Credit))
}

func TestTrialBalance_RowsKeepGrossActivity(t *testing.T) {
	b := newBooks(t)
	b.post(t, day(time.January, 15), "1000", "4000", 1000)
	b.post(t, day(time.January, 20), "6000", "1000", 400)

	tb, err := b.reports.TrialBalance(context.Background(), b.scope, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "1000", tb.Rows[0].AccountCode)
	cash := tb.Rows[0]
	assert.Equal(t, int64(600), ledger.Minor(cash.Debit))
	assert.True(t, cash.Credit.IsZero())
	assert.Equal(t, int64(1000), ledger.Minor(cash.ActivityDebit))
	assert.Equal(t, int64(400), ledger.Minor(cash.ActivityCredit))
}

func TestTrialBalance_AsOf(t *testing.T) {
	b := newBooks(t)
	b.fill(t)

	tb, err := b.reports.TrialBalance(context.Background(), b.scope, day(time.January, 31))
	require.NoError(t, err)
	assert.Equal(t, int64(6000), ledger.Minor(tb.TotalDebit))
	assert.Equal(t, ledger.Minor(tb.TotalDebit), ledger.Minor(tb.TotalCredit))
}

func TestBalanceSheet_Equation(t *testing.T) {
	b := newBooks(t)
	b.fill(t)

	bs, err := b.reports.BalanceSheet(context.Background(), b.scope, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(8200), ledger.Minor(bs.TotalAssets))
	assert.Equal(t, int64(2000), ledger.Minor(bs.TotalLiabilities))
	assert.Equal(t, int64(1200), ledger.Minor(bs.CurrentEarnings))
	assert.Equal(t, int64(6200), ledger.Minor(bs.TotalEquity))
	assert.Equal(t, ledger.Minor(bs.TotalAssets), ledger.Minor(bs.TotalLiabilities)+ledger.Minor(bs.TotalEquity))
}

func TestProfitAndLoss_Range(t *testing.T) {
	b := newBooks(t)
	b.fill(t)
	ctx := context.Background()

	pl, err := b.reports.ProfitAndLoss(ctx, b.scope, day(time.February, 1), day(time.February, 28))
	require.NoError(t, err)
	assert.Empty(t, pl.Revenue)
	assert.Equal(t, int64(400), ledger.Minor(pl.TotalExpense))
	assert.Equal(t, int64(-400), ledger.Minor(pl.NetIncome))

	pl, err = b.reports.ProfitAndLoss(ctx, b.scope, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1600), ledger.Minor(pl.TotalRevenue))
	assert.Equal(t, int64(1200), ledger.Minor(pl.NetIncome))

	_, err = b.reports.ProfitAndLoss(ctx, b.scope, day(time.March, 1), day(time.February, 1))
	assert.Equal(t, errs.RuleInvalidField, errs.RuleOf(err))
}

func TestGeneralLedger_RunningBalance(t *testing.T) {
	b := newBooks(t)
	b.fill(t)

	gl, err := b.reports.GeneralLedger(context.Background(), b.scope, b.accts["1000"].ID, day(time.February, 1), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(6000), ledger.Minor(gl.Opening))
	require.Len(t, gl.Lines, 3)
	var balances []int64
	for _, l := range gl.Lines {
		balances = append(balances, ledger.Minor(l.Balance))
	}
	assert.Equal(t, []int64{5600, 7600, 8200}, balances)
	assert.Equal(t, int64(8200), ledger.Minor(gl.Closing))

	_, err = b.reports.GeneralLedger(context.Background(), b.scope, uuid.New(), time.Time{}, time.Time{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestReports_ReversalNetsOut(t *testing.T) {
	b := newBooks(t)
	ctx := context.Background()
	p := authz.As(uuid.New(), authz.AllowAll)
	v, err := b.eng.Submit(ctx, p, ledger.Voucher{
		Scope: b.scope,
		Date:  day(time.January, 15),
		Lines: []ledger.Line{
			{AccountID: b.accts["1000"].ID, Debit: ledger.Amount("USD", 900), Credit: ledger.Amount("USD", 0)},
			{AccountID: b.accts["4000"].ID, Debit: ledger.Amount("USD", 0), Credit: ledger.Amount("USD", 900)},
		},
	})
	require.NoError(t, err)
	_, err = b.eng.Reverse(ctx, p, b.scope.BusinessID, v.ID, time.Time{})
	require.NoError(t, err)

	pl, err := b.reports.ProfitAndLoss(ctx, b.scope, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), ledger.Minor(pl.NetIncome))
}
