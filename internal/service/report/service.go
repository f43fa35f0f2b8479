// Package report derives trial balance, balance sheet, profit and loss and
// general ledger views from posted entries. Reports are read-only and read
// the entry log at a single commit boundary.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
)

type Repo interface {
	ListAccounts(ctx context.Context, businessID uuid.UUID) ([]ledger.Account, error)
	// EntriesByScope returns the posted entries inside scope that match f, in
	// sequence order, as of one commit boundary.
	EntriesByScope(ctx context.Context, scope ledger.Scope, f ledger.EntryFilter) ([]ledger.Entry, error)
}

// Row is one account line of a report.
type Row struct {
	AccountID   uuid.UUID
	AccountCode string
	AccountName string
	Type        ledger.AccountType
	Debit       money.Amount
	Credit      money.Amount
	// Balance is in the account's normal direction.
	Balance money.Amount
	// ActivityDebit and ActivityCredit are the gross postings behind Balance.
	ActivityDebit  money.Amount
	ActivityCredit money.Amount
}

type TrialBalance struct {
	Scope       ledger.Scope
	AsOf        time.Time
	Rows        []Row
	TotalDebit  money.Amount
	TotalCredit money.Amount
}

type BalanceSheet struct {
	Scope       ledger.Scope
	AsOf        time.Time
	Assets      []Row
	Liabilities []Row
	Equity      []Row
	// CurrentEarnings is revenue minus expense to date, shown under equity.
	CurrentEarnings  money.Amount
	TotalAssets      money.Amount
	TotalLiabilities money.Amount
	TotalEquity      money.Amount
}

type ProfitAndLoss struct {
	Scope        ledger.Scope
	From, To     time.Time
	Revenue      []Row
	Expenses     []Row
	TotalRevenue money.Amount
	TotalExpense money.Amount
	NetIncome    money.Amount
}

// LedgerLine is one entry of a general ledger with the balance after it.
type LedgerLine struct {
	Sequence  int64
	VoucherID uuid.UUID
	Date      time.Time
	Debit     money.Amount
	Credit    money.Amount
	Balance   money.Amount
}

type GeneralLedger struct {
	Account ledger.Account
	From    time.Time
	To      time.Time
	Opening money.Amount
	Lines   []LedgerLine
	Closing money.Amount
}

type Service interface {
	TrialBalance(ctx context.Context, scope ledger.Scope, asOf time.Time) (TrialBalance, error)
	BalanceSheet(ctx context.Context, scope ledger.Scope, asOf time.Time) (BalanceSheet, error)
	ProfitAndLoss(ctx context.Context, scope ledger.Scope, from, to time.Time) (ProfitAndLoss, error)
	GeneralLedger(ctx context.Context, scope ledger.Scope, accountID uuid.UUID, from, to time.Time) (GeneralLedger, error)
}

type service struct {
	repo     Repo
	currency string
}

func New(repo Repo, currency string) Service {
	if currency == "" {
		currency = "USD"
	}
	return &service{repo: repo, currency: currency}
}

// totals is the per-account activity of a snapshot.
type totals struct {
	debit, credit int64
}

func (t totals) raw() int64 { return t.debit - t.credit }

// snapshot reads entries first and accounts second: an account referenced by
// an entry always exists by the time the account list is read.
func (s *service) snapshot(ctx context.Context, scope ledger.Scope, f ledger.EntryFilter) ([]ledger.Account, map[uuid.UUID]totals, error) {
	if scope.BusinessID == uuid.Nil {
		return nil, nil, errs.ErrInvalid
	}
	entries, err := s.repo.EntriesByScope(ctx, scope, f)
	if err != nil {
		return nil, nil, err
	}
	accounts, err := s.repo.ListAccounts(ctx, scope.BusinessID)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Code < accounts[j].Code })
	byAccount := make(map[uuid.UUID]totals)
	for _, e := range entries {
		t := byAccount[e.AccountID]
		t.debit += ledger.Minor(e.Debit)
		t.credit += ledger.Minor(e.Credit)
		byAccount[e.AccountID] = t
	}
	return accounts, byAccount, nil
}

func (s *service) amt(units int64) money.Amount { return ledger.Amount(s.currency, units) }

func (s *service) row(a ledger.Account, t totals) Row {
	return Row{
		AccountID:   a.ID,
		AccountCode: a.Code,
		AccountName: a.Name,
		Type:        a.Type,
		Debit:       s.amt(t.debit),
		Credit:      s.amt(t.credit),
		Balance:     s.amt(a.Type.Signed(t.raw())),

		ActivityDebit:  s.amt(t.debit),
		ActivityCredit: s.amt(t.credit),
	}
}

func upTo(asOf time.Time) ledger.EntryFilter {
	if asOf.IsZero() {
		return ledger.EntryFilter{}
	}
	return ledger.EntryFilter{To: &asOf}
}

// TrialBalance lists each account with activity. Debit and Credit hold the net
// balance in its natural column; ActivityDebit and ActivityCredit keep the
// gross postings. Debit and credit totals must agree.
func (s *service) TrialBalance(ctx context.Context, scope ledger.Scope, asOf time.Time) (TrialBalance, error) {
	accounts, byAccount, err := s.snapshot(ctx, scope, upTo(asOf))
	if err != nil {
		return TrialBalance{}, err
	}
	tb := TrialBalance{Scope: scope, AsOf: asOf}
	var dr, cr int64
	for _, a := range accounts {
		t, ok := byAccount[a.ID]
		if !ok {
			continue
		}
		net := t.raw()
		col := totals{}
		if net >= 0 {
			col.debit = net
		} else {
			col.credit = -net
		}
		dr += col.debit
		cr += col.credit
		r := s.row(a, t)
		r.Debit, r.Credit = s.amt(col.debit), s.amt(col.credit)
		tb.Rows = append(tb.Rows, r)
	}
	tb.TotalDebit, tb.TotalCredit = s.amt(dr), s.amt(cr)
	if dr != cr {
		return tb, &errs.ConsistencyError{What: "trial balance debits vs credits", Cached: dr, Recomputed: cr}
	}
	return tb, nil
}

// BalanceSheet sums balances per type at asOf. Revenue minus expense to date
// is carried as current earnings so that assets = liabilities + equity.
func (s *service) BalanceSheet(ctx context.Context, scope ledger.Scope, asOf time.Time) (BalanceSheet, error) {
	accounts, byAccount, err := s.snapshot(ctx, scope, upTo(asOf))
	if err != nil {
		return BalanceSheet{}, err
	}
	bs := BalanceSheet{Scope: scope, AsOf: asOf}
	var assets, liabilities, equity, earnings int64
	for _, a := range accounts {
		t, ok := byAccount[a.ID]
		if !ok {
			continue
		}
		bal := a.Type.Signed(t.raw())
		switch a.Type {
		case ledger.AccountTypeAsset:
			assets += bal
			bs.Assets = append(bs.Assets, s.row(a, t))
		case ledger.AccountTypeLiability:
			liabilities += bal
			bs.Liabilities = append(bs.Liabilities, s.row(a, t))
		case ledger.AccountTypeEquity:
			equity += bal
			bs.Equity = append(bs.Equity, s.row(a, t))
		case ledger.AccountTypeRevenue:
			earnings += bal
		case ledger.AccountTypeExpense:
			earnings -= bal
		}
	}
	equity += earnings
	bs.CurrentEarnings = s.amt(earnings)
	bs.TotalAssets = s.amt(assets)
	bs.TotalLiabilities = s.amt(liabilities)
	bs.TotalEquity = s.amt(equity)
	if assets != liabilities+equity {
		return bs, &errs.ConsistencyError{What: "assets vs liabilities+equity", Cached: assets, Recomputed: liabilities + equity}
	}
	return bs, nil
}

// ProfitAndLoss reports revenue and expense posted with dates in [from, to].
func (s *service) ProfitAndLoss(ctx context.Context, scope ledger.Scope, from, to time.Time) (ProfitAndLoss, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return ProfitAndLoss{}, errs.Validation(errs.RuleInvalidField, "to is before from")
	}
	f := upTo(to)
	if !from.IsZero() {
		f.From = &from
	}
	accounts, byAccount, err := s.snapshot(ctx, scope, f)
	if err != nil {
		return ProfitAndLoss{}, err
	}
	pl := ProfitAndLoss{Scope: scope, From: from, To: to}
	var revenue, expense int64
	for _, a := range accounts {
		t, ok := byAccount[a.ID]
		if !ok {
			continue
		}
		bal := a.Type.Signed(t.raw())
		switch a.Type {
		case ledger.AccountTypeRevenue:
			revenue += bal
			pl.Revenue = append(pl.Revenue, s.row(a, t))
		case ledger.AccountTypeExpense:
			expense += bal
			pl.Expenses = append(pl.Expenses, s.row(a, t))
		}
	}
	pl.TotalRevenue = s.amt(revenue)
	pl.TotalExpense = s.amt(expense)
	pl.NetIncome = s.amt(revenue - expense)
	return pl, nil
}

// GeneralLedger lists an account's entries in [from, to] with a running
// balance that starts from everything posted before from.
func (s *service) GeneralLedger(ctx context.Context, scope ledger.Scope, accountID uuid.UUID, from, to time.Time) (GeneralLedger, error) {
	if scope.BusinessID == uuid.Nil || accountID == uuid.Nil {
		return GeneralLedger{}, errs.ErrInvalid
	}
	f := upTo(to)
	f.AccountID = accountID
	entries, err := s.repo.EntriesByScope(ctx, scope, f)
	if err != nil {
		return GeneralLedger{}, err
	}
	accounts, err := s.repo.ListAccounts(ctx, scope.BusinessID)
	if err != nil {
		return GeneralLedger{}, err
	}
	var acc ledger.Account
	found := false
	for _, a := range accounts {
		if a.ID == accountID {
			acc, found = a, true
			break
		}
	}
	if !found {
		return GeneralLedger{}, fmt.Errorf("%w: account %s", errs.ErrNotFound, accountID)
	}
	gl := GeneralLedger{Account: acc, From: from, To: to}
	var running int64
	inRange := entries[:0:0]
	for _, e := range entries {
		if !from.IsZero() && e.Date.Before(from) {
			running += e.Net()
			continue
		}
		inRange = append(inRange, e)
	}
	sort.SliceStable(inRange, func(i, j int) bool { return inRange[i].Date.Before(inRange[j].Date) })
	gl.Opening = s.amt(acc.Type.Signed(running))
	for _, e := range inRange {
		running += e.Net()
		gl.Lines = append(gl.Lines, LedgerLine{
			Sequence:  e.Sequence,
			VoucherID: e.VoucherID,
			Date:      e.Date,
			Debit:     e.Debit,
			Credit:    e.Credit,
			Balance:   s.amt(acc.Type.Signed(running)),
		})
	}
	gl.Closing = s.amt(acc.Type.Signed(running))
	return gl, nil
}
