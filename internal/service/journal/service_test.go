package journal_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/erpledger/internal/authz"
	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
	"github.com/tinoosan/erpledger/internal/service/journal"
	"github.com/tinoosan/erpledger/internal/storage/memory"
)

type fixture struct {
	store *memory.Store
	eng   journal.Service
	p     authz.Principal
	scope ledger.Scope
	cash  ledger.Account
	sales ledger.Account
	rent  ledger.Account
}

func newFixture(t *testing.T, opts journal.Options) *fixture {
	t.Helper()
	st := memory.New()
	scope := ledger.Scope{BusinessID: uuid.New(), BranchID: uuid.New()}
	mk := func(code string, typ ledger.AccountType) ledger.Account {
		a := ledger.Account{ID: uuid.New(), BusinessID: scope.BusinessID, Code: code, Name: code, Type: typ, Active: true}
		st.SeedAccount(a)
		return a
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	return &fixture{
		store: st,
		eng:   journal.New(st, st, opts),
		p:     authz.As(uuid.New(), authz.AllowAll),
		scope: scope,
		cash:  mk("1000", ledger.AccountTypeAsset),
		sales: mk("4000", ledger.AccountTypeRevenue),
		rent:  mk("6000", ledger.AccountTypeExpense),
	}
}

func dr(a ledger.Account, units int64) ledger.Line {
	return ledger.Line{AccountID: a.ID, Debit: ledger.Amount("USD", units), Credit: ledger.Amount("USD", 0)}
}

func cr(a ledger.Account, units int64) ledger.Line {
	return ledger.Line{AccountID: a.ID, Debit: ledger.Amount("USD", 0), Credit: ledger.Amount("USD", units)}
}

func (f *fixture) voucher(lines ...ledger.Line) ledger.Voucher {
	return ledger.Voucher{Scope: f.scope, Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Reference: "test", Lines: lines}
}

func (f *fixture) balance(t *testing.T, a ledger.Account) int64 {
	t.Helper()
	raw, err := f.store.CachedBalance(context.Background(), a.ID)
	require.NoError(t, err)
	return a.Type.Signed(raw)
}

func TestSubmit_CashSales(t *testing.T) {
	f := newFixture(t, journal.Options{})
	ctx := context.Background()

	v, err := f.eng.Submit(ctx, f.p, f.voucher(dr(f.cash, 1000), cr(f.sales, 1000)))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPosted, v.Status)
	assert.Equal(t, "JV-00001", v.Number)
	assert.Equal(t, int64(1), v.Sequence)
	assert.False(t, v.PostedAt.IsZero())
	assert.Equal(t, f.p.ActorID, v.AuthorID)

	assert.Equal(t, int64(1000), f.balance(t, f.cash))
	assert.Equal(t, int64(1000), f.balance(t, f.sales))
}

func TestReverse_RestoresBalances(t *testing.T) {
	f := newFixture(t, journal.Options{})
	ctx := context.Background()

	orig, err := f.eng.Submit(ctx, f.p, f.voucher(dr(f.cash, 1000), cr(f.sales, 1000)))
	require.NoError(t, err)

	rev, err := f.eng.Reverse(ctx, f.p, f.scope.BusinessID, orig.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPosted, rev.Status)
	assert.Equal(t, orig.ID, rev.ReversalOf)
	assert.Equal(t, orig.Scope, rev.Scope)
	assert.Greater(t, rev.Sequence, orig.Sequence)
	require.Len(t, rev.Lines, 2)
	assert.Equal(t, int64(1000), ledger.Minor(rev.Lines[0].Credit))
	assert.Equal(t, int64(1000), ledger.Minor(rev.Lines[1].Debit))

	assert.Zero(t, f.balance(t, f.cash))
	assert.Zero(t, f.balance(t, f.sales))

	got, err := f.eng.Get(ctx, f.scope.BusinessID, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusReversed, got.Status)
	assert.Equal(t, rev.ID, got.ReversedBy)
	assert.Equal(t, orig.Lines, got.Lines)

	_, err = f.eng.Reverse(ctx, f.p, f.scope.BusinessID, orig.ID, time.Time{})
	assert.ErrorIs(t, err, errs.ErrImmutable)
}

func TestReverse_RejectsDraftAndMissing(t *testing.T) {
	f := newFixture(t, journal.Options{})
	ctx := context.Background()

	d, err := f.eng.CreateDraft(ctx, f.p, f.voucher(dr(f.cash, 10), cr(f.sales, 10)))
	require.NoError(t, err)
	_, err = f.eng.Reverse(ctx, f.p, f.scope.BusinessID, d.ID, time.Time{})
	assert.ErrorIs(t, err, errs.ErrImmutable)

	_, err = f.eng.Reverse(ctx, f.p, f.scope.BusinessID, uuid.New(), time.Time{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSubmit_UnbalancedLeavesStoreUnchanged(t *testing.T) {
	f := newFixture(t, journal.Options{})
	ctx := context.Background()

	_, err := f.eng.Submit(ctx, f.p, f.voucher(dr(f.cash, 500), cr(f.sales, 400)))
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Equal(t, errs.RuleUnbalanced, errs.RuleOf(err))

	seq, err := f.store.LastSequence(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)
	all, err := f.eng.List(ctx, f.scope)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Zero(t, f.balance(t, f.cash))
}

func TestValidate_Rules(t *testing.T) {
	f := newFixture(t, journal.Options{})
	ctx := context.Background()

	otherBranch := ledger.Account{ID: uuid.New(), BusinessID: f.scope.BusinessID, BranchID: uuid.New(), Code: "1001", Name: "Branch cash", Type: ledger.AccountTypeAsset, Active: true}
	f.store.SeedAccount(otherBranch)
	inactive := ledger.Account{ID: uuid.New(), BusinessID: f.scope.BusinessID, Code: "1002", Name: "Old", Type: ledger.AccountTypeAsset}
	f.store.SeedAccount(inactive)

	both := dr(f.cash, 10)
	both.Credit = ledger.Amount("USD", 10)
	eur := ledger.Line{AccountID: f.cash.ID, Debit: ledger.Amount("EUR", 10), Credit: ledger.Amount("EUR", 0)}

	cases := []struct {
		name string
		v    ledger.Voucher
		rule string
	}{
		{"no lines", f.voucher(), errs.RuleNoLines},
		{"both sides", f.voucher(both, cr(f.sales, 10)), errs.RuleOneSide},
		{"zero line", f.voucher(dr(f.cash, 0), cr(f.sales, 0)), errs.RuleOneSide},
		{"unbalanced", f.voucher(dr(f.cash, 10), cr(f.sales, 9)), errs.RuleUnbalanced},
		{"unknown account", f.voucher(dr(ledger.Account{ID: uuid.New()}, 10), cr(f.sales, 10)), errs.RuleUnknownAccount},
		{"wrong scope", f.voucher(dr(otherBranch, 10), cr(f.sales, 10)), errs.RuleWrongScope},
		{"inactive", f.voucher(dr(inactive, 10), cr(f.sales, 10)), errs.RuleInactiveAccount},
		{"line currency", f.voucher(eur, cr(f.sales, 10)), errs.RuleCurrency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.v.Currency = "USD"
			err := f.eng.Validate(ctx, tc.v)
			require.Error(t, err)
			var ve *errs.ValidationError
			require.True(t, errors.As(err, &ve), "want *ValidationError, got %v", err)
			assert.Equal(t, tc.rule, ve.Rule)
		})
	}

	v := f.voucher(dr(f.cash, 10), cr(f.sales, 10))
	v.Currency = "EUR"
	assert.Equal(t, errs.RuleCurrency, errs.RuleOf(f.eng.Validate(ctx, v)))
}

func TestSubmit_RejectsAmountsThatWouldOverflow(t *testing.T) {
	f := newFixture(t, journal.Options{})
	ctx := context.Background()

	var lines []ledger.Line
	for i := 0; i < 4; i++ {
		lines = append(lines, dr(f.cash, 1<<62))
	}
	for i := 0; i < 8; i++ {
		lines = append(lines, cr(f.sales, 1<<62))
	}
	_, err := f.eng.Submit(ctx, f.p, f.voucher(lines...))
	var ve *errs.ValidationError
	require.True(t, errors.As(err, &ve), "want *ValidationError, got %v", err)
	assert.Equal(t, errs.RuleInvalidField, ve.Rule)
	assert.Equal(t, 0, ve.Line)

	// every line within the cap, but the sums leave int64
	n := int(math.MaxInt64/ledger.MaxLineMinor) + 1
	lines = lines[:0]
	for i := 0; i < n; i++ {
		lines = append(lines, dr(f.cash, ledger.MaxLineMinor))
	}
	lines = append(lines, cr(f.sales, 1))
	_, err = f.eng.Submit(ctx, f.p, f.voucher(lines...))
	assert.Equal(t, errs.RuleUnbalanced, errs.RuleOf(err))

	seq, err := f.store.LastSequence(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)
	assert.Zero(t, f.balance(t, f.cash))
}

func TestTolerance(t *testing.T) {
	f := newFixture(t, journal.Options{Tolerance: 1})
	_, err := f.eng.Submit(context.Background(), f.p, f.voucher(dr(f.cash, 101), cr(f.sales, 100)))
	require.NoError(t, err)
	_, err = f.eng.Submit(context.Background(), f.p, f.voucher(dr(f.cash, 102), cr(f.sales, 100)))
	assert.Equal(t, errs.RuleUnbalanced, errs.RuleOf(err))
}

func TestDraftLifecycle(t *testing.T) {
	f := newFixture(t, journal.Options{})
	ctx := context.Background()

	_, err := f.eng.CreateDraft(ctx, f.p, f.voucher())
	assert.Equal(t, errs.RuleNoLines, errs.RuleOf(err))

	// structural checks only: an unbalanced draft is accepted
	d, err := f.eng.CreateDraft(ctx, f.p, f.voucher(dr(f.cash, 10), cr(f.sales, 5)))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDraft, d.Status)
	assert.Zero(t, d.Sequence)

	_, err = f.eng.Post(ctx, f.p, f.scope.BusinessID, d.ID)
	assert.Equal(t, errs.RuleUnbalanced, errs.RuleOf(err))

	d.Lines = []ledger.Line{dr(f.cash, 10), cr(f.sales, 10)}
	d, err = f.eng.UpdateDraft(ctx, f.p, d)
	require.NoError(t, err)

	posted, err := f.eng.Post(ctx, f.p, f.scope.BusinessID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPosted, posted.Status)

	_, err = f.eng.Post(ctx, f.p, f.scope.BusinessID, d.ID)
	assert.ErrorIs(t, err, errs.ErrImmutable)
	_, err = f.eng.UpdateDraft(ctx, f.p, posted)
	assert.ErrorIs(t, err, errs.ErrImmutable)
	assert.ErrorIs(t, f.eng.Abandon(ctx, f.p, f.scope.BusinessID, posted.ID), errs.ErrImmutable)

	other, err := f.eng.CreateDraft(ctx, f.p, f.voucher(dr(f.rent, 1), cr(f.cash, 1)))
	require.NoError(t, err)
	require.NoError(t, f.eng.Abandon(ctx, f.p, f.scope.BusinessID, other.ID))
	_, err = f.eng.Get(ctx, f.scope.BusinessID, other.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPermissionDeniedBeforeValidation(t *testing.T) {
	f := newFixture(t, journal.Options{})
	ctx := context.Background()
	denied := authz.As(uuid.New(), authz.DenyAll)

	_, err := f.eng.Submit(ctx, denied, f.voucher(dr(f.cash, 500), cr(f.sales, 400)))
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)
	assert.Empty(t, errs.RuleOf(err))

	_, err = f.eng.CreateDraft(ctx, denied, f.voucher())
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	posted, err := f.eng.Submit(ctx, f.p, f.voucher(dr(f.cash, 1), cr(f.sales, 1)))
	require.NoError(t, err)
	_, err = f.eng.Reverse(ctx, denied, f.scope.BusinessID, posted.ID, time.Time{})
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	_, err = f.eng.Submit(ctx, authz.Principal{ActorID: uuid.New()}, f.voucher(dr(f.cash, 1), cr(f.sales, 1)))
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)
}

func TestUnknownVoucherDoesNotLeakToDeniedCallers(t *testing.T) {
	f := newFixture(t, journal.Options{})
	ctx := context.Background()
	denied := authz.As(uuid.New(), authz.DenyAll)
	missing := uuid.New()

	_, err := f.eng.Post(ctx, denied, f.scope.BusinessID, missing)
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)
	_, err = f.eng.Reverse(ctx, denied, f.scope.BusinessID, missing, time.Time{})
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)
	assert.ErrorIs(t, f.eng.Abandon(ctx, denied, f.scope.BusinessID, missing), errs.ErrPermissionDenied)
	ghost := f.voucher(dr(f.cash, 1), cr(f.sales, 1))
	ghost.ID = missing
	_, err = f.eng.UpdateDraft(ctx, denied, ghost)
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	_, err = f.eng.Post(ctx, f.p, f.scope.BusinessID, missing)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// a branch-scoped grant still reaches vouchers in its branch
	clerk := uuid.New()
	policy := &authz.Policy{Grants: []authz.Grant{{
		Actor: clerk, Business: f.scope.BusinessID, Branch: f.scope.BranchID,
		Actions: []authz.Action{authz.ActionVoucherDraft, authz.ActionVoucherPost},
	}}}
	p := authz.As(clerk, policy)
	d, err := f.eng.CreateDraft(ctx, p, f.voucher(dr(f.cash, 3), cr(f.sales, 3)))
	require.NoError(t, err)
	_, err = f.eng.Post(ctx, p, f.scope.BusinessID, d.ID)
	require.NoError(t, err)
	_, err = f.eng.Post(ctx, p, f.scope.BusinessID, missing)
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)
}

func TestReverse_AfterAccountDeactivated(t *testing.T) {
	f := newFixture(t, journal.Options{})
	ctx := context.Background()

	posted, err := f.eng.Submit(ctx, f.p, f.voucher(dr(f.rent, 70), cr(f.cash, 70)))
	require.NoError(t, err)
	rent := f.rent
	rent.Active = false
	_, err = f.store.UpdateAccount(ctx, rent)
	require.NoError(t, err)

	_, err = f.eng.Submit(ctx, f.p, f.voucher(dr(f.rent, 5), cr(f.cash, 5)))
	assert.Equal(t, errs.RuleInactiveAccount, errs.RuleOf(err))

	_, err = f.eng.Reverse(ctx, f.p, f.scope.BusinessID, posted.ID, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, f.balance(t, f.rent))
	assert.Zero(t, f.balance(t, f.cash))
}

func TestPost_DeactivatedAccountLeavesNoEntries(t *testing.T) {
	f := newFixture(t, journal.Options{})
	ctx := context.Background()

	d, err := f.eng.CreateDraft(ctx, f.p, f.voucher(dr(f.rent, 70), cr(f.cash, 70)))
	require.NoError(t, err)

	rent := f.rent
	rent.Active = false
	_, err = f.store.UpdateAccount(ctx, rent)
	require.NoError(t, err)

	_, err = f.eng.Post(ctx, f.p, f.scope.BusinessID, d.ID)
	assert.Equal(t, errs.RuleInactiveAccount, errs.RuleOf(err))

	used, err := f.store.HasEntries(ctx, f.cash.ID)
	require.NoError(t, err)
	assert.False(t, used)
	got, err := f.eng.Get(ctx, f.scope.BusinessID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDraft, got.Status)
}

func TestFindBySourceKey(t *testing.T) {
	f := newFixture(t, journal.Options{})
	ctx := context.Background()

	v := f.voucher(dr(f.rent, 5), cr(f.cash, 5))
	v.Source, v.SourceKey = "payroll", "payroll:2025-03"
	posted, err := f.eng.Submit(ctx, f.p, v)
	require.NoError(t, err)

	got, ok, err := f.eng.FindBySourceKey(ctx, f.scope.BusinessID, "payroll:2025-03")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, posted.ID, got.ID)

	_, err = f.eng.Submit(ctx, f.p, v)
	assert.ErrorIs(t, err, errs.ErrAlreadyPosted)
	all, err := f.eng.List(ctx, f.scope)
	require.NoError(t, err)
	assert.Len(t, all, 1, "failed submit must not leave a draft behind")
}

func TestConcurrentPostsSerializePerAccount(t *testing.T) {
	f := newFixture(t, journal.Options{})
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	seqs := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lines := []ledger.Line{dr(f.cash, 10), cr(f.sales, 10)}
			if i%2 == 0 {
				lines = []ledger.Line{dr(f.rent, 3), cr(f.cash, 3)}
			}
			v, err := f.eng.Submit(ctx, f.p, f.voucher(lines...))
			if assert.NoError(t, err) {
				seqs <- v.Sequence
			}
		}(i)
	}
	wg.Wait()
	close(seqs)

	seen := map[int64]bool{}
	for s := range seqs {
		assert.False(t, seen[s], "sequence %d assigned twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, n)

	for _, a := range []ledger.Account{f.cash, f.sales, f.rent} {
		cached, entries, err := f.store.BalanceSnapshot(ctx, a.ID)
		require.NoError(t, err)
		var recomputed int64
		for _, e := range entries {
			recomputed += e.Net()
		}
		assert.Equal(t, recomputed, cached, "account %s", a.Code)
	}
	assert.Equal(t, int64(25*10-25*3), f.balance(t, f.cash))
}

func TestPost_RespectsContextWhileWaitingForLocks(t *testing.T) {
	f := newFixture(t, journal.Options{})
	held, err := f.store.Begin(context.Background(), []uuid.UUID{f.cash.ID})
	require.NoError(t, err)
	defer held.Rollback(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.eng.Submit(ctx, f.p, f.voucher(dr(f.cash, 1), cr(f.sales, 1)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
