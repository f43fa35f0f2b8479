package account_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/erpledger/internal/authz"
	"github.com/tinoosan/erpledger/internal/dictionary"
	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
	"github.com/tinoosan/erpledger/internal/service/account"
	"github.com/tinoosan/erpledger/internal/service/journal"
	"github.com/tinoosan/erpledger/internal/storage/memory"
)

func setup(t *testing.T) (*memory.Store, account.Service, authz.Principal, ledger.Scope) {
	t.Helper()
	st := memory.New()
	return st, account.New(st, st), authz.As(uuid.New(), authz.AllowAll), ledger.Scope{BusinessID: uuid.New()}
}

func byCode(t *testing.T, svc account.Service, businessID uuid.UUID, code string) ledger.Account {
	t.Helper()
	all, err := svc.List(context.Background(), businessID, true)
	require.NoError(t, err)
	for _, a := range all {
		if a.Code == code {
			return a
		}
	}
	t.Fatalf("account %s not found", code)
	return ledger.Account{}
}

func TestCreate(t *testing.T) {
	_, svc, p, scope := setup(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, p, ledger.Account{BusinessID: scope.BusinessID, Code: " 1000 ", Name: "Cash", Type: ledger.AccountTypeAsset})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, "1000", a.Code)
	assert.True(t, a.Active)

	_, err = svc.Create(ctx, p, ledger.Account{BusinessID: scope.BusinessID, Code: "1000", Name: "Again", Type: ledger.AccountTypeAsset})
	assert.ErrorIs(t, err, errs.ErrConflict)

	for _, bad := range []ledger.Account{
		{BusinessID: scope.BusinessID, Code: "10 00", Name: "x", Type: ledger.AccountTypeAsset},
		{BusinessID: scope.BusinessID, Code: "2000", Name: "", Type: ledger.AccountTypeAsset},
		{BusinessID: scope.BusinessID, Code: "2000", Name: "x", Type: "income"},
		{Code: "2000", Name: "x", Type: ledger.AccountTypeAsset},
	} {
		_, err := svc.Create(ctx, p, bad)
		assert.Equal(t, errs.RuleInvalidField, errs.RuleOf(err), "%+v", bad)
	}

	_, err = svc.Create(ctx, authz.As(uuid.New(), authz.DenyAll), ledger.Account{BusinessID: scope.BusinessID, Code: "3000", Name: "x", Type: ledger.AccountTypeEquity})
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)
}

func TestInstallChart_Idempotent(t *testing.T) {
	_, svc, p, scope := setup(t)
	ctx := context.Background()

	created, err := svc.InstallChart(ctx, p, scope, dictionary.DefaultChart())
	require.NoError(t, err)
	assert.Len(t, created, len(dictionary.DefaultChart()))

	again, err := svc.InstallChart(ctx, p, scope, dictionary.DefaultChart())
	require.NoError(t, err)
	assert.Empty(t, again)

	root := byCode(t, svc, scope.BusinessID, "1")
	assert.True(t, root.System)
	cash := byCode(t, svc, scope.BusinessID, dictionary.CodeCash)
	assert.Equal(t, root.ID, cash.ParentID)
	assert.False(t, cash.System)

	below, err := svc.IsDescendantOf(ctx, scope.BusinessID, byCode(t, svc, scope.BusinessID, dictionary.CodeAccumulatedDepreciation).ID, root.ID)
	require.NoError(t, err)
	assert.True(t, below)
}

func TestReparent_CycleLeavesHierarchyUnchanged(t *testing.T) {
	_, svc, p, scope := setup(t)
	ctx := context.Background()
	_, err := svc.InstallChart(ctx, p, scope, dictionary.DefaultChart())
	require.NoError(t, err)

	fixed := byCode(t, svc, scope.BusinessID, dictionary.CodeFixedAssets)
	accum := byCode(t, svc, scope.BusinessID, dictionary.CodeAccumulatedDepreciation)

	_, err = svc.Reparent(ctx, p, scope.BusinessID, fixed.ID, accum.ID)
	assert.Equal(t, errs.RuleCycle, errs.RuleOf(err))
	_, err = svc.Reparent(ctx, p, scope.BusinessID, fixed.ID, fixed.ID)
	assert.Equal(t, errs.RuleCycle, errs.RuleOf(err))

	after := byCode(t, svc, scope.BusinessID, dictionary.CodeFixedAssets)
	assert.Equal(t, fixed.ParentID, after.ParentID)

	moved, err := svc.Reparent(ctx, p, scope.BusinessID, accum.ID, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, moved.ParentID)
	kids, err := svc.Children(ctx, scope.BusinessID, fixed.ID)
	require.NoError(t, err)
	assert.Empty(t, kids)
}

func TestReparent_ScopeBoundary(t *testing.T) {
	_, svc, p, scope := setup(t)
	ctx := context.Background()
	branchA, branchB := uuid.New(), uuid.New()

	parentA, err := svc.Create(ctx, p, ledger.Account{BusinessID: scope.BusinessID, BranchID: branchA, Code: "1000", Name: "Cash A", Type: ledger.AccountTypeAsset})
	require.NoError(t, err)
	childB, err := svc.Create(ctx, p, ledger.Account{BusinessID: scope.BusinessID, BranchID: branchB, Code: "1001", Name: "Cash B", Type: ledger.AccountTypeAsset})
	require.NoError(t, err)

	_, err = svc.Reparent(ctx, p, scope.BusinessID, childB.ID, parentA.ID)
	assert.Equal(t, errs.RuleScopeBoundary, errs.RuleOf(err))

	_, err = svc.Create(ctx, p, ledger.Account{BusinessID: scope.BusinessID, BranchID: branchB, Code: "1002", Name: "x", Type: ledger.AccountTypeAsset, ParentID: parentA.ID})
	assert.Equal(t, errs.RuleScopeBoundary, errs.RuleOf(err))

	// business-wide parents take children from any branch
	shared, err := svc.Create(ctx, p, ledger.Account{BusinessID: scope.BusinessID, Code: "1", Name: "Assets", Type: ledger.AccountTypeAsset})
	require.NoError(t, err)
	_, err = svc.Reparent(ctx, p, scope.BusinessID, childB.ID, shared.ID)
	require.NoError(t, err)

	active, err := svc.ActiveAccounts(ctx, ledger.Scope{BusinessID: scope.BusinessID, BranchID: branchB})
	require.NoError(t, err)
	codes := make([]string, 0, len(active))
	for _, a := range active {
		codes = append(codes, a.Code)
	}
	assert.ElementsMatch(t, []string{"1", "1001"}, codes)
}

func TestDeactivateAndDelete(t *testing.T) {
	st, svc, p, scope := setup(t)
	ctx := context.Background()
	_, err := svc.InstallChart(ctx, p, scope, dictionary.DefaultChart())
	require.NoError(t, err)

	root := byCode(t, svc, scope.BusinessID, "1")
	assert.ErrorIs(t, svc.Deactivate(ctx, p, scope.BusinessID, root.ID), errs.ErrSystemAccount)
	_, err = svc.Rename(ctx, p, scope.BusinessID, root.ID, "Stuff", "")
	assert.ErrorIs(t, err, errs.ErrSystemAccount)

	fixed := byCode(t, svc, scope.BusinessID, dictionary.CodeFixedAssets)
	assert.ErrorIs(t, svc.Deactivate(ctx, p, scope.BusinessID, fixed.ID), errs.ErrConflict)

	// unused leaf is removed outright
	inventory := byCode(t, svc, scope.BusinessID, "1200")
	deleted, err := svc.Delete(ctx, p, scope.BusinessID, inventory.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = svc.Get(ctx, scope.BusinessID, inventory.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// an account with postings is only deactivated
	cash := byCode(t, svc, scope.BusinessID, dictionary.CodeCash)
	sales := byCode(t, svc, scope.BusinessID, dictionary.CodeSales)
	eng := journal.New(st, st, journal.Options{Currency: "USD"})
	_, err = eng.Submit(ctx, p, ledger.Voucher{
		Scope: ledger.Scope{BusinessID: scope.BusinessID, BranchID: uuid.New()},
		Date:  time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		Lines: []ledger.Line{
			{AccountID: cash.ID, Debit: ledger.Amount("USD", 500), Credit: ledger.Amount("USD", 0)},
			{AccountID: sales.ID, Debit: ledger.Amount("USD", 0), Credit: ledger.Amount("USD", 500)},
		},
	})
	require.NoError(t, err)

	deleted, err = svc.Delete(ctx, p, scope.BusinessID, cash.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
	got, err := svc.Get(ctx, scope.BusinessID, cash.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	visible, err := svc.List(ctx, scope.BusinessID, false)
	require.NoError(t, err)
	for _, a := range visible {
		assert.NotEqual(t, cash.ID, a.ID)
	}
}
