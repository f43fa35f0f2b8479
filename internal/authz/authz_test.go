package authz

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
)

func TestPrincipalRequire(t *testing.T) {
	ctx := context.Background()
	scope := ledger.Scope{BusinessID: uuid.New(), BranchID: uuid.New()}

	require.NoError(t, As(uuid.New(), AllowAll).Require(ctx, ActionVoucherPost, scope))

	err := As(uuid.New(), DenyAll).Require(ctx, ActionVoucherPost, scope)
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	err = Principal{ActorID: uuid.New()}.Require(ctx, ActionVoucherPost, scope)
	assert.ErrorIs(t, err, errs.ErrPermissionDenied, "nil authorizer must deny")
}

func TestPolicyFromYAML(t *testing.T) {
	actor := uuid.New()
	biz := uuid.New()
	branch := uuid.New()
	other := uuid.New()
	body := "grants:\n" +
		"  - actor: " + actor.String() + "\n" +
		"    business: " + biz.String() + "\n" +
		"    actions: [\"voucher.draft\", \"voucher.post\"]\n" +
		"  - actor: " + other.String() + "\n" +
		"    business: " + biz.String() + "\n" +
		"    branch: " + branch.String() + "\n" +
		"    actions: [\"*\"]\n"
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	require.Len(t, p.Grants, 2)

	ctx := context.Background()
	inBranch := ledger.Scope{BusinessID: biz, BranchID: branch}
	elsewhere := ledger.Scope{BusinessID: biz, BranchID: uuid.New()}

	assert.True(t, p.Authorized(ctx, actor, ActionVoucherPost, elsewhere))
	assert.False(t, p.Authorized(ctx, actor, ActionVoucherReverse, elsewhere))
	assert.True(t, p.Authorized(ctx, other, ActionVoucherReverse, inBranch))
	assert.False(t, p.Authorized(ctx, other, ActionVoucherReverse, elsewhere))
	assert.False(t, p.Authorized(ctx, uuid.New(), ActionVoucherPost, inBranch))
	assert.False(t, p.Authorized(ctx, actor, ActionVoucherPost, ledger.Scope{BusinessID: uuid.New()}))
}
