// Package authz carries the authorization capability into every mutating
// ledger operation. The engine never decides who may do what; it asks the
// Authorizer handed to it by the caller.
package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
)

// Action names a mutating ledger operation.
type Action string

const (
	ActionAccountWrite    Action = "account.write"
	ActionVoucherDraft    Action = "voucher.draft"
	ActionVoucherPost     Action = "voucher.post"
	ActionVoucherReverse  Action = "voucher.reverse"
	ActionBudgetWrite     Action = "budget.write"
	ActionAssetWrite      Action = "asset.write"
	ActionDepreciationRun Action = "depreciation.run"
)

// Authorizer answers whether actor may perform action within scope.
type Authorizer interface {
	Authorized(ctx context.Context, actorID uuid.UUID, action Action, scope ledger.Scope) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, actorID uuid.UUID, action Action, scope ledger.Scope) bool

func (f AuthorizerFunc) Authorized(ctx context.Context, actorID uuid.UUID, action Action, scope ledger.Scope) bool {
	return f(ctx, actorID, action, scope)
}

// AllowAll grants every action. Used by the dev server and tests.
var AllowAll Authorizer = AuthorizerFunc(func(context.Context, uuid.UUID, Action, ledger.Scope) bool { return true })

// DenyAll refuses every action.
var DenyAll Authorizer = AuthorizerFunc(func(context.Context, uuid.UUID, Action, ledger.Scope) bool { return false })

// Principal is the acting user together with the capability that vouches for them.
type Principal struct {
	ActorID uuid.UUID
	Authz   Authorizer
}

// As returns a Principal for actorID checked by a.
func As(actorID uuid.UUID, a Authorizer) Principal { return Principal{ActorID: actorID, Authz: a} }

// Require fails with errs.ErrPermissionDenied unless the principal may perform action in scope.
// A principal without an Authorizer is denied.
func (p Principal) Require(ctx context.Context, action Action, scope ledger.Scope) error {
	if p.Authz == nil || !p.Authz.Authorized(ctx, p.ActorID, action, scope) {
		return fmt.Errorf("%w: %s on business %s", errs.ErrPermissionDenied, action, scope.BusinessID)
	}
	return nil
}
