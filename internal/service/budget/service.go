// Package budget tracks budget targets and compares them with posted activity.
package budget

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/shopspring/decimal"

	"github.com/tinoosan/erpledger/internal/authz"
	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
)

type Repo interface {
	GetBudget(ctx context.Context, businessID, budgetID uuid.UUID) (ledger.Budget, error)
	ListBudgets(ctx context.Context, businessID uuid.UUID) ([]ledger.Budget, error)
	GetAccount(ctx context.Context, businessID, accountID uuid.UUID) (ledger.Account, error)
	EntriesByScope(ctx context.Context, scope ledger.Scope, f ledger.EntryFilter) ([]ledger.Entry, error)
}

type Writer interface {
	CreateBudget(ctx context.Context, b ledger.Budget) (ledger.Budget, error)
	AddBudgetItem(ctx context.Context, businessID uuid.UUID, item ledger.BudgetItem) (ledger.BudgetItem, error)
}

// Direction names why a variance is flagged.
type Direction string

const (
	OverSpend       Direction = "over_spend"
	UnderCollection Direction = "under_collection"
)

// Variance compares actual activity with the target for one account and period.
// Amounts are in the account's normal direction.
type Variance struct {
	AccountID   uuid.UUID
	AccountCode string
	Type        ledger.AccountType
	Period      ledger.Period
	Actual      money.Amount
	Target      money.Amount
	// Variance is Actual - Target.
	Variance money.Amount
	// Percent is Variance / Target * 100, nil when the target is zero.
	Percent   *decimal.Decimal
	Flagged   bool
	Direction Direction
}

type Service interface {
	Create(ctx context.Context, p authz.Principal, b ledger.Budget) (ledger.Budget, error)
	AddItem(ctx context.Context, p authz.Principal, businessID, budgetID uuid.UUID, item ledger.BudgetItem) (ledger.BudgetItem, error)
	Get(ctx context.Context, businessID, budgetID uuid.UUID) (ledger.Budget, error)
	List(ctx context.Context, businessID uuid.UUID) ([]ledger.Budget, error)
	Variance(ctx context.Context, scope ledger.Scope, accountID uuid.UUID, period ledger.Period) (Variance, error)
	Report(ctx context.Context, businessID, budgetID uuid.UUID) ([]Variance, error)
}

type service struct {
	repo     Repo
	writer   Writer
	currency string
}

func New(repo Repo, writer Writer, currency string) Service {
	if currency == "" {
		currency = "USD"
	}
	return &service{repo: repo, writer: writer, currency: currency}
}

func (s *service) Create(ctx context.Context, p authz.Principal, b ledger.Budget) (ledger.Budget, error) {
	if err := p.Require(ctx, authz.ActionBudgetWrite, b.Scope); err != nil {
		return ledger.Budget{}, err
	}
	if b.Scope.BusinessID == uuid.Nil {
		return ledger.Budget{}, errs.Validation(errs.RuleInvalidField, "business_id is required")
	}
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return ledger.Budget{}, errs.Validation(errs.RuleInvalidField, "name is required")
	}
	if b.FiscalYear < 1900 || b.FiscalYear > 9999 {
		return ledger.Budget{}, errs.Validation(errs.RuleInvalidField, fmt.Sprintf("fiscal year %d out of range", b.FiscalYear))
	}
	items := b.Items
	b.ID = uuid.New()
	b.Items = nil
	for i := range items {
		if err := s.checkItem(ctx, b, &items[i]); err != nil {
			return ledger.Budget{}, err
		}
	}
	b.Items = items
	return s.writer.CreateBudget(ctx, b)
}

func (s *service) AddItem(ctx context.Context, p authz.Principal, businessID, budgetID uuid.UUID, item ledger.BudgetItem) (ledger.BudgetItem, error) {
	b, err := s.repo.GetBudget(ctx, businessID, budgetID)
	if err != nil {
		return ledger.BudgetItem{}, err
	}
	if err := p.Require(ctx, authz.ActionBudgetWrite, b.Scope); err != nil {
		return ledger.BudgetItem{}, err
	}
	if err := s.checkItem(ctx, b, &item); err != nil {
		return ledger.BudgetItem{}, err
	}
	return s.writer.AddBudgetItem(ctx, businessID, item)
}

// checkItem validates item against b and assigns its ids.
func (s *service) checkItem(ctx context.Context, b ledger.Budget, item *ledger.BudgetItem) error {
	if item.Period.Key == "" || item.Period.Start.Year() != b.FiscalYear {
		return errs.Validation(errs.RuleInvalidField, "period "+item.Period.Key+" is outside the fiscal year")
	}
	if ledger.Minor(item.Target) < 0 {
		return errs.Validation(errs.RuleNegativeAmount, "target must be >= 0")
	}
	acc, err := s.repo.GetAccount(ctx, b.Scope.BusinessID, item.AccountID)
	if err != nil {
		return err
	}
	if b.Scope.BranchID != uuid.Nil && !acc.InScope(b.Scope) {
		return errs.Validation(errs.RuleWrongScope, "account "+acc.Code+" is outside the budget scope")
	}
	item.ID = uuid.New()
	item.BudgetID = b.ID
	return nil
}

func (s *service) Get(ctx context.Context, businessID, budgetID uuid.UUID) (ledger.Budget, error) {
	if businessID == uuid.Nil || budgetID == uuid.Nil {
		return ledger.Budget{}, errs.ErrInvalid
	}
	return s.repo.GetBudget(ctx, businessID, budgetID)
}

func (s *service) List(ctx context.Context, businessID uuid.UUID) ([]ledger.Budget, error) {
	if businessID == uuid.Nil {
		return nil, errs.ErrInvalid
	}
	return s.repo.ListBudgets(ctx, businessID)
}

// Variance sums the targets of every budget in scope for the account and
// period and compares them with the activity posted in the period.
func (s *service) Variance(ctx context.Context, scope ledger.Scope, accountID uuid.UUID, period ledger.Period) (Variance, error) {
	budgets, err := s.repo.ListBudgets(ctx, scope.BusinessID)
	if err != nil {
		return Variance{}, err
	}
	var target int64
	found := false
	for _, b := range budgets {
		if b.Scope != scope {
			continue
		}
		for _, it := range b.Items {
			if it.AccountID == accountID && it.Period.Key == period.Key {
				target += ledger.Minor(it.Target)
				found = true
			}
		}
	}
	if !found {
		return Variance{}, fmt.Errorf("%w: no budget target for account %s in %s", errs.ErrNotFound, accountID, period.Key)
	}
	return s.compare(ctx, scope, accountID, period, target)
}

// Report returns the variance of every item of a budget.
func (s *service) Report(ctx context.Context, businessID, budgetID uuid.UUID) ([]Variance, error) {
	b, err := s.repo.GetBudget(ctx, businessID, budgetID)
	if err != nil {
		return nil, err
	}
	out := make([]Variance, 0, len(b.Items))
	for _, it := range b.Items {
		v, err := s.compare(ctx, b.Scope, it.AccountID, it.Period, ledger.Minor(it.Target))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *service) compare(ctx context.Context, scope ledger.Scope, accountID uuid.UUID, period ledger.Period, target int64) (Variance, error) {
	acc, err := s.repo.GetAccount(ctx, scope.BusinessID, accountID)
	if err != nil {
		return Variance{}, err
	}
	from, to := period.Start, period.Last()
	entries, err := s.repo.EntriesByScope(ctx, scope, ledger.EntryFilter{AccountID: accountID, From: &from, To: &to})
	if err != nil {
		return Variance{}, err
	}
	var raw int64
	for _, e := range entries {
		raw += e.Net()
	}
	actual := acc.Type.Signed(raw)
	diff := actual - target
	v := Variance{
		AccountID:   acc.ID,
		AccountCode: acc.Code,
		Type:        acc.Type,
		Period:      period,
		Actual:      ledger.Amount(s.currency, actual),
		Target:      ledger.Amount(s.currency, target),
		Variance:    ledger.Amount(s.currency, diff),
	}
	if target != 0 {
		pct := decimal.NewFromInt(diff).Div(decimal.NewFromInt(target)).Mul(decimal.NewFromInt(100)).Round(2)
		v.Percent = &pct
	}
	if acc.Type.NormalSide() == ledger.SideDebit {
		if actual > target {
			v.Flagged, v.Direction = true, OverSpend
		}
	} else if actual < target {
		v.Flagged, v.Direction = true, UnderCollection
	}
	return v, nil
}
