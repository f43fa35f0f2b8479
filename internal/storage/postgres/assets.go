package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
)

// --- budgets ---

func insertBudgetItem(ctx context.Context, q querier, it ledger.BudgetItem) error {
	_, err := q.Exec(ctx, `
		insert into budget_items (id, budget_id, account_id, period_key, period_start, period_end, target_minor, currency)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, it.ID, it.BudgetID, it.AccountID, it.Period.Key, it.Period.Start, it.Period.End, ledger.Minor(it.Target), it.Target.Curr().Code())
	return err
}

func (s *Store) CreateBudget(ctx context.Context, b ledger.Budget) (ledger.Budget, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.Budget{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `
		insert into budgets (id, business_id, branch_id, name, fiscal_year) values ($1,$2,$3,$4,$5)
	`, b.ID, b.Scope.BusinessID, nullUUID(b.Scope.BranchID), b.Name, b.FiscalYear); err != nil {
		return ledger.Budget{}, err
	}
	for _, it := range b.Items {
		if err := insertBudgetItem(ctx, tx, it); err != nil {
			return ledger.Budget{}, err
		}
	}
	return b, tx.Commit(ctx)
}

func (s *Store) AddBudgetItem(ctx context.Context, businessID uuid.UUID, item ledger.BudgetItem) (ledger.BudgetItem, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `select exists (select 1 from budgets where id = $1 and business_id = $2)`, item.BudgetID, businessID).Scan(&exists); err != nil {
		return ledger.BudgetItem{}, err
	}
	if !exists {
		return ledger.BudgetItem{}, fmt.Errorf("%w: budget %s", errs.ErrNotFound, item.BudgetID)
	}
	return item, insertBudgetItem(ctx, s.pool, item)
}

func (s *Store) GetBudget(ctx context.Context, businessID, budgetID uuid.UUID) (ledger.Budget, error) {
	out, err := s.budgets(ctx, `where b.business_id = $1 and b.id = $2`, businessID, budgetID)
	if err != nil {
		return ledger.Budget{}, err
	}
	if len(out) == 0 {
		return ledger.Budget{}, fmt.Errorf("%w: budget %s", errs.ErrNotFound, budgetID)
	}
	return out[0], nil
}

func (s *Store) ListBudgets(ctx context.Context, businessID uuid.UUID) ([]ledger.Budget, error) {
	return s.budgets(ctx, `where b.business_id = $1`, businessID)
}

func (s *Store) budgets(ctx context.Context, where string, args ...any) ([]ledger.Budget, error) {
	rows, err := s.pool.Query(ctx, `
		select b.id, b.business_id, b.branch_id, b.name, b.fiscal_year,
		       i.id, i.account_id, i.period_key, i.period_start, i.period_end, i.target_minor, i.currency
		from budgets b left join budget_items i on i.budget_id = b.id
		`+where+`
		order by b.fiscal_year, b.name, b.id, i.period_start, i.id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Budget, 0)
	for rows.Next() {
		var b ledger.Budget
		var branch, itemID, accountID *uuid.UUID
		var key, curr *string
		var start, end *time.Time
		var target *int64
		if err := rows.Scan(&b.ID, &b.Scope.BusinessID, &branch, &b.Name, &b.FiscalYear,
			&itemID, &accountID, &key, &start, &end, &target, &curr); err != nil {
			return nil, err
		}
		b.Scope.BranchID = deref(branch)
		if n := len(out); n == 0 || out[n-1].ID != b.ID {
			out = append(out, b)
		}
		if itemID == nil {
			continue
		}
		cur := &out[len(out)-1]
		cur.Items = append(cur.Items, ledger.BudgetItem{
			ID:        *itemID,
			BudgetID:  cur.ID,
			AccountID: *accountID,
			Period:    ledger.Period{Key: *key, Start: start.UTC(), End: end.UTC()},
			Target:    ledger.Amount(strings.TrimSpace(*curr), *target),
		})
	}
	return out, rows.Err()
}

// --- fixed assets ---

const assetCols = `id, business_id, branch_id, code, name, acquired_on, currency, cost_minor, salvage_minor, method,
	useful_life, rate::text, accumulated_minor, periods_run, last_period, expense_account_id, accumulated_account_id, active`

func scanAsset(row pgx.Row) (ledger.FixedAsset, error) {
	var a ledger.FixedAsset
	var curr, method, rate string
	var cost, salvage, acc int64
	if err := row.Scan(&a.ID, &a.Scope.BusinessID, &a.Scope.BranchID, &a.Code, &a.Name, &a.AcquiredOn, &curr, &cost, &salvage, &method,
		&a.UsefulLife, &rate, &acc, &a.PeriodsRun, &a.LastPeriod, &a.ExpenseAccountID, &a.AccumulatedAccountID, &a.Active); err != nil {
		return ledger.FixedAsset{}, err
	}
	curr = strings.TrimSpace(curr)
	a.Cost, a.Salvage, a.Accumulated = ledger.Amount(curr, cost), ledger.Amount(curr, salvage), ledger.Amount(curr, acc)
	a.Method = ledger.DepreciationMethod(method)
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return ledger.FixedAsset{}, fmt.Errorf("asset %s rate: %w", a.ID, err)
	}
	a.Rate = r
	return a, nil
}

func (s *Store) CreateAsset(ctx context.Context, a ledger.FixedAsset) (ledger.FixedAsset, error) {
	_, err := s.pool.Exec(ctx, `
		insert into fixed_assets (id, business_id, branch_id, code, name, acquired_on, currency, cost_minor, salvage_minor, method,
			useful_life, rate, accumulated_minor, periods_run, last_period, expense_account_id, accumulated_account_id, active)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::numeric,$13,$14,$15,$16,$17,$18)
	`, a.ID, a.Scope.BusinessID, a.Scope.BranchID, a.Code, a.Name, a.AcquiredOn, a.Cost.Curr().Code(), ledger.Minor(a.Cost), ledger.Minor(a.Salvage),
		string(a.Method), a.UsefulLife, a.Rate.String(), ledger.Minor(a.Accumulated), a.PeriodsRun, a.LastPeriod,
		a.ExpenseAccountID, a.AccumulatedAccountID, a.Active)
	if code, _ := pgCode(err); code == pgUniqueViolation {
		return ledger.FixedAsset{}, fmt.Errorf("%w: asset code %s already exists", errs.ErrConflict, a.Code)
	}
	if err != nil {
		return ledger.FixedAsset{}, err
	}
	return a, nil
}

func (s *Store) GetAsset(ctx context.Context, businessID, assetID uuid.UUID) (ledger.FixedAsset, error) {
	a, err := scanAsset(s.pool.QueryRow(ctx, `select `+assetCols+` from fixed_assets where id = $1 and business_id = $2`, assetID, businessID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.FixedAsset{}, fmt.Errorf("%w: asset %s", errs.ErrNotFound, assetID)
	}
	return a, err
}

func (s *Store) ListAssets(ctx context.Context, scope ledger.Scope) ([]ledger.FixedAsset, error) {
	rows, err := s.pool.Query(ctx, `
		select `+assetCols+` from fixed_assets
		where business_id = $1 and ($2::uuid is null or branch_id = $2::uuid)
		order by code
	`, scope.BusinessID, nullUUID(scope.BranchID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.FixedAsset, 0)
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
