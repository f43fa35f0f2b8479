package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
)

// ---- budgets ----

func cloneBudget(b *ledger.Budget) ledger.Budget {
	out := *b
	out.Items = append([]ledger.BudgetItem(nil), b.Items...)
	return out
}

func (s *Store) CreateBudget(_ context.Context, b ledger.Budget) (ledger.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.budgets[b.ID]; ok {
		return ledger.Budget{}, fmt.Errorf("%w: budget %s", errs.ErrConflict, b.ID)
	}
	stored := cloneBudget(&b)
	s.budgets[b.ID] = &stored
	return cloneBudget(&stored), nil
}

func (s *Store) AddBudgetItem(_ context.Context, businessID uuid.UUID, item ledger.BudgetItem) (ledger.BudgetItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[item.BudgetID]
	if !ok || b.Scope.BusinessID != businessID {
		return ledger.BudgetItem{}, fmt.Errorf("%w: budget %s", errs.ErrNotFound, item.BudgetID)
	}
	b.Items = append(b.Items, item)
	return item, nil
}

func (s *Store) GetBudget(_ context.Context, businessID, budgetID uuid.UUID) (ledger.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.budgets[budgetID]
	if !ok || b.Scope.BusinessID != businessID {
		return ledger.Budget{}, fmt.Errorf("%w: budget %s", errs.ErrNotFound, budgetID)
	}
	return cloneBudget(b), nil
}

func (s *Store) ListBudgets(_ context.Context, businessID uuid.UUID) ([]ledger.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Budget, 0)
	for _, b := range s.budgets {
		if b.Scope.BusinessID == businessID {
			out = append(out, cloneBudget(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FiscalYear != out[j].FiscalYear {
			return out[i].FiscalYear < out[j].FiscalYear
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ---- fixed assets ----

func (s *Store) CreateAsset(_ context.Context, a ledger.FixedAsset) (ledger.FixedAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.assets {
		if other.Scope.BusinessID == a.Scope.BusinessID && other.Code == a.Code {
			return ledger.FixedAsset{}, fmt.Errorf("%w: asset code %s already exists", errs.ErrConflict, a.Code)
		}
	}
	s.assets[a.ID] = a
	return a, nil
}

func (s *Store) GetAsset(_ context.Context, businessID, assetID uuid.UUID) (ledger.FixedAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[assetID]
	if !ok || a.Scope.BusinessID != businessID {
		return ledger.FixedAsset{}, fmt.Errorf("%w: asset %s", errs.ErrNotFound, assetID)
	}
	return a, nil
}

// ListAssets returns the assets inside scope ordered by code.
func (s *Store) ListAssets(_ context.Context, scope ledger.Scope) ([]ledger.FixedAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.FixedAsset, 0)
	for _, a := range s.assets {
		if scope.Contains(a.Scope) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
