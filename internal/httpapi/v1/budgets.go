package v1

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
)

func (s *Server) toBudgetItem(req budgetItemRequest) (ledger.BudgetItem, error) {
	period, err := ledger.ParsePeriod(req.Period)
	if err != nil {
		return ledger.BudgetItem{}, errs.Validation(errs.RuleInvalidField, err.Error())
	}
	return ledger.BudgetItem{
		AccountID: req.AccountID,
		Period:    period,
		Target:    ledger.Amount(s.currency, req.TargetMinor),
	}, nil
}

// POST /v1/businesses/{businessID}/budgets
func (s *Server) postBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if !decode(w, r, &req) {
		return
	}
	b := ledger.Budget{
		Scope:      ledger.Scope{BusinessID: businessFrom(r), BranchID: req.BranchID},
		Name:       req.Name,
		FiscalYear: req.FiscalYear,
	}
	for _, it := range req.Items {
		item, err := s.toBudgetItem(it)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		b.Items = append(b.Items, item)
	}
	b, err := s.svc.Budgets.Create(r.Context(), s.principal(r), b)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toBudgetResponse(b))
}

func (s *Server) listBudgets(w http.ResponseWriter, r *http.Request) {
	bs, err := s.svc.Budgets.List(r.Context(), businessFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]budgetResponse, 0, len(bs))
	for _, b := range bs {
		out = append(out, toBudgetResponse(b))
	}
	toJSON(w, http.StatusOK, map[string]any{"budgets": out})
}

func (s *Server) getBudget(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	b, err := s.svc.Budgets.Get(r.Context(), businessFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toBudgetResponse(b))
}

// POST /v1/businesses/{businessID}/budgets/{id}/items
func (s *Server) postBudgetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req budgetItemRequest
	if !decode(w, r, &req) {
		return
	}
	item, err := s.toBudgetItem(req)
	if err == nil {
		item, err = s.svc.Budgets.AddItem(r.Context(), s.principal(r), businessFrom(r), id, item)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toBudgetItemResponse(item))
}

// GET /v1/businesses/{businessID}/budgets/variance?account_id=&period=&branch_id=
func (s *Server) getVariance(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeQuery(w, r)
	if !ok {
		return
	}
	accountID, err := uuid.Parse(r.URL.Query().Get("account_id"))
	if err != nil {
		badRequest(w, "invalid account_id")
		return
	}
	period, ok := periodQuery(w, r.URL.Query().Get("period"))
	if !ok {
		return
	}
	v, err := s.svc.Budgets.Variance(r.Context(), scope, accountID, period)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toVarianceResponse(v))
}

// GET /v1/businesses/{businessID}/budgets/{id}/report
func (s *Server) getBudgetReport(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	vs, err := s.svc.Budgets.Report(r.Context(), businessFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]varianceResponse, 0, len(vs))
	flagged := 0
	for _, v := range vs {
		if v.Flagged {
			flagged++
		}
		out = append(out, toVarianceResponse(v))
	}
	toJSON(w, http.StatusOK, map[string]any{"items": out, "flagged": flagged})
}
