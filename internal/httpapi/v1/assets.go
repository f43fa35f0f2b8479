package v1

import (
	"net/http"

	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
	"github.com/tinoosan/erpledger/internal/service/depreciation"
)

// POST /v1/businesses/{businessID}/assets
func (s *Server) postAsset(w http.ResponseWriter, r *http.Request) {
	var req assetRequest
	if !decode(w, r, &req) {
		return
	}
	acquired, err := parseDate(req.AcquiredOn)
	if err != nil {
		s.fail(w, r, errs.Validation(errs.RuleInvalidField, "invalid acquired_on "+req.AcquiredOn))
		return
	}
	a, err := s.svc.Depreciation.Register(r.Context(), s.principal(r), ledger.FixedAsset{
		Scope:                ledger.Scope{BusinessID: businessFrom(r), BranchID: req.BranchID},
		Code:                 req.Code,
		Name:                 req.Name,
		AcquiredOn:           acquired,
		Cost:                 ledger.Amount(s.currency, req.CostMinor),
		Salvage:              ledger.Amount(s.currency, req.SalvageMinor),
		Method:               req.Method,
		UsefulLife:           req.UsefulLife,
		Rate:                 req.Rate,
		ExpenseAccountID:     req.ExpenseAccountID,
		AccumulatedAccountID: req.AccumulatedAccountID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toAssetResponse(a))
}

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeQuery(w, r)
	if !ok {
		return
	}
	as, err := s.svc.Depreciation.List(r.Context(), scope)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]assetResponse, 0, len(as))
	for _, a := range as {
		out = append(out, toAssetResponse(a))
	}
	toJSON(w, http.StatusOK, map[string]any{"assets": out})
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	a, err := s.svc.Depreciation.Get(r.Context(), businessFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toAssetResponse(a))
}

// GET /v1/businesses/{businessID}/assets/{id}/schedule
func (s *Server) getAssetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	rows, err := s.svc.Depreciation.Schedule(r.Context(), businessFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]scheduleRowResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toScheduleRow(row))
	}
	toJSON(w, http.StatusOK, map[string]any{"schedule": out})
}

// POST /v1/businesses/{businessID}/assets/{id}/depreciate
func (s *Server) depreciateAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req depreciateRequest
	if !decode(w, r, &req) {
		return
	}
	period, ok := periodQuery(w, req.Period)
	if !ok {
		return
	}
	run, err := s.svc.Depreciation.RunPeriod(r.Context(), s.principal(r), businessFrom(r), id, period)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toRunResponse(run))
}

// POST /v1/businesses/{businessID}/depreciation/run
// Runs every active asset in scope. Per-asset failures are reported inline.
func (s *Server) runDepreciation(w http.ResponseWriter, r *http.Request) {
	var req depreciateRequest
	if !decode(w, r, &req) {
		return
	}
	period, ok := periodQuery(w, req.Period)
	if !ok {
		return
	}
	scope := ledger.Scope{BusinessID: businessFrom(r), BranchID: req.BranchID}
	runs, err := s.svc.Depreciation.RunAll(r.Context(), s.principal(r), scope, period)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	posted := 0
	for _, run := range runs {
		if run.Err == nil {
			posted++
		}
		out = append(out, toRunResponse(run))
	}
	toJSON(w, http.StatusOK, map[string]any{"period": period.Key, "posted": posted, "runs": out})
}

func toScheduleRow(row depreciation.ScheduleRow) scheduleRowResponse {
	return scheduleRowResponse{
		Number:      row.Number,
		Period:      row.Period,
		Amount:      toAmount(row.Amount),
		Accumulated: toAmount(row.Accumulated),
		BookValue:   toAmount(row.BookValue),
	}
}
