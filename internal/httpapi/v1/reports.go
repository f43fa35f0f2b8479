package v1

import "net/http"

// GET /v1/businesses/{businessID}/reports/trial-balance?as_of=&branch_id=
func (s *Server) trialBalance(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeQuery(w, r)
	if !ok {
		return
	}
	asOf, ok := dateQuery(w, r, "as_of")
	if !ok {
		return
	}
	tb, err := s.svc.Reports.TrialBalance(r.Context(), scope, asOf)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, trialBalanceResponse{
		AsOf:        fmtDate(tb.AsOf),
		Rows:        toRows(tb.Rows),
		TotalDebit:  toAmount(tb.TotalDebit),
		TotalCredit: toAmount(tb.TotalCredit),
	})
}

// GET /v1/businesses/{businessID}/reports/balance-sheet?as_of=&branch_id=
func (s *Server) balanceSheet(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeQuery(w, r)
	if !ok {
		return
	}
	asOf, ok := dateQuery(w, r, "as_of")
	if !ok {
		return
	}
	bs, err := s.svc.Reports.BalanceSheet(r.Context(), scope, asOf)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, balanceSheetResponse{
		AsOf:             fmtDate(bs.AsOf),
		Assets:           toRows(bs.Assets),
		Liabilities:      toRows(bs.Liabilities),
		Equity:           toRows(bs.Equity),
		CurrentEarnings:  toAmount(bs.CurrentEarnings),
		TotalAssets:      toAmount(bs.TotalAssets),
		TotalLiabilities: toAmount(bs.TotalLiabilities),
		TotalEquity:      toAmount(bs.TotalEquity),
	})
}

// GET /v1/businesses/{businessID}/reports/pnl?from=&to=&branch_id=
func (s *Server) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeQuery(w, r)
	if !ok {
		return
	}
	from, ok := dateQuery(w, r, "from")
	if !ok {
		return
	}
	to, ok := dateQuery(w, r, "to")
	if !ok {
		return
	}
	pl, err := s.svc.Reports.ProfitAndLoss(r.Context(), scope, from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, pnlResponse{
		From:         fmtDate(pl.From),
		To:           fmtDate(pl.To),
		Revenue:      toRows(pl.Revenue),
		Expenses:     toRows(pl.Expenses),
		TotalRevenue: toAmount(pl.TotalRevenue),
		TotalExpense: toAmount(pl.TotalExpense),
		NetIncome:    toAmount(pl.NetIncome),
	})
}
