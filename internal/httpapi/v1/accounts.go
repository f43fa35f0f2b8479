package v1

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/ledger"
)

// POST /v1/businesses/{businessID}/accounts
func (s *Server) postAccount(w http.ResponseWriter, r *http.Request) {
	var req postAccountRequest
	if !decode(w, r, &req) {
		return
	}
	acc, err := s.svc.Accounts.Create(r.Context(), s.principal(r), ledger.Account{
		BusinessID:  businessFrom(r),
		BranchID:    req.BranchID,
		Code:        req.Code,
		Name:        req.Name,
		Type:        req.Type,
		ParentID:    req.ParentID,
		Description: req.Description,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toAccountResponse(acc))
}

// GET /v1/businesses/{businessID}/accounts?include_inactive=&branch_id=
func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeQuery(w, r)
	if !ok {
		return
	}
	var (
		accs []ledger.Account
		err  error
	)
	if scope.BranchID != uuid.Nil {
		accs, err = s.svc.Accounts.ActiveAccounts(r.Context(), scope)
	} else {
		accs, err = s.svc.Accounts.List(r.Context(), scope.BusinessID, boolQuery(r, "include_inactive"))
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, map[string]any{"accounts": toAccountResponses(accs)})
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	acc, err := s.svc.Accounts.Get(r.Context(), businessFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toAccountResponse(acc))
}

func (s *Server) getAccountChildren(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	kids, err := s.svc.Accounts.Children(r.Context(), businessFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, map[string]any{"accounts": toAccountResponses(kids)})
}

// GET /v1/businesses/{businessID}/accounts/{id}/balance?as_of_sequence=
func (s *Server) getAccountBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if raw := r.URL.Query().Get("as_of_sequence"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(w, "invalid as_of_sequence")
			return
		}
		b, err := s.svc.Balances.BalanceAt(r.Context(), businessFrom(r), id, seq)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		toJSON(w, http.StatusOK, toBalanceResponse(b))
		return
	}
	b, err := s.svc.Balances.Balance(r.Context(), businessFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toBalanceResponse(b))
}

func (s *Server) reconcileAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	b, err := s.svc.Balances.Reconcile(r.Context(), businessFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toBalanceResponse(b))
}

// POST /v1/businesses/{businessID}/reconcile checks every account and
// reports all mismatches in one response.
func (s *Server) reconcileBusiness(w http.ResponseWriter, r *http.Request) {
	bals, err := s.svc.Balances.ReconcileAll(r.Context(), businessFrom(r))
	out := make([]balanceResponse, 0, len(bals))
	for _, b := range bals {
		out = append(out, toBalanceResponse(b))
	}
	if err != nil {
		status, code := statusOf(err)
		if bals == nil {
			s.fail(w, r, err)
			return
		}
		s.log.Error("reconciliation found mismatches", "business_id", businessFrom(r).String(), "err", err)
		toJSON(w, status, map[string]any{"balances": out, "error": err.Error(), "code": code})
		return
	}
	toJSON(w, http.StatusOK, map[string]any{"balances": out})
}

// GET /v1/businesses/{businessID}/accounts/{id}/ledger?from=&to=&branch_id=
func (s *Server) getAccountLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
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
	gl, err := s.svc.Reports.GeneralLedger(r.Context(), scope, id, from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toGeneralLedger(gl))
}
