package v1

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/dictionary"
	"github.com/tinoosan/erpledger/internal/ledger"
)

const maxBatchAccounts = 500

// postAccountsBatch handles POST /v1/businesses/{businessID}/accounts/batch.
// It installs a chart template, parents before children, skipping codes that
// already exist. An empty body list installs the default chart.
func (s *Server) postAccountsBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BranchID uuid.UUID               `json:"branch_id,omitempty"`
		Accounts []dictionary.AccountDef `json:"accounts"`
	}
	if !decode(w, r, &req) {
		return
	}
	if len(req.Accounts) > maxBatchAccounts {
		writeErr(w, http.StatusUnprocessableEntity, "too_many_items", "too_many_items")
		return
	}
	defs := req.Accounts
	if len(defs) == 0 {
		defs = dictionary.DefaultChart()
	}
	scope := ledger.Scope{BusinessID: businessFrom(r), BranchID: req.BranchID}
	created, err := s.svc.Accounts.InstallChart(r.Context(), s.principal(r), scope, defs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, map[string]any{"accounts": toAccountResponses(created)})
}
