package v1

import (
	"net/http"

	"github.com/tinoosan/erpledger/internal/ledger"
)

// PATCH /v1/businesses/{businessID}/accounts/{id}
// Renames and/or moves an account. Fields left out are unchanged.
func (s *Server) updateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req patchAccountRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == nil && req.Description == nil && req.ParentID == nil {
		badRequest(w, "nothing to update")
		return
	}
	ctx, p, biz := r.Context(), s.principal(r), businessFrom(r)
	acc, err := s.svc.Accounts.Get(ctx, biz, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Name != nil || req.Description != nil {
		name, desc := acc.Name, acc.Description
		if req.Name != nil {
			name = *req.Name
		}
		if req.Description != nil {
			desc = *req.Description
		}
		if acc, err = s.svc.Accounts.Rename(ctx, p, biz, id, name, desc); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if req.ParentID != nil {
		if acc, err = s.svc.Accounts.Reparent(ctx, p, biz, id, *req.ParentID); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	toJSON(w, http.StatusOK, toAccountResponse(acc))
}

// POST /v1/businesses/{businessID}/accounts/{id}/deactivate
func (s *Server) deactivateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.svc.Accounts.Deactivate(r.Context(), s.principal(r), businessFrom(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /v1/businesses/{businessID}/accounts/{id}
// Responds 204 when removed, or 200 with the account when it was only deactivated.
func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	deleted, err := s.svc.Accounts.Delete(r.Context(), s.principal(r), businessFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if deleted {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	var acc ledger.Account
	if acc, err = s.svc.Accounts.Get(r.Context(), businessFrom(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, map[string]any{"deleted": false, "account": toAccountResponse(acc)})
}
