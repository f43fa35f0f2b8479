package v1

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
)

// toVoucher converts a request into a voucher in the book currency.
func (s *Server) toVoucher(businessID uuid.UUID, req voucherRequest) (ledger.Voucher, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return ledger.Voucher{}, errs.Validation(errs.RuleInvalidField, "invalid date "+req.Date)
	}
	curr := strings.ToUpper(strings.TrimSpace(req.Currency))
	if curr == "" {
		curr = s.currency
	}
	v := ledger.Voucher{
		Scope:     ledger.Scope{BusinessID: businessID, BranchID: req.BranchID},
		Date:      date,
		Reference: req.Reference,
		Memo:      req.Memo,
		Currency:  curr,
		Source:    req.Source,
		SourceKey: req.SourceKey,
		Lines:     make([]ledger.Line, 0, len(req.Lines)),
	}
	for _, ln := range req.Lines {
		v.Lines = append(v.Lines, ledger.Line{
			AccountID: ln.AccountID,
			Debit:     ledger.Amount(curr, ln.DebitMinor),
			Credit:    ledger.Amount(curr, ln.CreditMinor),
			Memo:      ln.Memo,
		})
	}
	return v, nil
}

// POST /v1/businesses/{businessID}/vouchers creates a draft.
func (s *Server) postDraft(w http.ResponseWriter, r *http.Request) {
	var req voucherRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := s.toVoucher(businessFrom(r), req)
	if err == nil {
		v, err = s.svc.Journal.CreateDraft(r.Context(), s.principal(r), v)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toVoucherResponse(v))
}

// PUT /v1/businesses/{businessID}/vouchers/{id} replaces a draft.
func (s *Server) putDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req voucherRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := s.toVoucher(businessFrom(r), req)
	if err == nil {
		v.ID = id
		v, err = s.svc.Journal.UpdateDraft(r.Context(), s.principal(r), v)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toVoucherResponse(v))
}

// DELETE /v1/businesses/{businessID}/vouchers/{id} abandons a draft.
func (s *Server) abandonDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.svc.Journal.Abandon(r.Context(), s.principal(r), businessFrom(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	v, err := s.svc.Journal.Post(r.Context(), s.principal(r), businessFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toVoucherResponse(v))
}

// POST /v1/businesses/{businessID}/vouchers/submit creates and posts in one call.
// An Idempotency-Key header becomes the voucher's source key when the body has
// none; replays return the voucher already posted under that key.
func (s *Server) submitVoucher(w http.ResponseWriter, r *http.Request) {
	var req voucherRequest
	if !decode(w, r, &req) {
		return
	}
	if key := strings.TrimSpace(r.Header.Get(IdempotencyHeader)); key != "" && req.SourceKey == "" {
		req.SourceKey = idempotencySourceKey(key)
		if req.Source == "" {
			req.Source = "api"
		}
	}
	v, err := s.toVoucher(businessFrom(r), req)
	if err == nil {
		v, err = s.svc.Journal.Submit(r.Context(), s.principal(r), v)
	}
	if errors.Is(err, errs.ErrAlreadyPosted) && req.SourceKey != "" {
		if prev, found, lookupErr := s.svc.Journal.FindBySourceKey(r.Context(), businessFrom(r), req.SourceKey); lookupErr == nil && found {
			w.Header().Set("Idempotent-Replay", "true")
			toJSON(w, http.StatusOK, toVoucherResponse(prev))
			return
		}
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toVoucherResponse(v))
}

func (s *Server) reverseVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		badRequest(w, "invalid date")
		return
	}
	rev, err := s.svc.Journal.Reverse(r.Context(), s.principal(r), businessFrom(r), id, date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toVoucherResponse(rev))
}

func (s *Server) getVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	v, err := s.svc.Journal.Get(r.Context(), businessFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toVoucherResponse(v))
}

// GET /v1/businesses/{businessID}/vouchers?branch_id=&status=
func (s *Server) listVouchers(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeQuery(w, r)
	if !ok {
		return
	}
	vs, err := s.svc.Journal.List(r.Context(), scope)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := ledger.VoucherStatus(r.URL.Query().Get("status"))
	out := make([]voucherResponse, 0, len(vs))
	for _, v := range vs {
		if status != "" && v.Status != status {
			continue
		}
		out = append(out, toVoucherResponse(v))
	}
	toJSON(w, http.StatusOK, map[string]any{"vouchers": out})
}
