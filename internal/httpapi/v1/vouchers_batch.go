package v1

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/tinoosan/erpledger/internal/errs"
)

const maxBatchVouchers = 200

// postVouchersBatch handles POST /v1/businesses/{businessID}/vouchers/batch.
// Each voucher posts in its own unit of work; the response lists the posted
// vouchers and the failures by index. Requires an Idempotency-Key; a replay
// with the same body returns the stored response.
func (s *Server) postVouchersBatch(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" {
		writeErr(w, http.StatusBadRequest, "idempotency_required", "idempotency_required")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, "could not read body")
		return
	}
	var req struct {
		Vouchers []voucherRequest `json:"vouchers"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Vouchers) == 0 {
		badRequest(w, "vouchers is required")
		return
	}
	if len(req.Vouchers) > maxBatchVouchers {
		writeErr(w, http.StatusUnprocessableEntity, "too_many_items", "too_many_items")
		return
	}
	scopedKey := businessFrom(r).String() + ":" + key
	hash := hashBytes(body)
	if s.replayBatch(w, scopedKey, hash) {
		return
	}

	type itemErr struct {
		Index int    `json:"index"`
		Code  string `json:"code"`
		Rule  string `json:"rule,omitempty"`
		Error string `json:"error"`
	}
	out := struct {
		Vouchers []voucherResponse `json:"vouchers"`
		Errors   []itemErr         `json:"errors"`
	}{Vouchers: []voucherResponse{}, Errors: []itemErr{}}

	p := s.principal(r)
	for i, vr := range req.Vouchers {
		v, err := s.toVoucher(businessFrom(r), vr)
		if err == nil {
			v, err = s.svc.Journal.Submit(r.Context(), p, v)
		}
		if err != nil {
			_, code := statusOf(err)
			out.Errors = append(out.Errors, itemErr{Index: i, Code: code, Rule: errs.RuleOf(err), Error: err.Error()})
			continue
		}
		out.Vouchers = append(out.Vouchers, toVoucherResponse(v))
	}

	status := http.StatusCreated
	switch {
	case len(out.Vouchers) == 0:
		status = http.StatusUnprocessableEntity
	case len(out.Errors) > 0:
		status = http.StatusMultiStatus
	}
	cw := &captureWriter{ResponseWriter: w}
	toJSON(cw, status, out)
	s.storeBatch(scopedKey, hash, cw)
}
