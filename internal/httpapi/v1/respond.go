package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tinoosan/erpledger/internal/errs"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	// Rule and Line are set for validation failures.
	Rule string `json:"rule,omitempty"`
	Line *int   `json:"line,omitempty"`
}

func toJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg, code string) {
	toJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeErr(w, http.StatusBadRequest, msg, "invalid")
}

// statusOf maps service errors to HTTP status codes and a stable code.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_error"
	case errors.Is(err, errs.ErrInvalid):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errs.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, errs.ErrAlreadyPosted):
		return http.StatusConflict, "already_posted"
	case errors.Is(err, errs.ErrImmutable):
		return http.StatusConflict, "immutable"
	case errors.Is(err, errs.ErrSystemAccount):
		return http.StatusConflict, "system_account"
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, errs.ErrConsistency):
		return http.StatusInternalServerError, "consistency_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// fail writes err as a JSON error. Unmapped errors are logged and hidden.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	resp := errorResponse{Error: err.Error(), Code: code}
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		resp.Rule = ve.Rule
		if ve.Line >= 0 {
			line := ve.Line
			resp.Line = &line
		}
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		if code == "internal" {
			resp.Error = "internal error"
		}
	}
	toJSON(w, status, resp)
}

// decode reads a JSON body, refusing unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if !requireJSON(w, r) {
		return false
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
