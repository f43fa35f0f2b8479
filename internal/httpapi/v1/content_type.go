package v1

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/ledger"
)

// requireJSON ensures the request has Content-Type application/json (optionally with params).
// Writes 415 if not JSON and returns false.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	mime := strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	if mime != "application/json" {
		writeErr(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "unsupported_media_type")
		return false
	}
	return true
}

// businessParam validates {businessID} once for every nested route.
func businessParam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "businessID"))
		if err != nil || id == uuid.Nil {
			badRequest(w, "invalid business id")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyBusiness, id)))
	})
}

func businessFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(ctxKeyBusiness).(uuid.UUID)
	return id
}

// idParam parses the {id} path segment.
func idParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// scopeQuery builds the request scope from the business and an optional branch_id.
func scopeQuery(w http.ResponseWriter, r *http.Request) (ledger.Scope, bool) {
	scope := ledger.Scope{BusinessID: businessFrom(r)}
	if raw := r.URL.Query().Get("branch_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(w, "invalid branch_id")
			return ledger.Scope{}, false
		}
		scope.BranchID = id
	}
	return scope, true
}

const dateLayout = "2006-01-02"

// parseDate accepts YYYY-MM-DD or RFC3339. Empty yields the zero time.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// dateQuery parses an optional date query parameter.
func dateQuery(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	t, err := parseDate(r.URL.Query().Get(name))
	if err != nil {
		badRequest(w, "invalid "+name)
		return time.Time{}, false
	}
	return t, true
}

func periodQuery(w http.ResponseWriter, raw string) (ledger.Period, bool) {
	p, err := ledger.ParsePeriod(raw)
	if err != nil {
		badRequest(w, err.Error())
		return ledger.Period{}, false
	}
	return p, true
}

func boolQuery(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}
