package errs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Common sentinel errors for cross-layer signaling.
var (
	ErrNotFound         = errors.New("not_found")
	ErrPermissionDenied = errors.New("permission_denied")
	ErrConflict         = errors.New("conflict")
	ErrInvalid          = errors.New("invalid")
	// ErrValidation is wrapped by every *ValidationError.
	ErrValidation = errors.New("validation_error")
	// ErrImmutable signals an edit, post or reverse on a voucher in the wrong state.
	ErrImmutable = errors.New("immutable")
	// ErrAlreadyPosted signals a duplicate idempotency key (e.g. depreciation period).
	ErrAlreadyPosted = errors.New("already_posted")
	// ErrConsistency is wrapped by every *ConsistencyError.
	ErrConsistency = errors.New("consistency_error")
	// ErrSystemAccount indicates a system account cannot be modified/deactivated
	ErrSystemAccount = errors.New("system_account")
)

// Validation rules.
const (
	RuleNoLines          = "no_lines"
	RuleNegativeAmount   = "negative_amount"
	RuleOneSide          = "one_side"
	RuleUnbalanced       = "unbalanced"
	RuleCurrency         = "currency"
	RuleUnknownAccount   = "unknown_account"
	RuleInactiveAccount  = "inactive_account"
	RuleWrongScope       = "wrong_scope"
	RuleCycle            = "cycle"
	RuleScopeBoundary    = "scope_boundary"
	RuleInvalidField     = "invalid_field"
	RuleFullyDepreciated = "fully_depreciated"
)

// ValidationError names the business rule a request violated.
// Line is the zero-based voucher line, or -1 when the rule is not line-specific.
type ValidationError struct {
	Rule   string
	Line   int
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("%s: line[%d]: %s", e.Rule, e.Line, e.Detail)
	}
	return e.Rule + ": " + e.Detail
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validation returns a rule violation that is not tied to a line.
func Validation(rule, detail string) error {
	return &ValidationError{Rule: rule, Line: -1, Detail: detail}
}

// LineValidation returns a rule violation for voucher line i.
func LineValidation(i int, rule, detail string) error {
	return &ValidationError{Rule: rule, Line: i, Detail: detail}
}

// RuleOf extracts the violated rule from err, or "" when err is not a validation error.
func RuleOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Rule
	}
	return ""
}

// ConsistencyError reports a mismatch between a cached figure and its recomputation.
// It is never corrected automatically.
type ConsistencyError struct {
	AccountID  uuid.UUID
	What       string
	Cached     int64
	Recomputed int64
}

func (e *ConsistencyError) Error() string {
	if e.AccountID != uuid.Nil {
		return fmt.Sprintf("consistency: %s for account %s: cached %d, recomputed %d", e.What, e.AccountID, e.Cached, e.Recomputed)
	}
	return fmt.Sprintf("consistency: %s: %d != %d", e.What, e.Cached, e.Recomputed)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }
