package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/shopspring/decimal"
)

// Side represents the accounting position of a voucher line.
type Side string

const (
	// SideDebit records a value on the debit side of an account.
	SideDebit Side = "debit"
	// SideCredit records a value on the credit side of an account.
	SideCredit Side = "credit"
)

// AccountType enumerates the broad classification of an account in the ledger.
type AccountType string

const (
	// AccountTypeAsset increases on the debit side and holds resources owned by the business.
	AccountTypeAsset AccountType = "asset"
	// AccountTypeLiability increases on the credit side and tracks obligations.
	AccountTypeLiability AccountType = "liability"
	// AccountTypeEquity captures the owners' residual interest in the business.
	AccountTypeEquity AccountType = "equity"
	// AccountTypeRevenue represents inflows that increase equity.
	AccountTypeRevenue AccountType = "revenue"
	// AccountTypeExpense represents outflows that decrease equity.
	AccountTypeExpense AccountType = "expense"
)

// normalSides is the single source of truth for which side increases an account.
var normalSides = map[AccountType]Side{
	AccountTypeAsset:     SideDebit,
	AccountTypeExpense:   SideDebit,
	AccountTypeLiability: SideCredit,
	AccountTypeEquity:    SideCredit,
	AccountTypeRevenue:   SideCredit,
}

// AccountTypes lists every account type in balance-sheet then P&L order.
var AccountTypes = []AccountType{
	AccountTypeAsset,
	AccountTypeLiability,
	AccountTypeEquity,
	AccountTypeRevenue,
	AccountTypeExpense,
}

// Valid reports whether t is one of the known account types.
func (t AccountType) Valid() bool {
	_, ok := normalSides[t]
	return ok
}

// NormalSide returns the side on which balances of type t increase.
// Unknown types return the empty Side.
func (t AccountType) NormalSide() Side { return normalSides[t] }

// Signed converts a raw debit-minus-credit figure into the account type's
// normal direction: debit-normal accounts keep the sign, credit-normal flip it.
func (t AccountType) Signed(debitMinusCredit int64) int64 {
	if t.NormalSide() == SideCredit {
		return -debitMinusCredit
	}
	return debitMinusCredit
}

// Scope identifies the business and branch that own ledger data.
// A nil BranchID on a query scope means the whole business.
type Scope struct {
	BusinessID uuid.UUID
	BranchID   uuid.UUID
}

// Contains reports whether other falls inside s: same business and either s
// spans the whole business or both point at the same branch.
func (s Scope) Contains(other Scope) bool {
	if s.BusinessID != other.BusinessID {
		return false
	}
	return s.BranchID == uuid.Nil || s.BranchID == other.BranchID
}

// Account represents a node in a business's chart of accounts.
type Account struct {
	ID         uuid.UUID
	BusinessID uuid.UUID
	// BranchID restricts the account to one branch; uuid.Nil shares it across the business.
	BranchID    uuid.UUID
	Code        string
	Name        string
	Type        AccountType
	ParentID    uuid.UUID
	Description string
	// System marks reserved accounts that cannot be renamed or deactivated.
	System bool
	// Active accounts accept postings; inactive ones only keep history.
	Active bool
}

// Scope returns the scope the account belongs to.
func (a Account) Scope() Scope { return Scope{BusinessID: a.BusinessID, BranchID: a.BranchID} }

// InScope reports whether the account may receive postings made in s.
func (a Account) InScope(s Scope) bool {
	return a.Scope().Contains(s)
}

// VoucherStatus is the lifecycle state of a journal voucher.
type VoucherStatus string

const (
	StatusDraft    VoucherStatus = "draft"
	StatusPosted   VoucherStatus = "posted"
	StatusReversed VoucherStatus = "reversed"
)

// Voucher is a journal voucher: an ordered set of balanced debit/credit lines.
type Voucher struct {
	ID        uuid.UUID
	Number    string
	Scope     Scope
	Date      time.Time
	Reference string
	Memo      string
	Currency  string
	Status    VoucherStatus
	AuthorID  uuid.UUID
	// Sequence is the global posting order; zero until posted.
	Sequence int64
	PostedAt time.Time
	// ReversalOf links a reversing voucher to the voucher it cancels.
	ReversalOf uuid.UUID
	// ReversedBy links a reversed voucher to its reversing voucher.
	ReversedBy uuid.UUID
	// Source names the producing subsystem (sales, depreciation, ...).
	Source string
	// SourceKey is an idempotency key unique per business.
	SourceKey string
	Lines     []Line
}

// Line links a voucher to an account with a debit or a credit amount.
type Line struct {
	ID        uuid.UUID
	VoucherID uuid.UUID
	AccountID uuid.UUID
	Debit     money.Amount
	Credit    money.Amount
	Memo      string
}

// Clone returns a deep copy so stored vouchers cannot be mutated through callers.
func (v Voucher) Clone() Voucher {
	out := v
	if v.Lines != nil {
		out.Lines = make([]Line, len(v.Lines))
		copy(out.Lines, v.Lines)
	}
	return out
}

// AccountIDs returns the distinct accounts referenced by the voucher lines.
func (v Voucher) AccountIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(v.Lines))
	out := make([]uuid.UUID, 0, len(v.Lines))
	for _, ln := range v.Lines {
		if _, ok := seen[ln.AccountID]; ok {
			continue
		}
		seen[ln.AccountID] = struct{}{}
		out = append(out, ln.AccountID)
	}
	return out
}

// Totals returns the sum of debits and credits in minor units. ok is false
// when either sum does not fit in int64.
func (v Voucher) Totals() (debits, credits int64, ok bool) {
	for _, ln := range v.Lines {
		if debits, ok = AddMinor(debits, Minor(ln.Debit)); !ok {
			return 0, 0, false
		}
		if credits, ok = AddMinor(credits, Minor(ln.Credit)); !ok {
			return 0, 0, false
		}
	}
	return debits, credits, true
}

// Entry is a posted line in the append-only ledger log.
type Entry struct {
	Sequence  int64
	VoucherID uuid.UUID
	LineID    uuid.UUID
	AccountID uuid.UUID
	Scope     Scope
	Date      time.Time
	Debit     money.Amount
	Credit    money.Amount
}

// Net returns debit minus credit in minor units.
func (e Entry) Net() int64 { return Minor(e.Debit) - Minor(e.Credit) }

// EntriesOf expands a posted voucher into ledger entries.
func EntriesOf(v Voucher) []Entry {
	out := make([]Entry, 0, len(v.Lines))
	for _, ln := range v.Lines {
		out = append(out, Entry{
			Sequence:  v.Sequence,
			VoucherID: v.ID,
			LineID:    ln.ID,
			AccountID: ln.AccountID,
			Scope:     v.Scope,
			Date:      v.Date,
			Debit:     ln.Debit,
			Credit:    ln.Credit,
		})
	}
	return out
}

// EntryFilter narrows entry scans. Zero values mean unbounded.
type EntryFilter struct {
	AccountID uuid.UUID
	// From and To bound the voucher date, both inclusive.
	From *time.Time
	To   *time.Time
	// UptoSequence keeps entries with Sequence <= UptoSequence when > 0.
	UptoSequence int64
}

// Match reports whether e passes the filter.
func (f EntryFilter) Match(e Entry) bool {
	if f.AccountID != uuid.Nil && e.AccountID != f.AccountID {
		return false
	}
	if f.From != nil && e.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Date.After(*f.To) {
		return false
	}
	if f.UptoSequence > 0 && e.Sequence > f.UptoSequence {
		return false
	}
	return true
}

// Budget groups planned targets for a fiscal year.
type Budget struct {
	ID         uuid.UUID
	Scope      Scope
	Name       string
	FiscalYear int
	Items      []BudgetItem
}

// BudgetItem is the target for one account over one period.
type BudgetItem struct {
	ID        uuid.UUID
	BudgetID  uuid.UUID
	AccountID uuid.UUID
	Period    Period
	Target    money.Amount
}

// DepreciationMethod selects how periodic depreciation is computed.
type DepreciationMethod string

const (
	MethodStraightLine     DepreciationMethod = "straight_line"
	MethodDecliningBalance DepreciationMethod = "declining_balance"
)

// FixedAsset is a depreciable asset with its linked posting accounts.
type FixedAsset struct {
	ID         uuid.UUID
	Scope      Scope
	Code       string
	Name       string
	AcquiredOn time.Time
	Cost       money.Amount
	Salvage    money.Amount
	Method     DepreciationMethod
	// UsefulLife is measured in depreciation periods.
	UsefulLife int
	// Rate is the per-period declining-balance rate; zero means 2/UsefulLife.
	Rate        decimal.Decimal
	Accumulated money.Amount
	PeriodsRun  int
	LastPeriod  string
	// ExpenseAccountID is debited and AccumulatedAccountID (contra asset) credited.
	ExpenseAccountID     uuid.UUID
	AccumulatedAccountID uuid.UUID
	Active               bool
}

// MaxLineMinor is the largest amount a single voucher line may carry, in minor units.
const MaxLineMinor int64 = 1_000_000_000_000_000

// Minor returns a in minor units of its currency.
func Minor(a money.Amount) int64 {
	units, _ := a.MinorUnits()
	return units
}

// MinorExact is Minor that also reports whether a fits in int64 minor units.
func MinorExact(a money.Amount) (int64, bool) {
	units, ok := a.MinorUnits()
	return units, ok
}

// AddMinor returns a+b, or false when the sum overflows int64.
func AddMinor(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// Amount builds an amount of units minor units in curr.
func Amount(curr string, units int64) money.Amount {
	a, err := money.NewAmountFromMinorUnits(curr, units)
	if err != nil {
		return money.MustNewAmount("XXX", 0, 0)
	}
	return a
}
