package v1

import (
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/shopspring/decimal"

	"github.com/tinoosan/erpledger/internal/ledger"
	"github.com/tinoosan/erpledger/internal/service/budget"
	"github.com/tinoosan/erpledger/internal/service/depreciation"
	"github.com/tinoosan/erpledger/internal/service/ledgerstore"
	"github.com/tinoosan/erpledger/internal/service/report"
)

// amountJSON renders an amount as minor units plus a decimal string.
type amountJSON struct {
	Minor int64  `json:"minor"`
	Value string `json:"value"`
}

func toAmount(a money.Amount) amountJSON {
	return amountJSON{Minor: ledger.Minor(a), Value: a.Decimal().String()}
}

// Accounts

type postAccountRequest struct {
	BranchID    uuid.UUID          `json:"branch_id,omitempty"`
	Code        string             `json:"code"`
	Name        string             `json:"name"`
	Type        ledger.AccountType `json:"type"`
	ParentID    uuid.UUID          `json:"parent_id,omitempty"`
	Description string             `json:"description,omitempty"`
}

type patchAccountRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	// ParentID moves the account; the nil uuid moves it to the top level.
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
}

type accountResponse struct {
	ID          uuid.UUID          `json:"id"`
	BusinessID  uuid.UUID          `json:"business_id"`
	BranchID    *uuid.UUID         `json:"branch_id,omitempty"`
	Code        string             `json:"code"`
	Name        string             `json:"name"`
	Type        ledger.AccountType `json:"type"`
	ParentID    *uuid.UUID         `json:"parent_id,omitempty"`
	Description string             `json:"description,omitempty"`
	System      bool               `json:"system"`
	Active      bool               `json:"active"`
}

func optUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func toAccountResponse(a ledger.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		BusinessID:  a.BusinessID,
		BranchID:    optUUID(a.BranchID),
		Code:        a.Code,
		Name:        a.Name,
		Type:        a.Type,
		ParentID:    optUUID(a.ParentID),
		Description: a.Description,
		System:      a.System,
		Active:      a.Active,
	}
}

func toAccountResponses(in []ledger.Account) []accountResponse {
	out := make([]accountResponse, 0, len(in))
	for _, a := range in {
		out = append(out, toAccountResponse(a))
	}
	return out
}

type balanceResponse struct {
	AccountID    uuid.UUID          `json:"account_id"`
	Code         string             `json:"code"`
	Type         ledger.AccountType `json:"type"`
	AsOfSequence int64              `json:"as_of_sequence,omitempty"`
	Raw          int64              `json:"raw_minor"`
	Balance      amountJSON         `json:"balance"`
}

func toBalanceResponse(b ledgerstore.Balance) balanceResponse {
	return balanceResponse{
		AccountID:    b.AccountID,
		Code:         b.Code,
		Type:         b.Type,
		AsOfSequence: b.AsOfSequence,
		Raw:          b.Raw,
		Balance:      toAmount(b.Amount),
	}
}

// Vouchers

type voucherLineRequest struct {
	AccountID   uuid.UUID `json:"account_id"`
	DebitMinor  int64     `json:"debit_minor"`
	CreditMinor int64     `json:"credit_minor"`
	Memo        string    `json:"memo,omitempty"`
}

type voucherRequest struct {
	BranchID  uuid.UUID            `json:"branch_id"`
	Date      string               `json:"date"`
	Reference string               `json:"reference,omitempty"`
	Memo      string               `json:"memo,omitempty"`
	Currency  string               `json:"currency,omitempty"`
	Source    string               `json:"source,omitempty"`
	SourceKey string               `json:"source_key,omitempty"`
	Lines     []voucherLineRequest `json:"lines"`
}

type reverseRequest struct {
	Date string `json:"date,omitempty"`
}

type voucherLineResponse struct {
	ID        uuid.UUID  `json:"id"`
	AccountID uuid.UUID  `json:"account_id"`
	Debit     amountJSON `json:"debit"`
	Credit    amountJSON `json:"credit"`
	Memo      string     `json:"memo,omitempty"`
}

type voucherResponse struct {
	ID         uuid.UUID             `json:"id"`
	Number     string                `json:"number,omitempty"`
	BusinessID uuid.UUID             `json:"business_id"`
	BranchID   uuid.UUID             `json:"branch_id"`
	Date       string                `json:"date"`
	Reference  string                `json:"reference,omitempty"`
	Memo       string                `json:"memo,omitempty"`
	Currency   string                `json:"currency"`
	Status     ledger.VoucherStatus  `json:"status"`
	AuthorID   uuid.UUID             `json:"author_id"`
	Sequence   int64                 `json:"sequence,omitempty"`
	PostedAt   *time.Time            `json:"posted_at,omitempty"`
	ReversalOf *uuid.UUID            `json:"reversal_of,omitempty"`
	ReversedBy *uuid.UUID            `json:"reversed_by,omitempty"`
	Source     string                `json:"source,omitempty"`
	SourceKey  string                `json:"source_key,omitempty"`
	Lines      []voucherLineResponse `json:"lines"`
}

func toVoucherResponse(v ledger.Voucher) voucherResponse {
	out := voucherResponse{
		ID:         v.ID,
		Number:     v.Number,
		BusinessID: v.Scope.BusinessID,
		BranchID:   v.Scope.BranchID,
		Date:       v.Date.Format(dateLayout),
		Reference:  v.Reference,
		Memo:       v.Memo,
		Currency:   v.Currency,
		Status:     v.Status,
		AuthorID:   v.AuthorID,
		Sequence:   v.Sequence,
		ReversalOf: optUUID(v.ReversalOf),
		ReversedBy: optUUID(v.ReversedBy),
		Source:     v.Source,
		SourceKey:  v.SourceKey,
		Lines:      make([]voucherLineResponse, 0, len(v.Lines)),
	}
	if !v.PostedAt.IsZero() {
		t := v.PostedAt
		out.PostedAt = &t
	}
	for _, ln := range v.Lines {
		out.Lines = append(out.Lines, voucherLineResponse{
			ID:        ln.ID,
			AccountID: ln.AccountID,
			Debit:     toAmount(ln.Debit),
			Credit:    toAmount(ln.Credit),
			Memo:      ln.Memo,
		})
	}
	return out
}

// Reports

type rowResponse struct {
	AccountID   uuid.UUID          `json:"account_id"`
	AccountCode string             `json:"account_code"`
	AccountName string             `json:"account_name"`
	Type        ledger.AccountType `json:"type"`
	Debit       amountJSON         `json:"debit"`
	Credit      amountJSON         `json:"credit"`
	Balance     amountJSON         `json:"balance"`

	ActivityDebit  amountJSON `json:"activity_debit"`
	ActivityCredit amountJSON `json:"activity_credit"`
}

func toRows(in []report.Row) []rowResponse {
	out := make([]rowResponse, 0, len(in))
	for _, r := range in {
		out = append(out, rowResponse{
			AccountID:   r.AccountID,
			AccountCode: r.AccountCode,
			AccountName: r.AccountName,
			Type:        r.Type,
			Debit:       toAmount(r.Debit),
			Credit:      toAmount(r.Credit),
			Balance:     toAmount(r.Balance),

			ActivityDebit:  toAmount(r.ActivityDebit),
			ActivityCredit: toAmount(r.ActivityCredit),
		})
	}
	return out
}

type trialBalanceResponse struct {
	AsOf        string        `json:"as_of,omitempty"`
	Rows        []rowResponse `json:"rows"`
	TotalDebit  amountJSON    `json:"total_debit"`
	TotalCredit amountJSON    `json:"total_credit"`
}

type balanceSheetResponse struct {
	AsOf             string        `json:"as_of,omitempty"`
	Assets           []rowResponse `json:"assets"`
	Liabilities      []rowResponse `json:"liabilities"`
	Equity           []rowResponse `json:"equity"`
	CurrentEarnings  amountJSON    `json:"current_earnings"`
	TotalAssets      amountJSON    `json:"total_assets"`
	TotalLiabilities amountJSON    `json:"total_liabilities"`
	TotalEquity      amountJSON    `json:"total_equity"`
}

type pnlResponse struct {
	From         string        `json:"from,omitempty"`
	To           string        `json:"to,omitempty"`
	Revenue      []rowResponse `json:"revenue"`
	Expenses     []rowResponse `json:"expenses"`
	TotalRevenue amountJSON    `json:"total_revenue"`
	TotalExpense amountJSON    `json:"total_expense"`
	NetIncome    amountJSON    `json:"net_income"`
}

type ledgerLineResponse struct {
	Sequence  int64      `json:"sequence"`
	VoucherID uuid.UUID  `json:"voucher_id"`
	Date      string     `json:"date"`
	Debit     amountJSON `json:"debit"`
	Credit    amountJSON `json:"credit"`
	Balance   amountJSON `json:"balance"`
}

type generalLedgerResponse struct {
	Account accountResponse      `json:"account"`
	Opening amountJSON           `json:"opening"`
	Lines   []ledgerLineResponse `json:"lines"`
	Closing amountJSON           `json:"closing"`
}

func toGeneralLedger(gl report.GeneralLedger) generalLedgerResponse {
	out := generalLedgerResponse{
		Account: toAccountResponse(gl.Account),
		Opening: toAmount(gl.Opening),
		Closing: toAmount(gl.Closing),
		Lines:   make([]ledgerLineResponse, 0, len(gl.Lines)),
	}
	for _, l := range gl.Lines {
		out.Lines = append(out.Lines, ledgerLineResponse{
			Sequence:  l.Sequence,
			VoucherID: l.VoucherID,
			Date:      l.Date.Format(dateLayout),
			Debit:     toAmount(l.Debit),
			Credit:    toAmount(l.Credit),
			Balance:   toAmount(l.Balance),
		})
	}
	return out
}

func fmtDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// Budgets

type budgetItemRequest struct {
	AccountID   uuid.UUID `json:"account_id"`
	Period      string    `json:"period"`
	TargetMinor int64     `json:"target_minor"`
}

type budgetRequest struct {
	BranchID   uuid.UUID           `json:"branch_id,omitempty"`
	Name       string              `json:"name"`
	FiscalYear int                 `json:"fiscal_year"`
	Items      []budgetItemRequest `json:"items,omitempty"`
}

type budgetItemResponse struct {
	ID        uuid.UUID  `json:"id"`
	AccountID uuid.UUID  `json:"account_id"`
	Period    string     `json:"period"`
	Target    amountJSON `json:"target"`
}

type budgetResponse struct {
	ID         uuid.UUID            `json:"id"`
	BusinessID uuid.UUID            `json:"business_id"`
	BranchID   *uuid.UUID           `json:"branch_id,omitempty"`
	Name       string               `json:"name"`
	FiscalYear int                  `json:"fiscal_year"`
	Items      []budgetItemResponse `json:"items"`
}

func toBudgetItemResponse(it ledger.BudgetItem) budgetItemResponse {
	return budgetItemResponse{ID: it.ID, AccountID: it.AccountID, Period: it.Period.Key, Target: toAmount(it.Target)}
}

func toBudgetResponse(b ledger.Budget) budgetResponse {
	out := budgetResponse{
		ID:         b.ID,
		BusinessID: b.Scope.BusinessID,
		BranchID:   optUUID(b.Scope.BranchID),
		Name:       b.Name,
		FiscalYear: b.FiscalYear,
		Items:      make([]budgetItemResponse, 0, len(b.Items)),
	}
	for _, it := range b.Items {
		out.Items = append(out.Items, toBudgetItemResponse(it))
	}
	return out
}

type varianceResponse struct {
	AccountID   uuid.UUID          `json:"account_id"`
	AccountCode string             `json:"account_code"`
	Type        ledger.AccountType `json:"type"`
	Period      string             `json:"period"`
	Actual      amountJSON         `json:"actual"`
	Target      amountJSON         `json:"target"`
	Variance    amountJSON         `json:"variance"`
	Percent     *string            `json:"percent,omitempty"`
	Flagged     bool               `json:"flagged"`
	Direction   budget.Direction   `json:"direction,omitempty"`
}

func toVarianceResponse(v budget.Variance) varianceResponse {
	out := varianceResponse{
		AccountID:   v.AccountID,
		AccountCode: v.AccountCode,
		Type:        v.Type,
		Period:      v.Period.Key,
		Actual:      toAmount(v.Actual),
		Target:      toAmount(v.Target),
		Variance:    toAmount(v.Variance),
		Flagged:     v.Flagged,
		Direction:   v.Direction,
	}
	if v.Percent != nil {
		p := v.Percent.StringFixed(2)
		out.Percent = &p
	}
	return out
}

// Assets

type assetRequest struct {
	BranchID             uuid.UUID                 `json:"branch_id"`
	Code                 string                    `json:"code"`
	Name                 string                    `json:"name"`
	AcquiredOn           string                    `json:"acquired_on"`
	CostMinor            int64                     `json:"cost_minor"`
	SalvageMinor         int64                     `json:"salvage_minor"`
	Method               ledger.DepreciationMethod `json:"method"`
	UsefulLife           int                       `json:"useful_life"`
	Rate                 decimal.Decimal           `json:"rate"`
	ExpenseAccountID     uuid.UUID                 `json:"expense_account_id"`
	AccumulatedAccountID uuid.UUID                 `json:"accumulated_account_id"`
}

type assetResponse struct {
	ID                   uuid.UUID                 `json:"id"`
	BusinessID           uuid.UUID                 `json:"business_id"`
	BranchID             uuid.UUID                 `json:"branch_id"`
	Code                 string                    `json:"code"`
	Name                 string                    `json:"name"`
	AcquiredOn           string                    `json:"acquired_on"`
	Cost                 amountJSON                `json:"cost"`
	Salvage              amountJSON                `json:"salvage"`
	Method               ledger.DepreciationMethod `json:"method"`
	UsefulLife           int                       `json:"useful_life"`
	Rate                 string                    `json:"rate"`
	Accumulated          amountJSON                `json:"accumulated"`
	PeriodsRun           int                       `json:"periods_run"`
	LastPeriod           string                    `json:"last_period,omitempty"`
	ExpenseAccountID     uuid.UUID                 `json:"expense_account_id"`
	AccumulatedAccountID uuid.UUID                 `json:"accumulated_account_id"`
	Active               bool                      `json:"active"`
}

func toAssetResponse(a ledger.FixedAsset) assetResponse {
	return assetResponse{
		ID:                   a.ID,
		BusinessID:           a.Scope.BusinessID,
		BranchID:             a.Scope.BranchID,
		Code:                 a.Code,
		Name:                 a.Name,
		AcquiredOn:           a.AcquiredOn.Format(dateLayout),
		Cost:                 toAmount(a.Cost),
		Salvage:              toAmount(a.Salvage),
		Method:               a.Method,
		UsefulLife:           a.UsefulLife,
		Rate:                 a.Rate.String(),
		Accumulated:          toAmount(a.Accumulated),
		PeriodsRun:           a.PeriodsRun,
		LastPeriod:           a.LastPeriod,
		ExpenseAccountID:     a.ExpenseAccountID,
		AccumulatedAccountID: a.AccumulatedAccountID,
		Active:               a.Active,
	}
}

type scheduleRowResponse struct {
	Number      int        `json:"number"`
	Period      string     `json:"period"`
	Amount      amountJSON `json:"amount"`
	Accumulated amountJSON `json:"accumulated"`
	BookValue   amountJSON `json:"book_value"`
}

type depreciateRequest struct {
	BranchID uuid.UUID `json:"branch_id,omitempty"`
	Period   string    `json:"period"`
}

type runResponse struct {
	AssetID   uuid.UUID        `json:"asset_id"`
	AssetCode string           `json:"asset_code"`
	Period    string           `json:"period"`
	Amount    *amountJSON      `json:"amount,omitempty"`
	Voucher   *voucherResponse `json:"voucher,omitempty"`
	Error     string           `json:"error,omitempty"`
	Code      string           `json:"code,omitempty"`
}

func toRunResponse(r depreciation.Run) runResponse {
	out := runResponse{AssetID: r.AssetID, AssetCode: r.AssetCode, Period: r.Period}
	if r.Err != nil {
		_, out.Code = statusOf(r.Err)
		out.Error = r.Err.Error()
		return out
	}
	amt := toAmount(r.Amount)
	v := toVoucherResponse(r.Voucher)
	out.Amount, out.Voucher = &amt, &v
	return out
}
