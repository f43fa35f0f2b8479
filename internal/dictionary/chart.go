// Package dictionary holds the curated default chart of accounts installed
// for new businesses.
package dictionary

import "github.com/tinoosan/erpledger/internal/ledger"

// AccountDef is one template row of a chart of accounts.
type AccountDef struct {
	Code       string             `json:"code"`
	Name       string             `json:"name"`
	Type       ledger.AccountType `json:"type"`
	ParentCode string             `json:"parent_code,omitempty"`
	Reserved   bool               `json:"reserved"`
}

// Well-known codes referenced by seeds and tests.
const (
	CodeCash                    = "1000"
	CodeReceivables             = "1100"
	CodeFixedAssets             = "1500"
	CodeAccumulatedDepreciation = "1590"
	CodePayables                = "2000"
	CodeOwnerCapital            = "3000"
	CodeRetainedEarnings        = "3900"
	CodeSales                   = "4000"
	CodeCostOfSales             = "5000"
	CodeRent                    = "6000"
	CodeDepreciationExpense     = "6100"
)

// Parents precede children so the chart can be installed in one pass.
var curated = []AccountDef{
	{Code: "1", Name: "Assets", Type: ledger.AccountTypeAsset, Reserved: true},
	{Code: CodeCash, Name: "Cash", Type: ledger.AccountTypeAsset, ParentCode: "1"},
	{Code: CodeReceivables, Name: "Accounts Receivable", Type: ledger.AccountTypeAsset, ParentCode: "1"},
	{Code: "1200", Name: "Inventory", Type: ledger.AccountTypeAsset, ParentCode: "1"},
	{Code: CodeFixedAssets, Name: "Fixed Assets", Type: ledger.AccountTypeAsset, ParentCode: "1"},
	{Code: CodeAccumulatedDepreciation, Name: "Accumulated Depreciation", Type: ledger.AccountTypeAsset, ParentCode: CodeFixedAssets},
	{Code: "2", Name: "Liabilities", Type: ledger.AccountTypeLiability, Reserved: true},
	{Code: CodePayables, Name: "Accounts Payable", Type: ledger.AccountTypeLiability, ParentCode: "2"},
	{Code: "2100", Name: "Accrued Liabilities", Type: ledger.AccountTypeLiability, ParentCode: "2"},
	{Code: "3", Name: "Equity", Type: ledger.AccountTypeEquity, Reserved: true},
	{Code: CodeOwnerCapital, Name: "Owner Capital", Type: ledger.AccountTypeEquity, ParentCode: "3"},
	{Code: CodeRetainedEarnings, Name: "Retained Earnings", Type: ledger.AccountTypeEquity, ParentCode: "3", Reserved: true},
	{Code: "4", Name: "Revenue", Type: ledger.AccountTypeRevenue, Reserved: true},
	{Code: CodeSales, Name: "Sales", Type: ledger.AccountTypeRevenue, ParentCode: "4"},
	{Code: "4100", Name: "Other Income", Type: ledger.AccountTypeRevenue, ParentCode: "4"},
	{Code: "5", Name: "Expenses", Type: ledger.AccountTypeExpense, Reserved: true},
	{Code: CodeCostOfSales, Name: "Cost of Sales", Type: ledger.AccountTypeExpense, ParentCode: "5"},
	{Code: CodeRent, Name: "Rent", Type: ledger.AccountTypeExpense, ParentCode: "5"},
	{Code: CodeDepreciationExpense, Name: "Depreciation Expense", Type: ledger.AccountTypeExpense, ParentCode: "5"},
	{Code: "6200", Name: "Salaries", Type: ledger.AccountTypeExpense, ParentCode: "5"},
}

// DefaultChart returns a copy of the curated chart in install order.
func DefaultChart() []AccountDef {
	out := make([]AccountDef, len(curated))
	copy(out, curated)
	return out
}

// IsReserved reports whether code is a reserved (system) account in the default chart.
func IsReserved(code string) bool {
	for _, d := range curated {
		if d.Code == code && d.Reserved {
			return true
		}
	}
	return false
}

// ChartFor returns the template rows of type t, or every row when t is nil.
func ChartFor(t *ledger.AccountType) []AccountDef {
	if t == nil {
		return DefaultChart()
	}
	out := make([]AccountDef, 0)
	for _, d := range curated {
		if d.Type == *t {
			out = append(out, d)
		}
	}
	return out
}
