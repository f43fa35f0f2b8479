package dictionary

import (
	"testing"

	"github.com/tinoosan/erpledger/internal/ledger"
)

func TestDefaultChartParentsPrecedeChildren(t *testing.T) {
	seen := map[string]ledger.AccountType{}
	for _, d := range DefaultChart() {
		if !d.Type.Valid() {
			t.Fatalf("%s: invalid type %q", d.Code, d.Type)
		}
		if d.ParentCode != "" {
			pt, ok := seen[d.ParentCode]
			if !ok {
				t.Fatalf("%s: parent %s not installed before child", d.Code, d.ParentCode)
			}
			if pt != d.Type {
				t.Fatalf("%s: parent type %s differs from %s", d.Code, pt, d.Type)
			}
		}
		if _, dup := seen[d.Code]; dup {
			t.Fatalf("duplicate code %s", d.Code)
		}
		seen[d.Code] = d.Type
	}
}

func TestChartForFiltersByType(t *testing.T) {
	typ := ledger.AccountTypeExpense
	for _, d := range ChartFor(&typ) {
		if d.Type != typ {
			t.Fatalf("unexpected type %s for %s", d.Type, d.Code)
		}
	}
	if !IsReserved(CodeRetainedEarnings) || IsReserved(CodeCash) {
		t.Fatalf("reserved flags wrong")
	}
}
