package v1

import (
	"net/http"

	"github.com/tinoosan/erpledger/internal/dictionary"
	"github.com/tinoosan/erpledger/internal/ledger"
)

// GET /v1/dictionary/chart?type=
func (s *Server) getChartDictionary(w http.ResponseWriter, r *http.Request) {
	var t *ledger.AccountType
	if ts := r.URL.Query().Get("type"); ts != "" {
		tt := ledger.AccountType(ts)
		if !tt.Valid() {
			badRequest(w, "unknown account type "+ts)
			return
		}
		t = &tt
	}
	type typeItem struct {
		Type     ledger.AccountType      `json:"type"`
		Accounts []dictionary.AccountDef `json:"accounts"`
	}
	out := struct {
		Items []typeItem `json:"items"`
	}{Items: []typeItem{}}
	for _, typ := range ledger.AccountTypes {
		if t != nil && *t != typ {
			continue
		}
		typ := typ
		out.Items = append(out.Items, typeItem{Type: typ, Accounts: dictionary.ChartFor(&typ)})
	}
	toJSON(w, http.StatusOK, out)
}
