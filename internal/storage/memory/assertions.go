package memory

import (
	"github.com/tinoosan/erpledger/internal/service/account"
	"github.com/tinoosan/erpledger/internal/service/budget"
	"github.com/tinoosan/erpledger/internal/service/depreciation"
	"github.com/tinoosan/erpledger/internal/service/journal"
	"github.com/tinoosan/erpledger/internal/service/ledgerstore"
	"github.com/tinoosan/erpledger/internal/service/report"
)

// Compile-time interface assertions documenting which interfaces Store satisfies.
var (
	_ journal.Repo        = (*Store)(nil)
	_ journal.Writer      = (*Store)(nil)
	_ journal.Tx          = (*tx)(nil)
	_ account.Repo        = (*Store)(nil)
	_ account.Writer      = (*Store)(nil)
	_ ledgerstore.Repo    = (*Store)(nil)
	_ report.Repo         = (*Store)(nil)
	_ budget.Repo         = (*Store)(nil)
	_ budget.Writer       = (*Store)(nil)
	_ depreciation.Repo   = (*Store)(nil)
	_ depreciation.Writer = (*Store)(nil)
)
