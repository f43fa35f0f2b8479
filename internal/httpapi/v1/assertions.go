package v1

import (
	"github.com/tinoosan/erpledger/internal/storage/memory"
	"github.com/tinoosan/erpledger/internal/storage/postgres"
)

// Compile-time checks that both stores can back the readiness probe.
var (
	_ Pinger = (*memory.Store)(nil)
	_ Pinger = (*postgres.Store)(nil)
)
