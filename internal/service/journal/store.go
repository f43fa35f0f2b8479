package journal

import (
	"context"

	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/ledger"
)

// Repo defines read operations needed by the service.
type Repo interface {
	AccountsByIDs(ctx context.Context, businessID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error)
	VoucherByID(ctx context.Context, businessID, voucherID uuid.UUID) (ledger.Voucher, error)
	VouchersByScope(ctx context.Context, scope ledger.Scope) ([]ledger.Voucher, error)
	VoucherBySourceKey(ctx context.Context, businessID uuid.UUID, key string) (ledger.Voucher, bool, error)
}

// Writer defines write operations needed by the service.
type Writer interface {
	// SaveDraft inserts or replaces a draft. Replacing a non-draft fails with errs.ErrImmutable.
	SaveDraft(ctx context.Context, v ledger.Voucher) (ledger.Voucher, error)
	// DeleteDraft removes a draft. Removing a non-draft fails with errs.ErrImmutable.
	DeleteDraft(ctx context.Context, businessID, voucherID uuid.UUID) error
	// Begin opens a unit of work holding exclusive access to accountIDs until
	// Commit or Rollback. It may block until those accounts are free.
	Begin(ctx context.Context, accountIDs []uuid.UUID) (Tx, error)
}

// Tx is a unit of work over the ledger. Reads observe committed state; writes
// become visible together at Commit or not at all.
type Tx interface {
	VoucherByID(ctx context.Context, businessID, voucherID uuid.UUID) (ledger.Voucher, error)
	AccountsByIDs(ctx context.Context, businessID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error)
	// Post stages v for posting: its status becomes posted and its lines are
	// appended to the ledger as one batch. Sequence, Number and PostedAt are
	// assigned by the store.
	Post(ctx context.Context, v ledger.Voucher) error
	// MarkReversed stages the link from a posted voucher to its reversal.
	MarkReversed(ctx context.Context, businessID, voucherID, reversalID uuid.UUID) error
	// AdvanceAsset stages a fixed asset's depreciation progress. Commit fails
	// with errs.ErrConflict unless the stored asset still has fromPeriodsRun.
	AdvanceAsset(ctx context.Context, a ledger.FixedAsset, fromPeriodsRun int) error
	// Commit applies the staged writes atomically and returns the posted vouchers in staging order.
	Commit(ctx context.Context) ([]ledger.Voucher, error)
	// Rollback discards staged writes and releases locks. It is safe after Commit.
	Rollback(ctx context.Context) error
}
