package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
	"github.com/tinoosan/erpledger/internal/service/journal"
)

func (s *Store) VoucherByID(_ context.Context, businessID, voucherID uuid.UUID) (ledger.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voucherLocked(businessID, voucherID)
}

func (s *Store) voucherLocked(businessID, voucherID uuid.UUID) (ledger.Voucher, error) {
	v, ok := s.vouchers[voucherID]
	if !ok || v.Scope.BusinessID != businessID {
		return ledger.Voucher{}, fmt.Errorf("%w: voucher %s", errs.ErrNotFound, voucherID)
	}
	return v.Clone(), nil
}

// VouchersByScope returns vouchers inside scope in creation order.
func (s *Store) VouchersByScope(_ context.Context, scope ledger.Scope) ([]ledger.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.voucherIDsByBusiness[scope.BusinessID]
	out := make([]ledger.Voucher, 0, len(ids))
	for _, id := range ids {
		if v, ok := s.vouchers[id]; ok && scope.Contains(v.Scope) {
			out = append(out, v.Clone())
		}
	}
	return out, nil
}

// VoucherBySourceKey finds the posted or reversed voucher holding key.
func (s *Store) VoucherBySourceKey(_ context.Context, businessID uuid.UUID, key string) (ledger.Voucher, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sourceKeys[businessID][key]
	if !ok {
		return ledger.Voucher{}, false, nil
	}
	return s.vouchers[id].Clone(), true, nil
}

// SaveDraft inserts or replaces a draft voucher.
func (s *Store) SaveDraft(_ context.Context, v ledger.Voucher) (ledger.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.Status != ledger.StatusDraft {
		return ledger.Voucher{}, fmt.Errorf("%w: only drafts can be saved", errs.ErrImmutable)
	}
	if cur, ok := s.vouchers[v.ID]; ok {
		if cur.Scope.BusinessID != v.Scope.BusinessID {
			return ledger.Voucher{}, fmt.Errorf("%w: voucher %s", errs.ErrNotFound, v.ID)
		}
		if cur.Status != ledger.StatusDraft {
			return ledger.Voucher{}, fmt.Errorf("%w: voucher %s is %s", errs.ErrImmutable, v.ID, cur.Status)
		}
	} else {
		s.voucherIDsByBusiness[v.Scope.BusinessID] = append(s.voucherIDsByBusiness[v.Scope.BusinessID], v.ID)
	}
	stored := v.Clone()
	s.vouchers[v.ID] = &stored
	return stored.Clone(), nil
}

func (s *Store) DeleteDraft(_ context.Context, businessID, voucherID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.vouchers[voucherID]
	if !ok || cur.Scope.BusinessID != businessID {
		return fmt.Errorf("%w: voucher %s", errs.ErrNotFound, voucherID)
	}
	if cur.Status != ledger.StatusDraft {
		return fmt.Errorf("%w: voucher %s is %s", errs.ErrImmutable, voucherID, cur.Status)
	}
	delete(s.vouchers, voucherID)
	ids := s.voucherIDsByBusiness[businessID]
	for i, id := range ids {
		if id == voucherID {
			s.voucherIDsByBusiness[businessID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// Begin locks accountIDs and returns a unit of work over the store.
func (s *Store) Begin(ctx context.Context, accountIDs []uuid.UUID) (journal.Tx, error) {
	held, err := s.locks.acquire(ctx, accountIDs)
	if err != nil {
		return nil, err
	}
	return &tx{s: s, held: held}, nil
}

type reversal struct {
	businessID, voucherID, reversalID uuid.UUID
}

type assetAdvance struct {
	asset ledger.FixedAsset
	from  int
}

// tx stages posts, reversal links and asset progress and applies them in Commit.
type tx struct {
	s         *Store
	held      []uuid.UUID
	posts     []ledger.Voucher
	reversals []reversal
	advances  []assetAdvance
	done      bool
}

func (t *tx) VoucherByID(ctx context.Context, businessID, voucherID uuid.UUID) (ledger.Voucher, error) {
	return t.s.VoucherByID(ctx, businessID, voucherID)
}

func (t *tx) AccountsByIDs(ctx context.Context, businessID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error) {
	return t.s.AccountsByIDs(ctx, businessID, ids)
}

func (t *tx) Post(_ context.Context, v ledger.Voucher) error {
	if t.done {
		return errs.ErrInvalid
	}
	for _, id := range v.AccountIDs() {
		if !t.holds(id) {
			return fmt.Errorf("%w: account %s is not locked by this unit of work", errs.ErrConflict, id)
		}
	}
	t.posts = append(t.posts, v.Clone())
	return nil
}

func (t *tx) MarkReversed(_ context.Context, businessID, voucherID, reversalID uuid.UUID) error {
	if t.done {
		return errs.ErrInvalid
	}
	t.reversals = append(t.reversals, reversal{businessID: businessID, voucherID: voucherID, reversalID: reversalID})
	return nil
}

func (t *tx) AdvanceAsset(_ context.Context, a ledger.FixedAsset, fromPeriodsRun int) error {
	if t.done {
		return errs.ErrInvalid
	}
	t.advances = append(t.advances, assetAdvance{asset: a, from: fromPeriodsRun})
	return nil
}

func (t *tx) holds(id uuid.UUID) bool {
	for _, h := range t.held {
		if h == id {
			return true
		}
	}
	return false
}

// Commit checks the staged writes against current state and applies all of
// them, or none, under the store's write lock.
func (t *tx) Commit(_ context.Context) ([]ledger.Voucher, error) {
	if t.done {
		return nil, errs.ErrInvalid
	}
	defer t.finish()
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := t.checkLocked(); err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]ledger.Voucher, 0, len(t.posts))
	for _, v := range t.posts {
		biz := v.Scope.BusinessID
		s.sequence++
		s.numbers[biz]++
		v.Sequence = s.sequence
		v.Number = fmt.Sprintf("JV-%05d", s.numbers[biz])
		v.PostedAt = now
		v.Status = ledger.StatusPosted
		if _, exists := s.vouchers[v.ID]; !exists {
			s.voucherIDsByBusiness[biz] = append(s.voucherIDsByBusiness[biz], v.ID)
		}
		stored := v.Clone()
		s.vouchers[v.ID] = &stored
		if v.SourceKey != "" {
			if s.sourceKeys[biz] == nil {
				s.sourceKeys[biz] = map[string]uuid.UUID{}
			}
			s.sourceKeys[biz][v.SourceKey] = v.ID
		}
		for _, e := range ledger.EntriesOf(v) {
			s.entries = append(s.entries, e)
			s.entryIdxByAccount[e.AccountID] = append(s.entryIdxByAccount[e.AccountID], len(s.entries)-1)
			s.balances[e.AccountID] += e.Net()
		}
		out = append(out, v.Clone())
	}
	for _, r := range t.reversals {
		orig := s.vouchers[r.voucherID]
		orig.Status = ledger.StatusReversed
		orig.ReversedBy = r.reversalID
	}
	for _, adv := range t.advances {
		s.assets[adv.asset.ID] = adv.asset
	}
	return out, nil
}

// checkLocked re-validates everything that other writers could have changed
// since the staged vouchers were validated. It assumes s.mu is held.
func (t *tx) checkLocked() error {
	s := t.s
	staged := make(map[uuid.UUID]bool, len(t.posts))
	for _, v := range t.posts {
		if cur, ok := s.vouchers[v.ID]; ok && cur.Status != ledger.StatusDraft {
			return fmt.Errorf("%w: voucher %s is %s", errs.ErrImmutable, v.ID, cur.Status)
		}
		if v.SourceKey != "" {
			if id, ok := s.sourceKeys[v.Scope.BusinessID][v.SourceKey]; ok && id != v.ID {
				return fmt.Errorf("%w: source key %s", errs.ErrAlreadyPosted, v.SourceKey)
			}
		}
		accs := s.accountsByIDsLocked(v.Scope.BusinessID, v.AccountIDs())
		for i, ln := range v.Lines {
			acc, ok := accs[ln.AccountID]
			if !ok {
				return errs.LineValidation(i, errs.RuleUnknownAccount, "account "+ln.AccountID.String()+" not found")
			}
			if !acc.Active && v.ReversalOf == uuid.Nil {
				return errs.LineValidation(i, errs.RuleInactiveAccount, "account "+acc.Code+" is inactive")
			}
		}
		staged[v.ID] = true
	}
	projected := make(map[uuid.UUID]int64)
	for _, v := range t.posts {
		for _, e := range ledger.EntriesOf(v) {
			cur, ok := projected[e.AccountID]
			if !ok {
				cur = s.balances[e.AccountID]
			}
			next, ok := ledger.AddMinor(cur, e.Net())
			if !ok {
				return errs.Validation(errs.RuleInvalidField, "balance of account "+e.AccountID.String()+" out of range")
			}
			projected[e.AccountID] = next
		}
	}
	for _, r := range t.reversals {
		orig, ok := s.vouchers[r.voucherID]
		if !ok || orig.Scope.BusinessID != r.businessID {
			return fmt.Errorf("%w: voucher %s", errs.ErrNotFound, r.voucherID)
		}
		if orig.Status != ledger.StatusPosted {
			return fmt.Errorf("%w: voucher %s is %s", errs.ErrImmutable, r.voucherID, orig.Status)
		}
		if !staged[r.reversalID] {
			return fmt.Errorf("%w: reversal %s is not part of this unit of work", errs.ErrInvalid, r.reversalID)
		}
	}
	for _, adv := range t.advances {
		cur, ok := s.assets[adv.asset.ID]
		if !ok || cur.Scope.BusinessID != adv.asset.Scope.BusinessID {
			return fmt.Errorf("%w: asset %s", errs.ErrNotFound, adv.asset.ID)
		}
		if cur.PeriodsRun != adv.from {
			return fmt.Errorf("%w: asset %s moved on to %d periods", errs.ErrConflict, cur.Code, cur.PeriodsRun)
		}
	}
	return nil
}

func (t *tx) Rollback(context.Context) error {
	t.finish()
	return nil
}

func (t *tx) finish() {
	if t.done {
		return
	}
	t.done = true
	t.s.locks.release(t.held)
	t.posts, t.reversals, t.advances = nil, nil, nil
}
