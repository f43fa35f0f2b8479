// Package memory provides an in-memory ledger store used for development and tests.
// Reads take the store's read lock; a unit of work becomes visible at Commit,
// which runs under the write lock, so readers never see half a voucher.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
)

// Store is an in-memory implementation of every repository and writer the services use.
// It is guarded by an RWMutex; postings additionally hold per-account locks.
type Store struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]ledger.Account
	vouchers map[uuid.UUID]*ledger.Voucher
	// Per-business voucher ids in creation order.
	voucherIDsByBusiness map[uuid.UUID][]uuid.UUID
	// Idempotency: businessID -> source key -> posted voucher id.
	sourceKeys map[uuid.UUID]map[string]uuid.UUID
	// Append-only log; entryIdxByAccount indexes into it.
	entries           []ledger.Entry
	entryIdxByAccount map[uuid.UUID][]int
	balances          map[uuid.UUID]int64
	sequence          int64
	numbers           map[uuid.UUID]int64
	budgets           map[uuid.UUID]*ledger.Budget
	assets            map[uuid.UUID]ledger.FixedAsset

	locks *accountLocks
	now   func() time.Time
}

// New constructs an empty in-memory store.
func New() *Store {
	s := &Store{locks: newAccountLocks(), now: func() time.Time { return time.Now().UTC() }}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.accounts = map[uuid.UUID]ledger.Account{}
	s.vouchers = map[uuid.UUID]*ledger.Voucher{}
	s.voucherIDsByBusiness = map[uuid.UUID][]uuid.UUID{}
	s.sourceKeys = map[uuid.UUID]map[string]uuid.UUID{}
	s.entries = nil
	s.entryIdxByAccount = map[uuid.UUID][]int{}
	s.balances = map[uuid.UUID]int64{}
	s.sequence = 0
	s.numbers = map[uuid.UUID]int64{}
	s.budgets = map[uuid.UUID]*ledger.Budget{}
	s.assets = map[uuid.UUID]ledger.FixedAsset{}
}

// Seed helpers for local dev/tests.
func (s *Store) SeedAccount(a ledger.Account) { s.mu.Lock(); s.accounts[a.ID] = a; s.mu.Unlock() }
func (s *Store) Reset()                       { s.mu.Lock(); s.reset(); s.mu.Unlock() }

// Ping reports readiness. The memory store is always ready.
func (s *Store) Ping(context.Context) error { return nil }

// ---- accounts ----

// ListAccounts returns the business's accounts ordered by code.
func (s *Store) ListAccounts(_ context.Context, businessID uuid.UUID) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Account, 0)
	for _, a := range s.accounts {
		if a.BusinessID == businessID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, businessID, accountID uuid.UUID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok || a.BusinessID != businessID {
		return ledger.Account{}, fmt.Errorf("%w: account %s", errs.ErrNotFound, accountID)
	}
	return a, nil
}

func (s *Store) AccountsByIDs(_ context.Context, businessID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountsByIDsLocked(businessID, ids), nil
}

func (s *Store) accountsByIDsLocked(businessID uuid.UUID, ids []uuid.UUID) map[uuid.UUID]ledger.Account {
	out := make(map[uuid.UUID]ledger.Account, len(ids))
	for _, id := range ids {
		if acc, ok := s.accounts[id]; ok && acc.BusinessID == businessID {
			out[id] = acc
		}
	}
	return out
}

func (s *Store) HasEntries(_ context.Context, accountID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entryIdxByAccount[accountID]) > 0, nil
}

func (s *Store) CreateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return ledger.Account{}, fmt.Errorf("%w: account id %s", errs.ErrConflict, a.ID)
	}
	for _, other := range s.accounts {
		if other.BusinessID == a.BusinessID && strings.EqualFold(other.Code, a.Code) {
			return ledger.Account{}, fmt.Errorf("%w: account code %s already exists", errs.ErrConflict, a.Code)
		}
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *Store) UpdateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[a.ID]
	if !ok || cur.BusinessID != a.BusinessID {
		return ledger.Account{}, fmt.Errorf("%w: account %s", errs.ErrNotFound, a.ID)
	}
	s.accounts[a.ID] = a
	return a, nil
}

// DeleteAccount hard-deletes an account that no entry references.
func (s *Store) DeleteAccount(_ context.Context, businessID, accountID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[accountID]
	if !ok || cur.BusinessID != businessID {
		return fmt.Errorf("%w: account %s", errs.ErrNotFound, accountID)
	}
	if len(s.entryIdxByAccount[accountID]) > 0 {
		return fmt.Errorf("%w: account %s has ledger entries", errs.ErrConflict, cur.Code)
	}
	delete(s.accounts, accountID)
	delete(s.balances, accountID)
	return nil
}

// ---- ledger reads ----

// CachedBalance returns the running debit-minus-credit balance.
func (s *Store) CachedBalance(_ context.Context, accountID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return 0, fmt.Errorf("%w: account %s", errs.ErrNotFound, accountID)
	}
	return s.balances[accountID], nil
}

func (s *Store) EntriesForAccount(_ context.Context, accountID uuid.UUID, upto int64) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entriesForAccountLocked(accountID, upto), nil
}

func (s *Store) entriesForAccountLocked(accountID uuid.UUID, upto int64) []ledger.Entry {
	idx := s.entryIdxByAccount[accountID]
	out := make([]ledger.Entry, 0, len(idx))
	for _, i := range idx {
		e := s.entries[i]
		if upto > 0 && e.Sequence > upto {
			break
		}
		out = append(out, e)
	}
	return out
}

func (s *Store) BalanceSnapshot(_ context.Context, accountID uuid.UUID) (int64, []ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return 0, nil, fmt.Errorf("%w: account %s", errs.ErrNotFound, accountID)
	}
	return s.balances[accountID], s.entriesForAccountLocked(accountID, 0), nil
}

// EntriesByScope scans the log in sequence order.
func (s *Store) EntriesByScope(_ context.Context, scope ledger.Scope, f ledger.EntryFilter) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.entries
	if f.AccountID != uuid.Nil {
		src = s.entriesForAccountLocked(f.AccountID, 0)
	}
	out := make([]ledger.Entry, 0)
	for _, e := range src {
		if scope.Contains(e.Scope) && f.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// LastSequence returns the highest assigned posting sequence.
func (s *Store) LastSequence(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence, nil
}
