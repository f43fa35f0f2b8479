// Package ledgerstore exposes balances derived from the append-only entry
// log: the cached running balance, a historical balance recomputed from the
// log, and reconciliation between the two.
package ledgerstore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
)

type Repo interface {
	GetAccount(ctx context.Context, businessID, accountID uuid.UUID) (ledger.Account, error)
	ListAccounts(ctx context.Context, businessID uuid.UUID) ([]ledger.Account, error)
	// CachedBalance returns the running debit-minus-credit balance kept at post time.
	CachedBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	// EntriesForAccount returns the account's entries in sequence order,
	// limited to Sequence <= upto when upto > 0.
	EntriesForAccount(ctx context.Context, accountID uuid.UUID, upto int64) ([]ledger.Entry, error)
	// BalanceSnapshot reads the cached balance and the full entry log of an
	// account at one commit boundary.
	BalanceSnapshot(ctx context.Context, accountID uuid.UUID) (cached int64, entries []ledger.Entry, err error)
}

// Balance is an account balance at a point of the log.
type Balance struct {
	AccountID uuid.UUID
	Code      string
	Type      ledger.AccountType
	// AsOfSequence is the log position the balance was derived at; zero means current.
	AsOfSequence int64
	// Raw is debits minus credits in minor units.
	Raw int64
	// Amount is the balance in the account's normal direction.
	Amount money.Amount
}

type Service interface {
	Balance(ctx context.Context, businessID, accountID uuid.UUID) (Balance, error)
	BalanceAt(ctx context.Context, businessID, accountID uuid.UUID, sequence int64) (Balance, error)
	Reconcile(ctx context.Context, businessID, accountID uuid.UUID) (Balance, error)
	ReconcileAll(ctx context.Context, businessID uuid.UUID) ([]Balance, error)
}

type service struct {
	repo     Repo
	currency string
	log      *slog.Logger
}

func New(repo Repo, currency string, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if currency == "" {
		currency = "USD"
	}
	return &service{repo: repo, currency: currency, log: logger}
}

func (s *service) balanceOf(acc ledger.Account, seq, raw int64) Balance {
	return Balance{
		AccountID:    acc.ID,
		Code:         acc.Code,
		Type:         acc.Type,
		AsOfSequence: seq,
		Raw:          raw,
		Amount:       ledger.Amount(s.currency, acc.Type.Signed(raw)),
	}
}

// Balance returns the cached running balance.
func (s *service) Balance(ctx context.Context, businessID, accountID uuid.UUID) (Balance, error) {
	acc, err := s.repo.GetAccount(ctx, businessID, accountID)
	if err != nil {
		return Balance{}, err
	}
	raw, err := s.repo.CachedBalance(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	return s.balanceOf(acc, 0, raw), nil
}

// BalanceAt recomputes the balance from the log up to and including sequence.
func (s *service) BalanceAt(ctx context.Context, businessID, accountID uuid.UUID, sequence int64) (Balance, error) {
	if sequence < 0 {
		return Balance{}, errs.Validation(errs.RuleInvalidField, "sequence must be >= 0")
	}
	acc, err := s.repo.GetAccount(ctx, businessID, accountID)
	if err != nil {
		return Balance{}, err
	}
	entries, err := s.repo.EntriesForAccount(ctx, accountID, sequence)
	if err != nil {
		return Balance{}, err
	}
	return s.balanceOf(acc, sequence, sum(entries)), nil
}

// Reconcile compares the cached balance with a full recomputation. A
// mismatch is returned as *errs.ConsistencyError and is never corrected.
func (s *service) Reconcile(ctx context.Context, businessID, accountID uuid.UUID) (Balance, error) {
	acc, err := s.repo.GetAccount(ctx, businessID, accountID)
	if err != nil {
		return Balance{}, err
	}
	return s.reconcile(ctx, acc)
}

func (s *service) reconcile(ctx context.Context, acc ledger.Account) (Balance, error) {
	cached, entries, err := s.repo.BalanceSnapshot(ctx, acc.ID)
	if err != nil {
		return Balance{}, err
	}
	var last int64
	if n := len(entries); n > 0 {
		last = entries[n-1].Sequence
	}
	recomputed := sum(entries)
	b := s.balanceOf(acc, last, recomputed)
	if cached != recomputed {
		s.log.Error("balance mismatch", "account_id", acc.ID.String(), "code", acc.Code, "cached", cached, "recomputed", recomputed)
		return b, &errs.ConsistencyError{AccountID: acc.ID, What: "balance", Cached: cached, Recomputed: recomputed}
	}
	return b, nil
}

// ReconcileAll reconciles every account of the business. It checks all
// accounts and joins the mismatches it finds.
func (s *service) ReconcileAll(ctx context.Context, businessID uuid.UUID) ([]Balance, error) {
	accounts, err := s.repo.ListAccounts(ctx, businessID)
	if err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(accounts))
	var mismatches []error
	for _, acc := range accounts {
		b, err := s.reconcile(ctx, acc)
		if err != nil {
			if !errors.Is(err, errs.ErrConsistency) {
				return nil, err
			}
			mismatches = append(mismatches, err)
		}
		out = append(out, b)
	}
	return out, errors.Join(mismatches...)
}

func sum(entries []ledger.Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Net()
	}
	return total
}
