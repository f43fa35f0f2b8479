// Package journal implements the voucher posting engine: drafts, validation,
// atomic posting and reversal.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/authz"
	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
)

// Service exposes the voucher lifecycle: draft -> posted -> reversed.
type Service interface {
	CreateDraft(ctx context.Context, p authz.Principal, v ledger.Voucher) (ledger.Voucher, error)
	UpdateDraft(ctx context.Context, p authz.Principal, v ledger.Voucher) (ledger.Voucher, error)
	Abandon(ctx context.Context, p authz.Principal, businessID, voucherID uuid.UUID) error
	Validate(ctx context.Context, v ledger.Voucher) error
	Post(ctx context.Context, p authz.Principal, businessID, voucherID uuid.UUID) (ledger.Voucher, error)
	Submit(ctx context.Context, p authz.Principal, v ledger.Voucher) (ledger.Voucher, error)
	// SubmitWith is Submit with hook run inside the posting unit of work.
	SubmitWith(ctx context.Context, p authz.Principal, v ledger.Voucher, hook Hook) (ledger.Voucher, error)
	Reverse(ctx context.Context, p authz.Principal, businessID, voucherID uuid.UUID, date time.Time) (ledger.Voucher, error)
	Get(ctx context.Context, businessID, voucherID uuid.UUID) (ledger.Voucher, error)
	List(ctx context.Context, scope ledger.Scope) ([]ledger.Voucher, error)
	FindBySourceKey(ctx context.Context, businessID uuid.UUID, key string) (ledger.Voucher, bool, error)
}

// Hook stages extra writes in the unit of work that posts a voucher. An error
// rolls the whole unit back.
type Hook func(ctx context.Context, tx Tx) error

// Options configures the engine.
type Options struct {
	// Currency is the book currency; vouchers in any other currency are rejected.
	Currency string
	// Tolerance is the allowed |debits-credits| in minor units.
	Tolerance int64
	Logger    *slog.Logger
}

type service struct {
	repo      Repo
	writer    Writer
	currency  string
	tolerance int64
	log       *slog.Logger
}

func New(repo Repo, writer Writer, opts Options) Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	return &service{
		repo:      repo,
		writer:    writer,
		currency:  strings.ToUpper(opts.Currency),
		tolerance: opts.Tolerance,
		log:       opts.Logger,
	}
}

// CreateDraft stores a new draft after structural checks only.
func (s *service) CreateDraft(ctx context.Context, p authz.Principal, v ledger.Voucher) (ledger.Voucher, error) {
	if err := p.Require(ctx, authz.ActionVoucherDraft, v.Scope); err != nil {
		return ledger.Voucher{}, err
	}
	draft, err := s.prepareDraft(p, v, uuid.New())
	if err != nil {
		return ledger.Voucher{}, err
	}
	return s.writer.SaveDraft(ctx, draft)
}

// UpdateDraft replaces the header and lines of an existing draft.
func (s *service) UpdateDraft(ctx context.Context, p authz.Principal, v ledger.Voucher) (ledger.Voucher, error) {
	cur, err := s.load(ctx, p, authz.ActionVoucherDraft, v.Scope.BusinessID, v.ID)
	if err != nil {
		return ledger.Voucher{}, err
	}
	if cur.Status != ledger.StatusDraft {
		return ledger.Voucher{}, immutable(cur, "edit")
	}
	if v.Scope != cur.Scope {
		return ledger.Voucher{}, errs.Validation(errs.RuleWrongScope, "draft scope cannot change")
	}
	draft, err := s.prepareDraft(p, v, cur.ID)
	if err != nil {
		return ledger.Voucher{}, err
	}
	draft.AuthorID = cur.AuthorID
	return s.writer.SaveDraft(ctx, draft)
}

// Abandon deletes a draft. Posted vouchers can only be reversed.
func (s *service) Abandon(ctx context.Context, p authz.Principal, businessID, voucherID uuid.UUID) error {
	cur, err := s.load(ctx, p, authz.ActionVoucherDraft, businessID, voucherID)
	if err != nil {
		return err
	}
	if cur.Status != ledger.StatusDraft {
		return immutable(cur, "abandon")
	}
	return s.writer.DeleteDraft(ctx, businessID, voucherID)
}

// load reads a voucher the principal may act on. An unknown id is reported
// as permission denied unless p holds action across the whole business.
func (s *service) load(ctx context.Context, p authz.Principal, action authz.Action, businessID, voucherID uuid.UUID) (ledger.Voucher, error) {
	v, err := s.repo.VoucherByID(ctx, businessID, voucherID)
	if errors.Is(err, errs.ErrNotFound) {
		if perr := p.Require(ctx, action, ledger.Scope{BusinessID: businessID}); perr != nil {
			return ledger.Voucher{}, perr
		}
		return ledger.Voucher{}, err
	}
	if err != nil {
		return ledger.Voucher{}, err
	}
	if err := p.Require(ctx, action, v.Scope); err != nil {
		return ledger.Voucher{}, err
	}
	return v, nil
}

// prepareDraft normalizes v into a draft with fresh line ids.
func (s *service) prepareDraft(p authz.Principal, v ledger.Voucher, id uuid.UUID) (ledger.Voucher, error) {
	if v.Scope.BusinessID == uuid.Nil || v.Scope.BranchID == uuid.Nil {
		return ledger.Voucher{}, errs.Validation(errs.RuleInvalidField, "business and branch are required")
	}
	if v.Date.IsZero() {
		return ledger.Voucher{}, errs.Validation(errs.RuleInvalidField, "date is required")
	}
	if len(v.Lines) == 0 {
		return ledger.Voucher{}, errs.Validation(errs.RuleNoLines, "voucher has no lines")
	}
	currency := strings.ToUpper(strings.TrimSpace(v.Currency))
	if currency == "" {
		currency = s.currency
	}
	lines := make([]ledger.Line, len(v.Lines))
	for i, ln := range v.Lines {
		if ln.AccountID == uuid.Nil {
			return ledger.Voucher{}, errs.LineValidation(i, errs.RuleUnknownAccount, "account_id required")
		}
		if ledger.Minor(ln.Debit) < 0 || ledger.Minor(ln.Credit) < 0 {
			return ledger.Voucher{}, errs.LineValidation(i, errs.RuleNegativeAmount, "amounts must be >= 0")
		}
		ln.ID = uuid.New()
		ln.VoucherID = id
		lines[i] = ln
	}
	return ledger.Voucher{
		ID:        id,
		Scope:     v.Scope,
		Date:      v.Date,
		Reference: v.Reference,
		Memo:      v.Memo,
		Currency:  currency,
		Status:    ledger.StatusDraft,
		AuthorID:  p.ActorID,
		Source:    v.Source,
		SourceKey: v.SourceKey,
		Lines:     lines,
	}, nil
}

// Validate checks every posting rule without side effects.
func (s *service) Validate(ctx context.Context, v ledger.Voucher) error {
	return s.validate(ctx, v, s.repo.AccountsByIDs)
}

type accountLookup func(ctx context.Context, businessID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error)

// validate applies the posting rules. A reversal may touch accounts that were
// deactivated after the original posted.
func (s *service) validate(ctx context.Context, v ledger.Voucher, lookup accountLookup) error {
	if len(v.Lines) == 0 {
		return errs.Validation(errs.RuleNoLines, "voucher has no lines")
	}
	if !strings.EqualFold(v.Currency, s.currency) {
		return errs.Validation(errs.RuleCurrency, fmt.Sprintf("voucher currency %s differs from book currency %s", v.Currency, s.currency))
	}
	var sumDebits, sumCredits int64
	for i, ln := range v.Lines {
		debit, dok := ledger.MinorExact(ln.Debit)
		credit, cok := ledger.MinorExact(ln.Credit)
		if !dok || !cok || debit > ledger.MaxLineMinor || credit > ledger.MaxLineMinor {
			return errs.LineValidation(i, errs.RuleInvalidField, fmt.Sprintf("amount exceeds the maximum of %d minor units", ledger.MaxLineMinor))
		}
		if debit < 0 || credit < 0 {
			return errs.LineValidation(i, errs.RuleNegativeAmount, "amounts must be >= 0")
		}
		if (debit == 0) == (credit == 0) {
			return errs.LineValidation(i, errs.RuleOneSide, "exactly one of debit or credit must be non-zero")
		}
		amt := ln.Debit
		if debit == 0 {
			amt = ln.Credit
		}
		if !strings.EqualFold(amt.Curr().Code(), s.currency) {
			return errs.LineValidation(i, errs.RuleCurrency, "line currency "+amt.Curr().Code()+" differs from voucher currency")
		}
		var ok bool
		if sumDebits, ok = ledger.AddMinor(sumDebits, debit); !ok {
			return errs.Validation(errs.RuleUnbalanced, "sum(debits) overflows")
		}
		if sumCredits, ok = ledger.AddMinor(sumCredits, credit); !ok {
			return errs.Validation(errs.RuleUnbalanced, "sum(credits) overflows")
		}
	}
	if diff := sumDebits - sumCredits; diff > s.tolerance || -diff > s.tolerance {
		return errs.Validation(errs.RuleUnbalanced, fmt.Sprintf("sum(debits)=%d must equal sum(credits)=%d", sumDebits, sumCredits))
	}

	accMap, err := lookup(ctx, v.Scope.BusinessID, v.AccountIDs())
	if err != nil {
		return err
	}
	for i, ln := range v.Lines {
		acc, ok := accMap[ln.AccountID]
		if !ok {
			return errs.LineValidation(i, errs.RuleUnknownAccount, "account "+ln.AccountID.String()+" not found")
		}
		if !acc.InScope(v.Scope) {
			return errs.LineValidation(i, errs.RuleWrongScope, "account "+acc.Code+" does not belong to the voucher scope")
		}
		if !acc.Active && v.ReversalOf == uuid.Nil {
			return errs.LineValidation(i, errs.RuleInactiveAccount, "account "+acc.Code+" is inactive")
		}
	}
	return nil
}

// Post validates a draft and commits it to the ledger as one unit.
func (s *service) Post(ctx context.Context, p authz.Principal, businessID, voucherID uuid.UUID) (ledger.Voucher, error) {
	return s.post(ctx, p, businessID, voucherID, nil)
}

func (s *service) post(ctx context.Context, p authz.Principal, businessID, voucherID uuid.UUID, hook Hook) (ledger.Voucher, error) {
	start := time.Now()
	v, err := s.load(ctx, p, authz.ActionVoucherPost, businessID, voucherID)
	if err != nil {
		observeRejection(err)
		return ledger.Voucher{}, err
	}
	if v.Status != ledger.StatusDraft {
		err := immutable(v, "post")
		observeRejection(err)
		return ledger.Voucher{}, err
	}
	locked := v.AccountIDs()
	posted, err := s.inTx(ctx, locked, func(tx Tx) error {
		cur, err := tx.VoucherByID(ctx, businessID, voucherID)
		if err != nil {
			return err
		}
		if cur.Status != ledger.StatusDraft {
			return immutable(cur, "post")
		}
		if !covers(locked, cur.AccountIDs()) {
			return fmt.Errorf("%w: draft %s changed while posting", errs.ErrConflict, cur.ID)
		}
		if err := s.validate(ctx, cur, tx.AccountsByIDs); err != nil {
			return err
		}
		cur.Status = ledger.StatusPosted
		if err := tx.Post(ctx, cur); err != nil {
			return err
		}
		if hook != nil {
			return hook(ctx, tx)
		}
		return nil
	})
	if err != nil {
		observeRejection(err)
		return ledger.Voucher{}, err
	}
	out := posted[0]
	observePosted("post", start)
	s.log.Info("voucher posted", "voucher_id", out.ID.String(), "number", out.Number, "sequence", out.Sequence, "business_id", businessID.String())
	return out, nil
}

// Submit creates and posts a voucher in one call, the way upstream producers
// hand vouchers to the engine. Nothing is left behind when posting fails.
func (s *service) Submit(ctx context.Context, p authz.Principal, v ledger.Voucher) (ledger.Voucher, error) {
	return s.SubmitWith(ctx, p, v, nil)
}

func (s *service) SubmitWith(ctx context.Context, p authz.Principal, v ledger.Voucher, hook Hook) (ledger.Voucher, error) {
	if err := p.Require(ctx, authz.ActionVoucherDraft, v.Scope); err != nil {
		observeRejection(err)
		return ledger.Voucher{}, err
	}
	if err := p.Require(ctx, authz.ActionVoucherPost, v.Scope); err != nil {
		observeRejection(err)
		return ledger.Voucher{}, err
	}
	draft, err := s.prepareDraft(p, v, uuid.New())
	if err != nil {
		observeRejection(err)
		return ledger.Voucher{}, err
	}
	if err := s.Validate(ctx, draft); err != nil {
		observeRejection(err)
		return ledger.Voucher{}, err
	}
	saved, err := s.writer.SaveDraft(ctx, draft)
	if err != nil {
		return ledger.Voucher{}, err
	}
	posted, err := s.post(ctx, p, saved.Scope.BusinessID, saved.ID, hook)
	if err != nil {
		if derr := s.writer.DeleteDraft(ctx, saved.Scope.BusinessID, saved.ID); derr != nil && !errors.Is(derr, errs.ErrNotFound) {
			s.log.Warn("abandon draft after failed submit", "voucher_id", saved.ID.String(), "err", derr)
		}
		return ledger.Voucher{}, err
	}
	return posted, nil
}

// Reverse posts a mirror voucher for a posted voucher and marks the original reversed.
// A zero date reuses the original voucher date.
func (s *service) Reverse(ctx context.Context, p authz.Principal, businessID, voucherID uuid.UUID, date time.Time) (ledger.Voucher, error) {
	start := time.Now()
	orig, err := s.load(ctx, p, authz.ActionVoucherReverse, businessID, voucherID)
	if err != nil {
		observeRejection(err)
		return ledger.Voucher{}, err
	}
	if orig.Status != ledger.StatusPosted {
		err := immutable(orig, "reverse")
		observeRejection(err)
		return ledger.Voucher{}, err
	}
	posted, err := s.inTx(ctx, orig.AccountIDs(), func(tx Tx) error {
		cur, err := tx.VoucherByID(ctx, businessID, voucherID)
		if err != nil {
			return err
		}
		if cur.Status != ledger.StatusPosted {
			return immutable(cur, "reverse")
		}
		rev := mirror(cur, p.ActorID, date)
		if err := s.validate(ctx, rev, tx.AccountsByIDs); err != nil {
			return err
		}
		if err := tx.Post(ctx, rev); err != nil {
			return err
		}
		return tx.MarkReversed(ctx, businessID, cur.ID, rev.ID)
	})
	if err != nil {
		observeRejection(err)
		return ledger.Voucher{}, err
	}
	out := posted[0]
	observePosted("reversal", start)
	s.log.Info("voucher reversed", "voucher_id", voucherID.String(), "reversal_id", out.ID.String(), "sequence", out.Sequence)
	return out, nil
}

func (s *service) Get(ctx context.Context, businessID, voucherID uuid.UUID) (ledger.Voucher, error) {
	if businessID == uuid.Nil || voucherID == uuid.Nil {
		return ledger.Voucher{}, errs.ErrInvalid
	}
	return s.repo.VoucherByID(ctx, businessID, voucherID)
}

func (s *service) List(ctx context.Context, scope ledger.Scope) ([]ledger.Voucher, error) {
	if scope.BusinessID == uuid.Nil {
		return nil, errs.ErrInvalid
	}
	return s.repo.VouchersByScope(ctx, scope)
}

func (s *service) FindBySourceKey(ctx context.Context, businessID uuid.UUID, key string) (ledger.Voucher, bool, error) {
	if businessID == uuid.Nil || key == "" {
		return ledger.Voucher{}, false, errs.ErrInvalid
	}
	return s.repo.VoucherBySourceKey(ctx, businessID, key)
}

// inTx runs fn in a unit of work holding accountIDs and commits it.
// The unit of work is released on every path.
func (s *service) inTx(ctx context.Context, accountIDs []uuid.UUID, fn func(tx Tx) error) ([]ledger.Voucher, error) {
	tx, err := s.writer.Begin(ctx, accountIDs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return nil, err
	}
	return tx.Commit(ctx)
}

// mirror builds the reversing voucher: same scope, debit and credit swapped line for line.
func mirror(orig ledger.Voucher, actorID uuid.UUID, date time.Time) ledger.Voucher {
	rid := uuid.New()
	if date.IsZero() {
		date = orig.Date
	}
	lines := make([]ledger.Line, len(orig.Lines))
	for i, ln := range orig.Lines {
		lines[i] = ledger.Line{
			ID:        uuid.New(),
			VoucherID: rid,
			AccountID: ln.AccountID,
			Debit:     ln.Credit,
			Credit:    ln.Debit,
			Memo:      ln.Memo,
		}
	}
	ref := orig.Number
	if ref == "" {
		ref = orig.ID.String()
	}
	return ledger.Voucher{
		ID:         rid,
		Scope:      orig.Scope,
		Date:       date,
		Reference:  "REV " + ref,
		Memo:       "reversal of " + ref + ": " + orig.Memo,
		Currency:   orig.Currency,
		Status:     ledger.StatusPosted,
		AuthorID:   actorID,
		ReversalOf: orig.ID,
		Source:     "reversal",
		Lines:      lines,
	}
}

func immutable(v ledger.Voucher, op string) error {
	return fmt.Errorf("%w: cannot %s voucher %s in status %s", errs.ErrImmutable, op, v.ID, v.Status)
}

// covers reports whether every id in want is in have.
func covers(have, want []uuid.UUID) bool {
	set := make(map[uuid.UUID]struct{}, len(have))
	for _, id := range have {
		set[id] = struct{}{}
	}
	for _, id := range want {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
