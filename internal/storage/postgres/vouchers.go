package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
	"github.com/tinoosan/erpledger/internal/service/journal"
)

const voucherCols = `id, business_id, branch_id, coalesce(number, ''), date, reference, memo, currency, status,
	author_id, coalesce(sequence, 0), posted_at, reversal_of, reversed_by, source, source_key`

func scanVoucher(row pgx.Row) (ledger.Voucher, error) {
	var v ledger.Voucher
	var author, revOf, revBy *uuid.UUID
	var postedAt *time.Time
	var status string
	if err := row.Scan(&v.ID, &v.Scope.BusinessID, &v.Scope.BranchID, &v.Number, &v.Date, &v.Reference, &v.Memo,
		&v.Currency, &status, &author, &v.Sequence, &postedAt, &revOf, &revBy, &v.Source, &v.SourceKey); err != nil {
		return ledger.Voucher{}, err
	}
	v.Currency = strings.TrimSpace(v.Currency)
	v.Status = ledger.VoucherStatus(status)
	v.AuthorID, v.ReversalOf, v.ReversedBy = deref(author), deref(revOf), deref(revBy)
	if postedAt != nil {
		v.PostedAt = postedAt.UTC()
	}
	return v, nil
}

// loadLines fills the lines of vs in line order.
func loadLines(ctx context.Context, q querier, vs []ledger.Voucher) error {
	if len(vs) == 0 {
		return nil
	}
	idx := make(map[uuid.UUID]int, len(vs))
	ids := make([]uuid.UUID, len(vs))
	for i, v := range vs {
		idx[v.ID] = i
		ids[i] = v.ID
	}
	rows, err := q.Query(ctx, `
		select id, voucher_id, account_id, debit_minor, credit_minor, memo
		from voucher_lines
		where voucher_id = any($1)
		order by voucher_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var ln ledger.Line
		var debit, credit int64
		if err := rows.Scan(&ln.ID, &ln.VoucherID, &ln.AccountID, &debit, &credit, &ln.Memo); err != nil {
			return err
		}
		v := &vs[idx[ln.VoucherID]]
		ln.Debit, ln.Credit = ledger.Amount(v.Currency, debit), ledger.Amount(v.Currency, credit)
		v.Lines = append(v.Lines, ln)
	}
	return rows.Err()
}

func voucherByID(ctx context.Context, q querier, businessID, voucherID uuid.UUID, lock bool) (ledger.Voucher, error) {
	sql := `select ` + voucherCols + ` from vouchers where id = $1 and business_id = $2`
	if lock {
		sql += ` for update`
	}
	v, err := scanVoucher(q.QueryRow(ctx, sql, voucherID, businessID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Voucher{}, fmt.Errorf("%w: voucher %s", errs.ErrNotFound, voucherID)
	}
	if err != nil {
		return ledger.Voucher{}, err
	}
	vs := []ledger.Voucher{v}
	if err := loadLines(ctx, q, vs); err != nil {
		return ledger.Voucher{}, err
	}
	return vs[0], nil
}

func (s *Store) VoucherByID(ctx context.Context, businessID, voucherID uuid.UUID) (ledger.Voucher, error) {
	return voucherByID(ctx, s.pool, businessID, voucherID, false)
}

func (s *Store) VouchersByScope(ctx context.Context, scope ledger.Scope) ([]ledger.Voucher, error) {
	rows, err := s.pool.Query(ctx, `
		select `+voucherCols+` from vouchers
		where business_id = $1 and ($2::uuid is null or branch_id = $2::uuid)
		order by created_at, id
	`, scope.BusinessID, nullUUID(scope.BranchID))
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Voucher, 0)
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, loadLines(ctx, s.pool, out)
}

// VoucherBySourceKey finds the posted or reversed voucher holding key.
func (s *Store) VoucherBySourceKey(ctx context.Context, businessID uuid.UUID, key string) (ledger.Voucher, bool, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		select id from vouchers where business_id = $1 and source_key = $2 and status <> 'draft'
	`, businessID, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Voucher{}, false, nil
	}
	if err != nil {
		return ledger.Voucher{}, false, err
	}
	v, err := s.VoucherByID(ctx, businessID, id)
	if err != nil {
		return ledger.Voucher{}, false, err
	}
	return v, true, nil
}

func insertLines(ctx context.Context, q querier, v ledger.Voucher) error {
	for i, ln := range v.Lines {
		if _, err := q.Exec(ctx, `
			insert into voucher_lines (id, voucher_id, line_no, account_id, debit_minor, credit_minor, memo)
			values ($1,$2,$3,$4,$5,$6,$7)
		`, ln.ID, v.ID, i, ln.AccountID, ledger.Minor(ln.Debit), ledger.Minor(ln.Credit), ln.Memo); err != nil {
			return fmt.Errorf("insert line: %w", err)
		}
	}
	return nil
}

// SaveDraft inserts or replaces a draft and its lines.
func (s *Store) SaveDraft(ctx context.Context, v ledger.Voucher) (ledger.Voucher, error) {
	if v.Status != ledger.StatusDraft {
		return ledger.Voucher{}, fmt.Errorf("%w: only drafts can be saved", errs.ErrImmutable)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.Voucher{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	var biz uuid.UUID
	err = tx.QueryRow(ctx, `select status, business_id from vouchers where id = $1 for update`, v.ID).Scan(&status, &biz)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, `
			insert into vouchers (id, business_id, branch_id, date, reference, memo, currency, status, author_id, source, source_key)
			values ($1,$2,$3,$4,$5,$6,$7,'draft',$8,$9,$10)
		`, v.ID, v.Scope.BusinessID, v.Scope.BranchID, v.Date, v.Reference, v.Memo, v.Currency, nullUUID(v.AuthorID), v.Source, v.SourceKey); err != nil {
			return ledger.Voucher{}, err
		}
	case err != nil:
		return ledger.Voucher{}, err
	case biz != v.Scope.BusinessID:
		return ledger.Voucher{}, fmt.Errorf("%w: voucher %s", errs.ErrNotFound, v.ID)
	case status != string(ledger.StatusDraft):
		return ledger.Voucher{}, fmt.Errorf("%w: voucher %s is %s", errs.ErrImmutable, v.ID, status)
	default:
		if _, err := tx.Exec(ctx, `
			update vouchers set date = $1, reference = $2, memo = $3, currency = $4, source = $5, source_key = $6
			where id = $7
		`, v.Date, v.Reference, v.Memo, v.Currency, v.Source, v.SourceKey, v.ID); err != nil {
			return ledger.Voucher{}, err
		}
		if _, err := tx.Exec(ctx, `delete from voucher_lines where voucher_id = $1`, v.ID); err != nil {
			return ledger.Voucher{}, err
		}
	}
	if err := insertLines(ctx, tx, v); err != nil {
		return ledger.Voucher{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.Voucher{}, err
	}
	return v.Clone(), nil
}

func (s *Store) DeleteDraft(ctx context.Context, businessID, voucherID uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `delete from vouchers where id = $1 and business_id = $2 and status = 'draft'`, voucherID, businessID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	v, err := s.VoucherByID(ctx, businessID, voucherID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: voucher %s is %s", errs.ErrImmutable, voucherID, v.Status)
}

// Begin opens a database transaction and locks the account rows in id order.
func (s *Store) Begin(ctx context.Context, accountIDs []uuid.UUID) (journal.Tx, error) {
	ids := append([]uuid.UUID(nil), accountIDs...)
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `select id from accounts where id = any($1) order by id for update`, ids)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return &unitOfWork{tx: tx}, nil
}

// unitOfWork applies writes inside the database transaction as they are
// staged; they become visible at Commit.
type unitOfWork struct {
	tx     pgx.Tx
	posted []ledger.Voucher
	done   bool
}

func (u *unitOfWork) VoucherByID(ctx context.Context, businessID, voucherID uuid.UUID) (ledger.Voucher, error) {
	return voucherByID(ctx, u.tx, businessID, voucherID, true)
}

func (u *unitOfWork) AccountsByIDs(ctx context.Context, businessID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error) {
	return accountsByIDs(ctx, u.tx, businessID, ids)
}

func (u *unitOfWork) Post(ctx context.Context, v ledger.Voucher) error {
	if u.done {
		return errs.ErrInvalid
	}
	var seq, n int64
	if err := u.tx.QueryRow(ctx, `update ledger_sequence set value = value + 1 returning value`).Scan(&seq); err != nil {
		return err
	}
	if err := u.tx.QueryRow(ctx, `
		insert into voucher_numbers (business_id, value) values ($1, 1)
		on conflict (business_id) do update set value = voucher_numbers.value + 1
		returning value
	`, v.Scope.BusinessID).Scan(&n); err != nil {
		return err
	}
	var postedAt time.Time
	if err := u.tx.QueryRow(ctx, `select now()`).Scan(&postedAt); err != nil {
		return err
	}
	v.Sequence = seq
	v.Number = fmt.Sprintf("JV-%05d", n)
	v.PostedAt = postedAt.UTC()
	v.Status = ledger.StatusPosted

	var status string
	err := u.tx.QueryRow(ctx, `select status from vouchers where id = $1 for update`, v.ID).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = u.tx.Exec(ctx, `
			insert into vouchers (id, business_id, branch_id, date, reference, memo, currency, status, author_id, source, source_key, reversal_of)
			values ($1,$2,$3,$4,$5,$6,$7,'draft',$8,$9,$10,$11)
		`, v.ID, v.Scope.BusinessID, v.Scope.BranchID, v.Date, v.Reference, v.Memo, v.Currency, nullUUID(v.AuthorID), v.Source, v.SourceKey, nullUUID(v.ReversalOf))
		if err != nil {
			return err
		}
		if err := insertLines(ctx, u.tx, v); err != nil {
			return err
		}
	case err != nil:
		return err
	case status != string(ledger.StatusDraft):
		return fmt.Errorf("%w: voucher %s is %s", errs.ErrImmutable, v.ID, status)
	}

	if err := checkActive(ctx, u.tx, v); err != nil {
		return err
	}
	_, err = u.tx.Exec(ctx, `
		update vouchers set status = 'posted', number = $1, sequence = $2, posted_at = $3
		where id = $4
	`, v.Number, v.Sequence, v.PostedAt, v.ID)
	if code, constraint := pgCode(err); code == pgUniqueViolation && constraint == "vouchers_source_key_uq" {
		return fmt.Errorf("%w: source key %s", errs.ErrAlreadyPosted, v.SourceKey)
	}
	if err != nil {
		return err
	}
	for _, e := range ledger.EntriesOf(v) {
		if _, err := u.tx.Exec(ctx, `
			insert into ledger_entries (`+entryCols+`)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, e.Sequence, e.VoucherID, e.LineID, e.AccountID, e.Scope.BusinessID, e.Scope.BranchID, e.Date, v.Currency, ledger.Minor(e.Debit), ledger.Minor(e.Credit)); err != nil {
			return fmt.Errorf("append entry: %w", err)
		}
		if _, err := u.tx.Exec(ctx, `
			insert into account_balances (account_id, balance_minor, last_sequence) values ($1, $2, $3)
			on conflict (account_id) do update
			set balance_minor = account_balances.balance_minor + excluded.balance_minor,
			    last_sequence = excluded.last_sequence
		`, e.AccountID, e.Net(), e.Sequence); err != nil {
			if code, _ := pgCode(err); code == pgNumericOutOfRange {
				return errs.Validation(errs.RuleInvalidField, "balance of account "+e.AccountID.String()+" out of range")
			}
			return fmt.Errorf("update balance: %w", err)
		}
	}
	u.posted = append(u.posted, v.Clone())
	return nil
}

// checkActive re-reads the locked accounts so a deactivation that committed
// after validation is still caught. Reversals are exempt.
func checkActive(ctx context.Context, q querier, v ledger.Voucher) error {
	accs, err := accountsByIDs(ctx, q, v.Scope.BusinessID, v.AccountIDs())
	if err != nil {
		return err
	}
	for i, ln := range v.Lines {
		acc, ok := accs[ln.AccountID]
		if !ok {
			return errs.LineValidation(i, errs.RuleUnknownAccount, "account "+ln.AccountID.String()+" not found")
		}
		if !acc.Active && v.ReversalOf == uuid.Nil {
			return errs.LineValidation(i, errs.RuleInactiveAccount, "account "+acc.Code+" is inactive")
		}
	}
	return nil
}

func (u *unitOfWork) MarkReversed(ctx context.Context, businessID, voucherID, reversalID uuid.UUID) error {
	if u.done {
		return errs.ErrInvalid
	}
	ct, err := u.tx.Exec(ctx, `
		update vouchers set status = 'reversed', reversed_by = $1
		where id = $2 and business_id = $3 and status = 'posted'
	`, reversalID, voucherID, businessID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: voucher %s is not posted", errs.ErrImmutable, voucherID)
	}
	return nil
}

// AdvanceAsset writes the asset's depreciation progress in the same
// transaction as the voucher that books it.
func (u *unitOfWork) AdvanceAsset(ctx context.Context, a ledger.FixedAsset, fromPeriodsRun int) error {
	if u.done {
		return errs.ErrInvalid
	}
	ct, err := u.tx.Exec(ctx, `
		update fixed_assets
		set accumulated_minor = $1, periods_run = $2, last_period = $3
		where id = $4 and business_id = $5 and periods_run = $6
	`, ledger.Minor(a.Accumulated), a.PeriodsRun, a.LastPeriod, a.ID, a.Scope.BusinessID, fromPeriodsRun)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: asset %s changed since it was read", errs.ErrConflict, a.ID)
	}
	return nil
}

func (u *unitOfWork) Commit(ctx context.Context) ([]ledger.Voucher, error) {
	if u.done {
		return nil, errs.ErrInvalid
	}
	u.done = true
	if err := u.tx.Commit(ctx); err != nil {
		return nil, err
	}
	return u.posted, nil
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Rollback(ctx)
}
