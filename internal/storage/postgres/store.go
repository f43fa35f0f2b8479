package postgres

// Package postgres provides a pgx-backed storage implementation that satisfies
// the repository and writer interfaces used by the services.
//
// The schema lives under db/migrations. Posting runs in one database
// transaction that locks the touched account rows, so the cached balances in
// account_balances are only ever updated in lock order.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
)

// Store holds a pgx connection pool. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNumericOutOfRange   = "22003"
)

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// nullUUID maps uuid.Nil to SQL NULL.
func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func deref(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

// --- accounts ---

const accountCols = `id, business_id, branch_id, code, name, type, parent_id, description, system, active`

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var a ledger.Account
	var branch, parent *uuid.UUID
	var typ string
	if err := row.Scan(&a.ID, &a.BusinessID, &branch, &a.Code, &a.Name, &typ, &parent, &a.Description, &a.System, &a.Active); err != nil {
		return ledger.Account{}, err
	}
	a.BranchID, a.ParentID, a.Type = deref(branch), deref(parent), ledger.AccountType(typ)
	return a, nil
}

func accountsByIDs(ctx context.Context, q querier, businessID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error) {
	out := make(map[uuid.UUID]ledger.Account, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `select `+accountCols+` from accounts where business_id = $1 and id = any($2)`, businessID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (s *Store) AccountsByIDs(ctx context.Context, businessID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error) {
	return accountsByIDs(ctx, s.pool, businessID, ids)
}

// ListAccounts returns the business's accounts ordered by code.
func (s *Store) ListAccounts(ctx context.Context, businessID uuid.UUID) ([]ledger.Account, error) {
	rows, err := s.pool.Query(ctx, `select `+accountCols+` from accounts where business_id = $1 order by code`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) GetAccount(ctx context.Context, businessID, accountID uuid.UUID) (ledger.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `select `+accountCols+` from accounts where id = $1 and business_id = $2`, accountID, businessID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: account %s", errs.ErrNotFound, accountID)
	}
	return a, err
}

func (s *Store) HasEntries(ctx context.Context, accountID uuid.UUID) (bool, error) {
	var used bool
	err := s.pool.QueryRow(ctx, `select exists (select 1 from ledger_entries where account_id = $1)`, accountID).Scan(&used)
	return used, err
}

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	_, err := s.pool.Exec(ctx, `
		insert into accounts (`+accountCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, a.ID, a.BusinessID, nullUUID(a.BranchID), a.Code, a.Name, string(a.Type), nullUUID(a.ParentID), a.Description, a.System, a.Active)
	if code, _ := pgCode(err); code == pgUniqueViolation {
		return ledger.Account{}, fmt.Errorf("%w: account code %s already exists", errs.ErrConflict, a.Code)
	}
	if err != nil {
		return ledger.Account{}, err
	}
	return a, nil
}

// UpdateAccount updates the mutable fields (name, description, parent, active).
func (s *Store) UpdateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	ct, err := s.pool.Exec(ctx, `
		update accounts
		set name = $1, description = $2, parent_id = $3, active = $4
		where id = $5 and business_id = $6
	`, a.Name, a.Description, nullUUID(a.ParentID), a.Active, a.ID, a.BusinessID)
	if err != nil {
		return ledger.Account{}, err
	}
	if ct.RowsAffected() == 0 {
		return ledger.Account{}, fmt.Errorf("%w: account %s", errs.ErrNotFound, a.ID)
	}
	return a, nil
}

func (s *Store) DeleteAccount(ctx context.Context, businessID, accountID uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `delete from accounts where id = $1 and business_id = $2`, accountID, businessID)
	if code, _ := pgCode(err); code == pgForeignKeyViolation {
		return fmt.Errorf("%w: account %s is referenced", errs.ErrConflict, accountID)
	}
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s", errs.ErrNotFound, accountID)
	}
	return nil
}

// --- ledger reads ---

const entryCols = `sequence, voucher_id, line_id, account_id, business_id, branch_id, date, currency, debit_minor, credit_minor`

func scanEntries(rows pgx.Rows) ([]ledger.Entry, error) {
	defer rows.Close()
	out := make([]ledger.Entry, 0)
	for rows.Next() {
		var e ledger.Entry
		var curr string
		var debit, credit int64
		if err := rows.Scan(&e.Sequence, &e.VoucherID, &e.LineID, &e.AccountID, &e.Scope.BusinessID, &e.Scope.BranchID, &e.Date, &curr, &debit, &credit); err != nil {
			return nil, err
		}
		curr = strings.TrimSpace(curr)
		e.Debit, e.Credit = ledger.Amount(curr, debit), ledger.Amount(curr, credit)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CachedBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return cachedBalance(ctx, s.pool, accountID)
}

func cachedBalance(ctx context.Context, q querier, accountID uuid.UUID) (int64, error) {
	var bal int64
	err := q.QueryRow(ctx, `
		select coalesce(b.balance_minor, 0)
		from accounts a left join account_balances b on b.account_id = a.id
		where a.id = $1
	`, accountID).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: account %s", errs.ErrNotFound, accountID)
	}
	return bal, err
}

func entriesForAccount(ctx context.Context, q querier, accountID uuid.UUID, upto int64) ([]ledger.Entry, error) {
	rows, err := q.Query(ctx, `
		select `+entryCols+` from ledger_entries
		where account_id = $1 and ($2::bigint = 0 or sequence <= $2::bigint)
		order by sequence, line_id
	`, accountID, upto)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (s *Store) EntriesForAccount(ctx context.Context, accountID uuid.UUID, upto int64) ([]ledger.Entry, error) {
	return entriesForAccount(ctx, s.pool, accountID, upto)
}

// BalanceSnapshot reads the cache and the log in one repeatable-read transaction.
func (s *Store) BalanceSnapshot(ctx context.Context, accountID uuid.UUID) (int64, []ledger.Entry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	cached, err := cachedBalance(ctx, tx, accountID)
	if err != nil {
		return 0, nil, err
	}
	entries, err := entriesForAccount(ctx, tx, accountID, 0)
	if err != nil {
		return 0, nil, err
	}
	return cached, entries, tx.Commit(ctx)
}

// EntriesByScope runs one statement, which reads a single snapshot.
func (s *Store) EntriesByScope(ctx context.Context, scope ledger.Scope, f ledger.EntryFilter) ([]ledger.Entry, error) {
	var sb strings.Builder
	args := []any{scope.BusinessID}
	sb.WriteString(`select ` + entryCols + ` from ledger_entries where business_id = $1`)
	add := func(cond string, v any) {
		args = append(args, v)
		fmt.Fprintf(&sb, " and "+cond, len(args))
	}
	if scope.BranchID != uuid.Nil {
		add("branch_id = $%d", scope.BranchID)
	}
	if f.AccountID != uuid.Nil {
		add("account_id = $%d", f.AccountID)
	}
	if f.From != nil {
		add("date >= $%d", *f.From)
	}
	if f.To != nil {
		add("date <= $%d", *f.To)
	}
	if f.UptoSequence > 0 {
		add("sequence <= $%d", f.UptoSequence)
	}
	sb.WriteString(" order by sequence, line_id")
	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (s *Store) LastSequence(ctx context.Context) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `select value from ledger_sequence`).Scan(&v)
	return v, err
}
