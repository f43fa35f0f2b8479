// Package depreciation registers fixed assets and posts their periodic
// depreciation through the journal engine, once per asset and period.
package depreciation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/tinoosan/erpledger/internal/authz"
	"github.com/tinoosan/erpledger/internal/config"
	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
	"github.com/tinoosan/erpledger/internal/service/journal"
)

// Source is the voucher source of depreciation postings.
const Source = "depreciation"

type Repo interface {
	GetAsset(ctx context.Context, businessID, assetID uuid.UUID) (ledger.FixedAsset, error)
	ListAssets(ctx context.Context, scope ledger.Scope) ([]ledger.FixedAsset, error)
	GetAccount(ctx context.Context, businessID, accountID uuid.UUID) (ledger.Account, error)
}

// Writer registers assets. Depreciation progress is written by the journal
// unit of work that posts the period's voucher.
type Writer interface {
	CreateAsset(ctx context.Context, a ledger.FixedAsset) (ledger.FixedAsset, error)
}

// Poster is the part of the journal engine depreciation posts through.
type Poster interface {
	SubmitWith(ctx context.Context, p authz.Principal, v ledger.Voucher, hook journal.Hook) (ledger.Voucher, error)
	FindBySourceKey(ctx context.Context, businessID uuid.UUID, key string) (ledger.Voucher, bool, error)
}

type Options struct {
	Currency string
	// CapPolicy is config.CapRemainder or config.CapReject.
	CapPolicy string
	Workers   int
	Logger    *slog.Logger
}

// Run is the outcome of one asset's depreciation for one period.
type Run struct {
	AssetID   uuid.UUID
	AssetCode string
	Period    string
	Amount    money.Amount
	Voucher   ledger.Voucher
	Err       error
}

// ScheduleRow is one projected period of an asset's remaining depreciation.
type ScheduleRow struct {
	Number      int
	Period      string
	Amount      money.Amount
	Accumulated money.Amount
	BookValue   money.Amount
}

type Service interface {
	Register(ctx context.Context, p authz.Principal, a ledger.FixedAsset) (ledger.FixedAsset, error)
	Get(ctx context.Context, businessID, assetID uuid.UUID) (ledger.FixedAsset, error)
	List(ctx context.Context, scope ledger.Scope) ([]ledger.FixedAsset, error)
	Schedule(ctx context.Context, businessID, assetID uuid.UUID) ([]ScheduleRow, error)
	RunPeriod(ctx context.Context, p authz.Principal, businessID, assetID uuid.UUID, period ledger.Period) (Run, error)
	RunAll(ctx context.Context, p authz.Principal, scope ledger.Scope, period ledger.Period) ([]Run, error)
}

type service struct {
	repo     Repo
	writer   Writer
	poster   Poster
	currency string
	policy   string
	workers  int
	log      *slog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func New(repo Repo, writer Writer, poster Poster, opts Options) Service {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.CapPolicy == "" {
		opts.CapPolicy = config.CapRemainder
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &service{
		repo:     repo,
		writer:   writer,
		poster:   poster,
		currency: strings.ToUpper(opts.Currency),
		policy:   opts.CapPolicy,
		workers:  opts.Workers,
		log:      opts.Logger,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// SourceKey is the idempotency key of the depreciation voucher for an asset and period.
func SourceKey(assetID uuid.UUID, period string) string {
	return Source + ":" + assetID.String() + ":" + period
}

func (s *service) assetLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

func (s *service) Register(ctx context.Context, p authz.Principal, a ledger.FixedAsset) (ledger.FixedAsset, error) {
	if err := p.Require(ctx, authz.ActionAssetWrite, a.Scope); err != nil {
		return ledger.FixedAsset{}, err
	}
	if err := s.validateAsset(ctx, &a); err != nil {
		return ledger.FixedAsset{}, err
	}
	a.ID = uuid.New()
	a.Accumulated = ledger.Amount(s.currency, 0)
	a.PeriodsRun = 0
	a.LastPeriod = ""
	a.Active = true
	created, err := s.writer.CreateAsset(ctx, a)
	if err != nil {
		return ledger.FixedAsset{}, err
	}
	s.log.Info("asset registered", "asset_id", created.ID.String(), "code", created.Code, "method", string(created.Method))
	return created, nil
}

func (s *service) validateAsset(ctx context.Context, a *ledger.FixedAsset) error {
	invalid := func(detail string) error { return errs.Validation(errs.RuleInvalidField, detail) }
	if a.Scope.BusinessID == uuid.Nil || a.Scope.BranchID == uuid.Nil {
		return invalid("business and branch are required")
	}
	a.Code = strings.TrimSpace(a.Code)
	if a.Code == "" || strings.TrimSpace(a.Name) == "" {
		return invalid("code and name are required")
	}
	if a.AcquiredOn.IsZero() {
		return invalid("acquired_on is required")
	}
	if !strings.EqualFold(a.Cost.Curr().Code(), s.currency) {
		return errs.Validation(errs.RuleCurrency, "asset cost must be in "+s.currency)
	}
	cost, salvage := ledger.Minor(a.Cost), ledger.Minor(a.Salvage)
	if cost <= 0 {
		return invalid("cost must be > 0")
	}
	if salvage < 0 || salvage >= cost {
		return invalid("salvage must be >= 0 and below cost")
	}
	a.Salvage = ledger.Amount(s.currency, salvage)
	if a.UsefulLife <= 0 {
		return invalid("useful_life must be > 0")
	}
	switch a.Method {
	case ledger.MethodStraightLine:
	case ledger.MethodDecliningBalance:
		if a.Rate.IsNegative() || a.Rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return invalid("rate must be in [0, 1)")
		}
	default:
		return invalid("unknown depreciation method " + string(a.Method))
	}
	for _, link := range []struct {
		id   uuid.UUID
		want ledger.AccountType
		role string
	}{
		{a.ExpenseAccountID, ledger.AccountTypeExpense, "expense"},
		{a.AccumulatedAccountID, ledger.AccountTypeAsset, "accumulated depreciation"},
	} {
		acc, err := s.repo.GetAccount(ctx, a.Scope.BusinessID, link.id)
		if err != nil {
			return err
		}
		if acc.Type != link.want {
			return invalid(fmt.Sprintf("%s account %s must be of type %s", link.role, acc.Code, link.want))
		}
		if !acc.InScope(a.Scope) {
			return errs.Validation(errs.RuleWrongScope, link.role+" account "+acc.Code+" is outside the asset scope")
		}
	}
	return nil
}

func (s *service) Get(ctx context.Context, businessID, assetID uuid.UUID) (ledger.FixedAsset, error) {
	if businessID == uuid.Nil || assetID == uuid.Nil {
		return ledger.FixedAsset{}, errs.ErrInvalid
	}
	return s.repo.GetAsset(ctx, businessID, assetID)
}

func (s *service) List(ctx context.Context, scope ledger.Scope) ([]ledger.FixedAsset, error) {
	if scope.BusinessID == uuid.Nil {
		return nil, errs.ErrInvalid
	}
	return s.repo.ListAssets(ctx, scope)
}

// Schedule projects the remaining periods from the asset's current state in
// monthly steps, without posting anything.
func (s *service) Schedule(ctx context.Context, businessID, assetID uuid.UUID) ([]ScheduleRow, error) {
	a, err := s.repo.GetAsset(ctx, businessID, assetID)
	if err != nil {
		return nil, err
	}
	next := ledger.MonthPeriod(a.AcquiredOn.Year(), a.AcquiredOn.Month())
	if a.LastPeriod != "" {
		if last, err := ledger.ParsePeriod(a.LastPeriod); err == nil {
			next = ledger.MonthPeriod(last.End.Year(), last.End.Month())
		}
	}
	cost := ledger.Minor(a.Cost)
	var rows []ScheduleRow
	for n := a.PeriodsRun + 1; ; n++ {
		amt, err := s.periodAmount(a)
		if err != nil {
			break
		}
		a.Accumulated = ledger.Amount(s.currency, ledger.Minor(a.Accumulated)+amt)
		a.PeriodsRun++
		rows = append(rows, ScheduleRow{
			Number:      n,
			Period:      next.Key,
			Amount:      ledger.Amount(s.currency, amt),
			Accumulated: a.Accumulated,
			BookValue:   ledger.Amount(s.currency, cost-ledger.Minor(a.Accumulated)),
		})
		next = ledger.MonthPeriod(next.End.Year(), next.End.Month())
	}
	return rows, nil
}

// periodAmount returns the depreciation of the asset's next period in minor units.
func (s *service) periodAmount(a ledger.FixedAsset) (int64, error) {
	cost, salvage, acc := ledger.Minor(a.Cost), ledger.Minor(a.Salvage), ledger.Minor(a.Accumulated)
	remaining := cost - salvage - acc
	if remaining <= 0 {
		return 0, errs.Validation(errs.RuleFullyDepreciated, "asset "+a.Code+" is fully depreciated")
	}
	final := a.PeriodsRun+1 >= a.UsefulLife
	var amt int64
	switch a.Method {
	case ledger.MethodDecliningBalance:
		rate := a.Rate
		if rate.IsZero() {
			rate = decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(a.UsefulLife)))
		}
		amt = decimal.NewFromInt(cost - acc).Mul(rate).Round(0).IntPart()
	default:
		amt = (cost - salvage) / int64(a.UsefulLife)
	}
	if final && amt < remaining {
		amt = remaining
	}
	if amt > remaining {
		if s.policy == config.CapReject {
			return 0, errs.Validation(errs.RuleFullyDepreciated, fmt.Sprintf("depreciation %d exceeds remaining %d", amt, remaining))
		}
		amt = remaining
	}
	if amt <= 0 {
		return 0, errs.Validation(errs.RuleFullyDepreciated, "asset "+a.Code+" has nothing left to depreciate")
	}
	return amt, nil
}

// RunPeriod posts the asset's depreciation for period. A second run for the
// same asset and period fails with errs.ErrAlreadyPosted, including after the
// first voucher was reversed.
func (s *service) RunPeriod(ctx context.Context, p authz.Principal, businessID, assetID uuid.UUID, period ledger.Period) (Run, error) {
	a, err := s.repo.GetAsset(ctx, businessID, assetID)
	if err != nil {
		return Run{}, err
	}
	if err := p.Require(ctx, authz.ActionDepreciationRun, a.Scope); err != nil {
		return Run{}, err
	}
	lock := s.assetLock(assetID)
	lock.Lock()
	defer lock.Unlock()

	// reload under the asset lock
	a, err = s.repo.GetAsset(ctx, businessID, assetID)
	if err != nil {
		return Run{}, err
	}
	run := Run{AssetID: a.ID, AssetCode: a.Code, Period: period.Key}
	if !a.Active {
		return run, errs.Validation(errs.RuleInvalidField, "asset "+a.Code+" is inactive")
	}
	if !period.End.After(a.AcquiredOn) {
		return run, errs.Validation(errs.RuleInvalidField, "period "+period.Key+" ends before acquisition")
	}
	key := SourceKey(a.ID, period.Key)
	if v, ok, err := s.poster.FindBySourceKey(ctx, businessID, key); err != nil {
		return run, err
	} else if ok && v.Status != ledger.StatusDraft {
		return run, fmt.Errorf("%w: asset %s period %s (voucher %s)", errs.ErrAlreadyPosted, a.Code, period.Key, v.Number)
	}
	if a.LastPeriod != "" {
		last, err := ledger.ParsePeriod(a.LastPeriod)
		if err != nil {
			return run, fmt.Errorf("asset %s last period: %w", a.Code, err)
		}
		if period.Start.Before(last.End) {
			return run, errs.Validation(errs.RuleInvalidField, "period "+period.Key+" overlaps or precedes last run "+a.LastPeriod)
		}
	}
	amt, err := s.periodAmount(a)
	if err != nil {
		return run, err
	}
	amount := ledger.Amount(s.currency, amt)
	zero := ledger.Amount(s.currency, 0)
	v := ledger.Voucher{
		Scope:     a.Scope,
		Date:      postingDate(period),
		Reference: "DEP " + a.Code + " " + period.Key,
		Memo:      "Depreciation of " + a.Name,
		Currency:  s.currency,
		Source:    Source,
		SourceKey: key,
		Lines: []ledger.Line{
			{AccountID: a.ExpenseAccountID, Debit: amount, Credit: zero},
			{AccountID: a.AccumulatedAccountID, Debit: zero, Credit: amount},
		},
	}
	next := a
	next.Accumulated = ledger.Amount(s.currency, ledger.Minor(a.Accumulated)+amt)
	next.PeriodsRun++
	next.LastPeriod = period.Key
	posted, err := s.poster.SubmitWith(ctx, p, v, func(ctx context.Context, tx journal.Tx) error {
		return tx.AdvanceAsset(ctx, next, a.PeriodsRun)
	})
	if err != nil {
		return run, err
	}
	run.Amount, run.Voucher = amount, posted
	s.log.Info("depreciation posted", "asset_id", a.ID.String(), "period", period.Key, "amount", amt, "voucher", posted.Number)
	return run, nil
}

// RunAll depreciates every active asset in scope for period on a bounded
// worker pool. Per-asset failures are reported in Run.Err; the returned error
// is only set when the run itself could not proceed.
func (s *service) RunAll(ctx context.Context, p authz.Principal, scope ledger.Scope, period ledger.Period) ([]Run, error) {
	if err := p.Require(ctx, authz.ActionDepreciationRun, scope); err != nil {
		return nil, err
	}
	assets, err := s.repo.ListAssets(ctx, scope)
	if err != nil {
		return nil, err
	}
	results := make([]Run, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, a := range assets {
		if !a.Active {
			results[i] = Run{AssetID: a.ID, AssetCode: a.Code, Period: period.Key, Err: errs.Validation(errs.RuleInvalidField, "asset inactive")}
			continue
		}
		i, a := i, a
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			run, err := s.RunPeriod(gctx, p, a.Scope.BusinessID, a.ID, period)
			run.AssetID, run.AssetCode, run.Period, run.Err = a.ID, a.Code, period.Key, err
			results[i] = run
			if err != nil && !errors.Is(err, errs.ErrAlreadyPosted) && !errors.Is(err, errs.ErrValidation) {
				s.log.Warn("depreciation run failed", "asset_id", a.ID.String(), "period", period.Key, "err", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].AssetCode < results[j].AssetCode })
	return results, nil
}

// postingDate is the last calendar day of the period.
func postingDate(p ledger.Period) time.Time {
	return p.End.AddDate(0, 0, -1)
}
