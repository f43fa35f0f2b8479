// Package account implements the chart of accounts rules: unique codes per
// business, an acyclic parent hierarchy that never crosses a scope boundary,
// soft deactivation and system accounts.
package account

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/authz"
	"github.com/tinoosan/erpledger/internal/dictionary"
	"github.com/tinoosan/erpledger/internal/errs"
	"github.com/tinoosan/erpledger/internal/ledger"
)

type Repo interface {
	ListAccounts(ctx context.Context, businessID uuid.UUID) ([]ledger.Account, error)
	GetAccount(ctx context.Context, businessID, accountID uuid.UUID) (ledger.Account, error)
	// HasEntries reports whether any posted entry references the account.
	HasEntries(ctx context.Context, accountID uuid.UUID) (bool, error)
}

type Writer interface {
	CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error)
	UpdateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error)
	DeleteAccount(ctx context.Context, businessID, accountID uuid.UUID) error
}

type Service interface {
	Create(ctx context.Context, p authz.Principal, a ledger.Account) (ledger.Account, error)
	Get(ctx context.Context, businessID, accountID uuid.UUID) (ledger.Account, error)
	List(ctx context.Context, businessID uuid.UUID, includeInactive bool) ([]ledger.Account, error)
	ActiveAccounts(ctx context.Context, scope ledger.Scope) ([]ledger.Account, error)
	Rename(ctx context.Context, p authz.Principal, businessID, accountID uuid.UUID, name, description string) (ledger.Account, error)
	Deactivate(ctx context.Context, p authz.Principal, businessID, accountID uuid.UUID) error
	Delete(ctx context.Context, p authz.Principal, businessID, accountID uuid.UUID) (deleted bool, err error)
	Reparent(ctx context.Context, p authz.Principal, businessID, accountID, parentID uuid.UUID) (ledger.Account, error)
	IsDescendantOf(ctx context.Context, businessID, a, b uuid.UUID) (bool, error)
	Children(ctx context.Context, businessID, accountID uuid.UUID) ([]ledger.Account, error)
	InstallChart(ctx context.Context, p authz.Principal, scope ledger.Scope, defs []dictionary.AccountDef) ([]ledger.Account, error)
}

// codePattern accepts "1000", "1000.10", "AR-01".
var codePattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z.\-]{0,31}$`)

type service struct {
	repo   Repo
	writer Writer
	// mu serializes hierarchy writes. Posting only reads accounts.
	mu sync.Mutex
}

func New(repo Repo, writer Writer) Service { return &service{repo: repo, writer: writer} }

func (s *service) validateCreate(a ledger.Account) error {
	if a.BusinessID == uuid.Nil {
		return errs.Validation(errs.RuleInvalidField, "business_id is required")
	}
	if !codePattern.MatchString(a.Code) {
		return errs.Validation(errs.RuleInvalidField, "invalid account code "+a.Code)
	}
	if strings.TrimSpace(a.Name) == "" {
		return errs.Validation(errs.RuleInvalidField, "name is required")
	}
	if !a.Type.Valid() {
		return errs.Validation(errs.RuleInvalidField, "invalid account type "+string(a.Type))
	}
	return nil
}

func (s *service) Create(ctx context.Context, p authz.Principal, a ledger.Account) (ledger.Account, error) {
	if err := p.Require(ctx, authz.ActionAccountWrite, a.Scope()); err != nil {
		return ledger.Account{}, err
	}
	a.Code = strings.TrimSpace(a.Code)
	a.Name = strings.TrimSpace(a.Name)
	if err := s.validateCreate(a); err != nil {
		return ledger.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(ctx, a)
}

// create assumes s.mu is held.
func (s *service) create(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	existing, err := s.repo.ListAccounts(ctx, a.BusinessID)
	if err != nil {
		return ledger.Account{}, err
	}
	for _, other := range existing {
		if strings.EqualFold(other.Code, a.Code) {
			return ledger.Account{}, fmt.Errorf("%w: account code %s already exists", errs.ErrConflict, a.Code)
		}
	}
	if a.ParentID != uuid.Nil {
		parent, err := s.repo.GetAccount(ctx, a.BusinessID, a.ParentID)
		if err != nil {
			return ledger.Account{}, err
		}
		if !crossesNoBoundary(parent, a) {
			return ledger.Account{}, errs.Validation(errs.RuleScopeBoundary, "parent "+parent.Code+" belongs to another branch")
		}
	}
	a.ID = uuid.New()
	a.Active = true
	return s.writer.CreateAccount(ctx, a)
}

func (s *service) Get(ctx context.Context, businessID, accountID uuid.UUID) (ledger.Account, error) {
	if businessID == uuid.Nil || accountID == uuid.Nil {
		return ledger.Account{}, errs.ErrInvalid
	}
	return s.repo.GetAccount(ctx, businessID, accountID)
}

func (s *service) List(ctx context.Context, businessID uuid.UUID, includeInactive bool) ([]ledger.Account, error) {
	if businessID == uuid.Nil {
		return nil, errs.ErrInvalid
	}
	all, err := s.repo.ListAccounts(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if includeInactive {
		return all, nil
	}
	out := all[:0:0]
	for _, a := range all {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

// ActiveAccounts returns the active accounts visible from scope. A scope
// without a branch sees every account of the business.
func (s *service) ActiveAccounts(ctx context.Context, scope ledger.Scope) ([]ledger.Account, error) {
	all, err := s.List(ctx, scope.BusinessID, false)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Account, 0, len(all))
	for _, a := range all {
		if scope.BranchID == uuid.Nil || a.InScope(scope) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *service) Rename(ctx context.Context, p authz.Principal, businessID, accountID uuid.UUID, name, description string) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.repo.GetAccount(ctx, businessID, accountID)
	if err != nil {
		return ledger.Account{}, err
	}
	if err := p.Require(ctx, authz.ActionAccountWrite, acc.Scope()); err != nil {
		return ledger.Account{}, err
	}
	if acc.System {
		return ledger.Account{}, errs.ErrSystemAccount
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ledger.Account{}, errs.Validation(errs.RuleInvalidField, "name is required")
	}
	acc.Name = name
	acc.Description = description
	return s.writer.UpdateAccount(ctx, acc)
}

// Deactivate stops an account from receiving postings. Its history stays.
func (s *service) Deactivate(ctx context.Context, p authz.Principal, businessID, accountID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.repo.GetAccount(ctx, businessID, accountID)
	if err != nil {
		return err
	}
	if err := p.Require(ctx, authz.ActionAccountWrite, acc.Scope()); err != nil {
		return err
	}
	return s.deactivate(ctx, acc)
}

func (s *service) deactivate(ctx context.Context, acc ledger.Account) error {
	if acc.System {
		return errs.ErrSystemAccount
	}
	if !acc.Active {
		return nil
	}
	kids, err := s.children(ctx, acc.BusinessID, acc.ID)
	if err != nil {
		return err
	}
	for _, k := range kids {
		if k.Active {
			return fmt.Errorf("%w: account %s has active sub-accounts", errs.ErrConflict, acc.Code)
		}
	}
	acc.Active = false
	_, err = s.writer.UpdateAccount(ctx, acc)
	return err
}

// Delete removes an account that was never used. Accounts with postings or
// sub-accounts are deactivated instead and deleted is false.
func (s *service) Delete(ctx context.Context, p authz.Principal, businessID, accountID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.repo.GetAccount(ctx, businessID, accountID)
	if err != nil {
		return false, err
	}
	if err := p.Require(ctx, authz.ActionAccountWrite, acc.Scope()); err != nil {
		return false, err
	}
	if acc.System {
		return false, errs.ErrSystemAccount
	}
	used, err := s.repo.HasEntries(ctx, acc.ID)
	if err != nil {
		return false, err
	}
	kids, err := s.children(ctx, businessID, acc.ID)
	if err != nil {
		return false, err
	}
	if used || len(kids) > 0 {
		return false, s.deactivate(ctx, acc)
	}
	if err := s.writer.DeleteAccount(ctx, businessID, acc.ID); err != nil {
		return false, err
	}
	return true, nil
}

// Reparent moves an account under parentID, or to the top level when parentID
// is uuid.Nil. The hierarchy is unchanged on failure.
func (s *service) Reparent(ctx context.Context, p authz.Principal, businessID, accountID, parentID uuid.UUID) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.repo.GetAccount(ctx, businessID, accountID)
	if err != nil {
		return ledger.Account{}, err
	}
	if err := p.Require(ctx, authz.ActionAccountWrite, acc.Scope()); err != nil {
		return ledger.Account{}, err
	}
	if parentID != uuid.Nil {
		if parentID == accountID {
			return ledger.Account{}, errs.Validation(errs.RuleCycle, "account cannot be its own parent")
		}
		parent, err := s.repo.GetAccount(ctx, businessID, parentID)
		if err != nil {
			return ledger.Account{}, err
		}
		below, err := s.isDescendant(ctx, businessID, parentID, accountID)
		if err != nil {
			return ledger.Account{}, err
		}
		if below {
			return ledger.Account{}, errs.Validation(errs.RuleCycle, "parent "+parent.Code+" is a descendant of "+acc.Code)
		}
		if !crossesNoBoundary(parent, acc) {
			return ledger.Account{}, errs.Validation(errs.RuleScopeBoundary, "parent "+parent.Code+" belongs to another branch")
		}
	}
	acc.ParentID = parentID
	return s.writer.UpdateAccount(ctx, acc)
}

// IsDescendantOf reports whether a sits strictly below b.
func (s *service) IsDescendantOf(ctx context.Context, businessID, a, b uuid.UUID) (bool, error) {
	return s.isDescendant(ctx, businessID, a, b)
}

func (s *service) isDescendant(ctx context.Context, businessID, a, b uuid.UUID) (bool, error) {
	all, err := s.repo.ListAccounts(ctx, businessID)
	if err != nil {
		return false, err
	}
	parentOf := make(map[uuid.UUID]uuid.UUID, len(all))
	for _, acc := range all {
		parentOf[acc.ID] = acc.ParentID
	}
	if _, ok := parentOf[a]; !ok {
		return false, fmt.Errorf("%w: account %s", errs.ErrNotFound, a)
	}
	seen := map[uuid.UUID]bool{a: true}
	for cur := parentOf[a]; cur != uuid.Nil; cur = parentOf[cur] {
		if cur == b {
			return true, nil
		}
		if seen[cur] {
			return false, fmt.Errorf("%w: parent chain of %s loops", errs.ErrConsistency, a)
		}
		seen[cur] = true
	}
	return false, nil
}

func (s *service) Children(ctx context.Context, businessID, accountID uuid.UUID) ([]ledger.Account, error) {
	return s.children(ctx, businessID, accountID)
}

func (s *service) children(ctx context.Context, businessID, accountID uuid.UUID) ([]ledger.Account, error) {
	all, err := s.repo.ListAccounts(ctx, businessID)
	if err != nil {
		return nil, err
	}
	var out []ledger.Account
	for _, a := range all {
		if a.ParentID == accountID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// InstallChart creates the accounts in defs that do not exist yet, resolving
// parents by code. Running it twice is a no-op. Reserved rows become system accounts.
func (s *service) InstallChart(ctx context.Context, p authz.Principal, scope ledger.Scope, defs []dictionary.AccountDef) ([]ledger.Account, error) {
	if err := p.Require(ctx, authz.ActionAccountWrite, scope); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.repo.ListAccounts(ctx, scope.BusinessID)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]ledger.Account, len(existing)+len(defs))
	for _, a := range existing {
		byCode[a.Code] = a
	}
	created := make([]ledger.Account, 0, len(defs))
	for _, d := range defs {
		if _, ok := byCode[d.Code]; ok {
			continue
		}
		a := ledger.Account{
			BusinessID: scope.BusinessID,
			BranchID:   scope.BranchID,
			Code:       d.Code,
			Name:       d.Name,
			Type:       d.Type,
			System:     d.Reserved,
		}
		if d.ParentCode != "" {
			parent, ok := byCode[d.ParentCode]
			if !ok {
				return created, fmt.Errorf("%w: parent code %s for %s", errs.ErrNotFound, d.ParentCode, d.Code)
			}
			a.ParentID = parent.ID
		}
		if err := s.validateCreate(a); err != nil {
			return created, err
		}
		acc, err := s.create(ctx, a)
		if err != nil {
			return created, err
		}
		byCode[acc.Code] = acc
		created = append(created, acc)
	}
	return created, nil
}

// crossesNoBoundary reports whether child may sit under parent: same business,
// and a branch-specific parent only takes children of its own branch.
func crossesNoBoundary(parent, child ledger.Account) bool {
	if parent.BusinessID != child.BusinessID {
		return false
	}
	return parent.BranchID == uuid.Nil || parent.BranchID == child.BranchID
}
