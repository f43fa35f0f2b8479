package authz

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tinoosan/erpledger/internal/ledger"
)

// Grant allows one actor a set of actions on a business, optionally narrowed to a branch.
type Grant struct {
	Actor    uuid.UUID `yaml:"actor"`
	Business uuid.UUID `yaml:"business"`
	Branch   uuid.UUID `yaml:"branch,omitempty"`
	Actions  []Action  `yaml:"actions"`
}

// Policy is a static list of grants loaded from YAML.
//
//	grants:
//	  - actor: 6f1c...
//	    business: 0b2a...
//	    actions: ["voucher.draft", "voucher.post"]
type Policy struct {
	Grants []Grant `yaml:"grants"`
}

// LoadPolicy reads a policy file from disk.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}
	return &p, nil
}

// Authorized implements Authorizer. "*" in Actions matches every action.
func (p *Policy) Authorized(_ context.Context, actorID uuid.UUID, action Action, scope ledger.Scope) bool {
	if p == nil || actorID == uuid.Nil {
		return false
	}
	for _, g := range p.Grants {
		if g.Actor != actorID || g.Business != scope.BusinessID {
			continue
		}
		if g.Branch != uuid.Nil && g.Branch != scope.BranchID {
			continue
		}
		for _, a := range g.Actions {
			if a == "*" || a == action {
				return true
			}
		}
	}
	return false
}
