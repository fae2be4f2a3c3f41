package accounts

import (
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	goerrors "github.com/goliatone/go-errors"
)

// policyModel: role match where a policy subject of "*" covers every
// caller, keyMatch2 on the path so /users/:id covers /users/42, exact
// method. Anything not explicitly allowed is denied.
const policyModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = (r.sub == p.sub || p.sub == "*") && keyMatch2(r.obj, p.obj) && r.act == p.act
`

// Gate evaluates (role, path, method) against the static policy set.
// The set is loaded once at construction and never mutated; changing the
// policy file requires a restart.
type Gate struct {
	enforcer *casbin.Enforcer
	logger   Logger
}

// NewGate loads the policy CSV and builds the enforcer
func NewGate(policyFile string) (*Gate, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build policy model")
	}

	enforcer, err := casbin.NewEnforcer(m, fileadapter.NewAdapter(policyFile))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load policy set")
	}

	return &Gate{
		enforcer: enforcer,
		logger:   defLogger{},
	}, nil
}

// WithLogger overrides the logger used by the gate
func (g *Gate) WithLogger(logger Logger) *Gate {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// Allow reports whether the role may perform method on path. role is the
// authenticated identity's role or RoleAnonymous. Evaluation errors deny.
func (g *Gate) Allow(role UserRole, path, method string) bool {
	if role == "" {
		role = RoleAnonymous
	}

	ok, err := g.enforcer.Enforce(string(role), path, method)
	if err != nil {
		g.logger.Error("policy evaluation error: %v", err)
		return false
	}

	return ok
}
