package accesscontrol

import (
	"coin-settlement/pkg/config"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("accesscontrol", fx.Provide(ProvideAuthorizer))

// Objects and actions used in policies.
const (
	ObjectManualOrders = "manual_orders"
	ObjectPayouts      = "payouts"
	ObjectCapabilities = "capabilities"
	ObjectLedger       = "ledger"

	ActionApprove = "approve"
	ActionReadAny = "read_any"
	ActionRun     = "run"
	ActionManage  = "manage"
	ActionAudit   = "audit"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

var defaultPolicies = [][]string{
	{"admin", ObjectManualOrders, ActionApprove},
	{"admin", ObjectManualOrders, ActionReadAny},
	{"admin", ObjectPayouts, ActionRun},
	{"admin", ObjectCapabilities, ActionManage},
	{"admin", ObjectLedger, ActionAudit},
	{"secretary", ObjectManualOrders, ActionApprove},
	{"secretary", ObjectManualOrders, ActionReadAny},
}

type Authorizer interface {
	Allowed(role, object, action string) bool
}

type enforcer struct {
	e *casbin.Enforcer
}

// ProvideAuthorizer loads ACCESS_CONTROL.MODEL/POLICY files when both are set,
// otherwise the built-in role policy.
func ProvideAuthorizer(cfg *config.Config) (Authorizer, error) {
	if cfg.AccessControl.Model != "" && cfg.AccessControl.Policy != "" {
		e, err := casbin.NewEnforcer(cfg.AccessControl.Model, cfg.AccessControl.Policy)
		if err != nil {
			return nil, err
		}
		zap.L().Info("access control loaded from files", zap.String("model", cfg.AccessControl.Model))
		return &enforcer{e: e}, nil
	}
	return NewDefault()
}

func NewDefault() (Authorizer, error) {
	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, err
	}
	return &enforcer{e: e}, nil
}

func (a *enforcer) Allowed(role, object, action string) bool {
	if role == "" {
		return false
	}
	ok, err := a.e.Enforce(role, object, action)
	if err != nil {
		zap.L().Error("casbin enforce failed", zap.String("role", role), zap.String("object", object), zap.Error(err))
		return false
	}
	return ok
}
