package authorization

import (
	"context"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	obscontext "github.com/smallbiznis/clinicledger/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const modelText = `
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

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer builds the in-process policy set for internal triggers.
func NewEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, err := roleFor(actor)
	if err != nil {
		return err
	}
	if err := s.ensureGrouping(actor, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("actor", actor),
			zap.String("object", object),
			zap.String("action", action),
			zap.String("request_id", obscontext.RequestIDFromContext(ctx)),
		)
		return ErrForbidden
	}
	return nil
}

func roleFor(actor string) (string, error) {
	kind, name, hasName := strings.Cut(actor, ":")
	if hasName && strings.TrimSpace(name) == "" {
		return "", ErrInvalidActor
	}
	switch kind {
	case ActorSystem, ActorScheduler, ActorOperator:
		return "role:" + kind, nil
	default:
		return "", ErrInvalidActor
	}
}

func (s *ServiceImpl) ensureGrouping(subject, roleName string) error {
	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil || has {
		return err
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Scheduler runs the periodic sweeps.
		{"role:scheduler", ObjectReminders, ActionRemindersProcess},
		{"role:scheduler", ObjectOutbox, ActionOutboxDrain},
		{"role:scheduler", ObjectConsultationInvoices, ActionInvoicesOverdue},

		// Operators may also repair state by hand.
		{"role:operator", ObjectReminders, ActionRemindersProcess},
		{"role:operator", ObjectReminders, ActionRemindersSchedule},
		{"role:operator", ObjectOutbox, ActionOutboxDrain},
		{"role:operator", ObjectConsultationInvoices, ActionInvoicesOverdue},
		{"role:operator", ObjectEvents, ActionEventsReplay},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}
	if _, err := enforcer.AddGroupingPolicy("role:system", "role:operator"); err != nil {
		return err
	}
	return nil
}
