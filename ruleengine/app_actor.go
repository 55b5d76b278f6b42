package ruleengine

import (
	"github.com/google/uuid"

	"github.com/c360/rulecore/actor"
	"github.com/c360/rulecore/message"
)

// AppActorID is the id of the root actor
var AppActorID = actor.NamedActorID("app")

// AppActor is the root of the hierarchy and routes by tenant
type AppActor struct {
	actor.BaseActor

	sys *SystemContext
}

func appCreator(sys *SystemContext) actor.Creator {
	return actor.CreatorFunc{
		ID:  AppActorID,
		New: func() actor.Actor { return &AppActor{sys: sys} },
	}
}

func (a *AppActor) Init(ctx actor.Ctx) error {
	a.Ctx = ctx
	for _, tenantID := range a.sys.Chains.Tenants() {
		if _, err := a.tenant(tenantID); err != nil {
			return err
		}
	}
	return nil
}

func (a *AppActor) Process(m actor.Msg) bool {
	switch msg := m.(type) {
	case QueueToRuleEngineMsg:
		a.forward(msg.TenantID, msg, msg.Msg.Callback())
	case DeviceSessionMsg:
		a.forward(msg.TenantID, msg, nil)
	case DeviceTelemetryMsg:
		a.forward(msg.TenantID, msg, msg.Callback)
	case ComponentLifecycleMsg:
		a.onLifecycle(msg)
	case actor.ChildFailedMsg:
		a.sys.Logger.Warn("Tenant actor failed", "child", msg.Child.String(), "error", msg.Err)
	default:
		return false
	}
	return true
}

func (a *AppActor) tenant(tenantID uuid.UUID) (actor.Ref, error) {
	return a.Ctx.GetOrCreateChildActor(
		actor.EntityActorID(message.NewEntityID(message.EntityTenant, tenantID)),
		DispatcherTenant, tenantCreator(a.sys, tenantID))
}

func (a *AppActor) forward(tenantID uuid.UUID, m actor.Msg, cb message.Callback) {
	ref, err := a.tenant(tenantID)
	if err != nil {
		a.sys.Logger.Warn("Failed to create tenant actor", "tenant_id", tenantID.String(), "error", err)
		if cb != nil {
			cb.OnFailure(err)
		}
		return
	}
	ref.Tell(m)
}

func (a *AppActor) onLifecycle(m ComponentLifecycleMsg) {
	if m.Entity.Type != message.EntityTenant {
		a.forward(m.TenantID, m, nil)
		return
	}
	id := actor.EntityActorID(m.Entity)
	switch m.Event {
	case LifecycleDeleted:
		a.Ctx.Stop(id)
		if a.sys.Emitter != nil {
			a.sys.Emitter.ResetTenant(m.Entity.ID)
		}
	case LifecycleUpdated:
		if a.sys.Emitter != nil {
			a.sys.Emitter.ResetTenant(m.Entity.ID)
		}
	}
}
