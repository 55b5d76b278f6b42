package ruleengine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/c360/rulecore/actor"
	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
)

// TenantActor owns the rule chain and device actors of one tenant
type TenantActor struct {
	actor.BaseActor

	sys      *SystemContext
	tenantID uuid.UUID
}

func tenantCreator(sys *SystemContext, tenantID uuid.UUID) func() actor.Creator {
	return func() actor.Creator {
		return actor.CreatorFunc{
			ID:  actor.EntityActorID(message.NewEntityID(message.EntityTenant, tenantID)),
			New: func() actor.Actor { return &TenantActor{sys: sys, tenantID: tenantID} },
		}
	}
}

// Init starts every rule chain of the tenant so periodic nodes run without
// waiting for a first message.
func (a *TenantActor) Init(ctx actor.Ctx) error {
	a.Ctx = ctx
	for _, chain := range a.sys.Chains.ChainsOf(a.tenantID) {
		if _, err := a.chainActor(chain.ID); err != nil {
			return err
		}
	}
	return nil
}

func (a *TenantActor) Process(m actor.Msg) bool {
	switch msg := m.(type) {
	case QueueToRuleEngineMsg:
		a.onQueueToRuleEngine(msg)
	case RuleChainInputMsg:
		a.forward(msg.TargetChainID, msg, msg.Msg)
	case RuleChainOutputMsg:
		a.forward(msg.TargetChainID, msg, msg.Msg)
	case DeviceSessionMsg:
		a.tellDevice(msg.DeviceID, msg, nil)
	case DeviceTelemetryMsg:
		a.tellDevice(msg.DeviceID, msg, msg.Callback)
	case ComponentLifecycleMsg:
		a.onLifecycle(msg)
	case actor.ChildFailedMsg:
		a.sys.Logger.Warn("Tenant child actor failed", "tenant_id", a.tenantID.String(),
			"child", msg.Child.String(), "error", msg.Err)
	default:
		return false
	}
	return true
}

func (a *TenantActor) onQueueToRuleEngine(m QueueToRuleEngineMsg) {
	chainID := m.Msg.RuleChainID()
	if chainID == uuid.Nil {
		root, ok := a.sys.Chains.Root(a.tenantID)
		if !ok {
			m.Msg.Callback().OnFailure(errors.NewRuleEngineError(
				fmt.Errorf("%w: tenant %s has no root rule chain", errors.ErrRuleChainNotFound, a.tenantID), "", "", "", ""))
			return
		}
		chainID = root.ID
	}
	a.forward(chainID, m, m.Msg)
}

// forward tells the actor of chainID, creating it on first use
func (a *TenantActor) forward(chainID uuid.UUID, m actor.Msg, msg *message.Msg) {
	ref, err := a.chainActor(chainID)
	if err != nil {
		msg.Callback().OnFailure(errors.NewRuleEngineError(err, chainID.String(), "", "", ""))
		return
	}
	ref.Tell(m)
}

func (a *TenantActor) chainActor(chainID uuid.UUID) (actor.Ref, error) {
	chain, ok := a.sys.Chains.Get(chainID)
	if !ok || chain.TenantID != a.tenantID {
		return nil, fmt.Errorf("%w: %s", errors.ErrRuleChainNotFound, chainID)
	}
	return a.Ctx.GetOrCreateChildActor(
		actor.EntityActorID(message.NewEntityID(message.EntityRuleChain, chainID)),
		DispatcherRuleChain, ruleChainCreator(a.sys, a.tenantID, chainID))
}

func (a *TenantActor) tellDevice(deviceID uuid.UUID, m actor.Msg, cb message.Callback) {
	ref, err := a.Ctx.GetOrCreateChildActor(
		actor.EntityActorID(message.NewEntityID(message.EntityDevice, deviceID)),
		DispatcherDevice, deviceCreator(a.sys, a.tenantID, deviceID))
	if err != nil {
		a.sys.Logger.Warn("Failed to create device actor", "device_id", deviceID.String(), "error", err)
		if cb != nil {
			cb.OnFailure(err)
		}
		return
	}
	ref.Tell(m)
}

func (a *TenantActor) onLifecycle(m ComponentLifecycleMsg) {
	if m.Entity.Type != message.EntityRuleChain {
		return
	}
	id := actor.EntityActorID(m.Entity)
	switch m.Event {
	case LifecycleDeleted:
		a.Ctx.Stop(id)
	case LifecycleCreated, LifecycleUpdated:
		if _, running := a.Ctx.System().GetActor(id); running {
			_ = a.Ctx.TellActor(id, ComponentLifecycleMsg{TenantID: m.TenantID, Entity: m.Entity, Event: LifecycleUpdated})
			return
		}
		if _, err := a.chainActor(m.Entity.ID); err != nil {
			a.sys.Logger.Warn("Failed to start rule chain", "rule_chain_id", m.Entity.ID.String(), "error", err)
		}
	}
}
