package ruleengine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/rulecore/actor"
	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
)

// Lifecycle event names persisted for rule nodes and chains
const (
	lifecycleStarted = "STARTED"
	lifecycleStopped = "STOPPED"
	lifecycleUpdated = "UPDATED"
)

// RuleNodeActor runs one Node of a rule chain
type RuleNodeActor struct {
	actor.BaseActor

	sys       *SystemContext
	tenantID  uuid.UUID
	chainName string
	def       RuleNode

	node    Node
	nodeCtx *nodeContext
}

func newRuleNodeActor(sys *SystemContext, tenantID uuid.UUID, chainName string, def RuleNode) *RuleNodeActor {
	return &RuleNodeActor{sys: sys, tenantID: tenantID, chainName: chainName, def: def}
}

func ruleNodeCreator(sys *SystemContext, tenantID uuid.UUID, chainName string, def RuleNode) func() actor.Creator {
	return func() actor.Creator {
		return actor.CreatorFunc{
			ID:  actor.EntityActorID(def.EntityID()),
			New: func() actor.Actor { return newRuleNodeActor(sys, tenantID, chainName, def) },
		}
	}
}

func (a *RuleNodeActor) Init(ctx actor.Ctx) error {
	a.Ctx = ctx
	node, err := a.sys.Nodes.Create(a.def.Type)
	if err != nil {
		return err
	}
	nodeCtx := newNodeContext(a.sys, ctx, a.tenantID, a.chainName, a.def)
	cfg := NodeConfig{
		TenantID:      a.tenantID,
		RuleChainID:   a.def.RuleChainID,
		RuleChainName: a.chainName,
		Node:          a.def,
	}
	if err := node.Init(nodeCtx, cfg); err != nil {
		return err
	}
	a.node = node
	a.nodeCtx = nodeCtx
	a.sys.PersistLifecycleEvent(a.tenantID, a.def.EntityID(), lifecycleStarted, nil)
	return nil
}

func (a *RuleNodeActor) OnInitFailure(attempt int, err error) actor.InitFailureStrategy {
	a.sys.Logger.Warn("Rule node init failed",
		"rule_node_id", a.def.ID.String(), "type", a.def.Type, "attempt", attempt, "error", err)
	a.sys.PersistLifecycleEvent(a.tenantID, a.def.EntityID(), lifecycleStarted, err)
	if errors.IsInvalid(err) {
		return actor.StopOnInitFailure()
	}
	return actor.RetryInitWithDelay(time.Duration(attempt) * a.sys.Settings.InitRetryDelay)
}

func (a *RuleNodeActor) Process(m actor.Msg) bool {
	switch msg := m.(type) {
	case RuleChainToRuleNodeMsg:
		a.onRuleChainToRuleNode(msg)
	case RuleNodeToSelfMsg:
		a.onSelf(msg)
	case RuleNodeEnqueuedMsg:
		a.nodeCtx.onEnqueued(msg)
	default:
		return false
	}
	return true
}

func (a *RuleNodeActor) onRuleChainToRuleNode(m RuleChainToRuleNodeMsg) {
	msg := m.Msg
	if !msg.IsValid() {
		a.sys.Logger.Debug("Dropping invalid message", "msg_id", msg.ID().String(), "rule_node_id", a.def.ID.String())
		return
	}
	limit := a.sys.Settings.MaxRuleNodeExecutionsPerMessage
	if limit > 0 && msg.GetAndIncrementRuleNodeCounter() >= limit {
		if a.sys.Metrics != nil {
			a.sys.Metrics.RecordLoopDetected()
		}
		msg.Callback().OnFailure(a.ruleEngineError(
			fmt.Errorf("%w: message visited more than %d rule nodes", errors.ErrLoopDetected, limit)))
		return
	}
	a.sys.PersistDebugInput(a.tenantID, a.def, msg, m.FromRelation)
	msg.Callback().OnProcessingStart(message.RuleNodeInfo{
		RuleNodeID:    a.def.ID,
		RuleChainName: a.chainName,
		RuleNodeName:  a.def.Name,
	})
	a.invoke(msg)
}

func (a *RuleNodeActor) onSelf(m RuleNodeToSelfMsg) {
	if !m.Msg.IsValid() {
		return
	}
	a.invoke(m.Msg)
}

// invoke runs the node and routes a returned error or panic over Failure
func (a *RuleNodeActor) invoke(msg *message.Msg) {
	start := time.Now()
	err := a.safeOnMsg(msg)
	if a.sys.Metrics != nil {
		a.sys.Metrics.RecordProcessingDuration(a.def.Type, time.Since(start))
	}
	if err != nil {
		a.sys.Logger.Debug("Rule node failed", "rule_node_id", a.def.ID.String(), "error", err)
		a.nodeCtx.TellFailure(msg, err)
	}
}

func (a *RuleNodeActor) safeOnMsg(msg *message.Msg) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule node panic: %v", r)
		}
	}()
	return a.node.OnMsg(a.nodeCtx, msg)
}

func (a *RuleNodeActor) ruleEngineError(err error) error {
	return errors.NewRuleEngineError(err, a.def.RuleChainID.String(), a.chainName, a.def.ID.String(), a.def.Name)
}

func (a *RuleNodeActor) Destroy(reason actor.StopReason, cause error) {
	if a.node == nil {
		return
	}
	a.node.Destroy()
	a.sys.PersistLifecycleEvent(a.tenantID, a.def.EntityID(), lifecycleStopped, cause)
}
