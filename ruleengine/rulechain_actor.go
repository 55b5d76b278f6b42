package ruleengine

import (
	stderrors "errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/c360/rulecore/actor"
	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/partition"
)

// RuleChainActor routes messages between the nodes of one rule chain
type RuleChainActor struct {
	actor.BaseActor

	sys      *SystemContext
	tenantID uuid.UUID
	chainID  uuid.UUID

	chain RuleChain
	nodes map[uuid.UUID]actor.Ref
}

func ruleChainCreator(sys *SystemContext, tenantID, chainID uuid.UUID) func() actor.Creator {
	return func() actor.Creator {
		return actor.CreatorFunc{
			ID: actor.EntityActorID(message.NewEntityID(message.EntityRuleChain, chainID)),
			New: func() actor.Actor {
				return &RuleChainActor{sys: sys, tenantID: tenantID, chainID: chainID}
			},
		}
	}
}

func (a *RuleChainActor) Init(ctx actor.Ctx) error {
	a.Ctx = ctx
	chain, ok := a.sys.Chains.Get(a.chainID)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrRuleChainNotFound, a.chainID),
			"RuleChainActor", "Init", "load rule chain")
	}
	if err := a.start(chain); err != nil {
		return err
	}
	a.sys.PersistLifecycleEvent(a.tenantID, a.entityID(), lifecycleStarted, nil)
	return nil
}

func (a *RuleChainActor) OnInitFailure(attempt int, err error) actor.InitFailureStrategy {
	a.sys.PersistLifecycleEvent(a.tenantID, a.entityID(), lifecycleStarted, err)
	if errors.IsInvalid(err) {
		return actor.StopOnInitFailure()
	}
	return actor.RetryInitWithDelay(time.Duration(attempt) * a.sys.Settings.InitRetryDelay)
}

func (a *RuleChainActor) entityID() message.EntityID {
	return message.NewEntityID(message.EntityRuleChain, a.chainID)
}

// start creates a node actor for every node of chain
func (a *RuleChainActor) start(chain RuleChain) error {
	a.chain = chain
	a.nodes = make(map[uuid.UUID]actor.Ref, len(chain.Nodes))
	for _, n := range chain.Nodes {
		ref, err := a.Ctx.GetOrCreateChildActor(actor.EntityActorID(n.EntityID()), DispatcherRuleNode,
			ruleNodeCreator(a.sys, a.tenantID, chain.Name, n))
		if err != nil {
			return errors.WrapTransient(err, "RuleChainActor", "start", "create rule node actor "+n.ID.String())
		}
		a.nodes[n.ID] = ref
	}
	return nil
}

// reload replaces the node actors with the current definition
func (a *RuleChainActor) reload() {
	chain, ok := a.sys.Chains.Get(a.chainID)
	if !ok {
		return
	}
	for _, id := range a.Ctx.FilterChildren(func(actor.ID) bool { return true }) {
		a.Ctx.Stop(id)
	}
	if err := a.start(chain); err != nil {
		a.sys.Logger.Error("Failed to reload rule chain", "rule_chain_id", a.chainID.String(), "error", err)
		a.sys.PersistLifecycleEvent(a.tenantID, a.entityID(), lifecycleUpdated, err)
		return
	}
	a.sys.PersistLifecycleEvent(a.tenantID, a.entityID(), lifecycleUpdated, nil)
}

func (a *RuleChainActor) Process(m actor.Msg) bool {
	switch msg := m.(type) {
	case QueueToRuleEngineMsg:
		a.onQueueToRuleEngine(msg)
	case RuleNodeToRuleChainTellNextMsg:
		a.onTellNext(msg.Msg, msg.OriginatorID, msg.RelationTypes, msg.FailureMessage)
	case RuleChainInputMsg:
		if msg.TargetChainID != a.chainID {
			a.tellTenant(msg, msg.Msg)
			return true
		}
		a.enterFirstNode(msg.Msg)
	case RuleChainOutputMsg:
		if msg.TargetChainID != a.chainID {
			a.tellTenant(msg, msg.Msg)
			return true
		}
		a.onTellNext(msg.Msg, msg.TargetNodeID, []string{msg.RelationType}, "")
	case ComponentLifecycleMsg:
		if msg.Event == LifecycleUpdated {
			a.reload()
		}
	case actor.ChildFailedMsg:
		a.sys.Logger.Warn("Rule node actor failed", "rule_chain_id", a.chainID.String(),
			"child", msg.Child.String(), "error", msg.Err)
		if e, ok := msg.Child.EntityID(); ok {
			a.sys.PersistError(a.tenantID, e, "process", msg.Err)
		}
	default:
		return false
	}
	return true
}

func (a *RuleChainActor) onQueueToRuleEngine(m QueueToRuleEngineMsg) {
	msg := m.Msg
	if !msg.IsValid() {
		a.sys.Logger.Debug("Dropping invalid message", "msg_id", msg.ID().String())
		return
	}
	switch {
	case msg.RuleNodeID() == uuid.Nil:
		a.enterFirstNode(msg)
	case len(m.RelationTypes) == 0:
		node, ok := a.chain.Node(msg.RuleNodeID())
		if !ok {
			msg.Callback().OnFailure(a.nodeNotFound(msg.RuleNodeID()))
			return
		}
		a.pushToNode(node, msg, "")
	default:
		a.onTellNext(msg, msg.RuleNodeID(), m.RelationTypes, m.FailureMessage)
	}
}

func (a *RuleChainActor) enterFirstNode(msg *message.Msg) {
	if a.chain.FirstNodeID == uuid.Nil {
		msg.Callback().OnSuccess()
		return
	}
	node, ok := a.chain.Node(a.chain.FirstNodeID)
	if !ok {
		msg.Callback().OnFailure(a.nodeNotFound(a.chain.FirstNodeID))
		return
	}
	a.pushToNode(node, msg, "")
}

func (a *RuleChainActor) onTellNext(msg *message.Msg, originator uuid.UUID, relationTypes []string, failureMessage string) {
	if !msg.IsValid() {
		return
	}
	relations := a.chain.RelationsFrom(originator, relationTypes)
	switch len(relations) {
	case 0:
		if slices.Contains(relationTypes, message.RelationFailure) {
			msg.Callback().OnFailure(a.nodeError(originator, stderrors.New(failureMessage)))
			return
		}
		msg.Callback().OnSuccess()
	case 1:
		a.pushToTarget(msg, relations[0])
	default:
		f := newFanOut(msg.Callback(), len(relations))
		for _, r := range relations {
			member := f.member()
			fork, err := msg.Copy().Ctx(msg.Ctx().Copy()).Callback(member).Build()
			if err != nil {
				member.OnFailure(err)
				continue
			}
			a.pushToTarget(fork, r)
		}
	}
}

func (a *RuleChainActor) pushToTarget(msg *message.Msg, r Relation) {
	if r.TargetType() == message.EntityRuleChain {
		a.tellTenant(RuleChainInputMsg{TargetChainID: r.To, Msg: msg.TransformToChain(r.To)}, msg)
		return
	}
	node, ok := a.chain.Node(r.To)
	if !ok {
		msg.Callback().OnFailure(a.nodeNotFound(r.To))
		return
	}
	if node.QueueName != "" && node.QueueName != msg.QueueName() {
		a.enqueueToNode(node, msg)
		return
	}
	a.pushToNode(node, msg, r.Type)
}

// enqueueToNode hands msg to the queue of node. The callback of msg
// completes once the message is accepted by the owning partition, which
// for a remote partition happens after this actor moved on.
func (a *RuleChainActor) enqueueToNode(node RuleNode, msg *message.Msg) {
	next := msg.ForQueue(node.QueueName, a.chainID, node.ID)
	tpi, err := a.sys.Partitions.ResolveForMsg(partition.ServiceRuleEngine, a.tenantID, next)
	if err != nil {
		msg.Callback().OnFailure(a.nodeError(node.ID, err))
		return
	}
	a.sys.pushToPartition(tpi, a.tenantID, next, nil, nil)
}

func (a *RuleChainActor) pushToNode(node RuleNode, msg *message.Msg, fromRelation string) {
	ref, ok := a.nodes[node.ID]
	if !ok {
		msg.Callback().OnFailure(a.nodeNotFound(node.ID))
		return
	}
	ref.Tell(RuleChainToRuleNodeMsg{Msg: msg.WithRuleNode(a.chainID, node.ID), FromRelation: fromRelation})
}

func (a *RuleChainActor) tellTenant(m actor.Msg, msg *message.Msg) {
	parent, ok := a.Ctx.Parent()
	if !ok {
		msg.Callback().OnFailure(errors.WrapFatal(errors.ErrActorNotFound, "RuleChainActor", "tellTenant", "find tenant actor"))
		return
	}
	if err := a.Ctx.TellActor(parent, m); err != nil {
		msg.Callback().OnFailure(errors.WrapTransient(err, "RuleChainActor", "tellTenant", "tell tenant actor"))
	}
}

func (a *RuleChainActor) nodeNotFound(id uuid.UUID) error {
	return errors.NewRuleEngineError(fmt.Errorf("%w: %s", errors.ErrRuleNodeNotFound, id),
		a.chainID.String(), a.chain.Name, id.String(), "")
}

func (a *RuleChainActor) nodeError(id uuid.UUID, err error) error {
	node, _ := a.chain.Node(id)
	return errors.NewRuleEngineError(err, a.chainID.String(), a.chain.Name, id.String(), node.Name)
}

func (a *RuleChainActor) Destroy(actor.StopReason, error) {
	if a.nodes == nil {
		return
	}
	a.sys.PersistLifecycleEvent(a.tenantID, a.entityID(), lifecycleStopped, nil)
}
