package ruleengine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/scheduler"
)

// Node is the behavior behind a rule node. OnMsg runs on the node's actor,
// one message at a time. A returned error fails the message over the
// Failure relation.
type Node interface {
	Init(ctx Context, cfg NodeConfig) error
	OnMsg(ctx Context, msg *message.Msg) error
	Destroy()
}

// NodeConfig is the definition a node is initialized from
type NodeConfig struct {
	TenantID      uuid.UUID
	RuleChainID   uuid.UUID
	RuleChainName string
	Node          RuleNode
}

// Decode unmarshals the node configuration into v. An empty configuration
// leaves v untouched.
func (c NodeConfig) Decode(v any) error {
	if len(c.Node.Configuration) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Node.Configuration, v); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: node %s: %v", errors.ErrInvalidConfig, c.Node.ID, err),
			"NodeConfig", "Decode", "decode node configuration")
	}
	return nil
}

// Context is the rule engine as seen by a node
type Context interface {
	TenantID() uuid.UUID
	Self() RuleNode
	SelfID() message.EntityID
	RuleChainName() string
	ServiceID() string
	Logger() *slog.Logger

	// TellSuccess routes msg over the Success relation
	TellSuccess(msg *message.Msg)
	// TellNext routes msg over every given relation type
	TellNext(msg *message.Msg, relationTypes ...string)
	// TellFailure routes msg over the Failure relation carrying err
	TellFailure(msg *message.Msg, err error)
	// TellSelf delivers msg back to this node after delay
	TellSelf(msg *message.Msg, delay time.Duration)
	// SchedulePeriodic delivers msg to this node every period
	SchedulePeriodic(msg *message.Msg, initialDelay, period time.Duration) *scheduler.Handle
	// Input calls into another chain; the matching Output returns here
	Input(msg *message.Msg, ruleChainID uuid.UUID)
	// Output returns from a nested chain over relationType, or acks a
	// message that was not called from another chain
	Output(msg *message.Msg, relationType string)
	// Enqueue pushes msg to its rule engine queue as a new root message.
	// It does not block; onSuccess or onFailure later runs on this node.
	Enqueue(msg *message.Msg, onSuccess func(), onFailure func(error))
	// EnqueueForTellNext pushes msg to queueName, or its own queue when
	// empty, to continue after this node over relationType. The original
	// is acked once the owning partition accepted the copy.
	EnqueueForTellNext(msg *message.Msg, queueName, relationType string)
	// Ack completes msg without routing it further
	Ack(msg *message.Msg)
	// NewMsg creates a message originating in this node's chain
	NewMsg(queueName string, msgType message.InternalType, originator message.EntityID,
		metadata message.Metadata, data string) (*message.Msg, error)
}

// NodeFactory creates a node instance
type NodeFactory func() Node

// NodeRegistry maps node types to factories
type NodeRegistry struct {
	mu        sync.RWMutex
	factories map[string]NodeFactory
}

// NewNodeRegistry returns a registry holding the built-in node types
func NewNodeRegistry() *NodeRegistry {
	r := &NodeRegistry{factories: make(map[string]NodeFactory)}
	for name, f := range builtinNodes() {
		r.factories[name] = f
	}
	return r
}

// Register adds a node type
func (r *NodeRegistry) Register(nodeType string, f NodeFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[nodeType]; ok {
		return errors.WrapInvalid(fmt.Errorf("node type %q already registered", nodeType),
			"NodeRegistry", "Register", "register node type")
	}
	r.factories[nodeType] = f
	return nil
}

// Create instantiates a node of nodeType
func (r *NodeRegistry) Create(nodeType string) (Node, error) {
	r.mu.RLock()
	f, ok := r.factories[nodeType]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown node type %q", errors.ErrInvalidConfig, nodeType),
			"NodeRegistry", "Create", "find node type")
	}
	return f(), nil
}

// Types returns the registered node types in order
func (r *NodeRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// FuncNode adapts a function to Node
type FuncNode func(ctx Context, msg *message.Msg) error

func (FuncNode) Init(Context, NodeConfig) error { return nil }

func (f FuncNode) OnMsg(ctx Context, msg *message.Msg) error { return f(ctx, msg) }

func (FuncNode) Destroy() {}
