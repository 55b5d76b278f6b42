package ruleengine

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/rulecore/debug"
	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
)

// RuleChain is a graph of rule nodes owned by a tenant. Exactly one chain
// per tenant is the root chain that receives messages with no chain set.
type RuleChain struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    uuid.UUID  `json:"tenantId"`
	Name        string     `json:"name"`
	Root        bool       `json:"root"`
	FirstNodeID uuid.UUID  `json:"firstNodeId"`
	Nodes       []RuleNode `json:"nodes"`
	Relations   []Relation `json:"relations"`
}

// RuleNode is one step of a chain. Configuration is handed to the node
// implementation registered for Type.
type RuleNode struct {
	ID            uuid.UUID       `json:"id"`
	RuleChainID   uuid.UUID       `json:"ruleChainId"`
	Type          string          `json:"type"`
	Name          string          `json:"name"`
	Debug         debug.Settings  `json:"debugSettings"`
	QueueName     string          `json:"queueName,omitempty"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// EntityID returns the node as an entity reference
func (n RuleNode) EntityID() message.EntityID {
	return message.NewEntityID(message.EntityRuleNode, n.ID)
}

// Relation connects a node to another node of the same chain, or to the
// entry of another chain, for one relation type
type Relation struct {
	From   uuid.UUID          `json:"from"`
	To     uuid.UUID          `json:"to"`
	ToType message.EntityType `json:"toType,omitempty"`
	Type   string             `json:"type"`
}

// TargetType returns RULE_NODE unless the relation points at a chain
func (r Relation) TargetType() message.EntityType {
	if r.ToType == "" {
		return message.EntityRuleNode
	}
	return r.ToType
}

// Node returns the node with id
func (c RuleChain) Node(id uuid.UUID) (RuleNode, bool) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return RuleNode{}, false
}

// Validate checks ids and references
func (c *RuleChain) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf("%w: rule chain %q: "+format,
			append([]any{errors.ErrInvalidConfig, c.Name}, args...)...),
			"RuleChain", "Validate", "validate rule chain")
	}
	if c.ID == uuid.Nil {
		return invalid("id is required")
	}
	if c.TenantID == uuid.Nil {
		return invalid("tenant id is required")
	}

	ids := make(map[uuid.UUID]bool, len(c.Nodes))
	for i := range c.Nodes {
		n := &c.Nodes[i]
		if n.ID == uuid.Nil {
			return invalid("node %d has no id", i)
		}
		if ids[n.ID] {
			return invalid("duplicate node %s", n.ID)
		}
		if n.Type == "" {
			return invalid("node %s has no type", n.ID)
		}
		if n.RuleChainID == uuid.Nil {
			n.RuleChainID = c.ID
		} else if n.RuleChainID != c.ID {
			return invalid("node %s belongs to chain %s", n.ID, n.RuleChainID)
		}
		ids[n.ID] = true
	}

	if c.FirstNodeID != uuid.Nil && !ids[c.FirstNodeID] {
		return invalid("first node %s is not part of the chain", c.FirstNodeID)
	}
	for _, r := range c.Relations {
		if !ids[r.From] {
			return invalid("relation from unknown node %s", r.From)
		}
		if r.Type == "" {
			return invalid("relation from %s has no type", r.From)
		}
		switch r.TargetType() {
		case message.EntityRuleNode:
			if !ids[r.To] {
				return invalid("relation to unknown node %s", r.To)
			}
		case message.EntityRuleChain:
			if r.To == uuid.Nil {
				return invalid("relation from %s has no target chain", r.From)
			}
		default:
			return invalid("relation target type %q is not supported", r.ToType)
		}
	}
	return nil
}

// RelationsFrom returns the relations leaving node whose type is one of
// relationTypes
func (c RuleChain) RelationsFrom(node uuid.UUID, relationTypes []string) []Relation {
	var out []Relation
	for _, r := range c.Relations {
		if r.From == node && slices.Contains(relationTypes, r.Type) {
			out = append(out, r)
		}
	}
	return out
}

// ChainRegistry holds the rule chain definitions of every tenant
type ChainRegistry struct {
	mu     sync.RWMutex
	chains map[uuid.UUID]RuleChain
	roots  map[uuid.UUID]uuid.UUID
}

// NewChainRegistry creates an empty registry
func NewChainRegistry() *ChainRegistry {
	return &ChainRegistry{
		chains: make(map[uuid.UUID]RuleChain),
		roots:  make(map[uuid.UUID]uuid.UUID),
	}
}

// Put validates and stores chain, replacing a previous version
func (r *ChainRegistry) Put(chain RuleChain) error {
	if err := chain.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.chains[chain.ID]; ok && prev.TenantID != chain.TenantID {
		return errors.WrapInvalid(fmt.Errorf("%w: rule chain %s moved between tenants", errors.ErrInvalidConfig, chain.ID),
			"ChainRegistry", "Put", "store rule chain")
	}
	r.chains[chain.ID] = chain
	if chain.Root {
		r.roots[chain.TenantID] = chain.ID
	} else if r.roots[chain.TenantID] == chain.ID {
		delete(r.roots, chain.TenantID)
	}
	return nil
}

// Get returns the chain with id
func (r *ChainRegistry) Get(id uuid.UUID) (RuleChain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[id]
	return c, ok
}

// Root returns the root chain of a tenant
func (r *ChainRegistry) Root(tenantID uuid.UUID) (RuleChain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.roots[tenantID]
	if !ok {
		return RuleChain{}, false
	}
	c, ok := r.chains[id]
	return c, ok
}

// Delete removes a chain
func (r *ChainRegistry) Delete(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chains[id]; ok && r.roots[c.TenantID] == id {
		delete(r.roots, c.TenantID)
	}
	delete(r.chains, id)
}

// DeleteTenant removes every chain of a tenant
func (r *ChainRegistry) DeleteTenant(tenantID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.chains {
		if c.TenantID == tenantID {
			delete(r.chains, id)
		}
	}
	delete(r.roots, tenantID)
}

// ChainsOf returns the chains of a tenant
func (r *ChainRegistry) ChainsOf(tenantID uuid.UUID) []RuleChain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RuleChain
	for _, c := range r.chains {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out
}

// Tenants returns every tenant with at least one chain
func (r *ChainRegistry) Tenants() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, c := range r.chains {
		if !seen[c.TenantID] {
			seen[c.TenantID] = true
			out = append(out, c.TenantID)
		}
	}
	return out
}

type definitionsFile struct {
	RuleChains []RuleChain `json:"ruleChains"`
}

// LoadDefinitions reads {"ruleChains": [...]} into the registry. Nothing is
// stored unless every chain is valid.
func (r *ChainRegistry) LoadDefinitions(in io.Reader) (int, error) {
	var file definitionsFile
	dec := json.NewDecoder(in)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"ChainRegistry", "LoadDefinitions", "decode rule chains")
	}
	for i := range file.RuleChains {
		if err := file.RuleChains[i].Validate(); err != nil {
			return 0, err
		}
	}
	for _, c := range file.RuleChains {
		if err := r.Put(c); err != nil {
			return 0, err
		}
	}
	return len(file.RuleChains), nil
}
