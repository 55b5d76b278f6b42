package ruleengine

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/message"
)

func TestRuleChain_Validate(t *testing.T) {
	tenant := uuid.New()
	valid := func() RuleChain {
		return newChain(tenant, "chain", true).
			node("a", "record", "").
			node("b", "record", "").
			link("a", message.RelationSuccess, "b").
			build()
	}

	c := valid()
	require.NoError(t, c.Validate())
	for _, n := range c.Nodes {
		assert.Equal(t, c.ID, n.RuleChainID)
	}

	tests := []struct {
		name   string
		mutate func(c *RuleChain)
	}{
		{"missing id", func(c *RuleChain) { c.ID = uuid.Nil }},
		{"missing tenant", func(c *RuleChain) { c.TenantID = uuid.Nil }},
		{"duplicate node", func(c *RuleChain) { c.Nodes[1].ID = c.Nodes[0].ID }},
		{"node without type", func(c *RuleChain) { c.Nodes[0].Type = "" }},
		{"node of another chain", func(c *RuleChain) { c.Nodes[0].RuleChainID = uuid.New() }},
		{"unknown first node", func(c *RuleChain) { c.FirstNodeID = uuid.New() }},
		{"relation from unknown node", func(c *RuleChain) { c.Relations[0].From = uuid.New() }},
		{"relation to unknown node", func(c *RuleChain) { c.Relations[0].To = uuid.New() }},
		{"relation without type", func(c *RuleChain) { c.Relations[0].Type = "" }},
		{"unsupported target", func(c *RuleChain) { c.Relations[0].ToType = message.EntityDevice }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestRuleChain_RelationsFrom(t *testing.T) {
	b := newChain(uuid.New(), "chain", true).
		node("a", "record", "").
		node("b", "record", "").
		node("c", "record", "").
		link("a", message.RelationSuccess, "b").
		link("a", message.RelationFailure, "c").
		link("b", message.RelationSuccess, "c")
	c := b.build()

	rels := c.RelationsFrom(b.ids["a"], []string{message.RelationSuccess})
	require.Len(t, rels, 1)
	assert.Equal(t, b.ids["b"], rels[0].To)
	assert.Equal(t, message.EntityRuleNode, rels[0].TargetType())

	assert.Len(t, c.RelationsFrom(b.ids["a"], []string{message.RelationSuccess, message.RelationFailure}), 2)
	assert.Empty(t, c.RelationsFrom(b.ids["c"], []string{message.RelationSuccess}))
}

func TestChainRegistry(t *testing.T) {
	r := NewChainRegistry()
	tenant := uuid.New()
	root := newChain(tenant, "root", true).node("a", "record", "").build()
	other := newChain(tenant, "other", false).node("a", "record", "").build()
	require.NoError(t, r.Put(root))
	require.NoError(t, r.Put(other))

	got, ok := r.Root(tenant)
	require.True(t, ok)
	assert.Equal(t, root.ID, got.ID)
	assert.Len(t, r.ChainsOf(tenant), 2)
	assert.Equal(t, []uuid.UUID{tenant}, r.Tenants())

	moved := root
	moved.TenantID = uuid.New()
	assert.True(t, errors.IsInvalid(r.Put(moved)))

	// clearing the root flag drops the root
	root.Root = false
	require.NoError(t, r.Put(root))
	_, ok = r.Root(tenant)
	assert.False(t, ok)

	r.Delete(other.ID)
	_, ok = r.Get(other.ID)
	assert.False(t, ok)

	r.DeleteTenant(tenant)
	assert.Empty(t, r.ChainsOf(tenant))
	assert.Empty(t, r.Tenants())
}

const definitionsJSON = `{
  "ruleChains": [
    {
      "id": "6f1b2c3d-0000-4000-8000-000000000001",
      "tenantId": "6f1b2c3d-0000-4000-8000-0000000000aa",
      "name": "Root",
      "root": true,
      "firstNodeId": "6f1b2c3d-0000-4000-8000-000000000011",
      "nodes": [
        {"id": "6f1b2c3d-0000-4000-8000-000000000011", "type": "msg_type_switch", "name": "switch"},
        {"id": "6f1b2c3d-0000-4000-8000-000000000012", "type": "log", "name": "log",
         "debugSettings": {"failuresEnabled": true}},
        {"id": "6f1b2c3d-0000-4000-8000-000000000013", "type": "flow", "name": "to alarms",
         "configuration": {"ruleChainId": "6f1b2c3d-0000-4000-8000-000000000002"}}
      ],
      "relations": [
        {"from": "6f1b2c3d-0000-4000-8000-000000000011", "to": "6f1b2c3d-0000-4000-8000-000000000012", "type": "Post telemetry"},
        {"from": "6f1b2c3d-0000-4000-8000-000000000012", "to": "6f1b2c3d-0000-4000-8000-000000000013", "type": "Success"}
      ]
    },
    {
      "id": "6f1b2c3d-0000-4000-8000-000000000002",
      "tenantId": "6f1b2c3d-0000-4000-8000-0000000000aa",
      "name": "Alarms",
      "nodes": []
    }
  ]
}`

func TestChainRegistry_LoadDefinitions(t *testing.T) {
	r := NewChainRegistry()
	n, err := r.LoadDefinitions(strings.NewReader(definitionsJSON))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	root, ok := r.Root(uuid.MustParse("6f1b2c3d-0000-4000-8000-0000000000aa"))
	require.True(t, ok)
	assert.Equal(t, "Root", root.Name)
	require.Len(t, root.Nodes, 3)
	assert.True(t, root.Nodes[1].Debug.FailuresEnabled)
	assert.Equal(t, root.ID, root.Nodes[2].RuleChainID)

	var flow flowNode
	require.NoError(t, flow.Init(nil, NodeConfig{Node: root.Nodes[2]}))
	assert.Equal(t, uuid.MustParse("6f1b2c3d-0000-4000-8000-000000000002"), flow.RuleChainID)
}

func TestChainRegistry_LoadDefinitionsIsAllOrNothing(t *testing.T) {
	r := NewChainRegistry()
	bad := strings.Replace(definitionsJSON, `"6f1b2c3d-0000-4000-8000-0000000000aa",
      "name": "Alarms"`, `"00000000-0000-0000-0000-000000000000",
      "name": "Alarms"`, 1)
	_, err := r.LoadDefinitions(strings.NewReader(bad))
	require.Error(t, err)
	assert.Empty(t, r.Tenants())

	_, err = r.LoadDefinitions(strings.NewReader(`{"ruleChains": [], "extra": 1}`))
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
}

func TestNodeRegistry(t *testing.T) {
	r := NewNodeRegistry()
	assert.Subset(t, r.Types(), []string{
		NodeTypeFlow, NodeTypeOutput, NodeTypeDelay, NodeTypeLog,
		NodeTypeCheckpoint, NodeTypeMsgTypeSwitch, NodeTypeGenerator,
	})

	noop := func() Node { return FuncNode(func(Context, *message.Msg) error { return nil }) }
	require.NoError(t, r.Register("custom", noop))
	assert.True(t, errors.IsInvalid(r.Register("custom", noop)))

	n, err := r.Create("custom")
	require.NoError(t, err)
	assert.NotNil(t, n)

	_, err = r.Create("missing")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestBuiltinNodeConfigValidation(t *testing.T) {
	node := func(nodeType, config string) NodeConfig {
		n := RuleNode{ID: uuid.New(), Type: nodeType}
		if config != "" {
			n.Configuration = []byte(config)
		}
		return NodeConfig{Node: n}
	}

	assert.Error(t, (&flowNode{}).Init(nil, node(NodeTypeFlow, "")))
	assert.Error(t, (&delayNode{}).Init(nil, node(NodeTypeDelay, `{"maxPendingMsgs":0}`)))
	assert.Error(t, (&delayNode{}).Init(nil, node(NodeTypeDelay, `{"periodMs":"soon"}`)))
	assert.Error(t, (&generatorNode{}).Init(nil, node(NodeTypeGenerator, `{"periodMs":-1}`)))

	d := &delayNode{}
	require.NoError(t, d.Init(nil, node(NodeTypeDelay, "")))
	assert.Equal(t, int64(1000), d.PeriodMs)
	assert.Equal(t, 1000, d.MaxPendingMsgs)
}
