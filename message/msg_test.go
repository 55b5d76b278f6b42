package message

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulecore/errors"
)

func testDevice() EntityID {
	return NewEntityID(EntityDevice, uuid.New())
}

func buildMsg(t *testing.T, b *Builder) *Msg {
	t.Helper()
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func sameMap(a, b Metadata) bool {
	return reflect.ValueOf(a.values).Pointer() == reflect.ValueOf(b.values).Pointer()
}

func TestBuilder_Defaults(t *testing.T) {
	before := time.Now().UnixMilli()
	m := buildMsg(t, NewBuilder().Type(PostTelemetryRequest).Originator(testDevice()).Data(`{"t":1}`))

	assert.NotEqual(t, uuid.Nil, m.ID())
	assert.GreaterOrEqual(t, m.TS(), before)
	assert.Equal(t, "POST_TELEMETRY_REQUEST", m.Type())
	assert.Equal(t, PostTelemetryRequest, m.InternalType())
	assert.Equal(t, DataTypeJSON, m.DataType())
	assert.Equal(t, 0, m.Metadata().Len())
	require.NotNil(t, m.Ctx())
	assert.Equal(t, int32(0), m.Ctx().Counter())
	assert.True(t, m.IsValid())
	assert.Equal(t, EmptyCallback, m.Callback())

	_, ok := m.Partition()
	assert.False(t, ok)
}

func TestBuilder_Validation(t *testing.T) {
	tests := []struct {
		name string
		b    *Builder
	}{
		{"missing originator", NewBuilder().Type(PostTelemetryRequest)},
		{"originator without type", NewBuilder().Type(PostTelemetryRequest).Originator(EntityID{ID: uuid.New()})},
		{"unknown data type", NewBuilder().Type(PostTelemetryRequest).Originator(testDevice()).DataType(DataType(9))},
		{"missing type", NewBuilder().Originator(testDevice())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Build()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestBuilder_TypeConsistency(t *testing.T) {
	enum := buildMsg(t, NewBuilder().Type(Alarm).Originator(testDevice()))
	assert.Equal(t, "ALARM", enum.Type())
	assert.True(t, enum.IsTypeOf(Alarm))

	known := buildMsg(t, NewBuilder().TypeString("CONNECT_EVENT").Originator(testDevice()))
	assert.Equal(t, ConnectEvent, known.InternalType())

	custom := buildMsg(t, NewBuilder().TypeString("MY_CUSTOM_TYPE").Originator(testDevice()))
	assert.Equal(t, "MY_CUSTOM_TYPE", custom.Type())
	assert.Equal(t, NA, custom.InternalType())
	assert.False(t, custom.IsTypeOneOf(Alarm, ConnectEvent))
}

func TestBuilder_CustomerDerivedFromOriginator(t *testing.T) {
	customer := NewEntityID(EntityCustomer, uuid.New())
	m := buildMsg(t, NewBuilder().Type(EntityCreated).Originator(customer))
	assert.Equal(t, customer.ID, m.CustomerID())

	explicit := uuid.New()
	m = buildMsg(t, NewBuilder().Type(EntityCreated).Originator(customer).CustomerID(explicit))
	assert.Equal(t, explicit, m.CustomerID())

	m = buildMsg(t, NewBuilder().Type(EntityCreated).Originator(testDevice()))
	assert.Equal(t, uuid.Nil, m.CustomerID())
}

func TestBuilder_TimestampPreserved(t *testing.T) {
	m := buildMsg(t, NewBuilder().Type(Alarm).Originator(testDevice()).TS(1700000000000))
	assert.Equal(t, int64(1700000000000), m.TS())

	c := buildMsg(t, m.Copy())
	assert.Equal(t, m.TS(), c.TS())
	tr := buildMsg(t, m.Transform())
	assert.Equal(t, m.TS(), tr.TS())
}

func TestBuilder_MetadataAssignment(t *testing.T) {
	md := NewMetadata(map[string]string{"deviceName": "d1"})

	shallow := buildMsg(t, NewBuilder().Type(Alarm).Originator(testDevice()).Metadata(md))
	assert.True(t, sameMap(md, shallow.Metadata()))

	deep := buildMsg(t, NewBuilder().Type(Alarm).Originator(testDevice()).CopyMetadata(md))
	assert.False(t, sameMap(md, deep.Metadata()))
	assert.Equal(t, md.Values(), deep.Metadata().Values())
}

func TestMsg_CopySharesCtx(t *testing.T) {
	m := buildMsg(t, NewBuilder().Type(Alarm).Originator(testDevice()))
	m.PushToStack(uuid.New(), uuid.New())

	c := buildMsg(t, m.Copy())

	assert.NotEqual(t, m.ID(), c.ID())
	assert.Same(t, m.Ctx(), c.Ctx())
	assert.True(t, sameMap(m.Metadata(), c.Metadata()))
}

func TestMsg_TransformIsolatesCtx(t *testing.T) {
	m := buildMsg(t, NewBuilder().Type(Alarm).Originator(testDevice()).
		Metadata(NewMetadata(map[string]string{"k": "v"})))
	a, b := uuid.New(), uuid.New()
	m.PushToStack(a, b)

	tr := buildMsg(t, m.Transform())

	assert.Equal(t, m.ID(), tr.ID())
	assert.NotSame(t, m.Ctx(), tr.Ctx())
	assert.False(t, sameMap(m.Metadata(), tr.Metadata()))

	tr.PushToStack(uuid.New(), uuid.New())
	assert.Equal(t, 1, m.Ctx().Depth())
	assert.Equal(t, 2, tr.Ctx().Depth())

	item, ok := m.PopFromStack()
	require.True(t, ok)
	assert.Equal(t, StackItem{ChainID: a, NodeID: b}, item)
	assert.Equal(t, 2, tr.Ctx().Depth())
}

func TestMsg_TransformMetadataCallCopies(t *testing.T) {
	m := buildMsg(t, NewBuilder().Type(Alarm).Originator(testDevice()))
	md := NewMetadata(map[string]string{"a": "1"})

	tr := buildMsg(t, m.Transform().Metadata(md))
	assert.False(t, sameMap(md, tr.Metadata()))
	assert.Equal(t, "1", tr.Metadata().Value("a"))
}

func TestMsg_TransformToChainClearsRuleNode(t *testing.T) {
	x, y, z := uuid.New(), uuid.New(), uuid.New()
	m := buildMsg(t, NewBuilder().Type(Alarm).Originator(testDevice()).RuleChainID(x).RuleNodeID(y))

	moved := m.TransformToChain(z)

	assert.Equal(t, z, moved.RuleChainID())
	assert.Equal(t, uuid.Nil, moved.RuleNodeID())
	assert.Equal(t, x, m.RuleChainID())
	assert.Equal(t, y, m.RuleNodeID())
}

func TestMsg_WithRuleNodeAndForQueue(t *testing.T) {
	chain, node := uuid.New(), uuid.New()
	m := buildMsg(t, NewBuilder().Type(Alarm).Originator(testDevice()))

	at := m.WithRuleNode(chain, node)
	assert.Equal(t, chain, at.RuleChainID())
	assert.Equal(t, node, at.RuleNodeID())
	assert.Equal(t, m.ID(), at.ID())

	q := m.ForQueue("HighPriority", chain, node)
	assert.NotEqual(t, m.ID(), q.ID())
	assert.Equal(t, "HighPriority", q.QueueName())
	assert.Equal(t, node, q.RuleNodeID())
	assert.NotSame(t, m.Ctx(), q.Ctx())
}

func TestMsg_ResetRuleNodeID(t *testing.T) {
	m := buildMsg(t, NewBuilder().Type(Alarm).Originator(testDevice()).RuleNodeID(uuid.New()).ResetRuleNodeID())
	assert.Equal(t, uuid.Nil, m.RuleNodeID())
}

func TestMsg_CalculatedFieldIDsAppendOnly(t *testing.T) {
	cf1, cf2 := uuid.New(), uuid.New()
	m := buildMsg(t, NewBuilder().Type(Alarm).Originator(testDevice()).PreviousCalculatedFieldIDs([]uuid.UUID{cf1}))

	next := m.AppendCalculatedFieldID(cf2)

	assert.Equal(t, []uuid.UUID{cf1}, m.PreviousCalculatedFieldIDs())
	assert.Equal(t, []uuid.UUID{cf1, cf2}, next.PreviousCalculatedFieldIDs())

	ids := next.PreviousCalculatedFieldIDs()
	ids[0] = uuid.Nil
	assert.Equal(t, cf1, next.PreviousCalculatedFieldIDs()[0])
}

func TestMsg_CorrelationPartition(t *testing.T) {
	corr := uuid.New()
	m := buildMsg(t, NewBuilder().Type(ToServerRPCRequest).Originator(testDevice()).CorrelationID(corr).Partition(7))

	p, ok := m.Partition()
	assert.True(t, ok)
	assert.Equal(t, int32(7), p)
	assert.Equal(t, corr, m.CorrelationID())
}

func TestMsg_ValidityFollowsCallback(t *testing.T) {
	valid := true
	var mu sync.Mutex
	cb := FuncCallback{Valid: func() bool {
		mu.Lock()
		defer mu.Unlock()
		return valid
	}}
	m := buildMsg(t, NewBuilder().Type(Alarm).Originator(testDevice()).Callback(cb))
	assert.True(t, m.IsValid())

	mu.Lock()
	valid = false
	mu.Unlock()
	assert.False(t, m.IsValid())

	succeeded := false
	withCb := m.WithCallback(FuncCallback{Success: func() { succeeded = true }})
	assert.Equal(t, m.ID(), withCb.ID())
	assert.Same(t, m.Ctx(), withCb.Ctx())
	withCb.Callback().OnSuccess()
	assert.True(t, succeeded)
}

func TestMsg_LoopCounter(t *testing.T) {
	m := buildMsg(t, NewBuilder().Type(Alarm).Originator(testDevice()))

	assert.Equal(t, int32(0), m.GetAndIncrementRuleNodeCounter())
	assert.Equal(t, int32(1), m.GetAndIncrementRuleNodeCounter())

	// The counter survives a transform
	tr := m.TransformToChain(uuid.New())
	assert.Equal(t, int32(2), tr.GetAndIncrementRuleNodeCounter())
	assert.Equal(t, int32(2), m.Ctx().Counter())
}

func TestInternalType(t *testing.T) {
	assert.Equal(t, PostAttributesRequest, ParseInternalType("POST_ATTRIBUTES_REQUEST"))
	assert.Equal(t, NA, ParseInternalType("nope"))
	assert.Equal(t, "InternalType(99)", InternalType(99).String())
	assert.False(t, InternalType(99).Valid())
	assert.Equal(t, "TEXT", DataTypeText.String())
}

func TestEntityID(t *testing.T) {
	id := testDevice()
	parsed, err := ParseEntityID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseEntityID("no-separator")
	assert.Error(t, err)
	_, err = ParseEntityID("DEVICE:not-a-uuid")
	assert.Error(t, err)

	msb, lsb := UUIDBits(id.ID)
	assert.Equal(t, id.ID, UUIDFromBits(msb, lsb))
	assert.Equal(t, uuid.Nil, UUIDFromBits(0, 0))
}

func TestMetadata(t *testing.T) {
	md := NewMetadata(map[string]string{"b": "2", "a": "1"})
	next := md.With("c", "3").Without("a")

	assert.Equal(t, []string{"a", "b"}, md.Keys())
	assert.Equal(t, []string{"b", "c"}, next.Keys())

	v, ok := next.Get("c")
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	values := md.Values()
	values["a"] = "changed"
	assert.Equal(t, "1", md.Value("a"))

	data, err := md.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"1","b":"2"}`, string(data))

	var decoded Metadata
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.Equal(t, md.Values(), decoded.Values())

	empty, err := Metadata{}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(empty))
}
