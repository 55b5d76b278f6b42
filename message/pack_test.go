package message

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPack_AllSucceed(t *testing.T) {
	pack := NewPack(context.Background(), time.Second, 3)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	var cbs []Callback
	for _, id := range ids {
		cbs = append(cbs, pack.Callback(id))
	}

	cbs[0].OnSuccess()
	cbs[1].OnSuccess()
	cbs[1].OnSuccess() // duplicate ack is ignored
	cbs[2].OnFailure(errors.New("boom"))

	res := pack.Await(context.Background())
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 1, res.Failure)
	assert.Equal(t, 0, res.Timeout)
	assert.Contains(t, res.Failures, ids[2])
	assert.Empty(t, res.Pending)
}

func TestPack_TimeoutInvalidatesMembers(t *testing.T) {
	pack := NewPack(context.Background(), 20*time.Millisecond, 2)

	first := pack.Callback(uuid.New())
	stuckID := uuid.New()
	stuck := pack.Callback(stuckID)

	node := RuleNodeInfo{RuleNodeID: uuid.New(), RuleNodeName: "slow"}
	stuck.OnProcessingStart(node)
	first.OnSuccess()

	assert.True(t, stuck.IsMsgValid())

	res := pack.Await(context.Background())
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 1, res.Timeout)
	assert.Equal(t, node, res.Pending[stuckID])
	assert.False(t, stuck.IsMsgValid())
}

func TestPack_CancelInvalidatesMessages(t *testing.T) {
	pack := NewPack(context.Background(), time.Minute, 1)
	cb := pack.Callback(uuid.New())

	m, err := NewBuilder().Type(PostTelemetryRequest).Originator(testDevice()).Callback(cb).Build()
	require.NoError(t, err)
	assert.True(t, m.IsValid())

	pack.Cancel()
	assert.False(t, m.IsValid())
}

func TestPack_EmptyIsDone(t *testing.T) {
	pack := NewPack(context.Background(), time.Second, 0)
	select {
	case <-pack.Done():
	default:
		t.Fatal("empty pack should be done")
	}
}

func TestFuncCallback_Defaults(t *testing.T) {
	var cb Callback = FuncCallback{}
	cb.OnSuccess()
	cb.OnFailure(errors.New("ignored"))
	assert.True(t, cb.IsMsgValid())

	var got error
	cb = FuncCallback{Failure: func(err error) { got = err }}
	cause := errors.New("x")
	cb.OnFailure(cause)
	assert.Equal(t, cause, got)
}
