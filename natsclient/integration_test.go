//go:build integration

package natsclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_ConnectAndPublish(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	assert.True(t, tc.Client.IsHealthy())
	_, err := tc.Client.RTT()
	require.NoError(t, err)

	received := make(chan []byte, 1)
	require.NoError(t, tc.Client.Subscribe(ctx, "rulecore.ping", func(_ context.Context, data []byte) {
		received <- data
	}))
	require.NoError(t, tc.Client.Publish(ctx, "rulecore.ping", []byte("pong")))

	select {
	case data := <-received:
		assert.Equal(t, "pong", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestIntegration_StreamAckAndRedelivery(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx := context.Background()
	client := tc.NewConnectedClient(t, WithAckWait(time.Second))

	_, err := client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     "RULECORE_TEST",
		Subjects: []string{"tb_rule_engine.>"},
	})
	require.NoError(t, err)

	var attempts atomic.Int32
	done := make(chan string, 1)
	err = client.ConsumeStream(ctx, "RULECORE_TEST", "tb_rule_engine.main.0", func(_ context.Context, data []byte) error {
		if attempts.Add(1) == 1 {
			return errors.New("first delivery fails")
		}
		done <- string(data)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, client.PublishToStream(ctx, "tb_rule_engine.main.0", []byte("msg-1")))

	select {
	case data := <-done:
		assert.Equal(t, "msg-1", data)
		assert.Equal(t, int32(2), attempts.Load())
	case <-time.After(10 * time.Second):
		t.Fatal("message not redelivered")
	}

	assert.True(t, client.StopConsumer("RULECORE_TEST", "tb_rule_engine.main.0"))
	assert.False(t, client.StopConsumer("RULECORE_TEST", "tb_rule_engine.main.0"))
}

func TestIntegration_KVStore(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx := context.Background()

	bucket, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "rulecore_nodes"})
	require.NoError(t, err)
	again, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "rulecore_nodes"})
	require.NoError(t, err)
	assert.Equal(t, bucket.Bucket(), again.Bucket())

	kv := NewKVStore(bucket, 5*time.Second)
	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = kv.Put(ctx, "node-a", []byte(`{"id":"node-a"}`))
	require.NoError(t, err)

	entry, err := kv.Get(ctx, "node-a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"node-a"}`, string(entry.Value))

	keys, err = kv.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a"}, keys)

	require.NoError(t, kv.Delete(ctx, "node-a"))
	_, err = kv.Get(ctx, "node-a")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)
}
