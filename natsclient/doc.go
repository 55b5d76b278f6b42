// Package natsclient wraps a NATS connection for cluster traffic.
//
// The Client adds a circuit breaker on top of nats.go: after a threshold of
// consecutive failures (default 5) the circuit opens and calls fail fast with
// ErrCircuitOpen until the backoff elapses. The backoff doubles on every
// round of failures up to a maximum (default one minute) and resets on the
// first success.
//
// Partitioned rule engine traffic rides on JetStream. EnsureStream creates
// the stream, PublishToStream waits for the server ack, and ConsumeStream
// runs a durable consumer per subject whose handler result decides between
// ack and nak:
//
//	client, err := natsclient.NewClient(url, natsclient.WithLogger(logger), natsclient.WithMetrics(registry))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	err = client.ConsumeStream(ctx, "RULECORE", "tb_rule_engine.main.3", func(ctx context.Context, data []byte) error {
//	    return deliver(ctx, data)
//	})
//
// KVStore wraps a JetStream key value bucket; the cluster package uses one to
// publish node membership.
//
// Integration tests run against a NATS container started with
// testcontainers-go and are built with the integration tag:
//
//	go test -tags integration ./natsclient/...
package natsclient
