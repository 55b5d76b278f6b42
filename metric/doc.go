// Package metric provides Prometheus-based metrics for the rule engine and an
// HTTP server exposing them.
//
// MetricsRegistry owns a private Prometheus registry with the engine metrics
// (message flow, actor mailboxes, scheduler backlog, debug event persistence,
// partition ownership and NATS health) registered up front. Components with
// their own collectors, such as the debug event worker pool, register them
// through the MetricsRegistrar interface, which rejects duplicate names.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(":9090", "/metrics", registry)
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop(ctx)
//
//	registry.CoreMetrics().RecordMessageReceived("Main", "POST_TELEMETRY_REQUEST")
//
// CoreMetrics is nil-safe on the registry, so components accept an optional
// *MetricsRegistry and skip recording when none was configured.
package metric
