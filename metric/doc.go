// Package metric provides Prometheus metrics and the HTTP server exposing
// them for the notification gateway.
//
// MetricsRegistry owns a private Prometheus registry holding the gateway
// metrics (Metrics), the Go runtime collectors, and any component metrics
// registered through MetricsRegistrar, such as the command queue metrics of
// the worker pool.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry,
//	    metric.WithHealthHandler(monitorHandler))
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        slog.Error("Metrics server error", "error", err)
//	    }
//	}()
//
//	m := registry.CoreMetrics()
//	acc := notification.NewAccumulator(sink, notification.WithRecorder(m))
//
// # Gateway Metrics
//
//   - sensinact_transactions_total{status}: completed and discarded transactions
//   - sensinact_transactions_duration_seconds: transaction latency
//   - sensinact_commands_queue_depth: commands waiting for the gateway thread
//   - sensinact_notifications_{queued,merged,delivered}_total{kind}
//   - sensinact_notifications_lifecycle_cancelled_total
//   - sensinact_notifications_rejected_total{kind,reason}
//   - sensinact_sink_{published,errors}_total{sink}
//   - sensinact_ingest_updates_total{status}
//   - sensinact_health_status{component}
//   - sensinact_nats_connected, sensinact_nats_reconnects_total
//
// Every Record method accepts a nil *Metrics receiver, so components built
// without a registry simply skip recording.
package metric
