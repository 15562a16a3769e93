// Health states
//
// A component is healthy, degraded (working with reduced functionality,
// for example a sink reconnecting while buffering) or unhealthy.
//
// Components report their status either by pushing it:
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("command", "Gateway thread running")
//
// or by registering a Checker that is polled whenever the aggregate is
// requested:
//
//	monitor.Register("nats", natsSink)
//
// The aggregate follows the worst sub-status and is served as JSON by
// Monitor.Handler, answering 503 when unhealthy. Error messages turned into
// statuses with FromError are sanitized so broker URLs, addresses, paths and
// credentials are not exposed.
package health
