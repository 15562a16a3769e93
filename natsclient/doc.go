// Package natsclient wraps the NATS Go client with a circuit breaker and
// the JetStream calls the notifier needs.
//
// # Circuit Breaker
//
// After a threshold of consecutive failures (default 5) the circuit opens
// and Connect and every JetStream call fail fast with ErrCircuitOpen. The
// circuit half-opens after an interval taken from an exponential backoff
// (1s, 2s, 4s up to WithCircuitBreaker's maximum, default 1m). Any
// successful call resets it.
//
// Health reports the connection to the gateway's /health endpoint: healthy
// when connected, degraded while reconnecting, unhealthy otherwise.
//
// Connection states move through
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Connected
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(metrics),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Subscribe(ctx, "sensinact.updates.>", func(msgCtx context.Context, data []byte) {
//	    // each call gets a 30s deadline derived from ctx
//	})
//
// # JetStream
//
// EnsureStream creates or updates a stream. PublishToStream waits for the
// server ack and accepts publish options, so callers can set
// jetstream.WithMsgID to have the server drop redeliveries inside the
// stream's duplicate window.
//
// # Testing
//
// NewTestClient starts a NATS container through testcontainers and returns
// a connected client. Tests using it carry the integration build tag.
package natsclient
