// Package testutil provides test helpers shared by the gateway packages.
//
// RecordingSink is a notification.Sink that keeps every delivery in order so
// tests can assert the exact sequence produced by an accumulator:
//
//	sink := testutil.NewRecordingSink()
//	acc := notification.NewAccumulator(sink)
//	_ = acc.AddProvider(notification.ProviderPath("model", "p1"))
//	_ = acc.CompleteAndSend()
//	assert.Equal(t, []string{"LIFECYCLE/model/p1"}, sink.Topics())
//
// MockNATSClient is an in-memory stand-in for natsclient.Client covering
// Publish, PublishToStream, Subscribe and IsHealthy. It records messages
// per subject and hands them synchronously to subscriptions matching with
// NATS wildcards. FailNext injects publish failures.
//
// The TestUpdate* constants are southbound update payloads used by the ingest
// and end-to-end tests.
package testutil
