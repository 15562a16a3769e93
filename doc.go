// Package sensinact is a notification gateway for a sensiNact-style digital
// twin of providers, services and resources.
//
// Southbound updates change the twin inside a transaction. Every change is
// reported to a notification accumulator, which merges redundant events and
// publishes what remains in a fixed order once the transaction commits.
// Northbound sinks forward those notifications to NATS, MQTT, AMQP and
// WebSocket clients, and keep a history of resource values.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│  input/update (NATS subscriber)     │  JSON updates, batches
//	└─────────────────────────────────────┘
//	           ↓ one command per message
//	┌─────────────────────────────────────┐
//	│  command.Thread                     │  single writer, owns the twin
//	│    twin.Twin + BatchAccumulator     │  rollback on failure
//	└─────────────────────────────────────┘
//	           ↓ CompleteAndSend
//	┌─────────────────────────────────────┐
//	│  bus.Fanout                         │  bus.Bus (local subscribers),
//	│                                     │  natsbus, mqttbus, amqpbus,
//	│                                     │  wsbus, storage/history
//	└─────────────────────────────────────┘
//
// # Topics
//
// Notifications are addressed by topic:
//
//	LIFECYCLE/<model>/<provider>[/<service>[/<resource>]]
//	METADATA/<model>/<provider>/<service>/<resource>
//	DATA/<model>/<provider>/<service>/<resource>
//	ACTION/<model>/<provider>/<service>/<resource>
//
// Remote sinks derive their addressing from the topic: NATS subjects and
// AMQP routing keys use dots, MQTT keeps slashes under a configurable
// prefix. All of them carry the same JSON envelope (see bus.Envelope).
//
// # Packages
//
//   - notification: accumulators, notification types, topics and ordering
//   - twin: in-memory entity graph turning updates into accumulator calls
//   - command: the gateway thread running one transaction at a time
//   - bus: local typed-event bus, fan-out and envelope encoding
//   - bus/natsbus, bus/mqttbus, bus/amqpbus, bus/wsbus: northbound sinks
//   - storage/history: goleveldb value history fed by DATA notifications
//   - input/update: southbound update DTOs, handler and NATS subscriber
//   - config, errors, health, metric, natsclient: shared infrastructure
//   - pkg/retry, pkg/timestamp, pkg/worker: small reusable helpers
//
// # Binary
//
// cmd/sensinact-notifier runs the gateway:
//
//	sensinact-notifier --config notifier.yaml
//	sensinact-notifier --validate --config notifier.yaml
//
// Metrics are served on /metrics, the aggregate health on /health and, when
// enabled, the WebSocket feed on /ws/notifications.
package sensinact
