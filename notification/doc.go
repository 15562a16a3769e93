// Package notification collects the change notifications produced by a
// gateway transaction and delivers them in a compact, deterministic form.
//
// # Overview
//
// Every command that changes the digital twin reports its effects to an
// Accumulator: providers, services and resources that were created or
// deleted, metadata and values that changed, and actions that were invoked.
// The BatchAccumulator queues these reports per entity and, when the
// transaction commits, hands the surviving notifications to a Sink in a
// fixed order:
//
//  1. lifecycle notifications, then metadata, then data, then actions
//  2. within a kind, by provider, service and resource name, parents first
//  3. within an entity, in queue order (actions by timestamp)
//
// # Merging
//
// Lifecycle events on the same entity collapse to at most two
// notifications, the state at transaction start and the final state:
//
//	AddProvider, RemoveProvider                 -> nothing
//	RemoveProvider, AddProvider                 -> DELETED, CREATED
//	RemoveProvider, AddProvider, RemoveProvider -> DELETED
//	AddProvider, AddProvider                    -> CREATED
//
// Metadata and value updates on the same resource collapse to one
// notification that keeps the old value of the first update and the new
// value and timestamp of the last one. An update older than the queued one
// is rejected with ErrOutOfOrderUpdate and leaves the queue untouched.
//
// Actions are never merged.
//
// # Topics
//
// Each notification is delivered with a topic of the form
//
//	KIND/model/provider[/service[/resource]]
//
// where KIND is LIFECYCLE, METADATA, DATA or ACTION.
//
// # Outside transactions
//
// ImmediateAccumulator implements the same interface but delivers each
// report immediately without merging. It serves changes that happen outside
// of a transaction.
//
// # Concurrency
//
// Accumulators are confined to the goroutine running the transaction and
// are not safe for concurrent use. Sinks may be called from that goroutine
// only, and must handle their own failures.
package notification
