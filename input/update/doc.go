// Package update ingests southbound updates and applies them to the gateway
// twin.
//
// A message holds one update or a JSON array of them:
//
//	[
//	  {"provider": "s1", "service": "env", "resource": "temperature",
//	   "value": 21.5, "timestamp": "2024-05-01T10:00:00Z"},
//	  {"provider": "s1", "service": "env", "resource": "temperature",
//	   "metadata": {"unit": "C"}},
//	  {"provider": "s1", "service": "admin", "resource": "reset", "action": true},
//	  {"provider": "s0", "remove": true}
//	]
//
// Timestamps are RFC3339 strings or epoch seconds or milliseconds; a missing
// timestamp means now. The optional "type" field ("int", "float", "string",
// "bool") checks and converts the value.
//
// Handler applies a whole message in one command, so its notifications are
// merged and delivered together, and a bad update rejects the message.
// Subscriber wires a Handler to a NATS subject, optionally behind a token
// bucket rate limit.
//
// With schema validation enabled the raw message is first checked against
// the JSON schema returned by Schema, which rejects unknown fields that
// decoding alone would ignore.
package update
