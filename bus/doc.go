// Package bus distributes gateway notifications once a transaction has
// completed.
//
// Bus is the in-process dispatcher. Subscribers register a topic pattern:
//
//	*                          every notification
//	DATA/*                     every data notification
//	LIFECYCLE/model/provider/* everything below one provider
//	DATA/model/provider/s/r    one resource
//
// Delivery is synchronous, in subscription order. A handler that panics is
// logged and skipped.
//
// Fanout chains the Bus with the remote sinks in the subpackages (natsbus,
// mqttbus, amqpbus, wsbus). Remote sinks share the Envelope JSON encoding:
//
//	{
//	  "id": "0b6f...",
//	  "topic": "DATA/model/provider/service/resource",
//	  "kind": "DATA",
//	  "path": {"model": "model", "provider": "provider", ...},
//	  "notification": {"oldValue": 20, "newValue": 21.5, ...},
//	  "publishedAt": "2024-05-01T10:00:00Z"
//	}
//
// SubjectFor, TopicFor and MQTTTopic translate topics to transport
// addressing.
package bus
