package testutil

// Southbound update payloads shared by ingest and end-to-end tests.

// TestUpdateSingle sets one value on a resource with an RFC3339 timestamp.
const TestUpdateSingle = `{
	"model": "sensor",
	"provider": "temp-1",
	"service": "sensor",
	"resource": "temperature",
	"value": 21.5,
	"timestamp": "2024-05-01T10:00:00Z"
}`

// TestUpdateBatch creates a provider with two resources, updates a value
// twice, sets metadata and triggers an action in one batch.
const TestUpdateBatch = `[
	{"model": "sensor", "provider": "temp-1", "service": "sensor", "resource": "temperature", "value": 20.0, "timestamp": 1714557600000},
	{"model": "sensor", "provider": "temp-1", "service": "sensor", "resource": "temperature", "value": 21.5, "timestamp": 1714557601000},
	{"model": "sensor", "provider": "temp-1", "service": "sensor", "resource": "temperature", "metadata": {"unit": "°C"}, "timestamp": 1714557601000},
	{"model": "sensor", "provider": "temp-1", "service": "admin", "resource": "reset", "timestamp": 1714557600000},
	{"model": "sensor", "provider": "temp-1", "service": "admin", "resource": "reset", "action": true, "timestamp": 1714557602000}
]`

// TestUpdateRemove removes a provider.
const TestUpdateRemove = `{"provider": "temp-1", "remove": true}`

// TestUpdateInvalid is not an update.
const TestUpdateInvalid = `{"provider": 42`

// TestUpdateMissingProvider names no provider.
const TestUpdateMissingProvider = `{"service": "sensor", "resource": "temperature", "value": 1}`
