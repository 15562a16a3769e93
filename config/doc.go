// Package config provides configuration loading for the sensiNact notifier.
//
// Configuration is built in layers:
//
//  1. Default() values
//  2. each file passed to Loader.AddLayer, JSON or YAML by extension,
//     deep merged over the previous result
//  3. SENSINACT_* environment variables
//  4. Validate
//
// Durations accept Go duration strings ("5s", "1m30s") or nanosecond numbers.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.json")
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Environment Overrides
//
//	SENSINACT_GATEWAY_NAME         gateway.name
//	SENSINACT_GATEWAY_QUEUE_SIZE   gateway.queue_size
//	SENSINACT_NATS_URLS            nats.urls (comma separated)
//	SENSINACT_NATS_USERNAME        nats.username
//	SENSINACT_NATS_PASSWORD        nats.password
//	SENSINACT_NATS_TOKEN           nats.token
//	SENSINACT_NATS_SINK_ENABLED    sinks.nats.enabled
//	SENSINACT_MQTT_ENABLED         sinks.mqtt.enabled
//	SENSINACT_MQTT_BROKERS         sinks.mqtt.brokers (comma separated)
//	SENSINACT_MQTT_USERNAME        sinks.mqtt.username
//	SENSINACT_MQTT_PASSWORD        sinks.mqtt.password
//	SENSINACT_AMQP_ENABLED         sinks.amqp.enabled
//	SENSINACT_AMQP_URL             sinks.amqp.url
//	SENSINACT_HISTORY_ENABLED      sinks.history.enabled
//	SENSINACT_HISTORY_PATH         sinks.history.path
//	SENSINACT_INGEST_ENABLED       ingest.enabled
//	SENSINACT_METRICS_PORT         metrics.port
//
// # Thread Safety
//
// SafeConfig wraps a Config for concurrent readers. Get returns a deep copy
// so callers can never mutate shared state.
//
// Config files are limited to 10MB and 100 levels of nesting. Relative paths
// may not leave the working directory.
package config
