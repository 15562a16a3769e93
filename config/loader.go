package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "SENSINACT"

// Loader handles layered configuration loading.
// Layers are applied in order over the defaults, then environment
// overrides, then validation.
type Loader struct {
	layers     []string
	envPrefix  string
	validation bool
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validation: true,
	}
}

// AddLayer adds a configuration file layer (JSON or YAML)
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// SetEnvPrefix changes the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// EnableValidation enables or disables validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file over the defaults
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, layer := range l.layers {
		raw, err := l.loadRaw(layer)
		if err != nil {
			return nil, fmt.Errorf("failed to load layer %s: %w", layer, err)
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to merge layer %s: %w", layer, err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// Default returns the configuration used when no layer overrides it
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Name:            "sensinact",
			QueueSize:       1024,
			CommandTimeout:  Duration(5 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			JetStream: JetStreamConfig{
				Stream: "SENSINACT_NOTIFICATIONS",
				MaxAge: Duration(24 * time.Hour),
			},
		},
		Sinks: SinksConfig{
			Log: LogSinkConfig{Enabled: true, Pattern: "*"},
			NATS: NATSSinkConfig{
				SubjectPrefix: "sensinact",
			},
			MQTT: MQTTSinkConfig{
				ClientID:       "sensinact-notifier",
				TopicPrefix:    "sensinact",
				QoS:            1,
				KeepAlive:      30,
				PublishTimeout: Duration(5 * time.Second),
			},
			AMQP: AMQPSinkConfig{
				Exchange:       "sensinact.notifications",
				ConnectTimeout: Duration(30 * time.Second),
			},
			WebSocket: WebSocketSinkConfig{
				Path:       "/ws/notifications",
				SendBuffer: 256,
			},
			History: HistorySinkConfig{
				Path: "data/history",
			},
		},
		Ingest: IngestConfig{
			Subject: "sensinact.updates.>",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// loadRaw reads a layer into a generic map. The decoder is chosen by
// file extension.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	if err := validateMapDepth(raw, 0); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeFromMap deep merges override into base through the JSON form of
// the configuration.
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) error {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return err
		}
		if val != "" {
			*dst = val
		}
		return nil
	}
	list := func(name string, dst *[]string) error {
		var val string
		if err := str(name, &val); err != nil {
			return err
		}
		if val != "" {
			*dst = strings.Split(val, ",")
		}
		return nil
	}
	number := func(name string, dst *int) error {
		var val string
		if err := str(name, &val); err != nil {
			return err
		}
		if val == "" {
			return nil
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("environment variable %s_%s: %w", l.envPrefix, name, err)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		var val string
		if err := str(name, &val); err != nil {
			return err
		}
		if val == "" {
			return nil
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("environment variable %s_%s: %w", l.envPrefix, name, err)
		}
		*dst = b
		return nil
	}

	steps := []error{
		str("GATEWAY_NAME", &cfg.Gateway.Name),
		number("GATEWAY_QUEUE_SIZE", &cfg.Gateway.QueueSize),
		list("NATS_URLS", &cfg.NATS.URLs),
		str("NATS_USERNAME", &cfg.NATS.Username),
		str("NATS_PASSWORD", &cfg.NATS.Password),
		str("NATS_TOKEN", &cfg.NATS.Token),
		flag("NATS_SINK_ENABLED", &cfg.Sinks.NATS.Enabled),
		flag("MQTT_ENABLED", &cfg.Sinks.MQTT.Enabled),
		list("MQTT_BROKERS", &cfg.Sinks.MQTT.Brokers),
		str("MQTT_USERNAME", &cfg.Sinks.MQTT.Username),
		str("MQTT_PASSWORD", &cfg.Sinks.MQTT.Password),
		flag("AMQP_ENABLED", &cfg.Sinks.AMQP.Enabled),
		str("AMQP_URL", &cfg.Sinks.AMQP.URL),
		flag("HISTORY_ENABLED", &cfg.Sinks.History.Enabled),
		str("HISTORY_PATH", &cfg.Sinks.History.Path),
		flag("INGEST_ENABLED", &cfg.Ingest.Enabled),
		number("METRICS_PORT", &cfg.Metrics.Port),
	}
	for _, err := range steps {
		if err != nil {
			return err
		}
	}
	return nil
}

// SaveToFile saves the configuration as JSON or YAML, by extension
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return safeWriteFile(path, data)
}
