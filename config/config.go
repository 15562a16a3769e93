package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration
type Config struct {
	Gateway GatewayConfig `json:"gateway" yaml:"gateway"`
	NATS    NATSConfig    `json:"nats" yaml:"nats"`
	Sinks   SinksConfig   `json:"sinks" yaml:"sinks"`
	Ingest  IngestConfig  `json:"ingest" yaml:"ingest"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// GatewayConfig configures the command thread
type GatewayConfig struct {
	Name            string   `json:"name" yaml:"name"`
	QueueSize       int      `json:"queue_size" yaml:"queue_size"`
	CommandTimeout  Duration `json:"command_timeout" yaml:"command_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string        `json:"urls,omitempty" yaml:"urls,omitempty"`
	MaxReconnects int             `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait Duration        `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username      string          `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string          `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string          `json:"token,omitempty" yaml:"token,omitempty"`
	JetStream     JetStreamConfig `json:"jetstream,omitempty" yaml:"jetstream,omitempty"`
}

// JetStreamConfig for the notification stream
type JetStreamConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Stream  string   `json:"stream,omitempty" yaml:"stream,omitempty"`
	MaxAge  Duration `json:"max_age,omitempty" yaml:"max_age,omitempty"`
}

// SinksConfig selects where notifications are delivered
type SinksConfig struct {
	Log       LogSinkConfig       `json:"log" yaml:"log"`
	NATS      NATSSinkConfig      `json:"nats" yaml:"nats"`
	MQTT      MQTTSinkConfig      `json:"mqtt" yaml:"mqtt"`
	AMQP      AMQPSinkConfig      `json:"amqp" yaml:"amqp"`
	WebSocket WebSocketSinkConfig `json:"websocket" yaml:"websocket"`
	History   HistorySinkConfig   `json:"history" yaml:"history"`
}

// LogSinkConfig logs every notification on the local bus
type LogSinkConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// NATSSinkConfig publishes notifications on NATS subjects
type NATSSinkConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	SubjectPrefix  string   `json:"subject_prefix" yaml:"subject_prefix"`
	DeliverTimeout Duration `json:"deliver_timeout,omitempty" yaml:"deliver_timeout,omitempty"`
}

// MQTTSinkConfig publishes notifications to an MQTT broker
type MQTTSinkConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Brokers        []string `json:"brokers,omitempty" yaml:"brokers,omitempty"`
	ClientID       string   `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Username       string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string   `json:"password,omitempty" yaml:"password,omitempty"`
	TopicPrefix    string   `json:"topic_prefix,omitempty" yaml:"topic_prefix,omitempty"`
	QoS            byte     `json:"qos" yaml:"qos"`
	Retain         bool     `json:"retain,omitempty" yaml:"retain,omitempty"`
	KeepAlive      uint16   `json:"keep_alive,omitempty" yaml:"keep_alive,omitempty"`
	PublishTimeout Duration `json:"publish_timeout,omitempty" yaml:"publish_timeout,omitempty"`
}

// AMQPSinkConfig publishes notifications to an AMQP topic exchange
type AMQPSinkConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	URL            string   `json:"url,omitempty" yaml:"url,omitempty"`
	Exchange       string   `json:"exchange" yaml:"exchange"`
	ConnectTimeout Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
}

// WebSocketSinkConfig pushes notifications to WebSocket clients
type WebSocketSinkConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	SendBuffer int    `json:"send_buffer" yaml:"send_buffer"`
}

// HistorySinkConfig stores resource values in a local database
type HistorySinkConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// IngestConfig configures the southbound update subscriber
type IngestConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Subject string `json:"subject" yaml:"subject"`

	// RateLimit caps accepted messages per second; 0 disables the limit.
	// Messages over the limit are dropped.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst     int     `json:"burst" yaml:"burst"`

	// ValidateSchema checks every message against the update JSON schema
	// before decoding it
	ValidateSchema bool `json:"validate_schema" yaml:"validate_schema"`
}

// MetricsConfig configures the metrics and health server
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// Duration is a time.Duration read from Go duration strings ("5s") or
// from nanosecond numbers.
type Duration time.Duration

// Std returns the duration as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON writes the duration as a Go duration string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return d.set(v)
}

// MarshalYAML writes the duration as a Go duration string
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch val := v.(type) {
	case nil:
		*d = 0
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(int64(val))
	case int:
		*d = Duration(int64(val))
	default:
		return fmt.Errorf("invalid duration type %T", v)
	}
	return nil
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Gateway.QueueSize <= 0 {
		return errors.New("gateway.queue_size must be positive")
	}
	if c.Gateway.CommandTimeout < 0 {
		return errors.New("gateway.command_timeout cannot be negative")
	}

	needsNATS := c.Sinks.NATS.Enabled || c.Ingest.Enabled
	if needsNATS && len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required when the NATS sink or ingest is enabled")
	}

	if c.Sinks.NATS.Enabled && !isValidNATSSubjectPart(c.Sinks.NATS.SubjectPrefix) {
		return fmt.Errorf("sinks.nats.subject_prefix %q is not valid for NATS subjects", c.Sinks.NATS.SubjectPrefix)
	}
	if c.NATS.JetStream.Enabled && c.NATS.JetStream.Stream == "" {
		return errors.New("nats.jetstream.stream is required when JetStream is enabled")
	}

	if c.Sinks.MQTT.Enabled {
		if len(c.Sinks.MQTT.Brokers) == 0 {
			return errors.New("sinks.mqtt.brokers is required when the MQTT sink is enabled")
		}
		if c.Sinks.MQTT.QoS > 2 {
			return fmt.Errorf("sinks.mqtt.qos must be 0, 1 or 2, got %d", c.Sinks.MQTT.QoS)
		}
	}

	if c.Sinks.AMQP.Enabled {
		if c.Sinks.AMQP.URL == "" {
			return errors.New("sinks.amqp.url is required when the AMQP sink is enabled")
		}
		if c.Sinks.AMQP.Exchange == "" {
			return errors.New("sinks.amqp.exchange is required when the AMQP sink is enabled")
		}
	}

	if c.Sinks.WebSocket.Enabled {
		if !c.Metrics.Enabled {
			return errors.New("sinks.websocket requires the metrics server to be enabled")
		}
		if !strings.HasPrefix(c.Sinks.WebSocket.Path, "/") {
			return fmt.Errorf("sinks.websocket.path %q must start with /", c.Sinks.WebSocket.Path)
		}
	}

	if c.Sinks.History.Enabled && c.Sinks.History.Path == "" {
		return errors.New("sinks.history.path is required when the history sink is enabled")
	}

	if c.Ingest.Enabled && c.Ingest.Subject == "" {
		return errors.New("ingest.subject is required when ingest is enabled")
	}
	if c.Ingest.RateLimit < 0 || c.Ingest.Burst < 0 {
		return errors.New("ingest.rate_limit and ingest.burst must not be negative")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}

	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	for _, secret := range []*string{
		&masked.NATS.Password, &masked.NATS.Token, &masked.Sinks.MQTT.Password,
	} {
		if *secret != "" {
			*secret = "***"
		}
	}
	if masked.Sinks.AMQP.URL != "" {
		masked.Sinks.AMQP.URL = maskURLCredentials(masked.Sinks.AMQP.URL)
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func maskURLCredentials(u string) string {
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return u
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return u
}
