// Package mqttbus publishes gateway notifications to an MQTT broker.
//
// Topics are the notification topics under a configurable prefix, for
// example sensinact/DATA/model/provider/service/resource. Payloads are
// bus.Envelope JSON documents.
package mqttbus

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/bus"
	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/health"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/metric"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
)

const sinkName = "mqtt"

// Publisher is satisfied by *autopaho.ConnectionManager
type Publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Config holds the broker connection and publish settings
type Config struct {
	Brokers        []string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	Retain         bool
	KeepAlive      uint16
	PublishTimeout time.Duration
}

// Sink is a notification.Sink publishing envelopes over MQTT
type Sink struct {
	publisher Publisher
	conn      *autopaho.ConnectionManager
	config    Config
	logger    *slog.Logger
	metrics   *metric.Metrics

	connected atomic.Bool
	published atomic.Int64
	failed    atomic.Int64
}

var _ notification.Sink = (*Sink)(nil)

// New creates a sink publishing through p. Use Connect for a broker
// connection.
func New(p Publisher, cfg Config, logger *slog.Logger, metrics *metric.Metrics) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	s := &Sink{
		publisher: p,
		config:    cfg,
		logger:    logger.With("sink", sinkName),
		metrics:   metrics,
	}
	s.connected.Store(p != nil)
	return s
}

// Connect opens an autopaho connection and waits for the first CONNACK
func Connect(ctx context.Context, cfg Config, logger *slog.Logger, metrics *metric.Metrics) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errs.WrapInvalid(errs.ErrMissingConfig, "mqttbus", "Connect", "no broker configured")
	}

	urls := make([]*url.URL, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		u, err := url.Parse(b)
		if err != nil {
			return nil, errs.WrapInvalid(err, "mqttbus", "Connect", "parse broker url")
		}
		urls = append(urls, u)
	}

	s := New(nil, cfg, logger, metrics)

	cliCfg := autopaho.ClientConfig{
		BrokerUrls: urls,
		KeepAlive:  cfg.KeepAlive,
		OnConnectionUp: func(_ *autopaho.ConnectionManager, _ *paho.Connack) {
			s.connected.Store(true)
			s.logger.Info("MQTT connection up")
		},
		OnConnectError: func(err error) {
			s.connected.Store(false)
			s.logger.Warn("MQTT connection attempt failed", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
			Router:   paho.NewStandardRouter(),
			OnClientError: func(err error) {
				s.connected.Store(false)
				s.logger.Error("MQTT client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				s.connected.Store(false)
				if d.Properties != nil {
					s.logger.Warn("MQTT server requested disconnect", "reason", d.Properties.ReasonString)
				} else {
					s.logger.Warn("MQTT server requested disconnect", "reason_code", d.ReasonCode)
				}
			},
		},
	}
	if cfg.Username != "" {
		cliCfg.SetUsernamePassword(cfg.Username, []byte(cfg.Password))
	}

	cm, err := autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return nil, errs.WrapTransient(err, "mqttbus", "Connect", "create connection")
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		_ = cm.Disconnect(context.Background())
		return nil, errs.WrapTransient(fmt.Errorf("%w: %w", errs.ErrNoConnection, err), "mqttbus", "Connect", "await connection")
	}

	s.conn = cm
	s.publisher = cm
	return s, nil
}

// Topic returns the MQTT topic a notification topic is published on
func (s *Sink) Topic(topic string) string {
	return bus.MQTTTopic(topic, s.config.TopicPrefix)
}

// Deliver publishes the notification and logs failures
func (s *Sink) Deliver(topic string, n notification.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.PublishTimeout)
	defer cancel()

	if err := s.Publish(ctx, topic, n); err != nil {
		s.failed.Add(1)
		s.metrics.RecordSinkError(sinkName)
		s.logger.Error("Failed to publish notification", "topic", topic, "error", err)
		return
	}
	s.published.Add(1)
	s.metrics.RecordSinkPublished(sinkName)
}

// Publish encodes and publishes one notification
func (s *Sink) Publish(ctx context.Context, topic string, n notification.Notification) error {
	if s.publisher == nil {
		return errs.WrapTransient(errs.ErrNoConnection, "mqttbus.Sink", "Publish", "publish")
	}
	_, data, err := bus.Encode(topic, n)
	if err != nil {
		return err
	}

	if _, err := s.publisher.Publish(ctx, &paho.Publish{
		QoS:     s.config.QoS,
		Retain:  s.config.Retain,
		Topic:   s.Topic(topic),
		Payload: data,
	}); err != nil {
		return errs.WrapTransient(err, "mqttbus.Sink", "Publish", "publish "+s.Topic(topic))
	}
	return nil
}

// Health reports the connection state with delivery counters
func (s *Sink) Health() health.Status {
	var st health.Status
	if s.connected.Load() {
		st = health.NewHealthy(sinkName, "connected")
	} else {
		st = health.NewUnhealthy(sinkName, "not connected to broker")
	}
	s.metrics.RecordHealth(sinkName, st.Healthy)
	return st.WithMetrics(&health.Metrics{
		Published:  s.published.Load(),
		ErrorCount: s.failed.Load(),
	})
}

// Close disconnects from the broker
func (s *Sink) Close(ctx context.Context) error {
	s.connected.Store(false)
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Disconnect(ctx); err != nil {
		return errs.Wrap(err, "mqttbus.Sink", "Close", "disconnect")
	}
	return nil
}
