package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/bus"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/bus/amqpbus"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/bus/mqttbus"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/bus/natsbus"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/bus/wsbus"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/command"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/config"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/health"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/input/update"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/metric"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/natsclient"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/storage/history"
)

const natsConnectTimeout = 10 * time.Second

// gateway owns every long-lived component of the process
type gateway struct {
	cfg     *config.Config
	logger  *slog.Logger
	monitor *health.Monitor

	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	server   *metric.Server

	nats    *natsclient.Client
	bus     *bus.Bus
	hub     *wsbus.Hub
	mqtt    *mqttbus.Sink
	amqp    *amqpbus.Sink
	history *history.Store

	sinks  bus.Fanout
	names  []string
	thread *command.Thread
	ingest *update.Subscriber

	serverErr chan error
}

// newGateway connects the enabled sinks and builds the command thread.
// Components already opened are closed again when a later one fails.
func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (gw *gateway, err error) {
	gw = &gateway{
		cfg:       cfg,
		logger:    logger,
		monitor:   health.NewMonitor(),
		registry:  metric.NewMetricsRegistry(),
		bus:       bus.New(logger),
		serverErr: make(chan error, 1),
	}
	gw.metrics = gw.registry.CoreMetrics()

	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout.Std())
			defer cancel()
			_ = gw.closeSinks(closeCtx)
		}
	}()

	if cfg.Sinks.NATS.Enabled || cfg.Ingest.Enabled {
		if err := gw.connectNATS(ctx); err != nil {
			return nil, err
		}
	}

	if err := gw.buildSinks(ctx); err != nil {
		return nil, err
	}

	gw.thread = command.NewThread(command.Config{
		QueueSize:       cfg.Gateway.QueueSize,
		CommandTimeout:  cfg.Gateway.CommandTimeout.Std(),
		ShutdownTimeout: cfg.Gateway.ShutdownTimeout.Std(),
	}, gw.sinks, logger, gw.metrics, gw.registry)
	gw.monitor.Register("command", health.CheckerFunc(gw.threadHealth))

	if cfg.Ingest.Enabled {
		handler := update.NewHandler(gw.thread, logger, gw.metrics)
		if cfg.Ingest.ValidateSchema {
			handler.WithSchemaValidation()
		}
		gw.ingest = update.NewSubscriber(gw.nats, cfg.Ingest.Subject, handler, logger).
			WithRateLimit(cfg.Ingest.RateLimit, cfg.Ingest.Burst)
		gw.monitor.Register("ingest", gw.ingest)
	}

	if cfg.Metrics.Enabled {
		opts := []metric.ServerOption{metric.WithHealthHandler(gw.monitor.Handler(cfg.Gateway.Name))}
		if gw.hub != nil {
			opts = append(opts, metric.WithHandler(cfg.Sinks.WebSocket.Path, gw.hub))
		}
		gw.server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, gw.registry, opts...)
	}

	return gw, nil
}

func (g *gateway) connectNATS(ctx context.Context) error {
	cfg := g.cfg.NATS
	if len(cfg.URLs) == 0 {
		return fmt.Errorf("nats: no url configured")
	}

	opts := []natsclient.ClientOption{
		natsclient.WithLogger(g.logger),
		natsclient.WithMetrics(g.metrics),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait.Std()),
		natsclient.WithName(g.cfg.Gateway.Name),
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.Token))
	case cfg.Username != "":
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}

	client, err := natsclient.NewClient(cfg.URLs[0], opts...)
	if err != nil {
		return fmt.Errorf("create nats client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, natsConnectTimeout)
	defer cancel()
	if err := client.WaitForConnection(waitCtx); err != nil {
		_ = client.Close(context.Background())
		return fmt.Errorf("wait for nats connection: %w", err)
	}
	g.nats = client

	g.monitor.Register("nats", client)

	if cfg.JetStream.Enabled && g.cfg.Sinks.NATS.Enabled {
		if _, err := client.EnsureStream(ctx, g.streamConfig()); err != nil {
			return fmt.Errorf("ensure stream %s: %w", cfg.JetStream.Stream, err)
		}
	}

	g.logger.Info("Connected to NATS", "url", client.URL())
	return nil
}

// streamConfig captures every notification kind under the sink prefix
// and nothing else, so ingest subjects sharing the prefix stay out.
func (g *gateway) streamConfig() jetstream.StreamConfig {
	prefix := g.cfg.Sinks.NATS.SubjectPrefix
	kinds := []notification.Kind{
		notification.KindLifecycle,
		notification.KindMetaData,
		notification.KindData,
		notification.KindAction,
	}
	subjects := make([]string, 0, len(kinds))
	for _, k := range kinds {
		subjects = append(subjects, prefix+"."+k.String()+".>")
	}
	return jetstream.StreamConfig{
		Name:     g.cfg.NATS.JetStream.Stream,
		Subjects: subjects,
		MaxAge:   g.cfg.NATS.JetStream.MaxAge.Std(),
		Storage:  jetstream.FileStorage,
	}
}

// buildSinks assembles the fanout. The in-process bus always comes first
// so local subscribers observe a notification before any broker does.
func (g *gateway) buildSinks(ctx context.Context) error {
	sinks := g.cfg.Sinks
	g.add("bus", g.bus)

	if sinks.Log.Enabled {
		logger := g.logger.With("component", "notifications")
		_, err := g.bus.Subscribe(sinks.Log.Pattern, func(topic string, n notification.Notification) {
			logger.Info("Notification", "topic", topic, "kind", n.Kind().String())
		})
		if err != nil {
			return fmt.Errorf("log sink: %w", err)
		}
	}

	if sinks.NATS.Enabled {
		natsCfg := natsbus.DefaultConfig()
		natsCfg.SubjectPrefix = sinks.NATS.SubjectPrefix
		natsCfg.JetStream = g.cfg.NATS.JetStream.Enabled
		if d := sinks.NATS.DeliverTimeout.Std(); d > 0 {
			natsCfg.DeliverTimeout = d
		}
		s := natsbus.New(g.nats, natsCfg, g.logger, g.metrics)
		g.add("nats", s)
		g.monitor.Register("sink.nats", s)
	}

	if sinks.MQTT.Enabled {
		s, err := mqttbus.Connect(ctx, mqttbus.Config{
			Brokers:        sinks.MQTT.Brokers,
			ClientID:       sinks.MQTT.ClientID,
			Username:       sinks.MQTT.Username,
			Password:       sinks.MQTT.Password,
			TopicPrefix:    sinks.MQTT.TopicPrefix,
			QoS:            sinks.MQTT.QoS,
			Retain:         sinks.MQTT.Retain,
			KeepAlive:      sinks.MQTT.KeepAlive,
			PublishTimeout: sinks.MQTT.PublishTimeout.Std(),
		}, g.logger, g.metrics)
		if err != nil {
			return fmt.Errorf("mqtt sink: %w", err)
		}
		g.mqtt = s
		g.add("mqtt", s)
		g.monitor.Register("sink.mqtt", s)
	}

	if sinks.AMQP.Enabled {
		s := amqpbus.New(amqpbus.Config{
			URL:            sinks.AMQP.URL,
			Exchange:       sinks.AMQP.Exchange,
			ConnectTimeout: sinks.AMQP.ConnectTimeout.Std(),
		}, g.logger, g.metrics)
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("amqp sink: %w", err)
		}
		g.amqp = s
		g.add("amqp", s)
		g.monitor.Register("sink.amqp", s)
	}

	if sinks.WebSocket.Enabled {
		g.hub = wsbus.NewHub(sinks.WebSocket.SendBuffer, g.logger, g.metrics)
		g.add("websocket", g.hub)
		g.monitor.Register("sink.websocket", g.hub)
	}

	if sinks.History.Enabled {
		s, err := history.Open(sinks.History.Path, g.logger, g.metrics)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		g.history = s
		g.add("history", s)
		g.monitor.Register("sink.history", s)
	}

	return nil
}

func (g *gateway) add(name string, s notification.Sink) {
	g.sinks = append(g.sinks, s)
	g.names = append(g.names, name)
}

func (g *gateway) sinkNames() []string {
	return g.names
}

func (g *gateway) threadHealth() health.Status {
	stats := g.thread.Stats()
	status := health.NewHealthy("command", "accepting commands")
	if stats.QueueSize > 0 && stats.QueueDepth*10 >= stats.QueueSize*9 {
		status = health.NewDegraded("command", fmt.Sprintf("queue %d/%d", stats.QueueDepth, stats.QueueSize))
	}
	return status.WithMetrics(&health.Metrics{
		Published:  stats.Processed,
		ErrorCount: stats.Failed,
	})
}

func (g *gateway) start(ctx context.Context) error {
	// The thread outlives the signal context so shutdown can drain it.
	if err := g.thread.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start command thread: %w", err)
	}

	if g.ingest != nil {
		// Messages in flight at the signal still get applied.
		if err := g.ingest.Start(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("start ingest: %w", err)
		}
	}

	if g.server != nil {
		go func() {
			if err := g.server.Start(); err != nil {
				g.serverErr <- err
			}
		}()
		g.logger.Info("Metrics server listening",
			"port", g.cfg.Metrics.Port,
			"path", g.cfg.Metrics.Path)
	}
	return nil
}

// shutdown stops intake first, then drains the command thread before the
// sinks it delivers to are closed.
func (g *gateway) shutdown(ctx context.Context) error {
	var errList []error

	if g.ingest != nil {
		if err := g.ingest.Stop(ctx); err != nil {
			errList = append(errList, fmt.Errorf("stop ingest: %w", err))
		}
	}

	if g.thread != nil {
		if err := g.thread.Stop(); err != nil {
			errList = append(errList, fmt.Errorf("stop command thread: %w", err))
		}
	}

	if g.server != nil {
		if err := g.server.Stop(ctx); err != nil {
			errList = append(errList, fmt.Errorf("stop metrics server: %w", err))
		}
	}

	if err := g.closeSinks(ctx); err != nil {
		errList = append(errList, err)
	}

	return errors.Join(errList...)
}

// closeSinks closes the remote sinks and the history concurrently, then the
// NATS connection they may share.
func (g *gateway) closeSinks(ctx context.Context) error {
	if g.hub != nil {
		g.hub.Close()
	}

	var eg errgroup.Group
	closeSink := func(name string, close func() error) {
		eg.Go(func() error {
			if err := close(); err != nil {
				g.logger.Error("Failed to close sink", "sink", name, "error", err)
				return fmt.Errorf("close %s sink: %w", name, err)
			}
			return nil
		})
	}
	if g.mqtt != nil {
		closeSink("mqtt", func() error { return g.mqtt.Close(ctx) })
	}
	if g.amqp != nil {
		closeSink("amqp", g.amqp.Close)
	}
	if g.history != nil {
		closeSink("history", g.history.Close)
	}
	err := eg.Wait()

	if g.nats != nil {
		if nerr := g.nats.Close(ctx); nerr != nil {
			err = errors.Join(err, fmt.Errorf("close nats: %w", nerr))
		}
	}
	return err
}
