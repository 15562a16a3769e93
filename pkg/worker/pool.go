// Package worker provides a generic worker pool for concurrent task processing
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/metric"
)

// Pool processes work items of type T on a fixed number of goroutines.
// A pool with a single worker executes items strictly in submission order.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	onError   func(T, error)
	logger    *slog.Logger

	workChan chan T
	metrics  *Metrics
	wg       sync.WaitGroup

	lifecycleMu sync.RWMutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panicked  atomic.Int64

	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// Metrics holds Prometheus metrics for worker pool monitoring
type Metrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers the pool metrics under prefix
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// WithLogger sets the logger used for processor failures and panics
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithErrorHandler is called with the item and error whenever processing
// fails, including when the processor panics.
func WithErrorHandler[T any](fn func(T, error)) Option[T] {
	return func(p *Pool[T]) {
		p.onError = fn
	}
}

// NewPool creates a new generic worker pool with optional configuration
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		logger:    slog.Default(),
		workChan:  make(chan T, queueSize),
	}

	for _, opt := range opts {
		opt(pool)
	}

	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		pool.initializeMetrics()
	}

	return pool
}

func (p *Pool[T]) initializeMetrics() {
	prefix := p.metricsPrefix
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensinact",
			Name:      prefix + "_queue_depth",
			Help:      "Current worker pool queue depth",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensinact",
			Name:      prefix + "_submitted_total",
			Help:      "Total work items submitted",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensinact",
			Name:      prefix + "_processed_total",
			Help:      "Total work items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensinact",
			Name:      prefix + "_failed_total",
			Help:      "Total work items that failed processing",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensinact",
			Name:      prefix + "_dropped_total",
			Help:      "Total work items rejected because the queue was full",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sensinact",
			Name:      prefix + "_processing_duration_seconds",
			Help:      "Time spent processing work items",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}

	const component = "worker_pool"
	registrations := []error{
		p.metricsRegistry.RegisterGauge(component, prefix+"_queue_depth", m.queueDepth),
		p.metricsRegistry.RegisterCounter(component, prefix+"_submitted_total", m.submitted),
		p.metricsRegistry.RegisterCounter(component, prefix+"_processed_total", m.processed),
		p.metricsRegistry.RegisterCounter(component, prefix+"_failed_total", m.failed),
		p.metricsRegistry.RegisterCounter(component, prefix+"_dropped_total", m.dropped),
		p.metricsRegistry.RegisterHistogramVec(component, prefix+"_processing_duration_seconds", m.processingTime),
	}
	for _, err := range registrations {
		if err != nil {
			p.logger.Warn("Worker pool metric registration failed", "prefix", prefix, "error", err)
		}
	}

	p.metrics = m
}

// Submit queues work without blocking. Returns ErrQueueFull when the queue
// is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if err := p.checkRunning(); err != nil {
		return err
	}

	select {
	case p.workChan <- work:
		p.accepted()
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// SubmitWait queues work, waiting for room in the queue until ctx is done
func (p *Pool[T]) SubmitWait(ctx context.Context, work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if err := p.checkRunning(); err != nil {
		return err
	}

	select {
	case p.workChan <- work:
		p.accepted()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool[T]) checkRunning() error {
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	return nil
}

func (p *Pool[T]) accepted() {
	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}

// Start starts the worker pool
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.started = true
	return nil
}

// Stop closes the queue and waits for the workers to finish the items
// already queued.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
		Panicked:   p.panicked.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	Panicked   int64 `json:"panicked"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.process(ctx, work)
		}
	}
}

// process runs one item. A panicking processor fails the item and leaves
// the worker running.
func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				p.panicked.Add(1)
				err = fmt.Errorf("%w: %v", ErrProcessorPanic, r)
			}
		}()
		return p.processor(ctx, work)
	}()

	p.processed.Add(1)
	status := "success"
	if err != nil {
		status = "error"
		p.failed.Add(1)
		p.logger.Debug("Work item failed", "error", err)
		if p.onError != nil {
			p.onError(work, err)
		}
	}

	if p.metrics != nil {
		p.metrics.processed.Inc()
		if err != nil {
			p.metrics.failed.Inc()
		}
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
		p.metrics.processingTime.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}
