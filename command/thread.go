package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/metric"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/pkg/worker"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/twin"
)

// Command is a unit of work run against the twin inside one transaction.
// Every change it makes must be reported to acc.
type Command func(ctx context.Context, tw *twin.Twin, acc notification.Accumulator) (any, error)

// ErrCommandPanic is returned when a command panics
var ErrCommandPanic = errors.New("command panicked")

// Config controls the command thread
type Config struct {
	QueueSize       int
	CommandTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the thread defaults
func DefaultConfig() Config {
	return Config{
		QueueSize:       1024,
		CommandTimeout:  5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

type result struct {
	value any
	err   error
}

type task struct {
	ctx    context.Context
	cmd    Command
	result chan result
}

// Thread runs commands one at a time against the twin it owns. A
// successful command has its notifications delivered to the sink; a failed
// command is rolled back and delivers nothing.
type Thread struct {
	config  Config
	twin    *twin.Twin
	sink    notification.Sink
	logger  *slog.Logger
	metrics *metric.Metrics
	pool    *worker.Pool[*task]
}

// NewThread creates a stopped thread delivering to sink. logger, metrics
// and registry may be nil.
func NewThread(cfg Config, sink notification.Sink, logger *slog.Logger, metrics *metric.Metrics, registry *metric.MetricsRegistry) *Thread {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	t := &Thread{
		config:  cfg,
		twin:    twin.New(),
		sink:    sink,
		logger:  logger.With("component", "command"),
		metrics: metrics,
	}

	opts := []worker.Option[*task]{worker.WithLogger[*task](t.logger)}
	if registry != nil {
		opts = append(opts, worker.WithMetricsRegistry[*task](registry, "command"))
	}
	t.pool = worker.NewPool(1, cfg.QueueSize, t.run, opts...)
	return t
}

// Start starts the gateway thread
func (t *Thread) Start(ctx context.Context) error {
	if err := t.pool.Start(ctx); err != nil {
		return errs.WrapFatal(err, "Thread", "Start", "start worker")
	}
	t.logger.Info("Command thread started", "queue_size", t.config.QueueSize)
	return nil
}

// Stop runs the queued commands and stops the thread
func (t *Thread) Stop() error {
	if err := t.pool.Stop(t.config.ShutdownTimeout); err != nil {
		return errs.Wrap(err, "Thread", "Stop", "stop worker")
	}
	t.logger.Info("Command thread stopped", "stats", t.pool.Stats())
	return nil
}

// Execute queues cmd and waits for its result. It fails immediately with
// errors.ErrQueueFull when the queue is full and returns ctx.Err() when ctx
// ends first; in that case the command may still run.
func (t *Thread) Execute(ctx context.Context, cmd Command) (any, error) {
	if cmd == nil {
		return nil, errs.WrapInvalid(errs.ErrInvalidData, "Thread", "Execute", "nil command")
	}

	tk := &task{ctx: ctx, cmd: cmd, result: make(chan result, 1)}
	if err := t.pool.Submit(tk); err != nil {
		if errors.Is(err, errs.ErrQueueFull) {
			return nil, errs.WrapTransient(err, "Thread", "Execute", "submit command")
		}
		if errors.Is(err, errs.ErrShuttingDown) {
			return nil, errs.WrapFatal(err, "Thread", "Execute", "submit command")
		}
		return nil, errs.Wrap(err, "Thread", "Execute", "submit command")
	}
	t.metrics.RecordCommandQueueDepth(t.pool.Stats().QueueDepth)

	select {
	case r := <-tk.result:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Immediate returns an accumulator delivering straight to the sink, for
// changes made outside of a command.
func (t *Thread) Immediate() notification.Accumulator {
	opts := []notification.Option{notification.WithLogger(t.logger)}
	if t.metrics != nil {
		opts = append(opts, notification.WithRecorder(t.metrics))
	}
	return notification.NewImmediateAccumulator(t.sink, opts...)
}

// Stats returns the worker statistics
func (t *Thread) Stats() worker.PoolStats {
	return t.pool.Stats()
}

func (t *Thread) run(_ context.Context, tk *task) error {
	if err := tk.ctx.Err(); err != nil {
		tk.result <- result{err: err}
		t.metrics.RecordTransaction("cancelled", 0)
		return err
	}

	ctx := tk.ctx
	if t.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.CommandTimeout)
		defer cancel()
	}

	txID := uuid.NewString()
	opts := []notification.Option{
		notification.WithLogger(t.logger),
		notification.WithTransactionID(txID),
	}
	if t.metrics != nil {
		opts = append(opts, notification.WithRecorder(t.metrics))
	}
	acc := notification.NewAccumulator(t.sink, opts...)

	start := time.Now()
	t.twin.Begin()
	value, err := t.call(ctx, tk.cmd, acc)
	if err != nil {
		t.twin.Rollback()
		t.metrics.RecordTransaction("discarded", time.Since(start))
		t.logger.Debug("Command failed, notifications discarded", "tx", txID, "error", err)
		tk.result <- result{err: err}
		return err
	}

	t.twin.Commit()

	if err := acc.CompleteAndSend(); err != nil {
		t.metrics.RecordTransaction("discarded", time.Since(start))
		tk.result <- result{err: err}
		return err
	}
	t.metrics.RecordTransaction("completed", time.Since(start))
	tk.result <- result{value: value}
	return nil
}

func (t *Thread) call(ctx context.Context, cmd Command, acc notification.Accumulator) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Command panicked", "panic", r)
			err = errs.WrapFatal(fmt.Errorf("%w: %v", ErrCommandPanic, r), "Thread", "run", "execute command")
		}
	}()
	return cmd(ctx, t.twin, acc)
}
