package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
)

func noopProcessor(_ context.Context, _ testWork) error { return nil }

func TestPool_SubmitBeforeStart(t *testing.T) {
	pool := NewPool(1, 4, noopProcessor)

	if err := pool.Submit(testWork{id: 1}); !errors.Is(err, ErrPoolNotStarted) {
		t.Errorf("Submit: expected ErrPoolNotStarted, got %v", err)
	}
	if err := pool.SubmitWait(context.Background(), testWork{id: 1}); !errors.Is(err, ErrPoolNotStarted) {
		t.Errorf("SubmitWait: expected ErrPoolNotStarted, got %v", err)
	}
}

func TestPool_StartTwice(t *testing.T) {
	pool := NewPool(1, 4, noopProcessor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(time.Second)

	if err := pool.Start(context.Background()); !errors.Is(err, ErrPoolAlreadyStarted) {
		t.Errorf("expected ErrPoolAlreadyStarted, got %v", err)
	}
}

func TestPool_SubmitAfterStopIsShuttingDown(t *testing.T) {
	pool := NewPool(1, 4, noopProcessor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	err := pool.Submit(testWork{id: 1})
	if !errors.Is(err, ErrPoolStopped) || !errors.Is(err, errs.ErrShuttingDown) {
		t.Errorf("expected ErrPoolStopped wrapping ErrShuttingDown, got %v", err)
	}
	if err := pool.SubmitWait(context.Background(), testWork{id: 1}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("SubmitWait: expected ErrPoolStopped, got %v", err)
	}
	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}

func TestPool_QueueFullIsTransient(t *testing.T) {
	release := make(chan struct{})
	var running atomic.Bool
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		running.Store(true)
		<-release
		return nil
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(time.Second)
	defer close(release)

	if err := pool.Submit(testWork{id: 1}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for !running.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := pool.Submit(testWork{id: 2}); err != nil {
		t.Fatalf("second Submit should fill the queue: %v", err)
	}

	err := pool.Submit(testWork{id: 3})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if !errs.IsTransient(err) {
		t.Errorf("queue full should classify as transient: %v", err)
	}
	if got := pool.Stats().Dropped; got != 1 {
		t.Errorf("expected 1 dropped item, got %d", got)
	}
}

func TestPool_StopTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	pool := NewPool(1, 4, func(ctx context.Context, _ testWork) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = pool.Submit(testWork{id: 1})
	<-started

	if err := pool.Stop(20 * time.Millisecond); !errors.Is(err, ErrStopTimeout) {
		t.Errorf("expected ErrStopTimeout, got %v", err)
	}
}

func TestNewPool_NilProcessorPanics(t *testing.T) {
	defer func() {
		err, ok := recover().(error)
		if !ok || !errors.Is(err, ErrNilProcessor) {
			t.Errorf("expected panic with ErrNilProcessor, got %v", err)
		}
	}()
	NewPool[testWork](1, 4, nil)
}
