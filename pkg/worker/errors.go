package worker

import (
	"errors"
	"fmt"

	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
)

// Pool errors. ErrQueueFull and ErrPoolStopped wrap the shared sentinels so
// callers can classify them without importing this package.
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrPoolStopped        = fmt.Errorf("worker pool stopped: %w", errs.ErrShuttingDown)
	ErrQueueFull          = fmt.Errorf("worker pool: %w", errs.ErrQueueFull)
	ErrNilProcessor       = errors.New("processor function cannot be nil")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")
	ErrProcessorPanic     = errors.New("worker processor panicked")
)
