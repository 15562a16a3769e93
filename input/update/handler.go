package update

import (
	"context"
	"log/slog"
	"time"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/command"
	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/metric"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/twin"
)

// Executor runs commands; *command.Thread implements it
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) (any, error)
}

// Handler applies update messages, one transaction per message
type Handler struct {
	exec    Executor
	logger  *slog.Logger
	metrics *metric.Metrics
	now     func() time.Time

	validate bool
}

// NewHandler creates a handler submitting to exec
func NewHandler(exec Executor, logger *slog.Logger, metrics *metric.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		exec:    exec,
		logger:  logger.With("component", "update"),
		metrics: metrics,
		now:     time.Now,
	}
}

// WithSchemaValidation makes the handler check every message against
// Schema before decoding it
func (h *Handler) WithSchemaValidation() *Handler {
	h.validate = true
	return h
}

// Handle decodes data and applies every update it holds in a single
// command. Either all updates take effect or none does. It returns the
// number of updates applied.
func (h *Handler) Handle(ctx context.Context, data []byte) (int, error) {
	if h.validate {
		if err := ValidateSchema(data); err != nil {
			h.metrics.RecordUpdateReceived("invalid")
			return 0, err
		}
	}

	updates, err := Decode(data)
	if err != nil {
		h.metrics.RecordUpdateReceived("invalid")
		return 0, err
	}

	_, err = h.exec.Execute(ctx, func(_ context.Context, tw *twin.Twin, acc notification.Accumulator) (any, error) {
		for i := range updates {
			if err := updates[i].Apply(tw, acc, h.now); err != nil {
				h.logger.Debug("Update rejected",
					"index", i,
					"path", updates[i].Path().String(),
					"error", err)
				return nil, err
			}
		}
		return len(updates), nil
	})
	if err != nil {
		if errs.IsInvalid(err) {
			h.metrics.RecordUpdateReceived("rejected")
		} else {
			h.metrics.RecordUpdateReceived("failed")
		}
		return 0, err
	}

	h.metrics.RecordUpdateReceived("applied")
	return len(updates), nil
}
