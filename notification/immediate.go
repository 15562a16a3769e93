package notification

import (
	"log/slog"
	"time"

	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
)

// ImmediateAccumulator delivers every notification as soon as it is
// reported. It is used for changes made outside of any transaction, so
// nothing is merged or reordered and CompleteAndSend has nothing to do.
type ImmediateAccumulator struct {
	sink     Sink
	logger   *slog.Logger
	recorder Recorder
}

var _ Accumulator = (*ImmediateAccumulator)(nil)

// NewImmediateAccumulator creates an accumulator delivering straight to sink
func NewImmediateAccumulator(sink Sink, opts ...Option) *ImmediateAccumulator {
	o := buildOptions(opts)
	return &ImmediateAccumulator{sink: sink, logger: o.logger, recorder: o.recorder}
}

func (a *ImmediateAccumulator) AddProvider(path EntityPath) error {
	return a.send(&LifecycleNotification{EntityPath: path, Status: ProviderCreated})
}

func (a *ImmediateAccumulator) RemoveProvider(path EntityPath) error {
	return a.send(&LifecycleNotification{EntityPath: path, Status: ProviderDeleted})
}

func (a *ImmediateAccumulator) AddService(path EntityPath) error {
	return a.send(&LifecycleNotification{EntityPath: path, Status: ServiceCreated})
}

func (a *ImmediateAccumulator) RemoveService(path EntityPath) error {
	return a.send(&LifecycleNotification{EntityPath: path, Status: ServiceDeleted})
}

func (a *ImmediateAccumulator) AddResource(path EntityPath) error {
	return a.send(&LifecycleNotification{EntityPath: path, Status: ResourceCreated})
}

func (a *ImmediateAccumulator) RemoveResource(path EntityPath) error {
	return a.send(&LifecycleNotification{EntityPath: path, Status: ResourceDeleted})
}

func (a *ImmediateAccumulator) MetadataValueUpdate(path EntityPath, oldValues, newValues map[string]any, ts time.Time) error {
	if ts.IsZero() {
		a.recorder.RecordUpdateRejected(KindMetaData.String(), "missing_timestamp")
		return errs.WrapInvalid(ErrMissingTimestamp, "ImmediateAccumulator", "MetadataValueUpdate", "validate update")
	}
	return a.send(&ResourceMetaDataNotification{
		EntityPath: path,
		OldValues:  cloneOrEmpty(oldValues),
		NewValues:  cloneOrEmpty(newValues),
		Timestamp:  ts,
	})
}

func (a *ImmediateAccumulator) ResourceValueUpdate(path EntityPath, oldValue, newValue any, ts time.Time) error {
	return a.TypedResourceValueUpdate(path, "", oldValue, newValue, ts)
}

func (a *ImmediateAccumulator) TypedResourceValueUpdate(path EntityPath, typ string, oldValue, newValue any, ts time.Time) error {
	if ts.IsZero() {
		a.recorder.RecordUpdateRejected(KindData.String(), "missing_timestamp")
		return errs.WrapInvalid(ErrMissingTimestamp, "ImmediateAccumulator", "ResourceValueUpdate", "validate update")
	}
	if typ == "" {
		typ = valueType(oldValue, newValue)
	}
	return a.send(&ResourceDataNotification{
		EntityPath: path,
		Type:       typ,
		OldValue:   oldValue,
		NewValue:   newValue,
		Timestamp:  ts,
	})
}

func (a *ImmediateAccumulator) ResourceAction(path EntityPath, ts time.Time) error {
	if ts.IsZero() {
		a.recorder.RecordUpdateRejected(KindAction.String(), "missing_timestamp")
		return errs.WrapInvalid(ErrMissingTimestamp, "ImmediateAccumulator", "ResourceAction", "validate action")
	}
	return a.send(&ResourceActionNotification{EntityPath: path, Timestamp: ts})
}

// CompleteAndSend is a no-op; every notification has already been sent.
func (a *ImmediateAccumulator) CompleteAndSend() error {
	return nil
}

func (a *ImmediateAccumulator) send(n Notification) error {
	a.sink.Deliver(n.Topic(), n)
	a.recorder.RecordNotificationDelivered(n.Kind().String())
	a.logger.Debug("Notification sent outside transaction", "topic", n.Topic())
	return nil
}
