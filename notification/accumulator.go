package notification

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"time"

	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
)

var (
	// ErrAlreadyCompleted is returned by every call made on an accumulator
	// after CompleteAndSend.
	ErrAlreadyCompleted = errors.New("accumulator already completed")

	// ErrOutOfOrderUpdate is returned when a metadata or value update is
	// older than the update already queued for the same resource.
	ErrOutOfOrderUpdate = errors.New("update out of temporal order")

	// ErrMissingTimestamp is returned when a timestamped update carries the
	// zero time.
	ErrMissingTimestamp = errors.New("missing timestamp")
)

// Accumulator collects the notifications produced by one transaction and
// delivers them, merged and ordered, when the transaction completes.
type Accumulator interface {
	AddProvider(path EntityPath) error
	RemoveProvider(path EntityPath) error
	AddService(path EntityPath) error
	RemoveService(path EntityPath) error
	AddResource(path EntityPath) error
	RemoveResource(path EntityPath) error
	MetadataValueUpdate(path EntityPath, oldValues, newValues map[string]any, ts time.Time) error
	ResourceValueUpdate(path EntityPath, oldValue, newValue any, ts time.Time) error
	ResourceAction(path EntityPath, ts time.Time) error
	CompleteAndSend() error
}

// TypedValueUpdater is implemented by accumulators that can report the
// declared type of a resource instead of the type of its value.
type TypedValueUpdater interface {
	TypedResourceValueUpdate(path EntityPath, typ string, oldValue, newValue any, ts time.Time) error
}

// Recorder receives accumulator statistics. *metric.Metrics implements it.
type Recorder interface {
	RecordNotificationQueued(kind string)
	RecordNotificationMerged(kind string)
	RecordLifecycleCancelled()
	RecordUpdateRejected(kind, reason string)
	RecordNotificationDelivered(kind string)
}

type nopRecorder struct{}

func (nopRecorder) RecordNotificationQueued(string) {}
func (nopRecorder) RecordNotificationMerged(string) {}
func (nopRecorder) RecordLifecycleCancelled() {}
func (nopRecorder) RecordUpdateRejected(string, string) {}
func (nopRecorder) RecordNotificationDelivered(string) {}

// Option configures an accumulator
type Option func(*options)

type options struct {
	logger   *slog.Logger
	recorder Recorder
	txID     string
}

// WithLogger sets the logger used for debug traces
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder sets the statistics recorder
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithTransactionID tags log records with the transaction identifier
func WithTransactionID(id string) Option {
	return func(o *options) {
		o.txID = id
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.txID != "" {
		o.logger = o.logger.With("tx", o.txID)
	}
	return o
}

// BatchAccumulator is the transaction accumulator. Lifecycle events on the
// same entity are collapsed, metadata and value updates are debounced to the
// first old value and the last new value, and actions are kept in time
// order. Nothing reaches the sink before CompleteAndSend.
//
// A BatchAccumulator is used by a single goroutine and is not safe for
// concurrent use.
type BatchAccumulator struct {
	sink      Sink
	logger    *slog.Logger
	recorder  Recorder
	pending   map[Key][]Notification
	completed bool
}

var _ Accumulator = (*BatchAccumulator)(nil)

// NewAccumulator creates an accumulator delivering to sink
func NewAccumulator(sink Sink, opts ...Option) *BatchAccumulator {
	o := buildOptions(opts)
	return &BatchAccumulator{
		sink:     sink,
		logger:   o.logger,
		recorder: o.recorder,
		pending:  make(map[Key][]Notification),
	}
}

// AddProvider queues a provider creation
func (a *BatchAccumulator) AddProvider(path EntityPath) error {
	return a.lifecycle("AddProvider", path, ProviderCreated)
}

// RemoveProvider queues a provider deletion
func (a *BatchAccumulator) RemoveProvider(path EntityPath) error {
	return a.lifecycle("RemoveProvider", path, ProviderDeleted)
}

// AddService queues a service creation
func (a *BatchAccumulator) AddService(path EntityPath) error {
	return a.lifecycle("AddService", path, ServiceCreated)
}

// RemoveService queues a service deletion
func (a *BatchAccumulator) RemoveService(path EntityPath) error {
	return a.lifecycle("RemoveService", path, ServiceDeleted)
}

// AddResource queues a resource creation
func (a *BatchAccumulator) AddResource(path EntityPath) error {
	return a.lifecycle("AddResource", path, ResourceCreated)
}

// RemoveResource queues a resource deletion
func (a *BatchAccumulator) RemoveResource(path EntityPath) error {
	return a.lifecycle("RemoveResource", path, ResourceDeleted)
}

// lifecycle merges a lifecycle event into the entry of its entity. The entry
// holds at most the state at transaction start and the latest state:
//
//	repeated status        -> replaces the latest, baseline kept
//	delete after create    -> cancels, nothing is delivered
//	delete after a pair    -> the delete alone
//	anything else          -> baseline followed by the new event
func (a *BatchAccumulator) lifecycle(method string, path EntityPath, status Status) error {
	if err := a.checkOpen(method); err != nil {
		return err
	}

	key := KeyOf(KindLifecycle, path)
	n := &LifecycleNotification{EntityPath: path, Status: status}

	prev, ok := a.pending[key]
	if !ok {
		a.pending[key] = []Notification{n}
		a.recorder.RecordNotificationQueued(KindLifecycle.String())
		return nil
	}

	last := prev[len(prev)-1].(*LifecycleNotification)
	switch {
	case last.Status == status:
		if len(prev) == 2 {
			a.pending[key] = []Notification{prev[0], n}
		} else {
			a.pending[key] = []Notification{n}
		}
		a.recorder.RecordNotificationMerged(KindLifecycle.String())
	case status.IsDelete():
		if len(prev) == 1 {
			delete(a.pending, key)
			a.recorder.RecordLifecycleCancelled()
			a.logger.Debug("Lifecycle events cancelled", "path", path.String(), "status", string(status))
		} else {
			a.pending[key] = []Notification{n}
			a.recorder.RecordNotificationMerged(KindLifecycle.String())
		}
	default:
		a.pending[key] = []Notification{prev[0], n}
		a.recorder.RecordNotificationMerged(KindLifecycle.String())
	}
	return nil
}

// MetadataValueUpdate queues a metadata change of a resource. Successive
// updates keep the old values of the first one and the new values and
// timestamp of the last one. Nil maps are treated as empty.
func (a *BatchAccumulator) MetadataValueUpdate(path EntityPath, oldValues, newValues map[string]any, ts time.Time) error {
	const method = "MetadataValueUpdate"
	if err := a.checkOpen(method); err != nil {
		return err
	}
	if ts.IsZero() {
		a.recorder.RecordUpdateRejected(KindMetaData.String(), "missing_timestamp")
		return errs.WrapInvalid(ErrMissingTimestamp, "Accumulator", method, "validate update")
	}

	key := KeyOf(KindMetaData, path)
	n := &ResourceMetaDataNotification{
		EntityPath: path,
		OldValues:  cloneOrEmpty(oldValues),
		NewValues:  cloneOrEmpty(newValues),
		Timestamp:  ts,
	}

	prev, ok := a.pending[key]
	if !ok {
		a.pending[key] = []Notification{n}
		a.recorder.RecordNotificationQueued(KindMetaData.String())
		return nil
	}

	queued := prev[0].(*ResourceMetaDataNotification)
	if queued.Timestamp.After(ts) {
		return a.rejectOutOfOrder(method, KindMetaData, path, queued.Timestamp, ts)
	}
	n.OldValues = queued.OldValues
	a.pending[key] = []Notification{n}
	a.recorder.RecordNotificationMerged(KindMetaData.String())
	return nil
}

// ResourceValueUpdate queues a value change of a resource. Successive
// updates keep the old value of the first one and the new value and
// timestamp of the last one.
func (a *BatchAccumulator) ResourceValueUpdate(path EntityPath, oldValue, newValue any, ts time.Time) error {
	return a.resourceValueUpdate("ResourceValueUpdate", path, valueType(oldValue, newValue), oldValue, newValue, ts)
}

// TypedResourceValueUpdate is ResourceValueUpdate with a declared type name.
// An empty typ falls back to the type of the values.
func (a *BatchAccumulator) TypedResourceValueUpdate(path EntityPath, typ string, oldValue, newValue any, ts time.Time) error {
	if typ == "" {
		typ = valueType(oldValue, newValue)
	}
	return a.resourceValueUpdate("TypedResourceValueUpdate", path, typ, oldValue, newValue, ts)
}

func (a *BatchAccumulator) resourceValueUpdate(method string, path EntityPath, typ string, oldValue, newValue any, ts time.Time) error {
	if err := a.checkOpen(method); err != nil {
		return err
	}
	if ts.IsZero() {
		a.recorder.RecordUpdateRejected(KindData.String(), "missing_timestamp")
		return errs.WrapInvalid(ErrMissingTimestamp, "Accumulator", method, "validate update")
	}

	key := KeyOf(KindData, path)
	n := &ResourceDataNotification{
		EntityPath: path,
		Type:       typ,
		OldValue:   oldValue,
		NewValue:   newValue,
		Timestamp:  ts,
	}

	prev, ok := a.pending[key]
	if !ok {
		a.pending[key] = []Notification{n}
		a.recorder.RecordNotificationQueued(KindData.String())
		return nil
	}

	queued := prev[0].(*ResourceDataNotification)
	if queued.Timestamp.After(ts) {
		return a.rejectOutOfOrder(method, KindData, path, queued.Timestamp, ts)
	}
	n.OldValue = queued.OldValue
	if n.Type == "" {
		n.Type = queued.Type
	}
	a.pending[key] = []Notification{n}
	a.recorder.RecordNotificationMerged(KindData.String())
	return nil
}

// ResourceAction queues an action invocation. Every invocation is kept; the
// entry stays sorted by timestamp and equal timestamps keep call order.
func (a *BatchAccumulator) ResourceAction(path EntityPath, ts time.Time) error {
	const method = "ResourceAction"
	if err := a.checkOpen(method); err != nil {
		return err
	}
	if ts.IsZero() {
		a.recorder.RecordUpdateRejected(KindAction.String(), "missing_timestamp")
		return errs.WrapInvalid(ErrMissingTimestamp, "Accumulator", method, "validate action")
	}

	key := KeyOf(KindAction, path)
	n := &ResourceActionNotification{EntityPath: path, Timestamp: ts}

	list := a.pending[key]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].(*ResourceActionNotification).Timestamp.After(ts)
	})
	a.pending[key] = slices.Insert(list, i, Notification(n))
	a.recorder.RecordNotificationQueued(KindAction.String())
	return nil
}

// CompleteAndSend delivers every pending notification to the sink, in key
// order and then entry order, and closes the accumulator. It may be called
// once.
func (a *BatchAccumulator) CompleteAndSend() error {
	if err := a.checkOpen("CompleteAndSend"); err != nil {
		return err
	}
	a.completed = true

	keys := slices.SortedFunc(maps.Keys(a.pending), Key.Compare)

	delivered := 0
	for _, key := range keys {
		for _, n := range a.pending[key] {
			a.sink.Deliver(n.Topic(), n)
			a.recorder.RecordNotificationDelivered(key.Kind.String())
			delivered++
		}
	}
	a.pending = nil

	a.logger.Debug("Transaction notifications sent", "keys", len(keys), "notifications", delivered)
	return nil
}

func (a *BatchAccumulator) checkOpen(method string) error {
	if a.completed {
		return errs.WrapFatal(ErrAlreadyCompleted, "Accumulator", method, "check state")
	}
	return nil
}

func (a *BatchAccumulator) rejectOutOfOrder(method string, kind Kind, path EntityPath, queued, ts time.Time) error {
	a.recorder.RecordUpdateRejected(kind.String(), "out_of_order")
	a.logger.Debug("Rejected out of order update",
		"path", path.String(),
		"kind", kind.String(),
		"queued", queued,
		"received", ts)
	err := fmt.Errorf("%w: %s update for %s at %s precedes queued update at %s",
		ErrOutOfOrderUpdate, kind, path, ts.Format(time.RFC3339Nano), queued.Format(time.RFC3339Nano))
	return errs.WrapInvalid(err, "Accumulator", method, "merge update")
}

func cloneOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}
