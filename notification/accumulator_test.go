package notification_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/testutil"
)

const (
	model     = "model"
	provider  = "provider"
	provider2 = "provider2"
	service   = "service"
	service2  = "service2"
	resource  = "resource"
	resource2 = "resource2"
)

type lifecycleLevel struct {
	name    string
	path    notification.EntityPath
	topic   string
	add     func(notification.Accumulator, notification.EntityPath) error
	remove  func(notification.Accumulator, notification.EntityPath) error
	created notification.Status
	deleted notification.Status
}

func lifecycleLevels() []lifecycleLevel {
	return []lifecycleLevel{
		{
			name:    "provider",
			path:    notification.ProviderPath(model, provider),
			topic:   "LIFECYCLE/model/provider",
			add:     notification.Accumulator.AddProvider,
			remove:  notification.Accumulator.RemoveProvider,
			created: notification.ProviderCreated,
			deleted: notification.ProviderDeleted,
		},
		{
			name:    "service",
			path:    notification.ServicePath(model, provider, service),
			topic:   "LIFECYCLE/model/provider/service",
			add:     notification.Accumulator.AddService,
			remove:  notification.Accumulator.RemoveService,
			created: notification.ServiceCreated,
			deleted: notification.ServiceDeleted,
		},
		{
			name:    "resource",
			path:    notification.ResourcePath(model, provider, service, resource),
			topic:   "LIFECYCLE/model/provider/service/resource",
			add:     notification.Accumulator.AddResource,
			remove:  notification.Accumulator.RemoveResource,
			created: notification.ResourceCreated,
			deleted: notification.ResourceDeleted,
		},
	}
}

func statuses(t *testing.T, sink *testutil.RecordingSink) []notification.Status {
	t.Helper()
	var out []notification.Status
	for _, n := range sink.Notifications() {
		ln, ok := n.(*notification.LifecycleNotification)
		require.True(t, ok, "expected lifecycle notification, got %T", n)
		out = append(out, ln.Status)
	}
	return out
}

func TestBatchAccumulator_LifecycleMerging(t *testing.T) {
	const add, remove = true, false

	tests := []struct {
		name string
		ops  []bool
		want func(created, deleted notification.Status) []notification.Status
	}{
		{
			name: "add",
			ops:  []bool{add},
			want: func(c, _ notification.Status) []notification.Status { return []notification.Status{c} },
		},
		{
			name: "remove",
			ops:  []bool{remove},
			want: func(_, d notification.Status) []notification.Status { return []notification.Status{d} },
		},
		{
			name: "add then remove cancels",
			ops:  []bool{add, remove},
			want: func(_, _ notification.Status) []notification.Status { return nil },
		},
		{
			name: "remove then add keeps both",
			ops:  []bool{remove, add},
			want: func(c, d notification.Status) []notification.Status { return []notification.Status{d, c} },
		},
		{
			name: "add twice collapses",
			ops:  []bool{add, add},
			want: func(c, _ notification.Status) []notification.Status { return []notification.Status{c} },
		},
		{
			name: "remove twice collapses",
			ops:  []bool{remove, remove},
			want: func(_, d notification.Status) []notification.Status { return []notification.Status{d} },
		},
		{
			name: "remove add remove leaves the remove",
			ops:  []bool{remove, add, remove},
			want: func(_, d notification.Status) []notification.Status { return []notification.Status{d} },
		},
		{
			name: "remove add add keeps baseline",
			ops:  []bool{remove, add, add},
			want: func(c, d notification.Status) []notification.Status { return []notification.Status{d, c} },
		},
		{
			name: "add remove add creates again",
			ops:  []bool{add, remove, add},
			want: func(c, _ notification.Status) []notification.Status { return []notification.Status{c} },
		},
	}

	for _, level := range lifecycleLevels() {
		for _, tt := range tests {
			t.Run(level.name+"/"+tt.name, func(t *testing.T) {
				sink := testutil.NewRecordingSink()
				acc := notification.NewAccumulator(sink)

				for _, op := range tt.ops {
					if op == add {
						require.NoError(t, level.add(acc, level.path))
					} else {
						require.NoError(t, level.remove(acc, level.path))
					}
				}
				require.NoError(t, acc.CompleteAndSend())

				want := tt.want(level.created, level.deleted)
				assert.Equal(t, want, statuses(t, sink))
				for _, topic := range sink.Topics() {
					assert.Equal(t, level.topic, topic)
				}
			})
		}
	}
}

func TestBatchAccumulator_LifecycleNotificationContent(t *testing.T) {
	sink := testutil.NewRecordingSink()
	acc := notification.NewAccumulator(sink)

	path := notification.ResourcePath(model, provider, service, resource).WithPackageURI("https://eclipse.org/sensinact/test")
	require.NoError(t, acc.AddResource(path))
	require.NoError(t, acc.CompleteAndSend())

	require.Equal(t, 1, sink.Len())
	ln := sink.Notifications()[0].(*notification.LifecycleNotification)
	assert.Equal(t, model, ln.Model)
	assert.Equal(t, "https://eclipse.org/sensinact/test", ln.ModelPackageURI)
	assert.Equal(t, provider, ln.Provider)
	assert.Equal(t, service, ln.Service)
	assert.Equal(t, resource, ln.Resource)
	assert.Equal(t, notification.ResourceCreated, ln.Status)
	assert.Nil(t, ln.InitialValue)
	assert.Nil(t, ln.InitialMetadata)
}

func TestBatchAccumulator_LifecycleOrderingAcrossEntities(t *testing.T) {
	t.Run("providers", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.AddProvider(notification.ProviderPath(model, provider2)))
		require.NoError(t, acc.AddProvider(notification.ProviderPath(model, provider)))
		require.NoError(t, acc.CompleteAndSend())

		assert.Equal(t, []string{
			"LIFECYCLE/model/provider",
			"LIFECYCLE/model/provider2",
		}, sink.Topics())
	})

	t.Run("services", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.AddService(notification.ServicePath(model, provider2, service)))
		require.NoError(t, acc.AddService(notification.ServicePath(model, provider, service2)))
		require.NoError(t, acc.AddService(notification.ServicePath(model, provider, service)))
		require.NoError(t, acc.CompleteAndSend())

		assert.Equal(t, []string{
			"LIFECYCLE/model/provider/service",
			"LIFECYCLE/model/provider/service2",
			"LIFECYCLE/model/provider2/service",
		}, sink.Topics())
	})

	t.Run("resources", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.AddResource(notification.ResourcePath(model, provider2, service, resource)))
		require.NoError(t, acc.AddResource(notification.ResourcePath(model, provider, service2, resource)))
		require.NoError(t, acc.AddResource(notification.ResourcePath(model, provider, service, resource2)))
		require.NoError(t, acc.AddResource(notification.ResourcePath(model, provider, service, resource)))
		require.NoError(t, acc.CompleteAndSend())

		assert.Equal(t, []string{
			"LIFECYCLE/model/provider/service/resource",
			"LIFECYCLE/model/provider/service/resource2",
			"LIFECYCLE/model/provider/service2/resource",
			"LIFECYCLE/model/provider2/service/resource",
		}, sink.Topics())
	})
}

func metadataOf(t *testing.T, sink *testutil.RecordingSink) *notification.ResourceMetaDataNotification {
	t.Helper()
	require.Equal(t, 1, sink.Len())
	n, ok := sink.Notifications()[0].(*notification.ResourceMetaDataNotification)
	require.True(t, ok)
	return n
}

func TestBatchAccumulator_MetadataValueUpdate(t *testing.T) {
	now := time.Now()
	path := notification.ResourcePath(model, provider, service, resource)
	foo := map[string]any{"foo": "fizz"}
	fooBar := map[string]any{"foo": "fizz", "bar": 42}
	bar := map[string]any{"bar": 42}

	t.Run("nil maps become empty", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.MetadataValueUpdate(path, nil, nil, now))
		require.NoError(t, acc.CompleteAndSend())

		n := metadataOf(t, sink)
		assert.Equal(t, "METADATA/model/provider/service/resource", sink.Topics()[0])
		assert.Equal(t, map[string]any{}, n.OldValues)
		assert.Equal(t, map[string]any{}, n.NewValues)
		assert.True(t, n.Timestamp.Equal(now))
	})

	t.Run("new metadata", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.MetadataValueUpdate(path, nil, foo, now))
		require.NoError(t, acc.CompleteAndSend())

		n := metadataOf(t, sink)
		assert.Equal(t, map[string]any{}, n.OldValues)
		assert.Equal(t, foo, n.NewValues)
	})

	t.Run("removed metadata", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.MetadataValueUpdate(path, foo, nil, now))
		require.NoError(t, acc.CompleteAndSend())

		n := metadataOf(t, sink)
		assert.Equal(t, foo, n.OldValues)
		assert.Equal(t, map[string]any{}, n.NewValues)
	})

	t.Run("same timestamp merges", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.MetadataValueUpdate(path, nil, foo, now))
		require.NoError(t, acc.MetadataValueUpdate(path, foo, fooBar, now))
		require.NoError(t, acc.CompleteAndSend())

		n := metadataOf(t, sink)
		assert.Equal(t, map[string]any{}, n.OldValues)
		assert.Equal(t, fooBar, n.NewValues)
		assert.True(t, n.Timestamp.Equal(now))
	})

	t.Run("later timestamp wins", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.MetadataValueUpdate(path, nil, foo, now.Add(-10*time.Second)))
		require.NoError(t, acc.MetadataValueUpdate(path, foo, bar, now))
		require.NoError(t, acc.CompleteAndSend())

		n := metadataOf(t, sink)
		assert.Equal(t, map[string]any{}, n.OldValues)
		assert.Equal(t, bar, n.NewValues)
		assert.True(t, n.Timestamp.Equal(now))
	})

	t.Run("earlier timestamp rejected", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.MetadataValueUpdate(path, nil, foo, now))
		err := acc.MetadataValueUpdate(path, foo, bar, now.Add(-10*time.Second))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of temporal order")
		assert.ErrorIs(t, err, notification.ErrOutOfOrderUpdate)
		assert.True(t, errs.IsInvalid(err))

		require.NoError(t, acc.CompleteAndSend())
		n := metadataOf(t, sink)
		assert.Equal(t, foo, n.NewValues)
		assert.True(t, n.Timestamp.Equal(now))
	})

	t.Run("caller map mutation is not observed", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		values := map[string]any{"foo": "fizz"}
		require.NoError(t, acc.MetadataValueUpdate(path, nil, values, now))
		values["foo"] = "buzz"
		require.NoError(t, acc.CompleteAndSend())

		assert.Equal(t, "fizz", metadataOf(t, sink).NewValues["foo"])
	})
}

func dataOf(t *testing.T, sink *testutil.RecordingSink) *notification.ResourceDataNotification {
	t.Helper()
	require.Equal(t, 1, sink.Len())
	n, ok := sink.Notifications()[0].(*notification.ResourceDataNotification)
	require.True(t, ok)
	return n
}

func TestBatchAccumulator_ResourceValueUpdate(t *testing.T) {
	now := time.Now()
	path := notification.ResourcePath(model, provider, service, resource)

	t.Run("nil values", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.ResourceValueUpdate(path, nil, nil, now))
		require.NoError(t, acc.CompleteAndSend())

		n := dataOf(t, sink)
		assert.Equal(t, "DATA/model/provider/service/resource", sink.Topics()[0])
		assert.Nil(t, n.OldValue)
		assert.Nil(t, n.NewValue)
		assert.Empty(t, n.Type)
	})

	t.Run("single value", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.ResourceValueUpdate(path, nil, 5, now))
		require.NoError(t, acc.CompleteAndSend())

		n := dataOf(t, sink)
		assert.Nil(t, n.OldValue)
		assert.Equal(t, 5, n.NewValue)
		assert.Equal(t, "int", n.Type)
		assert.True(t, n.Timestamp.Equal(now))
	})

	t.Run("same timestamp merges", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.ResourceValueUpdate(path, nil, 5, now))
		require.NoError(t, acc.ResourceValueUpdate(path, 5, 14, now))
		require.NoError(t, acc.CompleteAndSend())

		n := dataOf(t, sink)
		assert.Nil(t, n.OldValue)
		assert.Equal(t, 14, n.NewValue)
	})

	t.Run("later timestamp wins", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.ResourceValueUpdate(path, nil, 5, now.Add(-10*time.Second)))
		require.NoError(t, acc.ResourceValueUpdate(path, 5, 14, now))
		require.NoError(t, acc.CompleteAndSend())

		n := dataOf(t, sink)
		assert.Nil(t, n.OldValue)
		assert.Equal(t, 14, n.NewValue)
		assert.True(t, n.Timestamp.Equal(now))
	})

	t.Run("baseline kept over three updates", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.ResourceValueUpdate(path, 1, 2, now))
		require.NoError(t, acc.ResourceValueUpdate(path, 2, 3, now.Add(time.Second)))
		require.NoError(t, acc.ResourceValueUpdate(path, 3, 4, now.Add(2*time.Second)))
		require.NoError(t, acc.CompleteAndSend())

		n := dataOf(t, sink)
		assert.Equal(t, 1, n.OldValue)
		assert.Equal(t, 4, n.NewValue)
		assert.True(t, n.Timestamp.Equal(now.Add(2*time.Second)))
	})

	t.Run("earlier timestamp rejected", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.ResourceValueUpdate(path, nil, 5, now))
		err := acc.ResourceValueUpdate(path, 5, 14, now.Add(-10*time.Second))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of temporal order")
		assert.ErrorIs(t, err, notification.ErrOutOfOrderUpdate)

		require.NoError(t, acc.CompleteAndSend())
		n := dataOf(t, sink)
		assert.Equal(t, 5, n.NewValue)
		assert.True(t, n.Timestamp.Equal(now))
	})

	t.Run("zero timestamp rejected", func(t *testing.T) {
		acc := notification.NewAccumulator(testutil.NewRecordingSink())

		err := acc.ResourceValueUpdate(path, nil, 5, time.Time{})
		require.Error(t, err)
		assert.ErrorIs(t, err, notification.ErrMissingTimestamp)
		assert.True(t, errs.IsInvalid(err))
	})
}

func TestBatchAccumulator_ResourceAction(t *testing.T) {
	now := time.Now()
	path := notification.ResourcePath(model, provider, service, resource)
	const topic = "ACTION/model/provider/service/resource"

	actionTimes := func(sink *testutil.RecordingSink) []time.Time {
		var out []time.Time
		for _, n := range sink.Notifications() {
			out = append(out, n.(*notification.ResourceActionNotification).Timestamp)
		}
		return out
	}

	t.Run("single action", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.ResourceAction(path, now))
		require.NoError(t, acc.CompleteAndSend())

		assert.Equal(t, []string{topic}, sink.Topics())
		assert.Equal(t, []time.Time{now}, actionTimes(sink))
	})

	t.Run("repeated actions are all kept", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.ResourceAction(path, now))
		require.NoError(t, acc.ResourceAction(path, now))
		require.NoError(t, acc.CompleteAndSend())

		assert.Equal(t, []string{topic, topic}, sink.Topics())
	})

	t.Run("in order", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.ResourceAction(path, now.Add(-10*time.Second)))
		require.NoError(t, acc.ResourceAction(path, now))
		require.NoError(t, acc.CompleteAndSend())

		assert.Equal(t, []time.Time{now.Add(-10 * time.Second), now}, actionTimes(sink))
	})

	t.Run("reverse order is sorted", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.ResourceAction(path, now))
		require.NoError(t, acc.ResourceAction(path, now.Add(-10*time.Second)))
		require.NoError(t, acc.CompleteAndSend())

		assert.Equal(t, []time.Time{now.Add(-10 * time.Second), now}, actionTimes(sink))
	})

	t.Run("equal timestamps keep call order", func(t *testing.T) {
		sink := testutil.NewRecordingSink()
		acc := notification.NewAccumulator(sink)

		require.NoError(t, acc.ResourceAction(path, now))
		require.NoError(t, acc.ResourceAction(path, now.Add(-time.Second)))
		require.NoError(t, acc.ResourceAction(path, now))
		require.NoError(t, acc.CompleteAndSend())

		got := sink.Notifications()
		require.Len(t, got, 3)
		assert.True(t, got[0].(*notification.ResourceActionNotification).Timestamp.Equal(now.Add(-time.Second)))
		first := got[1].(*notification.ResourceActionNotification)
		second := got[2].(*notification.ResourceActionNotification)
		assert.True(t, first.Timestamp.Equal(now))
		assert.True(t, second.Timestamp.Equal(now))
		assert.NotSame(t, first, second)
	})
}

func TestBatchAccumulator_FlushOrdering(t *testing.T) {
	now := time.Now()
	sink := testutil.NewRecordingSink()
	acc := notification.NewAccumulator(sink)

	require.NoError(t, acc.ResourceAction(notification.ResourcePath(model, provider, service, resource2), now.Add(-10*time.Second)))
	require.NoError(t, acc.ResourceAction(notification.ResourcePath(model, provider, service, resource), now))
	require.NoError(t, acc.ResourceValueUpdate(notification.ResourcePath(model, provider, service, resource2), nil, 5, now))
	require.NoError(t, acc.ResourceValueUpdate(notification.ResourcePath(model, provider, service, resource), nil, 14, now))
	require.NoError(t, acc.MetadataValueUpdate(notification.ResourcePath(model, provider, service, resource2), nil, map[string]any{"bar": 42}, now))
	require.NoError(t, acc.MetadataValueUpdate(notification.ResourcePath(model, provider, service, resource), nil, map[string]any{"foo": "fizz"}, now))
	require.NoError(t, acc.AddResource(notification.ResourcePath(model, provider2, service2, resource2)))
	require.NoError(t, acc.AddResource(notification.ResourcePath(model, provider2, service2, resource)))
	require.NoError(t, acc.AddResource(notification.ResourcePath(model, provider2, service, resource2)))
	require.NoError(t, acc.AddResource(notification.ResourcePath(model, provider2, service, resource)))
	require.NoError(t, acc.AddResource(notification.ResourcePath(model, provider, service2, resource2)))
	require.NoError(t, acc.AddResource(notification.ResourcePath(model, provider, service2, resource)))
	require.NoError(t, acc.AddResource(notification.ResourcePath(model, provider, service, resource2)))
	require.NoError(t, acc.AddResource(notification.ResourcePath(model, provider, service, resource)))
	require.NoError(t, acc.AddService(notification.ServicePath(model, provider2, service2)))
	require.NoError(t, acc.AddService(notification.ServicePath(model, provider2, service)))
	require.NoError(t, acc.AddService(notification.ServicePath(model, provider, service2)))
	require.NoError(t, acc.AddService(notification.ServicePath(model, provider, service)))
	require.NoError(t, acc.AddProvider(notification.ProviderPath(model, provider2)))
	require.NoError(t, acc.AddProvider(notification.ProviderPath(model, provider)))
	require.NoError(t, acc.CompleteAndSend())

	assert.Equal(t, []string{
		"LIFECYCLE/model/provider",
		"LIFECYCLE/model/provider/service",
		"LIFECYCLE/model/provider/service/resource",
		"LIFECYCLE/model/provider/service/resource2",
		"LIFECYCLE/model/provider/service2",
		"LIFECYCLE/model/provider/service2/resource",
		"LIFECYCLE/model/provider/service2/resource2",
		"LIFECYCLE/model/provider2",
		"LIFECYCLE/model/provider2/service",
		"LIFECYCLE/model/provider2/service/resource",
		"LIFECYCLE/model/provider2/service/resource2",
		"LIFECYCLE/model/provider2/service2",
		"LIFECYCLE/model/provider2/service2/resource",
		"LIFECYCLE/model/provider2/service2/resource2",
		"METADATA/model/provider/service/resource",
		"METADATA/model/provider/service/resource2",
		"DATA/model/provider/service/resource",
		"DATA/model/provider/service/resource2",
		"ACTION/model/provider/service/resource",
		"ACTION/model/provider/service/resource2",
	}, sink.Topics())

	got := sink.Notifications()
	assert.Equal(t, 14, got[16].(*notification.ResourceDataNotification).NewValue)
	assert.Equal(t, 5, got[17].(*notification.ResourceDataNotification).NewValue)
	assert.True(t, got[19].(*notification.ResourceActionNotification).Timestamp.Equal(now.Add(-10*time.Second)))
}

func TestBatchAccumulator_NothingDeliveredBeforeComplete(t *testing.T) {
	sink := testutil.NewRecordingSink()
	acc := notification.NewAccumulator(sink)

	require.NoError(t, acc.AddProvider(notification.ProviderPath(model, provider)))
	require.NoError(t, acc.ResourceValueUpdate(notification.ResourcePath(model, provider, service, resource), nil, 1, time.Now()))
	require.NoError(t, acc.ResourceAction(notification.ResourcePath(model, provider, service, resource), time.Now()))

	assert.Zero(t, sink.Len())
	require.NoError(t, acc.CompleteAndSend())
	assert.Equal(t, 3, sink.Len())
}

func TestBatchAccumulator_EmptyComplete(t *testing.T) {
	sink := testutil.NewRecordingSink()
	acc := notification.NewAccumulator(sink)

	require.NoError(t, acc.CompleteAndSend())
	assert.Zero(t, sink.Len())
}

func TestBatchAccumulator_AlreadyCompleted(t *testing.T) {
	now := time.Now()
	p := notification.ProviderPath(model, provider)
	s := notification.ServicePath(model, provider, service)
	r := notification.ResourcePath(model, provider, service, resource)

	calls := map[string]func(notification.Accumulator) error{
		"AddProvider":         func(a notification.Accumulator) error { return a.AddProvider(p) },
		"RemoveProvider":      func(a notification.Accumulator) error { return a.RemoveProvider(p) },
		"AddService":          func(a notification.Accumulator) error { return a.AddService(s) },
		"RemoveService":       func(a notification.Accumulator) error { return a.RemoveService(s) },
		"AddResource":         func(a notification.Accumulator) error { return a.AddResource(r) },
		"RemoveResource":      func(a notification.Accumulator) error { return a.RemoveResource(r) },
		"MetadataValueUpdate": func(a notification.Accumulator) error { return a.MetadataValueUpdate(r, nil, nil, now) },
		"ResourceValueUpdate": func(a notification.Accumulator) error { return a.ResourceValueUpdate(r, nil, 1, now) },
		"ResourceAction":      func(a notification.Accumulator) error { return a.ResourceAction(r, now) },
		"CompleteAndSend":     func(a notification.Accumulator) error { return a.CompleteAndSend() },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			sink := testutil.NewRecordingSink()
			acc := notification.NewAccumulator(sink)
			require.NoError(t, acc.AddProvider(p))
			require.NoError(t, acc.CompleteAndSend())
			require.Equal(t, 1, sink.Len())

			err := call(acc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, notification.ErrAlreadyCompleted))
			assert.True(t, errs.IsFatal(err))
			assert.Equal(t, 1, sink.Len(), "no delivery after completion")
		})
	}
}

func TestBatchAccumulator_ModelDoesNotSplitEntries(t *testing.T) {
	sink := testutil.NewRecordingSink()
	acc := notification.NewAccumulator(sink)

	require.NoError(t, acc.AddProvider(notification.ProviderPath("a", provider)))
	require.NoError(t, acc.RemoveProvider(notification.ProviderPath("b", provider)))
	require.NoError(t, acc.CompleteAndSend())

	assert.Zero(t, sink.Len())
}

type countingRecorder struct {
	queued, merged, cancelled, rejected, delivered int
}

func (r *countingRecorder) RecordNotificationQueued(string)     { r.queued++ }
func (r *countingRecorder) RecordNotificationMerged(string)     { r.merged++ }
func (r *countingRecorder) RecordLifecycleCancelled()           { r.cancelled++ }
func (r *countingRecorder) RecordUpdateRejected(string, string) { r.rejected++ }
func (r *countingRecorder) RecordNotificationDelivered(string)  { r.delivered++ }

func TestBatchAccumulator_Recorder(t *testing.T) {
	now := time.Now()
	rec := &countingRecorder{}
	acc := notification.NewAccumulator(testutil.NewRecordingSink(),
		notification.WithRecorder(rec),
		notification.WithTransactionID("tx-1"))
	r := notification.ResourcePath(model, provider, service, resource)

	require.NoError(t, acc.AddProvider(notification.ProviderPath(model, provider)))
	require.NoError(t, acc.RemoveProvider(notification.ProviderPath(model, provider)))
	require.NoError(t, acc.ResourceValueUpdate(r, nil, 1, now))
	require.NoError(t, acc.ResourceValueUpdate(r, 1, 2, now))
	require.Error(t, acc.ResourceValueUpdate(r, 2, 3, now.Add(-time.Second)))
	require.NoError(t, acc.ResourceAction(r, now))
	require.NoError(t, acc.CompleteAndSend())

	assert.Equal(t, 3, rec.queued)
	assert.Equal(t, 1, rec.merged)
	assert.Equal(t, 1, rec.cancelled)
	assert.Equal(t, 1, rec.rejected)
	assert.Equal(t, 2, rec.delivered)
}
