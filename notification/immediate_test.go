package notification_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/testutil"
)

func TestImmediateAccumulator_DeliversEachCall(t *testing.T) {
	now := time.Now()
	sink := testutil.NewRecordingSink()
	acc := notification.NewImmediateAccumulator(sink)
	r := notification.ResourcePath(model, provider, service, resource)

	require.NoError(t, acc.AddProvider(notification.ProviderPath(model, provider)))
	assert.Equal(t, 1, sink.Len())

	require.NoError(t, acc.RemoveProvider(notification.ProviderPath(model, provider)))
	assert.Equal(t, 2, sink.Len(), "create and delete are not cancelled")

	require.NoError(t, acc.ResourceValueUpdate(r, nil, 1, now))
	require.NoError(t, acc.ResourceValueUpdate(r, 1, 2, now.Add(-time.Second)))
	require.NoError(t, acc.MetadataValueUpdate(r, nil, nil, now))
	require.NoError(t, acc.ResourceAction(r, now))
	require.NoError(t, acc.CompleteAndSend())
	require.NoError(t, acc.CompleteAndSend())

	assert.Equal(t, []string{
		"LIFECYCLE/model/provider",
		"LIFECYCLE/model/provider",
		"DATA/model/provider/service/resource",
		"DATA/model/provider/service/resource",
		"METADATA/model/provider/service/resource",
		"ACTION/model/provider/service/resource",
	}, sink.Topics())

	md := sink.Notifications()[4].(*notification.ResourceMetaDataNotification)
	assert.Equal(t, map[string]any{}, md.OldValues)
	assert.Equal(t, map[string]any{}, md.NewValues)
}

func TestImmediateAccumulator_LifecycleStatuses(t *testing.T) {
	sink := testutil.NewRecordingSink()
	acc := notification.NewImmediateAccumulator(sink)

	require.NoError(t, acc.AddService(notification.ServicePath(model, provider, service)))
	require.NoError(t, acc.RemoveService(notification.ServicePath(model, provider, service)))
	require.NoError(t, acc.AddResource(notification.ResourcePath(model, provider, service, resource)))
	require.NoError(t, acc.RemoveResource(notification.ResourcePath(model, provider, service, resource)))

	assert.Equal(t, []notification.Status{
		notification.ServiceCreated,
		notification.ServiceDeleted,
		notification.ResourceCreated,
		notification.ResourceDeleted,
	}, statuses(t, sink))
}

func TestImmediateAccumulator_ZeroTimestamp(t *testing.T) {
	sink := testutil.NewRecordingSink()
	acc := notification.NewImmediateAccumulator(sink)
	r := notification.ResourcePath(model, provider, service, resource)

	assert.ErrorIs(t, acc.ResourceAction(r, time.Time{}), notification.ErrMissingTimestamp)
	assert.ErrorIs(t, acc.ResourceValueUpdate(r, nil, 1, time.Time{}), notification.ErrMissingTimestamp)
	assert.ErrorIs(t, acc.MetadataValueUpdate(r, nil, nil, time.Time{}), notification.ErrMissingTimestamp)
	assert.Zero(t, sink.Len())
}
