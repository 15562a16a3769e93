package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/testutil"
)

func dataNotification() *notification.ResourceDataNotification {
	return &notification.ResourceDataNotification{
		EntityPath: notification.ResourcePath("model", "provider", "service", "resource"),
		Type:       "float64",
		OldValue:   20.0,
		NewValue:   21.5,
		Timestamp:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"*", "DATA/m/p/s/r", true},
		{"DATA/*", "DATA/m/p/s/r", true},
		{"DATA/*", "DATALOSS/m/p", false},
		{"DATA/*", "LIFECYCLE/m/p", false},
		{"LIFECYCLE/m/p/*", "LIFECYCLE/m/p/s", true},
		{"LIFECYCLE/m/p/*", "LIFECYCLE/m/p", false},
		{"DATA/m/p/s/r", "DATA/m/p/s/r", true},
		{"DATA/m/p/s/r", "DATA/m/p/s/r2", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.topic))
		})
	}
}

func TestValidatePattern(t *testing.T) {
	assert.NoError(t, ValidatePattern("*"))
	assert.NoError(t, ValidatePattern("DATA/*"))
	assert.NoError(t, ValidatePattern("DATA/m/p/s/r"))
	assert.Error(t, ValidatePattern(""))
	assert.Error(t, ValidatePattern("/*"))
	assert.Error(t, ValidatePattern("DATA/*/r"))
	assert.Error(t, ValidatePattern("DATA*"))
}

func TestBus_SubscribeAndDeliver(t *testing.T) {
	b := New(nil)
	var got []string

	unsubAll, err := b.Subscribe("*", func(topic string, _ notification.Notification) {
		got = append(got, "all:"+topic)
	})
	require.NoError(t, err)
	_, err = b.Subscribe("DATA/*", func(topic string, _ notification.Notification) {
		got = append(got, "data:"+topic)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())

	n := dataNotification()
	b.Deliver(n.Topic(), n)
	b.Deliver("LIFECYCLE/model/provider", &notification.LifecycleNotification{})

	assert.Equal(t, []string{
		"all:DATA/model/provider/service/resource",
		"data:DATA/model/provider/service/resource",
		"all:LIFECYCLE/model/provider",
	}, got)

	unsubAll()
	unsubAll()
	assert.Equal(t, 1, b.Len())

	got = nil
	b.Deliver(n.Topic(), n)
	assert.Equal(t, []string{"data:DATA/model/provider/service/resource"}, got)
}

func TestBus_PanickingHandler(t *testing.T) {
	b := New(nil)
	calls := 0

	_, err := b.Subscribe("*", func(string, notification.Notification) { panic("boom") })
	require.NoError(t, err)
	_, err = b.Subscribe("*", func(string, notification.Notification) { calls++ })
	require.NoError(t, err)

	assert.NotPanics(t, func() { b.Deliver("DATA/m/p/s/r", dataNotification()) })
	assert.Equal(t, 1, calls)
}

func TestBus_SubscribeErrors(t *testing.T) {
	b := New(nil)

	_, err := b.Subscribe("DATA/*/x", func(string, notification.Notification) {})
	assert.Error(t, err)

	_, err = b.Subscribe("*", nil)
	assert.Error(t, err)
	assert.Zero(t, b.Len())
}

func TestFanout(t *testing.T) {
	first := testutil.NewRecordingSink()
	second := testutil.NewRecordingSink()
	f := Fanout{first, nil, second}

	n := dataNotification()
	f.Deliver(n.Topic(), n)

	assert.Equal(t, 1, first.Len())
	assert.Equal(t, 1, second.Len())
}
