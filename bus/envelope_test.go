package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
)

func TestEncodeDecode(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	path := notification.ResourcePath("model", "provider", "service", "resource")

	tests := []struct {
		name string
		n    notification.Notification
	}{
		{"lifecycle", &notification.LifecycleNotification{
			EntityPath: notification.ProviderPath("model", "provider"),
			Status:     notification.ProviderCreated,
		}},
		{"metadata", &notification.ResourceMetaDataNotification{
			EntityPath: path,
			OldValues:  map[string]any{},
			NewValues:  map[string]any{"unit": "C"},
			Timestamp:  ts,
		}},
		{"data", dataNotification()},
		{"action", &notification.ResourceActionNotification{EntityPath: path, Timestamp: ts}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, data, err := Encode(tt.n.Topic(), tt.n)
			require.NoError(t, err)
			assert.NotEmpty(t, env.ID)
			assert.Equal(t, tt.n.Kind().String(), env.Kind)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, env.ID, decoded.ID)
			assert.Equal(t, tt.n.Topic(), decoded.Topic)
			assert.Equal(t, tt.n.Path(), decoded.Path)
			assert.Equal(t, tt.n, decoded.Notification)
		})
	}
}

func TestEncode_Nil(t *testing.T) {
	_, _, err := Encode("DATA/m/p/s/r", nil)
	assert.ErrorIs(t, err, errs.ErrInvalidData)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"EVENT","notification":{}}`))
	assert.ErrorIs(t, err, errs.ErrInvalidData)
	assert.True(t, errs.IsInvalid(err))

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestEnvelope_UniqueIDs(t *testing.T) {
	n := dataNotification()
	a := NewEnvelope(n.Topic(), n)
	b := NewEnvelope(n.Topic(), n)
	assert.NotEqual(t, a.ID, b.ID)
}
