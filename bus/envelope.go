package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
)

// Envelope is the wire form of a notification shared by remote sinks
type Envelope struct {
	ID           string                    `json:"id"`
	Topic        string                    `json:"topic"`
	Kind         string                    `json:"kind"`
	Path         notification.EntityPath   `json:"path"`
	Notification notification.Notification `json:"notification"`
	PublishedAt  time.Time                 `json:"publishedAt"`
}

// NewEnvelope wraps n with a fresh ID and the current time
func NewEnvelope(topic string, n notification.Notification) *Envelope {
	return &Envelope{
		ID:           uuid.NewString(),
		Topic:        topic,
		Kind:         n.Kind().String(),
		Path:         n.Path(),
		Notification: n,
		PublishedAt:  time.Now().UTC(),
	}
}

// Encode marshals topic and n into a new envelope
func Encode(topic string, n notification.Notification) (*Envelope, []byte, error) {
	if n == nil {
		return nil, nil, errs.WrapInvalid(errs.ErrInvalidData, "bus", "Encode", "nil notification")
	}
	env := NewEnvelope(topic, n)
	data, err := json.Marshal(env)
	if err != nil {
		return nil, nil, errs.WrapInvalid(fmt.Errorf("%w: %w", errs.ErrEncodeFailed, err), "bus", "Encode", "marshal envelope")
	}
	return env, data, nil
}

// Decode restores an envelope and its typed notification
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errs.WrapInvalid(err, "bus", "Decode", "unmarshal envelope")
	}
	return &env, nil
}

// UnmarshalJSON picks the notification type from the kind field
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID           string                  `json:"id"`
		Topic        string                  `json:"topic"`
		Kind         string                  `json:"kind"`
		Path         notification.EntityPath `json:"path"`
		Notification json.RawMessage         `json:"notification"`
		PublishedAt  time.Time               `json:"publishedAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	kind, err := notification.ParseKind(raw.Kind)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidData, err)
	}

	var n notification.Notification
	switch kind {
	case notification.KindLifecycle:
		n = &notification.LifecycleNotification{}
	case notification.KindMetaData:
		n = &notification.ResourceMetaDataNotification{}
	case notification.KindData:
		n = &notification.ResourceDataNotification{}
	case notification.KindAction:
		n = &notification.ResourceActionNotification{}
	}
	if len(raw.Notification) > 0 && string(raw.Notification) != "null" {
		if err := json.Unmarshal(raw.Notification, n); err != nil {
			return fmt.Errorf("%w: %s notification: %w", errs.ErrInvalidData, raw.Kind, err)
		}
	}

	*e = Envelope{
		ID:           raw.ID,
		Topic:        raw.Topic,
		Kind:         kind.String(),
		Path:         raw.Path,
		Notification: n,
		PublishedAt:  raw.PublishedAt,
	}
	return nil
}
