package notification

import (
	"cmp"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the family of a notification. The numeric order is the
// flush order: lifecycle first, then metadata, data and actions.
type Kind int

const (
	KindLifecycle Kind = iota
	KindMetaData
	KindData
	KindAction
)

// String returns the topic prefix of the kind
func (k Kind) String() string {
	switch k {
	case KindLifecycle:
		return "LIFECYCLE"
	case KindMetaData:
		return "METADATA"
	case KindData:
		return "DATA"
	case KindAction:
		return "ACTION"
	default:
		return "UNKNOWN"
	}
}

// ParseKind is the inverse of Kind.String
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(s) {
	case "LIFECYCLE":
		return KindLifecycle, nil
	case "METADATA":
		return KindMetaData, nil
	case "DATA":
		return KindData, nil
	case "ACTION":
		return KindAction, nil
	default:
		return 0, fmt.Errorf("unknown notification kind %q", s)
	}
}

// Status is the lifecycle transition carried by a LifecycleNotification
type Status string

const (
	ProviderCreated Status = "PROVIDER_CREATED"
	ProviderDeleted Status = "PROVIDER_DELETED"
	ServiceCreated  Status = "SERVICE_CREATED"
	ServiceDeleted  Status = "SERVICE_DELETED"
	ResourceCreated Status = "RESOURCE_CREATED"
	ResourceDeleted Status = "RESOURCE_DELETED"
)

// IsDelete reports whether the status removes an entity
func (s Status) IsDelete() bool {
	return s == ProviderDeleted || s == ServiceDeleted || s == ResourceDeleted
}

// EntityPath identifies a provider, a service of a provider, or a resource of
// a service. Provider is always set. A resource path must also name its
// service; this is a caller precondition and is not checked.
//
// ModelPackageURI and Model describe the provider model. They travel with
// notifications and appear in topics but never take part in merging.
type EntityPath struct {
	ModelPackageURI string `json:"modelPackageUri,omitempty"`
	Model           string `json:"model,omitempty"`
	Provider        string `json:"provider"`
	Service         string `json:"service,omitempty"`
	Resource        string `json:"resource,omitempty"`
}

// ProviderPath builds the path of a provider
func ProviderPath(model, provider string) EntityPath {
	return EntityPath{Model: model, Provider: provider}
}

// ServicePath builds the path of a service
func ServicePath(model, provider, service string) EntityPath {
	return EntityPath{Model: model, Provider: provider, Service: service}
}

// ResourcePath builds the path of a resource
func ResourcePath(model, provider, service, resource string) EntityPath {
	return EntityPath{Model: model, Provider: provider, Service: service, Resource: resource}
}

// WithPackageURI returns a copy of the path carrying the model package URI
func (p EntityPath) WithPackageURI(uri string) EntityPath {
	p.ModelPackageURI = uri
	return p
}

// Topic builds the topic of a notification of the given kind for this path:
// KIND/model/provider[/service[/resource]]. Providers without a model use
// their own name as model.
func (p EntityPath) Topic(kind Kind) string {
	model := p.Model
	if model == "" {
		model = p.Provider
	}

	var b strings.Builder
	b.WriteString(kind.String())
	b.WriteByte('/')
	b.WriteString(model)
	b.WriteByte('/')
	b.WriteString(p.Provider)
	if p.Service != "" {
		b.WriteByte('/')
		b.WriteString(p.Service)
		if p.Resource != "" {
			b.WriteByte('/')
			b.WriteString(p.Resource)
		}
	}
	return b.String()
}

// String renders the path as provider[/service[/resource]]
func (p EntityPath) String() string {
	parts := []string{p.Provider}
	if p.Service != "" {
		parts = append(parts, p.Service)
		if p.Resource != "" {
			parts = append(parts, p.Resource)
		}
	}
	return strings.Join(parts, "/")
}

// Key groups pending notifications. Keys are totally ordered by kind, then
// provider, service and resource; absent (empty) components sort first.
type Key struct {
	Kind     Kind
	Provider string
	Service  string
	Resource string
}

// KeyOf builds the merge key of a path for a kind
func KeyOf(kind Kind, p EntityPath) Key {
	return Key{Kind: kind, Provider: p.Provider, Service: p.Service, Resource: p.Resource}
}

// Compare returns -1, 0 or +1 depending on whether k sorts before, equal to
// or after o.
func (k Key) Compare(o Key) int {
	if c := cmp.Compare(k.Kind, o.Kind); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Provider, o.Provider); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Service, o.Service); c != 0 {
		return c
	}
	return cmp.Compare(k.Resource, o.Resource)
}

// Notification is a record delivered to a Sink
type Notification interface {
	Kind() Kind
	Path() EntityPath
	Topic() string
}

// LifecycleNotification reports that a provider, service or resource was
// created or deleted.
type LifecycleNotification struct {
	EntityPath
	Status          Status         `json:"status"`
	InitialValue    any            `json:"initialValue,omitempty"`
	InitialMetadata map[string]any `json:"initialMetadata,omitempty"`
}

func (n *LifecycleNotification) Kind() Kind       { return KindLifecycle }
func (n *LifecycleNotification) Path() EntityPath { return n.EntityPath }
func (n *LifecycleNotification) Topic() string    { return n.EntityPath.Topic(KindLifecycle) }

// ResourceMetaDataNotification carries the complete metadata snapshot of a
// resource before and after the transaction.
type ResourceMetaDataNotification struct {
	EntityPath
	OldValues map[string]any `json:"oldValues"`
	NewValues map[string]any `json:"newValues"`
	Timestamp time.Time      `json:"timestamp"`
}

func (n *ResourceMetaDataNotification) Kind() Kind       { return KindMetaData }
func (n *ResourceMetaDataNotification) Path() EntityPath { return n.EntityPath }
func (n *ResourceMetaDataNotification) Topic() string    { return n.EntityPath.Topic(KindMetaData) }

// ResourceDataNotification carries the value of a resource before and after
// the transaction. Type is the Go type name of the value.
type ResourceDataNotification struct {
	EntityPath
	Type      string    `json:"type,omitempty"`
	OldValue  any       `json:"oldValue"`
	NewValue  any       `json:"newValue"`
	Timestamp time.Time `json:"timestamp"`
}

func (n *ResourceDataNotification) Kind() Kind       { return KindData }
func (n *ResourceDataNotification) Path() EntityPath { return n.EntityPath }
func (n *ResourceDataNotification) Topic() string    { return n.EntityPath.Topic(KindData) }

// ResourceActionNotification reports that an action resource was invoked
type ResourceActionNotification struct {
	EntityPath
	Timestamp time.Time `json:"timestamp"`
}

func (n *ResourceActionNotification) Kind() Kind       { return KindAction }
func (n *ResourceActionNotification) Path() EntityPath { return n.EntityPath }
func (n *ResourceActionNotification) Topic() string    { return n.EntityPath.Topic(KindAction) }

// Sink receives notifications when a transaction completes. Implementations
// own their error handling; the accumulator does not retry.
type Sink interface {
	Deliver(topic string, n Notification)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(topic string, n Notification)

// Deliver calls f(topic, n)
func (f SinkFunc) Deliver(topic string, n Notification) {
	f(topic, n)
}

// valueType names the type of a resource value, preferring the new value
func valueType(oldValue, newValue any) string {
	switch {
	case newValue != nil:
		return fmt.Sprintf("%T", newValue)
	case oldValue != nil:
		return fmt.Sprintf("%T", oldValue)
	default:
		return ""
	}
}
