// Package twin holds the in-memory provider, service and resource tree of
// the gateway and translates changes to it into accumulator calls.
//
// A Twin is owned by the command thread. It is not safe for concurrent use.
package twin

import (
	"errors"
	"maps"
	"slices"
	"time"

	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
)

var (
	// ErrNotFound is returned for operations on entities that do not exist
	ErrNotFound = errors.New("entity not found")

	// ErrStaleUpdate is returned when an update is older than the current value
	ErrStaleUpdate = errors.New("update older than current value")

	// ErrInvalidPath is returned when a path lacks the segments an operation needs
	ErrInvalidPath = errors.New("invalid entity path")
)

// MetadataTimestamp is the metadata key holding the time of the last value
// update.
const MetadataTimestamp = "timestamp"

// Resource is a leaf of the tree
type Resource struct {
	Name      string
	Value     any
	Timestamp time.Time
	Metadata  map[string]any

	// Type is the declared value type name, empty until an update declares one
	Type string
}

// Service groups resources
type Service struct {
	Name      string
	Resources map[string]*Resource
}

// Provider is the root of an entity subtree
type Provider struct {
	Name       string
	Model      string
	PackageURI string
	Services   map[string]*Service
}

// Twin is the entity tree
type Twin struct {
	providers map[string]*Provider

	// journal holds the state of each provider touched since Begin, nil
	// for providers that did not exist yet
	journal map[string]*Provider
}

// New creates an empty twin
func New() *Twin {
	return &Twin{providers: make(map[string]*Provider)}
}

// Providers returns the provider names in order
func (t *Twin) Providers() []string {
	return slices.Sorted(maps.Keys(t.providers))
}

// Provider returns the named provider
func (t *Twin) Provider(name string) (*Provider, bool) {
	p, ok := t.providers[name]
	return p, ok
}

// Resource returns the resource at path
func (t *Twin) Resource(path notification.EntityPath) (*Resource, bool) {
	p, ok := t.providers[path.Provider]
	if !ok {
		return nil, false
	}
	s, ok := p.Services[path.Service]
	if !ok {
		return nil, false
	}
	r, ok := s.Resources[path.Resource]
	return r, ok
}

// ensureResource creates the missing entities along path and reports their
// creation, parents first.
func (t *Twin) ensureResource(acc notification.Accumulator, path notification.EntityPath) (*Resource, error) {
	if path.Provider == "" || path.Service == "" || path.Resource == "" {
		return nil, errs.WrapInvalid(ErrInvalidPath, "Twin", "ensureResource", "resource path required")
	}
	t.touch(path.Provider)

	p, ok := t.providers[path.Provider]
	if !ok {
		p = &Provider{
			Name:       path.Provider,
			Model:      path.Model,
			PackageURI: path.ModelPackageURI,
			Services:   make(map[string]*Service),
		}
		if err := acc.AddProvider(t.providerPath(p)); err != nil {
			return nil, err
		}
		t.providers[p.Name] = p
	}

	s, ok := p.Services[path.Service]
	if !ok {
		s = &Service{Name: path.Service, Resources: make(map[string]*Resource)}
		if err := acc.AddService(t.servicePath(p, s.Name)); err != nil {
			return nil, err
		}
		p.Services[s.Name] = s
	}

	r, ok := s.Resources[path.Resource]
	if !ok {
		r = &Resource{Name: path.Resource, Metadata: make(map[string]any)}
		if err := acc.AddResource(t.resourcePath(p, s.Name, r.Name)); err != nil {
			return nil, err
		}
		s.Resources[r.Name] = r
	}
	return r, nil
}

// SetValue sets the value of the resource at path, creating it if needed.
// It reports a data update and the matching metadata timestamp update. An
// update older than the current value is rejected with ErrStaleUpdate and
// changes nothing beyond entity creation.
func (t *Twin) SetValue(acc notification.Accumulator, path notification.EntityPath, value any, ts time.Time) error {
	return t.SetTypedValue(acc, path, "", value, ts)
}

// SetTypedValue is SetValue with a declared type name. The first non-empty
// declaration sticks to the resource and is reported in its data
// notifications; accumulators that are not TypedValueUpdaters report the
// type of the value instead.
func (t *Twin) SetTypedValue(acc notification.Accumulator, path notification.EntityPath, typ string, value any, ts time.Time) error {
	if ts.IsZero() {
		return errs.WrapInvalid(notification.ErrMissingTimestamp, "Twin", "SetValue", "validate update")
	}
	r, err := t.ensureResource(acc, path)
	if err != nil {
		return err
	}
	if ts.Before(r.Timestamp) {
		return errs.WrapInvalid(ErrStaleUpdate, "Twin", "SetValue", "compare timestamps")
	}

	declared := r.Type
	if declared == "" {
		declared = typ
	}

	p := t.providers[path.Provider]
	rp := t.resourcePath(p, path.Service, path.Resource)
	if typed, ok := acc.(notification.TypedValueUpdater); ok && declared != "" {
		err = typed.TypedResourceValueUpdate(rp, declared, r.Value, value, ts)
	} else {
		err = acc.ResourceValueUpdate(rp, r.Value, value, ts)
	}
	if err != nil {
		return err
	}

	oldMeta := maps.Clone(r.Metadata)
	newMeta := maps.Clone(r.Metadata)
	newMeta[MetadataTimestamp] = ts
	if err := acc.MetadataValueUpdate(rp, oldMeta, newMeta, ts); err != nil {
		return err
	}

	r.Type = declared
	r.Value = value
	r.Timestamp = ts
	r.Metadata = newMeta
	return nil
}

// SetMetadata sets one metadata entry of the resource at path, creating the
// resource if needed. A nil value removes the entry.
func (t *Twin) SetMetadata(acc notification.Accumulator, path notification.EntityPath, key string, value any, ts time.Time) error {
	if key == "" {
		return errs.WrapInvalid(errs.ErrInvalidData, "Twin", "SetMetadata", "empty metadata key")
	}
	if ts.IsZero() {
		return errs.WrapInvalid(notification.ErrMissingTimestamp, "Twin", "SetMetadata", "validate update")
	}
	r, err := t.ensureResource(acc, path)
	if err != nil {
		return err
	}

	newMeta := maps.Clone(r.Metadata)
	if value == nil {
		delete(newMeta, key)
	} else {
		newMeta[key] = value
	}
	p := t.providers[path.Provider]
	if err := acc.MetadataValueUpdate(t.resourcePath(p, path.Service, path.Resource), r.Metadata, newMeta, ts); err != nil {
		return err
	}
	r.Metadata = newMeta
	return nil
}

// Act reports an action on an existing resource
func (t *Twin) Act(acc notification.Accumulator, path notification.EntityPath, ts time.Time) error {
	if _, ok := t.Resource(path); !ok {
		return errs.WrapInvalid(ErrNotFound, "Twin", "Act", "lookup "+path.String())
	}
	p := t.providers[path.Provider]
	return acc.ResourceAction(t.resourcePath(p, path.Service, path.Resource), ts)
}

// RemoveProvider deletes a provider and everything below it. Deletions are
// reported children first.
func (t *Twin) RemoveProvider(acc notification.Accumulator, name string) error {
	p, ok := t.providers[name]
	if !ok {
		return errs.WrapInvalid(ErrNotFound, "Twin", "RemoveProvider", "lookup "+name)
	}
	t.touch(name)
	for _, svc := range slices.Sorted(maps.Keys(p.Services)) {
		if err := t.removeService(acc, p, svc); err != nil {
			return err
		}
	}
	if err := acc.RemoveProvider(t.providerPath(p)); err != nil {
		return err
	}
	delete(t.providers, name)
	return nil
}

// RemoveService deletes a service and its resources
func (t *Twin) RemoveService(acc notification.Accumulator, provider, service string) error {
	p, ok := t.providers[provider]
	if !ok {
		return errs.WrapInvalid(ErrNotFound, "Twin", "RemoveService", "lookup "+provider)
	}
	if _, ok := p.Services[service]; !ok {
		return errs.WrapInvalid(ErrNotFound, "Twin", "RemoveService", "lookup "+provider+"/"+service)
	}
	t.touch(provider)
	return t.removeService(acc, p, service)
}

func (t *Twin) removeService(acc notification.Accumulator, p *Provider, service string) error {
	s := p.Services[service]
	for _, res := range slices.Sorted(maps.Keys(s.Resources)) {
		if err := acc.RemoveResource(t.resourcePath(p, service, res)); err != nil {
			return err
		}
		delete(s.Resources, res)
	}
	if err := acc.RemoveService(t.servicePath(p, service)); err != nil {
		return err
	}
	delete(p.Services, service)
	return nil
}

// RemoveResource deletes one resource
func (t *Twin) RemoveResource(acc notification.Accumulator, path notification.EntityPath) error {
	if _, ok := t.Resource(path); !ok {
		return errs.WrapInvalid(ErrNotFound, "Twin", "RemoveResource", "lookup "+path.String())
	}
	t.touch(path.Provider)
	p := t.providers[path.Provider]
	if err := acc.RemoveResource(t.resourcePath(p, path.Service, path.Resource)); err != nil {
		return err
	}
	delete(p.Services[path.Service].Resources, path.Resource)
	return nil
}

// Begin starts recording the providers the following mutations touch so
// Rollback can undo them. Only changes made through Twin methods are
// recorded.
func (t *Twin) Begin() {
	t.journal = make(map[string]*Provider)
}

// Commit forgets the recorded state
func (t *Twin) Commit() {
	t.journal = nil
}

// Rollback puts every provider touched since Begin back in its prior state
func (t *Twin) Rollback() {
	for name, prev := range t.journal {
		if prev == nil {
			delete(t.providers, name)
			continue
		}
		t.providers[name] = prev
	}
	t.journal = nil
}

// touch saves the provider on its first mutation within a transaction
func (t *Twin) touch(name string) {
	if t.journal == nil {
		return
	}
	if _, seen := t.journal[name]; seen {
		return
	}
	if p, ok := t.providers[name]; ok {
		t.journal[name] = cloneProvider(p)
	} else {
		t.journal[name] = nil
	}
}

// Clone returns a deep copy of the tree. Values and metadata entries are
// shared.
func (t *Twin) Clone() *Twin {
	c := New()
	for name, p := range t.providers {
		c.providers[name] = cloneProvider(p)
	}
	return c
}

func cloneProvider(p *Provider) *Provider {
	cp := &Provider{Name: p.Name, Model: p.Model, PackageURI: p.PackageURI, Services: make(map[string]*Service, len(p.Services))}
	for sn, s := range p.Services {
		cs := &Service{Name: s.Name, Resources: make(map[string]*Resource, len(s.Resources))}
		for rn, r := range s.Resources {
			cr := *r
			cr.Metadata = maps.Clone(r.Metadata)
			cs.Resources[rn] = &cr
		}
		cp.Services[sn] = cs
	}
	return cp
}

// Restore replaces the tree with the state of snapshot
func (t *Twin) Restore(snapshot *Twin) {
	t.providers = snapshot.Clone().providers
}

func (t *Twin) providerPath(p *Provider) notification.EntityPath {
	return notification.ProviderPath(p.Model, p.Name).WithPackageURI(p.PackageURI)
}

func (t *Twin) servicePath(p *Provider, service string) notification.EntityPath {
	return notification.ServicePath(p.Model, p.Name, service).WithPackageURI(p.PackageURI)
}

func (t *Twin) resourcePath(p *Provider, service, resource string) notification.EntityPath {
	return notification.ResourcePath(p.Model, p.Name, service, resource).WithPackageURI(p.PackageURI)
}
