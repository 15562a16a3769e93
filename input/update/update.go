package update

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/pkg/timestamp"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/twin"
)

// MaxBatchSize bounds the number of updates in one message
const MaxBatchSize = 10000

// Update is one southbound change.
//
// Exactly one of the following applies, checked in this order:
//   - Remove deletes the provider, service or resource named by the path
//   - Action invokes the resource
//   - Value and Metadata set the resource value and metadata entries
type Update struct {
	PackageURI string          `json:"packageUri,omitempty"`
	Model      string          `json:"model,omitempty"`
	Provider   string          `json:"provider"`
	Service    string          `json:"service,omitempty"`
	Resource   string          `json:"resource,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	Type       string          `json:"type,omitempty"`
	Timestamp  any             `json:"timestamp,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Action     bool            `json:"action,omitempty"`
	Remove     bool            `json:"remove,omitempty"`
}

// Path returns the entity path of the update
func (u *Update) Path() notification.EntityPath {
	return notification.ResourcePath(u.Model, u.Provider, u.Service, u.Resource).WithPackageURI(u.PackageURI)
}

// Validate checks that the path is complete enough for the operation
func (u *Update) Validate() error {
	if u.Provider == "" {
		return fmt.Errorf("%w: provider is required", errs.ErrInvalidData)
	}
	if u.Resource != "" && u.Service == "" {
		return fmt.Errorf("%w: resource %q without service", errs.ErrInvalidData, u.Resource)
	}
	if !u.Remove && (u.Service == "" || u.Resource == "") {
		return fmt.Errorf("%w: service and resource are required", errs.ErrInvalidData)
	}
	if u.Action && (len(u.Value) > 0 || len(u.Metadata) > 0) {
		return fmt.Errorf("%w: action updates carry no value or metadata", errs.ErrInvalidData)
	}
	return nil
}

// Time parses the timestamp. A missing timestamp yields now.
func (u *Update) Time(now func() time.Time) (time.Time, error) {
	ts, err := timestamp.Parse(u.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", errs.ErrInvalidData, err)
	}
	if ts.IsZero() {
		return now().UTC(), nil
	}
	return ts, nil
}

// DecodedValue decodes the raw value, converting numbers according to Type.
// ok is false when the update carries no value.
func (u *Update) DecodedValue() (value any, ok bool, err error) {
	if len(u.Value) == 0 {
		return nil, false, nil
	}

	dec := json.NewDecoder(bytes.NewReader(u.Value))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return nil, false, fmt.Errorf("%w: value: %w", errs.ErrInvalidData, err)
	}

	value, err = convert(value, u.Type)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// convert applies the type hint to a decoded value. Without a hint numbers
// become int64 when integral and float64 otherwise.
func convert(v any, typ string) (any, error) {
	num, isNum := v.(json.Number)
	switch strings.ToLower(typ) {
	case "":
		if isNum {
			if i, err := num.Int64(); err == nil {
				return i, nil
			}
			return num.Float64()
		}
		return normalize(v), nil
	case "int", "integer", "long":
		if !isNum {
			return nil, fmt.Errorf("%w: value %v is not an integer", errs.ErrInvalidData, v)
		}
		i, err := num.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrInvalidData, err)
		}
		return i, nil
	case "float", "double", "number":
		if !isNum {
			return nil, fmt.Errorf("%w: value %v is not a number", errs.ErrInvalidData, v)
		}
		f, err := num.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrInvalidData, err)
		}
		return f, nil
	case "string":
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("%w: value %v is not a string", errs.ErrInvalidData, v)
	case "bool", "boolean":
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("%w: value %v is not a boolean", errs.ErrInvalidData, v)
	default:
		return normalize(v), nil
	}
}

// normalize turns nested json.Numbers into float64
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}

// Decode reads one update or a JSON array of updates
func Decode(data []byte) ([]Update, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errs.WrapInvalid(errs.ErrInvalidData, "update", "Decode", "empty message")
	}

	var updates []Update
	if data[0] == '[' {
		if err := json.Unmarshal(data, &updates); err != nil {
			return nil, errs.WrapInvalid(fmt.Errorf("%w: %w", errs.ErrParsingFailed, err), "update", "Decode", "unmarshal batch")
		}
	} else {
		var u Update
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, errs.WrapInvalid(fmt.Errorf("%w: %w", errs.ErrParsingFailed, err), "update", "Decode", "unmarshal update")
		}
		updates = []Update{u}
	}

	if len(updates) == 0 {
		return nil, errs.WrapInvalid(errs.ErrInvalidData, "update", "Decode", "empty batch")
	}
	if len(updates) > MaxBatchSize {
		return nil, errs.WrapInvalid(fmt.Errorf("%w: %d updates exceed %d", errs.ErrInvalidData, len(updates), MaxBatchSize), "update", "Decode", "check batch size")
	}
	for i := range updates {
		if err := updates[i].Validate(); err != nil {
			return nil, errs.WrapInvalid(fmt.Errorf("update %d: %w", i, err), "update", "Decode", "validate")
		}
	}
	return updates, nil
}

// Apply performs the update on the twin, reporting to acc
func (u *Update) Apply(tw *twin.Twin, acc notification.Accumulator, now func() time.Time) error {
	path := u.Path()

	if u.Remove {
		switch {
		case u.Service == "":
			return tw.RemoveProvider(acc, u.Provider)
		case u.Resource == "":
			return tw.RemoveService(acc, u.Provider, u.Service)
		default:
			return tw.RemoveResource(acc, path)
		}
	}

	ts, err := u.Time(now)
	if err != nil {
		return err
	}

	if u.Action {
		return tw.Act(acc, path, ts)
	}

	value, hasValue, err := u.DecodedValue()
	if err != nil {
		return err
	}
	if hasValue || len(u.Metadata) == 0 {
		if err := tw.SetTypedValue(acc, path, u.Type, value, ts); err != nil {
			return err
		}
	}
	for _, k := range slices.Sorted(maps.Keys(u.Metadata)) {
		if err := tw.SetMetadata(acc, path, k, u.Metadata[k], ts); err != nil {
			return err
		}
	}
	return nil
}
