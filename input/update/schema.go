package update

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
)

//go:embed schema.json
var schemaJSON []byte

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// Schema returns the JSON schema of update messages
func Schema() []byte {
	return schemaJSON
}

// ValidateSchema checks a raw message against the update schema. Unknown
// fields, a missing provider and badly typed fields are reported together.
func ValidateSchema(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return errs.WrapFatal(err, "update", "ValidateSchema", "compile schema")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errs.WrapInvalid(fmt.Errorf("%w: %w", errs.ErrParsingFailed, err), "update", "ValidateSchema", "load message")
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.Field()+": "+desc.Description())
	}
	return errs.WrapInvalid(
		fmt.Errorf("%w: %s", errs.ErrInvalidData, strings.Join(problems, "; ")),
		"update", "ValidateSchema", "validate message")
}
