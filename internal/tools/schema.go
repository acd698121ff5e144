package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Validator checks tool arguments against their JSON schema. Compiled
// schemas are cached by their JSON form.
type Validator struct {
	cache sync.Map // map[string]*gojsonschema.Schema
}

var defaultValidator = NewValidator()

func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks argsJSON against schemaData, which may be anything that
// marshals to a JSON schema.
func (v *Validator) Validate(schemaData any, argsJSON string) error {
	schemaLoader, err := v.getSchemaLoader(schemaData)
	if err != nil {
		return fmt.Errorf("invalid schema definition: %w", err)
	}

	documentLoader := gojsonschema.NewStringLoader(argsJSON)

	result, err := schemaLoader.Validate(documentLoader)
	if err != nil {
		return fmt.Errorf("validation execution failed: %w", err)
	}

	if result.Valid() {
		return nil
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return fmt.Errorf("invalid arguments:\n- %s", dumpErrors(errs))
}

func (v *Validator) getSchemaLoader(schemaData any) (*gojsonschema.Schema, error) {
	// Maps marshal with sorted keys, so the JSON is a stable cache key.
	jsonBytes, err := json.Marshal(schemaData)
	if err != nil {
		return nil, err
	}
	key := string(jsonBytes)

	if val, ok := v.cache.Load(key); ok {
		return val.(*gojsonschema.Schema), nil
	}

	loader := gojsonschema.NewBytesLoader(jsonBytes)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, err
	}

	v.cache.Store(key, schema)
	return schema, nil
}

func dumpErrors(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	if len(errs) == 1 {
		return errs[0]
	}
	more := ""
	if len(errs) > 3 {
		more = fmt.Sprintf("\n... and %d more", len(errs)-3)
		errs = errs[:3]
	}
	return strings.Join(errs, "\n- ") + more
}
