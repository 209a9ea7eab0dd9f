package tool

import (
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonschema"
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for tool '%s': %s", e.Tool, e.Message)
}

// SchemaFor reflects a parameter schema from the Go type T.
//
// Supported tags:
//   - json:"name" - parameter name
//   - jsonschema:"required" - mark as required
//   - jsonschema:"description=..." - parameter description
//   - jsonschema:"enum=a,enum=b" - allowed values
func SchemaFor[T any]() (map[string]any, error) {
	reflector := &invopop.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	data, err := json.Marshal(reflector.Reflect(new(T)))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to convert schema to map: %w", err)
	}

	delete(schema, "$schema")
	delete(schema, "$id")

	return schema, nil
}

// validator checks decoded arguments against a compiled schema.
type validator struct {
	schema *jsonschema.Schema
}

func compileValidator(params map[string]any) (*validator, error) {
	if len(params) == 0 {
		return &validator{}, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	compiled, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	return &validator{schema: compiled}, nil
}

func (v *validator) validate(tool string, args map[string]any) error {
	if v == nil || v.schema == nil {
		return nil
	}

	result := v.schema.Validate(args)
	if !result.IsValid() {
		return &ValidationError{Tool: tool, Message: fmt.Sprintf("%s", result.Error())}
	}

	return nil
}
