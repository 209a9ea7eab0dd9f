package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/supportmesh/core"
)

// FunctionToolOptions configures a FunctionTool.
type FunctionToolOptions struct {
	// RequiresIdentity marks the tool as identity protected.
	RequiresIdentity bool
}

// RequireIdentity is an option that marks a tool as identity protected.
func RequireIdentity(o *FunctionToolOptions) { o.RequiresIdentity = true }

// FunctionTool exposes a plain Go function as a tool.
//
// Arguments are validated against the declared schema before the function
// runs. Errors are normalized to *ToolError:
//
//	VALIDATION_ERROR -> schema / argument mismatch
//	EXECUTION_ERROR  -> the function returned a plain error
//	(custom codes are preserved if the function returns *ToolError directly)
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	validator   *validator
	schemaErr   error
	opts        FunctionToolOptions
	fn          func(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

var (
	_ Tool              = (*FunctionTool)(nil)
	_ IdentityProtected = (*FunctionTool)(nil)
)

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	opts := FunctionToolOptions{}
	for _, optFn := range optFns {
		optFn(&opts)
	}

	v, err := compileValidator(parameters)

	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		validator:   v,
		schemaErr:   err,
		opts:        opts,
		fn:          fn,
	}
}

// NewTypedTool builds a FunctionTool whose schema is reflected from In.
// Arguments are decoded into In before fn runs.
//
//	type WarrantyArgs struct {
//	    Serial string `json:"serial" jsonschema:"required,description=Product serial number"`
//	}
func NewTypedTool[In, Out any](
	name, description string,
	fn func(toolCtx *core.ToolContext, in In) (Out, error),
	optFns ...func(o *FunctionToolOptions),
) (*FunctionTool, error) {
	schema, err := SchemaFor[In]()
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	t := NewFunctionTool(name, description, schema, func(tc *core.ToolContext, args map[string]any) (any, error) {
		var in In

		raw, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, &ToolError{Tool: name, Message: fmt.Sprintf("failed to decode arguments: %v", err), Code: CodeValidation}
		}

		return fn(tc, in)
	}, optFns...)

	if t.schemaErr != nil {
		return nil, fmt.Errorf("tool %s: %w", name, t.schemaErr)
	}

	return t, nil
}

// Name returns the unique tool name used in function call declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// RequiresIdentity reports whether the tool is identity protected.
func (t *FunctionTool) RequiresIdentity() bool { return t.opts.RequiresIdentity }

// Call validates args against the declared schema then invokes the function.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	start := time.Now()

	logger.Debug("tool.call.start", "tool", t.name, "fc_id", toolCtx.FunctionCallID())

	if t.schemaErr != nil {
		return nil, &ToolError{Tool: t.name, Message: t.schemaErr.Error(), Code: CodeExecution, Err: t.schemaErr}
	}

	if err := t.validator.validate(t.name, args); err != nil {
		logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}

	result, err := t.fn(toolCtx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) { // already a ToolError -> just log and forward
			logger.Error("tool.call.error", "tool", t.name, "code", toolErr.Code, "error", toolErr.Message)

			return nil, toolErr
		}

		logger.Error("tool.call.error", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    CodeExecution,
			Err:     err,
		}
	}

	logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
