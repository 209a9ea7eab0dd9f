// Package tool implements the capability-checked tool subsystem that lets
// specialists invoke structured callables (CRM lookups, memory and knowledge
// retrieval, agent transfer) with schema validated arguments and uniform
// error reporting.
package tool

import (
	"fmt"

	"github.com/hupe1980/supportmesh/core"
)

// Tool is a named, schema-typed callable an agent may invoke.
//
// Implementations should be safe for concurrent use; a single tool instance
// is shared by every turn of every agent that declares it.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case).
	Name() string

	// Description is shown to the model to decide when to call the tool.
	Description() string

	// Parameters returns the JSON schema of the arguments object.
	Parameters() map[string]any

	// Call executes the tool with decoded arguments.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// IdentityProtected is implemented by tools that access customer records and
// therefore need a trusted customer identity in session state.
type IdentityProtected interface {
	RequiresIdentity() bool
}

// RequiresIdentity reports whether t is identity protected.
func RequiresIdentity(t Tool) bool {
	p, ok := t.(IdentityProtected)
	return ok && p.RequiresIdentity()
}

// Error codes carried by ToolError.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeExecution        = "EXECUTION_ERROR"
	CodeCapability       = "CAPABILITY_VIOLATION"
	CodeIdentityRequired = "IDENTITY_REQUIRED"
	CodeTimeout          = "TIMEOUT"
	CodeCircuitOpen      = "CIRCUIT_OPEN"
	// CodeNotFound marks a lookup miss caused by the caller's input, such as
	// an unknown serial number.
	CodeNotFound = "NOT_FOUND"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
	Err     error  `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap exposes the typed cause (capability, identity, timeout).
func (e *ToolError) Unwrap() error { return e.Err }

// Kind maps the code onto the core error taxonomy.
func (e *ToolError) Kind() core.ErrorKind {
	switch e.Code {
	case CodeValidation, CodeNotFound:
		return core.ErrorKindValidation
	case CodeCapability:
		return core.ErrorKindCapability
	case CodeIdentityRequired:
		return core.ErrorKindIdentityRequired
	case CodeTimeout:
		return core.ErrorKindTimeout
	default:
		return core.ErrorKindUpstream
	}
}

// callerFault reports whether the error was caused by the call's input or the
// caller's permissions rather than by the tool's backend.
func (e *ToolError) callerFault() bool {
	switch e.Code {
	case CodeValidation, CodeNotFound, CodeCapability, CodeIdentityRequired:
		return true
	default:
		return false
	}
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

func capabilityError(agent, tool, reason string) *ToolError {
	cause := &core.CapabilityError{Agent: agent, Target: tool, Reason: reason}

	return &ToolError{Tool: tool, Message: cause.Error(), Code: CodeCapability, Err: cause}
}

func identityError(tool string) *ToolError {
	cause := &core.IdentityRequiredError{Tool: tool, Key: core.KeyCustomerID}

	return &ToolError{
		Tool:    tool,
		Message: "customer identity is not verified; ask the customer to verify their identity first",
		Code:    CodeIdentityRequired,
		Err:     cause,
	}
}
