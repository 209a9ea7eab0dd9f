// Package flow implements the reasoning loop of a specialist agent.
//
// A flow assembles a model request through an ordered chain of request
// processors (instructions, conversation contents, planning, tool
// definitions), streams the model output as partial_text / thought events,
// executes requested tools through the agent's capability-checked toolset
// and feeds the results back until the model produces a plain answer or a
// transfer to a delegate is requested.
package flow

import (
	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/model"
	"github.com/hupe1980/supportmesh/tool"
)

// Flow defines the interface for agent execution flows.
//
// Run emits intermediate events through the RunContext and returns once the
// agent has an answer or hands the turn to a delegate. The final_message
// event is left to the caller so the answer can be formatted first.
type Flow interface {
	Run(runCtx *core.RunContext) (Result, error)
}

// Result is the outcome of a flow run.
type Result struct {
	// Text is the unformatted answer of the last model step.
	Text string
	// Transfer names the delegate requested through transfer_to_agent.
	Transfer string
	// Steps counts model calls.
	Steps int
}

// FlowAgent defines what a flow needs from the agent it runs for.
type FlowAgent interface {
	// Name returns the agent's name; it authors every emitted event.
	Name() string

	// Model returns the language model instance.
	Model() model.Model

	// ResolveInstructions returns the raw (unrendered) instruction text.
	ResolveInstructions(runCtx *core.RunContext) (string, error)

	// Toolset returns the agent's capability set. May be nil.
	Toolset() *tool.Toolset

	// Thinking returns the planner configuration, nil when planning is off.
	Thinking() *model.ThinkingConfig

	// IsStreamingEnabled returns whether streaming responses are enabled.
	IsStreamingEnabled() bool

	// MaxHistoryTurns limits the prior turns replayed to the model (0 = all).
	MaxHistoryTurns() int
}

// RequestProcessor processes the request before sending it to the LLM.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the model request before execution.
	ProcessRequest(runCtx *core.RunContext, req *model.Request, agent FlowAgent) error
}
