package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/supportmesh/logging"
)

// ToolContext provides a constrained, auditable surface for tool
// implementations invoked by an agent. State writes go to the turn's state
// buffer and are recorded in EventActions so the tool_result event carries
// the delta.
type ToolContext struct {
	runCtx       *RunContext
	ctx          context.Context
	call         FunctionCall
	eventActions *EventActions

	*eventLog
}

// NewToolContext constructs a tool context bound to a parent RunContext and
// the function call being executed.
func NewToolContext(runCtx *RunContext, call FunctionCall) *ToolContext {
	return &ToolContext{
		runCtx:       runCtx,
		ctx:          runCtx.Context,
		call:         call,
		eventActions: &EventActions{},
		eventLog:     newEventLog(runCtx.Logger()),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// WithContext returns a copy bound to ctx sharing the accumulated actions.
func (tc *ToolContext) WithContext(ctx context.Context) *ToolContext {
	c := *tc
	c.ctx = ctx

	return &c
}

// SessionKey returns the session key of the turn.
func (tc *ToolContext) SessionKey() SessionKey { return tc.runCtx.Key }

// TurnID returns the id of the running turn.
func (tc *ToolContext) TurnID() string { return tc.runCtx.TurnID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.eventLog.Logger() }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.call.ID }

// ToolName returns the invoked tool name.
func (tc *ToolContext) ToolName() string { return tc.call.Name }

// AgentName returns the agent name associated with the tool invocation.
func (tc *ToolContext) AgentName() string { return tc.runCtx.Agent.Name }

// GetState retrieves the turn-local value for k.
func (tc *ToolContext) GetState(k string) (any, bool) { return tc.runCtx.GetState(k) }

// SetState writes through to the turn state and records the change.
func (tc *ToolContext) SetState(k string, v any) {
	tc.runCtx.SetState(k, v)

	if tc.eventActions.StateDelta == nil {
		tc.eventActions.StateDelta = map[string]any{}
	}

	tc.eventActions.StateDelta[k] = v
}

// CustomerID returns the trusted customer identity written by the auth gate
// or a verification tool.
func (tc *ToolContext) CustomerID() (string, bool) {
	v, ok := tc.GetState(KeyCustomerID)
	if !ok {
		return "", false
	}

	s := fmt.Sprint(v)

	return s, s != ""
}

// HasIdentity reports whether a customer identity is present.
func (tc *ToolContext) HasIdentity() bool {
	_, ok := tc.CustomerID()
	return ok
}

// Actions returns the event actions accumulated in the tool context.
func (tc *ToolContext) Actions() *EventActions { return tc.eventActions }

// TransferToAgent signals orchestration to hand off control to another agent.
func (tc *ToolContext) TransferToAgent(name string) {
	tc.eventActions.TransferToAgent = name
	tc.LogInfo("tool.transfer.request", "from_agent", tc.AgentName(), "to_agent", name, "function_call_id", tc.call.ID)
}

// InternalRunContext returns the internal run context.
func (tc *ToolContext) InternalRunContext() *RunContext { return tc.runCtx }

// InternalApplyActions merges accumulated EventActions into the provided event.
func (tc *ToolContext) InternalApplyActions(ev *Event) {
	if len(tc.eventActions.StateDelta) > 0 {
		if ev.Actions.StateDelta == nil {
			ev.Actions.StateDelta = map[string]any{}
		}

		for k, v := range tc.eventActions.StateDelta {
			ev.Actions.StateDelta[k] = v
		}
	}

	if tc.eventActions.TransferToAgent != "" {
		ev.Actions.TransferToAgent = tc.eventActions.TransferToAgent
		tc.LogDebug("tool.transfer.applied", "from_agent", tc.AgentName(), "to_agent", tc.eventActions.TransferToAgent)
	}
}
