package testutil

import (
	"time"

	"github.com/hupe1980/supportmesh/core"
)

// TurnBuilder provides a fluent helper for constructing turns in tests.
// Example:
//
//	turn := testutil.NewTurn("t1").Agent("after_sale_agent").Prompt("hi").Final("hello").Build()
//
// Status follows the last terminal event unless set explicitly.
type TurnBuilder struct {
	turn   core.Turn
	status core.TurnStatus
}

// NewTurn creates a builder for a turn with the given ID.
func NewTurn(id string) *TurnBuilder {
	now := time.Now().UTC()

	return &TurnBuilder{turn: core.Turn{
		ID:      id,
		Agent:   "agent",
		Started: now,
		Ended:   now,
	}}
}

// Agent sets the agent that handled the turn (chainable).
func (b *TurnBuilder) Agent(name string) *TurnBuilder { b.turn.Agent = name; return b }

// Prompt sets the user input (chainable).
func (b *TurnBuilder) Prompt(text string) *TurnBuilder {
	b.turn.Input = core.NewTextContent("user", text)
	return b
}

// ToolCall appends a tool call event (chainable).
func (b *TurnBuilder) ToolCall(call core.FunctionCall) *TurnBuilder {
	return b.event(core.NewToolCallEvent(b.turn.Agent, call))
}

// ToolResult appends a tool result event for call (chainable).
func (b *TurnBuilder) ToolResult(call core.FunctionCall, result any, err error) *TurnBuilder {
	return b.event(core.NewToolResultEvent(b.turn.Agent, call, result, err))
}

// Final appends the final message (chainable).
func (b *TurnBuilder) Final(text string) *TurnBuilder {
	return b.event(core.NewFinalMessageEvent(b.turn.Agent, text))
}

// Fail appends the terminal error event and records its kind (chainable).
func (b *TurnBuilder) Fail(err error) *TurnBuilder {
	ev := core.NewErrorEvent(b.turn.Agent, err)
	b.turn.ErrorKind = ev.ErrorKind
	b.turn.Error = ev.Error

	return b.event(ev)
}

// Delta sets the state delta (chainable).
func (b *TurnBuilder) Delta(delta map[string]any) *TurnBuilder { b.turn.StateDelta = delta; return b }

// Status overrides the derived status (chainable).
func (b *TurnBuilder) Status(s core.TurnStatus) *TurnBuilder { b.status = s; return b }

func (b *TurnBuilder) event(ev core.Event) *TurnBuilder {
	ev.TurnID = b.turn.ID
	ev.Seq = len(b.turn.Events) + 1
	b.turn.Events = append(b.turn.Events, ev)

	return b
}

// Build finalizes and returns the turn.
func (b *TurnBuilder) Build() core.Turn {
	turn := b.turn
	turn.Events = append([]core.Event(nil), b.turn.Events...)

	switch {
	case b.status != "":
		turn.Status = b.status
	case turn.Error != "":
		turn.Status = core.TurnError
	case len(turn.Events) > 0 && turn.Events[len(turn.Events)-1].IsTerminal():
		turn.Status = core.TurnSuccess
	default:
		turn.Status = core.TurnCancelled
	}

	return turn
}
