package core

// Agent is the unit of work the runner drives through a turn.
//
// Agents receive a RunContext, emit events through it and return an Outcome.
// An agent that hands the turn to one of its delegates returns the delegate in
// Outcome.Next; the runner then runs it with an incremented depth counter.
// Delegates are resolved when the agent is constructed, so an agent can only
// ever transfer to agents it declared.
//
// Implementations must:
//   - Respect context cancellation
//   - Emit exactly one terminal event (final_message) on success, or return an error
//   - Be safe for concurrent use by independent turns
type Agent interface {
	Name() string
	Description() string
	Run(rc *RunContext) (Outcome, error)
	SubAgents() []Agent
	FindAgent(name string) Agent
}

// Outcome is the result of an agent run.
type Outcome struct {
	// Next is the delegate that continues the turn, nil when the agent
	// finished the turn itself.
	Next Agent
}

// AgentInfo carries identifying details about an agent used in contexts & events.
// Name is the external identifier; Type categorizes implementation ("router", "specialist").
type AgentInfo struct{ Name, Type string }
