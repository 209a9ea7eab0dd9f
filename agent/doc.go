// Package agent contains the two agent kinds of a support mesh and their
// supporting utilities:
//
//  1. Router: classifies the intent of a turn with a single model call and
//     delegates to exactly one of its declared delegates, or answers with a
//     fixed refusal when nothing matches
//  2. Specialist: a capability-bounded worker running the flow reasoning
//     loop over its own toolset, optional knowledge / long-term memory
//     bindings and planner settings
//
// Delegates are resolved when an agent is constructed. An agent can only hand
// a turn to agents it declared, and a specialist can only call tools in its
// toolset; both are enforced by construction rather than by convention.
//
// Agents never call each other directly. A delegating agent returns the
// chosen delegate in core.Outcome and the runner continues iteratively with
// an explicit depth counter.
package agent
