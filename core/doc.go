// Package core provides the foundational domain types, interfaces and execution
// contexts used by SupportMesh. It defines the core abstractions for:
//
//   - Agents (routers and capability-bounded specialists)
//   - Sessions (scoped key/value state plus an ordered log of turns)
//   - Turns and Events (the ordered, streamable output of one exchange)
//   - RunContext / ToolContext (scoped execution & tool sandboxing)
//   - Pluggable stores for short-term sessions, long-term memory and knowledge
//
// The package keeps implementation concerns (persistence, orchestration,
// concrete agents) out of scope and exposes small interfaces so custom backends
// can be plugged in.
package core
