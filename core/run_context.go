package core

import (
	"context"

	"github.com/hupe1980/supportmesh/logging"
)

// RunContext carries execution state & helpers for one agent's part of a
// turn. It aggregates:
//   - The ambient cancellation Context
//   - Identifiers (session key, turn id, agent info)
//   - The user input of the turn
//   - The emission channel read by the runner
//   - The session snapshot loaded at turn start
//   - The turn-wide StateBuffer shared by every agent of the turn
//
// State written through SetState is visible immediately to every agent and
// tool of the same turn and is persisted when the runner appends the turn.
type RunContext struct {
	Context     context.Context
	Key         SessionKey
	TurnID      string
	Agent       AgentInfo
	UserContent Content
	Emit        chan<- Event
	Session     *Session
	State       *StateBuffer
	Budget      *CallBudget
	Depth       int

	*eventLog
}

// NewRunContext constructs a RunContext. A nil state buffer is seeded from
// the session snapshot.
func NewRunContext(
	ctx context.Context,
	key SessionKey,
	turnID string,
	agent AgentInfo,
	userContent Content,
	emit chan<- Event,
	sess *Session,
	state *StateBuffer,
	logger logging.Logger,
) *RunContext {
	if sess == nil {
		sess = NewSession(key)
	}

	if state == nil {
		state = NewStateBuffer(sess.State)
	}

	return &RunContext{
		Context:     ctx,
		Key:         key,
		TurnID:      turnID,
		Agent:       agent,
		UserContent: userContent,
		Emit:        emit,
		Session:     sess,
		State:       state,
		Budget:      NewCallBudget(0),
		eventLog:    newEventLog(logger),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// GetState returns the turn-local value for k.
func (rc *RunContext) GetState(k string) (any, bool) { return rc.State.Get(k) }

// SetState stages a state mutation for the turn.
func (rc *RunContext) SetState(k string, v any) { rc.State.Set(k, v) }

// ApplyStateDelta stages every pair of d.
func (rc *RunContext) ApplyStateDelta(d map[string]any) { rc.State.Apply(d) }

// StateSnapshot returns the merged state as seen by this turn.
func (rc *RunContext) StateSnapshot() map[string]any { return rc.State.Snapshot() }

// GetAgentName returns the logical agent name for this run.
func (rc *RunContext) GetAgentName() string { return rc.Agent.Name }

// History returns prior conversation contents of the session.
func (rc *RunContext) History(maxTurns int) []Content { return rc.Session.History(maxTurns) }

// ForAgent derives the context handed to a delegate. The state buffer and
// emission channel are shared; the model call budget is per agent.
func (rc *RunContext) ForAgent(agent AgentInfo, maxModelCalls int) *RunContext {
	c := *rc
	c.Agent = agent
	c.Budget = NewCallBudget(maxModelCalls)

	return &c
}

// WithContext returns a shallow copy bound to ctx.
func (rc *RunContext) WithContext(ctx context.Context) *RunContext {
	c := *rc
	c.Context = ctx

	return &c
}

// EmitEvent stamps the event with turn metadata and hands it to the runner.
// It blocks until the runner accepts the event or the context ends.
func (rc *RunContext) EmitEvent(ev Event) error {
	ev.TurnID = rc.TurnID
	if ev.Author == "" {
		ev.Author = rc.Agent.Name
	}

	select {
	case <-rc.Context.Done():
		return rc.Context.Err()
	case rc.Emit <- ev:
	}

	return nil
}
