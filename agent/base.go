package agent

import (
	"fmt"

	"github.com/hupe1980/supportmesh/core"
)

// Agent type tags used in core.AgentInfo.
const (
	TypeRouter     = "router"
	TypeSpecialist = "specialist"
)

// BaseAgent bundles identity and the immutable delegate set. Embed it in
// concrete agent implementations and supply a Run method to satisfy the
// core.Agent interface. BaseAgent is read-only after construction and safe
// for concurrent use.
type BaseAgent struct {
	name        string
	description string
	agentType   string
	delegates   []core.Agent
	byName      map[string]core.Agent
}

// NewBaseAgent constructs a BaseAgent. Delegate names must be unique and
// distinct from the agent's own name.
func NewBaseAgent(name, description, agentType string, delegates ...core.Agent) (BaseAgent, error) {
	if name == "" {
		return BaseAgent{}, fmt.Errorf("agent name is required")
	}

	if description == "" {
		description = fmt.Sprintf("Agent %s", name)
	}

	b := BaseAgent{
		name:        name,
		description: description,
		agentType:   agentType,
		byName:      make(map[string]core.Agent, len(delegates)),
	}

	for _, d := range delegates {
		if d == nil {
			return BaseAgent{}, fmt.Errorf("agent %q: nil delegate", name)
		}

		dn := d.Name()
		if dn == name {
			return BaseAgent{}, fmt.Errorf("agent %q cannot delegate to itself", name)
		}

		if _, dup := b.byName[dn]; dup {
			return BaseAgent{}, fmt.Errorf("agent %q declares delegate %q twice", name, dn)
		}

		b.byName[dn] = d
		b.delegates = append(b.delegates, d)
	}

	return b, nil
}

// Name returns the external identifier of the agent.
func (b *BaseAgent) Name() string { return b.name }

// Description returns the capability summary shown to routing models.
func (b *BaseAgent) Description() string { return b.description }

// Info returns the identity used in run contexts and events.
func (b *BaseAgent) Info() core.AgentInfo { return core.AgentInfo{Name: b.name, Type: b.agentType} }

// SubAgents returns a copy of the declared delegates.
func (b *BaseAgent) SubAgents() []core.Agent {
	out := make([]core.Agent, len(b.delegates))
	copy(out, b.delegates)

	return out
}

// DelegateNames returns the delegate names in declaration order.
func (b *BaseAgent) DelegateNames() []string {
	out := make([]string, len(b.delegates))
	for i, d := range b.delegates {
		out[i] = d.Name()
	}

	return out
}

// Delegate returns the direct delegate called name.
func (b *BaseAgent) Delegate(name string) (core.Agent, bool) {
	d, ok := b.byName[name]
	return d, ok
}

// FindAgent performs a depth-first search below this agent for an agent
// with the given name. The agent itself is not matched.
func (b *BaseAgent) FindAgent(name string) core.Agent {
	for _, child := range b.delegates {
		if child.Name() == name {
			return child
		}

		if found := child.FindAgent(name); found != nil {
			return found
		}
	}

	return nil
}

// resolveTransfer maps a transfer request onto a declared delegate.
func (b *BaseAgent) resolveTransfer(target string) (core.Agent, error) {
	d, ok := b.Delegate(target)
	if !ok {
		return nil, &core.CapabilityError{Agent: b.name, Target: target, Reason: "not a declared delegate"}
	}

	return d, nil
}

// emitFinal emits the terminal answer of the turn.
func (b *BaseAgent) emitFinal(rc *core.RunContext, text string) error {
	return rc.EmitEvent(core.NewFinalMessageEvent(b.name, text))
}

// MemoryBound is implemented by agents bound to a long-term memory.
type MemoryBound interface {
	LongTermMemory() core.LongTermMemory
}

// BeforeRunFunc is an optional pre-execution callback. It runs before the
// agent's own logic and may seed turn state; an error fails the turn.
type BeforeRunFunc func(rc *core.RunContext) error

func runBefore(rc *core.RunContext, fn BeforeRunFunc, agent string) error {
	if fn == nil {
		return nil
	}

	if err := fn(rc); err != nil {
		rc.LogError("agent.before_run.error", "agent", agent, "error", err.Error())
		return fmt.Errorf("before run callback of %s: %w", agent, err)
	}

	return nil
}
