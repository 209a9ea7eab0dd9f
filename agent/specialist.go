package agent

import (
	"fmt"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/flow"
	"github.com/hupe1980/supportmesh/model"
	"github.com/hupe1980/supportmesh/tool"
)

// Planner configures provider side planning for a specialist.
type Planner struct {
	// IncludeThoughts streams the model's reasoning as thought events.
	IncludeThoughts bool
	// ThinkingBudget bounds the reasoning tokens per model call.
	ThinkingBudget int
}

// SpecialistOptions configures a Specialist.
//
// Use functional options with NewSpecialist to override defaults.
type SpecialistOptions struct {
	Description string
	Instruction Instruction
	// Tools are wrapped into a fresh capability set. Ignored when Toolset is set.
	Tools   []tool.Tool
	Toolset *tool.Toolset
	// ToolOptions configure the toolset built from Tools (timeouts, breaker).
	ToolOptions []func(o *tool.RegistryOptions)

	Knowledge     core.KnowledgeBase
	KnowledgeTopK int
	Memory        core.LongTermMemory
	MemoryTopK    int

	Planner         *Planner
	MaxSteps        int
	MaxHistoryTurns int
	EnableStreaming bool

	Delegates       []core.Agent
	BeforeRun       BeforeRunFunc
	OutputFormatter OutputFormatter
}

// Specialist is a capability-bounded agent. It may only call the tools of its
// toolset (plus the retrieval and transfer tools derived from its bindings)
// and may only transfer to its declared delegates.
type Specialist struct {
	BaseAgent

	llm             model.Model
	instruction     Instruction
	tools           *tool.Toolset
	memory          core.LongTermMemory
	thinking        *model.ThinkingConfig
	maxSteps        int
	maxHistoryTurns int
	streaming       bool
	beforeRun       BeforeRunFunc
	formatter       OutputFormatter
	flow            flow.Flow
}

var (
	_ core.Agent     = (*Specialist)(nil)
	_ flow.FlowAgent = (*Specialist)(nil)
	_ MemoryBound    = (*Specialist)(nil)
)

// NewSpecialist creates a specialist with sensible defaults:
//   - 10 model calls per turn
//   - 20 turns of conversation history
//   - DefaultFormatter for the final answer
//   - top 3 knowledge passages / memories
func NewSpecialist(name string, llm model.Model, optFns ...func(o *SpecialistOptions)) (*Specialist, error) {
	if llm == nil {
		return nil, fmt.Errorf("specialist %q: model is required", name)
	}

	opts := SpecialistOptions{
		Instruction:     NewInstructionFromText(fmt.Sprintf("You are %s, a helpful customer support assistant.", name)),
		MaxSteps:        10,
		MaxHistoryTurns: 20,
		KnowledgeTopK:   3,
		MemoryTopK:      3,
		OutputFormatter: DefaultFormatter{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	base, err := NewBaseAgent(name, opts.Description, TypeSpecialist, opts.Delegates...)
	if err != nil {
		return nil, err
	}

	tools, err := buildToolset(name, opts, base.DelegateNames())
	if err != nil {
		return nil, err
	}

	s := &Specialist{
		BaseAgent:       base,
		llm:             llm,
		instruction:     opts.Instruction,
		tools:           tools,
		memory:          opts.Memory,
		maxSteps:        opts.MaxSteps,
		maxHistoryTurns: opts.MaxHistoryTurns,
		streaming:       opts.EnableStreaming,
		beforeRun:       opts.BeforeRun,
		formatter:       opts.OutputFormatter,
	}

	if p := opts.Planner; p != nil {
		s.thinking = &model.ThinkingConfig{IncludeThoughts: p.IncludeThoughts, Budget: p.ThinkingBudget}
	}

	if s.formatter == nil {
		s.formatter = DefaultFormatter{}
	}

	s.flow = flow.NewSingleAgentFlow(s)

	return s, nil
}

// buildToolset resolves the capability set once at construction time.
func buildToolset(name string, opts SpecialistOptions, delegates []string) (*tool.Toolset, error) {
	var (
		ts  *tool.Toolset
		err error
	)

	if opts.Toolset != nil {
		ts = opts.Toolset.ForAgent(name)
	} else {
		ts, err = tool.NewToolset(name, opts.Tools, opts.ToolOptions...)
		if err != nil {
			return nil, err
		}
	}

	var extra []tool.Tool

	if opts.Knowledge != nil {
		kt, err := tool.NewQueryKnowledgeTool(opts.Knowledge, opts.KnowledgeTopK)
		if err != nil {
			return nil, err
		}

		extra = append(extra, kt)
	}

	if opts.Memory != nil {
		mt, err := tool.NewLoadMemoryTool(opts.Memory, opts.MemoryTopK)
		if err != nil {
			return nil, err
		}

		extra = append(extra, mt)
	}

	if len(delegates) > 0 {
		extra = append(extra, tool.NewTransferToAgentTool(delegates...))
	}

	if len(extra) == 0 {
		return ts, nil
	}

	ts, err = ts.With(extra...)
	if err != nil {
		return nil, err
	}

	return ts.ForAgent(name), nil
}

// Model returns the language model instance.
func (s *Specialist) Model() model.Model { return s.llm }

// Toolset returns the specialist's capability set.
func (s *Specialist) Toolset() *tool.Toolset { return s.tools }

// Thinking returns the planner configuration (nil when planning is off).
func (s *Specialist) Thinking() *model.ThinkingConfig { return s.thinking }

// IsStreamingEnabled returns whether streaming responses are enabled.
func (s *Specialist) IsStreamingEnabled() bool { return s.streaming }

// MaxHistoryTurns returns the number of prior turns replayed to the model.
func (s *Specialist) MaxHistoryTurns() int { return s.maxHistoryTurns }

// LongTermMemory returns the bound long-term memory, if any.
func (s *Specialist) LongTermMemory() core.LongTermMemory { return s.memory }

// ResolveInstructions returns the raw instruction text.
func (s *Specialist) ResolveInstructions(rc *core.RunContext) (string, error) {
	return s.instruction.Resolve(rc)
}

// Run executes the reasoning loop. On an answer it formats the text and
// emits the final message; on a transfer it returns the delegate.
func (s *Specialist) Run(rc *core.RunContext) (core.Outcome, error) {
	rc = rc.ForAgent(s.Info(), s.maxSteps)

	rc.LogDebug("agent.run.start", "agent", s.Name(), "turn_id", rc.TurnID, "depth", rc.Depth)

	if err := runBefore(rc, s.beforeRun, s.Name()); err != nil {
		return core.Outcome{}, err
	}

	res, err := s.flow.Run(rc)
	if err != nil {
		return core.Outcome{}, err
	}

	if res.Transfer != "" {
		next, err := s.resolveTransfer(res.Transfer)
		if err != nil {
			return core.Outcome{}, err
		}

		rc.LogInfo("agent.delegate", "agent", s.Name(), "to_agent", next.Name())

		return core.Outcome{Next: next}, nil
	}

	text, err := s.formatter.Format(rc, res.Text)
	if err != nil {
		return core.Outcome{}, fmt.Errorf("format answer of %s: %w", s.Name(), err)
	}

	rc.LogDebug("agent.run.complete", "agent", s.Name(), "steps", res.Steps)

	return core.Outcome{}, s.emitFinal(rc, text)
}
