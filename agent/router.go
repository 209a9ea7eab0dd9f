package agent

import (
	"fmt"
	"strings"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/flow"
	"github.com/hupe1980/supportmesh/model"
	"github.com/hupe1980/supportmesh/tool"
)

// DefaultRefusal is the policy answer for ambiguous or out-of-domain turns.
const DefaultRefusal = "Sorry, I can't answer this question. I can help you buy products or solve after-sales problems."

// RouterOptions configures a Router.
type RouterOptions struct {
	Description string
	// Instruction is the routing policy. The delegate catalogue is appended.
	Instruction Instruction
	// Refusal is emitted when the model does not pick exactly one delegate.
	Refusal string
	// AllowDirectAnswer lets the model answer without delegating.
	AllowDirectAnswer bool
	MaxHistoryTurns   int
	// Memory is the long-term memory completed turns are remembered in.
	Memory          core.LongTermMemory
	BeforeRun       BeforeRunFunc
	OutputFormatter OutputFormatter
}

// Router classifies a turn with one model call that may only use the
// transfer_to_agent tool. Exactly one valid transfer delegates the turn;
// anything else yields the refusal (or a direct answer when allowed).
type Router struct {
	BaseAgent

	llm             model.Model
	instruction     Instruction
	tools           *tool.Toolset
	refusal         string
	allowDirect     bool
	maxHistoryTurns int
	memory          core.LongTermMemory
	beforeRun       BeforeRunFunc
	formatter       OutputFormatter
	processors      []flow.RequestProcessor
}

var (
	_ core.Agent     = (*Router)(nil)
	_ flow.FlowAgent = (*Router)(nil)
	_ MemoryBound    = (*Router)(nil)
)

// NewRouter creates a router over delegates.
func NewRouter(name string, llm model.Model, delegates []core.Agent, optFns ...func(o *RouterOptions)) (*Router, error) {
	if llm == nil {
		return nil, fmt.Errorf("router %q: model is required", name)
	}

	if len(delegates) == 0 {
		return nil, fmt.Errorf("router %q: at least one delegate is required", name)
	}

	opts := RouterOptions{
		Refusal:         DefaultRefusal,
		MaxHistoryTurns: 10,
		OutputFormatter: DefaultFormatter{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	base, err := NewBaseAgent(name, opts.Description, TypeRouter, delegates...)
	if err != nil {
		return nil, err
	}

	tools, err := tool.NewToolset(name, []tool.Tool{tool.NewTransferToAgentTool(base.DelegateNames()...)})
	if err != nil {
		return nil, err
	}

	r := &Router{
		BaseAgent:       base,
		llm:             llm,
		tools:           tools,
		refusal:         opts.Refusal,
		allowDirect:     opts.AllowDirectAnswer,
		maxHistoryTurns: opts.MaxHistoryTurns,
		memory:          opts.Memory,
		beforeRun:       opts.BeforeRun,
		formatter:       opts.OutputFormatter,
		processors: []flow.RequestProcessor{
			flow.NewInstructionsProcessor(),
			flow.NewContentsProcessor(),
			flow.NewToolsProcessor(),
		},
	}

	r.instruction = JoinInstructions(opts.Instruction, NewInstructionFromText(r.catalogue()))

	if r.refusal == "" {
		r.refusal = DefaultRefusal
	}

	if r.formatter == nil {
		r.formatter = DefaultFormatter{}
	}

	return r, nil
}

// catalogue describes the delegates to the routing model.
func (r *Router) catalogue() string {
	var b strings.Builder

	b.WriteString("Route the customer's request by calling ")
	b.WriteString(tool.TransferToAgentName)
	b.WriteString(" with exactly one of these agents:\n")

	for _, d := range r.SubAgents() {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name(), d.Description())
	}

	if !r.allowDirect {
		b.WriteString("If the request matches none of them, call no tool.")
	}

	return b.String()
}

// Model returns the classification model.
func (r *Router) Model() model.Model { return r.llm }

// Toolset returns the transfer-only capability set.
func (r *Router) Toolset() *tool.Toolset { return r.tools }

// Thinking returns nil; routing never plans.
func (r *Router) Thinking() *model.ThinkingConfig { return nil }

// IsStreamingEnabled returns false; the classification is not streamed.
func (r *Router) IsStreamingEnabled() bool { return false }

// MaxHistoryTurns returns the number of prior turns used as context.
func (r *Router) MaxHistoryTurns() int { return r.maxHistoryTurns }

// LongTermMemory returns the memory completed turns are written to.
func (r *Router) LongTermMemory() core.LongTermMemory { return r.memory }

// ResolveInstructions returns the routing policy plus the delegate catalogue.
func (r *Router) ResolveInstructions(rc *core.RunContext) (string, error) {
	return r.instruction.Resolve(rc)
}

// Run classifies the turn and either delegates or answers with the refusal.
func (r *Router) Run(rc *core.RunContext) (core.Outcome, error) {
	rc = rc.ForAgent(r.Info(), 1)

	if err := runBefore(rc, r.beforeRun, r.Name()); err != nil {
		return core.Outcome{}, err
	}

	// A reply without a transfer call is the refusal path, so the model must
	// be free not to call the tool.
	req := &model.Request{ToolChoice: model.ToolChoiceAuto}

	for _, p := range r.processors {
		if err := p.ProcessRequest(rc, req, r); err != nil {
			return core.Outcome{}, fmt.Errorf("request processor %s failed: %w", p.Name(), err)
		}
	}

	if err := rc.Budget.Spend(); err != nil {
		return core.Outcome{}, err
	}

	resp, err := model.GenerateContent(rc.Context, r.llm, *req, nil)
	if err != nil {
		return core.Outcome{}, fmt.Errorf("router %s: %w", r.Name(), err)
	}

	calls := resp.Content.FunctionCalls()

	if len(calls) == 1 && calls[0].Name == tool.TransferToAgentName {
		next, err := r.transfer(rc, calls[0])
		if err != nil {
			return core.Outcome{}, err
		}

		if next != nil {
			return core.Outcome{Next: next}, nil
		}
	}

	if r.allowDirect && len(calls) == 0 {
		if text := strings.TrimSpace(resp.Content.Text()); text != "" {
			out, err := r.formatter.Format(rc, text)
			if err != nil {
				return core.Outcome{}, fmt.Errorf("format answer of %s: %w", r.Name(), err)
			}

			return core.Outcome{}, r.emitFinal(rc, out)
		}
	}

	rc.LogInfo("router.classification.refused", "agent", r.Name(), "turn_id", rc.TurnID, "calls", len(calls))

	return core.Outcome{}, r.emitFinal(rc, r.refusal)
}

// transfer executes the transfer call through the capability-checked
// toolset. A rejected target yields (nil, nil) so the caller refuses.
func (r *Router) transfer(rc *core.RunContext, call core.FunctionCall) (core.Agent, error) {
	if call.ID == "" {
		call.ID = core.NewID()
	}

	if err := rc.EmitEvent(core.NewToolCallEvent(r.Name(), call)); err != nil {
		return nil, err
	}

	tc := core.NewToolContext(rc, call)
	result, execErr := r.tools.Execute(tc, call.Name, call.Arguments)

	ev := core.NewToolResultEvent(r.Name(), call, result, execErr)
	tc.InternalApplyActions(&ev)

	if err := rc.EmitEvent(ev); err != nil {
		return nil, err
	}

	if execErr != nil {
		rc.LogWarn("router.transfer.rejected", "agent", r.Name(), "error", execErr.Error())
		return nil, nil
	}

	next, err := r.resolveTransfer(ev.Actions.TransferToAgent)
	if err != nil {
		rc.LogWarn("router.transfer.rejected", "agent", r.Name(), "error", err.Error())
		return nil, nil
	}

	rc.LogInfo("agent.delegate", "agent", r.Name(), "to_agent", next.Name())

	return next, nil
}
