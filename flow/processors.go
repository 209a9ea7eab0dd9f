package flow

import (
	"fmt"
	"time"

	"github.com/hupe1980/supportmesh/core"
	internalutil "github.com/hupe1980/supportmesh/internal/util"
	"github.com/hupe1980/supportmesh/model"
)

// CurrentTimeKey is the placeholder instructions can use for the wall clock.
const CurrentTimeKey = "current_time"

// InstructionsProcessor handles system prompt and instruction processing.
type InstructionsProcessor struct {
	now func() time.Time
}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor {
	return &InstructionsProcessor{now: time.Now}
}

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest renders the agent instructions against the turn state.
func (p *InstructionsProcessor) ProcessRequest(runCtx *core.RunContext, req *model.Request, agent FlowAgent) error {
	instructions, err := agent.ResolveInstructions(runCtx)
	if err != nil {
		return fmt.Errorf("failed to resolve instruction: %w", err)
	}

	state := runCtx.StateSnapshot()
	if _, ok := state[CurrentTimeKey]; !ok {
		state[CurrentTimeKey] = p.now().Format(time.RFC1123)
	}

	req.Instructions, err = internalutil.RenderTemplate(instructions, state)
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}

	runCtx.LogDebug("agent.instruction.resolved", "agent", agent.Name(), "length", len(req.Instructions))

	return nil
}

// ContentsProcessor adds the conversation history and the turn's user input.
type ContentsProcessor struct{}

// NewContentsProcessor creates a new contents processor.
func NewContentsProcessor() *ContentsProcessor { return &ContentsProcessor{} }

// Name returns the processor's identifier.
func (p *ContentsProcessor) Name() string { return "contents" }

// ProcessRequest adds user content to the chat request.
func (p *ContentsProcessor) ProcessRequest(runCtx *core.RunContext, req *model.Request, agent FlowAgent) error {
	contents := runCtx.History(agent.MaxHistoryTurns())
	contents = append(contents, runCtx.UserContent)

	req.Contents = contents

	return nil
}

// PlanningProcessor enables provider side thinking for planner agents.
type PlanningProcessor struct{}

// NewPlanningProcessor creates a new planning processor.
func NewPlanningProcessor() *PlanningProcessor { return &PlanningProcessor{} }

// Name returns the processor's identifier.
func (p *PlanningProcessor) Name() string { return "planning" }

// ProcessRequest copies the agent's thinking configuration into the request.
func (p *PlanningProcessor) ProcessRequest(_ *core.RunContext, req *model.Request, agent FlowAgent) error {
	if cfg := agent.Thinking(); cfg != nil {
		c := *cfg
		req.Thinking = &c
	}

	return nil
}

// ToolsProcessor advertises the agent's capability set to the model.
type ToolsProcessor struct{}

// NewToolsProcessor creates a new tools processor.
func NewToolsProcessor() *ToolsProcessor { return &ToolsProcessor{} }

// Name returns the processor's identifier.
func (p *ToolsProcessor) Name() string { return "tools" }

// ProcessRequest adds one function definition per tool.
func (p *ToolsProcessor) ProcessRequest(_ *core.RunContext, req *model.Request, agent FlowAgent) error {
	tools := agent.Toolset().Tools()
	if len(tools) == 0 {
		return nil
	}

	req.Tools = make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		req.Tools = append(req.Tools, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}

	return nil
}
