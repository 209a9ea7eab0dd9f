package flow

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/model"
)

const tracerName = "github.com/hupe1980/supportmesh/flow"

// BaseFlow is the single-agent reasoning loop: request -> model -> (tool
// execution -> model)* with pluggable request processors.
type BaseFlow struct {
	agent             FlowAgent
	requestProcessors []RequestProcessor
	executor          FunctionExecutor
	tracer            trace.Tracer
}

var _ Flow = (*BaseFlow)(nil)

// NewBaseFlow creates a flow without processors.
func NewBaseFlow(agent FlowAgent) *BaseFlow {
	return &BaseFlow{
		agent:             agent,
		requestProcessors: []RequestProcessor{},
		executor:          NewParallelFunctionExecutor(FunctionExecutorConfig{}),
		tracer:            otel.Tracer(tracerName),
	}
}

// AddRequestProcessor appends a request processor; order of registration defines execution order.
func (f *BaseFlow) AddRequestProcessor(processor RequestProcessor) {
	f.requestProcessors = append(f.requestProcessors, processor)
}

// SetFunctionExecutor replaces the default parallel executor.
func (f *BaseFlow) SetFunctionExecutor(e FunctionExecutor) { f.executor = e }

// Run drives the loop until the model answers without tool calls, a
// transfer is requested or an unrecoverable error occurs. Tool failures are
// not fatal: they are returned to the model as error results.
func (f *BaseFlow) Run(runCtx *core.RunContext) (Result, error) {
	var (
		res   Result
		steps []core.Content
	)

	name := f.agent.Name()

	for {
		if err := runCtx.Err(); err != nil {
			return res, err
		}

		if err := runCtx.Budget.Spend(); err != nil {
			return res, err
		}

		res.Steps++

		req := &model.Request{Stream: f.agent.IsStreamingEnabled()}
		for _, p := range f.requestProcessors {
			if err := p.ProcessRequest(runCtx, req, f.agent); err != nil {
				return res, fmt.Errorf("request processor %s failed: %w", p.Name(), err)
			}
		}

		// Steps of this turn keep their thoughts so providers can verify
		// signed reasoning that preceded a tool call.
		req.Contents = append(req.Contents, steps...)

		resp, err := f.generate(runCtx, *req, res.Steps)
		if err != nil {
			return res, err
		}

		content := ensureCallIDs(resp.Content)
		steps = append(steps, content)

		calls := content.FunctionCalls()
		if len(calls) == 0 {
			res.Text = content.Text()

			runCtx.LogDebug("flow.answer", "agent", name, "steps", res.Steps, "length", len(res.Text))

			return res, nil
		}

		for _, call := range calls {
			if err := runCtx.EmitEvent(core.NewToolCallEvent(name, call)); err != nil {
				return res, err
			}
		}

		results := f.executor.Execute(runCtx, f.agent.Toolset(), calls)

		parts := make([]core.Part, 0, len(results))
		for _, ev := range results {
			if err := runCtx.EmitEvent(ev); err != nil {
				return res, err
			}

			if ev.Content != nil {
				parts = append(parts, ev.Content.Parts...)
			}

			if t := ev.Actions.TransferToAgent; t != "" && res.Transfer == "" {
				res.Transfer = t
			}
		}

		steps = append(steps, core.Content{Role: "tool", Parts: parts})

		if res.Transfer != "" {
			runCtx.LogInfo("flow.transfer", "agent", name, "to_agent", res.Transfer)
			return res, nil
		}
	}
}

// generate performs one model call, relaying streamed fragments as events.
func (f *BaseFlow) generate(runCtx *core.RunContext, req model.Request, step int) (model.Response, error) {
	name := f.agent.Name()
	llm := f.agent.Model()
	info := llm.Info()

	ctx, span := f.tracer.Start(runCtx.Context, "model.generate",
		trace.WithAttributes(
			attribute.String("agent.name", name),
			attribute.String("model.name", info.Name),
			attribute.String("model.provider", info.Provider),
			attribute.Int("flow.step", step),
		))
	defer span.End()

	streamedThoughts := false

	resp, err := model.GenerateContent(ctx, llm, req, func(chunk model.Response) error {
		if t := chunk.Content.Thoughts(); t != "" {
			streamedThoughts = true

			if err := runCtx.EmitEvent(core.NewThoughtEvent(name, t)); err != nil {
				return err
			}
		}

		if t := chunk.Content.Text(); t != "" {
			return runCtx.EmitEvent(core.NewPartialTextEvent(name, t))
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		runCtx.LogError("flow.model.error", "agent", name, "model", info.Name, "error", err.Error())

		return resp, fmt.Errorf("model %s: %w", info.Name, err)
	}

	if resp.Usage != nil {
		span.SetAttributes(attribute.Int("model.tokens.total", resp.Usage.TotalTokens))
	}

	if !streamedThoughts && req.Thinking != nil && req.Thinking.IncludeThoughts {
		if t := resp.Content.Thoughts(); t != "" {
			if err := runCtx.EmitEvent(core.NewThoughtEvent(name, t)); err != nil {
				return resp, err
			}
		}
	}

	return resp, nil
}

// ensureCallIDs assigns ids to function calls that arrived without one so
// results can be correlated.
func ensureCallIDs(c core.Content) core.Content {
	var parts []core.Part

	for i, p := range c.Parts {
		fc, ok := p.(core.FunctionCallPart)
		if !ok || fc.FunctionCall.ID != "" {
			continue
		}

		if parts == nil {
			parts = append([]core.Part(nil), c.Parts...)
		}

		fc.FunctionCall.ID = core.NewID()
		parts[i] = fc
	}

	if parts == nil {
		return c
	}

	return core.Content{Role: c.Role, Parts: parts}
}
