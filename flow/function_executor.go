package flow

import (
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/tool"
)

// FunctionExecutor executes a batch of function/tool calls possibly in
// parallel. Implementations must:
//   - Respect runCtx.Context cancellation
//   - Never panic (recover internally and report the panic as a tool error)
//   - Return exactly one tool_result event per call, in call order
//   - Apply ToolContext accumulated actions to the returned events
type FunctionExecutor interface {
	Execute(runCtx *core.RunContext, tools *tool.Toolset, fnCalls []core.FunctionCall) []core.Event
}

// FunctionExecutorConfig configures the default parallel executor.
type FunctionExecutorConfig struct {
	MaxParallel    int  // 0 or <1 => no explicit limit (len(fnCalls))
	LogStartEvents bool // log a start line per function
}

// parallelFunctionExecutor is the default implementation.
type parallelFunctionExecutor struct {
	cfg FunctionExecutorConfig
}

// NewParallelFunctionExecutor constructs a new executor with the given config.
func NewParallelFunctionExecutor(cfg FunctionExecutorConfig) FunctionExecutor {
	return &parallelFunctionExecutor{cfg: cfg}
}

func (e *parallelFunctionExecutor) Execute(runCtx *core.RunContext, tools *tool.Toolset, fnCalls []core.FunctionCall) []core.Event {
	n := len(fnCalls)
	if n == 0 {
		return nil
	}

	results := make([]core.Event, n)

	// Fast path: single call, execute inline.
	if n == 1 {
		results[0] = e.executeOne(runCtx, tools, fnCalls[0])
		return results
	}

	batchStart := time.Now()

	// Identity protected calls run after the rest of the batch so a
	// verification call in the same step is visible to them.
	open := make([]int, 0, n)
	protected := make([]int, 0, n)

	for i, fc := range fnCalls {
		if tools.IsProtected(fc.Name) {
			protected = append(protected, i)
		} else {
			open = append(open, i)
		}
	}

	e.runPhase(runCtx, tools, fnCalls, open, results)
	e.runPhase(runCtx, tools, fnCalls, protected, results)

	runCtx.LogDebug(
		"agent.functions.batch.complete",
		"agent", runCtx.Agent.Name,
		"count", n,
		"protected", len(protected),
		"parallelism", e.cfg.MaxParallel,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results
}

// runPhase executes the calls at idx concurrently and stores each result at
// its call index.
func (e *parallelFunctionExecutor) runPhase(runCtx *core.RunContext, tools *tool.Toolset, fnCalls []core.FunctionCall, idx []int, results []core.Event) {
	var g errgroup.Group
	if e.cfg.MaxParallel > 0 {
		g.SetLimit(e.cfg.MaxParallel)
	}

	for _, i := range idx {
		g.Go(func() error {
			results[i] = e.executeOne(runCtx, tools, fnCalls[i])
			return nil
		})
	}

	_ = g.Wait()
}

func (e *parallelFunctionExecutor) executeOne(runCtx *core.RunContext, tools *tool.Toolset, fc core.FunctionCall) core.Event {
	agent := runCtx.Agent.Name
	toolCtx := core.NewToolContext(runCtx, fc)

	if e.cfg.LogStartEvents {
		runCtx.LogInfo("agent.function.start", "agent", agent, "function", fc.Name, "function_call_id", fc.ID)
	}

	start := time.Now()

	var (
		result any
		err    error
	)

	if cerr := runCtx.Err(); cerr != nil {
		err = cerr
	} else {
		func() { // panic safety
			defer func() {
				if r := recover(); r != nil {
					err = panicError(fc.Name, r)
					runCtx.LogError("agent.function.panic", "agent", agent, "function", fc.Name, "recover", r)
				}
			}()

			result, err = tools.Execute(toolCtx, fc.Name, fc.Arguments)
		}()
	}

	runCtx.LogInfo(
		"agent.function.executed",
		"agent", agent,
		"function", fc.Name,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)

	ev := core.NewToolResultEvent(agent, fc, result, err)
	toolCtx.InternalApplyActions(&ev)

	return ev
}

// panicError converts a recovered panic value to a tool error.
func panicError(name string, r any) error {
	return &tool.ToolError{
		Tool:    name,
		Message: "tool panicked",
		Code:    tool.CodeExecution,
		Err:     &panicErr{val: r, stack: debug.Stack()},
	}
}

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
