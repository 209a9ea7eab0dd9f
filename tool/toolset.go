package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
)

const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerSettings configures the per-tool circuit breaker.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
	// CallTimeout bounds a single tool call. Zero disables the bound.
	CallTimeout time.Duration
	Breaker     BreakerSettings
	Tracer      trace.Tracer
}

// Registry owns every tool known to the process together with its circuit
// breaker. Agents never call the registry directly; they receive a Toolset
// resolved once at construction.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	breakers map[string]*gobreaker.CircuitBreaker[any]
	opts     RegistryOptions
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{CallTimeout: 30 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/supportmesh/tool")
	}

	return &Registry{
		tools:    map[string]Tool{},
		breakers: map[string]*gobreaker.CircuitBreaker[any]{},
		opts:     opts,
	}
}

// Register adds tools. Duplicate or empty names are rejected.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		name := t.Name()
		if name == "" {
			return errors.New("tool name must not be empty")
		}

		if _, exists := r.tools[name]; exists {
			return fmt.Errorf("tool %q already registered", name)
		}

		r.tools[name] = t
		r.breakers[name] = newBreaker(name, r.opts.Breaker, r.opts.Logger)
	}

	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(tools ...Tool) {
	if err := r.Register(tools...); err != nil {
		panic(err)
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]

	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Toolset resolves the capability set of agent. Every name must be registered.
func (r *Registry) Toolset(agent string, names ...string) (*Toolset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ts := newToolset(agent, r.opts)

	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			return nil, fmt.Errorf("agent %q declares unknown tool %q", agent, n)
		}

		if err := ts.add(t, r.breakers[n]); err != nil {
			return nil, err
		}
	}

	return ts, nil
}

type handle struct {
	tool      Tool
	breaker   *gobreaker.CircuitBreaker[any]
	protected bool
}

// Toolset is the immutable capability set of one agent. Execute rejects any
// call outside the set before the tool runs.
type Toolset struct {
	agent   string
	handles map[string]*handle
	order   []string
	opts    RegistryOptions
}

// NewToolset builds a standalone capability set, each tool with its own breaker.
func NewToolset(agent string, tools []Tool, optFns ...func(o *RegistryOptions)) (*Toolset, error) {
	r := NewRegistry(optFns...)
	ts := newToolset(agent, r.opts)

	for _, t := range tools {
		if err := ts.add(t, newBreaker(t.Name(), r.opts.Breaker, r.opts.Logger)); err != nil {
			return nil, err
		}
	}

	return ts, nil
}

func newToolset(agent string, opts RegistryOptions) *Toolset {
	return &Toolset{agent: agent, handles: map[string]*handle{}, opts: opts}
}

func (ts *Toolset) add(t Tool, b *gobreaker.CircuitBreaker[any]) error {
	name := t.Name()
	if _, exists := ts.handles[name]; exists {
		return fmt.Errorf("agent %q declares tool %q twice", ts.agent, name)
	}

	ts.handles[name] = &handle{tool: t, breaker: b, protected: RequiresIdentity(t)}
	ts.order = append(ts.order, name)

	return nil
}

// With returns a copy of ts extended by tools (e.g. transfer_to_agent, load_memory).
func (ts *Toolset) With(tools ...Tool) (*Toolset, error) {
	if ts == nil {
		ts = newToolset("", NewRegistry().opts)
	}

	cp := newToolset(ts.agent, ts.opts)
	for _, n := range ts.order {
		h := ts.handles[n]
		if err := cp.add(h.tool, h.breaker); err != nil {
			return nil, err
		}
	}

	for _, t := range tools {
		if err := cp.add(t, newBreaker(t.Name(), ts.opts.Breaker, ts.opts.Logger)); err != nil {
			return nil, err
		}
	}

	return cp, nil
}

// ForAgent returns a copy bound to a different agent name sharing the same handles.
func (ts *Toolset) ForAgent(agent string) *Toolset {
	cp := *ts
	cp.agent = agent

	return &cp
}

// Tools returns the tools in declaration order.
func (ts *Toolset) Tools() []Tool {
	if ts == nil {
		return nil
	}

	out := make([]Tool, 0, len(ts.order))
	for _, n := range ts.order {
		out = append(out, ts.handles[n].tool)
	}

	return out
}

// Names returns the tool names in declaration order.
func (ts *Toolset) Names() []string {
	if ts == nil {
		return nil
	}

	return append([]string(nil), ts.order...)
}

// Has reports whether name is part of the capability set.
func (ts *Toolset) Has(name string) bool {
	if ts == nil {
		return false
	}

	_, ok := ts.handles[name]

	return ok
}

// IsProtected reports whether name requires a verified customer identity.
func (ts *Toolset) IsProtected(name string) bool {
	if ts == nil {
		return false
	}

	h, ok := ts.handles[name]

	return ok && h.protected
}

// Len returns the number of tools.
func (ts *Toolset) Len() int {
	if ts == nil {
		return 0
	}

	return len(ts.order)
}

// Execute runs a model-requested call. The checks happen in this order, each
// before any side effect: capability, identity, argument decoding. The call
// itself runs behind the tool's circuit breaker and the configured timeout.
func (ts *Toolset) Execute(toolCtx *core.ToolContext, name, rawArgs string) (result any, err error) {
	agent := toolCtx.AgentName()

	if ts == nil || !ts.Has(name) {
		toolCtx.LogWarn("tool.capability.denied", "agent", agent, "tool", name)
		return nil, capabilityError(agent, name, "tool is not in the agent's capability set")
	}

	h := ts.handles[name]

	if h.protected && !toolCtx.HasIdentity() {
		toolCtx.LogWarn("tool.identity.missing", "agent", agent, "tool", name)
		return nil, identityError(name)
	}

	args, err := decodeArgs(name, rawArgs)
	if err != nil {
		return nil, err
	}

	ctx, span := ts.opts.Tracer.Start(toolCtx.Context(), "tool."+name,
		trace.WithAttributes(
			attribute.String("tool.name", name),
			attribute.String("agent.name", agent),
			attribute.String("turn.id", toolCtx.TurnID()),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if ts.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ts.opts.CallTimeout)
		defer cancel()
	}

	callCtx := toolCtx.WithContext(ctx)

	result, err = h.breaker.Execute(func() (any, error) {
		return callWithContext(callCtx, h.tool, args)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &ToolError{Tool: name, Message: "tool temporarily unavailable", Code: CodeCircuitOpen, Err: err}
	}

	return result, err
}

// callWithContext runs the tool and returns early when ctx expires. A tool
// that ignores its context keeps running in the background but its result
// is discarded.
func callWithContext(tc *core.ToolContext, t Tool, args map[string]any) (any, error) {
	type outcome struct {
		result any
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		var o outcome

		defer func() {
			if r := recover(); r != nil {
				o = outcome{err: &ToolError{
					Tool:    t.Name(),
					Message: fmt.Sprintf("panic recovered: %v", r),
					Code:    CodeExecution,
					Details: string(debug.Stack()),
				}}
				tc.LogError("tool.call.panic", "tool", t.Name(), "recover", r)
			}
			done <- o
		}()

		o.result, o.err = t.Call(tc, args)
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-tc.Context().Done():
		err := tc.Context().Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &ToolError{
				Tool:    t.Name(),
				Message: "tool call timed out",
				Code:    CodeTimeout,
				Err:     &core.TimeoutError{Op: "tool " + t.Name(), Err: err},
			}
		}

		return nil, err
	}
}

func decodeArgs(name, raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}

	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, &ToolError{Tool: name, Message: fmt.Sprintf("failed to unmarshal args: %v", err), Code: CodeValidation}
	}

	return args, nil
}

func newBreaker(name string, s BreakerSettings, logger logging.Logger) *gobreaker.CircuitBreaker[any] {
	maxFailures := s.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}

	timeout := s.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}

	interval := s.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "tool:" + name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("tool.breaker.state_change", "breaker", name, "from", from.String(), "to", to.String())
		},
		// The breaker is shared by every caller of the tool, so only backend
		// faults count towards tripping.
		IsSuccessful: func(err error) bool {
			var toolErr *ToolError
			if errors.As(err, &toolErr) && toolErr.callerFault() {
				return true
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}
