// Package supportmesh wires the customer support application from a
// configuration: identity gate, router and specialists, short and long-term
// memory, knowledge retrieval, observability and the HTTP surface.
//
// Most deployments use the supportmesh command. Embedding applications
// typically:
//  1. Load a config.Config (config.Load)
//  2. Build an App via New()
//  3. Serve it over HTTP (Serve) or run turns directly (InvokeSync)
package supportmesh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/supportmesh/agent"
	"github.com/hupe1980/supportmesh/auth"
	"github.com/hupe1980/supportmesh/config"
	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
	"github.com/hupe1980/supportmesh/model"
	"github.com/hupe1980/supportmesh/observability"
	"github.com/hupe1980/supportmesh/runner"
	"github.com/hupe1980/supportmesh/server"
	"github.com/hupe1980/supportmesh/support"
	"github.com/hupe1980/supportmesh/tool"
)

const instrumentationName = "github.com/hupe1980/supportmesh"

// Options override parts of the wiring, mostly for tests and embedding.
type Options struct {
	// Logger replaces the logger built from the logging section.
	Logger logging.Logger
	// RouterModel and SpecialistModel replace the configured provider.
	RouterModel     model.Model
	SpecialistModel model.Model
	// CRM replaces the seeded demo CRM.
	CRM *support.CRM
}

// App is a fully wired application.
type App struct {
	cfg     *config.Config
	logger  logging.Logger
	agents  *support.Agents
	runner  *runner.Runner
	server  *server.Server
	closers []closer
}

// New wires an App from cfg. ctx bounds startup work (knowledge loading,
// JWKS fetches) and background loops of the HTTP layer.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (app *App, err error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &App{cfg: cfg, logger: opts.Logger}

	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if a.logger == nil {
		if a.logger, err = NewLogger(cfg.Logging, os.Stderr); err != nil {
			return nil, err
		}
	}

	a.logger = logging.With(a.logger, "app", cfg.App.Name)

	tp, shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		Exporter:     cfg.Observability.Tracing.Exporter,
		Endpoint:     cfg.Observability.Tracing.Endpoint,
		SamplingRate: cfg.Observability.Tracing.SamplingRate,
		ServiceName:  cfg.App.Name,
	})
	if err != nil {
		return nil, err
	}

	a.closers = append(a.closers, closer(shutdownTracer))
	tracer := tp.Tracer(instrumentationName)

	var (
		recorder       observability.Recorder = observability.NoopRecorder{}
		metricsHandler http.Handler
	)

	if cfg.Observability.Metrics.On() {
		metrics, err := observability.NewMetrics()
		if err != nil {
			return nil, err
		}

		a.closers = append(a.closers, metrics.Shutdown)
		recorder, metricsHandler = metrics, metrics.Handler()
	}

	routerLLM, specialistLLM := opts.RouterModel, opts.SpecialistModel
	if routerLLM == nil || specialistLLM == nil {
		llm, err := NewModel(cfg.Model, a.logger)
		if err != nil {
			return nil, err
		}

		if routerLLM == nil {
			routerLLM = llm
		}

		if specialistLLM == nil {
			specialistLLM = llm
		}
	}

	embedder, err := NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	sessions, closeSessions, err := NewSessionStore(cfg.Session, a.logger)
	if err != nil {
		return nil, err
	}

	a.addCloser(closeSessions)

	mem, closeMemory, err := NewLongTermMemory(cfg.Memory, embedder, a.logger)
	if err != nil {
		return nil, err
	}

	a.addCloser(closeMemory)

	kb, err := NewKnowledgeBase(ctx, cfg.Knowledge, embedder, a.logger)
	if err != nil {
		return nil, err
	}

	resolver, err := NewIdentityResolver(ctx, cfg.Auth)
	if err != nil {
		return nil, err
	}

	a.agents, err = support.NewAgents(routerLLM, specialistLLM, func(o *support.Options) {
		o.CRM = opts.CRM
		o.Knowledge = kb
		o.KnowledgeTopK = cfg.Knowledge.TopK
		o.Memory = mem
		o.MemoryTopK = cfg.Memory.TopK
		o.Planner = &agent.Planner{IncludeThoughts: cfg.Model.IncludeThoughts, ThinkingBudget: cfg.Model.ThinkingBudget}
		o.ToolOptions = append(o.ToolOptions, toolOptions(a.logger, tracer, cfg.Model.Breaker))
	})
	if err != nil {
		return nil, err
	}

	a.runner = runner.New(a.agents.Root, func(o *runner.Options) {
		o.SessionStore = sessions
		o.Gate = auth.NewGate(resolver, func(o *auth.Options) { o.Logger = a.logger })
		o.MaxDelegationDepth = cfg.Runner.MaxDelegationDepth
		o.EventBufferSize = cfg.Runner.EventBuffer
		o.TurnTimeout = cfg.Runner.TurnTimeout
		o.RememberTurns = cfg.Runner.Remember()
		o.Metrics = recorder
		o.Tracer = tracer
		o.Logger = a.logger
	})

	a.server = server.New(ctx, a.runner, func(o *server.Options) {
		o.AppName = cfg.App.Name
		o.MetricsHandler = metricsHandler
		o.Recorder = recorder
		o.Tracer = tracer
		o.RateLimit = cfg.Server.RateLimit
		o.RateBurst = cfg.Server.RateBurst
		o.ReadHeaderTimeout = cfg.Server.ReadHeaderTimeout
		o.ShutdownTimeout = cfg.Server.ShutdownTimeout
		o.Logger = a.logger
	})

	a.logger.Info("app.ready",
		"model", cfg.Model.Provider,
		"session_backend", cfg.Session.Backend,
		"memory_backend", cfg.Memory.Backend,
		"auth_mode", cfg.Auth.Mode,
		"knowledge", kb != nil,
	)

	return a, nil
}

func toolOptions(logger logging.Logger, tracer trace.Tracer, b config.BreakerConfig) func(o *tool.RegistryOptions) {
	return func(o *tool.RegistryOptions) {
		o.Logger = logger
		o.Tracer = tracer
		o.Breaker.MaxFailures = b.MaxFailures
		o.Breaker.Timeout = b.Timeout
	}
}

func (a *App) addCloser(c closer) {
	if c != nil {
		a.closers = append(a.closers, c)
	}
}

// Runner returns the turn runner.
func (a *App) Runner() *runner.Runner { return a.runner }

// Agents returns the agent tree.
func (a *App) Agents() *support.Agents { return a.agents }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Serve listens on the configured address until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	return a.server.ListenAndServe(ctx, a.cfg.Server.Addr)
}

// Close releases every resource in reverse acquisition order.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	for _, c := range slices.Backward(a.closers) {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	a.closers = nil

	return errors.Join(errs...)
}

// TurnError is returned by InvokeSync when a turn ends with an error event.
type TurnError struct {
	Kind    core.ErrorKind
	Message string
}

func (e *TurnError) Error() string { return fmt.Sprintf("turn failed (%s): %s", e.Kind, e.Message) }

// ErrTurnCancelled is returned by InvokeSync when a turn ended without a
// terminal event.
var ErrTurnCancelled = errors.New("turn cancelled")

// Result is the outcome of a synchronous turn.
type Result struct {
	TurnID string
	Events []core.Event
	// Text is the final message.
	Text string
}

// InvokeSync runs one turn and drains its events.
func (a *App) InvokeSync(ctx context.Context, userID, sessionID, prompt string) (*Result, error) {
	turnID, events, err := a.runner.RunTurn(ctx, core.TurnRequest{
		AppName:   a.cfg.App.Name,
		UserID:    userID,
		SessionID: sessionID,
		Prompt:    prompt,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{TurnID: turnID}

	for ev := range events {
		res.Events = append(res.Events, ev)
	}

	if len(res.Events) == 0 || !res.Events[len(res.Events)-1].IsTerminal() {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		return res, ErrTurnCancelled
	}

	last := res.Events[len(res.Events)-1]
	if last.Kind == core.EventError {
		return res, &TurnError{Kind: last.ErrorKind, Message: last.Error}
	}

	res.Text = last.Text()

	return res, nil
}
