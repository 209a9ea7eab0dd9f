package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/supportmesh/auth"
	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
	"github.com/hupe1980/supportmesh/observability"
	"github.com/hupe1980/supportmesh/session"
)

const tracerName = "github.com/hupe1980/supportmesh/runner"

// ErrTurnNotFound is returned by Cancel for unknown or finished turns.
var ErrTurnNotFound = errors.New("turn not found")

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// SessionStore persists sessions and turns (default in-memory).
	SessionStore core.SessionStore
	// Gate injects the trusted identity before the root agent runs. A nil
	// gate still strips reserved keys from the payload.
	Gate *auth.Gate
	// MaxDelegationDepth bounds the delegation chain below the root agent.
	MaxDelegationDepth int
	// EventBufferSize sets channel buffering between agents, runner and caller.
	EventBufferSize int
	// TurnTimeout bounds a whole turn. Zero disables the bound.
	TurnTimeout time.Duration
	// PersistTimeout bounds appending the turn after the caller went away.
	PersistTimeout time.Duration
	// RememberTurns writes successful exchanges to the root agent's
	// long-term memory, if it has one.
	RememberTurns bool
	Metrics       observability.Recorder
	Tracer        trace.Tracer
	Logger        logging.Logger
}

// Runner coordinates one turn end to end: session, auth gate, iterative
// delegation, event relay and persistence. Public methods are safe for
// concurrent use.
type Runner struct {
	root core.Agent
	opts Options

	activeTurns map[string]context.CancelFunc
	mu          sync.Mutex
}

var _ core.Runner = (*Runner)(nil)

// New constructs a Runner for the root agent with optional overrides.
func New(root core.Agent, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxDelegationDepth: 3,
		EventBufferSize:    64,
		PersistTimeout:     10 * time.Second,
		RememberTurns:      true,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.SessionStore == nil {
		opts.SessionStore = session.NewInMemoryStore()
	}

	if opts.Gate == nil {
		opts.Gate = auth.NewGate(nil)
	}

	if opts.Metrics == nil {
		opts.Metrics = observability.NoopRecorder{}
	}

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = 1
	}

	return &Runner{
		root:        root,
		opts:        opts,
		activeTurns: make(map[string]context.CancelFunc),
	}
}

// Root returns the root agent.
func (r *Runner) Root() core.Agent { return r.root }

// SessionStore returns the store the runner persists turns to.
func (r *Runner) SessionStore() core.SessionStore { return r.opts.SessionStore }

// RunTurn validates the request, ensures the session exists and starts the
// turn asynchronously. The returned channel carries the turn's events in
// order and is closed when the turn has been persisted.
func (r *Runner) RunTurn(ctx context.Context, req core.TurnRequest) (string, <-chan core.Event, error) {
	if err := req.Validate(); err != nil {
		return "", nil, err
	}

	sess, err := r.opts.SessionStore.Create(ctx, req.Key(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}

	turnID := core.NewID()

	turnCtx, cancel := context.WithCancel(ctx)
	if r.opts.TurnTimeout > 0 {
		turnCtx, cancel = withTimeout(turnCtx, cancel, r.opts.TurnTimeout)
	}

	r.mu.Lock()
	r.activeTurns[turnID] = cancel
	r.mu.Unlock()

	out := make(chan core.Event, r.opts.EventBufferSize)

	t := &turn{
		runner:  r,
		req:     req,
		id:      turnID,
		session: sess,
		callCtx: ctx,
		ctx:     turnCtx,
		out:     out,
		started: time.Now().UTC(),
		logger:  logging.With(r.opts.Logger, "turn_id", turnID, "session", req.Key().String()),
	}

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.activeTurns, turnID)
			r.mu.Unlock()
			close(out)
		}()

		t.execute()
	}()

	return turnID, out, nil
}

func withTimeout(ctx context.Context, parent context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, d)

	return ctx, func() {
		cancel()
		parent()
	}
}

// Cancel cancels a running turn by ID. The partial turn is persisted as
// cancelled and no terminal event is emitted.
func (r *Runner) Cancel(turnID string) error {
	r.mu.Lock()
	cancel, exists := r.activeTurns[turnID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}

	cancel()

	return nil
}

// ActiveTurns returns the number of turns in flight.
func (r *Runner) ActiveTurns() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.activeTurns)
}
