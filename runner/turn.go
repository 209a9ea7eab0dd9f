package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
)

// memoryBound is implemented by agents bound to a long-term memory.
type memoryBound interface {
	LongTermMemory() core.LongTermMemory
}

// turn is the state of one running turn. Only the goroutine started by
// RunTurn touches it, except agent which the delegation goroutine writes
// before signalling done.
type turn struct {
	runner  *Runner
	req     core.TurnRequest
	id      string
	session *core.Session
	callCtx context.Context
	ctx     context.Context
	out     chan<- core.Event
	started time.Time
	logger  logging.Logger

	seq      int
	events   []core.Event
	terminal *core.Event
	agent    string
}

func (t *turn) execute() {
	r := t.runner

	ctx, span := r.opts.Tracer.Start(t.ctx, "runner.turn", trace.WithAttributes(
		attribute.String("turn.id", t.id),
		attribute.String("session.id", t.req.SessionID),
		attribute.String("app.name", t.req.AppName),
	))
	defer span.End()

	t.ctx = ctx
	t.logger.Info("runner.turn.start", "root", r.root.Name())

	state := core.NewStateBuffer(t.session.State)
	if id, ok := r.opts.Gate.Apply(ctx, t.req, state); ok {
		span.SetAttributes(attribute.String("auth.scope", id.Scope))
	}

	input := core.NewTextContent("user", t.req.Prompt)
	emit := make(chan core.Event, r.opts.EventBufferSize)
	rc := core.NewRunContext(ctx, t.req.Key(), t.id, core.AgentInfo{Name: r.root.Name()}, input, emit, t.session, state, t.logger)

	done := make(chan error, 1)

	go func() {
		defer close(emit)
		done <- t.delegate(rc)
	}()

	for ev := range emit {
		t.relay(ev)
	}

	status, kind, errMsg := t.finish(<-done)

	record := core.Turn{
		ID:         t.id,
		Agent:      t.agent,
		Input:      input,
		Events:     t.events,
		Status:     status,
		ErrorKind:  kind,
		Error:      errMsg,
		StateDelta: state.Delta(),
		Started:    t.started,
		Ended:      time.Now().UTC(),
	}

	if t.terminal != nil {
		record.Events = append(record.Events, *t.terminal)
	}

	if err := t.persist(record); err != nil {
		span.RecordError(err)
		t.logger.Error("runner.turn.persist.error", "error", err.Error())

		if t.terminal != nil {
			// The caller must not see success for a turn that was not stored.
			ev := t.errorEvent(fmt.Errorf("failed to persist turn: %w", err))
			t.terminal = &ev
			status, kind = core.TurnError, ev.ErrorKind
		}
	}

	if t.terminal != nil {
		t.send(t.callCtx, *t.terminal)
	}

	if status == core.TurnSuccess && r.opts.RememberTurns {
		t.remember(record.FinalText())
	}

	if status == core.TurnError {
		span.SetStatus(codes.Error, string(kind))
	}

	span.SetAttributes(attribute.String("turn.status", string(status)), attribute.String("turn.agent", t.agent))

	duration := time.Since(t.started)
	r.opts.Metrics.RecordTurn(context.WithoutCancel(ctx), t.agent, status, kind, duration)

	t.logger.Info("runner.turn.end",
		"agent", t.agent,
		"status", string(status),
		"error_kind", string(kind),
		"events", t.seq,
		"duration_ms", duration.Milliseconds(),
	)
}

// relay stamps and forwards one agent event. Terminal events are held back
// until the turn has been persisted; nothing is forwarded after cancellation
// or after a terminal event.
func (t *turn) relay(ev core.Event) {
	if t.terminal != nil {
		t.logger.Warn("runner.event.after_terminal", "kind", string(ev.Kind), "author", ev.Author)
		return
	}

	if t.ctx.Err() != nil {
		return
	}

	t.seq++
	ev.Seq = t.seq
	ev.TurnID = t.id

	if ev.IsTerminal() {
		t.terminal = &ev
		return
	}

	if !ev.IsPartial() {
		t.events = append(t.events, ev)
	}

	t.send(t.ctx, ev)
}

func (t *turn) send(ctx context.Context, ev core.Event) bool {
	select {
	case t.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish decides the terminal status. A final message from an agent that
// returned without error is a success even when the caller left meanwhile.
func (t *turn) finish(err error) (core.TurnStatus, core.ErrorKind, string) {
	if err == nil && t.terminal != nil && t.terminal.Kind == core.EventFinalMessage {
		return core.TurnSuccess, "", ""
	}

	ctxErr := t.ctx.Err()

	if errors.Is(ctxErr, context.Canceled) {
		t.terminal = nil
		return core.TurnCancelled, core.ErrorKindCancelled, ctxErr.Error()
	}

	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		err = &core.TimeoutError{Op: "turn", Err: ctxErr}
	case err == nil && t.terminal != nil:
		// An agent emitted an error event itself.
		return core.TurnError, t.terminal.ErrorKind, t.terminal.Error
	case err == nil:
		err = fmt.Errorf("agent %s finished without a final message", t.agent)
	}

	ev := t.errorEvent(err)
	t.terminal = &ev

	t.logger.Warn("runner.turn.error", "agent", t.agent, "error_kind", string(ev.ErrorKind), "error", err.Error())

	return core.TurnError, ev.ErrorKind, ev.Error
}

func (t *turn) errorEvent(err error) core.Event {
	author := t.agent
	if author == "" {
		author = t.runner.root.Name()
	}

	ev := core.NewErrorEvent(author, err)
	ev.TurnID = t.id

	if t.terminal != nil {
		ev.Seq = t.terminal.Seq
	} else {
		t.seq++
		ev.Seq = t.seq
	}

	return ev
}

func (t *turn) persist(record core.Turn) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), t.runner.opts.PersistTimeout)
	defer cancel()

	return t.runner.opts.SessionStore.AppendTurn(ctx, t.req.Key(), record)
}

// remember writes the exchange to the root agent's long-term memory.
func (t *turn) remember(answer string) {
	mb, ok := t.runner.root.(memoryBound)
	if !ok {
		return
	}

	mem := mb.LongTermMemory()
	if mem == nil || answer == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), t.runner.opts.PersistTimeout)
	defer cancel()

	content := fmt.Sprintf("User: %s\nAssistant: %s", t.req.Prompt, answer)

	if _, err := mem.Write(ctx, t.req.Key().OwnerKey(), content, map[string]string{
		"session_id": t.req.SessionID,
		"turn_id":    t.id,
		"agent":      t.agent,
	}); err != nil {
		t.logger.Warn("runner.memory.write.error", "error", err.Error())
	}
}

// delegate runs the root agent and follows delegations iteratively. The
// chain below the root is bounded by MaxDelegationDepth and every hop must
// target a delegate the current agent declared.
func (t *turn) delegate(rc *core.RunContext) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("agent %s panicked: %v", t.agent, p)
			t.logger.Error("runner.agent.panic", "agent", t.agent, "panic", fmt.Sprint(p))
		}
	}()

	r := t.runner
	current := r.root
	chain := []string{current.Name()}

	for depth := 0; ; depth++ {
		if err := rc.Err(); err != nil {
			return err
		}

		t.agent = current.Name()

		outcome, err := t.runAgent(rc, current, depth)
		if err != nil {
			return err
		}

		next := outcome.Next
		if next == nil {
			return nil
		}

		if !declares(current, next) {
			return &core.CapabilityError{Agent: current.Name(), Target: next.Name(), Reason: "not a declared delegate"}
		}

		chain = append(chain, next.Name())
		if len(chain)-1 > r.opts.MaxDelegationDepth {
			return &core.DelegationDepthError{Max: r.opts.MaxDelegationDepth, Chain: chain}
		}

		r.opts.Metrics.RecordDelegation(rc.Context, current.Name(), next.Name())
		t.logger.Info("runner.delegate", "from", current.Name(), "to", next.Name(), "depth", len(chain)-1)

		current = next
	}
}

func (t *turn) runAgent(rc *core.RunContext, a core.Agent, depth int) (core.Outcome, error) {
	ctx, span := t.runner.opts.Tracer.Start(rc.Context, "agent.run", trace.WithAttributes(
		attribute.String("agent.name", a.Name()),
		attribute.Int("agent.depth", depth),
	))
	defer span.End()

	arc := rc.WithContext(ctx)
	arc.Agent = core.AgentInfo{Name: a.Name()}
	arc.Depth = depth

	outcome, err := a.Run(arc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return outcome, err
}

func declares(parent, child core.Agent) bool {
	for _, sa := range parent.SubAgents() {
		if sa.Name() == child.Name() {
			return true
		}
	}

	return false
}
