package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
	"github.com/hupe1980/supportmesh/model"
	"github.com/hupe1980/supportmesh/tool"
)

type testAgent struct {
	name        string
	llm         model.Model
	instruction string
	tools       *tool.Toolset
	thinking    *model.ThinkingConfig
	stream      bool
}

func (a *testAgent) Name() string                    { return a.name }
func (a *testAgent) Model() model.Model              { return a.llm }
func (a *testAgent) Toolset() *tool.Toolset          { return a.tools }
func (a *testAgent) Thinking() *model.ThinkingConfig { return a.thinking }
func (a *testAgent) IsStreamingEnabled() bool        { return a.stream }
func (a *testAgent) MaxHistoryTurns() int            { return 10 }
func (a *testAgent) ResolveInstructions(*core.RunContext) (string, error) {
	return a.instruction, nil
}

func newRunContext(t *testing.T, agent string, state map[string]any) (*core.RunContext, chan core.Event) {
	t.Helper()

	key := core.SessionKey{AppName: "support", UserID: "u1", SessionID: "s1"}
	sess := core.NewSession(key)
	for k, v := range state {
		sess.State[k] = v
	}

	emit := make(chan core.Event, 256)
	rc := core.NewRunContext(context.Background(), key, "turn-1", core.AgentInfo{Name: agent, Type: "specialist"},
		core.NewTextContent("user", "warranty for XYZ?"), emit, sess, nil, logging.NoOpLogger{})

	return rc.ForAgent(core.AgentInfo{Name: agent, Type: "specialist"}, 5), emit
}

func drainEvents(ch chan core.Event) []core.Event {
	var out []core.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func kinds(events []core.Event) string {
	ks := make([]string, len(events))
	for i, ev := range events {
		ks[i] = string(ev.Kind)
	}
	return strings.Join(ks, ",")
}

func newLookupTool(t *testing.T) tool.Tool {
	t.Helper()

	return tool.NewFunctionTool("lookup", "Look something up", map[string]any{
		"type":       "object",
		"properties": map[string]any{"q": map[string]any{"type": "string"}},
		"required":   []any{"q"},
	}, func(tc *core.ToolContext, args map[string]any) (any, error) {
		tc.SetState("last_query", args["q"])
		return map[string]any{"found": args["q"]}, nil
	})
}

func newToolset(t *testing.T, agent string, tools ...tool.Tool) *tool.Toolset {
	t.Helper()

	ts, err := tool.NewToolset(agent, tools)
	if err != nil {
		t.Fatalf("toolset: %v", err)
	}

	return ts
}

func TestBaseFlow_ToolLoop(t *testing.T) {
	llm := model.NewScriptedModel("test",
		model.Call("c1", "lookup", `{"q":"XYZ"}`),
		model.Text("XYZ is covered."),
	)
	agent := &testAgent{name: "after_sale_agent", llm: llm, tools: newToolset(t, "after_sale_agent", newLookupTool(t))}
	rc, emit := newRunContext(t, agent.name, nil)

	res, err := NewSingleAgentFlow(agent).Run(rc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Text != "XYZ is covered." || res.Steps != 2 || res.Transfer != "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	events := drainEvents(emit)
	if got := kinds(events); got != "tool_call,tool_result" {
		t.Fatalf("unexpected events: %s", got)
	}

	if delta := events[1].Actions.StateDelta; delta["last_query"] != "XYZ" {
		t.Fatalf("state delta not applied to tool_result: %v", delta)
	}

	if v, _ := rc.GetState("last_query"); v != "XYZ" {
		t.Fatalf("state not written through: %v", v)
	}

	reqs := llm.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 model requests, got %d", len(reqs))
	}

	if len(reqs[0].Tools) != 1 || reqs[0].Tools[0].Function.Name != "lookup" {
		t.Fatalf("tool definitions missing: %+v", reqs[0].Tools)
	}

	contents := reqs[1].Contents
	last := contents[len(contents)-1]
	if last.Role != "tool" || last.FunctionResponses()[0].ID != "c1" {
		t.Fatalf("tool response not fed back: %+v", last)
	}
}

func TestBaseFlow_StreamingAndThoughts(t *testing.T) {
	llm := model.NewScriptedModel("test", model.Thought("verify identity first", "Please verify your identity."))
	agent := &testAgent{
		name:     "after_sale_agent",
		llm:      llm,
		stream:   true,
		thinking: &model.ThinkingConfig{IncludeThoughts: true, Budget: 1024},
	}
	rc, emit := newRunContext(t, agent.name, nil)

	res, err := NewSingleAgentFlow(agent).Run(rc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var thoughts, text strings.Builder

	for _, ev := range drainEvents(emit) {
		switch ev.Kind {
		case core.EventThought:
			thoughts.WriteString(ev.Text())
		case core.EventPartialText:
			text.WriteString(ev.Text())
		default:
			t.Fatalf("unexpected event kind %s", ev.Kind)
		}

		if ev.Author != "after_sale_agent" || ev.TurnID != "turn-1" {
			t.Fatalf("event not stamped: %+v", ev)
		}
	}

	if thoughts.String() != "verify identity first" {
		t.Fatalf("thoughts = %q", thoughts.String())
	}

	if text.String() != res.Text || res.Text != "Please verify your identity." {
		t.Fatalf("text = %q, result = %q", text.String(), res.Text)
	}

	if th := llm.Requests()[0].Thinking; th == nil || th.Budget != 1024 {
		t.Fatalf("thinking config not forwarded: %+v", th)
	}
}

func TestBaseFlow_ThoughtsNonStreaming(t *testing.T) {
	llm := model.NewScriptedModel("test", model.Thought("plan", "answer"))
	agent := &testAgent{name: "a", llm: llm, thinking: &model.ThinkingConfig{IncludeThoughts: true}}
	rc, emit := newRunContext(t, agent.name, nil)

	if _, err := NewSingleAgentFlow(agent).Run(rc); err != nil {
		t.Fatalf("run: %v", err)
	}

	events := drainEvents(emit)
	if len(events) != 1 || events[0].Kind != core.EventThought || events[0].Text() != "plan" {
		t.Fatalf("expected one thought event, got %s", kinds(events))
	}
}

func TestBaseFlow_Transfer(t *testing.T) {
	llm := model.NewScriptedModel("test", model.Call("t1", tool.TransferToAgentName, `{"agent_name":"shopping_guide_agent"}`))
	agent := &testAgent{
		name:  "customer_support_agent",
		llm:   llm,
		tools: newToolset(t, "customer_support_agent", tool.NewTransferToAgentTool("after_sale_agent", "shopping_guide_agent")),
	}
	rc, emit := newRunContext(t, agent.name, nil)

	res, err := NewSingleAgentFlow(agent).Run(rc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Transfer != "shopping_guide_agent" || res.Steps != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	events := drainEvents(emit)
	if events[len(events)-1].Actions.TransferToAgent != "shopping_guide_agent" {
		t.Fatalf("transfer action missing: %+v", events[len(events)-1].Actions)
	}
}

func TestBaseFlow_CapabilityViolationFedBack(t *testing.T) {
	llm := model.NewScriptedModel("test",
		model.Call("c1", "delete_service_record", `{"record_id":"R1"}`),
		model.Text("I can't do that."),
	)
	agent := &testAgent{name: "shopping_guide_agent", llm: llm, tools: newToolset(t, "shopping_guide_agent", newLookupTool(t))}
	rc, emit := newRunContext(t, agent.name, nil)

	res, err := NewSingleAgentFlow(agent).Run(rc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Text != "I can't do that." {
		t.Fatalf("unexpected text %q", res.Text)
	}

	events := drainEvents(emit)
	fr := events[1].FunctionResponses()[0]
	if fr.ErrorKind != core.ErrorKindCapability || events[1].ErrorKind != core.ErrorKindCapability {
		t.Fatalf("expected capability violation, got %+v", fr)
	}
}

func TestBaseFlow_StepLimit(t *testing.T) {
	llm := model.NewScriptedModel("test")
	llm.Fallback = func(model.Request) model.Step { return model.Call("", "lookup", `{"q":"again"}`) }

	agent := &testAgent{name: "a", llm: llm, tools: newToolset(t, "a", newLookupTool(t))}
	rc, _ := newRunContext(t, agent.name, nil)

	res, err := NewSingleAgentFlow(agent).Run(rc)
	if !errors.Is(err, core.ErrStepLimit) {
		t.Fatalf("expected step limit, got %v", err)
	}

	if res.Steps != 5 {
		t.Fatalf("expected 5 model calls, got %d", res.Steps)
	}
}

func TestBaseFlow_ModelError(t *testing.T) {
	boom := errors.New("upstream unavailable")
	agent := &testAgent{name: "a", llm: model.NewScriptedModel("test", model.Fail(boom))}
	rc, _ := newRunContext(t, agent.name, nil)

	_, err := NewSingleAgentFlow(agent).Run(rc)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped model error, got %v", err)
	}

	if core.KindOf(err) != core.ErrorKindUpstream {
		t.Fatalf("expected upstream kind, got %s", core.KindOf(err))
	}
}

func TestBaseFlow_Cancelled(t *testing.T) {
	agent := &testAgent{name: "a", llm: model.NewScriptedModel("test", model.Text("never"))}
	rc, _ := newRunContext(t, agent.name, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSingleAgentFlow(agent).Run(rc.WithContext(ctx))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestEnsureCallIDs(t *testing.T) {
	c := core.Content{Role: "assistant", Parts: []core.Part{
		core.TextPart{Text: "checking"},
		core.FunctionCallPart{FunctionCall: core.FunctionCall{Name: "lookup"}},
		core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "keep", Name: "lookup"}},
	}}

	out := ensureCallIDs(c)
	calls := out.FunctionCalls()

	if calls[0].ID == "" || calls[1].ID != "keep" {
		t.Fatalf("unexpected ids: %+v", calls)
	}

	if c.FunctionCalls()[0].ID != "" {
		t.Fatalf("input content was mutated")
	}
}
