package flow

import (
	"testing"
	"time"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/model"
)

func TestInstructionsProcessor(t *testing.T) {
	p := NewInstructionsProcessor()
	p.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	if p.Name() != "instructions" {
		t.Fatalf("unexpected name %q", p.Name())
	}

	agent := &testAgent{name: "after_sale_agent", instruction: "Customer: {user:customer_id}. Now: {current_time}.{note?}"}
	rc, _ := newRunContext(t, agent.name, map[string]any{core.KeyCustomerID: "CUST001"})

	req := &model.Request{}
	if err := p.ProcessRequest(rc, req, agent); err != nil {
		t.Fatalf("process: %v", err)
	}

	want := "Customer: CUST001. Now: Sat, 01 Mar 2025 12:00:00 UTC."
	if req.Instructions != want {
		t.Fatalf("instructions = %q, want %q", req.Instructions, want)
	}

	if _, ok := rc.GetState(CurrentTimeKey); ok {
		t.Fatalf("rendering must not write state")
	}
}

func TestInstructionsProcessor_MissingKey(t *testing.T) {
	agent := &testAgent{name: "a", instruction: "Customer: {user:customer_id}"}
	rc, _ := newRunContext(t, agent.name, nil)

	if err := NewInstructionsProcessor().ProcessRequest(rc, &model.Request{}, agent); err == nil {
		t.Fatalf("expected error for missing required placeholder")
	}
}

func TestContentsProcessor(t *testing.T) {
	agent := &testAgent{name: "a"}
	rc, _ := newRunContext(t, agent.name, nil)

	rc.Session.Turns = append(rc.Session.Turns, core.Turn{
		ID:     "t0",
		Input:  core.NewTextContent("user", "hello"),
		Events: []core.Event{core.NewFinalMessageEvent("a", "hi there")},
		Status: core.TurnSuccess,
	})

	req := &model.Request{}
	if err := NewContentsProcessor().ProcessRequest(rc, req, agent); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(req.Contents) != 3 {
		t.Fatalf("expected history + input, got %d contents", len(req.Contents))
	}

	if req.Contents[2].Text() != "warranty for XYZ?" {
		t.Fatalf("user input must be last, got %q", req.Contents[2].Text())
	}
}

func TestPlanningProcessor(t *testing.T) {
	cfg := &model.ThinkingConfig{IncludeThoughts: true, Budget: 1024}
	agent := &testAgent{name: "a", thinking: cfg}
	rc, _ := newRunContext(t, agent.name, nil)

	req := &model.Request{}
	if err := NewPlanningProcessor().ProcessRequest(rc, req, agent); err != nil {
		t.Fatalf("process: %v", err)
	}

	if req.Thinking == nil || req.Thinking == cfg || req.Thinking.Budget != 1024 {
		t.Fatalf("expected a copy of the agent config, got %+v", req.Thinking)
	}
}
