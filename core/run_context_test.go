package core

import (
	"context"
	"errors"
	"testing"
)

func TestRunContext_EmitEventStampsTurn(t *testing.T) {
	rc, emitCh := newRunContextForTest()

	if err := rc.EmitEvent(NewEvent(EventThought, "")); err != nil {
		t.Fatalf("EmitEvent error: %v", err)
	}

	received := <-emitCh
	if received.TurnID != "turn-1" || received.Author != "agent1" {
		t.Fatalf("event not stamped: %+v", received)
	}
}

func TestRunContext_EmitEventCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := NewRunContext(ctx, testKey(), "turn-1", AgentInfo{Name: "a"}, Content{}, make(chan Event), nil, nil, nil)

	if err := rc.EmitEvent(NewEvent(EventThought, "a")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunContext_StateSharedAcrossAgents(t *testing.T) {
	rc, _ := newRunContextForTest()

	if v, ok := rc.GetState("greeting"); !ok || v != "hello" {
		t.Fatalf("session state not visible: %v", v)
	}

	child := rc.ForAgent(AgentInfo{Name: "child"}, 2)
	child.SetState("k1", 123)

	if v, ok := rc.GetState("k1"); !ok || v != 123 {
		t.Fatal("delegate writes must be visible to the parent")
	}

	if child.Budget == rc.Budget || child.Budget.Left() != 2 {
		t.Fatal("delegate must get its own model call budget")
	}

	if rc.GetAgentName() != "agent1" || child.GetAgentName() != "child" {
		t.Fatal("agent info not derived")
	}
}
