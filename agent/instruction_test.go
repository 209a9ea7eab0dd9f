package agent

import (
	"errors"
	"testing"

	"github.com/hupe1980/supportmesh/core"
)

type mockProvider struct {
	text string
	err  error
}

func (m mockProvider) Instruction(*core.RunContext) (string, error) { return m.text, m.err }

func TestInstruction_Static(t *testing.T) {
	rc, _ := newRunContext(t, "hi", nil)

	inst := NewInstructionFromText("static instruction")
	if !inst.IsStatic() || inst.IsZero() {
		t.Fatalf("expected non-empty static instruction")
	}

	got, err := inst.Resolve(rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got != "static instruction" {
		t.Fatalf("expected 'static instruction', got %q", got)
	}

	if !(Instruction{}).IsZero() {
		t.Fatalf("zero instruction must report IsZero")
	}
}

func TestInstruction_Dynamic(t *testing.T) {
	rc, _ := newRunContext(t, "hi", map[string]any{"user:tier": "gold"})

	inst := NewInstructionFromFunc(func(rc *core.RunContext) (string, error) {
		v, _ := rc.GetState("user:tier")
		return "tier " + v.(string), nil
	})
	if inst.IsStatic() {
		t.Fatalf("expected dynamic instruction")
	}

	got, err := inst.Resolve(rc)
	if err != nil || got != "tier gold" {
		t.Fatalf("got %q, %v", got, err)
	}

	got, err = NewInstructionFromProvider(mockProvider{text: "provider text"}).Resolve(rc)
	if err != nil || got != "provider text" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestInstruction_ErrorPropagation(t *testing.T) {
	rc, _ := newRunContext(t, "hi", nil)
	expectedErr := errors.New("boom")

	_, err := NewInstructionFromProvider(mockProvider{err: expectedErr}).Resolve(rc)
	if !errors.Is(err, expectedErr) {
		t.Fatalf("expected error %v, got %v", expectedErr, err)
	}

	_, err = JoinInstructions(NewInstructionFromText("a"), NewInstructionFromProvider(mockProvider{err: expectedErr})).Resolve(rc)
	if !errors.Is(err, expectedErr) {
		t.Fatalf("expected joined error %v, got %v", expectedErr, err)
	}
}

func TestJoinInstructions(t *testing.T) {
	rc, _ := newRunContext(t, "hi", nil)

	got, err := JoinInstructions(
		NewInstructionFromText("  policy  "),
		Instruction{},
		NewInstructionFromProvider(mockProvider{text: "catalogue"}),
	).Resolve(rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got != "policy\n\ncatalogue" {
		t.Fatalf("unexpected join %q", got)
	}
}
