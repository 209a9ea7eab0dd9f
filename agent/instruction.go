package agent

import (
	"strings"

	"github.com/hupe1980/supportmesh/core"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from session state, environment, etc.
type Provider interface {
	Instruction(*core.RunContext) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(*core.RunContext) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(rc *core.RunContext) (string, error) { return f(rc) }

// Instruction is either a static text or a dynamic provider. Text may hold
// {key} / {key?} placeholders that are rendered from turn state by the flow.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(*core.RunContext) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether the instruction is empty.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(rc *core.RunContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(rc)
	}

	return i.text, nil
}

// JoinInstructions concatenates the non-empty parts separated by a blank line.
func JoinInstructions(parts ...Instruction) Instruction {
	return NewInstructionFromFunc(func(rc *core.RunContext) (string, error) {
		texts := make([]string, 0, len(parts))

		for _, p := range parts {
			t, err := p.Resolve(rc)
			if err != nil {
				return "", err
			}

			if t = strings.TrimSpace(t); t != "" {
				texts = append(texts, t)
			}
		}

		return strings.Join(texts, "\n\n"), nil
	})
}
