package model

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/supportmesh/core"
)

// Step is one scripted model answer.
type Step struct {
	Content core.Content
	Err     error
	// Delay is waited (respecting ctx) before anything is emitted.
	Delay time.Duration
}

// Text answers with plain text.
func Text(text string) Step {
	return Step{Content: core.NewTextContent("assistant", text)}
}

// Thought answers with a thought followed by text.
func Thought(thought, text string) Step {
	return Step{Content: core.Content{Role: "assistant", Parts: []core.Part{
		core.ThoughtPart{Text: thought},
		core.TextPart{Text: text},
	}}}
}

// Call answers with a single function call.
func Call(id, name, args string) Step {
	return Calls(core.FunctionCall{ID: id, Name: name, Arguments: args})
}

// Calls answers with several function calls.
func Calls(calls ...core.FunctionCall) Step {
	parts := make([]core.Part, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: c})
	}

	return Step{Content: core.Content{Role: "assistant", Parts: parts}}
}

// Fail answers with an error.
func Fail(err error) Step { return Step{Err: err} }

// ScriptedModel replays a fixed sequence of steps, one per Generate call,
// and records every request. When streaming, text and thoughts are emitted
// word by word as partial chunks before the final chunk. It is safe for
// concurrent use, steps are handed out in call order.
type ScriptedModel struct {
	mu       sync.Mutex
	name     string
	steps    []Step
	requests []Request
	// Fallback answers once the script is exhausted.
	Fallback func(req Request) Step
}

var _ Model = (*ScriptedModel)(nil)

// NewScriptedModel creates a scripted model.
func NewScriptedModel(name string, steps ...Step) *ScriptedModel {
	return &ScriptedModel{name: name, steps: steps}
}

// Append adds steps to the script.
func (m *ScriptedModel) Append(steps ...Step) {
	m.mu.Lock()
	m.steps = append(m.steps, steps...)
	m.mu.Unlock()
}

// Requests returns the recorded requests.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.requests...)
}

func (m *ScriptedModel) next(req Request) (Step, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if len(m.steps) == 0 {
		if m.Fallback != nil {
			return m.Fallback(req), true
		}

		return Step{}, false
	}

	s := m.steps[0]
	m.steps = m.steps[1:]

	return s, true
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		step, ok := m.next(req)
		if !ok {
			errCh <- ErrScriptExhausted
			return
		}

		if step.Delay > 0 {
			select {
			case <-time.After(step.Delay):
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}

		if step.Err != nil {
			errCh <- step.Err
			return
		}

		content := step.Content
		if req.ToolChoice == ToolChoiceRequired && len(req.Tools) > 0 && len(content.FunctionCalls()) == 0 {
			errCh <- ErrToolCallRequired
			return
		}

		if req.Thinking == nil || !req.Thinking.IncludeThoughts {
			content = content.WithoutThoughts()
		}

		if req.Stream {
			for _, p := range content.Parts {
				for _, chunk := range streamChunks(p) {
					if !Send(ctx, out, Response{Partial: true, Content: core.Content{Role: "assistant", Parts: []core.Part{chunk}}}) {
						errCh <- ctx.Err()
						return
					}
				}
			}
		}

		finish := "stop"
		if len(content.FunctionCalls()) > 0 {
			finish = "tool_calls"
		}

		if !Send(ctx, out, Response{ID: core.NewID(), Content: content, FinishReason: finish}) {
			errCh <- ctx.Err()
		}
	}()

	return out, errCh
}

func streamChunks(p core.Part) []core.Part {
	var (
		text    string
		thought bool
	)

	switch v := p.(type) {
	case core.TextPart:
		text = v.Text
	case core.ThoughtPart:
		text, thought = v.Text, true
	default:
		return nil
	}

	words := strings.SplitAfter(text, " ")
	chunks := make([]core.Part, 0, len(words))

	for _, w := range words {
		if w == "" {
			continue
		}

		if thought {
			chunks = append(chunks, core.ThoughtPart{Text: w})
		} else {
			chunks = append(chunks, core.TextPart{Text: w})
		}
	}

	return chunks
}

// Info implements Model.
func (m *ScriptedModel) Info() Info {
	return Info{Name: m.name, Provider: "scripted", SupportsTools: true}
}
