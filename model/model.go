package model

import (
	"context"

	"github.com/hupe1980/supportmesh/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolChoice constrains how the model may use the offered tools.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide.
	ToolChoiceAuto ToolChoice = ""
	// ToolChoiceRequired forces a tool call.
	ToolChoiceRequired ToolChoice = "required"
	// ToolChoiceNone forbids tool calls.
	ToolChoiceNone ToolChoice = "none"
)

// ThinkingConfig enables provider side planning / extended thinking.
type ThinkingConfig struct {
	IncludeThoughts bool `json:"include_thoughts"`
	Budget          int  `json:"budget"`
}

// Request captures the normalized model input produced by flows.
type Request struct {
	Instructions string           `json:"instructions"`
	Contents     []core.Content   `json:"contents"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	ToolChoice   ToolChoice       `json:"tool_choice,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
	Thinking     *ThinkingConfig  `json:"thinking,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. Partial chunks
// carry text or thought deltas; exactly one final chunk carries the complete
// content including function calls.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"`
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by flows & agents to drive generation.
//
// Generate returns a response channel closed after the final chunk and an
// error channel (buffered, at most one value) closed when generation ends.
// Implementations must stop sending when ctx is done.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// GenerateContent runs m and collects the result, see Collect.
func GenerateContent(ctx context.Context, m Model, req Request, onPartial func(Response) error) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)
	return Collect(respCh, errCh, onPartial)
}

// Collect drains a generation. onPartial (optional) sees every partial chunk
// in order; the final chunk is returned.
func Collect(respCh <-chan Response, errCh <-chan error, onPartial func(Response) error) (Response, error) {
	var (
		final    Response
		hasFinal bool
	)

	for resp := range respCh {
		if resp.Partial {
			if onPartial != nil {
				if err := onPartial(resp); err != nil {
					drain(respCh)
					return Response{}, err
				}
			}

			continue
		}

		final, hasFinal = resp, true
	}

	if err := <-errCh; err != nil {
		return Response{}, err
	}

	if !hasFinal {
		return Response{}, ErrNoResponse
	}

	return final, nil
}

func drain(ch <-chan Response) {
	go func() {
		for range ch {
		}
	}()
}

// Send delivers resp unless ctx is done.
func Send(ctx context.Context, out chan<- Response, resp Response) bool {
	select {
	case out <- resp:
		return true
	case <-ctx.Done():
		return false
	}
}
