// Package anthropic provides a model wrapper for the Anthropic Messages API,
// including streaming, tool use and extended thinking.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/model"
)

// minThinkingBudget is the smallest budget the API accepts.
const minThinkingBudget = 1024

// Options configures the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

var _ model.Model = (*Model)(nil)

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns)}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:       anthropic.ModelClaude3_7SonnetLatest,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return opts
}

// Generate implements unified streaming / non-streaming generation.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := m.buildParams(req)

		if req.Stream {
			m.handleStreaming(ctx, params, out, errCh)
			return
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		if !model.Send(ctx, out, finalResponse(resp)) {
			errCh <- ctx.Err()
		}
	}()

	return out, errCh
}

// buildParams assembles the request. With thinking enabled the API pins the
// temperature and rejects forced tool use, so both fall back to defaults.
func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     m.opts.Model,
		Messages:  buildMessages(req.Contents),
		MaxTokens: m.opts.MaxTokens,
	}

	if system := buildSystem(req); len(system) > 0 {
		params.System = system
	}

	thinking := req.Thinking != nil && req.Thinking.IncludeThoughts
	if thinking {
		budget := int64(max(req.Thinking.Budget, minThinkingBudget))
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)

		if params.MaxTokens <= budget {
			params.MaxTokens = budget + m.opts.MaxTokens
		}
	} else {
		params.Temperature = anthropic.Float(m.opts.Temperature)
	}

	// No tools are offered when tool use is forbidden.
	if len(req.Tools) == 0 || req.ToolChoice == model.ToolChoiceNone {
		return params
	}

	params.Tools = buildTools(req.Tools)

	if req.ToolChoice == model.ToolChoiceRequired && !thinking {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	}

	return params
}

func buildSystem(req model.Request) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam

	if req.Instructions != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: req.Instructions})
	}

	for _, c := range req.Contents {
		if c.Role != "system" {
			continue
		}

		if text := c.Text(); text != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: text})
		}
	}

	return blocks
}

// buildMessages converts normalized contents to Anthropic messages. Tool
// results travel as tool_result blocks in the user message that follows the
// assistant's tool_use blocks; consecutive same-role messages are merged.
func buildMessages(contents []core.Content) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	appendBlocks := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}

		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			return
		}

		if role == anthropic.MessageParamRoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}

	for _, c := range contents {
		switch c.Role {
		case "system":
			continue
		case "assistant":
			appendBlocks(anthropic.MessageParamRoleAssistant, assistantBlocks(c.Parts))
		case "tool":
			appendBlocks(anthropic.MessageParamRoleUser, toolResultBlocks(c))
		default:
			if text := c.Text(); text != "" {
				appendBlocks(anthropic.MessageParamRoleUser, []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(text)})
			}
		}
	}

	return messages
}

func assistantBlocks(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion

	for _, p := range parts {
		switch part := p.(type) {
		case core.ThoughtPart:
			// Unsigned thoughts cannot be replayed.
			if part.Signature != "" {
				blocks = append(blocks, anthropic.NewThinkingBlock(part.Signature, part.Text))
			}
		case core.TextPart:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case core.FunctionCallPart:
			var input any = map[string]any{}
			if part.FunctionCall.Arguments != "" {
				if err := json.Unmarshal([]byte(part.FunctionCall.Arguments), &input); err != nil {
					input = map[string]any{"raw": part.FunctionCall.Arguments}
				}
			}

			blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, input, part.FunctionCall.Name))
		}
	}

	return blocks
}

func toolResultBlocks(c core.Content) []anthropic.ContentBlockParamUnion {
	responses := c.FunctionResponses()

	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(responses))
	for _, fr := range responses {
		blocks = append(blocks, anthropic.NewToolResultBlock(fr.ID, responseText(fr), fr.Failed()))
	}

	return blocks
}

// responseText serializes a function response for the model.
func responseText(fr core.FunctionResponse) string {
	var payload any = fr.Response
	if fr.Failed() {
		payload = map[string]any{"error": fr.Error, "error_kind": fr.ErrorKind}
	}

	if s, ok := payload.(string); ok {
		return s
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}

	return string(b)
}

func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))

	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}

		if params := t.Function.Parameters; params != nil {
			if properties, ok := params["properties"]; ok {
				schema.Properties = properties
			}

			schema.Required = requiredFields(params["required"])
		}

		tp := anthropic.ToolParam{Name: t.Function.Name, InputSchema: schema}
		if t.Function.Description != "" {
			tp.Description = anthropic.String(t.Function.Description)
		}

		out[i] = anthropic.ToolUnionParam{OfTool: &tp}
	}

	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

// handleStreaming forwards text and thinking deltas as partial chunks and
// accumulates the full message for the final chunk.
func (m *Model) handleStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	out chan<- model.Response,
	errCh chan<- error,
) {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}

	for stream.Next() {
		event := stream.Current()

		if err := message.Accumulate(event); err != nil {
			errCh <- fmt.Errorf("anthropic stream accumulate: %w", err)
			return
		}

		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}

		var part core.Part

		switch d := delta.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			part = core.TextPart{Text: d.Text}
		case anthropic.ThinkingDelta:
			part = core.ThoughtPart{Text: d.Thinking}
		default:
			continue
		}

		if !model.Send(ctx, out, model.Response{
			ID:      message.ID,
			Partial: true,
			Content: core.Content{Role: "assistant", Parts: []core.Part{part}},
		}) {
			errCh <- ctx.Err()
			return
		}
	}

	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		return
	}

	if !model.Send(ctx, out, finalResponse(&message)) {
		errCh <- ctx.Err()
	}
}

// finalResponse converts a complete message into the final chunk. Thinking
// blocks keep their signature so they can be replayed within the turn.
func finalResponse(msg *anthropic.Message) model.Response {
	var parts []core.Part

	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.ThinkingBlock:
			parts = append(parts, core.ThoughtPart{Text: b.Thinking, Signature: b.Signature})
		case anthropic.TextBlock:
			if b.Text != "" {
				parts = append(parts, core.TextPart{Text: b.Text})
			}
		case anthropic.ToolUseBlock:
			args := string(b.Input)
			if args == "" || args == "null" {
				args = "{}"
			}

			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			}})
		}
	}

	finish := "stop"
	if msg.StopReason != "" {
		finish = string(msg.StopReason)
	}

	return model.Response{
		ID:           msg.ID,
		Content:      core.Content{Role: "assistant", Parts: parts},
		FinishReason: finish,
		Usage: &model.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
