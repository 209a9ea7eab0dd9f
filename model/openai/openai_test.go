package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/model"
)

func TestBuildMessages(t *testing.T) {
	call := core.FunctionCall{ID: "c1", Name: "query_warranty", Arguments: `{"serial":"XYZ"}`}

	req := model.Request{
		Instructions: "You are the after-sale agent.",
		Contents: []core.Content{
			core.NewTextContent("user", "warranty for XYZ?"),
			{Role: "assistant", Parts: []core.Part{core.FunctionCallPart{FunctionCall: call}}},
			{Role: "tool", Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
				ID: "c1", Name: "query_warranty", Error: "identity required", ErrorKind: core.ErrorKindIdentityRequired,
			}}}},
		},
	}

	msgs := buildMessages(req)
	require.Len(t, msgs, 4)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	assert.Equal(t, "query_warranty", msgs[2].OfAssistant.ToolCalls[0].Function.Name)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
}

func TestResponseText(t *testing.T) {
	assert.Equal(t, `{"valid":true}`, responseText(core.FunctionResponse{Response: map[string]any{"valid": true}}))
	assert.Equal(t, "plain", responseText(core.FunctionResponse{Response: "plain"}))
	assert.JSONEq(t, `{"error":"boom","error_kind":"upstream"}`,
		responseText(core.FunctionResponse{Error: "boom", ErrorKind: core.ErrorKindUpstream}))
}

func TestBuildParams_ToolChoice(t *testing.T) {
	m := NewModelFromClient(nil)

	req := model.Request{
		Tools: []model.ToolDefinition{{Type: "function", Function: model.FunctionDefinition{
			Name: "transfer_to_agent", Parameters: map[string]any{"type": "object"},
		}}},
		ToolChoice: model.ToolChoiceRequired,
	}

	params := m.buildParams(req, nil)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "required", params.ToolChoice.OfAuto.Value)
	assert.Equal(t, "openai", m.Info().Provider)
}
