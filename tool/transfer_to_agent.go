package tool

import (
	"fmt"
	"slices"

	"github.com/hupe1980/supportmesh/core"
)

// TransferToAgentName is the name of the delegation tool.
const TransferToAgentName = "transfer_to_agent"

// transferToAgentTool requests orchestration transfer to one of a fixed set
// of delegates.
type transferToAgentTool struct {
	targets []string
}

// NewTransferToAgentTool constructs the transfer tool restricted to targets.
// The schema enumerates the targets so the model only sees valid names.
func NewTransferToAgentTool(targets ...string) Tool {
	return &transferToAgentTool{targets: slices.Clone(targets)}
}

func (t *transferToAgentTool) Name() string { return TransferToAgentName }

func (t *transferToAgentTool) Description() string {
	return "Transfer the conversation to the agent best suited to handle the user's request."
}

func (t *transferToAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_name": map[string]any{
				"type":        "string",
				"description": "Name of the agent to transfer to",
				"enum":        t.targets,
			},
		},
		"required": []string{"agent_name"},
	}
}

func (t *transferToAgentTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	agentName, ok := args["agent_name"].(string)
	if !ok || agentName == "" {
		return nil, NewToolError(t.Name(), "field 'agent_name' must be a non-empty string", CodeValidation)
	}

	if !slices.Contains(t.targets, agentName) {
		return nil, capabilityError(tc.AgentName(), agentName, fmt.Sprintf("not a delegate of %s", tc.AgentName()))
	}

	tc.TransferToAgent(agentName)

	return map[string]any{"transferred": true, "agent_name": agentName}, nil
}
