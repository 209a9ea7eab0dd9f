package flow

// SingleAgentFlow is the default specialist flow. It wires the processors
// for instructions, contents, planning and tool definitions in that order.
type SingleAgentFlow struct{ *BaseFlow }

// NewSingleAgentFlow creates a flow with the default processors.
func NewSingleAgentFlow(agent FlowAgent) *SingleAgentFlow {
	baseFlow := NewBaseFlow(agent)

	baseFlow.AddRequestProcessor(NewInstructionsProcessor())
	baseFlow.AddRequestProcessor(NewContentsProcessor())
	baseFlow.AddRequestProcessor(NewPlanningProcessor())
	baseFlow.AddRequestProcessor(NewToolsProcessor())

	return &SingleAgentFlow{BaseFlow: baseFlow}
}
